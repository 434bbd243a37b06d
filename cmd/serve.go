package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/dbchat/internal/assistant"
	"github.com/JonMunkholm/dbchat/internal/chat"
	"github.com/JonMunkholm/dbchat/internal/config"
	"github.com/JonMunkholm/dbchat/internal/gate"
	"github.com/JonMunkholm/dbchat/internal/llm"
	"github.com/JonMunkholm/dbchat/internal/observability"
	"github.com/JonMunkholm/dbchat/internal/web"
)

const shutdownTimeout = 10 * time.Second

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web chat UI",
	Long: `Start the HTTP server that hosts the chat UI and its JSON API.

Settings come from the environment (and an optional .env file):
  LLM_API_KEY, LLM_PROVIDER, LLM_MODEL, DBCHAT_HTTP_ADDR, DBCHAT_MAX_ROWS, ...`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFromEnv("dbchat")
		if err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.HTTP.Address = serveAddr
		}
		return serve(cfg)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides DBCHAT_HTTP_ADDR)")
	rootCmd.AddCommand(serveCmd)
}

func serve(cfg config.Config) error {
	logger := observability.NewLogger(cfg, os.Stdout)
	slog.SetDefault(logger)

	provider, err := llm.NewProvider(cfg.LLM)
	if err != nil {
		return err
	}
	logger.Info("LLM provider initialized", slog.String("provider", provider.Name()))

	store := chat.NewStore(cfg.Chat.MaxSessions, logger)
	defer store.Close()

	asst := assistant.New(cfg, provider, gate.Default(), logger)
	handler := web.NewServer(cfg, store, asst, logger).Routes()

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting chat server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger.Info("shutting down chat server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
	}

	select {
	case err := <-serveErr:
		return err
	default:
		return nil
	}
}
