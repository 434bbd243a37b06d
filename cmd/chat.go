package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/dbchat/internal/assistant"
	"github.com/JonMunkholm/dbchat/internal/chat"
	"github.com/JonMunkholm/dbchat/internal/config"
	"github.com/JonMunkholm/dbchat/internal/database"
	"github.com/JonMunkholm/dbchat/internal/failure"
	"github.com/JonMunkholm/dbchat/internal/gate"
	"github.com/JonMunkholm/dbchat/internal/llm"
	"github.com/JonMunkholm/dbchat/internal/observability"
	"github.com/JonMunkholm/dbchat/internal/schema"
)

var (
	chatParams database.Params
	showSQL    bool
)

var (
	aiStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("135")).
		Bold(true)

	humanStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("39")).
		Bold(true)

	sqlStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("243")).
		Padding(0, 2)

	errorStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("196"))

	metaStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)
)

var chatCmd = &cobra.Command{
	Use:   "chat [question]",
	Short: "Chat with a database from the terminal",
	Long: `Connect to a database and ask questions about it.

With a question argument the answer is printed and the command exits.
Without one an interactive prompt is started; type "exit" to leave.

The password is read from DBCHAT_DB_PASSWORD when --password is not given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFromEnv("dbchat")
		if err != nil {
			return err
		}
		params := mergeParams(chatParams, cfg.DB)

		logger := observability.NewLogger(cfg, cmd.ErrOrStderr())
		provider, err := llm.NewProvider(cfg.LLM)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		sess, err := connectSession(ctx, params)
		if err != nil {
			return errors.New(failure.UserMessage(err))
		}
		defer func() { _ = sess.Detach() }()

		asst := assistant.New(cfg, provider, gate.Default(), logger)
		out := cmd.OutOrStdout()
		if len(args) == 1 {
			turn, _ := asst.Ask(ctx, sess, args[0])
			printTurn(out, turn)
			if turn.Failed() {
				return errors.New("question could not be answered")
			}
			return nil
		}

		fmt.Fprintf(out, "%s %s\n", aiStyle.Render("AI:"), assistant.WelcomeMessage)
		fmt.Fprintln(out, metaStyle.Render("Connected to "+sess.Conn().Label()))
		return repl(ctx, asst, sess, cmd.InOrStdin(), out)
	},
}

func init() {
	f := chatCmd.Flags()
	f.StringVar(&chatParams.Dialect, "dialect", "", "Database dialect: "+strings.Join(database.DialectNames(), ", "))
	f.StringVar(&chatParams.Host, "host", "", "Database host")
	f.StringVar(&chatParams.Port, "port", "", "Database port (dialect default when empty)")
	f.StringVar(&chatParams.User, "user", "", "Database user")
	f.StringVar(&chatParams.Password, "password", "", "Database password")
	f.StringVarP(&chatParams.Database, "database", "d", "", "Database name, or file path for sqlite")
	f.BoolVar(&showSQL, "show-sql", true, "Print the generated SQL with each answer")
	rootCmd.AddCommand(chatCmd)
}

// mergeParams fills flags left empty from the configured defaults.
func mergeParams(p database.Params, d config.DBDefaults) database.Params {
	if p.Dialect == "" {
		p.Dialect = d.Dialect
	}
	if p.Host == "" {
		p.Host = d.Host
	}
	if p.Port == "" {
		p.Port = d.Port
	}
	if p.User == "" {
		p.User = d.User
	}
	if p.Password == "" {
		p.Password = d.Password
	}
	if p.Database == "" {
		p.Database = d.Database
	}
	return p
}

func connectSession(ctx context.Context, p database.Params) (*chat.Session, error) {
	conn, err := database.Connect(ctx, p)
	if err != nil {
		return nil, err
	}
	snap, err := schema.Load(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, failure.Wrap(failure.Connection, "could not read the schema: "+err.Error(), err)
	}
	sess := chat.NewSession(uuid.New())
	sess.Attach(conn, snap)
	return sess, nil
}

func repl(ctx context.Context, asst *assistant.Assistant, sess *chat.Session, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, humanStyle.Render("You: "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		question := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(question) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		turn, err := asst.Ask(ctx, sess, question)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		printTurn(out, turn)
	}
}

func printTurn(out io.Writer, turn chat.Turn) {
	if showSQL && turn.SQL != "" {
		fmt.Fprintln(out, sqlStyle.Render(turn.SQL))
	}
	if turn.Failed() {
		fmt.Fprintf(out, "%s %s\n", aiStyle.Render("AI:"), errorStyle.Render(turn.Error))
		return
	}
	fmt.Fprintf(out, "%s %s\n", aiStyle.Render("AI:"), turn.Answer)
	if turn.SQL != "" {
		meta := fmt.Sprintf("%d row(s)", turn.RowCount)
		if turn.Truncated {
			meta += ", truncated"
		}
		fmt.Fprintln(out, metaStyle.Render(meta))
	}
}
