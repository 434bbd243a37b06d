package cmd

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/dbchat/internal/assistant"
	"github.com/JonMunkholm/dbchat/internal/chat"
	"github.com/JonMunkholm/dbchat/internal/config"
	"github.com/JonMunkholm/dbchat/internal/database"
	"github.com/JonMunkholm/dbchat/internal/gate"
	"github.com/JonMunkholm/dbchat/internal/llm"
)

type echoProvider struct{}

func (echoProvider) Name() string { return "echo" }

func (echoProvider) Complete(_ context.Context, messages []llm.Message) (llm.Completion, error) {
	if messages[0].Role == llm.RoleSystem {
		return llm.Completion{Text: "SELECT 42 AS answer;"}, nil
	}
	return llm.Completion{Text: "The answer is 42."}, nil
}

func TestMergeParams(t *testing.T) {
	got := mergeParams(database.Params{Host: "db.internal", Database: "shop"}, config.DBDefaults{
		Dialect:  "postgres",
		Host:     "localhost",
		Port:     "5432",
		User:     "root",
		Password: "from-env",
		Database: "postgres",
	})
	assert.Equal(t, database.Params{
		Dialect:  "postgres",
		Host:     "db.internal",
		Port:     "5432",
		User:     "root",
		Password: "from-env",
		Database: "shop",
	}, got)

	flagged := mergeParams(database.Params{Password: "from-flag"}, config.DBDefaults{Password: "from-env"})
	assert.Equal(t, "from-flag", flagged.Password)
}

func TestReplAnswersUntilExit(t *testing.T) {
	ctx := context.Background()
	sess, err := connectSession(ctx, database.Params{Dialect: "sqlite", Database: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Detach() })

	cfg := config.Config{
		LLM:  config.LLMConfig{Timeout: 5 * time.Second},
		Chat: config.ChatConfig{HistoryTurns: 10, MaxRows: 200, QueryTimeout: 5 * time.Second},
	}
	asst := assistant.New(cfg, echoProvider{}, gate.Default(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	var out bytes.Buffer
	in := strings.NewReader("what is the answer?\n\nthanks\nexit\nnever asked\n")
	require.NoError(t, repl(ctx, asst, sess, in, &out))

	text := out.String()
	assert.Contains(t, text, "SELECT 42 AS answer;")
	assert.Contains(t, text, "The answer is 42.")
	assert.Contains(t, text, "1 row(s)")
	assert.Contains(t, text, assistant.CourtesyReply)
	assert.Equal(t, 2, sess.History().Len())
}

func TestPrintTurnShowsErrors(t *testing.T) {
	var out bytes.Buffer
	printTurn(&out, chat.Turn{SQL: "DELETE FROM users", Error: "statement contains denied keyword DELETE"})
	assert.Contains(t, out.String(), "DELETE FROM users")
	assert.Contains(t, out.String(), "denied keyword DELETE")
	assert.NotContains(t, out.String(), "row(s)")
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "dbchat dev (commit: unknown, built: unknown)\n", out.String())
}
