package assistant

import (
	"context"
	"strings"
	"time"

	"github.com/JonMunkholm/dbchat/internal/chat"
	"github.com/JonMunkholm/dbchat/internal/failure"
	"github.com/JonMunkholm/dbchat/internal/gate"
	"github.com/JonMunkholm/dbchat/internal/llm"
	"github.com/JonMunkholm/dbchat/internal/observability"
)

// Generate asks the model for a statement answering question and extracts it.
// The returned statement is always Unvalidated.
func Generate(ctx context.Context, provider llm.Provider, dialect, schemaText string, history []chat.Turn, question string) (*gate.Statement, error) {
	messages := llm.BuildGenerationMessages(dialect, schemaText, priorTurns(history), question)

	start := time.Now()
	completion, err := provider.Complete(ctx, messages)
	observability.ObserveLLMCall("generate", err, time.Since(start))
	if err != nil {
		return nil, failure.Wrap(failure.Generation, err.Error(), err)
	}
	observability.ObserveLLMTokens("generate", completion.Tokens)

	sql, err := llm.ExtractSQL(completion.Text)
	if err != nil {
		return nil, err
	}
	return gate.NewStatement(sql), nil
}

// Narrate asks the model to explain res in prose and returns its reply
// verbatim. A blank reply is a narration failure.
func Narrate(ctx context.Context, provider llm.Provider, question, schemaText, sql string, res Result) (string, error) {
	rows := ""
	if res.Count() > 0 {
		rows = res.CSV()
		if res.Truncated {
			rows += "(more rows were returned than shown)\n"
		}
	}
	messages := llm.BuildNarrationMessages(schemaText, question, sql, rows)

	start := time.Now()
	completion, err := provider.Complete(ctx, messages)
	observability.ObserveLLMCall("narrate", err, time.Since(start))
	if err != nil {
		return "", failure.Wrap(failure.Narration, err.Error(), err)
	}
	observability.ObserveLLMTokens("narrate", completion.Tokens)

	if strings.TrimSpace(completion.Text) == "" {
		return "", failure.New(failure.Narration, "the model returned an empty answer")
	}
	return completion.Text, nil
}

// priorTurns keeps the turns that carry a statement or an error. Courtesy
// replies have neither and are not replayed.
func priorTurns(history []chat.Turn) []llm.PriorTurn {
	out := make([]llm.PriorTurn, 0, len(history))
	for _, t := range history {
		if t.SQL == "" && t.Error == "" {
			continue
		}
		out = append(out, llm.PriorTurn{Question: t.Question, SQL: t.SQL, Error: t.Error})
	}
	return out
}
