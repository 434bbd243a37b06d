// Package assistant answers questions about a connected database: it turns a
// question into SQL, runs it through the gate, executes it and narrates the rows.
package assistant

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/JonMunkholm/dbchat/internal/chat"
	"github.com/JonMunkholm/dbchat/internal/config"
	"github.com/JonMunkholm/dbchat/internal/failure"
	"github.com/JonMunkholm/dbchat/internal/gate"
	"github.com/JonMunkholm/dbchat/internal/llm"
	"github.com/JonMunkholm/dbchat/internal/observability"
)

const (
	WelcomeMessage      = "Hello! I'm a SQL assistant. Connect your database and ask away."
	NotConnectedMessage = "Please connect to a database first."
	CourtesyReply       = "You're welcome! I'm here to help."
)

var ErrEmptyQuestion = errors.New("question is required")

// Assistant runs the question pipeline for sessions.
type Assistant struct {
	provider     llm.Provider
	policy       *gate.Policy
	historyTurns int
	maxRows      int
	queryTimeout time.Duration
	llmTimeout   time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

func New(cfg config.Config, provider llm.Provider, policy *gate.Policy, logger *slog.Logger) *Assistant {
	if policy == nil {
		policy = gate.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{
		provider:     provider,
		policy:       policy,
		historyTurns: cfg.Chat.HistoryTurns,
		maxRows:      cfg.Chat.MaxRows,
		queryTimeout: cfg.Chat.QueryTimeout,
		llmTimeout:   cfg.LLM.Timeout,
		logger:       logger,
		now:          time.Now,
	}
}

// Ask answers one question on s. Failed turns are recorded in the session
// history and also returned as an error whose failure.Kind names the step
// that failed. Questions on a disconnected session are not recorded and
// return chat.ErrNotConnected; a session already answering returns chat.ErrBusy.
func (a *Assistant) Ask(ctx context.Context, s *chat.Session, question string) (chat.Turn, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return chat.Turn{}, ErrEmptyQuestion
	}

	var (
		turn chat.Turn
		err  error
	)
	lockErr := s.Exclusive(false, func() {
		turn, err = a.ask(ctx, s, question)
	})
	if lockErr != nil {
		return chat.Turn{Question: question, Error: lockErr.Error(), At: a.now(), Index: -1}, lockErr
	}
	return turn, err
}

func (a *Assistant) ask(ctx context.Context, s *chat.Session, question string) (chat.Turn, error) {
	logger := a.logger.With(
		"session_id", s.ID().String(),
		"trace_id", observability.TraceIDFromContext(ctx),
	)
	turn := chat.Turn{Question: question, At: a.now(), Index: -1}

	conn, snap := s.Conn(), s.Snapshot()
	if s.State() != chat.Connected || conn == nil {
		turn.Error = NotConnectedMessage
		observability.ObserveQuestion("not_connected")
		return turn, chat.ErrNotConnected
	}

	if IsCourtesy(question) {
		turn.Answer = CourtesyReply
		turn = s.Record(turn)
		observability.ObserveQuestion("courtesy")
		return turn, nil
	}

	schemaText := ""
	if snap != nil {
		schemaText = snap.Text()
	}

	fail := func(err error) (chat.Turn, error) {
		turn.Error = failure.UserMessage(err)
		turn.Kind = failure.KindOf(err)
		_ = s.Transition(chat.Connected)
		turn = s.Record(turn)
		observability.ObserveQuestion(string(turn.Kind))
		logger.WarnContext(ctx, "question failed", "kind", turn.Kind, "sql", turn.SQL, "error", err)
		return turn, err
	}

	// Generating
	if err := s.Transition(chat.Generating); err != nil {
		return turn, err
	}
	genCtx, cancel := a.withTimeout(ctx, a.llmTimeout)
	stmt, err := Generate(genCtx, a.provider, conn.Dialect().Name, schemaText, s.History().Window(a.historyTurns), question)
	cancel()
	if err != nil {
		return fail(err)
	}
	turn.SQL = stmt.SQL()

	// Validating
	if err := s.Transition(chat.Validating); err != nil {
		return fail(err)
	}
	verdict, err := a.policy.Review(stmt)
	if err != nil {
		return fail(err)
	}
	if !verdict.Approved {
		observability.ObserveGateRejection(verdict.Keyword)
		return fail(failure.New(failure.SafetyRejection, verdict.Reason))
	}

	// Executing
	if err := s.Transition(chat.Executing); err != nil {
		return fail(err)
	}
	execCtx, cancel := a.withTimeout(ctx, a.queryTimeout)
	res, err := Execute(execCtx, conn.DB(), stmt, a.maxRows)
	cancel()
	if err != nil {
		return fail(err)
	}
	observability.ObserveQuery(res.Duration)
	turn.RowCount, turn.Truncated = res.Count(), res.Truncated

	// Narrating
	if err := s.Transition(chat.Narrating); err != nil {
		return fail(err)
	}
	narrCtx, cancel := a.withTimeout(ctx, a.llmTimeout)
	answer, err := Narrate(narrCtx, a.provider, question, schemaText, stmt.SQL(), res)
	cancel()
	if err != nil {
		return fail(err)
	}
	turn.Answer = answer

	if err := s.Transition(chat.Connected); err != nil {
		return turn, err
	}
	turn = s.Record(turn)
	observability.ObserveQuestion("answered")
	logger.InfoContext(ctx, "question answered", "rows", turn.RowCount, "truncated", turn.Truncated, "query_ms", res.Duration.Milliseconds())
	return turn, nil
}

// Rerun executes the SQL of an earlier turn again through the gate, for
// exports. It does not touch the session's state or history.
func (a *Assistant) Rerun(ctx context.Context, s *chat.Session, sql string, maxRows int) (Result, error) {
	conn := s.Conn()
	if conn == nil {
		return Result{}, chat.ErrNotConnected
	}

	stmt := gate.NewStatement(sql)
	verdict, err := a.policy.Review(stmt)
	if err != nil {
		return Result{}, err
	}
	if !verdict.Approved {
		observability.ObserveGateRejection(verdict.Keyword)
		return Result{}, failure.New(failure.SafetyRejection, verdict.Reason)
	}

	var res Result
	lockErr := s.Exclusive(false, func() {
		execCtx, cancel := a.withTimeout(ctx, a.queryTimeout)
		defer cancel()
		res, err = Execute(execCtx, conn.DB(), stmt, maxRows)
	})
	if lockErr != nil {
		return Result{}, lockErr
	}
	return res, err
}

func (a *Assistant) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

var courtesyWords = map[string]bool{
	"ok": true, "thanks": true, "great": true, "awesome": true, "nice": true, "cool": true,
}

var courtesyPairs = map[[2]string]bool{
	{"thank", "you"}: true,
	{"well", "done"}: true,
}

// IsCourtesy reports whether the message is made up only of courtesy words
// such as "thanks" or "well done".
func IsCourtesy(message string) bool {
	words := strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if len(words) == 0 {
		return false
	}
	for i := 0; i < len(words); i++ {
		if i+1 < len(words) && courtesyPairs[[2]string{words[i], words[i+1]}] {
			i++
			continue
		}
		if !courtesyWords[words[i]] {
			return false
		}
	}
	return true
}
