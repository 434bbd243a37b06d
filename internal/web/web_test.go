package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/dbchat/internal/assistant"
	"github.com/JonMunkholm/dbchat/internal/chat"
	"github.com/JonMunkholm/dbchat/internal/config"
	"github.com/JonMunkholm/dbchat/internal/failure"
	"github.com/JonMunkholm/dbchat/internal/gate"
	"github.com/JonMunkholm/dbchat/internal/llm"
)

// cannedProvider answers every generation call with sql and every
// narration call with answer.
type cannedProvider struct {
	mu     sync.Mutex
	sql    string
	answer string
	calls  int
}

func (p *cannedProvider) Name() string { return "canned" }

func (p *cannedProvider) Complete(_ context.Context, messages []llm.Message) (llm.Completion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if messages[0].Role == llm.RoleSystem {
		return llm.Completion{Text: "Thought: easy.\n```sql\n" + p.sql + "\n```"}, nil
	}
	return llm.Completion{Text: p.answer}, nil
}

func testConfig() config.Config {
	return config.Config{
		Service: config.ServiceConfig{Name: "dbchat-test"},
		LLM:     config.LLMConfig{Timeout: 5 * time.Second},
		DB:      config.DBDefaults{Dialect: "sqlite", Database: ":memory:"},
		Chat:    config.ChatConfig{HistoryTurns: 10, MaxRows: 200, QueryTimeout: 5 * time.Second, MaxSessions: 10},
	}
}

type client struct {
	t    *testing.T
	base string
	http *http.Client
}

func newTestServer(t *testing.T, provider llm.Provider) *client {
	t.Helper()
	cfg := testConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := chat.NewStore(cfg.Chat.MaxSessions, logger)
	t.Cleanup(store.Close)

	srv := NewServer(cfg, store, assistant.New(cfg, provider, gate.Default(), logger), logger)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &client{t: t, base: ts.URL, http: &http.Client{Jar: jar}}
}

func (c *client) get(path string) (*http.Response, []byte) {
	c.t.Helper()
	res, err := c.http.Get(c.base + path)
	require.NoError(c.t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(c.t, err)
	return res, body
}

func (c *client) postJSON(path string, payload any) (*http.Response, []byte) {
	c.t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(c.t, err)
	res, err := c.http.Post(c.base+path, "application/json", strings.NewReader(string(raw)))
	require.NoError(c.t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(c.t, err)
	return res, body
}

func (c *client) postForm(path string, values url.Values) (*http.Response, []byte) {
	c.t.Helper()
	res, err := c.http.PostForm(c.base+path, values)
	require.NoError(c.t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(c.t, err)
	return res, body
}

func (c *client) connectMemory() {
	c.t.Helper()
	res, body := c.postForm("/connect", url.Values{"dialect": {"sqlite"}, "database": {":memory:"}})
	require.Equal(c.t, http.StatusOK, res.StatusCode, string(body))
}

func TestHealthz(t *testing.T) {
	c := newTestServer(t, &cannedProvider{})
	res, body := c.get("/healthz")
	require.Equal(t, http.StatusOK, res.StatusCode)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, "ok", payload["status"])
	assert.Equal(t, "dbchat-test", payload["service"])
	assert.EqualValues(t, 0, payload["sessions"])
	assert.NotEmpty(t, res.Header.Get("X-Trace-ID"))
}

func TestIndexStartsSession(t *testing.T) {
	c := newTestServer(t, &cannedProvider{})
	res, body := c.get("/")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, res.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(body), template.HTMLEscapeString(assistant.WelcomeMessage))
	assert.Contains(t, string(body), `<option value="sqlite" selected>`)

	var found bool
	for _, ck := range res.Cookies() {
		if ck.Name == sessionCookie {
			found = true
			assert.True(t, ck.HttpOnly)
		}
	}
	assert.True(t, found, "session cookie not set")
}

func TestConnectAndChat(t *testing.T) {
	provider := &cannedProvider{sql: "SELECT 1 AS one;", answer: "The answer is one."}
	c := newTestServer(t, provider)

	res, body := c.postForm("/connect", url.Values{"dialect": {"sqlite"}, "database": {":memory:"}})
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	var conn connectResponse
	require.NoError(t, json.Unmarshal(body, &conn))
	assert.True(t, conn.Connected)
	assert.Equal(t, "Connected to database!", conn.Message)
	assert.Equal(t, "sqlite :memory:", conn.Database)

	res, body = c.postJSON("/chat", chatRequest{Question: "What is one?"})
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	var turn chat.Turn
	require.NoError(t, json.Unmarshal(body, &turn))
	assert.Equal(t, "SELECT 1 AS one;", turn.SQL)
	assert.Equal(t, "The answer is one.", turn.Answer)
	assert.Equal(t, 1, turn.RowCount)
	assert.Equal(t, 0, turn.Index)
	assert.Empty(t, turn.Error)
	assert.Equal(t, 2, provider.calls)

	res, body = c.get("/history")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var hist historyResponse
	require.NoError(t, json.Unmarshal(body, &hist))
	assert.True(t, hist.Connected)
	assert.Equal(t, "connected", hist.State)
	require.Len(t, hist.Turns, 1)
	assert.Equal(t, "What is one?", hist.Turns[0].Question)

	res, body = c.get("/export.csv?turn=0")
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	assert.Equal(t, "text/csv", res.Header.Get("Content-Type"))
	assert.Equal(t, "one\n1\n", string(body))

	res, _ = c.get("/export.csv?turn=7")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestChatFormEncoded(t *testing.T) {
	c := newTestServer(t, &cannedProvider{sql: "SELECT 2 AS two", answer: "Two."})
	c.connectMemory()

	res, body := c.postForm("/chat", url.Values{"question": {"two please"}})
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	var turn chat.Turn
	require.NoError(t, json.Unmarshal(body, &turn))
	assert.Equal(t, "Two.", turn.Answer)
}

func TestChatWithoutConnection(t *testing.T) {
	provider := &cannedProvider{sql: "SELECT 1", answer: "x"}
	c := newTestServer(t, provider)

	res, body := c.postJSON("/chat", chatRequest{Question: "How many users?"})
	require.Equal(t, http.StatusConflict, res.StatusCode)
	var turn chat.Turn
	require.NoError(t, json.Unmarshal(body, &turn))
	assert.Equal(t, assistant.NotConnectedMessage, turn.Error)
	assert.Equal(t, -1, turn.Index)
	assert.Zero(t, provider.calls)

	_, body = c.get("/history")
	var hist historyResponse
	require.NoError(t, json.Unmarshal(body, &hist))
	assert.False(t, hist.Connected)
	assert.Empty(t, hist.Turns)
}

func TestExportFollowsRecordedIndex(t *testing.T) {
	c := newTestServer(t, &cannedProvider{sql: "SELECT 7 AS seven", answer: "Seven."})

	res, body := c.postJSON("/chat", chatRequest{Question: "before connecting"})
	require.Equal(t, http.StatusConflict, res.StatusCode)
	var unrecorded chat.Turn
	require.NoError(t, json.Unmarshal(body, &unrecorded))
	assert.Equal(t, -1, unrecorded.Index)

	c.connectMemory()
	res, body = c.postJSON("/chat", chatRequest{Question: "seven please"})
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	var turn chat.Turn
	require.NoError(t, json.Unmarshal(body, &turn))
	require.Equal(t, 0, turn.Index)

	res, body = c.get(fmt.Sprintf("/export.csv?turn=%d", turn.Index))
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	assert.Equal(t, "seven\n7\n", string(body))

	_, body = c.get("/")
	assert.Contains(t, string(body), `/export.csv?turn=0`)
}

func TestChatEmptyQuestion(t *testing.T) {
	c := newTestServer(t, &cannedProvider{})
	res, _ := c.postJSON("/chat", chatRequest{Question: "   "})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestChatRejectedStatement(t *testing.T) {
	provider := &cannedProvider{sql: "DELETE FROM users", answer: "never"}
	c := newTestServer(t, provider)
	c.connectMemory()

	res, body := c.postJSON("/chat", chatRequest{Question: "remove everyone"})
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(body))
	var turn chat.Turn
	require.NoError(t, json.Unmarshal(body, &turn))
	assert.Equal(t, failure.SafetyRejection, turn.Kind)
	assert.Equal(t, "DELETE FROM users", turn.SQL)
	assert.Equal(t, 1, provider.calls)

	res, _ = c.get("/export.csv?turn=0")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestChatExecutionFailure(t *testing.T) {
	c := newTestServer(t, &cannedProvider{sql: "SELECT * FROM missing_table", answer: "never"})
	c.connectMemory()

	res, body := c.postJSON("/chat", chatRequest{Question: "show missing"})
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(body))
	var turn chat.Turn
	require.NoError(t, json.Unmarshal(body, &turn))
	assert.Equal(t, failure.Execution, turn.Kind)
	assert.Contains(t, turn.Error, "missing_table")
}

func TestConnectFailure(t *testing.T) {
	c := newTestServer(t, &cannedProvider{})
	missing := filepath.Join(t.TempDir(), "nope", "missing.db")

	res, body := c.postJSON("/connect", map[string]string{"dialect": "sqlite", "database": missing})
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(body))
	var payload map[string]any
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, string(failure.Connection), payload["error_code"])
	assert.NotEmpty(t, payload["trace_id"])

	res, _ = c.postJSON("/connect", map[string]string{"dialect": "oracle"})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestConnectBadBody(t *testing.T) {
	c := newTestServer(t, &cannedProvider{})
	res, err := c.http.Post(c.base+"/connect", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestSchemaEndpoints(t *testing.T) {
	c := newTestServer(t, &cannedProvider{})

	res, _ := c.get("/schema")
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	res, _ = c.postJSON("/schema/refresh", nil)
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	c.connectMemory()

	res, body := c.get("/schema")
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	var snap schemaResponse
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, "sqlite", snap.Dialect)
	assert.Zero(t, snap.TableCount)
	assert.Equal(t, "(no tables found)", snap.Text)

	res, body = c.postJSON("/schema/refresh", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
}

func TestTranscriptDownload(t *testing.T) {
	c := newTestServer(t, &cannedProvider{sql: "SELECT 1 AS one", answer: "One."})
	c.connectMemory()
	res, _ := c.postJSON("/chat", chatRequest{Question: "one?"})
	require.Equal(t, http.StatusOK, res.StatusCode)
	res, _ = c.postJSON("/chat", chatRequest{Question: "thanks"})
	require.Equal(t, http.StatusOK, res.StatusCode)

	res, body := c.get("/transcript?format=yaml")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "application/yaml", res.Header.Get("Content-Type"))
	assert.Contains(t, res.Header.Get("Content-Disposition"), "attachment")
	assert.Contains(t, res.Header.Get("Content-Disposition"), ".yaml")

	var tr struct {
		Turns []struct {
			Question string `yaml:"question"`
			SQL      string `yaml:"sql"`
			Answer   string `yaml:"answer"`
		} `yaml:"turns"`
	}
	require.NoError(t, yaml.Unmarshal(body, &tr))
	require.Len(t, tr.Turns, 2)
	assert.Equal(t, "SELECT 1 AS one", tr.Turns[0].SQL)
	assert.Equal(t, assistant.CourtesyReply, tr.Turns[1].Answer)

	res, body = c.get("/transcript?format=md")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(body), "one?")

	res, _ = c.get("/transcript?format=xml")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestDisconnect(t *testing.T) {
	c := newTestServer(t, &cannedProvider{})
	c.connectMemory()

	res, _ := c.postJSON("/disconnect", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)

	_, body := c.get("/history")
	var hist historyResponse
	require.NoError(t, json.Unmarshal(body, &hist))
	assert.False(t, hist.Connected)
	assert.Equal(t, "disconnected", hist.State)
}

func TestResetForgetsSession(t *testing.T) {
	c := newTestServer(t, &cannedProvider{sql: "SELECT 1 AS one", answer: "One."})
	c.connectMemory()
	res, _ := c.postJSON("/chat", chatRequest{Question: "one?"})
	require.Equal(t, http.StatusOK, res.StatusCode)

	res, _ = c.postJSON("/reset", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)

	_, body := c.get("/history")
	var hist historyResponse
	require.NoError(t, json.Unmarshal(body, &hist))
	assert.False(t, hist.Connected)
	assert.Empty(t, hist.Turns)
}

func TestCORSIsSameOriginByDefault(t *testing.T) {
	c := newTestServer(t, &cannedProvider{})
	req, err := http.NewRequest(http.MethodGet, c.base+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://evil.test")

	res, err := c.http.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Empty(t, res.Header.Get("Access-Control-Allow-Origin"))
	assert.Empty(t, res.Header.Get("Access-Control-Allow-Credentials"))
}

func TestCORSAllowsConfiguredOrigins(t *testing.T) {
	cfg := testConfig()
	cfg.HTTP.CORSOrigins = []string{"http://app.test"}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := chat.NewStore(cfg.Chat.MaxSessions, logger)
	t.Cleanup(store.Close)
	handler := NewServer(cfg, store, assistant.New(cfg, &cannedProvider{}, gate.Default(), logger), logger).Routes()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://app.test")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "http://app.test", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://evil.test")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	c := newTestServer(t, &cannedProvider{})
	c.get("/healthz")
	res, body := c.get("/metrics")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(body), "dbchat_")
}

func TestStatusFor(t *testing.T) {
	cases := map[failure.Kind]int{
		failure.Connection:      http.StatusBadRequest,
		failure.Execution:       http.StatusBadRequest,
		failure.Generation:      http.StatusBadGateway,
		failure.Narration:       http.StatusBadGateway,
		failure.SafetyRejection: http.StatusUnprocessableEntity,
	}
	for kind, want := range cases {
		assert.Equal(t, want, statusFor(failure.New(kind, "x")), kind)
	}
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("plain")))
}
