package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/dbchat/internal/assistant"
	"github.com/JonMunkholm/dbchat/internal/chat"
	"github.com/JonMunkholm/dbchat/internal/database"
	"github.com/JonMunkholm/dbchat/internal/failure"
	"github.com/JonMunkholm/dbchat/internal/observability"
	dbschema "github.com/JonMunkholm/dbchat/internal/schema"
)

const (
	connectTimeout = 30 * time.Second
	exportRowLimit = 1000
)

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)

	data := struct {
		Welcome   string
		Defaults  database.Params
		Dialects  []string
		Connected bool
		Database  string
		Turns     []chat.Turn
	}{
		Welcome:  assistant.WelcomeMessage,
		Dialects: database.DialectNames(),
		Defaults: database.Params{
			Dialect:  s.cfg.DB.Dialect,
			Host:     s.cfg.DB.Host,
			Port:     s.cfg.DB.Port,
			User:     s.cfg.DB.User,
			Database: s.cfg.DB.Database,
		},
		Turns: sess.History().Turns(),
	}
	if conn := sess.Conn(); conn != nil {
		data.Connected = true
		data.Database = conn.Label()
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.Execute(w, data); err != nil {
		s.logger.ErrorContext(r.Context(), "render index", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"service":  s.cfg.Service.Name,
		"sessions": s.store.Len(),
	})
}

type connectResponse struct {
	Connected  bool   `json:"connected"`
	Database   string `json:"database,omitempty"`
	TableCount int    `json:"tableCount"`
	Message    string `json:"message"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var params database.Params
	if err := s.decode(r, &params); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if params.Dialect == "" {
		params.Dialect = s.cfg.DB.Dialect
	}

	sess := s.session(w, r)

	ctx, cancel := context.WithTimeout(r.Context(), connectTimeout)
	defer cancel()

	conn, err := database.Connect(ctx, params)
	if err != nil {
		s.logger.WarnContext(ctx, "connect failed",
			"session_id", sess.ID().String(),
			"target", params.Label(),
			"error", observability.Mask(err.Error()),
		)
		writeFailure(r.Context(), w, err)
		return
	}

	snap, err := dbschema.Load(ctx, conn)
	if err != nil {
		_ = conn.Close()
		writeFailure(r.Context(), w, failure.Wrap(failure.Connection, "could not read the schema: "+err.Error(), err))
		return
	}

	if err := sess.Exclusive(false, func() { sess.Attach(conn, snap) }); err != nil {
		_ = conn.Close()
		writeError(r.Context(), w, http.StatusConflict, "busy", err.Error())
		return
	}

	s.logger.InfoContext(ctx, "session connected",
		"session_id", sess.ID().String(),
		"target", conn.Label(),
		"tables", snap.TableCount(),
	)
	writeJSON(w, http.StatusOK, connectResponse{
		Connected:  true,
		Database:   conn.Label(),
		TableCount: snap.TableCount(),
		Message:    "Connected to database!",
	})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.existingSession(r)
	if !ok {
		writeJSON(w, http.StatusOK, connectResponse{Message: "Disconnected."})
		return
	}

	var closeErr error
	if err := sess.Exclusive(false, func() { closeErr = sess.Detach() }); err != nil {
		writeError(r.Context(), w, http.StatusConflict, "busy", err.Error())
		return
	}
	if closeErr != nil {
		s.logger.WarnContext(r.Context(), "closing connection failed", "session_id", sess.ID().String(), "error", closeErr)
	}
	writeJSON(w, http.StatusOK, connectResponse{Message: "Disconnected."})
}

// handleReset forgets the caller's session: the connection is closed, the
// history dropped and the cookie expired. The next request starts afresh.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.existingSession(r); ok {
		s.store.Delete(sess.ID())
		s.logger.InfoContext(r.Context(), "session reset", "session_id", sess.ID().String())
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, connectResponse{Message: "Started a new chat."})
}

type chatRequest struct {
	Question string `json:"question" schema:"question"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := s.decode(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	sess := s.session(w, r)
	turn, err := s.assistant.Ask(r.Context(), sess, req.Question)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, turn)
	case errors.Is(err, assistant.ErrEmptyQuestion):
		writeError(r.Context(), w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, chat.ErrBusy):
		writeError(r.Context(), w, http.StatusConflict, "busy", err.Error())
	case errors.Is(err, chat.ErrNotConnected):
		writeJSON(w, http.StatusConflict, turn)
	default:
		writeJSON(w, statusFor(err), turn)
	}
}

type historyResponse struct {
	Connected bool        `json:"connected"`
	Database  string      `json:"database,omitempty"`
	State     string      `json:"state"`
	Turns     []chat.Turn `json:"turns"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	resp := historyResponse{
		State: sess.State().String(),
		Turns: sess.History().Turns(),
	}
	if resp.Turns == nil {
		resp.Turns = []chat.Turn{}
	}
	if conn := sess.Conn(); conn != nil {
		resp.Connected = true
		resp.Database = conn.Label()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	exporter, err := chat.NewExporter(r.URL.Query().Get("format"))
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	sess := s.session(w, r)
	filename := fmt.Sprintf("transcript-%s.%s", sess.ID().String()[:8], exporter.Extension())

	w.Header().Set("Content-Type", exporter.ContentType())
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	if err := exporter.Export(sess.Transcript(time.Now()), w); err != nil {
		s.logger.ErrorContext(r.Context(), "export transcript", "error", err)
	}
}

// handleExportCSV re-runs the statement of one earlier turn and streams all
// rows (up to the export limit) as CSV.
func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	turns := sess.History().Turns()

	idx, err := strconv.Atoi(r.URL.Query().Get("turn"))
	if err != nil || idx < 0 || idx >= len(turns) {
		writeError(r.Context(), w, http.StatusBadRequest, "invalid_request", "turn must be the index of an earlier question")
		return
	}
	turn := turns[idx]
	if turn.SQL == "" || turn.Failed() {
		writeError(r.Context(), w, http.StatusBadRequest, "invalid_request", "that question has no result to export")
		return
	}

	res, err := s.assistant.Rerun(r.Context(), sess, turn.SQL, exportRowLimit)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrNotConnected), errors.Is(err, chat.ErrBusy):
			writeError(r.Context(), w, http.StatusConflict, "not_ready", err.Error())
		default:
			writeError(r.Context(), w, statusFor(err), string(failure.KindOf(err)), failure.UserMessage(err))
		}
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=dbchat-turn-%d.csv", idx+1))
	if err := res.WriteCSV(w, ""); err != nil {
		s.logger.ErrorContext(r.Context(), "write csv export", "error", err)
	}
}

type schemaResponse struct {
	Dialect     string           `json:"dialect"`
	Tables      []dbschema.Table `json:"tables"`
	TableCount  int              `json:"tableCount"`
	LastRefresh string           `json:"lastRefresh"`
	Text        string           `json:"text"`
}

func newSchemaResponse(snap *dbschema.Snapshot) schemaResponse {
	return schemaResponse{
		Dialect:     snap.Dialect(),
		Tables:      snap.Tables(),
		TableCount:  snap.TableCount(),
		LastRefresh: snap.LoadedAt().Format(time.RFC3339),
		Text:        snap.Text(),
	}
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	snap := sess.Snapshot()
	if snap == nil {
		writeError(r.Context(), w, http.StatusConflict, "not_connected", assistant.NotConnectedMessage)
		return
	}
	writeJSON(w, http.StatusOK, newSchemaResponse(snap))
}

func (s *Server) handleSchemaRefresh(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	conn := sess.Conn()
	if conn == nil {
		writeError(r.Context(), w, http.StatusConflict, "not_connected", assistant.NotConnectedMessage)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), connectTimeout)
	defer cancel()

	var (
		snap    *dbschema.Snapshot
		loadErr error
	)
	lockErr := sess.Exclusive(false, func() {
		snap, loadErr = dbschema.Load(ctx, conn)
		if loadErr == nil {
			loadErr = sess.ReplaceSnapshot(snap)
		}
	})
	if lockErr != nil {
		writeError(r.Context(), w, http.StatusConflict, "busy", lockErr.Error())
		return
	}
	if loadErr != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "schema_refresh_failed", loadErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, newSchemaResponse(snap))
}

// decode reads a JSON body or an HTML form into dst.
func (s *Server) decode(r *http.Request, dst any) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
			return errors.New("unable to parse request body")
		}
		return nil
	}

	if err := r.ParseForm(); err != nil {
		return errors.New("unable to parse form")
	}
	if err := s.forms.Decode(dst, r.PostForm); err != nil {
		return fmt.Errorf("unable to decode form: %s", strings.TrimSpace(err.Error()))
	}
	return nil
}
