// Package web serves the chat UI and its JSON endpoints.
package web

import (
	_ "embed"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/schema"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/dbchat/internal/assistant"
	"github.com/JonMunkholm/dbchat/internal/chat"
	"github.com/JonMunkholm/dbchat/internal/config"
	"github.com/JonMunkholm/dbchat/internal/observability"
)

const sessionCookie = "dbchat_session"

//go:embed templates/index.html
var indexHTML string

// Server wires HTTP requests to cookie-bound chat sessions.
type Server struct {
	cfg       config.Config
	store     *chat.Store
	assistant *assistant.Assistant
	logger    *slog.Logger
	tmpl      *template.Template
	forms     *schema.Decoder
}

func NewServer(cfg config.Config, store *chat.Store, asst *assistant.Assistant, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	forms := schema.NewDecoder()
	forms.IgnoreUnknownKeys(true)

	return &Server{
		cfg:       cfg,
		store:     store,
		assistant: asst,
		logger:    logger,
		tmpl:      template.Must(template.New("index").Parse(indexHTML)),
		forms:     forms,
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	// Same-origin only unless origins are configured.
	if origins := s.cfg.HTTP.CORSOrigins; len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "X-Trace-ID"},
			ExposedHeaders:   []string{"X-Trace-ID"},
			AllowCredentials: true,
			MaxAge:           300, // Cache preflight response for 5 minutes
		}))
	}
	r.Use(middleware.Recoverer)
	r.Use(observability.TraceMiddleware)
	r.Use(observability.LoggingMiddleware(s.logger))
	r.Use(observability.MetricsMiddleware)

	r.Get("/", s.handleIndex)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/connect", s.handleConnect)
	r.Post("/disconnect", s.handleDisconnect)
	r.Post("/reset", s.handleReset)
	r.Post("/chat", s.handleChat)
	r.Get("/history", s.handleHistory)
	r.Get("/transcript", s.handleTranscript)
	r.Get("/export.csv", s.handleExportCSV)
	r.Get("/schema", s.handleSchema)
	r.Post("/schema/refresh", s.handleSchemaRefresh)

	return r
}

// session returns the caller's session, starting one (and setting the
// cookie) when the cookie is missing or names an evicted session.
func (s *Server) session(w http.ResponseWriter, r *http.Request) *chat.Session {
	if sess, ok := s.existingSession(r); ok {
		return sess
	}

	sess := s.store.Create()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.ID().String(),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return sess
}

func (s *Server) existingSession(r *http.Request) (*chat.Session, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil, false
	}
	id, err := uuid.Parse(c.Value)
	if err != nil {
		return nil, false
	}
	return s.store.Get(id)
}
