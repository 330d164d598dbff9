package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/BTreeMap/ScriptFlow/internal/chat"
	"github.com/BTreeMap/ScriptFlow/internal/component"
	"github.com/BTreeMap/ScriptFlow/internal/store"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// maxBodyBytes bounds JSON and form request bodies.
const maxBodyBytes = 1 << 20

// Records is the read side of the stores fed by the scripted features.
type Records interface {
	store.CandidateStore
	store.JobStore
}

// Server is the JSON transport for the chat rendering layer.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	manager    *chat.Manager
	components *component.Registry
	records    Records
	webhook    bool
	dedup      store.DedupRepo
}

// Opts holds configuration for NewServer.
type Opts struct {
	Addr           string
	AllowedOrigins []string
	TwilioWebhook  bool
	Dedup          store.DedupRepo
}

// Option configures a Server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithAllowedOrigins sets the CORS origins allowed to call the API.
func WithAllowedOrigins(origins ...string) Option {
	return func(o *Opts) { o.AllowedOrigins = origins }
}

// WithTwilioWebhook mounts POST /webhooks/twilio for inbound WhatsApp messages.
func WithTwilioWebhook(enabled bool) Option {
	return func(o *Opts) { o.TwilioWebhook = enabled }
}

// WithInboundDedup drops Twilio webhook redeliveries already recorded in repo.
func WithInboundDedup(repo store.DedupRepo) Option {
	return func(o *Opts) { o.Dedup = repo }
}

// NewServer creates a server routing session traffic to manager.
func NewServer(manager *chat.Manager, components *component.Registry, records Records, opts ...Option) *Server {
	o := Opts{Addr: DefaultAddr, AllowedOrigins: []string{"*"}}
	for _, opt := range opts {
		opt(&o)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: o.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Requested-With"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	s := &Server{
		router:     r,
		manager:    manager,
		components: components,
		records:    records,
		webhook:    o.TwilioWebhook,
		dedup:      o.Dedup,
	}
	s.httpServer = &http.Server{
		Addr:              o.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/health", s.healthHandler)
	s.router.Get("/features", s.featuresHandler)
	s.router.Get("/components", s.componentsHandler)

	s.router.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.listSessionsHandler)
		r.Post("/", s.openSessionHandler)
		r.Get("/{id}", s.getSessionHandler)
		r.Delete("/{id}", s.closeSessionHandler)
		r.Post("/{id}/messages", s.sendMessageHandler)
		r.Post("/{id}/components/{messageID}", s.componentUpdateHandler)
	})

	s.router.Get("/candidates", s.candidatesHandler)
	s.router.Get("/jobs", s.jobsHandler)

	if s.webhook {
		s.router.Post("/webhooks/twilio", s.twilioWebhookHandler)
	}
}

// Router returns the HTTP handler serving the API.
func (s *Server) Router() http.Handler { return s.router }

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	slog.Info("Server.Start: listening", "addr", s.httpServer.Addr, "twilio_webhook", s.webhook)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server.Start: listener failed", "error", err)
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Server.Shutdown: stopping")
	return s.httpServer.Shutdown(ctx)
}
