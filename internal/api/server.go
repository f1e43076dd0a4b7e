package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/mattjoyce/relaygw/internal/auth"
	"github.com/mattjoyce/relaygw/internal/broker"
	"github.com/mattjoyce/relaygw/internal/events"
	"github.com/mattjoyce/relaygw/internal/journal"
)

//go:generate mockgen -destination=mocks/mock_api.go -package=mocks github.com/mattjoyce/relaygw/internal/api Relay,History

// Relay is the broker surface the HTTP layer drives.
type Relay interface {
	Register(identity, credential string) error
	PollForWork(credential string) (*broker.WorkItem, error)
	SubmitResult(credential, requestID string, outcome broker.Outcome) error
	SubmitQuery(ctx context.Context, credential string, payload broker.Payload) (*broker.Result, error)
	Status(credential string) (broker.Status, error)
	Health() broker.Health
	Workers() []broker.SessionInfo
	Disconnect(credential string) bool
}

// History serves recent journal entries to operators.
type History interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the single admin bearer token (every scope).
	APIKey string
	// Tokens is an optional list of scoped admin bearer tokens.
	Tokens []auth.TokenConfig
	// AllowedOrigins restricts CORS; empty allows any origin.
	AllowedOrigins []string
	// QueryRatePerMinute limits /api/query per credential; 0 disables.
	QueryRatePerMinute int
	// QueryTimeout sizes the write timeout so blocked queries can answer.
	QueryTimeout time.Duration
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	relay     Relay
	history   History
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	limiter   *credentialLimiter
	startedAt time.Time
	now       func() time.Time
}

// New creates a new API server instance. history and hub may be nil, which
// disables /admin/history and /events respectively.
func New(config Config, relay Relay, history History, hub *events.Hub, logger *slog.Logger) *Server {
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = broker.DefaultQueryTimeout
	}
	s := &Server{
		config:    config,
		relay:     relay,
		history:   history,
		events:    hub,
		logger:    logger,
		startedAt: time.Now(),
		now:       time.Now,
	}
	if config.QueryRatePerMinute > 0 {
		s.limiter = newCredentialLimiter(config.QueryRatePerMinute)
	}
	return s
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		// Long enough for a query that waits its full deadline.
		WriteTimeout: s.config.QueryTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen, "admin", s.adminEnabled())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

func (s *Server) adminEnabled() bool {
	return auth.Enabled(s.config.APIKey, s.config.Tokens)
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(s.corsHandler().Handler)

	// Worker protocol.
	r.Post("/register", s.handleRegister)
	r.Get("/poll/{credential}", s.handlePoll)
	r.Post("/response/{credential}/{requestID}", s.handleResponse)

	// Caller API.
	r.Post("/api/query", s.handleQuery)
	r.Get("/api/status/{credential}", s.handleStatus)

	r.Get("/health", s.handleHealth)
	r.Get("/openapi.json", s.handleOpenAPI)

	if s.adminEnabled() {
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.With(s.requireScopes(auth.ScopeEventsRO)).Get("/events", s.handleEvents)
			r.With(s.requireScopes(auth.ScopeWorkersRO)).Get("/admin/workers", s.handleListWorkers)
			r.With(s.requireScopes(auth.ScopeWorkersRW)).Delete("/admin/workers/{credential}", s.handleDisconnectWorker)
			r.With(s.requireScopes(auth.ScopeHistoryRO)).Get("/admin/history", s.handleHistory)
		})
	}

	return r
}

func (s *Server) corsHandler() *cors.Cors {
	origins := s.config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "Last-Event-ID"},
		MaxAge:         600,
	})
}

// loggingMiddleware logs HTTP requests by route pattern, so credentials in
// the path never reach the log.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := routePattern(r)
		level := slog.LevelInfo
		// Workers poll every few seconds.
		if route == "/poll/{credential}" || route == "/health" {
			level = slog.LevelDebug
		}
		s.logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"route", route,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return "unmatched"
}
