// Package api implements the HTTP layer of the bulk mail dispatcher.
// Handlers are methods on *Server. Each handler file is responsible for one
// resource group and only imports the dependencies it actually uses.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nyashahama/bulk-mail-dispatcher/internal/bulkmail"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/catalog"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/db"
	"github.com/nyashahama/bulk-mail-dispatcher/internal/worker"
)

// Config holds values read from environment variables at startup.
type Config struct {
	// Env is "production", "staging", "development" or "local".
	Env string

	// RequestTimeout bounds every route except the synchronous bulk send,
	// which runs until the last chunk is delivered. Default: 30s.
	RequestTimeout time.Duration
}

// BulkMailer runs and schedules bulk sends. *bulkmail.Service satisfies it.
type BulkMailer interface {
	Send(ctx context.Context, cmd bulkmail.Command) (bulkmail.Outcome, error)
	Schedule(ctx context.Context, cmd bulkmail.Command) (db.DispatchRun, error)
}

// TemplateLister lists templates by type. *catalog.Catalog satisfies it.
type TemplateLister interface {
	ListByType(ctx context.Context, types ...db.TemplateType) ([]catalog.Template, error)
}

// Server holds all shared dependencies. Each handler file attaches methods to
// this type and uses only the fields it needs.
type Server struct {
	// q handles single-query reads (dispatch run status).
	q db.Querier

	// bulk runs the send pipeline.
	bulk BulkMailer

	// templates serves the template listing.
	templates TemplateLister

	// worker picks up scheduled runs.
	worker worker.Enqueuer

	cfg    Config
	logger *slog.Logger
}

// NewServer constructs the Server and wires the chi router. The returned
// http.Handler is ready to pass to http.Serve.
func NewServer(
	q db.Querier,
	bulk BulkMailer,
	templates TemplateLister,
	enqueuer worker.Enqueuer,
	cfg Config,
	logger *slog.Logger,
) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	s := &Server{
		q:         q,
		bulk:      bulk,
		templates: templates,
		worker:    enqueuer,
		cfg:       cfg,
		logger:    logger,
	}

	return s.routes()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	// ── Global middleware ─────────────────────────────────────────────────────
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggerMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)

	// ── Health + metrics ──────────────────────────────────────────────────────
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())

	// ── API ───────────────────────────────────────────────────────────────────
	r.Route("/api", func(r chi.Router) {
		// A synchronous send pauses between chunks and can outlive any
		// sensible request timeout.
		r.Post("/bulk-emails", s.handleSendBulkEmails)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.cfg.RequestTimeout))
			r.Post("/bulk-emails/async", s.handleScheduleBulkEmails)
			r.Get("/bulk-emails/{runID}", s.handleGetDispatchRun)
			r.Get("/templates", s.handleListTemplates)
		})
	})

	return r
}
