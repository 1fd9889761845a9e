// Package api exposes assessments, the case lifecycle and exports over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/polishcitizenship/portal-core/internal/intake"
	"github.com/polishcitizenship/portal-core/internal/lifecycle"
	"github.com/polishcitizenship/portal-core/internal/model"
	"github.com/polishcitizenship/portal-core/internal/store"
)

const requestTimeout = 30 * time.Second

// Assessor scores submissions and opens cases from them.
type Assessor interface {
	Questionnaire() model.Questionnaire
	Assess(ctx context.Context, req intake.Request) (*intake.Result, error)
	OpenFromSubmission(ctx context.Context, submissionID string, req lifecycle.OpenRequest) (*model.Case, error)
}

// Cases runs lifecycle operations.
type Cases interface {
	Config() lifecycle.Config
	Open(ctx context.Context, req lifecycle.OpenRequest) (*model.Case, error)
	Get(ctx context.Context, id string) (*model.Case, error)
	List(ctx context.Context, filter store.CaseFilter) ([]model.Case, error)
	RecordDocument(ctx context.Context, id string, upd lifecycle.DocumentUpdate) (*model.Case, error)
	RecordPayment(ctx context.Context, id string, upd lifecycle.PaymentUpdate) (*model.Case, error)
	MarkOverdue(ctx context.Context, id string, index int) (*model.Case, error)
	Submit(ctx context.Context, id string) (*model.Case, error)
	RecordDecision(ctx context.Context, id string, outcome model.Outcome) (*model.Case, error)
}

// Exporter builds export payloads.
type Exporter interface {
	Export(ctx context.Context, caseID string) (model.ExportPayload, error)
}

// Server holds the handler dependencies.
type Server struct {
	assessor Assessor
	cases    Cases
	exports  Exporter
	gatherer prometheus.Gatherer
	origins  []string
}

// Option configures a Server.
type Option func(*Server)

// WithAllowedOrigins sets the CORS origins. The default allows any origin.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithGatherer serves /metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// NewServer creates a Server.
func NewServer(assessor Assessor, cases Cases, exports Exporter, opts ...Option) *Server {
	s := &Server{
		assessor: assessor,
		cases:    cases,
		exports:  exports,
		gatherer: prometheus.DefaultGatherer,
		origins:  []string{"*"},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Get("/questionnaire", s.handleQuestionnaire)
		r.Post("/assessments", s.handleAssess)

		r.Route("/cases", func(r chi.Router) {
			r.Get("/", s.handleListCases)
			r.Post("/", s.handleOpenCase)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetCase)
				r.Post("/documents", s.handleRecordDocument)
				r.Post("/payments", s.handleRecordPayment)
				r.Post("/payments/{index}/overdue", s.handleMarkOverdue)
				r.Post("/submit", s.handleSubmit)
				r.Post("/decision", s.handleDecision)
				r.Get("/export", s.handleExport)
			})
		})
	})
	return r
}

// requestLogger logs one line per request through the global zap logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("api: request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
