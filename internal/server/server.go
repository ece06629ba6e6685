// Package server exposes analysis, presence runs and health over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/queryarc/queryarc-api/internal/metrics"
	"github.com/queryarc/queryarc-api/internal/model"
	"github.com/queryarc/queryarc-api/internal/presence"
	"github.com/queryarc/queryarc-api/internal/store"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Analyzer runs a single-page analysis.
type Analyzer interface {
	Analyze(ctx context.Context, url string) (model.Report, error)
}

// Runner executes and cancels presence runs.
type Runner interface {
	Execute(ctx context.Context, req presence.Request) (*presence.Result, error)
	Cancel(ctx context.Context, runID string) error
}

// Deps are the collaborators behind the routes.
type Deps struct {
	Store    store.Store
	Analyzer Analyzer
	Runner   Runner
	Metrics  *metrics.Metrics
	Origins  []string
}

// Server holds the route handlers.
type Server struct {
	store    store.Store
	analyzer Analyzer
	runner   Runner
	metrics  *metrics.Metrics
	origins  []string
	now      func() time.Time
}

// New creates a Server.
func New(d Deps) *Server {
	return &Server{
		store:    d.Store,
		analyzer: d.Analyzer,
		runner:   d.Runner,
		metrics:  d.Metrics,
		origins:  d.Origins,
		now:      time.Now,
	}
}

// Handler builds the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS", "HEAD"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           600,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/db-health", s.handleDBHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Post("/analyze", s.handleAnalyze)
	r.Post("/api/tools/llm-seo/analyze", s.handleAnalyze)
	r.Post("/api/tools/arc-rank-checker/analyze", s.handleAnalyze)

	r.Post("/run", s.handleRun)
	r.Route("/api/tools/ai-answer-presence", func(r chi.Router) {
		r.Post("/run", s.handleRun)
		r.Get("/contract", s.handleContract)
		r.Post("/test-contract", s.handleTestContract)
	})

	r.Get("/runs", s.handleListRuns)
	r.Get("/runs/summary", s.handleRunSummary)
	r.Get("/runs/{id}", s.handleGetRun)
	r.Get("/runs/{id}/items", s.handleRunItems)
	r.Post("/runs/{id}/cancel", s.handleCancelRun)

	r.Get("/project/{id}/latest-preview", s.handleLatestPreview)

	return otelhttp.NewHandler(r, "queryarc")
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
