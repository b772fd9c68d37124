// Package api exposes the return pipeline over HTTP. It is a thin adapter:
// every handler decodes a plain JSON body, calls one pipeline operation and
// encodes the result.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/taxprep/internal/export"
	"github.com/sells-group/taxprep/internal/model"
	"github.com/sells-group/taxprep/internal/money"
	"github.com/sells-group/taxprep/internal/pipeline"
	"github.com/sells-group/taxprep/internal/rules"
)

// Service is the subset of the pipeline the API calls.
type Service interface {
	CreateReturn(ctx context.Context, profile model.TaxpayerProfile) (*model.TaxReturn, error)
	Status(ctx context.Context, returnID string) (*pipeline.ReturnStatus, error)
	AddDocument(ctx context.Context, doc model.Document) (*model.Document, error)
	Run(ctx context.Context, returnID string) (*pipeline.RunResult, error)
	GetConfirmationView(ctx context.Context, returnID string) (*model.ConfirmationView, error)
	SubmitConfirmation(ctx context.Context, returnID string, confirmed []string, edits []model.Edit) (*model.GateOutcome, error)
	ApplyOverride(ctx context.Context, returnID, field string, value money.Amount, reason string) (*model.GateOutcome, error)
	ClearOverride(ctx context.Context, returnID, field string) (*model.GateOutcome, error)
	GetComputation(ctx context.Context, returnID string) (*model.Computation, error)
	Finalize(ctx context.Context, returnID string) (*model.Computation, error)
	Export(ctx context.Context, returnID string) (*export.Result, error)
	RuleHistory(ctx context.Context, returnID string, latest bool, f rules.Filter) ([]model.RuleResult, error)
}

// Options configures the router.
type Options struct {
	AllowedOrigins []string
	// RatePerSecond limits requests across the whole server; 0 disables it.
	RatePerSecond float64
	RateBurst     int
	// MaxBodyBytes caps request bodies. Default 10 MiB.
	MaxBodyBytes int64
}

// Server holds the handlers' dependencies.
type Server struct {
	svc  Service
	opts Options
}

// NewRouter builds the HTTP handler.
func NewRouter(svc Service, opts Options) http.Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 10 << 20
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	s := &Server{svc: svc, opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		if opts.RatePerSecond > 0 {
			r.Use(rateLimit(rate.NewLimiter(rate.Limit(opts.RatePerSecond), max(opts.RateBurst, 1))))
		}
		r.Use(middleware.RequestSize(opts.MaxBodyBytes))

		r.Post("/returns", s.createReturn)
		r.Route("/returns/{id}", func(r chi.Router) {
			r.Get("/", s.getReturn)
			r.Post("/documents", s.addDocument)
			r.Post("/run", s.run)
			r.Get("/confirmation", s.getConfirmation)
			r.Post("/confirmation", s.submitConfirmation)
			r.Post("/overrides", s.applyOverride)
			r.Delete("/overrides/{field}", s.clearOverride)
			r.Get("/computation", s.getComputation)
			r.Get("/export", s.exportReturn)
			r.Get("/rules", s.ruleHistory)
		})
	})
	return r
}

// rateLimit rejects requests once the shared limiter runs dry.
func rateLimit(l *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow() {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}
