// Package httpapi exposes the analysis service over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/vetlab/bloodwork-analyzer/internal/analysis"
	"github.com/vetlab/bloodwork-analyzer/internal/domain"
	"github.com/vetlab/bloodwork-analyzer/internal/metrics"
	"github.com/vetlab/bloodwork-analyzer/internal/observability"
)

// Analyzer is the part of the analysis service the API depends on.
type Analyzer interface {
	Submit(ctx context.Context, upload domain.Upload, ownerRef string, principal domain.Principal) (*analysis.SubmitResult, error)
	GetResult(ctx context.Context, id string) (*analysis.ResultView, error)
	ListForOwner(ctx context.Context, ownerRef string, limit, offset int) ([]*domain.DiagnosticRecord, int, error)
	LatestForOwner(ctx context.Context, ownerRef string) (*domain.DiagnosticRecord, error)
}

// RouterConfig holds HTTP surface settings.
type RouterConfig struct {
	RequestTimeout time.Duration
	MaxUploadBytes int64
	ServiceName    string
}

// NewRouter creates the API router with all routes configured.
func NewRouter(logger *observability.Logger, svc Analyzer, m *metrics.Metrics, cfg RouterConfig) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "bloodwork-analyzer"
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(cfg.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": cfg.ServiceName})
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())

	h := &Handler{
		logger:         logger.WithComponent("httpapi"),
		svc:            svc,
		maxUploadBytes: cfg.MaxUploadBytes,
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(principalFromHeaders)

		r.Post("/pdf_analysis", h.SubmitAnalysis)
		r.Get("/pdf_analysis_result/{id}", h.GetAnalysisResult)

		r.Route("/patients/{patientId}/diagnostics", func(r chi.Router) {
			r.Get("/", h.ListDiagnostics)
			r.Get("/latest", h.LatestDiagnostic)
		})
	})

	return r
}

// requestLogger logs one line per request with the chi request id.
func requestLogger(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := chimiddleware.GetReqID(r.Context())
			ctx := observability.ContextWithRequestID(r.Context(), reqID)

			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			logger.WithContext(ctx).Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("HTTP request")
		})
	}
}
