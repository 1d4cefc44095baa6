package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"verifyflow/pkg/platform/middleware/metadata"
	"verifyflow/pkg/platform/middleware/ratelimit"
	"verifyflow/pkg/platform/middleware/requesttime"
)

type routerConfig struct {
	limiter *ratelimit.Window
}

// RouterOption configures NewRouter.
type RouterOption func(*routerConfig)

// WithRateLimit throttles the API and verify routes per client IP.
func WithRateLimit(w *ratelimit.Window) RouterOption {
	return func(c *routerConfig) {
		c.limiter = w
	}
}

// NewRouter builds the backend router. A nil gatherer leaves /metrics
// unmounted.
func NewRouter(h *Handler, logger *slog.Logger, gatherer prometheus.Gatherer, opts ...RouterOption) http.Handler {
	cfg := &routerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(metadata.RequestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	r.Group(func(r chi.Router) {
		r.Use(ratelimit.Middleware(cfg.limiter, logger))
		h.Register(r)
	})
	return r
}
