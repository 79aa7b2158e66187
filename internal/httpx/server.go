package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ariefcatur/storefront-orders/internal/logger"
	"github.com/ariefcatur/storefront-orders/internal/metrics"
)

type RouterOptions struct {
	Logger  *logger.Logger
	Metrics *metrics.Metrics
	// Gatherer backs /metrics; nil leaves the route out.
	Gatherer prometheus.Gatherer
	Timeout  time.Duration
	// Ready is probed by /readyz, e.g. a database ping.
	Ready func(ctx context.Context) error
}

func NewRouter(opts RouterOptions) *chi.Mux {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP)
	r.Use(Tracing, AccessLog(opts.Logger, opts.Metrics), middleware.Recoverer)
	r.Use(middleware.Timeout(opts.Timeout))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if opts.Ready != nil {
			if err := opts.Ready(r.Context()); err != nil {
				opts.Logger.Warn(r.Context(), "readiness probe failed", err)
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}
