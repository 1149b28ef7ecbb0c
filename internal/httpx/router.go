// internal/httpx/router.go
package httpx

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"librarium/internal/logging"
	"librarium/internal/metrics"
)

// RouterConfig configures the shared middleware stack.
type RouterConfig struct {
	CORSOrigins       []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// Mounter registers a handler's routes on a router.
type Mounter interface {
	Routes(r chi.Router)
}

// NewRouter builds the chi router with request ids, recovery, access logging,
// CORS and per-IP rate limiting, then mounts every handler.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewRouter(cfg RouterConfig, logger zerolog.Logger, handlers ...Mounter) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(accessLog(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         86400,
	}))
	if cfg.RateLimitRequests > 0 {
		r.Use(httprate.LimitByIP(cfg.RateLimitRequests, cfg.RateLimitWindow))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	for _, h := range handlers {
		h.Routes(r)
	}
	return r
}

//nolint:gocritic // zerolog.Logger is designed to be passed by value
func accessLog(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}
			metrics.ObserveHTTP(route, r.Method, ww.Status(), start)

			l := logging.Ctx(r.Context(), logger)
			l.Debug().
				Str("method", r.Method).
				Str("route", route).
				Int("status", ww.Status()).
				Dur("latency", time.Since(start)).
				Msg("request served")
		})
	}
}
