// Package api wires the trending engine's read surface: Top-K lookups, a
// websocket change feed, and health/metrics endpoints. Grounded on
// api.NewServer/router.go's mux-plus-middleware composition, replaced with
// go-chi/chi/v5 (routing), go-chi/cors (CORS), and go-chi/httprate (rate
// limiting) -- middleware concerns the teacher's hand-rolled ServeMux
// leaves entirely unaddressed.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nrgchamp/trending/internal/broadcast"
	"github.com/nrgchamp/trending/internal/engine"
	"github.com/nrgchamp/trending/internal/metrics"
)

// HealthState tracks process readiness, grounded on httpserver.HealthState.
type HealthState struct {
	ready bool
}

// NewHealthState constructs a HealthState, not ready until SetReady(true).
func NewHealthState() *HealthState { return &HealthState{} }

// SetReady flips the readiness flag.
func (h *HealthState) SetReady(v bool) { h.ready = v }

// Ready reports the current readiness flag.
func (h *HealthState) Ready() bool { return h.ready }

// Config bundles the dependencies the router needs to serve requests.
type Config struct {
	Engine      *engine.Engine
	Broadcaster *broadcast.ChangeBroadcaster
	Metrics     *metrics.Metrics
	Health      *HealthState
	Logger      *slog.Logger
	// RateLimitPerMinute bounds requests per client IP on the read API.
	RateLimitPerMinute int
}

// NewRouter builds the chi router exposing the trending engine's HTTP
// surface: GET /api/v1/topk, GET /api/v1/stream (websocket), GET /healthz,
// GET /readyz, GET /metrics.
func NewRouter(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 600
	}

	h := &handlers{engine: cfg.Engine, broadcaster: cfg.Broadcaster, log: cfg.Logger}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(cfg.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Get("/healthz", h.healthz)
	r.Get("/readyz", readyz(cfg.Health))
	r.Handle("/metrics", promhttp.HandlerFor(cfg.Metrics.Registry, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(cfg.RateLimitPerMinute, time.Minute))
		r.Get("/api/v1/topk", h.getTopK)
		r.Get("/api/v1/stream", h.stream)
	})

	return r
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("http_request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.String("duration", time.Since(start).String()),
			)
		})
	}
}
