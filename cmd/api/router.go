package main

import (
	"crypto/subtle"
	"net/http"
	"net/http/pprof"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/qtybreak/internal/discount"
	"github.com/noah-isme/qtybreak/internal/health"
	"github.com/noah-isme/qtybreak/internal/obs"
	"github.com/noah-isme/qtybreak/internal/ratelimit"
	"github.com/noah-isme/qtybreak/internal/security"
)

type routerConfig struct {
	Logger      zerolog.Logger
	Discounts   *discount.Handler
	Health      health.Handler
	HTTPMetrics *obs.HTTPMetrics
	Metrics     bool
	Tracing     bool
	CORSOrigins []string
	Pprof       bool
	PprofUser   string
	PprofPass   string
	MaxBody     int64
	Headers     security.Headers
	QuoteLimit  ratelimit.Limiter
}

func newRouter(cfg routerConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if cfg.Tracing {
		r.Use(obs.TracingMiddleware)
	}
	if cfg.Metrics && cfg.HTTPMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: cfg.HTTPMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: cfg.Logger}.Middleware)
	r.Use(cfg.Headers.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg.CORSOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{obs.EvaluationIDHeader},
		MaxAge:         300,
	}))

	if cfg.Metrics {
		r.Handle("/metrics", promhttp.Handler())
	}
	if cfg.Pprof {
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), cfg.PprofUser, cfg.PprofPass))
	}

	r.Get("/health/live", cfg.Health.Live)
	r.Get("/health/ready", cfg.Health.Ready)

	quoteLimit := ratelimit.Handler{
		Limiter: cfg.QuoteLimit,
		OnError: func(err error) { cfg.Logger.Warn().Err(err).Msg("quote rate limiter unavailable") },
	}
	r.Route("/api/v1", func(v chi.Router) {
		v.Use(security.BodyLimit{Max: cfg.MaxBody}.Middleware)
		v.Post("/discounts/run", cfg.Discounts.Run)
		v.With(quoteLimit.Middleware).Post("/tiers/quote", cfg.Discounts.Quote)
	})
	return r
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// newPprofMux routes on the path below the mount point, so the named
// endpoints resolve under /debug/pprof.
func newPprofMux() http.Handler {
	r := chi.NewRouter()
	r.HandleFunc("/", pprof.Index)
	r.HandleFunc("/cmdline", pprof.Cmdline)
	r.HandleFunc("/profile", pprof.Profile)
	r.HandleFunc("/symbol", pprof.Symbol)
	r.HandleFunc("/trace", pprof.Trace)
	r.Handle("/{profile}", http.HandlerFunc(pprof.Index))
	return r
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
