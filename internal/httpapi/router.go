// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/labtools/asyncsession/internal/middleware"
	"github.com/labtools/asyncsession/internal/observation"
	"github.com/labtools/asyncsession/internal/websocket"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config configures the router (spec §4.6, SPEC_FULL A.3 HTTPSurfaceConfig).
type Config struct {
	SessionTitle       string
	StaticDir          string
	CORSAllowedOrigins []string
	RateLimitPerMinute int
}

// NewRouter builds the chi.Mux serving every route in spec §4.6 plus the
// ambient observability endpoints SPEC_FULL adds (/metrics, /swagger/*,
// /ws), grounded on the teacher's chi_router.go route-group pattern.
func NewRouter(obs *observation.API, hub *websocket.Hub, cfg Config) http.Handler {
	h := &handlers{obs: obs, hub: hub, title: cfg.SessionTitle}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(asChiMiddleware(middleware.RequestID))
	r.Use(asChiMiddleware(middleware.PrometheusMetrics))
	r.Use(asChiMiddleware(middleware.Compression))
	r.Use(corsHandler(cfg.CORSAllowedOrigins))

	rateLimit := rateLimiter(cfg.RateLimitPerMinute)

	r.Get("/", h.index)
	r.Get("/plot/{name}", h.plot)

	r.Route("/api", func(api chi.Router) {
		api.Use(rateLimit)
		api.Get("/logged_last_values", h.loggedLastValues)
		api.Get("/get_parameters", h.getParameters)
		api.Post("/data_from_ts", h.dataFromTS)
		api.Get("/server_current_ts", h.serverCurrentTS)
	})

	r.Get("/ws", h.serveWS)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/swagger/*", httpSwagger.WrapHandler)

	staticDir := cfg.StaticDir
	if staticDir == "" {
		staticDir = "./web/static"
	}
	fileServer := http.FileServer(http.Dir(staticDir))
	r.Handle("/static/*", http.StripPrefix("/static/", fileServer))

	return r
}

// asChiMiddleware adapts a teacher-style func(http.HandlerFunc)
// http.HandlerFunc middleware (internal/middleware's signature) into chi's
// func(http.Handler) http.Handler shape.
func asChiMiddleware(mw func(http.HandlerFunc) http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return mw(next.ServeHTTP)
	}
}

func corsHandler(allowedOrigins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
		MaxAge:           86400,
	})
}

func rateLimiter(requestsPerMinute int) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
	)
}
