package server

import (
	"net/http"
	"time"

	"github.com/fedutinova/retinascan/internal/config"
	httpapi "github.com/fedutinova/retinascan/internal/transport/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
)

func NewRouter(h *httpapi.Handlers) http.Handler {
	r := chi.NewRouter()

	// CORS must run before anything that can reject a preflight
	r.Use(cors.Handler(corsOptions(h.Config)))

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	if h.Config.RateLimitPerMinute > 0 {
		r.Use(httprate.Limit(
			h.Config.RateLimitPerMinute,
			time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByRealIP, httprate.KeyByEndpoint),
		))
	}

	h.Routers(r)
	return r
}

func corsOptions(cfg config.Config) cors.Options {
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	allowCreds := true
	for _, o := range origins {
		if o == "*" {
			allowCreds = false
		}
	}
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Request-Id"},
		AllowCredentials: allowCreds,
		MaxAge:           300,
	}
}
