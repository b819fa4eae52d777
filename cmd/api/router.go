package main

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/techdocs/turbo/internal/config"
	"github.com/techdocs/turbo/internal/file"
	appMiddleware "github.com/techdocs/turbo/internal/middleware"
	"github.com/techdocs/turbo/internal/todo"
)

func newRouter(cfg *config.Config, logger *slog.Logger, files *file.Handler, todos *todo.Handler, spec http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(appMiddleware.Logger(logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(appMiddleware.Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/api/spec.json", spec)
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	r.Route("/api/v1", func(r chi.Router) {
		// Stored files are linked from records, so they stay public.
		r.Get("/files/raw/{key}", files.Raw)

		r.Group(func(r chi.Router) {
			if cfg.AuthEnabled() {
				r.Use(appMiddleware.RequireAuth(cfg.JWTSecret))
			}
			r.Route("/files", files.Routes)
			r.Route("/todos", todos.Routes)
		})
	})
	return r
}
