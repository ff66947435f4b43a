package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"tunnel-billing/internal/metrics"
)

type RouterOptions struct {
	SessionSecret  string
	RequestTimeout time.Duration
	Metrics        *metrics.Metrics
	Logger         logrus.FieldLogger
}

// NewRouter wires the public routes. Everything except /health and /metrics
// requires a bearer session token.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(opts.Logger, opts.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(opts.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(SessionAuth(opts.SessionSecret))

		r.Route("/tunnels", func(r chi.Router) {
			r.Get("/", h.ListTunnels)
			r.Post("/", h.CreateTunnel)
			r.Patch("/{id}", h.UpdateTunnel)
		})

		r.Route("/users", func(r chi.Router) {
			r.Post("/assign-plan", h.AssignPlan)
			r.Get("/profile", h.Profile)
		})
	})

	return r
}
