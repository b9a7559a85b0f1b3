package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Accounts     *AccountHandler
	Costs        *CostHandler
	Capabilities *CapabilityHandler
	Exports      *ExportHandler
}

// NewRouter builds the chi router with the standard middleware stack.
func NewRouter(h Handlers, corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Tenant-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.Accounts.List)
			r.Post("/", h.Accounts.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.Accounts.Get)
				r.Delete("/", h.Accounts.Delete)
				r.Post("/sync", h.Accounts.Sync)
				r.Get("/jobs", h.Accounts.Jobs)
				r.Get("/recommendations", h.Capabilities.Recommendations)
				r.Get("/resources", h.Capabilities.Resources)
				r.Post("/export", h.Exports.Archive)
			})
		})
		r.Get("/costs/summary", h.Costs.Summary)
	})

	return r
}
