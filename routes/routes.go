package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/opshub/exception-plane/app"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/healthz", deps.HealthHandler.HandleHealth)
	r.Get("/readyz", deps.HealthHandler.HandleReadiness)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Exception intake, read surface and playbook execution
		r.Route("/exceptions", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Use(deps.AuthMiddleware.ExtractTenant)
			r.Post("/", deps.ExceptionHandler.HandleCreateException)
			r.Get("/{exceptionID}", deps.ExceptionHandler.HandleGetException)
			r.Get("/{exceptionID}/events", deps.ExceptionHandler.HandleGetTimeline)
			r.Patch("/{exceptionID}/status", deps.ExceptionHandler.HandleUpdateStatus)

			// Playbook execution state machine
			r.Post("/{exceptionID}/playbooks/{playbookID}/start", deps.ExecutionHandler.HandleStartPlaybook)
			r.Post("/{exceptionID}/playbooks/{playbookID}/steps/{stepOrder}/complete", deps.ExecutionHandler.HandleCompleteStep)
			r.Post("/{exceptionID}/playbooks/{playbookID}/steps/{stepOrder}/skip", deps.ExecutionHandler.HandleSkipStep)
		})

		// Playbook definitions
		r.Route("/playbooks", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Use(deps.AuthMiddleware.ExtractTenant)
			r.Post("/", deps.PlaybookHandler.HandleCreatePlaybook)
			r.Get("/", deps.PlaybookHandler.HandleListPlaybooks)
			r.Get("/{playbookID}", deps.PlaybookHandler.HandleGetPlaybook)
			r.Put("/{playbookID}/steps/order", deps.PlaybookHandler.HandleReorderSteps)
		})

		// Dead-lettered deliveries
		r.Route("/deadletters", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Use(deps.AuthMiddleware.ExtractTenant)
			r.Get("/", deps.DeadLetterHandler.HandleListDeadLetters)
		})

		// Tenant management
		r.Route("/tenants", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Post("/", deps.TenantHandler.HandleCreateTenant)
			r.Get("/{tenantID}/sla-threshold", deps.TenantHandler.HandleGetSLAThreshold)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
