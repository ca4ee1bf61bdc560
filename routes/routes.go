package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/deal-guardrails/app"
	"github.com/upb/deal-guardrails/handlers"
	"github.com/upb/deal-guardrails/middleware"
	"github.com/upb/deal-guardrails/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.ActorHeader},
		ExposedHeaders:   []string{"Content-Disposition", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	health := handlers.NewHealthHandler(deps.DB, deps.PolicyService, deps.Logger)
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	policies := handlers.NewPolicyHandler(deps.PolicyService, deps.Config.Policy.LegacyPolicyPath, deps.Logger)
	guardrails := handlers.NewGuardrailHandler(deps.PolicyService, deps.Logger)
	templates := handlers.NewTemplateHandler(deps.PolicyService, deps.Logger)

	// mutate guards routes that change stored state
	mutate := func(next http.Handler) http.Handler { return next }
	if deps.AuthMiddleware != nil && deps.Config.Auth.AdminRole != "" {
		mutate = deps.AuthMiddleware.RequireRole(deps.Config.Auth.AdminRole)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if deps.AuthMiddleware != nil {
			r.Use(deps.AuthMiddleware.RequireAuth)
		} else {
			r.Use(middleware.HeaderActor)
		}

		r.Post("/deals/evaluate", guardrails.HandleEvaluateDeal)
		r.Get("/cache/stats", guardrails.HandleCacheStats)
		r.Get("/simulations/{id}", guardrails.HandleGetSimulation)

		r.Route("/policies", func(r chi.Router) {
			r.Get("/", policies.HandleListPolicies)
			r.Post("/dry-validate", policies.HandleDryValidate)

			r.Group(func(r chi.Router) {
				r.Use(mutate)
				r.Post("/", policies.HandleCreatePolicy)
				r.Post("/migrate-legacy", policies.HandleMigrateLegacy)
			})

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", policies.HandleGetPolicy)
				r.Get("/versions", policies.HandleListVersions)
				r.Get("/versions/{version}", policies.HandleGetVersion)
				r.Get("/validations", policies.HandleListValidations)
				r.Get("/changes", policies.HandleListChangeLog)
				r.Get("/conflicts", policies.HandleListConflicts)
				r.Get("/simulations", guardrails.HandleListSimulations)
				r.Get("/export", policies.HandleExportPolicy)
				r.Post("/simulate", guardrails.HandleSimulatePolicy)

				r.Group(func(r chi.Router) {
					r.Use(mutate)
					r.Put("/", policies.HandleUpdatePolicy)
					r.Patch("/", policies.HandleUpdatePolicy)
					r.Delete("/", policies.HandleDeletePolicy)
					r.Post("/activate", policies.HandleActivatePolicy)
					r.Post("/deactivate", policies.HandleDeactivatePolicy)
					r.Post("/rollback", policies.HandleRollbackPolicy)
					r.Post("/validate", policies.HandleValidatePolicy)
					r.Post("/clone", policies.HandleClonePolicy)
				})
			})
		})

		r.With(mutate).Post("/conflicts/{id}/resolve", policies.HandleResolveConflict)

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", templates.HandleListTemplates)
			r.Get("/{id}", templates.HandleGetTemplate)

			r.Group(func(r chi.Router) {
				r.Use(mutate)
				r.Post("/", templates.HandleCreateTemplate)
				r.Post("/{id}/policies", templates.HandleCreateFromTemplate)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})

	return r
}
