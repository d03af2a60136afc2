package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/guardrails-control-plane/backend/app"
	"github.com/upb/guardrails-control-plane/backend/auth"
	"github.com/upb/guardrails-control-plane/backend/handlers"
	"github.com/upb/guardrails-control-plane/backend/middleware"
	"github.com/upb/guardrails-control-plane/backend/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger, deps.Metrics))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(deps.Config.Server.RequestTimeout))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: deps.Config.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type", "If-Match",
			"X-API-Key", "X-Admin-Token", "X-Request-ID",
		},
		ExposedHeaders: []string{
			"ETag", "X-Request-ID", "Deprecation", "Warning",
			"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset",
		},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check and metrics endpoints
	r.Get("/healthz", deps.HealthHandler.HandleHealth)
	r.Get("/readyz", deps.HealthHandler.HandleReadiness)
	r.Handle("/metrics", deps.Metrics.Handler())

	authn := deps.AuthMiddleware
	platformAdmin := authn.RequireRole(auth.RolePlatformAdmin)
	admin := authn.RequireRole(auth.RolePlatformAdmin, auth.RoleTenantAdmin)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Post("/auth/token", handlers.AuthTokenHandler(deps))

		r.Group(func(r chi.Router) {
			r.Use(authn.RequireAuth)

			// Rule templates: read by anyone, written by platform admins
			r.Route("/rules", func(r chi.Router) {
				r.Get("/", deps.RuleHandler.HandleListTemplates)
				r.Get("/{ruleID}", deps.RuleHandler.HandleGetTemplate)
				r.With(platformAdmin).Post("/", deps.RuleHandler.HandleCreateTemplate)
				r.With(platformAdmin).Put("/{ruleID}", deps.RuleHandler.HandleUpdateTemplate)
				r.With(platformAdmin).Delete("/{ruleID}", deps.RuleHandler.HandleDeleteTemplate)
			})
			r.Get("/catalog/templates", deps.RuleHandler.HandleListTemplates)

			// Capability registry
			r.Route("/capabilities", func(r chi.Router) {
				r.Get("/", deps.CapabilityHandler.HandleListCapabilities)
				r.With(platformAdmin).Post("/", deps.CapabilityHandler.HandleCreateCapability)
			})

			// Audit ledger, tenant admins are scoped to their tenant by the handler
			r.With(admin).Get("/audit", deps.AuditHandler.HandleListAudit)
			r.With(admin).Get("/audit/entities/{entityID}", deps.AuditHandler.HandleEntityHistory)

			// Tenants
			r.Route("/tenants", func(r chi.Router) {
				r.Get("/", deps.TenantHandler.HandleListTenants)
				r.With(platformAdmin).Post("/", deps.TenantHandler.HandleCreateTenant)

				r.Route("/{tenantID}", func(r chi.Router) {
					// Safe methods need membership, the rest tenant admin
					r.Use(authn.RequireTenantAccess)

					r.Get("/", deps.TenantHandler.HandleGetTenant)
					r.With(platformAdmin).Delete("/", deps.TenantHandler.HandleDeleteTenant)

					r.Route("/apps", func(r chi.Router) {
						r.Get("/", deps.TenantHandler.HandleListApps)
						r.Post("/", deps.TenantHandler.HandleCreateApp)
						r.Patch("/{appID}", deps.TenantHandler.HandleUpdateApp)
						r.Post("/{appID}/rotate", deps.TenantHandler.HandleRotateAppKey)
						r.Post("/{appID}/revoke", deps.TenantHandler.HandleRevokeApp)
					})

					r.Route("/rules", func(r chi.Router) {
						r.Get("/", deps.RuleHandler.HandleListTenantRules)
						r.Post("/", deps.RuleHandler.HandleCreateTenantRule)
						r.Get("/{ruleID}", deps.RuleHandler.HandleGetTenantRule)
						r.Put("/{ruleID}", deps.RuleHandler.HandleUpdateTenantRule)
						r.Delete("/{ruleID}", deps.RuleHandler.HandleDeleteTenantRule)
					})

					r.Route("/policies", func(r chi.Router) {
						r.Get("/", deps.PolicyHandler.HandleListPolicies)
						r.Post("/", deps.PolicyHandler.HandleCreatePolicy)
						r.Get("/history", deps.PolicyHandler.HandleListPolicyHistory)

						r.Route("/{policyID}", func(r chi.Router) {
							r.Get("/", deps.PolicyHandler.HandleGetPolicy)
							r.Patch("/", deps.PolicyHandler.HandleUpdatePolicy)
							r.Delete("/", deps.PolicyHandler.HandleDeletePolicy)
							r.Post("/rules", deps.PolicyHandler.HandleAttachRule)
							r.Delete("/rules/{kind}/{ruleID}", deps.PolicyHandler.HandleDetachRule)
							r.Get("/history", deps.PolicyHandler.HandleGetPolicyHistory)
							r.With(deps.QuotaMiddleware.EnforceQuota).Get("/resolve", deps.ResolutionHandler.HandleResolve)
							r.Get("/versions/{version}/resolve", deps.ResolutionHandler.HandleReplay)
							r.Get("/capabilities", deps.CapabilityHandler.HandleDiscoverForPolicy)
						})
					})
				})
			})
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "Endpoint not found")
	})

	return r
}
