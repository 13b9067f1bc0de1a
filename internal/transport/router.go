package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/licensahq/stageact/internal/config"
	"github.com/licensahq/stageact/internal/engine"
	"github.com/licensahq/stageact/internal/observability"
	"github.com/licensahq/stageact/internal/template"
)

// Dependencies holds all injected dependencies for the HTTP transport
// layer.
type Dependencies struct {
	Config       *config.Config
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	Authenticate func(http.Handler) http.Handler

	Store      engine.Store
	Dispatcher *engine.Dispatcher
	AuditLog   *engine.AuditLog
	Retrier    *engine.Retrier
	TestRunner *engine.TestRunner
	Templates  *template.Registry

	Readiness observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the full middleware pipeline and
// all route registrations. Health, readiness, and metrics endpoints
// bypass authentication.
func NewRouter(deps Dependencies) chi.Router {
	r := chi.NewRouter()

	r.Use(Recovery(deps.Logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(observability.TracingMiddleware)

	// Public routes.
	r.Get("/healthz", observability.HandleHealth())
	r.Get("/readyz", observability.HandleReady(deps.Readiness))
	if deps.Config.Observability.Metrics.Enabled {
		r.Method(http.MethodGet, deps.Config.Observability.Metrics.Path, observability.Handler())
	}

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildActor(deps.Config.Identity.ClaimPaths))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(deps.Logger))
		r.Use(deps.Metrics.MetricsMiddleware)

		r.Get("/entities/{entityUUID}", handleEntityGet(deps.Store))
		r.Post("/entities/{entityUUID}/transition", handleDispatch(deps.Dispatcher))

		r.Post("/actions/test", handleTestAction(deps.TestRunner))

		r.Get("/templates", handleTemplateList(deps.Templates))
		r.Get("/templates/{templateName}", handleTemplateGet(deps.Templates))

		r.Route("/audit", func(r chi.Router) {
			r.Get("/", handleAuditList(deps.AuditLog))
			r.Get("/stats", handleAuditStats(deps.AuditLog))
			r.Post("/cleanup", handleAuditCleanup(deps.AuditLog, deps.Config.Retention.AuditDays))
			r.Get("/{auditID}", handleAuditGet(deps.AuditLog))
			r.Delete("/{auditID}", handleAuditDelete(deps.AuditLog))
		})

		r.Route("/failed-actions", func(r chi.Router) {
			r.Get("/", handleFailureList(deps.Retrier))
			r.Get("/stats", handleFailureStats(deps.Retrier))
			r.Post("/cleanup", handleFailureCleanup(deps.Retrier, deps.Config.Retention.ResolvedDays))
			r.Get("/{failureID}", handleFailureGet(deps.Retrier))
			r.Post("/{failureID}/retry", handleFailureRetry(deps.Retrier))
			r.Post("/{failureID}/resolve", handleFailureResolve(deps.Retrier))
			r.Delete("/{failureID}", handleFailureDelete(deps.Retrier))
		})
	})

	return r
}
