package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/teresa-solution/tenant-context-service/internal/binder"
	"github.com/teresa-solution/tenant-context-service/internal/model"
	"github.com/teresa-solution/tenant-context-service/internal/session"
)

// Sessions is the part of the session manager the API drives.
type Sessions interface {
	binder.SessionResolver
	BeginImpersonation(ctx context.Context, adminSessionID, targetUserID, tenantID uuid.UUID, reason string) (*session.Issued, error)
	EndImpersonation(ctx context.Context, sessionID uuid.UUID) (*session.Issued, error)
	Invalidate(ctx context.Context, sessionID uuid.UUID) error
}

// Overrides is the part of the override controller the API drives.
type Overrides interface {
	binder.OverrideLookup
	Activate(ctx context.Context, sess *model.ContextSession, reason string) (*model.OverrideState, error)
	Deactivate(ctx context.Context, sess *model.ContextSession) error
	MaxDuration() time.Duration
}

// Lifecycle changes tenant availability.
type Lifecycle interface {
	SetStatus(ctx context.Context, id uuid.UUID, status string) (*model.Tenant, error)
	SetMaintenance(ctx context.Context, id uuid.UUID, on bool) (*model.Tenant, error)
}

// Scoper runs database work under the request's isolation scope.
type Scoper interface {
	WithScope(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
	Settings() (isolation, bypass string)
}

// API holds the dependencies needed by the REST handlers.
type API struct {
	resolver  binder.Resolver
	scoper    Scoper
	sessions  Sessions
	overrides Overrides
	lifecycle Lifecycle
}

func New(resolver binder.Resolver, scoper Scoper, sessions Sessions, overrides Overrides, lifecycle Lifecycle) *API {
	return &API{
		resolver:  resolver,
		scoper:    scoper,
		sessions:  sessions,
		overrides: overrides,
		lifecycle: lifecycle,
	}
}

// Router returns a chi.Router with all routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	r.Get("/health", a.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(binder.Middleware(a.resolver), binder.SessionMiddleware(a.sessions, a.overrides))

		r.With(binder.RequireTenant).Get("/v1/context", a.GetContext)

		r.Route("/v1/admin", func(r chi.Router) {
			r.With(binder.RequireSession(model.ContextAdmin)).Post("/impersonation", a.BeginImpersonation)
			r.With(binder.RequireSession(model.ContextImpersonatedTenant)).Delete("/impersonation", a.EndImpersonation)
			// Any session may ask; the controller audits refusals.
			r.With(binder.RequireSession()).Post("/override", a.ActivateOverride)
			r.With(binder.RequireSession(model.ContextAdmin)).Delete("/override", a.DeactivateOverride)
			r.With(binder.RequireSession(model.ContextAdmin)).Get("/override", a.GetOverride)

			r.Route("/tenants/{tenantID}", func(r chi.Router) {
				r.Use(binder.RequireSession(model.ContextAdmin))
				r.Put("/status", a.SetTenantStatus)
				r.Put("/maintenance", a.SetTenantMaintenance)
			})
		})

		r.With(binder.RequireSession()).Post("/v1/sessions/logout", a.Logout)
	})

	return r
}

func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	binder.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
