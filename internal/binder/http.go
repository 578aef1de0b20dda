package binder

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/tenant-context-service/internal/model"
	"github.com/teresa-solution/tenant-context-service/internal/session"
)

// TenantHeader is an optional client hint. It is only ever checked against
// the resolved tenant and never selects one.
const TenantHeader = "X-Tenant-ID"

type Resolver interface {
	Resolve(ctx context.Context, host, path string) (model.TenantContext, error)
}

type SessionResolver interface {
	Resolve(ctx context.Context, token string) (*model.ContextSession, error)
}

type OverrideLookup interface {
	State(ctx context.Context, sessionID uuid.UUID) (*model.OverrideState, error)
}

// Middleware resolves the request host to a tenant context.
func Middleware(res Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tc, err := res.Resolve(r.Context(), r.Host, r.URL.Path)
			if err != nil {
				WriteError(w, err)
				return
			}
			if err := checkHint(tc, r.Header.Get(TenantHeader)); err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), tc)))
		})
	}
}

// RequireTenant rejects requests without a resolved tenant.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tc, ok := TenantFromContext(r.Context()); !ok || !tc.IsScoped() {
			WriteError(w, ErrTenantRequired)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SessionMiddleware attaches the session named by a bearer token, if any.
func SessionMiddleware(sessions SessionResolver, overrides OverrideLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r.Header.Get("Authorization"))
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx, err := attachSession(r.Context(), token, sessions, overrides)
			if err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSession rejects requests without a session of one of kinds. With no
// kinds any session is accepted.
func RequireSession(kinds ...model.ContextType) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := checkSessionKind(SessionFromContext(r.Context()), kinds); err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func checkHint(tc model.TenantContext, hint string) error {
	hint = strings.TrimSpace(hint)
	if hint == "" || !tc.IsScoped() {
		return nil
	}
	id, err := uuid.Parse(hint)
	if err != nil || id != tc.TenantID {
		return ErrTenantMismatch
	}
	return nil
}

func attachSession(ctx context.Context, token string, sessions SessionResolver, overrides OverrideLookup) (context.Context, error) {
	sess, err := sessions.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}

	if tenantID, ok := sess.TenantID(); ok {
		if tc, found := TenantFromContext(ctx); found && tc.IsScoped() && tc.TenantID != tenantID {
			log.Warn().
				Str("session_id", sess.ID.String()).
				Str("tenant_id", tc.TenantID.String()).
				Msg("Session used against another tenant")
			return nil, ErrTenantMismatch
		}
	}

	ctx = WithSession(ctx, sess)
	if sess.Type() == model.ContextAdmin && overrides != nil {
		state, err := overrides.State(ctx, sess.ID)
		if err != nil {
			log.Error().Err(err).Str("session_id", sess.ID.String()).Msg("Failed to load override state")
		} else if state != nil {
			ctx = WithOverride(ctx, state)
		}
	}
	return ctx, nil
}

func checkSessionKind(sess *model.ContextSession, kinds []model.ContextType) error {
	if sess == nil {
		return session.ErrInvalidSession
	}
	if len(kinds) == 0 {
		return nil
	}
	for _, k := range kinds {
		if sess.Type() == k {
			return nil
		}
	}
	if len(kinds) == 1 {
		switch kinds[0] {
		case model.ContextAdmin:
			return session.ErrNotAdminSession
		case model.ContextImpersonatedTenant:
			return session.ErrNotImpersonating
		}
	}
	return ErrSessionKind
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
