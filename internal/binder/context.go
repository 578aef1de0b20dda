package binder

import (
	"context"

	"github.com/teresa-solution/tenant-context-service/internal/model"
)

type ctxKey int

const (
	tenantKey ctxKey = iota
	sessionKey
	overrideKey
)

// WithTenant attaches the resolved tenant context.
func WithTenant(ctx context.Context, tc model.TenantContext) context.Context {
	return context.WithValue(ctx, tenantKey, tc)
}

// TenantFromContext returns the tenant context attached by the middleware.
func TenantFromContext(ctx context.Context) (model.TenantContext, bool) {
	tc, ok := ctx.Value(tenantKey).(model.TenantContext)
	return tc, ok
}

func WithSession(ctx context.Context, sess *model.ContextSession) context.Context {
	return context.WithValue(ctx, sessionKey, sess)
}

func SessionFromContext(ctx context.Context) *model.ContextSession {
	sess, _ := ctx.Value(sessionKey).(*model.ContextSession)
	return sess
}

func WithOverride(ctx context.Context, state *model.OverrideState) context.Context {
	return context.WithValue(ctx, overrideKey, state)
}

func OverrideFromContext(ctx context.Context) *model.OverrideState {
	state, _ := ctx.Value(overrideKey).(*model.OverrideState)
	return state
}
