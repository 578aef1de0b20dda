package binder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/tenant-context-service/internal/model"
	"github.com/teresa-solution/tenant-context-service/internal/monitoring"
)

const (
	DefaultIsolationSetting = "app.current_tenant"
	DefaultBypassSetting    = "app.rls_bypass"
	DefaultOverrideLimit    = 15 * time.Minute

	rollbackTimeout = 5 * time.Second
	bypassOn        = "on"
)

// DB starts transactions. *pgxpool.Pool satisfies it.
type DB interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Execer runs a statement inside a transaction.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Option func(*Binder)

// WithSettings names the session variables the row policies read.
func WithSettings(isolation, bypass string) Option {
	return func(b *Binder) {
		if isolation != "" {
			b.isolationKey = isolation
		}
		if bypass != "" {
			b.bypassKey = bypass
		}
	}
}

// WithOverrideLimit sets the maximum age of an override the binder honors.
func WithOverrideLimit(d time.Duration) Option {
	return func(b *Binder) {
		if d > 0 {
			b.overrideLimit = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Binder) {
		b.now = now
	}
}

// Binder runs database work inside a transaction whose isolation variables
// match the request context. The variables are transaction-local, so they
// never survive on a pooled connection.
type Binder struct {
	db            DB
	isolationKey  string
	bypassKey     string
	overrideLimit time.Duration
	now           func() time.Time
}

func NewBinder(db DB, opts ...Option) *Binder {
	b := &Binder{
		db:            db,
		isolationKey:  DefaultIsolationSetting,
		bypassKey:     DefaultBypassSetting,
		overrideLimit: DefaultOverrideLimit,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Settings returns the names of the isolation and bypass variables.
func (b *Binder) Settings() (isolation, bypass string) {
	return b.isolationKey, b.bypassKey
}

// WithScope runs fn in a transaction scoped to the tenant, session and
// override carried by ctx. The transaction is committed only if fn succeeds;
// errors, panics and cancellation roll it back.
func (b *Binder) WithScope(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := b.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin scoped transaction: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
		defer cancel()
		if err := tx.Rollback(rbCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			log.Error().Err(err).Msg("Failed to roll back scoped transaction")
		}
	}()

	mode, err := b.bind(ctx, tx)
	if err != nil {
		return err
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := b.ClearIsolationKey(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit scoped transaction: %w", err)
	}
	committed = true
	monitoring.IsolationScopes.WithLabelValues(mode).Inc()
	return nil
}

// bind sets the variables for ctx and returns the scope mode.
func (b *Binder) bind(ctx context.Context, tx Execer) (string, error) {
	if b.overrideValid(ctx) {
		if err := b.setKeys(ctx, tx, "", bypassOn); err != nil {
			return "", err
		}
		return "override", nil
	}

	if tc, ok := TenantFromContext(ctx); ok && tc.IsScoped() {
		id := tc.TenantID
		if err := b.SetIsolationKey(ctx, tx, &id); err != nil {
			return "", err
		}
		return "tenant", nil
	}
	if err := b.SetIsolationKey(ctx, tx, nil); err != nil {
		return "", err
	}
	return "unscoped", nil
}

// overrideValid re-checks the attached override instead of trusting whoever
// attached it.
func (b *Binder) overrideValid(ctx context.Context) bool {
	state := OverrideFromContext(ctx)
	if state == nil {
		return false
	}
	sess := SessionFromContext(ctx)
	if sess == nil || sess.Type() != model.ContextAdmin ||
		state.SessionID != sess.ID || state.AdminID != sess.ActorUserID {
		log.Warn().Str("session_id", state.SessionID.String()).Msg("Ignoring override not held by the current admin session")
		return false
	}
	if !state.ActiveAt(b.now(), b.overrideLimit) {
		log.Warn().
			Str("session_id", state.SessionID.String()).
			Time("activated_at", state.ActivatedAt).
			Msg("Ignoring expired override")
		return false
	}
	return true
}

// SetIsolationKey scopes the transaction to tenantID, or to no tenant when
// tenantID is nil. The bypass variable is always cleared.
func (b *Binder) SetIsolationKey(ctx context.Context, tx Execer, tenantID *uuid.UUID) error {
	value := ""
	if tenantID != nil && *tenantID != uuid.Nil {
		value = tenantID.String()
	}
	return b.setKeys(ctx, tx, value, "")
}

// ClearIsolationKey resets both variables for the rest of the transaction.
func (b *Binder) ClearIsolationKey(ctx context.Context, tx Execer) error {
	return b.setKeys(ctx, tx, "", "")
}

func (b *Binder) setKeys(ctx context.Context, tx Execer, tenant, bypass string) error {
	_, err := tx.Exec(ctx, "SELECT set_config($1, $2, true), set_config($3, $4, true)",
		b.isolationKey, tenant, b.bypassKey, bypass)
	if err != nil {
		return fmt.Errorf("failed to set isolation variables: %w", err)
	}
	return nil
}
