package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/tenant-context-service/internal/model"
	"github.com/teresa-solution/tenant-context-service/internal/monitoring"
	"github.com/teresa-solution/tenant-context-service/internal/store"
)

const DefaultLifetime = 4 * time.Hour

// Store persists sessions by id. Delete reports whether the call removed the
// session, so a session can only be consumed once.
type Store interface {
	Create(ctx context.Context, session *model.ContextSession) error
	Get(ctx context.Context, id uuid.UUID) (*model.ContextSession, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
}

// Directory answers the identity questions sessions depend on.
type Directory interface {
	IsAdmin(ctx context.Context, userID uuid.UUID) (bool, error)
	UserBelongsToTenant(ctx context.Context, userID, tenantID uuid.UUID) (bool, error)
}

type Auditor interface {
	Record(rec model.AuditRecord)
}

// OverrideClearer drops any admin override attached to a session.
type OverrideClearer interface {
	Clear(ctx context.Context, sessionID uuid.UUID) error
}

// Issued is a freshly created session with its bearer token.
type Issued struct {
	Session *model.ContextSession `json:"session"`
	Token   string                `json:"token"`
}

type Option func(*Manager)

func WithLifetime(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.lifetime = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func WithOverrideClearer(c OverrideClearer) Option {
	return func(m *Manager) {
		m.overrides = c
	}
}

// Manager creates, resolves and transitions context sessions.
type Manager struct {
	store     Store
	dir       Directory
	auditor   Auditor
	tokens    *TokenCodec
	overrides OverrideClearer
	lifetime  time.Duration
	now       func() time.Time
}

func NewManager(st Store, dir Directory, auditor Auditor, tokens *TokenCodec, opts ...Option) *Manager {
	m := &Manager{
		store:    st,
		dir:      dir,
		auditor:  auditor,
		tokens:   tokens,
		lifetime: DefaultLifetime,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateAdminSession opens an Admin session for a verified administrator.
func (m *Manager) CreateAdminSession(ctx context.Context, adminUserID uuid.UUID) (*Issued, error) {
	if err := m.requireAdmin(ctx, adminUserID); err != nil {
		return nil, err
	}
	return m.issue(ctx, adminUserID, model.AdminContext{}, nil)
}

// CreateTenantSession opens a Tenant session for a member of tenantID.
func (m *Manager) CreateTenantSession(ctx context.Context, userID, tenantID uuid.UUID) (*Issued, error) {
	sc, err := model.NewTenantUserContext(tenantID)
	if err != nil {
		return nil, err
	}
	if err := m.requireMember(ctx, userID, tenantID); err != nil {
		return nil, err
	}
	return m.issue(ctx, userID, sc, nil)
}

// BeginImpersonation consumes the admin session and returns a session acting
// as targetUserID inside tenantID.
func (m *Manager) BeginImpersonation(ctx context.Context, adminSessionID, targetUserID, tenantID uuid.UUID, reason string) (*Issued, error) {
	admin, err := m.live(ctx, adminSessionID)
	if err != nil {
		return nil, err
	}
	if admin.Type() != model.ContextAdmin {
		return nil, ErrNotAdminSession
	}
	if err := m.requireAdmin(ctx, admin.ActorUserID); err != nil {
		return nil, err
	}
	if err := m.requireMember(ctx, targetUserID, tenantID); err != nil {
		return nil, err
	}
	sc, err := model.NewImpersonatedContext(tenantID, admin.ActorUserID)
	if err != nil {
		return nil, err
	}

	startedAt := m.now().UTC()
	metadata := map[string]string{"impersonation_started_at": startedAt.Format(time.RFC3339)}
	if reason != "" {
		metadata["reason"] = reason
	}
	issued, err := m.issue(ctx, targetUserID, sc, metadata)
	if err != nil {
		log.Error().Err(err).
			Str("admin_session_id", admin.ID.String()).
			Str("tenant_id", tenantID.String()).
			Msg("Failed to start impersonation, admin session kept")
		return nil, err
	}

	// The admin session is consumed only once the new session exists. A lost
	// race discards the new session.
	if err := m.consume(ctx, admin.ID); err != nil {
		_, _ = m.store.Delete(ctx, issued.Session.ID)
		return nil, err
	}
	m.clearOverride(ctx, admin.ID)

	m.auditor.Record(model.AuditRecord{
		ActorID:        admin.ActorUserID,
		ActedAsID:      &targetUserID,
		EventType:      model.EventImpersonationStarted,
		TargetTenantID: &tenantID,
		SessionID:      &issued.Session.ID,
		Severity:       model.SeverityWarning,
		Reason:         reason,
		Timestamp:      startedAt,
		Metadata:       map[string]string{"admin_session_id": admin.ID.String()},
	})
	monitoring.Impersonations.WithLabelValues("started").Inc()
	return issued, nil
}

// EndImpersonation consumes an impersonation session and returns a new Admin
// session for the administrator who started it.
func (m *Manager) EndImpersonation(ctx context.Context, sessionID uuid.UUID) (*Issued, error) {
	imp, err := m.live(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ic, ok := imp.Context.(model.ImpersonatedContext)
	if !ok {
		return nil, ErrNotImpersonating
	}

	if err := m.consume(ctx, imp.ID); err != nil {
		return nil, err
	}
	m.clearOverride(ctx, imp.ID)

	m.recordEnded(imp, ic, imp.Metadata["reason"])

	// Admin rights revoked during the impersonation are not restored.
	if err := m.requireAdmin(ctx, ic.OriginalUserID()); err != nil {
		return nil, err
	}
	return m.issue(ctx, ic.OriginalUserID(), model.AdminContext{}, nil)
}

// Resolve returns the live session named by token.
func (m *Manager) Resolve(ctx context.Context, token string) (*model.ContextSession, error) {
	id, err := m.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	return m.live(ctx, id)
}

// Get returns the live session with the given id.
func (m *Manager) Get(ctx context.Context, sessionID uuid.UUID) (*model.ContextSession, error) {
	return m.live(ctx, sessionID)
}

// Invalidate deletes a session and any override attached to it. Logging out
// of an impersonation ends it and is audited like EndImpersonation.
func (m *Manager) Invalidate(ctx context.Context, sessionID uuid.UUID) error {
	sess, err := m.store.Get(ctx, sessionID)
	if err != nil && !errors.Is(err, store.ErrCorruptSession) {
		return fmt.Errorf("failed to load session: %w", err)
	}
	deleted, err := m.store.Delete(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	m.clearOverride(ctx, sessionID)

	if deleted && sess != nil {
		if ic, ok := sess.Context.(model.ImpersonatedContext); ok {
			m.recordEnded(sess, ic, "logout")
		}
	}
	return nil
}

func (m *Manager) recordEnded(imp *model.ContextSession, ic model.ImpersonatedContext, reason string) {
	tenantID := ic.TenantID()
	metadata := map[string]string{"impersonation_started_at": imp.Metadata["impersonation_started_at"]}
	if r := imp.Metadata["reason"]; r != "" && r != reason {
		metadata["impersonation_reason"] = r
	}
	m.auditor.Record(model.AuditRecord{
		ActorID:        ic.OriginalUserID(),
		ActedAsID:      &imp.ActorUserID,
		EventType:      model.EventImpersonationEnded,
		TargetTenantID: &tenantID,
		SessionID:      &imp.ID,
		Severity:       model.SeverityInfo,
		Reason:         reason,
		Metadata:       metadata,
	})
	monitoring.Impersonations.WithLabelValues("ended").Inc()
}

func (m *Manager) issue(ctx context.Context, actor uuid.UUID, sc model.SessionContext, metadata map[string]string) (*Issued, error) {
	now := m.now().UTC()
	session := &model.ContextSession{
		ID:          uuid.New(),
		ActorUserID: actor,
		Context:     sc,
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.lifetime),
		Metadata:    metadata,
	}
	if err := m.store.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	token, err := m.tokens.Issue(session.ID, session.ExpiresAt)
	if err != nil {
		_, _ = m.store.Delete(ctx, session.ID)
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	monitoring.ContextSessions.WithLabelValues(string(sc.Type())).Inc()
	log.Info().
		Str("session_id", session.ID.String()).
		Str("actor_id", actor.String()).
		Str("context_type", string(sc.Type())).
		Msg("Context session created")
	return &Issued{Session: session, Token: token}, nil
}

func (m *Manager) live(ctx context.Context, id uuid.UUID) (*model.ContextSession, error) {
	session, err := m.store.Get(ctx, id)
	if errors.Is(err, store.ErrCorruptSession) {
		monitoring.SecurityAlert("corrupt session record", map[string]string{"session_id": id.String()})
		return nil, ErrInvalidSession
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session == nil {
		return nil, ErrInvalidSession
	}
	if session.IsExpired(m.now()) {
		return nil, ErrExpiredSession
	}
	return session, nil
}

// consume deletes a session, failing if another caller already did.
func (m *Manager) consume(ctx context.Context, id uuid.UUID) error {
	deleted, err := m.store.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if !deleted {
		return ErrInvalidSession
	}
	return nil
}

func (m *Manager) clearOverride(ctx context.Context, sessionID uuid.UUID) {
	if m.overrides == nil {
		return
	}
	if err := m.overrides.Clear(ctx, sessionID); err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Failed to clear admin override")
	}
}

func (m *Manager) requireAdmin(ctx context.Context, userID uuid.UUID) error {
	ok, err := m.dir.IsAdmin(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to check admin status: %w", err)
	}
	if !ok {
		return ErrNotAdmin
	}
	return nil
}

func (m *Manager) requireMember(ctx context.Context, userID, tenantID uuid.UUID) error {
	ok, err := m.dir.UserBelongsToTenant(ctx, userID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to check tenant membership: %w", err)
	}
	if !ok {
		return ErrNotTenantMember
	}
	return nil
}
