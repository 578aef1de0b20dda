package override

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/tenant-context-service/internal/model"
	"github.com/teresa-solution/tenant-context-service/internal/monitoring"
)

// DefaultMaxDuration is the hard limit on a single override activation.
const DefaultMaxDuration = 15 * time.Minute

var ErrUnauthorizedOverride = errors.New("unauthorized override attempt")

type Store interface {
	Save(ctx context.Context, state *model.OverrideState, ttl time.Duration) error
	Load(ctx context.Context, sessionID uuid.UUID) (*model.OverrideState, error)
	Delete(ctx context.Context, sessionID uuid.UUID) error
}

type AdminChecker interface {
	IsAdmin(ctx context.Context, userID uuid.UUID) (bool, error)
}

type Auditor interface {
	Record(rec model.AuditRecord)
}

type Option func(*Controller)

func WithMaxDuration(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.maxDuration = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// Controller activates and expires admin overrides. State is kept per admin
// session so one administrator's override never leaks into another request.
type Controller struct {
	store       Store
	admins      AdminChecker
	auditor     Auditor
	maxDuration time.Duration
	now         func() time.Time
}

func NewController(st Store, admins AdminChecker, auditor Auditor, opts ...Option) *Controller {
	c := &Controller{
		store:       st,
		admins:      admins,
		auditor:     auditor,
		maxDuration: DefaultMaxDuration,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxDuration returns the hard activation limit.
func (c *Controller) MaxDuration() time.Duration {
	return c.maxDuration
}

// Activate turns on the override for an admin session.
func (c *Controller) Activate(ctx context.Context, sess *model.ContextSession, reason string) (*model.OverrideState, error) {
	if sess == nil {
		c.rejectEscalation(nil, reason, "no session")
		return nil, ErrUnauthorizedOverride
	}
	if sess.Type() != model.ContextAdmin {
		c.rejectEscalation(sess, reason, "session is not an admin session")
		return nil, ErrUnauthorizedOverride
	}
	ok, err := c.admins.IsAdmin(ctx, sess.ActorUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to verify admin status: %w", err)
	}
	if !ok {
		c.rejectEscalation(sess, reason, "actor is no longer an administrator")
		return nil, ErrUnauthorizedOverride
	}

	state := &model.OverrideState{
		SessionID:   sess.ID,
		AdminID:     sess.ActorUserID,
		Reason:      reason,
		ActivatedAt: c.now().UTC(),
	}
	if err := c.store.Save(ctx, state, c.maxDuration); err != nil {
		return nil, fmt.Errorf("failed to save override: %w", err)
	}

	c.auditor.Record(model.AuditRecord{
		ActorID:   sess.ActorUserID,
		EventType: model.EventOverrideActivated,
		SessionID: &sess.ID,
		Severity:  model.SeverityWarning,
		Reason:    reason,
		Timestamp: state.ActivatedAt,
		Metadata:  map[string]string{"expires_at": state.ExpiresAt(c.maxDuration).Format(time.RFC3339)},
	})
	monitoring.AdminOverrides.WithLabelValues("activated").Inc()
	return state, nil
}

// Deactivate turns off the override for sess. It succeeds whether or not an
// override was active.
func (c *Controller) Deactivate(ctx context.Context, sess *model.ContextSession) error {
	if sess == nil {
		return nil
	}
	if err := c.store.Delete(ctx, sess.ID); err != nil {
		return fmt.Errorf("failed to delete override: %w", err)
	}
	c.auditor.Record(model.AuditRecord{
		ActorID:   sess.ActorUserID,
		EventType: model.EventOverrideDeactivated,
		SessionID: &sess.ID,
		Severity:  model.SeverityInfo,
	})
	monitoring.AdminOverrides.WithLabelValues("deactivated").Inc()
	return nil
}

// Clear drops the override of a session that is going away.
func (c *Controller) Clear(ctx context.Context, sessionID uuid.UUID) error {
	state, err := c.store.Load(ctx, sessionID)
	if err != nil {
		return err
	}
	if state == nil {
		return nil
	}
	if err := c.store.Delete(ctx, sessionID); err != nil {
		return err
	}
	c.auditor.Record(model.AuditRecord{
		ActorID:   state.AdminID,
		EventType: model.EventOverrideDeactivated,
		SessionID: &sessionID,
		Severity:  model.SeverityInfo,
		Reason:    "session ended",
	})
	monitoring.AdminOverrides.WithLabelValues("deactivated").Inc()
	return nil
}

// State returns the active override for a session, or nil. Overrides past
// their maximum duration are deleted on read.
func (c *Controller) State(ctx context.Context, sessionID uuid.UUID) (*model.OverrideState, error) {
	state, err := c.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, nil
	}
	if !state.ActiveAt(c.now(), c.maxDuration) {
		if err := c.store.Delete(ctx, sessionID); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Failed to delete expired override")
		}
		monitoring.AdminOverrides.WithLabelValues("expired").Inc()
		return nil, nil
	}
	return state, nil
}

// IsActive reports whether sessionID currently holds an override. Lookup
// errors count as inactive.
func (c *Controller) IsActive(ctx context.Context, sessionID uuid.UUID) bool {
	state, err := c.State(ctx, sessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Failed to load override state")
		return false
	}
	return state != nil
}

func (c *Controller) rejectEscalation(sess *model.ContextSession, reason, cause string) {
	metadata := map[string]string{
		"context_type": string(sess.Type()),
		"cause":        cause,
	}
	rec := model.AuditRecord{
		EventType: model.EventOverrideEscalationAttempt,
		Severity:  model.SeverityCritical,
		Reason:    reason,
		Metadata:  metadata,
	}
	labels := map[string]string{"cause": cause}
	if sess != nil {
		rec.ActorID = sess.ActorUserID
		rec.SessionID = &sess.ID
		labels["actor_id"] = sess.ActorUserID.String()
		labels["session_id"] = sess.ID.String()
	}
	if tenantID, ok := sess.TenantID(); ok {
		rec.TargetTenantID = &tenantID
	}
	if sess != nil {
		if ic, ok := sess.Context.(model.ImpersonatedContext); ok {
			metadata["original_user_id"] = ic.OriginalUserID().String()
		}
	}
	c.auditor.Record(rec)
	monitoring.AdminOverrides.WithLabelValues("escalation_attempt").Inc()
	monitoring.SecurityAlert("override escalation attempt", labels)
}
