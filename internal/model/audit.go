package model

import (
	"time"

	"github.com/google/uuid"
)

// Audit event types
const (
	EventImpersonationStarted      = "impersonation_started"
	EventImpersonationEnded        = "impersonation_ended"
	EventOverrideActivated         = "override_activated"
	EventOverrideDeactivated       = "override_deactivated"
	EventOverrideEscalationAttempt = "override_escalation_attempt"
)

// Audit severities
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// AuditRecord represents the audit_events table
type AuditRecord struct {
	ID             uuid.UUID         `json:"id"`
	ActorID        uuid.UUID         `json:"actor_id"`
	ActedAsID      *uuid.UUID        `json:"acted_as_id,omitempty"`
	EventType      string            `json:"event_type"`
	TargetTenantID *uuid.UUID        `json:"target_tenant_id,omitempty"`
	SessionID      *uuid.UUID        `json:"session_id,omitempty"`
	Severity       string            `json:"severity"`
	Reason         string            `json:"reason,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

// OverrideState is the admin override attached to one admin session.
type OverrideState struct {
	SessionID   uuid.UUID `json:"session_id"`
	AdminID     uuid.UUID `json:"admin_id"`
	Reason      string    `json:"reason,omitempty"`
	ActivatedAt time.Time `json:"activated_at"`
}

// ActiveAt reports whether the override is still within maxDuration at now.
// A zero state is never active.
func (o *OverrideState) ActiveAt(now time.Time, maxDuration time.Duration) bool {
	if o == nil || o.AdminID == uuid.Nil || o.ActivatedAt.IsZero() {
		return false
	}
	return now.Before(o.ActivatedAt.Add(maxDuration))
}

// ExpiresAt returns the hard expiry of the override.
func (o *OverrideState) ExpiresAt(maxDuration time.Duration) time.Time {
	return o.ActivatedAt.Add(maxDuration)
}
