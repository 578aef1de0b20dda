package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ContextType names the variant carried by a ContextSession.
type ContextType string

const (
	ContextAdmin              ContextType = "admin"
	ContextTenant             ContextType = "tenant"
	ContextImpersonatedTenant ContextType = "impersonated_tenant"
)

// ErrInvalidSessionContext is returned when a stored session combines fields
// that no variant allows.
var ErrInvalidSessionContext = errors.New("invalid session context")

// SessionContext is the closed set of contexts a session can operate in:
// AdminContext, TenantUserContext and ImpersonatedContext.
type SessionContext interface {
	Type() ContextType
	sessionContext()
}

// AdminContext is a platform administrator acting as themselves.
type AdminContext struct{}

func (AdminContext) Type() ContextType { return ContextAdmin }
func (AdminContext) sessionContext() {}

// TenantUserContext is a tenant user acting inside their own tenant.
type TenantUserContext struct {
	tenantID uuid.UUID
}

// NewTenantUserContext returns a tenant context; tenantID must not be nil.
func NewTenantUserContext(tenantID uuid.UUID) (TenantUserContext, error) {
	if tenantID == uuid.Nil {
		return TenantUserContext{}, fmt.Errorf("%w: tenant id is required", ErrInvalidSessionContext)
	}
	return TenantUserContext{tenantID: tenantID}, nil
}

func (TenantUserContext) Type() ContextType { return ContextTenant }
func (TenantUserContext) sessionContext() {}
func (c TenantUserContext) TenantID() uuid.UUID { return c.tenantID }

// ImpersonatedContext is an administrator acting as a tenant user. It always
// records who is really acting.
type ImpersonatedContext struct {
	tenantID       uuid.UUID
	originalUserID uuid.UUID
	originalType   ContextType
}

// NewImpersonatedContext returns an impersonation context. Only admins can
// impersonate, so the original context type is fixed to ContextAdmin.
func NewImpersonatedContext(tenantID, originalUserID uuid.UUID) (ImpersonatedContext, error) {
	if tenantID == uuid.Nil {
		return ImpersonatedContext{}, fmt.Errorf("%w: tenant id is required", ErrInvalidSessionContext)
	}
	if originalUserID == uuid.Nil {
		return ImpersonatedContext{}, fmt.Errorf("%w: original user id is required", ErrInvalidSessionContext)
	}
	return ImpersonatedContext{
		tenantID:       tenantID,
		originalUserID: originalUserID,
		originalType:   ContextAdmin,
	}, nil
}

func (ImpersonatedContext) Type() ContextType { return ContextImpersonatedTenant }
func (ImpersonatedContext) sessionContext() {}
func (c ImpersonatedContext) TenantID() uuid.UUID { return c.tenantID }
func (c ImpersonatedContext) OriginalUserID() uuid.UUID { return c.originalUserID }
func (c ImpersonatedContext) OriginalContextType() ContextType { return c.originalType }

// ContextSession is an authenticated actor operating in one SessionContext.
// Sessions are never mutated after creation; a context switch produces a new
// session and deletes the old one.
type ContextSession struct {
	ID          uuid.UUID
	ActorUserID uuid.UUID
	Context     SessionContext
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Metadata    map[string]string
}

// Type returns the session's context type.
func (s *ContextSession) Type() ContextType {
	if s == nil || s.Context == nil {
		return ""
	}
	return s.Context.Type()
}

// TenantID returns the tenant the session is scoped to, if any.
func (s *ContextSession) TenantID() (uuid.UUID, bool) {
	if s == nil {
		return uuid.Nil, false
	}
	switch c := s.Context.(type) {
	case TenantUserContext:
		return c.TenantID(), true
	case ImpersonatedContext:
		return c.TenantID(), true
	}
	return uuid.Nil, false
}

// IsExpired reports whether now is past the session's expiry.
func (s *ContextSession) IsExpired(now time.Time) bool {
	return s != nil && now.After(s.ExpiresAt)
}

// sessionRecord is the persisted shape of a ContextSession.
type sessionRecord struct {
	ID                  uuid.UUID         `json:"session_id"`
	ActorUserID         uuid.UUID         `json:"actor_user_id"`
	ContextType         ContextType       `json:"context_type"`
	TenantID            *uuid.UUID        `json:"tenant_id,omitempty"`
	OriginalContextType ContextType       `json:"original_context_type,omitempty"`
	OriginalUserID      *uuid.UUID        `json:"original_user_id,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	ExpiresAt           time.Time         `json:"expires_at"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

// MarshalJSON flattens the context variant into tagged fields.
func (s ContextSession) MarshalJSON() ([]byte, error) {
	rec := sessionRecord{
		ID:          s.ID,
		ActorUserID: s.ActorUserID,
		CreatedAt:   s.CreatedAt,
		ExpiresAt:   s.ExpiresAt,
		Metadata:    s.Metadata,
	}
	switch c := s.Context.(type) {
	case AdminContext:
		rec.ContextType = ContextAdmin
	case TenantUserContext:
		rec.ContextType = ContextTenant
		id := c.TenantID()
		rec.TenantID = &id
	case ImpersonatedContext:
		rec.ContextType = ContextImpersonatedTenant
		id, orig := c.TenantID(), c.OriginalUserID()
		rec.TenantID = &id
		rec.OriginalUserID = &orig
		rec.OriginalContextType = c.OriginalContextType()
	default:
		return nil, fmt.Errorf("%w: missing context", ErrInvalidSessionContext)
	}
	return json.Marshal(rec)
}

// UnmarshalJSON rebuilds the context variant and rejects combinations that
// no variant allows.
func (s *ContextSession) UnmarshalJSON(data []byte) error {
	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}

	var sc SessionContext
	switch rec.ContextType {
	case ContextAdmin:
		if rec.TenantID != nil || rec.OriginalUserID != nil {
			return fmt.Errorf("%w: admin session carries tenant fields", ErrInvalidSessionContext)
		}
		sc = AdminContext{}
	case ContextTenant:
		if rec.TenantID == nil || rec.OriginalUserID != nil {
			return fmt.Errorf("%w: malformed tenant session", ErrInvalidSessionContext)
		}
		c, err := NewTenantUserContext(*rec.TenantID)
		if err != nil {
			return err
		}
		sc = c
	case ContextImpersonatedTenant:
		if rec.TenantID == nil || rec.OriginalUserID == nil || rec.OriginalContextType != ContextAdmin {
			return fmt.Errorf("%w: malformed impersonation session", ErrInvalidSessionContext)
		}
		c, err := NewImpersonatedContext(*rec.TenantID, *rec.OriginalUserID)
		if err != nil {
			return err
		}
		sc = c
	default:
		return fmt.Errorf("%w: unknown context type %q", ErrInvalidSessionContext, rec.ContextType)
	}

	*s = ContextSession{
		ID:          rec.ID,
		ActorUserID: rec.ActorUserID,
		Context:     sc,
		CreatedAt:   rec.CreatedAt,
		ExpiresAt:   rec.ExpiresAt,
		Metadata:    rec.Metadata,
	}
	return nil
}
