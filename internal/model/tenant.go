package model

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Tenant statuses stored in tenants.status
const (
	TenantStatusActive       = "active"
	TenantStatusInactive     = "inactive"
	TenantStatusProvisioning = "provisioning"
	TenantStatusError        = "error"
)

// Tenant represents the tenants table
type Tenant struct {
	ID                uuid.UUID `json:"id"`
	Name              string    `json:"name"`
	Status            string    `json:"status"`
	StorefrontEnabled bool      `json:"storefront_enabled"`
	MaintenanceMode   bool      `json:"maintenance_mode"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// IsActive reports whether requests may be served for the tenant at all.
func (t *Tenant) IsActive() bool {
	return t != nil && t.Status == TenantStatusActive
}

// Storefront represents the storefront_configs table
type Storefront struct {
	ID                   uuid.UUID       `json:"id"`
	TenantID             uuid.UUID       `json:"tenant_id"`
	Subdomain            string          `json:"subdomain"`
	CustomDomain         string          `json:"custom_domain,omitempty"`
	CustomDomainVerified bool            `json:"custom_domain_verified"`
	ThemeSettings        json.RawMessage `json:"theme_settings,omitempty"`
}

// TenantContext is the per-request tenant identity produced by the resolver.
// The zero value is the unscoped (public) context.
type TenantContext struct {
	TenantID      uuid.UUID       `json:"tenant_id"`
	TenantName    string          `json:"tenant_name,omitempty"`
	Subdomain     string          `json:"subdomain,omitempty"`
	CustomDomain  string          `json:"custom_domain,omitempty"`
	StorefrontID  uuid.UUID       `json:"storefront_id"`
	ThemeSettings json.RawMessage `json:"theme_settings,omitempty"`

	// Degraded marks an unscoped context produced because the host could not
	// be resolved at all. It never satisfies a tenant requirement.
	Degraded bool `json:"degraded,omitempty"`
}

// UnscopedContext returns the context used for public paths.
func UnscopedContext() TenantContext {
	return TenantContext{}
}

// IsScoped reports whether the context carries a resolved tenant.
func (c TenantContext) IsScoped() bool {
	return c.TenantID != uuid.Nil && !c.Degraded
}

// Equal compares two contexts field by field.
func (c TenantContext) Equal(o TenantContext) bool {
	return c.TenantID == o.TenantID &&
		c.TenantName == o.TenantName &&
		c.Subdomain == o.Subdomain &&
		c.CustomDomain == o.CustomDomain &&
		c.StorefrontID == o.StorefrontID &&
		c.Degraded == o.Degraded &&
		bytes.Equal(c.ThemeSettings, o.ThemeSettings)
}

// Clone returns a copy that shares no memory with c.
func (c TenantContext) Clone() TenantContext {
	if c.ThemeSettings != nil {
		c.ThemeSettings = append(json.RawMessage(nil), c.ThemeSettings...)
	}
	return c
}

// NewTenantContext builds a scoped context from a storefront and its owning tenant.
func NewTenantContext(t *Tenant, sf *Storefront) TenantContext {
	return TenantContext{
		TenantID:      t.ID,
		TenantName:    t.Name,
		Subdomain:     sf.Subdomain,
		CustomDomain:  sf.CustomDomain,
		StorefrontID:  sf.ID,
		ThemeSettings: sf.ThemeSettings,
	}.Clone()
}
