package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/tenant-context-service/internal/model"
	"github.com/teresa-solution/tenant-context-service/internal/store"
)

var ErrInvalidStatus = errors.New("invalid status")

// TenantStore reads and updates tenants.
type TenantStore interface {
	TenantByID(ctx context.Context, id uuid.UUID) (*model.Tenant, error)
	SetTenantStatus(ctx context.Context, id uuid.UUID, status string) error
	SetMaintenance(ctx context.Context, id uuid.UUID, on bool) error
}

// CacheInvalidator drops cached resolutions for a tenant.
type CacheInvalidator interface {
	InvalidateTenant(tenantID uuid.UUID)
}

// LifecycleService changes tenant availability. Each change is applied to the
// local resolver cache at once; other instances hear about it through the
// store's invalidation broadcast.
type LifecycleService struct {
	store TenantStore
	cache CacheInvalidator
}

func NewLifecycleService(st TenantStore, cache CacheInvalidator) *LifecycleService {
	return &LifecycleService{store: st, cache: cache}
}

// SetStatus updates a tenant's status
func (s *LifecycleService) SetStatus(ctx context.Context, id uuid.UUID, status string) (*model.Tenant, error) {
	if err := validateStatus(status); err != nil {
		return nil, err
	}
	if err := s.store.SetTenantStatus(ctx, id, status); err != nil {
		return nil, s.storeError(err, id, "Failed to update tenant status")
	}
	s.cache.InvalidateTenant(id)
	log.Info().Str("tenant_id", id.String()).Str("status", status).Msg("Tenant status changed")
	return s.reload(ctx, id)
}

// SetMaintenance toggles maintenance mode
func (s *LifecycleService) SetMaintenance(ctx context.Context, id uuid.UUID, on bool) (*model.Tenant, error) {
	if err := s.store.SetMaintenance(ctx, id, on); err != nil {
		return nil, s.storeError(err, id, "Failed to update maintenance mode")
	}
	s.cache.InvalidateTenant(id)
	log.Info().Str("tenant_id", id.String()).Bool("maintenance", on).Msg("Tenant maintenance mode changed")
	return s.reload(ctx, id)
}

func (s *LifecycleService) reload(ctx context.Context, id uuid.UUID) (*model.Tenant, error) {
	tenant, err := s.store.TenantByID(ctx, id)
	if err != nil {
		return nil, s.storeError(err, id, "Failed to get tenant")
	}
	if tenant == nil {
		return nil, store.ErrTenantNotFound
	}
	return tenant, nil
}

func (s *LifecycleService) storeError(err error, id uuid.UUID, msg string) error {
	if errors.Is(err, store.ErrTenantNotFound) {
		return err
	}
	log.Error().Err(err).Str("tenant_id", id.String()).Msg(msg)
	return fmt.Errorf("%s: %w", msg, err)
}

// validateStatus checks the status against the known tenant states
func validateStatus(status string) error {
	switch status {
	case model.TenantStatusActive, model.TenantStatusInactive, model.TenantStatusProvisioning, model.TenantStatusError:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
}
