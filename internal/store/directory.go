package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/tenant-context-service/internal/model"
)

// InvalidationChannel carries ids of tenants whose cached hosts must be dropped.
const InvalidationChannel = "tenant:invalidate"

var ErrTenantNotFound = errors.New("tenant not found")

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Publisher is the part of the Redis client used for invalidation broadcasts.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Directory reads storefront configurations, tenants and platform users.
type Directory struct {
	db    querier
	redis Publisher
}

// NewDirectory creates a Directory. rdb may be nil when no other instance
// needs to hear about tenant changes.
func NewDirectory(db querier, rdb Publisher) *Directory {
	return &Directory{db: db, redis: rdb}
}

const storefrontColumns = `id, tenant_id, subdomain, custom_domain, custom_domain_verified, theme_settings`

func (d *Directory) StorefrontByCustomDomain(ctx context.Context, domain string) (*model.Storefront, error) {
	query := `SELECT ` + storefrontColumns + `
              FROM storefront_configs WHERE custom_domain = $1 AND custom_domain_verified`
	return d.scanStorefront(d.db.QueryRow(ctx, query, domain))
}

func (d *Directory) StorefrontBySubdomain(ctx context.Context, subdomain string) (*model.Storefront, error) {
	query := `SELECT ` + storefrontColumns + `
              FROM storefront_configs WHERE subdomain = $1`
	return d.scanStorefront(d.db.QueryRow(ctx, query, subdomain))
}

func (d *Directory) scanStorefront(row pgx.Row) (*model.Storefront, error) {
	sf := &model.Storefront{}
	var customDomain *string
	err := row.Scan(&sf.ID, &sf.TenantID, &sf.Subdomain, &customDomain, &sf.CustomDomainVerified, &sf.ThemeSettings)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if customDomain != nil {
		sf.CustomDomain = *customDomain
	}
	return sf, nil
}

func (d *Directory) TenantByID(ctx context.Context, id uuid.UUID) (*model.Tenant, error) {
	query := `SELECT id, name, status, storefront_enabled, maintenance_mode, created_at, updated_at
              FROM tenants WHERE id = $1 AND deleted_at IS NULL`
	t := &model.Tenant{}
	err := d.db.QueryRow(ctx, query, id).Scan(&t.ID, &t.Name, &t.Status, &t.StorefrontEnabled, &t.MaintenanceMode, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// IsAdmin reports whether the user currently holds admin or super-admin
// status. It is read from the database on every call.
func (d *Directory) IsAdmin(ctx context.Context, userID uuid.UUID) (bool, error) {
	query := `SELECT is_admin OR is_super_admin FROM platform_users WHERE id = $1 AND is_active`
	var admin bool
	err := d.db.QueryRow(ctx, query, userID).Scan(&admin)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return admin, nil
}

// UserBelongsToTenant reports whether an active user is a member of tenantID.
func (d *Directory) UserBelongsToTenant(ctx context.Context, userID, tenantID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM platform_users WHERE id = $1 AND tenant_id = $2 AND is_active)`
	var ok bool
	if err := d.db.QueryRow(ctx, query, userID, tenantID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// SetTenantStatus updates a tenant's status and broadcasts invalidation.
func (d *Directory) SetTenantStatus(ctx context.Context, id uuid.UUID, status string) error {
	switch status {
	case model.TenantStatusActive, model.TenantStatusInactive, model.TenantStatusProvisioning, model.TenantStatusError:
	default:
		return fmt.Errorf("invalid status %q", status)
	}
	query := `UPDATE tenants SET status = $2, updated_at = now() WHERE id = $1 AND deleted_at IS NULL`
	return d.updateTenant(ctx, id, query, status)
}

// SetMaintenance toggles maintenance mode and broadcasts invalidation.
func (d *Directory) SetMaintenance(ctx context.Context, id uuid.UUID, on bool) error {
	query := `UPDATE tenants SET maintenance_mode = $2, updated_at = now() WHERE id = $1 AND deleted_at IS NULL`
	return d.updateTenant(ctx, id, query, on)
}

func (d *Directory) updateTenant(ctx context.Context, id uuid.UUID, query string, arg any) error {
	tag, err := d.db.Exec(ctx, query, id, arg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTenantNotFound
	}
	d.publishInvalidation(ctx, id)
	return nil
}

func (d *Directory) publishInvalidation(ctx context.Context, id uuid.UUID) {
	if d.redis == nil {
		return
	}
	if err := d.redis.Publish(ctx, InvalidationChannel, id.String()).Err(); err != nil {
		// Other instances fall back to TTL expiry.
		log.Warn().Err(err).Str("tenant_id", id.String()).Msg("Failed to publish tenant invalidation")
	}
}

// SubscribeInvalidations calls handle for every tenant id published on
// InvalidationChannel until ctx is done.
func SubscribeInvalidations(ctx context.Context, rdb *redis.Client, handle func(uuid.UUID)) error {
	sub := rdb.Subscribe(ctx, InvalidationChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", InvalidationChannel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			id, err := uuid.Parse(msg.Payload)
			if err != nil {
				log.Warn().Str("payload", msg.Payload).Msg("Ignoring malformed invalidation message")
				continue
			}
			handle(id)
		}
	}
}
