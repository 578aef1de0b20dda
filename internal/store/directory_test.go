package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teresa-solution/tenant-context-service/internal/model"
)

var storefrontCols = []string{"id", "tenant_id", "subdomain", "custom_domain", "custom_domain_verified", "theme_settings"}

func TestDirectory_StorefrontByCustomDomain(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	dir := NewDirectory(mock, nil)
	id, tenantID := uuid.New(), uuid.New()
	domain := "shop.acme.com"

	mock.ExpectQuery("FROM storefront_configs WHERE custom_domain = \\$1 AND custom_domain_verified").
		WithArgs(domain).
		WillReturnRows(pgxmock.NewRows(storefrontCols).
			AddRow(id, tenantID, "acme", &domain, true, json.RawMessage(`{"primary":"#111"}`)))

	sf, err := dir.StorefrontByCustomDomain(context.Background(), domain)
	require.NoError(t, err)
	require.NotNil(t, sf)
	assert.Equal(t, id, sf.ID)
	assert.Equal(t, tenantID, sf.TenantID)
	assert.Equal(t, domain, sf.CustomDomain)
	assert.True(t, sf.CustomDomainVerified)
	assert.JSONEq(t, `{"primary":"#111"}`, string(sf.ThemeSettings))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectory_StorefrontNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	dir := NewDirectory(mock, nil)
	mock.ExpectQuery("FROM storefront_configs WHERE subdomain").
		WithArgs("nobody").
		WillReturnRows(pgxmock.NewRows(storefrontCols))

	sf, err := dir.StorefrontBySubdomain(context.Background(), "nobody")
	assert.NoError(t, err)
	assert.Nil(t, sf)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectory_TenantByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	dir := NewDirectory(mock, nil)
	id := uuid.New()
	now := time.Now()

	mock.ExpectQuery("FROM tenants WHERE id = \\$1").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "status", "storefront_enabled", "maintenance_mode", "created_at", "updated_at"}).
			AddRow(id, "Acme", model.TenantStatusActive, true, false, now, now))

	tn, err := dir.TenantByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Acme", tn.Name)
	assert.True(t, tn.IsActive())
	assert.True(t, tn.StorefrontEnabled)

	mock.ExpectQuery("FROM tenants WHERE id = \\$1").
		WithArgs(id).
		WillReturnError(errors.New("connection reset"))

	_, err = dir.TenantByID(context.Background(), id)
	assert.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectory_IsAdmin(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	dir := NewDirectory(mock, nil)
	admin, stranger := uuid.New(), uuid.New()

	mock.ExpectQuery("FROM platform_users WHERE id = \\$1 AND is_active").
		WithArgs(admin).
		WillReturnRows(pgxmock.NewRows([]string{"admin"}).AddRow(true))
	mock.ExpectQuery("FROM platform_users WHERE id = \\$1 AND is_active").
		WithArgs(stranger).
		WillReturnRows(pgxmock.NewRows([]string{"admin"}))

	ok, err := dir.IsAdmin(context.Background(), admin)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = dir.IsAdmin(context.Background(), stranger)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectory_SetTenantStatusPublishesInvalidation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, rdb := setupRedis(t)
	dir := NewDirectory(mock, rdb)
	id := uuid.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan uuid.UUID, 1)
	subscribed := make(chan error, 1)
	go func() {
		subscribed <- SubscribeInvalidations(ctx, rdb, func(got uuid.UUID) { received <- got })
	}()

	// Wait until the subscriber is registered before publishing.
	require.Eventually(t, func() bool {
		n, err := rdb.PubSubNumSub(context.Background(), InvalidationChannel).Result()
		return err == nil && n[InvalidationChannel] > 0
	}, time.Second, 10*time.Millisecond)

	mock.ExpectExec("UPDATE tenants SET status").
		WithArgs(id, model.TenantStatusInactive).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, dir.SetTenantStatus(context.Background(), id, model.TenantStatusInactive))

	select {
	case got := <-received:
		assert.Equal(t, id, got)
	case <-time.After(time.Second):
		t.Fatal("invalidation not received")
	}

	cancel()
	assert.NoError(t, <-subscribed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectory_SetTenantStatusErrors(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	dir := NewDirectory(mock, nil)
	id := uuid.New()

	assert.Error(t, dir.SetTenantStatus(context.Background(), id, "suspended"))

	mock.ExpectExec("UPDATE tenants SET maintenance_mode").
		WithArgs(id, true).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.ErrorIs(t, dir.SetMaintenance(context.Background(), id, true), ErrTenantNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResetSessionKeys(t *testing.T) {
	mock, err := pgxmock.NewConn()
	require.NoError(t, err)
	defer mock.Close(context.Background())

	mock.ExpectExec("set_config").WithArgs("app.current_tenant").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("set_config").WithArgs("app.rls_bypass").WillReturnError(errors.New("conn closed"))

	err = ResetSessionKeys(context.Background(), mock, []string{"app.current_tenant", "app.rls_bypass"})
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscribeInvalidations(t *testing.T) {
	_, rdb := setupRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan uuid.UUID, 4)
	done := make(chan error, 1)
	go func() {
		done <- SubscribeInvalidations(ctx, rdb, func(id uuid.UUID) { received <- id })
	}()

	require.Eventually(t, func() bool {
		n, err := rdb.PubSubNumSub(context.Background(), InvalidationChannel).Result()
		return err == nil && n[InvalidationChannel] > 0
	}, time.Second, 10*time.Millisecond)

	first, second := uuid.New(), uuid.New()
	pub := context.Background()
	require.NoError(t, rdb.Publish(pub, InvalidationChannel, first.String()).Err())
	require.NoError(t, rdb.Publish(pub, InvalidationChannel, "not-a-tenant-id").Err())
	require.NoError(t, rdb.Publish(pub, "some:other:channel", uuid.New().String()).Err())
	require.NoError(t, rdb.Publish(pub, InvalidationChannel, second.String()).Err())

	var got []uuid.UUID
	for len(got) < 2 {
		select {
		case id := <-received:
			got = append(got, id)
		case <-time.After(time.Second):
			t.Fatalf("received %d of 2 invalidations", len(got))
		}
	}
	// The malformed payload is skipped and the loop keeps running.
	assert.Equal(t, []uuid.UUID{first, second}, got)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not stop after cancel")
	}
	assert.Empty(t, received)
}
