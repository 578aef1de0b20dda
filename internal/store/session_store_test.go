package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teresa-solution/tenant-context-service/internal/model"
)

func newImpersonationSession(t *testing.T, now time.Time) *model.ContextSession {
	t.Helper()

	sc, err := model.NewImpersonatedContext(uuid.New(), uuid.New())
	require.NoError(t, err)
	return &model.ContextSession{
		ID:          uuid.New(),
		ActorUserID: uuid.New(),
		Context:     sc,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
		Metadata:    map[string]string{"reason": "ticket-42"},
	}
}

func TestSessionStore_CreateGetDelete(t *testing.T) {
	_, rdb := setupRedis(t)
	s := NewSessionStore(rdb, testSealer(t))
	ctx := context.Background()

	session := newImpersonationSession(t, time.Now().UTC().Truncate(time.Second))
	require.NoError(t, s.Create(ctx, session))

	got, err := s.Get(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, session.ID, got.ID)
	assert.Equal(t, model.ContextImpersonatedTenant, got.Type())
	assert.Equal(t, session.Context, got.Context)
	assert.True(t, session.ExpiresAt.Equal(got.ExpiresAt))
	assert.Equal(t, "ticket-42", got.Metadata["reason"])

	deleted, err := s.Delete(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.Delete(ctx, session.ID)
	require.NoError(t, err)
	assert.False(t, deleted, "second delete must not report success")

	got, err = s.Get(ctx, session.ID)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestSessionStore_CreateRejectsDuplicateID(t *testing.T) {
	_, rdb := setupRedis(t)
	s := NewSessionStore(rdb, testSealer(t))
	ctx := context.Background()

	session := newImpersonationSession(t, time.Now())
	require.NoError(t, s.Create(ctx, session))
	assert.ErrorIs(t, s.Create(ctx, session), ErrSessionExists)
}

func TestSessionStore_RecordsAreSealed(t *testing.T) {
	mr, rdb := setupRedis(t)
	s := NewSessionStore(rdb, testSealer(t))
	ctx := context.Background()

	session := newImpersonationSession(t, time.Now())
	require.NoError(t, s.Create(ctx, session))

	raw, err := mr.Get(sessionKey(session.ID))
	require.NoError(t, err)
	assert.NotContains(t, raw, "impersonated_tenant")

	// A record copied under another id must not open.
	other := uuid.New()
	require.NoError(t, mr.Set(sessionKey(other), raw))
	_, err = s.Get(ctx, other)
	assert.ErrorIs(t, err, ErrCorruptSession)

	// Neither must a hand-written record.
	require.NoError(t, mr.Set(sessionKey(other), `{"session_id":"`+other.String()+`","context_type":"admin"}`))
	_, err = s.Get(ctx, other)
	assert.ErrorIs(t, err, ErrCorruptSession)
}

func TestSessionStore_TTLCoversExpiryPlusGrace(t *testing.T) {
	mr, rdb := setupRedis(t)
	s := NewSessionStore(rdb, testSealer(t))
	now := time.Now()
	s.now = func() time.Time { return now }

	session := newImpersonationSession(t, now)
	require.NoError(t, s.Create(context.Background(), session))
	assert.Equal(t, time.Hour+expiredGrace, mr.TTL(sessionKey(session.ID)))

	session = newImpersonationSession(t, now.Add(-3*time.Hour))
	assert.Error(t, s.Create(context.Background(), session))
}
