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

func TestOverrideStore_SaveLoadDelete(t *testing.T) {
	mr, rdb := setupRedis(t)
	s := NewOverrideStore(rdb)
	ctx := context.Background()

	state := &model.OverrideState{
		SessionID:   uuid.New(),
		AdminID:     uuid.New(),
		Reason:      "incident 7",
		ActivatedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.Save(ctx, state, 15*time.Minute))

	got, err := s.Load(ctx, state.SessionID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, state.AdminID, got.AdminID)
	assert.Equal(t, "incident 7", got.Reason)
	assert.True(t, state.ActivatedAt.Equal(got.ActivatedAt))

	require.NoError(t, s.Delete(ctx, state.SessionID))
	got, err = s.Load(ctx, state.SessionID)
	assert.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.Save(ctx, state, 15*time.Minute))
	mr.FastForward(15 * time.Minute)
	got, err = s.Load(ctx, state.SessionID)
	assert.NoError(t, err)
	assert.Nil(t, got, "state must not outlive its ttl")
}

func TestOverrideStore_LoadMalformed(t *testing.T) {
	mr, rdb := setupRedis(t)
	s := NewOverrideStore(rdb)
	id := uuid.New()

	require.NoError(t, mr.Set(overrideKey(id), "not json"))
	_, err := s.Load(context.Background(), id)
	assert.Error(t, err)
}
