package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/teresa-solution/tenant-context-service/internal/model"
)

// OverrideStore keeps admin override state keyed by the admin's session id.
type OverrideStore struct {
	redis RedisClient
}

func NewOverrideStore(rdb RedisClient) *OverrideStore {
	return &OverrideStore{redis: rdb}
}

func overrideKey(sessionID uuid.UUID) string {
	return fmt.Sprintf("override:%s", sessionID.String())
}

// Save stores state; Redis drops it after ttl even if nobody deletes it.
func (s *OverrideStore) Save(ctx context.Context, state *model.OverrideState, ttl time.Duration) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, overrideKey(state.SessionID), data, ttl).Err()
}

// Load returns the override for a session or nil, nil.
func (s *OverrideStore) Load(ctx context.Context, sessionID uuid.UUID) (*model.OverrideState, error) {
	data, err := s.redis.Get(ctx, overrideKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	state := &model.OverrideState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, err
	}
	return state, nil
}

// Delete removes the override for a session.
func (s *OverrideStore) Delete(ctx context.Context, sessionID uuid.UUID) error {
	return s.redis.Del(ctx, overrideKey(sessionID)).Err()
}
