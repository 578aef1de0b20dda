package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/teresa-solution/tenant-context-service/internal/crypto"
	"github.com/teresa-solution/tenant-context-service/internal/model"
)

// expiredGrace keeps expired sessions around long enough to report them as
// expired rather than unknown.
const expiredGrace = time.Hour

var (
	ErrSessionExists = errors.New("session id already in use")
	// ErrCorruptSession means a stored record failed authentication or decoding.
	ErrCorruptSession = errors.New("corrupt session record")
)

type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// SessionStore keeps context sessions in Redis so every instance sees them.
// Records are sealed so that write access to Redis alone cannot mint or
// alter a privileged session.
type SessionStore struct {
	redis  RedisClient
	sealer *crypto.Sealer
	now    func() time.Time
}

func NewSessionStore(rdb RedisClient, sealer *crypto.Sealer) *SessionStore {
	return &SessionStore{redis: rdb, sealer: sealer, now: time.Now}
}

func sessionKey(id uuid.UUID) string {
	return fmt.Sprintf("ctxsession:%s", id.String())
}

// Create stores a new session; it never overwrites an existing id.
func (s *SessionStore) Create(ctx context.Context, session *model.ContextSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	key := sessionKey(session.ID)
	sealed, err := s.sealer.Seal(data, []byte(key))
	if err != nil {
		return err
	}

	ttl := session.ExpiresAt.Sub(s.now()) + expiredGrace
	if ttl <= 0 {
		return fmt.Errorf("session %s already expired", session.ID)
	}
	created, err := s.redis.SetNX(ctx, key, sealed, ttl).Result()
	if err != nil {
		return err
	}
	if !created {
		return ErrSessionExists
	}
	return nil
}

// Get returns the session or nil, nil if it does not exist.
func (s *SessionStore) Get(ctx context.Context, id uuid.UUID) (*model.ContextSession, error) {
	key := sessionKey(id)
	sealed, err := s.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	data, err := s.sealer.Open(sealed, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSession, err)
	}
	session := &model.ContextSession{}
	if err := json.Unmarshal(data, session); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSession, err)
	}
	if session.ID != id {
		return nil, fmt.Errorf("%w: record %s stored under %s", ErrCorruptSession, session.ID, id)
	}
	return session, nil
}

// Delete removes the session and reports whether this call removed it.
func (s *SessionStore) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	n, err := s.redis.Del(ctx, sessionKey(id)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
