package store

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/teresa-solution/tenant-context-service/internal/crypto"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func testSealer(t *testing.T) *crypto.Sealer {
	t.Helper()

	s, err := crypto.NewSealer([]byte("32-byte-key-for-aes-encryption!!"))
	if err != nil {
		t.Fatalf("failed to create sealer: %v", err)
	}
	return s
}
