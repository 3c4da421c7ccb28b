package store

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
)

func TestRedisStoreContract(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := NewRedisClient(addr, "", 0)
	defer func() {
		if err := client.Close(); err != nil {
			t.Errorf("close redis: %v", err)
		}
	}()
	ns := "test:" + uuid.NewString() + ":"
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := client.Keys(ctx, ns+"*").Result()
		if len(keys) > 0 {
			_ = client.Del(ctx, keys...).Err()
		}
	})
	exerciseStore(t, NewRedis(client, ns), "redis-1")
}
