// Package redistest resolves a reachable redis for integration tests and
// skips the test when none answers.
package redistest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// IsolatedDB keeps test data away from db 0.
const IsolatedDB = 14

// NewClient returns a client on a flushed isolated db. The db is flushed
// again and the client closed on cleanup.
func NewClient(t *testing.T) *redis.Client {
	t.Helper()

	addrs := []string{}
	if addr := os.Getenv("BILLING_REDIS_ADDR"); addr != "" {
		addrs = append(addrs, addr)
	}
	addrs = append(addrs, "localhost:6379", "127.0.0.1:6379")
	password := os.Getenv("BILLING_REDIS_PASSWORD")

	var lastErr error
	for _, addr := range addrs {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       IsolatedDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, err := client.Ping(ctx).Result()
		cancel()
		if err != nil {
			lastErr = err
			_ = client.Close()
			continue
		}
		if err := client.FlushDB(context.Background()).Err(); err != nil {
			_ = client.Close()
			t.Fatalf("failed to flush isolated redis db %d: %v", IsolatedDB, err)
		}
		t.Cleanup(func() {
			_ = client.FlushDB(context.Background()).Err()
			_ = client.Close()
		})
		return client
	}

	t.Skipf("Skipping Redis-dependent test: no reachable Redis endpoint (%v)", lastErr)
	return nil
}
