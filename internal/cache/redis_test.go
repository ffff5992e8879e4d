package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestStore(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(server.Close)

	store, err := NewRedisStore(context.Background(), RedisConfig{Address: server.Addr()})
	if err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return server, store
}

func TestRedisStoreRoundTrip(t *testing.T) {
	_, store := newTestStore(t)
	ctx := context.Background()

	if _, found, err := store.Get(ctx, "missing"); err != nil || found {
		t.Fatalf("expected clean miss, got found=%v err=%v", found, err)
	}

	if err := store.Set(ctx, "greeting", "hello", time.Minute); err != nil {
		t.Fatalf("unexpected set error: %v", err)
	}

	value, found, err := store.Get(ctx, "greeting")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if !found || value != "hello" {
		t.Fatalf("unexpected read: found=%v value=%q", found, value)
	}
}

func TestRedisStoreDelete(t *testing.T) {
	_, store := newTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "doomed", "value", time.Minute); err != nil {
		t.Fatalf("unexpected set error: %v", err)
	}
	if err := store.Delete(ctx, "doomed"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if _, found, err := store.Get(ctx, "doomed"); err != nil || found {
		t.Fatalf("expected miss after delete, got found=%v err=%v", found, err)
	}

	if err := store.Delete(ctx, "never-existed"); err != nil {
		t.Fatalf("deleting an absent key must not error: %v", err)
	}
}

func TestRedisStoreTTLExpiry(t *testing.T) {
	server, store := newTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "ephemeral", "value", 30*time.Second); err != nil {
		t.Fatalf("unexpected set error: %v", err)
	}

	server.FastForward(31 * time.Second)

	if _, found, err := store.Get(ctx, "ephemeral"); err != nil || found {
		t.Fatalf("expected miss after TTL, got found=%v err=%v", found, err)
	}
}

func TestNewRedisStoreRequiresAddress(t *testing.T) {
	if _, err := NewRedisStore(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error for missing address")
	}
}
