package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis spins up an in-memory Redis and returns a store over it.
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	store := &RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: s.Addr()}),
		Ctx:    context.Background(),
	}
	return s, store
}

func TestChannelCache_PutAndGet(t *testing.T) {
	_, store := setupTestRedis(t)
	cache := NewChannelCache(store, time.Minute)
	ctx := context.Background()

	info := ChannelInfo{ID: "C123", Name: "general", IsPrivate: false}
	if err := cache.Put(ctx, info); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, err := cache.Get(ctx, "C123")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected a cache hit")
	}
	if got.Name != "general" || got.IsPrivate {
		t.Errorf("unexpected info: %+v", got)
	}
}

func TestChannelCache_MissReturnsNil(t *testing.T) {
	_, store := setupTestRedis(t)
	cache := NewChannelCache(store, time.Minute)

	got, err := cache.Get(context.Background(), "C404")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected a miss, got %+v", got)
	}
}

func TestChannelCache_Expires(t *testing.T) {
	mr, store := setupTestRedis(t)
	cache := NewChannelCache(store, time.Minute)
	ctx := context.Background()

	if err := cache.Put(ctx, ChannelInfo{ID: "G99", IsPrivate: true}); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	got, err := cache.Get(ctx, "G99")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected entry to expire, got %+v", got)
	}
}

func TestMarkEventProcessed(t *testing.T) {
	_, store := setupTestRedis(t)
	ctx := context.Background()

	first, err := store.MarkEventProcessed(ctx, "Ev123", time.Minute)
	if err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if !first {
		t.Error("first delivery should report true")
	}

	again, err := store.MarkEventProcessed(ctx, "Ev123", time.Minute)
	if err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if again {
		t.Error("redelivery should report false")
	}
}
