package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb), mr
}

func TestRedisStoreGetMiss(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Get(context.Background(), "absent")
	if !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}
}

func TestRedisStoreSetGetTTL(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v"), 300*time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("expected v, got %q", got)
	}
	if ttl := mr.TTL("k"); ttl != 300*time.Second {
		t.Fatalf("expected 300s ttl, got %v", ttl)
	}

	mr.FastForward(301 * time.Second)
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestRedisStoreDeleteByPattern(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 1200; i++ {
		_ = s.Set(ctx, fmt.Sprintf("repo:list:a:%d", i), []byte("x"), time.Minute)
	}
	_ = s.Set(ctx, "repo:id:1", []byte("x"), time.Minute)

	n, err := s.DeleteByPattern(ctx, "repo:list:*")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 1200 {
		t.Fatalf("expected 1200 deleted, got %d", n)
	}
	if keys := mr.Keys(); len(keys) != 1 || keys[0] != "repo:id:1" {
		t.Fatalf("expected only the unrelated key to remain, got %d keys", len(keys))
	}
}

func TestRedisStoreErrorIsNotMiss(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Close()

	_, err := s.Get(context.Background(), "k")
	if err == nil || errors.Is(err, ErrMiss) {
		t.Fatalf("expected a store error distinct from ErrMiss, got %v", err)
	}
}
