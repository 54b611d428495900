package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	c, err := NewRedisCache("redis://"+s.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("failed to create redis cache: %v", err)
	}
	return c, s
}

func TestNewRedisCache(t *testing.T) {
	c, s := setupTestRedis(t)
	defer s.Close()
	defer c.Close()

	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisCacheBadURL(t *testing.T) {
	if _, err := NewRedisCache("not a url", time.Minute); err == nil {
		t.Fatal("expected error for bad url")
	}
}

func TestSetAndGet(t *testing.T) {
	c, s := setupTestRedis(t)
	defer s.Close()
	defer c.Close()

	ctx := context.Background()
	if err := c.Set(ctx, "plan:p1", []byte(`{"id":"p1"}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := c.Get(ctx, "plan:p1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != `{"id":"p1"}` {
		t.Errorf("unexpected value %q", got)
	}
	if !s.Exists("workspace:plan:p1") {
		t.Error("expected key under workspace: prefix")
	}
}

func TestGetExpired(t *testing.T) {
	c, s := setupTestRedis(t)
	defer s.Close()
	defer c.Close()

	ctx := context.Background()
	if err := c.Set(ctx, "tasks:th1", []byte("[]")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	s.FastForward(2 * time.Minute)

	if _, err := c.Get(ctx, "tasks:th1"); !errors.Is(err, ErrMiss) {
		t.Errorf("expected ErrMiss after ttl, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	c, s := setupTestRedis(t)
	defer s.Close()
	defer c.Close()

	ctx := context.Background()
	_ = c.Set(ctx, "a", []byte("1"))
	_ = c.Set(ctx, "b", []byte("2"))

	if err := c.Delete(ctx, "a", "missing"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := c.Get(ctx, "a"); !errors.Is(err, ErrMiss) {
		t.Errorf("expected a to be gone, got %v", err)
	}
	if _, err := c.Get(ctx, "b"); err != nil {
		t.Errorf("expected b to survive, got %v", err)
	}
	if err := c.Delete(ctx); err != nil {
		t.Errorf("empty Delete failed: %v", err)
	}
}
