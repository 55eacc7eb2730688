package cron

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type memoryLockStore struct {
	values map[string]string
	ttls   map[string]time.Duration
}

func newMemoryLockStore() *memoryLockStore {
	return &memoryLockStore{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryLockStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = fmt.Sprint(value)
	m.ttls[key] = ttl
	return true, nil
}

func (m *memoryLockStore) Get(_ context.Context, key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memoryLockStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.values, key)
	}
	return nil
}

func (m *memoryLockStore) LockKey(parts ...string) string {
	return "wm:lock:" + strings.Join(parts, ":")
}

func TestRedisLockIsExclusiveAcrossWorkers(t *testing.T) {
	ctx := context.Background()
	store := newMemoryLockStore()
	first, err := NewSweeperLock(store, "prod", 0)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	second, _ := NewSweeperLock(store, "prod", 0)

	if first.Key() != "wm:lock:sweeper:prod" {
		t.Fatalf("unexpected key %q", first.Key())
	}
	if store.ttls[first.Key()] != 0 {
		t.Fatal("ttl recorded before acquire")
	}

	ok, err := first.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if store.ttls[first.Key()] != defaultLockTTL {
		t.Fatalf("expected default ttl, got %s", store.ttls[first.Key()])
	}
	ok, err = second.Acquire(ctx)
	if err != nil || ok {
		t.Fatalf("second acquire should fail: ok=%v err=%v", ok, err)
	}

	// a non-owner release leaves the lock in place
	if err := second.Release(ctx); err != nil {
		t.Fatalf("second release: %v", err)
	}
	if _, held := store.values[first.Key()]; !held {
		t.Fatal("non-owner released the lock")
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("first release: %v", err)
	}
	ok, err = second.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("second acquire after release: ok=%v err=%v", ok, err)
	}
}

func TestRedisLockLeavesForeignOwnerAlone(t *testing.T) {
	ctx := context.Background()
	store := newMemoryLockStore()
	lock, _ := NewSweeperLock(store, "prod", time.Minute)
	if ok, _ := lock.Acquire(ctx); !ok {
		t.Fatal("acquire failed")
	}
	// lock expired and another worker took it
	store.values[lock.Key()] = "someone-else"

	if err := lock.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if store.values[lock.Key()] != "someone-else" {
		t.Fatal("foreign lock was deleted")
	}
}

func TestNewSweeperLockRequiresClient(t *testing.T) {
	if _, err := NewSweeperLock(nil, "prod", time.Minute); err == nil {
		t.Fatal("expected error")
	}
}
