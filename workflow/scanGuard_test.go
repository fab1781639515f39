package workflow

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestMemoryScanGuard_WindowAndEviction(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryScanGuard(5 * time.Second)
	t0 := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	g.Remember(ctx, guardKey(1, 2), GuardEntry{ScanId: 10, Quantity: 3, SeenAt: t0})
	g.Remember(ctx, guardKey(1, 3), GuardEntry{ScanId: 11, Quantity: 3, SeenAt: t0.Add(3 * time.Second)})

	entry, ok := g.Seen(ctx, guardKey(1, 2), t0.Add(4*time.Second))
	if !ok || entry.ScanId != 10 {
		t.Fatalf("expected entry within window, got ok=%v entry=%+v", ok, entry)
	}
	if _, ok := g.Seen(ctx, guardKey(1, 2), t0.Add(5*time.Second)); ok {
		t.Fatalf("expected entry to expire at the window boundary")
	}
	if g.Len() != 1 {
		t.Fatalf("expected expired entry to be evicted on read, %d left", g.Len())
	}

	g.Forget(ctx, guardKey(1, 3))
	if _, ok := g.Seen(ctx, guardKey(1, 3), t0.Add(4*time.Second)); ok {
		t.Fatalf("expected forgotten entry to be gone")
	}
}

func TestRedisScanGuard(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDRESS")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDRESS not set")
	}
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	g := NewRedisScanGuard(rdb, 5*time.Second)
	key := guardKey(900001, 900002)
	g.Forget(ctx, key)

	now := time.Now().UTC()
	g.Remember(ctx, key, GuardEntry{ScanId: 42, Quantity: 7, SeenAt: now})
	entry, ok := g.Seen(ctx, key, now.Add(time.Second))
	if !ok || entry.ScanId != 42 || entry.Quantity != 7 {
		t.Fatalf("expected stored entry, got ok=%v entry=%+v", ok, entry)
	}
	if _, ok := g.Seen(ctx, key, now.Add(6*time.Second)); ok {
		t.Fatalf("expected entry outside window to be ignored")
	}
	g.Forget(ctx, key)
	if _, ok := g.Seen(ctx, key, now); ok {
		t.Fatalf("expected forgotten entry to be gone")
	}
}
