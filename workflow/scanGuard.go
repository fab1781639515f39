package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// GuardEntry is the most recent shipping scan seen for one task and pallet.
type GuardEntry struct {
	ScanId   int
	Quantity int
	SeenAt   time.Time
}

// ScanGuard suppresses accidental double submissions of shipping scans.
// It is advisory: a miss only means the scan gets processed again.
type ScanGuard interface {
	Seen(ctx context.Context, key string, now time.Time) (GuardEntry, bool)
	Remember(ctx context.Context, key string, entry GuardEntry)
	Forget(ctx context.Context, key string)
}

func guardKey(taskId, palletId int) string {
	return fmt.Sprintf("scan:%d:%d", taskId, palletId)
}

// MemoryScanGuard keeps entries for one window. Expired entries are
// evicted whenever the guard is read.
type MemoryScanGuard struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string]GuardEntry
}

func NewMemoryScanGuard(window time.Duration) *MemoryScanGuard {
	if window <= 0 {
		window = 5 * time.Second
	}
	return &MemoryScanGuard{window: window, entries: make(map[string]GuardEntry)}
}

func (g *MemoryScanGuard) Seen(_ context.Context, key string, now time.Time) (GuardEntry, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for k, entry := range g.entries {
		if now.Sub(entry.SeenAt) >= g.window {
			delete(g.entries, k)
		}
	}
	entry, ok := g.entries[key]
	return entry, ok
}

func (g *MemoryScanGuard) Remember(_ context.Context, key string, entry GuardEntry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries[key] = entry
}

func (g *MemoryScanGuard) Forget(_ context.Context, key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, key)
}

// Len reports the number of live entries.
func (g *MemoryScanGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}
