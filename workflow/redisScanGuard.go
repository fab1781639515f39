package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/mmdatafocus/wms_backend/config"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisScanGuard shares the duplicate window across instances. Redis expiry
// does the eviction; errors degrade to "not seen".
type RedisScanGuard struct {
	rdb    *redis.Client
	window time.Duration
	prefix string
	logger *logrus.Logger
}

func NewRedisScanGuard(rdb *redis.Client, window time.Duration) *RedisScanGuard {
	if window <= 0 {
		window = 5 * time.Second
	}
	return &RedisScanGuard{rdb: rdb, window: window, prefix: "wms:", logger: config.GetLogger()}
}

func (g *RedisScanGuard) Seen(ctx context.Context, key string, now time.Time) (GuardEntry, bool) {
	var entry GuardEntry
	raw, err := g.rdb.Get(ctx, g.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			g.warn(key, "read", err)
		}
		return entry, false
	}
	if err := json.Unmarshal(raw, &entry); err != nil {
		g.warn(key, "decode", err)
		return entry, false
	}
	if now.Sub(entry.SeenAt) >= g.window {
		return entry, false
	}
	return entry, true
}

func (g *RedisScanGuard) Remember(ctx context.Context, key string, entry GuardEntry) {
	raw, err := json.Marshal(entry)
	if err != nil {
		g.warn(key, "encode", err)
		return
	}
	if err := g.rdb.Set(ctx, g.prefix+key, raw, g.window).Err(); err != nil {
		g.warn(key, "write", err)
	}
}

func (g *RedisScanGuard) Forget(ctx context.Context, key string) {
	if err := g.rdb.Del(ctx, g.prefix+key).Err(); err != nil {
		g.warn(key, "delete", err)
	}
}

func (g *RedisScanGuard) warn(key, op string, err error) {
	if g.logger == nil {
		return
	}
	g.logger.WithFields(logrus.Fields{
		"field": "RedisScanGuard",
		"key":   key,
		"op":    op,
	}).Warn("scan guard unavailable: " + err.Error())
}
