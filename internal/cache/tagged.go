package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"taxcore/internal/metrics"

	"go.uber.org/zap"
)

// envelope is the stored form of an entry.
type envelope struct {
	Tags map[string]int64 `json:"tags"`
	Data json.RawMessage  `json:"data"`
}

// tagged implements the read-through protocol shared by the decorators.
// Storage failures degrade to a miss; they never fail the read.
type tagged struct {
	store   Store
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// load returns true and fills out when key holds an entry whose tag
// versions are all current.
func (t *tagged) load(ctx context.Context, cache, key string, out interface{}) bool {
	raw, err := t.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			t.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		}
		t.metrics.CacheMiss(cache)
		return false
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.logger.Warn("cache entry corrupt", zap.String("key", key), zap.Error(err))
		t.metrics.CacheMiss(cache)
		return false
	}

	tags := make([]string, 0, len(env.Tags))
	for tag := range env.Tags {
		tags = append(tags, tag)
	}
	current, err := t.store.Versions(ctx, tags)
	if err != nil {
		t.logger.Warn("cache version lookup failed", zap.String("key", key), zap.Error(err))
		t.metrics.CacheMiss(cache)
		return false
	}
	for i, tag := range tags {
		if current[i] != env.Tags[tag] {
			t.metrics.CacheMiss(cache)
			return false
		}
	}

	if err := json.Unmarshal(env.Data, out); err != nil {
		t.logger.Warn("cache payload corrupt", zap.String("key", key), zap.Error(err))
		t.metrics.CacheMiss(cache)
		return false
	}
	t.metrics.CacheHit(cache)
	return true
}

// snapshot captures the current versions of tags. It must run before the
// underlying read so a concurrent write is always detected. ok is false when
// the versions cannot be read; the caller then skips storing.
func (t *tagged) snapshot(ctx context.Context, tags ...string) (map[string]int64, bool) {
	versions, err := t.store.Versions(ctx, tags)
	if err != nil {
		t.logger.Warn("cache version lookup failed", zap.Strings("tags", tags), zap.Error(err))
		return nil, false
	}
	snap := make(map[string]int64, len(tags))
	for i, tag := range tags {
		snap[tag] = versions[i]
	}
	return snap, true
}

func (t *tagged) save(ctx context.Context, key string, tags map[string]int64, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		t.logger.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	raw, err := json.Marshal(envelope{Tags: tags, Data: data})
	if err != nil {
		t.logger.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := t.store.Set(ctx, key, raw, t.ttl); err != nil {
		t.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}
