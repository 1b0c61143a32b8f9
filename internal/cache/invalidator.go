package cache

import (
	"context"
	"time"

	"taxcore/internal/apperr"
	"taxcore/internal/metrics"
	"taxcore/internal/model"
	"taxcore/internal/service"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// DefaultInvalidationRetries is the number of retries after the first
// failed bump.
const DefaultInvalidationRetries = 3

// Invalidator bumps the tags touched by a committed write, retrying with
// exponential backoff.
type Invalidator struct {
	store      Store
	maxRetries uint64
	interval   time.Duration
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

func NewInvalidator(store Store, maxRetries int, m *metrics.Metrics, logger *zap.Logger) *Invalidator {
	if maxRetries < 0 {
		maxRetries = DefaultInvalidationRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Invalidator{
		store:      store,
		maxRetries: uint64(maxRetries),
		interval:   50 * time.Millisecond,
		metrics:    m,
		logger:     logger.Named("cache"),
	}
}

var _ service.CacheInvalidator = (*Invalidator)(nil)

// Invalidate bumps every affected tag. A reference using the "all" id bumps
// the type tag so every entity of that type is refreshed.
func (i *Invalidator) Invalidate(ctx context.Context, inv service.Invalidation) error {
	tags := Tags(inv)
	if len(tags) == 0 {
		return nil
	}

	attempt := 0
	op := func() error {
		attempt++
		err := i.store.Bump(ctx, tags)
		if err != nil {
			i.metrics.Invalidation("retry")
			i.logger.Warn("cache invalidation attempt failed",
				zap.Int("attempt", attempt),
				zap.Strings("tags", tags),
				zap.Error(err),
			)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = i.interval
	policy.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(policy, i.maxRetries), ctx)

	if err := backoff.Retry(op, b); err != nil {
		i.metrics.Invalidation("failed")
		i.logger.Error("cache invalidation failed", zap.Strings("tags", tags), zap.Int("attempts", attempt), zap.Error(err))
		return apperr.Unavailable(err, "cache.invalidate", "invalidation failed")
	}

	i.metrics.Invalidation("ok")
	i.logger.Debug("cache invalidated", zap.Strings("tags", tags))
	return nil
}

// Tags lists the distinct version tags an invalidation bumps.
func Tags(inv service.Invalidation) []string {
	seen := make(map[string]bool)
	var tags []string
	add := func(tag string) {
		if !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}

	for _, id := range inv.GroupIDs {
		add(groupTag(id.String()))
	}
	for _, ref := range inv.References {
		ref = ref.Normalize()
		if ref.Type == "" {
			continue
		}
		if ref.ID == model.GlobalAssignableID {
			add(refTypeTag(ref.Type))
			continue
		}
		if ref.ID != "" {
			add(refTag(ref.Type, ref.ID))
		}
	}
	return tags
}
