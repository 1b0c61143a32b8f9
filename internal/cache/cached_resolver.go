package cache

import (
	"context"
	"time"

	"taxcore/internal/metrics"
	"taxcore/internal/model"
	"taxcore/internal/service"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultTTL bounds how long an entry lives even without invalidation.
const DefaultTTL = 10 * time.Minute

// Options configures the cache decorators.
type Options struct {
	TTL     time.Duration
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

func (o Options) tagged(store Store) *tagged {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return &tagged{store: store, ttl: o.TTL, metrics: o.Metrics, logger: o.Logger.Named("cache")}
}

type cachedResolver struct {
	inner  service.GroupResolver
	groups service.GroupLookup
	cache  *tagged
}

// NewCachedResolver caches the per-reference group lookup of inner. Group
// records for display are read through groups, which is usually the cached
// rate source's repository.
func NewCachedResolver(inner service.GroupResolver, groups service.GroupLookup, store Store, opts Options) service.GroupResolver {
	return &cachedResolver{inner: inner, groups: groups, cache: opts.tagged(store)}
}

func (c *cachedResolver) GroupIDsFor(ctx context.Context, ref model.Reference) ([]uuid.UUID, error) {
	ref = ref.Normalize()
	key := cacheReferences + ":" + refKey(ref.Type, ref.ID)

	var ids []uuid.UUID
	if c.cache.load(ctx, cacheReferences, key, &ids) {
		return ids, nil
	}

	snap, ok := c.cache.snapshot(ctx, refTag(ref.Type, ref.ID), refTypeTag(ref.Type))
	ids, err := c.inner.GroupIDsFor(ctx, ref)
	if err != nil {
		return nil, err
	}
	if ok {
		c.cache.save(ctx, key, snap, ids)
	}
	return ids, nil
}

func (c *cachedResolver) ResolveGroups(ctx context.Context, refs []model.Reference) (*service.Resolution, error) {
	return service.Resolve(ctx, refs, c.GroupIDsFor)
}

func (c *cachedResolver) GroupsForEntity(ctx context.Context, ref model.Reference) ([]model.TaxGroup, error) {
	ref = ref.Normalize()
	if ref.Type == "" || ref.ID == "" {
		return []model.TaxGroup{}, nil
	}
	ids, err := c.GroupIDsFor(ctx, ref)
	if err != nil {
		return nil, err
	}
	groups, err := c.groups.GetGroups(ctx, ids)
	if err != nil {
		return nil, err
	}
	if groups == nil {
		groups = []model.TaxGroup{}
	}
	return groups, nil
}

// FindOverlapping is a diagnostic and always reads through.
func (c *cachedResolver) FindOverlapping(ctx context.Context, ref model.Reference) ([]model.TaxAssignment, error) {
	return c.inner.FindOverlapping(ctx, ref)
}
