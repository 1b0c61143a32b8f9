package cache

import (
	"context"

	"taxcore/internal/model"
	"taxcore/internal/service"

	"github.com/google/uuid"
)

type cachedRateSource struct {
	inner service.RateSource
	cache *tagged
}

// NewCachedRateSource caches group records and group rate lists, both keyed
// on the group tag. Not-found results are not cached.
func NewCachedRateSource(inner service.RateSource, store Store, opts Options) service.RateSource {
	return &cachedRateSource{inner: inner, cache: opts.tagged(store)}
}

func (c *cachedRateSource) GetGroup(ctx context.Context, id uuid.UUID) (*model.TaxGroup, error) {
	key := cacheGroups + ":" + id.String()

	var group model.TaxGroup
	if c.cache.load(ctx, cacheGroups, key, &group) {
		return &group, nil
	}

	snap, ok := c.cache.snapshot(ctx, groupTag(id.String()))
	found, err := c.inner.GetGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	if ok {
		c.cache.save(ctx, key, snap, found)
	}
	return found, nil
}

func (c *cachedRateSource) GetRates(ctx context.Context, groupID uuid.UUID) ([]model.TaxRate, error) {
	key := cacheRates + ":" + groupID.String()

	var rates []model.TaxRate
	if c.cache.load(ctx, cacheRates, key, &rates) {
		return rates, nil
	}

	snap, ok := c.cache.snapshot(ctx, groupTag(groupID.String()))
	rates, err := c.inner.GetRates(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if ok {
		c.cache.save(ctx, key, snap, rates)
	}
	return rates, nil
}
