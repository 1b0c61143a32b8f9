// Package cache decorates the resolver and the rate source with a shared,
// tag-versioned read cache.
//
// Every entry records the version of each tag it depends on at the moment
// the underlying read started. Writers bump the versions of the tags they
// touch; an entry whose recorded versions no longer match is treated as a
// miss. A read racing a write can therefore never be served after the write
// has been invalidated.
package cache

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks taxcore/internal/cache Store

import (
	"context"
	"errors"
	"net/url"
	"time"
)

// ErrMiss is returned by Store.Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Store is the storage backend of the cache. Versions of unknown tags are 0.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Versions(ctx context.Context, tags []string) ([]int64, error)
	Bump(ctx context.Context, tags []string) error
}

// Cache names used for metrics and keys
const (
	cacheReferences = "references"
	cacheGroups     = "groups"
	cacheRates      = "rates"
)

// refKey escapes both halves so a ':' inside a type or id cannot make two
// references share a key.
func refKey(typ, id string) string { return url.PathEscape(typ) + ":" + url.PathEscape(id) }

func refTag(typ, id string) string { return "ref:" + refKey(typ, id) }
func refTypeTag(typ string) string { return "reftype:" + url.PathEscape(typ) }
func groupTag(id string) string    { return "group:" + id }
