package products

import (
	"context"
	"time"
)

// Cache stores the most recent Product per (store, url) key.
//
// GetFresh returns (nil, nil) when the key is absent or the entry is older
// than ttl — stale entries are not deleted on read, eviction is lazy.
// Put upserts, last write wins. A product carrying no timestamp is stamped
// with now (a fresh fetch); one that already has a timestamp keeps it, so
// copying an entry between tiers cannot extend its freshness window.
type Cache interface {
	GetFresh(ctx context.Context, store, url string, ttl time.Duration) (*Product, error)
	Put(ctx context.Context, p Product) error
}

// cacheKey is the composite key used by key-value backends.
func cacheKey(store, url string) string {
	return store + "#" + url
}
