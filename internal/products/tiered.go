package products

import (
	"context"
	"log"
	"time"
)

// TieredCache layers a fast front cache (Redis) over a durable back cache
// (DynamoDB or Postgres). Reads prefer the front and backfill it from the
// back on a miss; writes go to the back first so a front failure can never
// lose the only copy.
type TieredCache struct {
	front Cache
	back  Cache
}

// NewTiered wires a two-level cache.
func NewTiered(front, back Cache) *TieredCache {
	return &TieredCache{front: front, back: back}
}

func (t *TieredCache) GetFresh(ctx context.Context, store, url string, ttl time.Duration) (*Product, error) {
	p, err := t.front.GetFresh(ctx, store, url, ttl)
	if err != nil {
		log.Printf("[cache] front read failed for %s: %v", cacheKey(store, url), err)
	}
	if p != nil {
		return p, nil
	}

	p, err = t.back.GetFresh(ctx, store, url, ttl)
	if err != nil || p == nil {
		return p, err
	}
	// The backfilled copy keeps the original fetch time, so its freshness
	// window is the same as the back copy's.
	if err := t.front.Put(ctx, *p); err != nil {
		log.Printf("[cache] front backfill failed for %s: %v", cacheKey(store, url), err)
	}
	return p, nil
}

func (t *TieredCache) Put(ctx context.Context, p Product) error {
	if err := t.back.Put(ctx, p); err != nil {
		return err
	}
	if err := t.front.Put(ctx, p); err != nil {
		log.Printf("[cache] front write failed for %s: %v", cacheKey(p.Store, p.URL), err)
	}
	return nil
}
