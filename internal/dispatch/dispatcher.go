// Package dispatch fans a batch of product URLs out to the dedup core:
// fresh cache entries are served directly, everything else acquires or
// joins a job and the actual fetch runs in a tracked background goroutine.
package dispatch

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"pricewatch/internal/adapters"
	"pricewatch/internal/events"
	"pricewatch/internal/jobs"
	"pricewatch/internal/metrics"
	"pricewatch/internal/products"
)

// Request is one (store, url) lookup within a batch.
type Request struct {
	Store string
	URL   string
}

// Config bounds the dispatcher.
type Config struct {
	CacheTTL             time.Duration
	JobTimeout           time.Duration
	MaxConcurrentFetches int
}

// Dispatcher owns the background fetch workers. Dispatch never blocks on a
// fetch; Shutdown cancels the workers' base context and drains them.
type Dispatcher struct {
	tracker  *jobs.Tracker
	cache    products.Cache
	registry *adapters.Registry
	events   events.Publisher
	metrics  metrics.Recorder
	cfg      Config
	nowFunc  func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	sem     chan struct{}
}

// New wires a dispatcher. The fetch base context is detached from any
// request context so an early client disconnect cannot kill a shared fetch.
func New(tracker *jobs.Tracker, cache products.Cache, registry *adapters.Registry, pub events.Publisher, rec metrics.Recorder, cfg Config) *Dispatcher {
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		tracker:  tracker,
		cache:    cache,
		registry: registry,
		events:   pub,
		metrics:  rec,
		cfg:      cfg,
		nowFunc:  time.Now,
		baseCtx:  baseCtx,
		cancel:   cancel,
		sem:      make(chan struct{}, cfg.MaxConcurrentFetches),
	}
}

// Dispatch processes every request concurrently and returns one snapshot
// per input URL. A failure on one key never affects the others.
func (d *Dispatcher) Dispatch(ctx context.Context, requests []Request) map[string]Snapshot {
	results := make(map[string]Snapshot, len(requests))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, req := range requests {
		req := req
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap := d.dispatchOne(ctx, req)
			mu.Lock()
			results[req.URL] = snap
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

func (d *Dispatcher) dispatchOne(ctx context.Context, req Request) Snapshot {
	key := jobs.NewKey(req.Store, req.URL)

	adapter, err := d.registry.Lookup(key.Store)
	if err != nil {
		return failedSnapshot(err.Error())
	}

	cached, err := d.cache.GetFresh(ctx, key.Store, key.URL, d.cfg.CacheTTL)
	if err != nil {
		log.Printf("[dispatch] cache read failed for %s: %v", key, err)
	}
	if cached != nil {
		d.metrics.CacheHit(key.Store)
		return d.cachedSnapshot(ctx, key, cached)
	}
	d.metrics.CacheMiss(key.Store)

	job, isNew, err := d.tracker.AcquireOrJoin(ctx, key)
	if err != nil {
		log.Printf("[dispatch] acquire failed for %s: %v", key, err)
		return failedSnapshot("could not acquire fetch job: " + err.Error())
	}
	if isNew {
		d.metrics.JobCreated(key.Store)
		d.startFetch(adapter, key, job.JobID)
	} else {
		d.metrics.JobJoined(key.Store)
	}
	return d.jobSnapshot(job, nil)
}

// cachedSnapshot serves a fresh product. The latest job, if still around,
// lends the snapshot its id and timings; with no job on record the product
// stands alone.
func (d *Dispatcher) cachedSnapshot(ctx context.Context, key jobs.Key, p *products.Product) Snapshot {
	if job, err := d.tracker.GetStatus(ctx, key); err == nil && job != nil && job.Status == jobs.StatusCompleted {
		return d.jobSnapshot(job, p)
	}
	return Snapshot{
		Status:  jobs.StatusCompleted,
		Product: p,
	}
}

// startFetch launches the tracked background fetch for a newly created job.
// The worker runs on the dispatcher's base context: client disconnects do
// not cancel it, Shutdown does.
func (d *Dispatcher) startFetch(adapter adapters.StoreAdapter, key jobs.Key, jobID string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		select {
		case d.sem <- struct{}{}:
			defer func() { <-d.sem }()
		case <-d.baseCtx.Done():
			return
		}
		ctx := d.baseCtx

		if err := d.tracker.MarkRunning(ctx, key, jobID); err != nil {
			if errors.Is(err, jobs.ErrStaleJob) {
				return
			}
			log.Printf("[dispatch] mark running failed for job=%s: %v", jobID, err)
		}

		product, err := adapter.FetchAndExtract(ctx, key.URL)
		if err != nil {
			if ctx.Err() != nil {
				// Shutdown aborted the fetch; leave the job for the reaper
				// rather than recording a spurious failure.
				return
			}
			if failErr := d.tracker.Fail(ctx, key, jobID, err.Error()); failErr != nil {
				if errors.Is(failErr, jobs.ErrStaleJob) {
					// The job was superseded; its outcome was dropped, so
					// no event or metric either.
					return
				}
				log.Printf("[dispatch] fail transition error for job=%s: %v", jobID, failErr)
			}
			d.metrics.JobOutcome(key.Store, string(jobs.StatusFailed))
			d.publish(key, jobID, jobs.StatusFailed, 0)
			return
		}

		if err := d.tracker.Complete(ctx, key, jobID, *product); err != nil {
			if !errors.Is(err, jobs.ErrStaleJob) {
				log.Printf("[dispatch] complete transition error for job=%s: %v", jobID, err)
			}
			return
		}
		d.metrics.JobOutcome(key.Store, string(jobs.StatusCompleted))
		d.publish(key, jobID, jobs.StatusCompleted, product.Price)
	}()
}

func (d *Dispatcher) publish(key jobs.Key, jobID string, status jobs.Status, price float64) {
	ev := events.PriceEvent{
		Store:      key.Store,
		URL:        key.URL,
		JobID:      jobID,
		Status:     string(status),
		Price:      price,
		OccurredAt: d.nowFunc().UTC(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.events.Publish(ctx, ev); err != nil {
		log.Printf("[dispatch] publish price event for job=%s failed: %v", jobID, err)
	}
}

// Shutdown cancels in-flight fetches and waits for the workers to exit, up
// to the context's deadline.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.cancel()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
