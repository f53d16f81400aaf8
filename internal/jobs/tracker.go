package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"pricewatch/internal/products"
)

// TrackerConfig carries the knobs the dedup core runs on. Values come from
// configuration; the tracker has no defaults of its own.
type TrackerConfig struct {
	Timeout        time.Duration // active job older than this is reaped on read
	CreateRetryMax int           // extra attempts after a creation conflict
	WriteRetryMax  int           // extra attempts on transition/cache writes
	Retention      time.Duration // expires_at horizon stamped on new jobs
}

// Tracker is the job deduplication core. It guarantees at most one active
// job per key, joins concurrent callers onto the existing job, and guards
// every transition against stale job ids.
type Tracker struct {
	store   Store
	cache   products.Cache
	cfg     TrackerConfig
	nowFunc func() time.Time
}

// NewTracker wires the tracker to a job store and the product cache.
func NewTracker(store Store, cache products.Cache, cfg TrackerConfig) *Tracker {
	return &Tracker{
		store:   store,
		cache:   cache,
		cfg:     cfg,
		nowFunc: time.Now,
	}
}

// AcquireOrJoin atomically creates a pending job for the key, or returns the
// key's existing active job with isNew=false when another caller got there
// first. An active job found to be older than the timeout is timed out in
// place and creation is retried, so an abandoned fetch cannot wedge the key
// until the next reaper pass.
func (t *Tracker) AcquireOrJoin(ctx context.Context, key Key) (*Job, bool, error) {
	for attempt := 0; attempt <= t.cfg.CreateRetryMax; attempt++ {
		job := NewJob(key, t.nowFunc(), t.cfg.Retention)
		created, err := t.store.Create(ctx, job)
		if err != nil {
			return nil, false, fmt.Errorf("create job for %s: %w", key, err)
		}
		if created {
			log.Printf("[jobs] created job=%s key=%s", job.JobID, key)
			return &job, true, nil
		}

		existing, err := t.store.GetLatest(ctx, key)
		if err != nil {
			return nil, false, fmt.Errorf("read job after conflict for %s: %w", key, err)
		}
		if existing == nil || !existing.Active() {
			// The conflicting job settled between our put and read; retry.
			continue
		}
		if existing.ExpiredBy(t.nowFunc(), t.cfg.Timeout) {
			if err := t.store.Timeout(ctx, key, existing.JobID); err != nil && !errors.Is(err, ErrStaleJob) {
				return nil, false, fmt.Errorf("reap expired job %s: %w", existing.JobID, err)
			}
			log.Printf("[jobs] reaped expired job=%s key=%s on acquire", existing.JobID, key)
			continue
		}

		log.Printf("[jobs] joined job=%s key=%s", existing.JobID, key)
		return existing, false, nil
	}
	return nil, false, fmt.Errorf("acquire job for %s: creation retries exhausted", key)
}

// MarkRunning moves the job from pending to running. The fetch worker calls
// it immediately before the adapter call; ErrStaleJob means the job was
// superseded and the worker should abandon the fetch.
func (t *Tracker) MarkRunning(ctx context.Context, key Key, jobID string) error {
	err := t.retryWrite(func() error { return t.store.MarkRunning(ctx, key, jobID) })
	if errors.Is(err, ErrStaleJob) {
		log.Printf("[jobs] stale mark-running ignored key=%s job=%s", key, jobID)
		return ErrStaleJob
	}
	return err
}

// Complete settles the job as completed and writes the product through the
// cache. A stale job id makes the operation a no-op — neither the job row
// nor the product is touched — reported as ErrStaleJob so the caller can
// drop the result's side effects too. A product write that keeps failing
// after retries is logged and swallowed — the fetch succeeded, it just is
// not cached.
func (t *Tracker) Complete(ctx context.Context, key Key, jobID string, product products.Product) error {
	err := t.retryWrite(func() error { return t.store.Complete(ctx, key, jobID) })
	if errors.Is(err, ErrStaleJob) {
		log.Printf("[jobs] stale complete dropped key=%s job=%s", key, jobID)
		return ErrStaleJob
	}
	if err != nil {
		return fmt.Errorf("complete job %s: %w", jobID, err)
	}

	if err := t.retryWrite(func() error { return t.cache.Put(ctx, product) }); err != nil {
		log.Printf("[jobs] job=%s completed but product not cached for %s: %v", jobID, key, err)
	}
	return nil
}

// Fail settles the job as failed with the message recorded. A stale job id
// is a no-op reported as ErrStaleJob.
func (t *Tracker) Fail(ctx context.Context, key Key, jobID, errMsg string) error {
	err := t.retryWrite(func() error { return t.store.Fail(ctx, key, jobID, errMsg) })
	if errors.Is(err, ErrStaleJob) {
		log.Printf("[jobs] stale fail dropped key=%s job=%s", key, jobID)
		return ErrStaleJob
	}
	if err != nil {
		return fmt.Errorf("fail job %s: %w", jobID, err)
	}
	return nil
}

// GetStatus returns the key's latest job, active or terminal, without
// triggering any fetch. Nil when the key has never been requested.
func (t *Tracker) GetStatus(ctx context.Context, key Key) (*Job, error) {
	return t.store.GetLatest(ctx, key)
}

// retryWrite runs op up to WriteRetryMax+1 times. ErrStaleJob aborts
// immediately: retrying a guarded transition cannot make it less stale.
func (t *Tracker) retryWrite(op func() error) error {
	var err error
	for attempt := 0; attempt <= t.cfg.WriteRetryMax; attempt++ {
		err = op()
		if err == nil || errors.Is(err, ErrStaleJob) {
			return err
		}
	}
	return err
}
