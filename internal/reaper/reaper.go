// Package reaper sweeps abandoned active jobs past the job timeout into
// the terminal timeout state, freeing their keys for new fetches. It only
// updates bookkeeping: an underlying fetch that is somehow still running
// keeps going, and its late result is dropped by the staleness guards.
package reaper

import (
	"context"
	"errors"
	"log"
	"time"

	"pricewatch/internal/jobs"
	"pricewatch/internal/metrics"
)

// Reaper times out active jobs whose start_time has fallen behind the
// configured timeout.
type Reaper struct {
	store    jobs.Store
	timeout  time.Duration
	interval time.Duration
	metrics  metrics.Recorder
	nowFunc  func() time.Time
}

// New wires a reaper. interval only matters for Run; ReapOnce can be
// called on demand regardless.
func New(store jobs.Store, timeout, interval time.Duration, rec metrics.Recorder) *Reaper {
	return &Reaper{
		store:    store,
		timeout:  timeout,
		interval: interval,
		metrics:  rec,
		nowFunc:  time.Now,
	}
}

// ReapOnce sweeps expired active jobs and returns how many were timed out.
// A job that settles between the scan and the transition is skipped; that
// race is the staleness guard doing its job.
func (r *Reaper) ReapOnce(ctx context.Context) (int, error) {
	cutoff := r.nowFunc().Add(-r.timeout)
	expired, err := r.store.ListExpired(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, job := range expired {
		if err := r.store.Timeout(ctx, job.Key(), job.JobID); err != nil {
			if errors.Is(err, jobs.ErrStaleJob) {
				continue
			}
			return reaped, err
		}
		log.Printf("[reaper] timed out job=%s key=%s started=%s", job.JobID, job.Key(), job.StartTime.Format(time.RFC3339))
		reaped++
	}
	if reaped > 0 {
		r.metrics.JobsReaped(reaped)
	}
	return reaped, nil
}

// Run sweeps on the configured interval until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.ReapOnce(ctx); err != nil {
				log.Printf("[reaper] sweep failed: %v", err)
			}
		}
	}
}
