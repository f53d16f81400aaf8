package jobs

import (
	"context"
	"errors"
	"time"
)

// ErrStaleJob signals a mutation referencing a job id that is no longer the
// key's active job — it was superseded by a reap or a later job. Callers
// log and move on; stale writes never resurrect the dedup slot.
var ErrStaleJob = errors.New("job superseded")

// Store persists jobs and enforces the at-most-one-active invariant per
// key. All transition methods return ErrStaleJob when the guard fails.
type Store interface {
	// Create atomically inserts the pending job unless the key already has
	// an active job; returns created=false on that conflict.
	Create(ctx context.Context, job Job) (bool, error)

	// GetLatest returns the newest job for the key, nil when none exists.
	GetLatest(ctx context.Context, key Key) (*Job, error)

	// MarkRunning transitions pending → running for the given job id.
	MarkRunning(ctx context.Context, key Key, jobID string) error

	// Complete transitions the active job to completed and sets price_found.
	Complete(ctx context.Context, key Key, jobID string) error

	// Fail transitions the active job to failed with the message recorded.
	Fail(ctx context.Context, key Key, jobID, errMsg string) error

	// Timeout transitions the active job to timeout with the fixed message.
	Timeout(ctx context.Context, key Key, jobID string) error

	// ListExpired returns active jobs whose start_time is before cutoff.
	ListExpired(ctx context.Context, cutoff time.Time) ([]Job, error)

	// PruneTerminal deletes terminal jobs not updated since cutoff and
	// returns how many were removed.
	PruneTerminal(ctx context.Context, cutoff time.Time) (int, error)
}
