package dispatch

import (
	"fmt"
	"time"

	"pricewatch/internal/jobs"
	"pricewatch/internal/products"
)

// Snapshot is the per-URL view returned to the caller: the job's current
// lifecycle state plus the product when one is available.
type Snapshot struct {
	Status           jobs.Status       `json:"status"`
	JobID            string            `json:"job_id,omitempty"`
	StartTime        *time.Time        `json:"start_time,omitempty"`
	ElapsedSeconds   float64           `json:"elapsed_seconds"`
	RemainingSeconds float64           `json:"remaining_seconds"`
	ErrorMessage     string            `json:"error_message,omitempty"`
	Details          string            `json:"details,omitempty"`
	Product          *products.Product `json:"product,omitempty"`
}

func (d *Dispatcher) jobSnapshot(job *jobs.Job, p *products.Product) Snapshot {
	elapsed := d.nowFunc().Sub(job.StartTime).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := 0.0
	if job.Status.Active() {
		remaining = d.cfg.JobTimeout.Seconds() - elapsed
		if remaining < 0 {
			remaining = 0
		}
	}

	start := job.StartTime
	return Snapshot{
		Status:           job.Status,
		JobID:            job.JobID,
		StartTime:        &start,
		ElapsedSeconds:   elapsed,
		RemainingSeconds: remaining,
		ErrorMessage:     job.ErrorMessage,
		Details:          statusDetails(job.Status, elapsed, remaining),
		Product:          p,
	}
}

func failedSnapshot(msg string) Snapshot {
	return Snapshot{
		Status:       jobs.StatusFailed,
		ErrorMessage: msg,
	}
}

func statusDetails(status jobs.Status, elapsed, remaining float64) string {
	switch status {
	case jobs.StatusCompleted:
		return fmt.Sprintf("Request completed in %.1f seconds", elapsed)
	case jobs.StatusPending, jobs.StatusRunning:
		return fmt.Sprintf("Request running for %.1f seconds, %.1f seconds remaining", elapsed, remaining)
	case jobs.StatusFailed, jobs.StatusTimeout:
		return fmt.Sprintf("Request %s after %.1f seconds", status, elapsed)
	}
	return ""
}
