// Package metrics records operational counters for the dedup core: cache
// hit ratio, job creations vs joins, outcomes, and reap volume.
package metrics

// Recorder is implemented by the CloudWatch recorder and the no-op used
// when metrics are disabled. Recording is fire-and-forget; implementations
// must never block callers on delivery.
type Recorder interface {
	CacheHit(store string)
	CacheMiss(store string)
	JobCreated(store string)
	JobJoined(store string)
	JobOutcome(store, status string)
	JobsReaped(count int)
}

// Nop discards all metrics.
type Nop struct{}

func (Nop) CacheHit(store string)          {}
func (Nop) CacheMiss(store string)         {}
func (Nop) JobCreated(store string)        {}
func (Nop) JobJoined(store string)         {}
func (Nop) JobOutcome(store, status string) {}
func (Nop) JobsReaped(count int)           {}
