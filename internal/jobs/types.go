package jobs

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
)

// TimeoutMessage is the error recorded on jobs reaped past the job timeout.
const TimeoutMessage = "request timed out"

// Active reports whether the status still occupies the dedup slot.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusRunning
}

// Terminal reports whether the status frees the dedup slot.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusTimeout
}

// Key identifies one product lookup: a store name and a normalized URL.
// It is the unit of deduplication and caching.
type Key struct {
	Store string
	URL   string
}

// NewKey normalizes the raw store/url pair.
func NewKey(store, url string) Key {
	return Key{
		Store: strings.ToLower(strings.TrimSpace(store)),
		URL:   strings.TrimSpace(url),
	}
}

// String is the composite form used by key-value backends.
func (k Key) String() string {
	return k.Store + "#" + k.URL
}

// Job is one tracked fetch attempt for a Key.
type Job struct {
	Store        string    `json:"store" dynamodbav:"store"`
	URL          string    `json:"url" dynamodbav:"url"`
	JobID        string    `json:"job_id" dynamodbav:"job_id"`
	Status       Status    `json:"status" dynamodbav:"status"`
	StartTime    time.Time `json:"start_time" dynamodbav:"start_time"`
	UpdateTime   time.Time `json:"update_time" dynamodbav:"update_time"`
	PriceFound   bool      `json:"price_found" dynamodbav:"price_found"`
	ErrorMessage string    `json:"error_message,omitempty" dynamodbav:"error_message,omitempty"`
	ExpiresAt    int64     `json:"-" dynamodbav:"expires_at"` // DynamoDB TTL epoch seconds
}

// Key returns the job's dedup key.
func (j *Job) Key() Key {
	return Key{Store: j.Store, URL: j.URL}
}

// Active reports whether the job still occupies the dedup slot.
func (j *Job) Active() bool {
	return j.Status.Active()
}

// ExpiredBy reports whether an active job has outlived the timeout.
func (j *Job) ExpiredBy(now time.Time, timeout time.Duration) bool {
	return j.Active() && now.Sub(j.StartTime) >= timeout
}

// NewJob builds a pending job for the key. The id embeds the store and the
// creation second plus a random suffix, so concurrent creations for the
// same key cannot collide. Times are stored in UTC so their serialized
// forms stay comparable.
func NewJob(key Key, now time.Time, retention time.Duration) Job {
	now = now.UTC()
	return Job{
		Store:      key.Store,
		URL:        key.URL,
		JobID:      fmt.Sprintf("%s_%d_%s", key.Store, now.Unix(), uuid.NewString()[:8]),
		Status:     StatusPending,
		StartTime:  now,
		UpdateTime: now,
		ExpiresAt:  now.Add(retention).Unix(),
	}
}
