package reaper

import (
	"context"
	"sync"
	"testing"
	"time"

	"pricewatch/internal/jobs"
	"pricewatch/internal/metrics"
	"pricewatch/internal/products"
)

// memStore implements jobs.Store over a map with the usual guards.
type memStore struct {
	mu   sync.Mutex
	jobs map[string]jobs.Job
}

func newMemStore() *memStore {
	return &memStore{jobs: map[string]jobs.Job{}}
}

func (m *memStore) Create(ctx context.Context, job jobs.Job) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.jobs[job.Key().String()]; ok && cur.Active() {
		return false, nil
	}
	m.jobs[job.Key().String()] = job
	return true, nil
}

func (m *memStore) GetLatest(ctx context.Context, key jobs.Key) (*jobs.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.jobs[key.String()]
	if !ok {
		return nil, nil
	}
	cp := cur
	return &cp, nil
}

func (m *memStore) mutate(key jobs.Key, jobID string, apply func(*jobs.Job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.jobs[key.String()]
	if !ok || cur.JobID != jobID || !cur.Active() {
		return jobs.ErrStaleJob
	}
	apply(&cur)
	cur.UpdateTime = time.Now().UTC()
	m.jobs[key.String()] = cur
	return nil
}

func (m *memStore) MarkRunning(ctx context.Context, key jobs.Key, jobID string) error {
	return m.mutate(key, jobID, func(j *jobs.Job) { j.Status = jobs.StatusRunning })
}

func (m *memStore) Complete(ctx context.Context, key jobs.Key, jobID string) error {
	return m.mutate(key, jobID, func(j *jobs.Job) {
		j.Status = jobs.StatusCompleted
		j.PriceFound = true
	})
}

func (m *memStore) Fail(ctx context.Context, key jobs.Key, jobID, errMsg string) error {
	return m.mutate(key, jobID, func(j *jobs.Job) {
		j.Status = jobs.StatusFailed
		j.ErrorMessage = errMsg
	})
}

func (m *memStore) Timeout(ctx context.Context, key jobs.Key, jobID string) error {
	return m.mutate(key, jobID, func(j *jobs.Job) {
		j.Status = jobs.StatusTimeout
		j.ErrorMessage = jobs.TimeoutMessage
	})
}

func (m *memStore) ListExpired(ctx context.Context, cutoff time.Time) ([]jobs.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []jobs.Job
	for _, j := range m.jobs {
		if j.Active() && j.StartTime.Before(cutoff) {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *memStore) PruneTerminal(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pruned := 0
	for k, j := range m.jobs {
		if j.Status.Terminal() && j.UpdateTime.Before(cutoff) {
			delete(m.jobs, k)
			pruned++
		}
	}
	return pruned, nil
}

func TestReapOnce_TimesOutOnlyExpiredActiveJobs(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	now := time.Now()

	expired := jobs.NewJob(jobs.NewKey("walmart", "http://x/old"), now.Add(-30*time.Minute), 24*time.Hour)
	fresh := jobs.NewJob(jobs.NewKey("walmart", "http://x/new"), now.Add(-1*time.Minute), 24*time.Hour)
	done := jobs.NewJob(jobs.NewKey("walmart", "http://x/done"), now.Add(-30*time.Minute), 24*time.Hour)
	for _, j := range []jobs.Job{expired, fresh, done} {
		if ok, _ := store.Create(ctx, j); !ok {
			t.Fatal("fixture create failed")
		}
	}
	if err := store.Complete(ctx, done.Key(), done.JobID); err != nil {
		t.Fatalf("fixture complete: %v", err)
	}

	r := New(store, 10*time.Minute, time.Minute, metrics.Nop{})
	reaped, err := r.ReapOnce(ctx)
	if err != nil {
		t.Fatalf("ReapOnce error: %v", err)
	}
	if reaped != 1 {
		t.Fatalf("expected 1 reaped job, got %d", reaped)
	}

	got, _ := store.GetLatest(ctx, expired.Key())
	if got.Status != jobs.StatusTimeout || got.ErrorMessage != jobs.TimeoutMessage {
		t.Fatalf("expired job not timed out: %+v", got)
	}
	if got, _ := store.GetLatest(ctx, fresh.Key()); got.Status != jobs.StatusPending {
		t.Fatalf("fresh job must be untouched: %+v", got)
	}
	if got, _ := store.GetLatest(ctx, done.Key()); got.Status != jobs.StatusCompleted {
		t.Fatalf("terminal job must be untouched: %+v", got)
	}
}

func TestReapOnce_FreesKeyForNewJob(t *testing.T) {
	store := newMemStore()
	cache := nopCache{}
	tracker := jobs.NewTracker(store, cache, jobs.TrackerConfig{
		Timeout:        10 * time.Minute,
		CreateRetryMax: 1,
		WriteRetryMax:  1,
		Retention:      24 * time.Hour,
	})
	ctx := context.Background()
	key := jobs.NewKey("walmart", "http://x/1")

	stale := jobs.NewJob(key, time.Now().Add(-30*time.Minute), 24*time.Hour)
	if ok, _ := store.Create(ctx, stale); !ok {
		t.Fatal("fixture create failed")
	}

	r := New(store, 10*time.Minute, time.Minute, metrics.Nop{})
	if _, err := r.ReapOnce(ctx); err != nil {
		t.Fatalf("ReapOnce error: %v", err)
	}

	job, isNew, err := tracker.AcquireOrJoin(ctx, key)
	if err != nil {
		t.Fatalf("AcquireOrJoin error: %v", err)
	}
	if !isNew || job.JobID == stale.JobID {
		t.Fatalf("reaped key must admit a brand-new job, got new=%v id=%s", isNew, job.JobID)
	}

	// A late completion from the reaped job must bounce off the guard.
	if err := store.Complete(ctx, key, stale.JobID); err != jobs.ErrStaleJob {
		t.Fatalf("expected ErrStaleJob for the reaped id, got %v", err)
	}
	got, _ := store.GetLatest(ctx, key)
	if got.JobID != job.JobID || got.Status != jobs.StatusPending {
		t.Fatalf("new job was disturbed: %+v", got)
	}
}

func TestRun_SweepsOnIntervalUntilCancelled(t *testing.T) {
	store := newMemStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stale := jobs.NewJob(jobs.NewKey("walmart", "http://x/1"), time.Now().Add(-time.Hour), 24*time.Hour)
	if ok, _ := store.Create(context.Background(), stale); !ok {
		t.Fatal("fixture create failed")
	}

	r := New(store, 10*time.Minute, 10*time.Millisecond, metrics.Nop{})
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		got, _ := store.GetLatest(context.Background(), stale.Key())
		if got.Status == jobs.StatusTimeout {
			cancel()
			<-done
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Run never reaped the stale job")
}

type nopCache struct{}

func (nopCache) GetFresh(ctx context.Context, store, url string, ttl time.Duration) (*products.Product, error) {
	return nil, nil
}

func (nopCache) Put(ctx context.Context, p products.Product) error { return nil }
