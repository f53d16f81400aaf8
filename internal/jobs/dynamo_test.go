package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// slotMock is an in-memory stand-in for the jobs table. It evaluates only
// the condition expressions this package actually sends.
type slotMock struct {
	mu    sync.Mutex
	table map[string]map[string]types.AttributeValue
}

func newSlotMock() *slotMock {
	return &slotMock{table: map[string]map[string]types.AttributeValue{}}
}

func itemString(item map[string]types.AttributeValue, attr string) string {
	if v, ok := item[attr].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func (m *slotMock) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := itemString(params.Item, "cache_key")
	if key == "" {
		return nil, errors.New("missing cache_key")
	}
	if params.ConditionExpression != nil && *params.ConditionExpression == condSlotFree {
		if existing, ok := m.table[key]; ok {
			status := Status(itemString(existing, "status"))
			if status.Active() {
				return nil, &types.ConditionalCheckFailedException{}
			}
		}
	}
	m.table[key] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *slotMock) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.table[itemString(params.Key, "cache_key")]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *slotMock) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := itemString(params.Key, "cache_key")
	item, ok := m.table[key]
	if !ok {
		return nil, &types.ConditionalCheckFailedException{}
	}

	status := Status(itemString(item, "status"))
	jid := ""
	if v, ok := params.ExpressionAttributeValues[":jid"].(*types.AttributeValueMemberS); ok {
		jid = v.Value
	}
	if params.ConditionExpression != nil {
		switch *params.ConditionExpression {
		case condPendingOnly:
			if itemString(item, "job_id") != jid || status != StatusPending {
				return nil, &types.ConditionalCheckFailedException{}
			}
		case condActiveOnly:
			if itemString(item, "job_id") != jid || !status.Active() {
				return nil, &types.ConditionalCheckFailedException{}
			}
		default:
			return nil, errors.New("unexpected condition: " + *params.ConditionExpression)
		}
	}

	// Apply the SET clauses by their value placeholders.
	if v, ok := params.ExpressionAttributeValues[":running"]; ok {
		item["status"] = v
	}
	if v, ok := params.ExpressionAttributeValues[":completed"]; ok {
		item["status"] = v
	}
	if v, ok := params.ExpressionAttributeValues[":to"]; ok {
		item["status"] = v
	}
	if v, ok := params.ExpressionAttributeValues[":found"]; ok {
		item["price_found"] = v
	}
	if v, ok := params.ExpressionAttributeValues[":em"]; ok {
		item["error_message"] = v
	}
	if v, ok := params.ExpressionAttributeValues[":ut"]; ok {
		item["update_time"] = v
	}
	m.table[key] = item
	return &dyn.UpdateItemOutput{Attributes: item}, nil
}

func (m *slotMock) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := ""
	if v, ok := params.ExpressionAttributeValues[":cutoff"].(*types.AttributeValueMemberS); ok {
		cutoff = v.Value
	}
	out := &dyn.ScanOutput{}
	for _, item := range m.table {
		status := Status(itemString(item, "status"))
		switch *params.FilterExpression {
		case filterExpiredActive:
			if status.Active() && itemString(item, "start_time") < cutoff {
				out.Items = append(out.Items, item)
			}
		case filterTerminalBefore:
			if status.Terminal() && itemString(item, "update_time") < cutoff {
				out.Items = append(out.Items, item)
			}
		default:
			return nil, errors.New("unexpected filter: " + *params.FilterExpression)
		}
	}
	return out, nil
}

func (m *slotMock) DeleteItem(ctx context.Context, params *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := itemString(params.Key, "cache_key")
	item, ok := m.table[key]
	if !ok {
		return nil, &types.ConditionalCheckFailedException{}
	}
	if params.ConditionExpression != nil && *params.ConditionExpression == condSameJob {
		jid := params.ExpressionAttributeValues[":jid"].(*types.AttributeValueMemberS).Value
		if itemString(item, "job_id") != jid {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	delete(m.table, key)
	return &dyn.DeleteItemOutput{}, nil
}

func mustCreate(t *testing.T, s *DynamoStore, job Job) {
	t.Helper()
	created, err := s.Create(context.Background(), job)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if !created {
		t.Fatalf("expected job %s to be created", job.JobID)
	}
}

func TestDynamoStore_CreateConflictOnActiveSlot(t *testing.T) {
	store := NewDynamoStore(newSlotMock(), "jobs")
	key := NewKey("walmart", "http://x/1")
	ctx := context.Background()

	mustCreate(t, store, NewJob(key, time.Now(), 24*time.Hour))

	created, err := store.Create(ctx, NewJob(key, time.Now(), 24*time.Hour))
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if created {
		t.Fatal("second create for an active key must report a conflict")
	}
}

func TestDynamoStore_CreateReusesTerminalSlot(t *testing.T) {
	store := NewDynamoStore(newSlotMock(), "jobs")
	key := NewKey("walmart", "http://x/1")
	ctx := context.Background()

	first := NewJob(key, time.Now(), 24*time.Hour)
	mustCreate(t, store, first)
	if err := store.Complete(ctx, key, first.JobID); err != nil {
		t.Fatalf("Complete error: %v", err)
	}

	second := NewJob(key, time.Now(), 24*time.Hour)
	mustCreate(t, store, second)

	got, err := store.GetLatest(ctx, key)
	if err != nil {
		t.Fatalf("GetLatest error: %v", err)
	}
	if got.JobID != second.JobID || got.Status != StatusPending {
		t.Fatalf("slot should hold the new pending job, got %+v", got)
	}
}

func TestDynamoStore_TransitionsAndStaleGuard(t *testing.T) {
	store := NewDynamoStore(newSlotMock(), "jobs")
	key := NewKey("walmart", "http://x/1")
	ctx := context.Background()

	job := NewJob(key, time.Now(), 24*time.Hour)
	mustCreate(t, store, job)

	if err := store.MarkRunning(ctx, key, job.JobID); err != nil {
		t.Fatalf("MarkRunning error: %v", err)
	}
	// pending-only guard: a second MarkRunning is stale.
	if err := store.MarkRunning(ctx, key, job.JobID); !errors.Is(err, ErrStaleJob) {
		t.Fatalf("expected ErrStaleJob on repeated MarkRunning, got %v", err)
	}

	if err := store.Fail(ctx, key, job.JobID, "boom"); err != nil {
		t.Fatalf("Fail error: %v", err)
	}
	got, _ := store.GetLatest(ctx, key)
	if got.Status != StatusFailed || got.ErrorMessage != "boom" {
		t.Fatalf("unexpected job after Fail: %+v", got)
	}

	// The slot is terminal now; any further transition is stale.
	if err := store.Complete(ctx, key, job.JobID); !errors.Is(err, ErrStaleJob) {
		t.Fatalf("expected ErrStaleJob on Complete after Fail, got %v", err)
	}
	if err := store.Timeout(ctx, key, job.JobID); !errors.Is(err, ErrStaleJob) {
		t.Fatalf("expected ErrStaleJob on Timeout after Fail, got %v", err)
	}
}

func TestDynamoStore_TimeoutRecordsFixedMessage(t *testing.T) {
	store := NewDynamoStore(newSlotMock(), "jobs")
	key := NewKey("costco", "http://x/2")
	ctx := context.Background()

	job := NewJob(key, time.Now(), 24*time.Hour)
	mustCreate(t, store, job)
	if err := store.Timeout(ctx, key, job.JobID); err != nil {
		t.Fatalf("Timeout error: %v", err)
	}
	got, _ := store.GetLatest(ctx, key)
	if got.Status != StatusTimeout || got.ErrorMessage != TimeoutMessage {
		t.Fatalf("unexpected job after Timeout: %+v", got)
	}
}

func TestDynamoStore_ListExpiredAndPrune(t *testing.T) {
	mock := newSlotMock()
	store := NewDynamoStore(mock, "jobs")
	ctx := context.Background()
	now := time.Now().UTC()

	oldActive := NewJob(NewKey("walmart", "http://x/old"), now.Add(-20*time.Minute), 24*time.Hour)
	freshActive := NewJob(NewKey("walmart", "http://x/fresh"), now, 24*time.Hour)
	settled := NewJob(NewKey("walmart", "http://x/done"), now.Add(-48*time.Hour), 24*time.Hour)
	mustCreate(t, store, oldActive)
	mustCreate(t, store, freshActive)
	mustCreate(t, store, settled)

	// Settle one job far in the past so the prune cutoff catches it.
	store.nowFunc = func() time.Time { return now.Add(-48 * time.Hour) }
	if err := store.Complete(ctx, settled.Key(), settled.JobID); err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	store.nowFunc = time.Now

	expired, err := store.ListExpired(ctx, now.Add(-10*time.Minute))
	if err != nil {
		t.Fatalf("ListExpired error: %v", err)
	}
	if len(expired) != 1 || expired[0].JobID != oldActive.JobID {
		t.Fatalf("expected only the old active job, got %+v", expired)
	}

	pruned, err := store.PruneTerminal(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneTerminal error: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned job, got %d", pruned)
	}
	if len(mock.table) != 2 {
		t.Fatalf("expected 2 remaining slots, got %d", len(mock.table))
	}
}

func TestDynamoStore_ListExpiredSubSecondCutoff(t *testing.T) {
	store := NewDynamoStore(newSlotMock(), "jobs")
	ctx := context.Background()

	// A whole-second start_time must still sort before a fractional cutoff
	// in the stored string form.
	started := time.Now().UTC().Truncate(time.Second).Add(-10 * time.Minute)
	job := NewJob(NewKey("walmart", "http://x/1"), started, 24*time.Hour)
	mustCreate(t, store, job)

	expired, err := store.ListExpired(ctx, started.Add(500*time.Millisecond))
	if err != nil {
		t.Fatalf("ListExpired error: %v", err)
	}
	if len(expired) != 1 || expired[0].JobID != job.JobID {
		t.Fatalf("job started before a sub-second cutoff must be listed, got %+v", expired)
	}
}

func TestDynamoStore_JobRoundTripKeepsFields(t *testing.T) {
	job := NewJob(NewKey("chefstore", "http://x/3"), time.Now(), time.Hour)
	job.ErrorMessage = "kept"

	item, err := attributevalue.MarshalMap(job)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Job
	if err := attributevalue.UnmarshalMap(item, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.JobID != job.JobID || back.Status != job.Status || back.ExpiresAt != job.ExpiresAt {
		t.Fatalf("round trip mismatch: %+v vs %+v", back, job)
	}
}
