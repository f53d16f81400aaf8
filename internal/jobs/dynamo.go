package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"pricewatch/internal/aws"
)

// Condition and filter expressions used against the jobs table. The item
// keyed by cache_key always holds the key's latest job; the conditional put
// below is what enforces at-most-one-active per key.
const (
	condSlotFree    = "attribute_not_exists(cache_key) OR #s IN (:completed, :failed, :timeout)"
	condPendingOnly = "job_id = :jid AND #s = :pending"
	condActiveOnly  = "job_id = :jid AND (#s = :pending OR #s = :running)"
	condSameJob     = "job_id = :jid"

	filterExpiredActive  = "(#s = :pending OR #s = :running) AND start_time < :cutoff"
	filterTerminalBefore = "#s IN (:completed, :failed, :timeout) AND update_time < :cutoff"
)

// timeFormat pads fractional seconds to a fixed width. RFC3339Nano trims
// trailing zeros, which breaks lexicographic comparison across the
// whole-second boundary ("…:10Z" sorts after "…:10.5Z"); fixed width keeps
// string order equal to time order for the filter expressions above.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// DynamoStore keeps one item per key in a DynamoDB table keyed by
// cache_key. History beyond the latest job is not retained; the expires_at
// attribute lets the table's TTL policy drop settled slots.
type DynamoStore struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewDynamoStore returns a Store backed by the given jobs table.
func NewDynamoStore(client aws.DynamoDBAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Create puts the pending job into the key's slot. The condition admits the
// put only when the slot is empty or its job is terminal; an active job
// fails the condition and the caller joins it instead.
func (s *DynamoStore) Create(ctx context.Context, job Job) (bool, error) {
	item, err := attributevalue.MarshalMap(job)
	if err != nil {
		return false, fmt.Errorf("marshal job: %w", err)
	}
	item["cache_key"] = &types.AttributeValueMemberS{Value: job.Key().String()}
	// Re-serialize the timestamps in the fixed-width format; the default
	// encoder trims fractional zeros.
	item["start_time"] = timeAttr(job.StartTime)
	item["update_time"] = timeAttr(job.UpdateTime)

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:                &s.tableName,
		Item:                     item,
		ConditionExpression:      awsString(condSlotFree),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":completed": statusAttr(StatusCompleted),
			":failed":    statusAttr(StatusFailed),
			":timeout":   statusAttr(StatusTimeout),
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("put job: %w", err)
	}
	return true, nil
}

// GetLatest reads the key's slot item.
func (s *DynamoStore) GetLatest(ctx context.Context, key Key) (*Job, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       slotKey(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}

	var j Job
	if err := attributevalue.UnmarshalMap(out.Item, &j); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &j, nil
}

// MarkRunning transitions pending → running, guarded on the job id.
func (s *DynamoStore) MarkRunning(ctx context.Context, key Key, jobID string) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      slotKey(key),
		UpdateExpression:         awsString("SET #s = :running, update_time = :ut"),
		ConditionExpression:      awsString(condPendingOnly),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":running": statusAttr(StatusRunning),
			":pending": statusAttr(StatusPending),
			":jid":     &types.AttributeValueMemberS{Value: jobID},
			":ut":      timeAttr(s.nowFunc()),
		},
	})
	return s.transitionErr(err, "mark running")
}

// Complete transitions the active job to completed and sets price_found.
func (s *DynamoStore) Complete(ctx context.Context, key Key, jobID string) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      slotKey(key),
		UpdateExpression:         awsString("SET #s = :completed, price_found = :found, update_time = :ut"),
		ConditionExpression:      awsString(condActiveOnly),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":completed": statusAttr(StatusCompleted),
			":pending":   statusAttr(StatusPending),
			":running":   statusAttr(StatusRunning),
			":found":     &types.AttributeValueMemberBOOL{Value: true},
			":jid":       &types.AttributeValueMemberS{Value: jobID},
			":ut":        timeAttr(s.nowFunc()),
		},
	})
	return s.transitionErr(err, "complete")
}

// Fail transitions the active job to failed and records the message.
func (s *DynamoStore) Fail(ctx context.Context, key Key, jobID, errMsg string) error {
	return s.terminate(ctx, key, jobID, StatusFailed, errMsg, "fail")
}

// Timeout transitions the active job to timeout with the fixed message.
func (s *DynamoStore) Timeout(ctx context.Context, key Key, jobID string) error {
	return s.terminate(ctx, key, jobID, StatusTimeout, TimeoutMessage, "timeout")
}

func (s *DynamoStore) terminate(ctx context.Context, key Key, jobID string, to Status, errMsg, op string) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      slotKey(key),
		UpdateExpression:         awsString("SET #s = :to, error_message = :em, update_time = :ut"),
		ConditionExpression:      awsString(condActiveOnly),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":to":      statusAttr(to),
			":pending": statusAttr(StatusPending),
			":running": statusAttr(StatusRunning),
			":em":      &types.AttributeValueMemberS{Value: errMsg},
			":jid":     &types.AttributeValueMemberS{Value: jobID},
			":ut":      timeAttr(s.nowFunc()),
		},
	})
	return s.transitionErr(err, op)
}

// ListExpired scans for active jobs started before the cutoff. The
// fixed-width UTC timestamps compare lexicographically, so the filter
// works on the stored string form.
func (s *DynamoStore) ListExpired(ctx context.Context, cutoff time.Time) ([]Job, error) {
	return s.scanJobs(ctx, filterExpiredActive, map[string]types.AttributeValue{
		":pending": statusAttr(StatusPending),
		":running": statusAttr(StatusRunning),
		":cutoff":  timeAttr(cutoff),
	})
}

// PruneTerminal deletes settled slots that have not changed since the
// cutoff. Each delete is guarded on the job id so a slot that was reopened
// between the scan and the delete survives.
func (s *DynamoStore) PruneTerminal(ctx context.Context, cutoff time.Time) (int, error) {
	stale, err := s.scanJobs(ctx, filterTerminalBefore, map[string]types.AttributeValue{
		":completed": statusAttr(StatusCompleted),
		":failed":    statusAttr(StatusFailed),
		":timeout":   statusAttr(StatusTimeout),
		":cutoff":    timeAttr(cutoff),
	})
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, j := range stale {
		_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
			TableName:           &s.tableName,
			Key:                 slotKey(j.Key()),
			ConditionExpression: awsString(condSameJob),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":jid": &types.AttributeValueMemberS{Value: j.JobID},
			},
		})
		if err != nil {
			if isConditionalCheckFailed(err) {
				continue
			}
			return pruned, fmt.Errorf("delete job %s: %w", j.JobID, err)
		}
		pruned++
	}
	return pruned, nil
}

func (s *DynamoStore) scanJobs(ctx context.Context, filter string, values map[string]types.AttributeValue) ([]Job, error) {
	var jobs []Job
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Scan(ctx, &dyn.ScanInput{
			TableName:                 &s.tableName,
			FilterExpression:          awsString(filter),
			ExpressionAttributeNames:  map[string]string{"#s": "status"},
			ExpressionAttributeValues: values,
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scan jobs: %w", err)
		}
		for _, item := range out.Items {
			var j Job
			if err := attributevalue.UnmarshalMap(item, &j); err != nil {
				return nil, fmt.Errorf("unmarshal job: %w", err)
			}
			jobs = append(jobs, j)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return jobs, nil
}

func (s *DynamoStore) transitionErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if isConditionalCheckFailed(err) {
		return ErrStaleJob
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isConditionalCheckFailed(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException"
}

func slotKey(key Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"cache_key": &types.AttributeValueMemberS{Value: key.String()},
	}
}

func statusAttr(s Status) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: string(s)}
}

func timeAttr(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: t.UTC().Format(timeFormat)}
}

func awsString(s string) *string { return &s }
