package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"pricewatch/internal/aws"
)

// SQSPublisher sends price events to an SQS queue as JSON bodies with the
// store and status mirrored into message attributes for consumer-side
// filtering.
type SQSPublisher struct {
	client   aws.SQSAPI
	queueURL string
}

// NewSQSPublisher binds a publisher to a queue URL.
func NewSQSPublisher(client aws.SQSAPI, queueURL string) *SQSPublisher {
	return &SQSPublisher{
		client:   client,
		queueURL: queueURL,
	}
}

func (p *SQSPublisher) Publish(ctx context.Context, ev PriceEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal price event: %w", err)
	}
	bodyStr := string(body)

	attrs := map[string]sqstypes.MessageAttributeValue{}
	for k, v := range map[string]string{
		"store":  ev.Store,
		"status": ev.Status,
		"job_id": ev.JobID,
	} {
		v := v
		attrs[k] = sqstypes.MessageAttributeValue{
			DataType:    awsString("String"),
			StringValue: &v,
		}
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          &p.queueURL,
		MessageBody:       &bodyStr,
		MessageAttributes: attrs,
	})
	if err != nil {
		return fmt.Errorf("send price event: %w", err)
	}
	return nil
}

func awsString(s string) *string { return &s }
