package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/segmentio/kafka-go"
)

type mockSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (m *mockSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.inputs = append(m.inputs, params)
	return &sqs.SendMessageOutput{}, nil
}

func sampleEvent() PriceEvent {
	return PriceEvent{
		Store:      "walmart",
		URL:        "http://x/1",
		JobID:      "walmart_1700000000_abcd1234",
		Status:     "completed",
		Price:      3.86,
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSQSPublisher_SendsJSONWithAttributes(t *testing.T) {
	mock := &mockSQS{}
	pub := NewSQSPublisher(mock, "https://sqs.example/q")

	if err := pub.Publish(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	if len(mock.inputs) != 1 {
		t.Fatalf("expected one send, got %d", len(mock.inputs))
	}

	input := mock.inputs[0]
	if *input.QueueUrl != "https://sqs.example/q" {
		t.Fatalf("wrong queue url: %s", *input.QueueUrl)
	}
	var got PriceEvent
	if err := json.Unmarshal([]byte(*input.MessageBody), &got); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if got.Store != "walmart" || got.Price != 3.86 {
		t.Fatalf("unexpected event body: %+v", got)
	}
	if *input.MessageAttributes["status"].StringValue != "completed" {
		t.Fatalf("status attribute mismatch: %+v", input.MessageAttributes)
	}
}

func TestSQSPublisher_SendFailure(t *testing.T) {
	pub := NewSQSPublisher(&mockSQS{err: errors.New("throttled")}, "q")
	if err := pub.Publish(context.Background(), sampleEvent()); err == nil {
		t.Fatal("expected error from failing client")
	}
}

type fakeKafkaWriter struct {
	msgs   []kafka.Message
	closed bool
	err    error
}

func (f *fakeKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeKafkaWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublisher_KeysByDedupKey(t *testing.T) {
	writer := &fakeKafkaWriter{}
	pub := NewKafkaPublisherWithWriter(writer)

	if err := pub.Publish(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	if len(writer.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(writer.msgs))
	}
	if string(writer.msgs[0].Key) != "walmart#http://x/1" {
		t.Fatalf("unexpected message key: %s", writer.msgs[0].Key)
	}

	var got PriceEvent
	if err := json.Unmarshal(writer.msgs[0].Value, &got); err != nil {
		t.Fatalf("value is not JSON: %v", err)
	}
	if got.JobID != "walmart_1700000000_abcd1234" {
		t.Fatalf("unexpected event value: %+v", got)
	}

	if err := pub.Close(); err != nil || !writer.closed {
		t.Fatalf("Close should close the writer: err=%v closed=%v", err, writer.closed)
	}
}

func TestNopPublisher(t *testing.T) {
	if err := (NopPublisher{}).Publish(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("nop publisher must never fail: %v", err)
	}
}
