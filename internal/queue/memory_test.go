package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestSendToStandardQueue(t *testing.T) {
	ctx := context.Background()
	broker := NewMemoryBroker()

	result, err := broker.Send(ctx, ProvisioningJobs, SendInput{Body: json.RawMessage(`{"jobId":"1"}`)})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if result.Status != "success" || result.MessageID == "" {
		t.Fatalf("unexpected result: %+v", result)
	}

	attrs, err := broker.Attributes(ctx, ProvisioningJobs)
	if err != nil {
		t.Fatalf("attributes: %v", err)
	}
	if attrs.ApproximateMessages != 1 {
		t.Fatalf("expected 1 message, got %d", attrs.ApproximateMessages)
	}
}

func TestFIFORequiresGroupID(t *testing.T) {
	ctx := context.Background()
	broker := NewMemoryBroker()

	_, err := broker.Send(ctx, TerraformExecution, SendInput{Body: json.RawMessage(`{}`)})
	if !errors.Is(err, ErrGroupIDRequired) {
		t.Fatalf("expected ErrGroupIDRequired, got %v", err)
	}

	if _, err := broker.Send(ctx, TerraformExecution, SendInput{
		Body:    json.RawMessage(`{}`),
		GroupID: "workspace-prod",
	}); err != nil {
		t.Fatalf("send with group id: %v", err)
	}
}

func TestUnknownQueue(t *testing.T) {
	ctx := context.Background()
	broker := NewMemoryBroker()

	if _, err := broker.Send(ctx, "nope", SendInput{}); !errors.Is(err, ErrUnknownQueue) {
		t.Fatalf("expected ErrUnknownQueue on send, got %v", err)
	}
	if _, err := broker.Attributes(ctx, "nope"); !errors.Is(err, ErrUnknownQueue) {
		t.Fatalf("expected ErrUnknownQueue on attributes, got %v", err)
	}
	if err := broker.Purge(ctx, "nope"); !errors.Is(err, ErrUnknownQueue) {
		t.Fatalf("expected ErrUnknownQueue on purge, got %v", err)
	}
}

func TestDelayedMessagesCountSeparately(t *testing.T) {
	ctx := context.Background()
	broker := NewMemoryBroker()

	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	broker.SetClock(func() time.Time { return now })

	if _, err := broker.Send(ctx, Notifications, SendInput{
		Body:  json.RawMessage(`{"msg":"later"}`),
		Delay: 30 * time.Second,
	}); err != nil {
		t.Fatalf("send: %v", err)
	}

	attrs, err := broker.Attributes(ctx, Notifications)
	if err != nil {
		t.Fatalf("attributes: %v", err)
	}
	if attrs.Delayed != 1 || attrs.ApproximateMessages != 0 {
		t.Fatalf("expected delayed message, got %+v", attrs)
	}

	// After the delay elapses the message counts as visible.
	now = now.Add(time.Minute)
	attrs, err = broker.Attributes(ctx, Notifications)
	if err != nil {
		t.Fatalf("attributes after delay: %v", err)
	}
	if attrs.Delayed != 0 || attrs.ApproximateMessages != 1 {
		t.Fatalf("expected visible message, got %+v", attrs)
	}
}

func TestStatsCoversTopology(t *testing.T) {
	ctx := context.Background()
	broker := NewMemoryBroker()

	stats, err := broker.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(stats) != len(DefaultQueues()) {
		t.Fatalf("expected %d queues, got %d", len(DefaultQueues()), len(stats))
	}
	for _, q := range []string{ProvisioningJobs, TerraformExecution, AuditEvents, DeadLetter} {
		if _, ok := stats[q]; !ok {
			t.Fatalf("missing queue %s in stats", q)
		}
	}
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	broker := NewMemoryBroker()

	for i := 0; i < 3; i++ {
		if _, err := broker.Send(ctx, CostAnalysis, SendInput{Body: json.RawMessage(`{}`)}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if err := broker.Purge(ctx, CostAnalysis); err != nil {
		t.Fatalf("purge: %v", err)
	}
	attrs, err := broker.Attributes(ctx, CostAnalysis)
	if err != nil {
		t.Fatalf("attributes: %v", err)
	}
	if attrs.ApproximateMessages != 0 {
		t.Fatalf("expected empty queue, got %+v", attrs)
	}
}
