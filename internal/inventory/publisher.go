package inventory

import (
	"context"
	"log"

	"github.com/CloudIDP/platform/internal/models"
)

// Producer is the subset of Kafka producer behavior the publisher needs.
type Producer interface {
	ProduceJSON(ctx context.Context, key []byte, v interface{}) error
	Close() error
}

// Publisher fans a logged audit event out to the Kafka stream and the S3
// archive. Fan-out is best effort: the store row is the source of truth and
// a failed produce or upload is logged, never propagated to the caller.
type Publisher struct {
	producer Producer
	archiver Archiver
}

func NewPublisher(producer Producer, archiver Archiver) *Publisher {
	return &Publisher{producer: producer, archiver: archiver}
}

// Publish ships the event to whichever sinks are configured. Nil sinks are
// skipped, so a demo-mode publisher with no backends is a no-op.
func (p *Publisher) Publish(ctx context.Context, ev models.AuditEvent) {
	if p == nil {
		return
	}
	if p.producer != nil {
		if err := p.producer.ProduceJSON(ctx, []byte(ev.AccountID), ev); err != nil {
			log.Printf("[audit.publisher] produce event %s: %v", ev.UUID, err)
		}
	}
	if p.archiver != nil {
		if err := p.archiver.ArchiveEvent(ctx, ev); err != nil {
			log.Printf("[audit.publisher] archive event %s: %v", ev.UUID, err)
		}
	}
}

// Close releases the producer, if any.
func (p *Publisher) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
