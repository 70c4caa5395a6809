// Package queue is the named-queue facade. Queues are logical: the facade
// accepts sends and reports depth statistics but implements no delivery,
// ordering, or deduplication itself. FIFO-flavored queues carry group and
// dedup ids through to the backend untouched.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrUnknownQueue = errors.New("unknown queue")

	// ErrGroupIDRequired rejects FIFO sends without a message group id.
	ErrGroupIDRequired = errors.New("message group id required for fifo queue")
)

// QueueType distinguishes standard from FIFO queues.
type QueueType string

const (
	Standard QueueType = "standard"
	FIFO     QueueType = "fifo"
)

// Well-known queue names.
const (
	ProvisioningJobs   = "provisioning-jobs"
	TerraformExecution = "terraform-execution"
	ComplianceScans    = "compliance-scans"
	CostAnalysis       = "cost-analysis"
	Notifications      = "notifications"
	AuditEvents        = "audit-events"
	DeadLetter         = "dead-letter"
)

// QueueConfig describes one logical queue.
type QueueConfig struct {
	Name string    `json:"name"`
	Type QueueType `json:"type"`
}

// DefaultQueues is the platform's fixed queue topology.
func DefaultQueues() []QueueConfig {
	return []QueueConfig{
		{Name: ProvisioningJobs, Type: Standard},
		{Name: TerraformExecution, Type: FIFO},
		{Name: ComplianceScans, Type: Standard},
		{Name: CostAnalysis, Type: Standard},
		{Name: Notifications, Type: Standard},
		{Name: AuditEvents, Type: FIFO},
		{Name: DeadLetter, Type: Standard},
	}
}

// SendInput carries one message. GroupID and DedupID are pass-through
// fields for FIFO queues.
type SendInput struct {
	Body    json.RawMessage
	GroupID string
	DedupID string
	Delay   time.Duration
}

// SendResult reports a send's outcome.
type SendResult struct {
	Status    string    `json:"status"`
	MessageID string    `json:"messageId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Attributes are the approximate queue counters.
type Attributes struct {
	ApproximateMessages int `json:"messages"`
	InFlight            int `json:"inFlight"`
	Delayed             int `json:"delayed"`
}

// Broker is the queue facade capability. Errors from the backend surface
// once; there is no retry or backoff here.
type Broker interface {
	Send(ctx context.Context, queue string, in SendInput) (SendResult, error)
	Attributes(ctx context.Context, queue string) (Attributes, error)
	Stats(ctx context.Context) (map[string]Attributes, error)
	Purge(ctx context.Context, queue string) error
	Queues() []QueueConfig
}

func findQueue(configs []QueueConfig, name string) (QueueConfig, bool) {
	for _, q := range configs {
		if q.Name == name {
			return q, true
		}
	}
	return QueueConfig{}, false
}
