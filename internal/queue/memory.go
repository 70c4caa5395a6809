package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryMessage struct {
	id        string
	body      json.RawMessage
	groupID   string
	dedupID   string
	visibleAt time.Time
}

// MemoryBroker accepts sends and tracks per-queue depth; nothing is ever
// delivered. Delayed messages count under Delayed until their delay
// elapses, observed lazily on the next attributes read.
type MemoryBroker struct {
	mu       sync.Mutex
	configs  []QueueConfig
	messages map[string][]memoryMessage
	now      func() time.Time
}

func NewMemoryBroker() *MemoryBroker {
	b := &MemoryBroker{
		configs:  DefaultQueues(),
		messages: map[string][]memoryMessage{},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, q := range b.configs {
		b.messages[q.Name] = nil
	}
	return b
}

// SetClock overrides the broker's time source. Test hook.
func (b *MemoryBroker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

func (b *MemoryBroker) Send(ctx context.Context, queue string, in SendInput) (SendResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cfg, ok := findQueue(b.configs, queue)
	if !ok {
		return SendResult{}, ErrUnknownQueue
	}
	if cfg.Type == FIFO && in.GroupID == "" {
		return SendResult{}, ErrGroupIDRequired
	}

	now := b.now()
	msg := memoryMessage{
		id:        uuid.New().String(),
		body:      append(json.RawMessage(nil), in.Body...),
		groupID:   in.GroupID,
		dedupID:   in.DedupID,
		visibleAt: now.Add(in.Delay),
	}
	b.messages[queue] = append(b.messages[queue], msg)

	return SendResult{
		Status:    "success",
		MessageID: msg.id,
		Timestamp: now,
	}, nil
}

func (b *MemoryBroker) Attributes(ctx context.Context, queue string) (Attributes, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := findQueue(b.configs, queue); !ok {
		return Attributes{}, ErrUnknownQueue
	}
	now := b.now()
	var attrs Attributes
	for _, msg := range b.messages[queue] {
		if msg.visibleAt.After(now) {
			attrs.Delayed++
		} else {
			attrs.ApproximateMessages++
		}
	}
	return attrs, nil
}

func (b *MemoryBroker) Stats(ctx context.Context) (map[string]Attributes, error) {
	stats := make(map[string]Attributes, len(b.configs))
	for _, q := range b.configs {
		attrs, err := b.Attributes(ctx, q.Name)
		if err != nil {
			return nil, err
		}
		stats[q.Name] = attrs
	}
	return stats, nil
}

func (b *MemoryBroker) Purge(ctx context.Context, queue string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := findQueue(b.configs, queue); !ok {
		return ErrUnknownQueue
	}
	b.messages[queue] = nil
	return nil
}

func (b *MemoryBroker) Queues() []QueueConfig {
	out := make([]QueueConfig, len(b.configs))
	copy(out, b.configs)
	return out
}
