package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSBroker is the live queue backend. Physical queue names are
// "<prefix>-<name>" with a ".fifo" suffix for FIFO queues. Queue URLs are
// resolved once and cached for the broker's lifetime.
type SQSBroker struct {
	client  *sqs.Client
	prefix  string
	configs []QueueConfig

	mu   sync.Mutex
	urls map[string]string
}

// SQSBrokerConfig configures the live broker. Endpoint is optional and
// mainly useful against localstack-style emulators.
type SQSBrokerConfig struct {
	Region   string
	Endpoint string
	Prefix   string
}

func NewSQSBroker(ctx context.Context, cfg SQSBrokerConfig) (*SQSBroker, error) {
	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, awsConfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &SQSBroker{
		client:  client,
		prefix:  cfg.Prefix,
		configs: DefaultQueues(),
		urls:    map[string]string{},
	}, nil
}

func (b *SQSBroker) physicalName(cfg QueueConfig) string {
	name := cfg.Name
	if b.prefix != "" {
		name = b.prefix + "-" + name
	}
	if cfg.Type == FIFO {
		name += ".fifo"
	}
	return name
}

func (b *SQSBroker) queueURL(ctx context.Context, cfg QueueConfig) (string, error) {
	b.mu.Lock()
	if url, ok := b.urls[cfg.Name]; ok {
		b.mu.Unlock()
		return url, nil
	}
	b.mu.Unlock()

	out, err := b.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(b.physicalName(cfg)),
	})
	if err != nil {
		return "", fmt.Errorf("resolve queue url for %s: %w", cfg.Name, err)
	}
	url := aws.ToString(out.QueueUrl)

	b.mu.Lock()
	b.urls[cfg.Name] = url
	b.mu.Unlock()
	return url, nil
}

func (b *SQSBroker) Send(ctx context.Context, queue string, in SendInput) (SendResult, error) {
	cfg, ok := findQueue(b.configs, queue)
	if !ok {
		return SendResult{}, ErrUnknownQueue
	}
	if cfg.Type == FIFO && in.GroupID == "" {
		return SendResult{}, ErrGroupIDRequired
	}
	url, err := b.queueURL(ctx, cfg)
	if err != nil {
		return SendResult{}, err
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(url),
		MessageBody: aws.String(string(in.Body)),
	}
	if in.Delay > 0 {
		input.DelaySeconds = int32(in.Delay / time.Second)
	}
	if cfg.Type == FIFO {
		input.MessageGroupId = aws.String(in.GroupID)
		if in.DedupID != "" {
			input.MessageDeduplicationId = aws.String(in.DedupID)
		}
	}

	out, err := b.client.SendMessage(ctx, input)
	if err != nil {
		return SendResult{}, fmt.Errorf("sqs send to %s: %w", queue, err)
	}
	return SendResult{
		Status:    "success",
		MessageID: aws.ToString(out.MessageId),
		Timestamp: time.Now().UTC(),
	}, nil
}

func (b *SQSBroker) Attributes(ctx context.Context, queue string) (Attributes, error) {
	cfg, ok := findQueue(b.configs, queue)
	if !ok {
		return Attributes{}, ErrUnknownQueue
	}
	url, err := b.queueURL(ctx, cfg)
	if err != nil {
		return Attributes{}, err
	}
	out, err := b.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(url),
		AttributeNames: []sqstypes.QueueAttributeName{
			sqstypes.QueueAttributeNameApproximateNumberOfMessages,
			sqstypes.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
			sqstypes.QueueAttributeNameApproximateNumberOfMessagesDelayed,
		},
	})
	if err != nil {
		return Attributes{}, fmt.Errorf("sqs attributes for %s: %w", queue, err)
	}
	return Attributes{
		ApproximateMessages: atoiAttr(out.Attributes, string(sqstypes.QueueAttributeNameApproximateNumberOfMessages)),
		InFlight:            atoiAttr(out.Attributes, string(sqstypes.QueueAttributeNameApproximateNumberOfMessagesNotVisible)),
		Delayed:             atoiAttr(out.Attributes, string(sqstypes.QueueAttributeNameApproximateNumberOfMessagesDelayed)),
	}, nil
}

func (b *SQSBroker) Stats(ctx context.Context) (map[string]Attributes, error) {
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

func (b *SQSBroker) Purge(ctx context.Context, queue string) error {
	cfg, ok := findQueue(b.configs, queue)
	if !ok {
		return ErrUnknownQueue
	}
	url, err := b.queueURL(ctx, cfg)
	if err != nil {
		return err
	}
	if _, err := b.client.PurgeQueue(ctx, &sqs.PurgeQueueInput{QueueUrl: aws.String(url)}); err != nil {
		return fmt.Errorf("sqs purge %s: %w", queue, err)
	}
	return nil
}

func (b *SQSBroker) Queues() []QueueConfig {
	out := make([]QueueConfig, len(b.configs))
	copy(out, b.configs)
	return out
}

func atoiAttr(attrs map[string]string, key string) int {
	if v, ok := attrs[key]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}
