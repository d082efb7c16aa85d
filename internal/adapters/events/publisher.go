package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/ports"
)

type LoggingPublisher struct {
	logger *slog.Logger
}

func NewLoggingPublisher(logger *slog.Logger) *LoggingPublisher {
	return &LoggingPublisher{logger: logger}
}

func (p *LoggingPublisher) Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error {
	p.logger.InfoContext(ctx, "event published",
		"module", "events.publisher",
		"layer", "adapter",
		"operation", "publish",
		"outcome", "success",
		"event_type", eventType,
		"partition_key", partitionKey,
		"payload_bytes", len(payload),
	)
	return nil
}

// PublishedMessage is one message captured by a RecordingPublisher.
type PublishedMessage struct {
	EventType    string
	PartitionKey string
	Payload      []byte
}

// RecordingPublisher keeps published messages in memory. An optional fail
// function lets callers inject broker errors.
type RecordingPublisher struct {
	mu       sync.Mutex
	messages []PublishedMessage
	fail     func(eventType string) error
}

func NewRecordingPublisher(fail func(eventType string) error) *RecordingPublisher {
	return &RecordingPublisher{fail: fail}
}

func (p *RecordingPublisher) Publish(_ context.Context, eventType string, payload []byte, partitionKey string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		if err := p.fail(eventType); err != nil {
			return err
		}
	}
	p.messages = append(p.messages, PublishedMessage{EventType: eventType, PartitionKey: partitionKey, Payload: append([]byte(nil), payload...)})
	return nil
}

func (p *RecordingPublisher) Messages() []PublishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PublishedMessage(nil), p.messages...)
}

var (
	_ ports.EventPublisher = (*LoggingPublisher)(nil)
	_ ports.EventPublisher = (*RecordingPublisher)(nil)
)
