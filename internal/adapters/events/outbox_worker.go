package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/ports"
)

// OutboxWorker drains escrow events committed alongside balance changes and
// hands them to the broker. Delivery is at-least-once; consumers dedupe on event_id.
type OutboxWorker struct {
	logger       *slog.Logger
	outbox       ports.OutboxRepository
	publisher    ports.EventPublisher
	interval     time.Duration
	batchSize    int
	claimTTL     time.Duration
	maxRetries   int
	publishTries uint64
	nowFn        func() time.Time
}

type OutboxWorkerConfig struct {
	Interval     time.Duration
	BatchSize    int
	ClaimTTL     time.Duration
	MaxRetries   int
	PublishTries uint64
}

func NewOutboxWorker(logger *slog.Logger, outbox ports.OutboxRepository, publisher ports.EventPublisher, cfg OutboxWorkerConfig) *OutboxWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.PublishTries == 0 {
		cfg.PublishTries = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OutboxWorker{
		logger:       logger,
		outbox:       outbox,
		publisher:    publisher,
		interval:     cfg.Interval,
		batchSize:    cfg.BatchSize,
		claimTTL:     cfg.ClaimTTL,
		maxRetries:   cfg.MaxRetries,
		publishTries: cfg.PublishTries,
		nowFn:        func() time.Time { return time.Now().UTC() },
	}
}

func (w *OutboxWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.processOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.ErrorContext(ctx, "outbox iteration failed",
				"module", "events.outbox_worker",
				"layer", "adapter",
				"operation", "outbox_process_once",
				"outcome", "failure",
				"error", err,
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type batchResult struct {
	published    int
	failed       int
	deadLettered int
}

func (w *OutboxWorker) processOnce(ctx context.Context) (batchResult, error) {
	var res batchResult
	claimToken := uuid.NewString()
	records, err := w.outbox.ClaimUnpublished(ctx, w.batchSize, claimToken, w.nowFn().Add(w.claimTTL))
	if err != nil {
		return res, err
	}

	for _, rec := range records {
		if rec.RetryCount >= w.maxRetries {
			res.deadLettered++
			_ = w.outbox.MarkDeadLettered(ctx, rec.OutboxID, claimToken, "retry threshold reached before publish", w.nowFn())
			continue
		}
		if err := w.publish(ctx, rec); err != nil {
			res.failed++
			retries := rec.RetryCount + 1
			fields := []any{
				"module", "events.outbox_worker",
				"layer", "adapter",
				"operation", "publish_event",
				"outcome", "failure",
				"outbox_id", rec.OutboxID,
				"event_type", rec.EventType,
				"escrow_id", rec.PartitionKey,
				"retry_count", retries,
				"error", err,
			}
			if retries >= w.maxRetries {
				res.deadLettered++
				w.logger.ErrorContext(ctx, "outbox message moved to dlq", fields...)
				_ = w.outbox.MarkDeadLettered(ctx, rec.OutboxID, claimToken, err.Error(), w.nowFn())
				continue
			}
			w.logger.WarnContext(ctx, "outbox publish failed; retry scheduled", fields...)
			_ = w.outbox.MarkFailed(ctx, rec.OutboxID, claimToken, err.Error(), w.nowFn())
			continue
		}
		res.published++
		_ = w.outbox.MarkPublished(ctx, rec.OutboxID, claimToken, w.nowFn())
	}

	if len(records) > 0 {
		w.logger.InfoContext(ctx, "outbox batch processed",
			"module", "events.outbox_worker",
			"layer", "adapter",
			"operation", "outbox_process_once",
			"outcome", "success",
			"batch_size", len(records),
			"published_count", res.published,
			"failed_count", res.failed,
			"dead_lettered_count", res.deadLettered,
		)
	}
	return res, nil
}

// publish retries short broker hiccups inside one claim before counting a failure.
func (w *OutboxWorker) publish(ctx context.Context, rec ports.OutboxRecord) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = time.Second
	policy.MaxElapsedTime = w.claimTTL / 2
	return backoff.Retry(func() error {
		return w.publisher.Publish(ctx, rec.EventType, rec.Payload, rec.PartitionKey)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, w.publishTries-1), ctx))
}
