package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/contracts"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/domain"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/ports"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeOutbox struct {
	mu      sync.Mutex
	records map[string]*ports.OutboxRecord
	order   []string
}

func newFakeOutbox(records ...ports.OutboxRecord) *fakeOutbox {
	f := &fakeOutbox{records: map[string]*ports.OutboxRecord{}}
	for i := range records {
		rec := records[i]
		f.records[rec.OutboxID] = &rec
		f.order = append(f.order, rec.OutboxID)
	}
	return f
}

func (f *fakeOutbox) ClaimUnpublished(_ context.Context, limit int, token string, until time.Time) ([]ports.OutboxRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ports.OutboxRecord
	for _, id := range f.order {
		rec := f.records[id]
		if rec.PublishedAt != nil || rec.DeadLetteredAt != nil || len(out) == limit {
			continue
		}
		t := token
		rec.ClaimToken = &t
		rec.ClaimUntil = &until
		out = append(out, *rec)
	}
	return out, nil
}

func (f *fakeOutbox) MarkPublished(_ context.Context, id, token string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[id].PublishedAt = &at
	return nil
}

func (f *fakeOutbox) MarkFailed(_ context.Context, id, token, msg string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[id].RetryCount++
	f.records[id].LastError = &msg
	return nil
}

func (f *fakeOutbox) MarkDeadLettered(_ context.Context, id, token, msg string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[id].RetryCount++
	f.records[id].DeadLetteredAt = &at
	return nil
}

func (f *fakeOutbox) get(id string) ports.OutboxRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.records[id]
}

func TestOutboxWorkerPublishesAndDeadLetters(t *testing.T) {
	t.Parallel()

	outbox := newFakeOutbox(
		ports.OutboxRecord{OutboxID: "o-1", EventType: domain.EventEscrowFunded, PartitionKey: "esc-1", Payload: []byte(`{}`)},
		ports.OutboxRecord{OutboxID: "o-2", EventType: domain.EventEscrowFrozen, PartitionKey: "esc-2", Payload: []byte(`{}`), RetryCount: 1},
		ports.OutboxRecord{OutboxID: "o-3", EventType: domain.EventEscrowCompleted, PartitionKey: "esc-3", Payload: []byte(`{}`), RetryCount: 9},
	)
	publisher := NewRecordingPublisher(func(eventType string) error {
		if eventType == domain.EventEscrowFrozen {
			return errors.New("broker unavailable")
		}
		return nil
	})
	worker := NewOutboxWorker(discardLogger(), outbox, publisher, OutboxWorkerConfig{MaxRetries: 2, PublishTries: 1})

	res, err := worker.processOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.published)
	require.Equal(t, 1, res.failed)
	require.Equal(t, 2, res.deadLettered)

	require.NotNil(t, outbox.get("o-1").PublishedAt)
	require.NotNil(t, outbox.get("o-2").DeadLetteredAt)
	require.NotNil(t, outbox.get("o-3").DeadLetteredAt)

	msgs := publisher.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "esc-1", msgs[0].PartitionKey)
}

func TestOutboxWorkerRetriesWithinClaim(t *testing.T) {
	t.Parallel()

	outbox := newFakeOutbox(ports.OutboxRecord{OutboxID: "o-1", EventType: domain.EventEscrowFunded, PartitionKey: "esc-1"})
	attempts := 0
	publisher := NewRecordingPublisher(func(string) error {
		attempts++
		if attempts == 1 {
			return errors.New("leader not available")
		}
		return nil
	})
	worker := NewOutboxWorker(discardLogger(), outbox, publisher, OutboxWorkerConfig{PublishTries: 3})

	res, err := worker.processOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.published)
	require.Equal(t, 2, attempts)
}

type staticConsumer struct{ msgs []Message }

func (c *staticConsumer) Poll(context.Context, int) ([]Message, error) {
	out := c.msgs
	c.msgs = nil
	return out, nil
}

type recordingHandler struct {
	seen []string
	err  error
}

func (h *recordingHandler) HandleCanonicalEvent(_ context.Context, env contracts.EventEnvelope) error {
	h.seen = append(h.seen, env.EventID)
	return h.err
}

func TestConsumerWorkerDispatchesEnvelopes(t *testing.T) {
	t.Parallel()

	env, err := json.Marshal(contracts.EventEnvelope{EventID: "evt-1", EventType: domain.EventContractAccepted})
	require.NoError(t, err)
	consumer := &staticConsumer{msgs: []Message{
		{Topic: "contract.accepted", Payload: env},
		{Topic: "contract.accepted", Payload: []byte("not json")},
	}}
	handler := &recordingHandler{err: domain.ErrUnsupportedEventType}
	worker := NewConsumerWorker(discardLogger(), consumer, handler, time.Second)

	require.NoError(t, worker.processOnce(context.Background()))
	require.Equal(t, []string{"evt-1"}, handler.seen)
}

func TestNotifierPublishesMessage(t *testing.T) {
	t.Parallel()

	publisher := NewRecordingPublisher(nil)
	notifier := NewNotifier(discardLogger(), publisher, time.Second)
	notifier.Notify(context.Background(), domain.Notification{Kind: domain.NotificationEscrowFunded, UserID: "t-1", Title: "Escrow funded"})
	notifier.Notify(context.Background(), domain.Notification{Kind: domain.NotificationEscrowFunded})

	msgs := publisher.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, NotificationEventType, msgs[0].EventType)

	var body contracts.NotificationMessage
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &body))
	require.Equal(t, "escrow_funded", body.Kind)
	require.Equal(t, "t-1", body.UserID)
}

func TestNotifierSwallowsPublishErrors(t *testing.T) {
	t.Parallel()

	publisher := NewRecordingPublisher(func(string) error { return errors.New("down") })
	notifier := NewNotifier(discardLogger(), publisher, time.Second)
	require.NotPanics(t, func() {
		notifier.Notify(context.Background(), domain.Notification{Kind: domain.NotificationFundsReleased, UserID: "t-1"})
	})
}
