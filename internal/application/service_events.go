package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/contracts"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/domain"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/ports"
)

// HandleCanonicalEvent consumes events from other services. contract.accepted opens
// the escrow account for the contract; redelivered events are skipped.
func (s *Service) HandleCanonicalEvent(ctx context.Context, envelope contracts.EventEnvelope) error {
	if err := validateEnvelope(envelope); err != nil {
		return err
	}
	if !domain.IsCanonicalInputEvent(envelope.EventType) {
		return domain.ErrUnsupportedEventType
	}
	now := s.nowFn()
	if s.eventDedup != nil {
		dup, err := s.eventDedup.IsDuplicate(ctx, envelope.EventID, now)
		if err != nil {
			return err
		}
		if dup {
			return nil
		}
	}

	switch envelope.EventType {
	case domain.EventContractAccepted:
		var payload contracts.ContractAcceptedPayload
		if err := json.Unmarshal(envelope.Data, &payload); err != nil || strings.TrimSpace(payload.ContractID) == "" {
			return domain.ErrInvalidEnvelope
		}
		_, err := s.CreateEscrow(ctx, SystemActor(envelope.TraceID), CreateEscrowInput{ContractID: payload.ContractID})
		if err != nil && !errors.Is(err, domain.ErrConflict) {
			return err
		}
	}

	if s.eventDedup != nil {
		return s.eventDedup.MarkProcessed(ctx, envelope.EventID, envelope.EventType, now.Add(s.cfg.EventDedupTTL))
	}
	return nil
}

func validateEnvelope(event contracts.EventEnvelope) error {
	if strings.TrimSpace(event.EventID) == "" || strings.TrimSpace(event.EventType) == "" || event.OccurredAt.IsZero() {
		return domain.ErrInvalidEnvelope
	}
	if strings.TrimSpace(event.SourceService) == "" || strings.TrimSpace(event.SchemaVersion) == "" {
		return domain.ErrInvalidEnvelope
	}
	if len(event.Data) == 0 {
		return domain.ErrInvalidEnvelope
	}
	return nil
}

func (s *Service) newEvent(eventType, traceID, partitionKey string, data any, now time.Time) (ports.OutboxEvent, error) {
	if !domain.IsCanonicalEmittedEvent(eventType) {
		return ports.OutboxEvent{}, domain.ErrUnsupportedEventType
	}
	b, err := json.Marshal(data)
	if err != nil {
		return ports.OutboxEvent{}, fmt.Errorf("%w: marshal %s payload", domain.ErrInvalidInput, eventType)
	}
	if strings.TrimSpace(traceID) == "" {
		traceID = uuid.NewString()
	}
	env := contracts.EventEnvelope{
		EventID:          uuid.NewString(),
		EventType:        eventType,
		EventClass:       domain.CanonicalEventClass(eventType),
		OccurredAt:       now,
		PartitionKeyPath: domain.CanonicalPartitionKeyPath(eventType),
		PartitionKey:     partitionKey,
		SourceService:    s.cfg.ServiceName,
		TraceID:          traceID,
		SchemaVersion:    "v1",
		Data:             b,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return ports.OutboxEvent{}, err
	}
	return ports.OutboxEvent{
		EventID:      env.EventID,
		EventType:    eventType,
		PartitionKey: partitionKey,
		Payload:      raw,
		OccurredAt:   now,
	}, nil
}

// eventsFor builds outbox events, dropping any that fail to encode so that a
// payload bug can never block a balance change.
func (s *Service) eventsFor(ctx context.Context, traceID, escrowID string, now time.Time, items ...eventItem) []ports.OutboxEvent {
	out := make([]ports.OutboxEvent, 0, len(items))
	for _, item := range items {
		evt, err := s.newEvent(item.eventType, traceID, escrowID, item.data, now)
		if err != nil {
			s.logger.ErrorContext(ctx, "outbox event encoding failed",
				"operation", "build_event",
				"outcome", "failure",
				"event_type", item.eventType,
				"escrow_id", escrowID,
				"error", err,
			)
			continue
		}
		out = append(out, evt)
	}
	return out
}

type eventItem struct {
	eventType string
	data      any
}

func adminActionEvent(eventType string, account domain.EscrowAccount, action domain.AuditAction, actor Actor, reason string, now time.Time) eventItem {
	return eventItem{eventType: eventType, data: contracts.EscrowAdminActionPayload{
		EscrowID:    account.ID,
		ContractID:  account.ContractID,
		Action:      string(action),
		PerformedBy: actor.SubjectID,
		Reason:      reason,
		Status:      string(account.Status),
		OccurredAt:  now.UTC().Format(time.RFC3339),
	}}
}

func completionEvent(account domain.EscrowAccount) (eventItem, bool) {
	if !account.Status.Terminal() || account.ClosedAt == nil {
		return eventItem{}, false
	}
	return eventItem{eventType: domain.EventEscrowCompleted, data: contracts.EscrowCompletedPayload{
		EscrowID:       account.ID,
		ContractID:     account.ContractID,
		Status:         string(account.Status),
		ReleasedAmount: account.ReleasedAmount,
		RefundedAmount: account.RefundedAmount,
		ClosedAt:       account.ClosedAt.UTC().Format(time.RFC3339),
	}}, true
}
