package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/domain"
)

func requireSubject(actor Actor) error {
	if strings.TrimSpace(actor.SubjectID) == "" {
		return domain.ErrUnauthorized
	}
	return nil
}

func requireAdmin(actor Actor) error {
	if err := requireSubject(actor); err != nil {
		return err
	}
	if !actor.IsAdmin() {
		return fmt.Errorf("%w: admin role required", domain.ErrForbidden)
	}
	return nil
}

func requireManager(actor Actor, account domain.EscrowAccount) error {
	if err := requireSubject(actor); err != nil {
		return err
	}
	if actor.SubjectID != account.ManagerID {
		return fmt.Errorf("%w: only the contract manager may move escrow funds", domain.ErrForbidden)
	}
	return nil
}

func requireManagerOrAdmin(actor Actor, account domain.EscrowAccount) error {
	if actor.IsAdmin() {
		return nil
	}
	return requireManager(actor, account)
}

func requireReader(actor Actor, account domain.EscrowAccount) error {
	if err := requireSubject(actor); err != nil {
		return err
	}
	if actor.IsAdmin() || actor.Role == RoleSystem || account.IsParty(actor.SubjectID) {
		return nil
	}
	return fmt.Errorf("%w: not a party to this escrow", domain.ErrForbidden)
}

func (s *Service) newAudit(escrowID string, action domain.AuditAction, actor Actor, reason string, amount *decimal.Decimal, metadata map[string]any) domain.AuditEntry {
	if metadata == nil {
		metadata = map[string]any{}
	}
	if actor.RequestID != "" {
		metadata["request_id"] = actor.RequestID
	}
	if actor.Role != "" {
		metadata["role"] = actor.Role
	}
	return domain.AuditEntry{
		ID:          uuid.NewString(),
		EscrowID:    escrowID,
		Action:      action,
		Amount:      amount,
		PerformedBy: actor.SubjectID,
		Reason:      reason,
		Outcome:     domain.AuditOutcomeSucceeded,
		Metadata:    metadata,
		Timestamp:   s.nowFn(),
	}
}

// auditRejected appends an audit entry for an attempt that was refused. Failures to
// append are logged; the caller still returns the original rejection.
func (s *Service) auditRejected(ctx context.Context, escrowID string, action domain.AuditAction, actor Actor, reason string, amount *decimal.Decimal, cause error) {
	if s.audit == nil || strings.TrimSpace(escrowID) == "" || cause == nil {
		return
	}
	if errors.Is(cause, domain.ErrUnauthorized) || errors.Is(cause, context.Canceled) {
		return
	}
	entry := s.newAudit(escrowID, action, actor, reason, amount, map[string]any{"error": cause.Error()})
	entry.Outcome = domain.AuditOutcomeRejected
	if err := s.audit.Append(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "audit append failed",
			"operation", "audit_rejected",
			"outcome", "failure",
			"escrow_id", escrowID,
			"action", string(action),
			"error", err,
		)
	}
}

func rejectable(err error) bool {
	return errors.Is(err, domain.ErrInvalidState) ||
		errors.Is(err, domain.ErrInsufficientFunds) ||
		errors.Is(err, domain.ErrForbidden) ||
		errors.Is(err, domain.ErrInvalidInput)
}

func amountPtr(v decimal.Decimal) *decimal.Decimal { return &v }

func (s *Service) observe(operation string, start time.Time, err error) {
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrConcurrencyConflict):
		outcome = "conflict"
	case rejectable(err), errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrConflict):
		outcome = "rejected"
	default:
		outcome = "failure"
	}
	s.metrics.ObserveOperation(operation, outcome, time.Since(start))
}

func (s *Service) logOutcome(ctx context.Context, operation, escrowID string, err error, fields ...any) {
	base := []any{"operation", operation, "escrow_id", escrowID}
	if err == nil {
		s.logger.InfoContext(ctx, "escrow operation completed", append(append(base, "outcome", "success"), fields...)...)
		return
	}
	base = append(base, "outcome", "failure", "error", err.Error())
	if rejectable(err) || errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrConcurrencyConflict) {
		s.logger.WarnContext(ctx, "escrow operation rejected", append(base, fields...)...)
		return
	}
	s.logger.ErrorContext(ctx, "escrow operation failed", append(base, fields...)...)
}

// idempotent replays a cached response for key or runs fn and caches its result.
func idempotent[T any](ctx context.Context, s *Service, key string, request any, fn func() (T, error)) (T, error) {
	var zero T
	key = strings.TrimSpace(key)
	if s.idempotency == nil || key == "" {
		return fn()
	}
	requestHash := hashJSON(request)
	rec, err := s.idempotency.Get(ctx, key, s.nowFn())
	if err != nil {
		return zero, err
	}
	if rec != nil {
		if rec.RequestHash != requestHash {
			return zero, domain.ErrIdempotencyConflict
		}
		if len(rec.ResponseBody) == 0 {
			return zero, fmt.Errorf("%w: request with this key is still in progress", domain.ErrIdempotencyConflict)
		}
		var cached T
		if err := json.Unmarshal(rec.ResponseBody, &cached); err == nil {
			return cached, nil
		}
	}
	if err := s.idempotency.Reserve(ctx, key, requestHash, s.nowFn().Add(s.cfg.IdempotencyTTL)); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return zero, domain.ErrIdempotencyConflict
		}
		return zero, err
	}
	out, err := fn()
	if err != nil {
		// Rejected requests may be retried with the same key once the cause is fixed.
		_ = s.idempotency.Release(ctx, key)
		return zero, err
	}
	body, _ := json.Marshal(out)
	if completeErr := s.idempotency.Complete(ctx, key, 200, body, s.nowFn()); completeErr != nil {
		s.logger.WarnContext(ctx, "idempotency completion failed", "operation", "idempotency_complete", "outcome", "failure", "error", completeErr)
	}
	return out, nil
}

func hashJSON(v any) string {
	b, _ := json.Marshal(v)
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

func (s *Service) collaboratorContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CollaboratorTimeout)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, string, time.Duration)   {}
func (noopMetrics) ObserveLockWait(string, time.Duration)            {}
func (noopMetrics) ObserveGatewayCall(string, string, time.Duration) {}
func (noopMetrics) IncConflictRetry(string)                          {}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, domain.Notification) {}
