package http

import (
	"errors"
	"net/http"

	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/domain"
)

// mapDomainError returns the HTTP status, error code and client-facing details for err.
func mapDomainError(err error) (int, string, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrOverlappingTiers):
		return http.StatusBadRequest, "validation_error", err.Error()
	case errors.Is(err, domain.ErrInvalidEnvelope):
		return http.StatusBadRequest, "validation_error", "invalid event envelope"
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized", "invalid or missing credentials"
	case errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusUnauthorized, "invalid_signature", "webhook signature verification failed"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "forbidden", err.Error()
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found", "resource not found"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "insufficient_funds", err.Error()
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict, "invalid_state", err.Error()
	case errors.Is(err, domain.ErrIdempotencyConflict):
		return http.StatusConflict, "idempotency_conflict", err.Error()
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return http.StatusConflict, "concurrency_conflict", "the escrow account is busy; retry the request"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "conflict", err.Error()
	case errors.Is(err, domain.ErrUnsupportedEventType):
		return http.StatusUnprocessableEntity, "unsupported_event_type", err.Error()
	case errors.Is(err, domain.ErrGateway):
		if domain.IsRetryableGatewayError(err) {
			return http.StatusServiceUnavailable, "gateway_unavailable", "payment provider unavailable; retry with the same Idempotency-Key"
		}
		return http.StatusPaymentRequired, "payment_failed", gatewayDetails(err)
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func gatewayDetails(err error) string {
	var gwErr *domain.GatewayError
	if errors.As(err, &gwErr) && gwErr.Code != "" {
		return "payment was declined: " + gwErr.Code
	}
	return "payment was declined"
}
