package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized         = errors.New("unauthorized")
	ErrForbidden            = errors.New("forbidden")
	ErrNotFound             = errors.New("not found")
	ErrInvalidInput         = errors.New("invalid input")
	ErrConflict             = errors.New("conflict")
	ErrInvalidState         = errors.New("invalid escrow state")
	ErrInsufficientFunds    = errors.New("insufficient escrow balance")
	ErrConcurrencyConflict  = errors.New("concurrent modification")
	ErrGateway              = errors.New("payment gateway error")
	ErrOverlappingTiers     = errors.New("commission tiers overlap")
	ErrIdempotencyConflict  = errors.New("idempotency conflict")
	ErrInvalidSignature     = errors.New("invalid webhook signature")
	ErrUnsupportedEventType = errors.New("unsupported event type")
	ErrInvalidEnvelope      = errors.New("invalid envelope")
)

// GatewayError is returned by payment gateway adapters. Retryable marks
// failures a caller may safely attempt again with the same idempotency key.
type GatewayError struct {
	Op        string
	Code      string
	Retryable bool
	Err       error
}

func (e *GatewayError) Error() string {
	msg := e.Code
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("gateway %s failed (retryable=%t): %s", e.Op, e.Retryable, msg)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func (e *GatewayError) Is(target error) bool { return target == ErrGateway }

// IsRetryableGatewayError reports whether err carries a retryable gateway failure.
func IsRetryableGatewayError(err error) bool {
	var gwErr *GatewayError
	return errors.As(err, &gwErr) && gwErr.Retryable
}
