package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/domain"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/ports"
)

// Payment method references understood by the sandbox.
const (
	SandboxCardOK             = "pm_card_visa"
	SandboxCardRequiresAction = "pm_requires_action"
	SandboxCardProcessing     = "pm_processing"
	SandboxCardDeclined       = "pm_card_declined"
	SandboxGatewayDown        = "pm_gateway_down"
)

// Sandbox is a deterministic in-process PaymentGateway for local runs and tests.
// Requests are deduplicated on their idempotency key the way a real gateway does.
type Sandbox struct {
	mu        sync.Mutex
	customers map[string]string
	intents   map[string]*sandboxIntent
	byKey     map[string]string
	refunds   map[string]ports.GatewayRefund
	refundErr error
	calls     map[string]int
}

type sandboxIntent struct {
	intent   ports.PaymentIntent
	refunded decimal.Decimal
}

func NewSandbox() *Sandbox {
	return &Sandbox{
		customers: make(map[string]string),
		intents:   make(map[string]*sandboxIntent),
		byKey:     make(map[string]string),
		refunds:   make(map[string]ports.GatewayRefund),
		calls:     make(map[string]int),
	}
}

func (s *Sandbox) CreateCustomer(_ context.Context, email, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["create_customer"]++
	key := strings.ToLower(strings.TrimSpace(email)) + "|" + name
	if ref, ok := s.customers[key]; ok {
		return ref, nil
	}
	ref := "cus_" + shortID()
	s.customers[key] = ref
	return ref, nil
}

func (s *Sandbox) CreatePaymentIntent(_ context.Context, req ports.PaymentIntentRequest) (ports.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["create_payment_intent"]++
	if req.PaymentMethodRef == SandboxGatewayDown {
		return ports.PaymentIntent{}, &domain.GatewayError{Op: "create_payment_intent", Code: "api_connection_error", Retryable: true}
	}
	if !req.Amount.IsPositive() {
		return ports.PaymentIntent{}, &domain.GatewayError{Op: "create_payment_intent", Code: "amount_invalid"}
	}
	if req.IdempotencyKey != "" {
		if ref, ok := s.byKey[req.IdempotencyKey]; ok {
			return s.intents[ref].intent, nil
		}
	}
	intent := ports.PaymentIntent{
		Ref:          "pi_" + shortID(),
		Amount:       req.Amount,
		Currency:     domain.NormalizeCurrency(req.Currency),
		ClientSecret: "",
	}
	switch req.PaymentMethodRef {
	case SandboxCardRequiresAction:
		intent.Status = ports.PaymentIntentRequiresAction
		intent.ClientSecret = intent.Ref + "_secret_" + shortID()
	case SandboxCardProcessing:
		intent.Status = ports.PaymentIntentProcessing
	case SandboxCardDeclined:
		intent.Status = ports.PaymentIntentRequiresPaymentMethod
		intent.LastError = "card_declined"
	default:
		intent.Status = ports.PaymentIntentSucceeded
	}
	s.intents[intent.Ref] = &sandboxIntent{intent: intent, refunded: decimal.Zero}
	if req.IdempotencyKey != "" {
		s.byKey[req.IdempotencyKey] = intent.Ref
	}
	return intent, nil
}

func (s *Sandbox) RetrievePaymentIntent(_ context.Context, ref string) (ports.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["retrieve_payment_intent"]++
	stored, ok := s.intents[ref]
	if !ok {
		return ports.PaymentIntent{}, &domain.GatewayError{Op: "retrieve_payment_intent", Code: "resource_missing"}
	}
	return stored.intent, nil
}

func (s *Sandbox) CreateRefund(_ context.Context, req ports.RefundRequest) (ports.GatewayRefund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["create_refund"]++
	if s.refundErr != nil {
		return ports.GatewayRefund{}, s.refundErr
	}
	if req.IdempotencyKey != "" {
		if refund, ok := s.refunds[req.IdempotencyKey]; ok {
			return refund, nil
		}
	}
	stored, ok := s.intents[req.PaymentIntentRef]
	if !ok {
		return ports.GatewayRefund{}, &domain.GatewayError{Op: "create_refund", Code: "resource_missing"}
	}
	if !stored.intent.Status.Succeeded() {
		return ports.GatewayRefund{}, &domain.GatewayError{Op: "create_refund", Code: "charge_not_captured"}
	}
	if stored.refunded.Add(req.Amount).GreaterThan(stored.intent.Amount) {
		return ports.GatewayRefund{}, &domain.GatewayError{Op: "create_refund", Code: "amount_too_large"}
	}
	stored.refunded = stored.refunded.Add(req.Amount)
	refund := ports.GatewayRefund{Ref: "re_" + shortID(), Status: "succeeded"}
	if req.IdempotencyKey != "" {
		s.refunds[req.IdempotencyKey] = refund
	}
	return refund, nil
}

// Confirm completes an intent that was waiting on the customer, as a webhook would report.
func (s *Sandbox) Confirm(ref string) (ports.PaymentIntent, error) {
	return s.settle(ref, ports.PaymentIntentSucceeded, "")
}

// Decline fails an intent that was waiting on the customer.
func (s *Sandbox) Decline(ref, reason string) (ports.PaymentIntent, error) {
	return s.settle(ref, ports.PaymentIntentRequiresPaymentMethod, reason)
}

func (s *Sandbox) settle(ref string, status ports.PaymentIntentStatus, reason string) (ports.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.intents[ref]
	if !ok {
		return ports.PaymentIntent{}, fmt.Errorf("sandbox: unknown payment intent %s", ref)
	}
	stored.intent.Status = status
	stored.intent.LastError = reason
	return stored.intent, nil
}

// FailRefunds makes every following refund return err; nil restores normal behaviour.
func (s *Sandbox) FailRefunds(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refundErr = err
}

func (s *Sandbox) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *Sandbox) Refunded(ref string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stored, ok := s.intents[ref]; ok {
		return stored.refunded
	}
	return decimal.Zero
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

var _ ports.PaymentGateway = (*Sandbox)(nil)
