package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/domain"
)

type PaymentIntentStatus string

const (
	PaymentIntentSucceeded             PaymentIntentStatus = "succeeded"
	PaymentIntentRequiresAction        PaymentIntentStatus = "requires_action"
	PaymentIntentRequiresConfirmation  PaymentIntentStatus = "requires_confirmation"
	PaymentIntentRequiresPaymentMethod PaymentIntentStatus = "requires_payment_method"
	PaymentIntentProcessing            PaymentIntentStatus = "processing"
	PaymentIntentCanceled              PaymentIntentStatus = "canceled"
)

// Succeeded and Failed are both false for intents still waiting on the client or the network.
func (s PaymentIntentStatus) Succeeded() bool { return s == PaymentIntentSucceeded }

func (s PaymentIntentStatus) Failed() bool {
	return s == PaymentIntentRequiresPaymentMethod || s == PaymentIntentCanceled
}

type PaymentIntentRequest struct {
	Amount           decimal.Decimal
	Currency         string
	CustomerRef      string
	PaymentMethodRef string
	IdempotencyKey   string
	Description      string
	Metadata         map[string]string
}

type PaymentIntent struct {
	Ref          string
	Status       PaymentIntentStatus
	ClientSecret string
	Amount       decimal.Decimal
	Currency     string
	LastError    string
}

type RefundRequest struct {
	PaymentIntentRef string
	Amount           decimal.Decimal
	Currency         string
	IdempotencyKey   string
	Reason           string
}

type GatewayRefund struct {
	Ref    string
	Status string
}

// PaymentGateway errors are *domain.GatewayError.
type PaymentGateway interface {
	CreateCustomer(ctx context.Context, email, name string) (string, error)
	CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (PaymentIntent, error)
	RetrievePaymentIntent(ctx context.Context, ref string) (PaymentIntent, error)
	CreateRefund(ctx context.Context, req RefundRequest) (GatewayRefund, error)
}

type ContractService interface {
	GetContract(ctx context.Context, contractID string) (domain.Contract, error)
	UpdateStatus(ctx context.Context, contractID, status string) error
	MarkMilestonePaid(ctx context.Context, contractID, milestoneID string) error
}

type UserDirectory interface {
	GetUserProfile(ctx context.Context, userID string) (domain.UserProfile, error)
}

// Notifier delivery is fire-and-forget; implementations must not block callers on failure.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification)
}

// AccountLocker serialises writers of one escrow account. Lock blocks until the
// lock is held or ctx is done.
type AccountLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
}

// LedgerMetrics receives operational measurements from the service.
type LedgerMetrics interface {
	ObserveOperation(operation, outcome string, duration time.Duration)
	ObserveLockWait(outcome string, duration time.Duration)
	ObserveGatewayCall(operation, outcome string, duration time.Duration)
	IncConflictRetry(operation string)
}
