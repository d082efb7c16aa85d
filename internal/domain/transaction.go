package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypeDeposit TransactionType = "deposit"
	TransactionTypeHold    TransactionType = "hold"
	TransactionTypeRelease TransactionType = "release"
	TransactionTypeRefund  TransactionType = "refund"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeDeposit, TransactionTypeHold, TransactionTypeRelease, TransactionTypeRefund:
		return true
	default:
		return false
	}
}

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusCancelled TransactionStatus = "cancelled"
)

// Transaction is one money movement against an escrow account.
type Transaction struct {
	ID                  string
	EscrowID            string
	Type                TransactionType
	Amount              decimal.Decimal
	Currency            string
	GatewayRef          string
	PaymentMethodRef    string
	IdempotencyKey      string
	Status              TransactionStatus
	Description         string
	MilestoneID         string
	PerformedBy         string
	CommissionSettingID string
	PlatformFeeAmount   decimal.Decimal
	FailureReason       string
	CreatedAt           time.Time
	ProcessedAt         *time.Time
}

func (t Transaction) Settled() bool {
	return t.Status != TransactionStatusPending
}

func (t *Transaction) Complete(gatewayRef string, now time.Time) {
	if gatewayRef != "" {
		t.GatewayRef = gatewayRef
	}
	t.Status = TransactionStatusCompleted
	t.FailureReason = ""
	t.ProcessedAt = &now
}

func (t *Transaction) Fail(reason string, now time.Time) {
	t.Status = TransactionStatusFailed
	t.FailureReason = reason
	t.ProcessedAt = &now
}
