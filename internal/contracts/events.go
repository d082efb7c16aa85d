package contracts

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type EventEnvelope struct {
	EventID          string          `json:"event_id"`
	EventType        string          `json:"event_type"`
	EventClass       string          `json:"event_class,omitempty"`
	OccurredAt       time.Time       `json:"occurred_at"`
	PartitionKeyPath string          `json:"partition_key_path"`
	PartitionKey     string          `json:"partition_key"`
	SourceService    string          `json:"source_service"`
	TraceID          string          `json:"trace_id"`
	SchemaVersion    string          `json:"schema_version"`
	Data             json.RawMessage `json:"data"`
}

type ContractAcceptedPayload struct {
	ContractID string `json:"contract_id"`
	ManagerID  string `json:"manager_id,omitempty"`
	TalentID   string `json:"talent_id,omitempty"`
}

type EscrowCreatedPayload struct {
	EscrowID              string          `json:"escrow_id"`
	ContractID            string          `json:"contract_id"`
	ManagerID             string          `json:"manager_id"`
	TalentID              string          `json:"talent_id"`
	TotalAmount           decimal.Decimal `json:"total_amount"`
	Currency              string          `json:"currency"`
	PlatformFeePercentage decimal.Decimal `json:"platform_fee_percentage"`
	PlatformFeeAmount     decimal.Decimal `json:"platform_fee_amount"`
	CommissionSettingID   string          `json:"commission_setting_id,omitempty"`
	CreatedAt             string          `json:"created_at"`
}

type EscrowFundedPayload struct {
	EscrowID      string          `json:"escrow_id"`
	ContractID    string          `json:"contract_id"`
	TransactionID string          `json:"transaction_id"`
	HeldAmount    decimal.Decimal `json:"held_amount"`
	ChargedAmount decimal.Decimal `json:"charged_amount"`
	Currency      string          `json:"currency"`
	GatewayRef    string          `json:"gateway_ref"`
	FundedAt      string          `json:"funded_at"`
}

type FundsReleasedPayload struct {
	EscrowID       string          `json:"escrow_id"`
	ContractID     string          `json:"contract_id"`
	TransactionID  string          `json:"transaction_id"`
	TalentID       string          `json:"talent_id"`
	Amount         decimal.Decimal `json:"amount"`
	ReleasedAmount decimal.Decimal `json:"released_amount"`
	Available      decimal.Decimal `json:"available"`
	Status         string          `json:"status"`
	MilestoneID    string          `json:"milestone_id,omitempty"`
	Trigger        string          `json:"trigger"`
	ReleasedAt     string          `json:"released_at"`
}

type RefundProcessedPayload struct {
	EscrowID       string          `json:"escrow_id"`
	ContractID     string          `json:"contract_id"`
	TransactionID  string          `json:"transaction_id"`
	ManagerID      string          `json:"manager_id"`
	Amount         decimal.Decimal `json:"amount"`
	RefundedAmount decimal.Decimal `json:"refunded_amount"`
	Status         string          `json:"status"`
	GatewayRef     string          `json:"gateway_ref"`
	RefundedAt     string          `json:"refunded_at"`
}

type EscrowCompletedPayload struct {
	EscrowID       string          `json:"escrow_id"`
	ContractID     string          `json:"contract_id"`
	Status         string          `json:"status"`
	ReleasedAmount decimal.Decimal `json:"released_amount"`
	RefundedAmount decimal.Decimal `json:"refunded_amount"`
	ClosedAt       string          `json:"closed_at"`
}

type EscrowAdminActionPayload struct {
	EscrowID    string `json:"escrow_id"`
	ContractID  string `json:"contract_id"`
	Action      string `json:"action"`
	PerformedBy string `json:"performed_by"`
	Reason      string `json:"reason,omitempty"`
	Status      string `json:"status"`
	OccurredAt  string `json:"occurred_at"`
}

type EscrowFeeAdjustedPayload struct {
	EscrowID           string          `json:"escrow_id"`
	PreviousPercentage decimal.Decimal `json:"previous_percentage"`
	NewPercentage      decimal.Decimal `json:"new_percentage"`
	PreviousAmount     decimal.Decimal `json:"previous_amount"`
	NewAmount          decimal.Decimal `json:"new_amount"`
	AdjustedAt         string          `json:"adjusted_at"`
}

type NotificationMessage struct {
	Kind       string            `json:"kind"`
	UserID     string            `json:"user_id"`
	Title      string            `json:"title"`
	Message    string            `json:"message"`
	Data       map[string]string `json:"data,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// GatewayWebhookEvent is the JSON body posted by the payment gateway.
type GatewayWebhookEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object struct {
			ID        string            `json:"id"`
			Object    string            `json:"object"`
			Status    string            `json:"status"`
			LastError string            `json:"last_error,omitempty"`
			Metadata  map[string]string `json:"metadata,omitempty"`
		} `json:"object"`
	} `json:"data"`
}
