package contracts

import (
	"time"

	"github.com/shopspring/decimal"
)

type SuccessResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type CreateEscrowRequest struct {
	ContractID string `json:"contract_id"`
}

type FundEscrowRequest struct {
	ContractID       string `json:"contract_id"`
	PaymentMethodRef string `json:"payment_method_ref"`
}

type ReleaseFundsRequest struct {
	ContractID  string          `json:"contract_id"`
	Amount      decimal.Decimal `json:"amount"`
	MilestoneID string          `json:"milestone_id,omitempty"`
	Notes       string          `json:"notes,omitempty"`
}

type RefundFundsRequest struct {
	ContractID string          `json:"contract_id"`
	Amount     decimal.Decimal `json:"amount"`
	Reason     string          `json:"reason"`
}

// Amounts in responses are strings fixed to the currency's minor unit, e.g. "1000.00".
type EscrowResponse struct {
	EscrowID              string                `json:"escrow_id"`
	ContractID            string                `json:"contract_id"`
	ManagerID             string                `json:"manager_id"`
	TalentID              string                `json:"talent_id"`
	Status                string                `json:"status"`
	Currency              string                `json:"currency"`
	TotalAmount           string                `json:"total_amount"`
	HeldAmount            string                `json:"held_amount"`
	ReleasedAmount        string                `json:"released_amount"`
	RefundedAmount        string                `json:"refunded_amount"`
	AvailableBalance      string                `json:"available_balance"`
	PlatformFeePercentage string                `json:"platform_fee_percentage"`
	PlatformFeeAmount     string                `json:"platform_fee_amount"`
	CommissionSettingID   string                `json:"commission_setting_id,omitempty"`
	AutoReleaseAt         *time.Time            `json:"auto_release_at,omitempty"`
	AdminControls         AdminControlsResponse `json:"admin_controls"`
	Compliance            *ComplianceResponse   `json:"compliance,omitempty"`
	CreatedAt             time.Time             `json:"created_at"`
	UpdatedAt             time.Time             `json:"updated_at"`
	FundedAt              *time.Time            `json:"funded_at,omitempty"`
	ClosedAt              *time.Time            `json:"closed_at,omitempty"`
}

type AdminControlsResponse struct {
	IsFrozen               bool       `json:"is_frozen"`
	FrozenReason           string     `json:"frozen_reason,omitempty"`
	FrozenAt               *time.Time `json:"frozen_at,omitempty"`
	AutoReleaseEnabled     bool       `json:"auto_release_enabled"`
	AutoReleaseDelayHours  int        `json:"auto_release_delay_hours"`
	DisputeResolutionMode  bool       `json:"dispute_resolution_mode"`
	RequiresManualApproval bool       `json:"requires_manual_approval"`
	PriorityLevel          string     `json:"priority_level"`
	AdminNotes             []string   `json:"admin_notes,omitempty"`
	LastAdminAction        string     `json:"last_admin_action,omitempty"`
}

type ComplianceResponse struct {
	KYCVerified      bool       `json:"kyc_verified"`
	AMLChecked       bool       `json:"aml_checked"`
	SanctionsCleared bool       `json:"sanctions_cleared"`
	RiskScore        int        `json:"risk_score"`
	Notes            string     `json:"notes,omitempty"`
	LastCheck        *time.Time `json:"last_check,omitempty"`
}

type TransactionResponse struct {
	TransactionID string     `json:"transaction_id"`
	EscrowID      string     `json:"escrow_id"`
	Type          string     `json:"type"`
	Status        string     `json:"status"`
	Amount        string     `json:"amount"`
	Currency      string     `json:"currency"`
	GatewayRef    string     `json:"gateway_ref,omitempty"`
	Description   string     `json:"description,omitempty"`
	MilestoneID   string     `json:"milestone_id,omitempty"`
	PerformedBy   string     `json:"performed_by,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
}

type EscrowDetailsResponse struct {
	Escrow       EscrowResponse        `json:"escrow"`
	Transactions []TransactionResponse `json:"transactions"`
}

type EscrowListResponse struct {
	Items []EscrowResponse `json:"items"`
	Total int64            `json:"total"`
	Page  int              `json:"page"`
	Limit int              `json:"limit"`
}

type FundEscrowResponse struct {
	Escrow         EscrowResponse      `json:"escrow"`
	Transaction    TransactionResponse `json:"transaction"`
	RequiresAction bool                `json:"requires_action"`
	ClientSecret   string              `json:"client_secret,omitempty"`
	GatewayStatus  string              `json:"gateway_status,omitempty"`
}

type DisbursementResponse struct {
	Escrow        EscrowResponse      `json:"escrow"`
	Transaction   TransactionResponse `json:"transaction"`
	EventDelivery string              `json:"event_delivery,omitempty"`
}

type AdminReasonRequest struct {
	Reason string `json:"reason"`
}

type DisputeModeRequest struct {
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason"`
}

type ResolveDisputeRequest struct {
	Outcome string `json:"outcome"`
	Reason  string `json:"reason"`
}

type EmergencyReleaseRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
	Recipient string          `json:"recipient,omitempty"`
}

type AdjustFeeRequest struct {
	Percentage decimal.Decimal `json:"percentage"`
	Reason     string          `json:"reason"`
}

type AdminNoteRequest struct {
	Note string `json:"note"`
}

type ComplianceRequest struct {
	KYCVerified      *bool   `json:"kyc_verified,omitempty"`
	AMLChecked       *bool   `json:"aml_checked,omitempty"`
	SanctionsCleared *bool   `json:"sanctions_cleared,omitempty"`
	RiskScore        *int    `json:"risk_score,omitempty"`
	Notes            *string `json:"notes,omitempty"`
	Reason           string  `json:"reason"`
}

type AutoReleaseRequest struct {
	Enabled    bool   `json:"enabled"`
	DelayHours int    `json:"delay_hours,omitempty"`
	Reason     string `json:"reason"`
}

type ControlsRequest struct {
	RequiresManualApproval *bool   `json:"requires_manual_approval,omitempty"`
	PriorityLevel          *string `json:"priority_level,omitempty"`
	Reason                 string  `json:"reason"`
}

type AuditEntryResponse struct {
	AuditID     string         `json:"audit_id"`
	EscrowID    string         `json:"escrow_id"`
	Action      string         `json:"action"`
	Outcome     string         `json:"outcome"`
	Amount      *string        `json:"amount,omitempty"`
	PerformedBy string         `json:"performed_by"`
	Reason      string         `json:"reason,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

type CommissionTierDTO struct {
	MinVolume decimal.Decimal  `json:"min_volume"`
	MaxVolume *decimal.Decimal `json:"max_volume,omitempty"`
	Rate      decimal.Decimal  `json:"rate"`
	FlatFee   decimal.Decimal  `json:"flat_fee"`
}

type PaymentRangeDTO struct {
	Min               decimal.Decimal  `json:"min"`
	Max               *decimal.Decimal `json:"max,omitempty"`
	AdjustmentPercent decimal.Decimal  `json:"adjustment_percent"`
}

type CommissionScopeDTO struct {
	TransactionTypes []string          `json:"transaction_types,omitempty"`
	JobCategories    []string          `json:"job_categories,omitempty"`
	PaymentRanges    []PaymentRangeDTO `json:"payment_ranges,omitempty"`
}

type CommissionConditionsDTO struct {
	Enabled               bool       `json:"enabled"`
	StartDate             *time.Time `json:"start_date,omitempty"`
	EndDate               *time.Time `json:"end_date,omitempty"`
	MinimumUserRating     float64    `json:"minimum_user_rating,omitempty"`
	MinimumAccountAgeDays int        `json:"minimum_account_age_days,omitempty"`
	PremiumUsersOnly      bool       `json:"premium_users_only,omitempty"`
	ExcludedUsers         []string   `json:"excluded_users,omitempty"`
}

type PromotionDTO struct {
	IsPromotional bool       `json:"is_promotional"`
	StartsAt      *time.Time `json:"starts_at,omitempty"`
	EndsAt        *time.Time `json:"ends_at,omitempty"`
	MaxUsers      int        `json:"max_users,omitempty"`
	CurrentUsers  int        `json:"current_users,omitempty"`
}

// CommissionSettingDTO is used for both requests and responses; server-managed
// fields (id on create, timestamps, current_users) are ignored on input.
type CommissionSettingDTO struct {
	SettingID         string                  `json:"setting_id,omitempty"`
	Name              string                  `json:"name"`
	UserType          string                  `json:"user_type"`
	CommissionType    string                  `json:"commission_type"`
	BaseRate          decimal.Decimal         `json:"base_rate"`
	FlatFee           decimal.Decimal         `json:"flat_fee"`
	MinimumCommission *decimal.Decimal        `json:"minimum_commission,omitempty"`
	MaximumCommission *decimal.Decimal        `json:"maximum_commission,omitempty"`
	Tiers             []CommissionTierDTO     `json:"tiers,omitempty"`
	AppliesTo         CommissionScopeDTO      `json:"applies_to"`
	Conditions        CommissionConditionsDTO `json:"conditions"`
	Promotional       PromotionDTO            `json:"promotional"`
	Priority          int                     `json:"priority"`
	CreatedAt         *time.Time              `json:"created_at,omitempty"`
	UpdatedAt         *time.Time              `json:"updated_at,omitempty"`
}

type FeePreviewResponse struct {
	SettingID      string `json:"setting_id,omitempty"`
	CommissionType string `json:"commission_type"`
	Amount         string `json:"amount"`
	Fee            string `json:"fee"`
	EffectiveRate  string `json:"effective_rate"`
	Currency       string `json:"currency"`
}
