package postgres

import (
	"time"

	"github.com/shopspring/decimal"
)

type escrowAccountModel struct {
	EscrowID                string          `gorm:"column:escrow_id;primaryKey"`
	ContractID              string          `gorm:"column:contract_id;uniqueIndex"`
	ManagerID               string          `gorm:"column:manager_id;index"`
	TalentID                string          `gorm:"column:talent_id;index"`
	GatewayCustomerRef      string          `gorm:"column:gateway_customer_ref"`
	TotalAmount             decimal.Decimal `gorm:"column:total_amount;type:numeric(20,4)"`
	HeldAmount              decimal.Decimal `gorm:"column:held_amount;type:numeric(20,4)"`
	ReleasedAmount          decimal.Decimal `gorm:"column:released_amount;type:numeric(20,4)"`
	RefundedAmount          decimal.Decimal `gorm:"column:refunded_amount;type:numeric(20,4)"`
	Currency                string          `gorm:"column:currency"`
	Status                  string          `gorm:"column:status;index"`
	StatusBeforeDispute     string          `gorm:"column:status_before_dispute"`
	PlatformFeePercentage   decimal.Decimal `gorm:"column:platform_fee_percentage;type:numeric(9,4)"`
	PlatformFeeAmount       decimal.Decimal `gorm:"column:platform_fee_amount;type:numeric(20,4)"`
	CommissionSettingID     string          `gorm:"column:commission_setting_id"`
	CommissionType          string          `gorm:"column:commission_type"`
	IsFrozen                bool            `gorm:"column:is_frozen"`
	FrozenReason            string          `gorm:"column:frozen_reason"`
	FrozenBy                string          `gorm:"column:frozen_by"`
	FrozenAt                *time.Time      `gorm:"column:frozen_at"`
	AutoReleaseEnabled      bool            `gorm:"column:auto_release_enabled"`
	AutoReleaseDelaySeconds int64           `gorm:"column:auto_release_delay_seconds"`
	DisputeResolutionMode   bool            `gorm:"column:dispute_resolution_mode"`
	RequiresManualApproval  bool            `gorm:"column:requires_manual_approval"`
	PriorityLevel           string          `gorm:"column:priority_level"`
	AdminNotes              string          `gorm:"column:admin_notes"`
	LastAdminAction         *string         `gorm:"column:last_admin_action"`
	KYCVerified             bool            `gorm:"column:kyc_verified"`
	AMLChecked              bool            `gorm:"column:aml_checked"`
	SanctionsCleared        bool            `gorm:"column:sanctions_cleared"`
	RiskScore               int             `gorm:"column:risk_score"`
	ComplianceNotes         string          `gorm:"column:compliance_notes"`
	ComplianceLastCheck     *time.Time      `gorm:"column:compliance_last_check"`
	AutoReleaseAt           *time.Time      `gorm:"column:auto_release_at;index"`
	Version                 int64           `gorm:"column:version"`
	CreatedAt               time.Time       `gorm:"column:created_at"`
	UpdatedAt               time.Time       `gorm:"column:updated_at"`
	FundedAt                *time.Time      `gorm:"column:funded_at"`
	ClosedAt                *time.Time      `gorm:"column:closed_at"`
}

func (escrowAccountModel) TableName() string { return "escrow_accounts" }

type transactionModel struct {
	TransactionID       string          `gorm:"column:transaction_id;primaryKey"`
	EscrowID            string          `gorm:"column:escrow_id;index"`
	Type                string          `gorm:"column:type"`
	Amount              decimal.Decimal `gorm:"column:amount;type:numeric(20,4)"`
	Currency            string          `gorm:"column:currency"`
	GatewayRef          string          `gorm:"column:gateway_ref;index"`
	PaymentMethodRef    string          `gorm:"column:payment_method_ref"`
	IdempotencyKey      string          `gorm:"column:idempotency_key;uniqueIndex"`
	Status              string          `gorm:"column:status"`
	Description         string          `gorm:"column:description"`
	MilestoneID         string          `gorm:"column:milestone_id"`
	PerformedBy         string          `gorm:"column:performed_by"`
	CommissionSettingID string          `gorm:"column:commission_setting_id"`
	PlatformFeeAmount   decimal.Decimal `gorm:"column:platform_fee_amount;type:numeric(20,4)"`
	FailureReason       string          `gorm:"column:failure_reason"`
	CreatedAt           time.Time       `gorm:"column:created_at"`
	ProcessedAt         *time.Time      `gorm:"column:processed_at"`
}

func (transactionModel) TableName() string { return "escrow_transactions" }

type auditEntryModel struct {
	AuditID     string              `gorm:"column:audit_id;primaryKey"`
	EscrowID    string              `gorm:"column:escrow_id;index"`
	Action      string              `gorm:"column:action"`
	Amount      decimal.NullDecimal `gorm:"column:amount;type:numeric(20,4)"`
	PerformedBy string              `gorm:"column:performed_by"`
	Reason      string              `gorm:"column:reason"`
	Outcome     string              `gorm:"column:outcome"`
	Metadata    string              `gorm:"column:metadata"`
	OccurredAt  time.Time           `gorm:"column:occurred_at"`
}

func (auditEntryModel) TableName() string { return "escrow_audit_trail" }

type commissionSettingModel struct {
	SettingID         string              `gorm:"column:setting_id;primaryKey"`
	Name              string              `gorm:"column:name"`
	UserType          string              `gorm:"column:user_type"`
	CommissionType    string              `gorm:"column:commission_type"`
	BaseRate          decimal.Decimal     `gorm:"column:base_rate;type:numeric(9,4)"`
	FlatFee           decimal.Decimal     `gorm:"column:flat_fee;type:numeric(20,4)"`
	MinimumCommission decimal.NullDecimal `gorm:"column:minimum_commission;type:numeric(20,4)"`
	MaximumCommission decimal.NullDecimal `gorm:"column:maximum_commission;type:numeric(20,4)"`
	Tiers             string              `gorm:"column:tiers"`
	AppliesTo         string              `gorm:"column:applies_to"`
	Conditions        string              `gorm:"column:conditions"`
	Enabled           bool                `gorm:"column:enabled"`
	IsPromotional     bool                `gorm:"column:is_promotional"`
	PromoStartsAt     *time.Time          `gorm:"column:promo_starts_at"`
	PromoEndsAt       *time.Time          `gorm:"column:promo_ends_at"`
	PromoMaxUsers     int                 `gorm:"column:promo_max_users"`
	PromoCurrentUsers int                 `gorm:"column:promo_current_users"`
	Priority          int                 `gorm:"column:priority"`
	CreatedAt         time.Time           `gorm:"column:created_at"`
	UpdatedAt         time.Time           `gorm:"column:updated_at"`
}

func (commissionSettingModel) TableName() string { return "commission_settings" }

type promotionClaimModel struct {
	SettingID string    `gorm:"column:setting_id;primaryKey"`
	UserID    string    `gorm:"column:user_id;primaryKey"`
	ClaimedAt time.Time `gorm:"column:claimed_at"`
}

func (promotionClaimModel) TableName() string { return "commission_promotion_claims" }

type idempotencyModel struct {
	IdempotencyKey string    `gorm:"column:idempotency_key;primaryKey"`
	RequestHash    string    `gorm:"column:request_hash"`
	Status         string    `gorm:"column:status"`
	ResponseCode   int       `gorm:"column:response_code"`
	ResponseBody   *string   `gorm:"column:response_body"`
	ExpiresAt      time.Time `gorm:"column:expires_at"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (idempotencyModel) TableName() string { return "escrow_idempotency" }

type outboxModel struct {
	OutboxID       string     `gorm:"column:outbox_id;primaryKey"`
	EventType      string     `gorm:"column:event_type"`
	PartitionKey   string     `gorm:"column:partition_key"`
	Payload        string     `gorm:"column:payload"`
	RetryCount     int        `gorm:"column:retry_count"`
	LastError      *string    `gorm:"column:last_error"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	PublishedAt    *time.Time `gorm:"column:published_at"`
	LastErrorAt    *time.Time `gorm:"column:last_error_at"`
	ClaimToken     *string    `gorm:"column:claim_token"`
	ClaimUntil     *time.Time `gorm:"column:claim_until"`
	DeadLetteredAt *time.Time `gorm:"column:dead_lettered_at"`
}

func (outboxModel) TableName() string { return "escrow_outbox" }

type eventDedupModel struct {
	EventID     string    `gorm:"column:event_id;primaryKey"`
	EventType   string    `gorm:"column:event_type"`
	ProcessedAt time.Time `gorm:"column:processed_at"`
	ExpiresAt   time.Time `gorm:"column:expires_at"`
}

func (eventDedupModel) TableName() string { return "escrow_event_dedup" }
