package ports

import (
	"context"
	"time"

	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/domain"
)

// LedgerChange is written atomically: either every part is persisted or none is.
// When Account is set, the stored version must equal Account.Version; on success
// the repository bumps Account.Version.
type LedgerChange struct {
	Account             *domain.EscrowAccount
	NewTransactions     []domain.Transaction
	UpdatedTransactions []domain.Transaction
	Audit               []domain.AuditEntry
	Outbox              []OutboxEvent
}

type EscrowFilter struct {
	Status      domain.EscrowStatus
	PartyUserID string
	Limit       int
	Offset      int
}

type EscrowRepository interface {
	Create(ctx context.Context, account domain.EscrowAccount, change LedgerChange) error
	GetByID(ctx context.Context, escrowID string) (domain.EscrowAccount, error)
	GetByContractID(ctx context.Context, contractID string) (domain.EscrowAccount, error)
	List(ctx context.Context, filter EscrowFilter) ([]domain.EscrowAccount, int64, error)
	ListDueAutoRelease(ctx context.Context, now time.Time, limit int) ([]domain.EscrowAccount, error)
	Commit(ctx context.Context, change LedgerChange) error
}

type TransactionRepository interface {
	GetByID(ctx context.Context, transactionID string) (domain.Transaction, error)
	GetByGatewayRef(ctx context.Context, gatewayRef string) (domain.Transaction, error)
	ListByEscrowID(ctx context.Context, escrowID string) ([]domain.Transaction, error)
	FindPending(ctx context.Context, escrowID string, txType domain.TransactionType) (*domain.Transaction, error)
	ListStalePending(ctx context.Context, txType domain.TransactionType, before time.Time, limit int) ([]domain.Transaction, error)
}

type AuditRepository interface {
	Append(ctx context.Context, entry domain.AuditEntry) error
	ListByEscrowID(ctx context.Context, escrowID string, limit, offset int) ([]domain.AuditEntry, error)
}

type CommissionSettingFilter struct {
	UserType    domain.UserType
	EnabledOnly bool
}

type CommissionSettingRepository interface {
	Create(ctx context.Context, setting domain.CommissionSetting) error
	Update(ctx context.Context, setting domain.CommissionSetting) error
	GetByID(ctx context.Context, settingID string) (domain.CommissionSetting, error)
	List(ctx context.Context, filter CommissionSettingFilter) ([]domain.CommissionSetting, error)
	// ClaimPromotionalSlot records userID against a promotional setting once,
	// incrementing its usage counter. It returns false when the cap is reached.
	ClaimPromotionalSlot(ctx context.Context, settingID, userID string, at time.Time) (bool, error)
}

type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseCode int
	ResponseBody []byte
	ExpiresAt    time.Time
}

type IdempotencyRepository interface {
	Get(ctx context.Context, key string, now time.Time) (*IdempotencyRecord, error)
	Reserve(ctx context.Context, key, requestHash string, expiresAt time.Time) error
	Complete(ctx context.Context, key string, responseCode int, responseBody []byte, at time.Time) error
	Release(ctx context.Context, key string) error
}

type EventDedupRepository interface {
	IsDuplicate(ctx context.Context, eventID string, now time.Time) (bool, error)
	MarkProcessed(ctx context.Context, eventID, eventType string, expiresAt time.Time) error
}

type OutboxEvent struct {
	EventID      string
	EventType    string
	PartitionKey string
	Payload      []byte
	OccurredAt   time.Time
}

type OutboxRecord struct {
	OutboxID       string
	EventType      string
	PartitionKey   string
	Payload        []byte
	RetryCount     int
	LastError      *string
	CreatedAt      time.Time
	PublishedAt    *time.Time
	LastErrorAt    *time.Time
	ClaimToken     *string
	ClaimUntil     *time.Time
	DeadLetteredAt *time.Time
}

type OutboxRepository interface {
	ClaimUnpublished(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, outboxID, claimToken string, at time.Time) error
	MarkFailed(ctx context.Context, outboxID, claimToken, errMsg string, at time.Time) error
	MarkDeadLettered(ctx context.Context, outboxID, claimToken, errMsg string, at time.Time) error
}
