package application

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/domain"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/ports"
)

const (
	RoleManager = "manager"
	RoleTalent  = "talent"
	RoleAdmin   = "admin"
	RoleSystem  = "system"
)

type Config struct {
	ServiceName               string
	DefaultFeeRate            decimal.Decimal
	CommissionTransactionType string
	LockTimeout               time.Duration
	ConflictRetries           int
	ConflictBackoff           time.Duration
	IdempotencyTTL            time.Duration
	EventDedupTTL             time.Duration
	AutoReleaseDefaultEnabled bool
	AutoReleaseDefaultDelay   time.Duration
	AutoReleaseTimers         bool
	AutoReleaseBatchSize      int
	PendingDepositStaleAfter  time.Duration
	PendingDepositExpiry      time.Duration
	ReconcileBatchSize        int
	CollaboratorTimeout       time.Duration
}

// Actor identifies the caller of a service operation.
type Actor struct {
	SubjectID      string
	Role           string
	RequestID      string
	IdempotencyKey string
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

func SystemActor(requestID string) Actor {
	return Actor{SubjectID: "system", Role: RoleSystem, RequestID: requestID}
}

type CreateEscrowInput struct {
	ContractID string
}

type FundEscrowInput struct {
	ContractID       string
	PaymentMethodRef string
}

type ReleaseInput struct {
	ContractID  string
	Amount      decimal.Decimal
	MilestoneID string
	Notes       string
}

type RefundInput struct {
	ContractID string
	Amount     decimal.Decimal
	Reason     string
}

type ListEscrowsInput struct {
	Status domain.EscrowStatus
	Page   int
	Limit  int
}

type EscrowPage struct {
	Items []domain.EscrowAccount
	Total int64
	Page  int
	Limit int
}

// FundResult reports the outcome of a funding attempt. When the gateway needs
// client-side confirmation, RequiresAction is set and the account is unchanged.
type FundResult struct {
	Account        domain.EscrowAccount
	Transaction    domain.Transaction
	RequiresAction bool
	ClientSecret   string
	GatewayStatus  string
}

type DisbursementResult struct {
	Account     domain.EscrowAccount
	Transaction domain.Transaction
}

type EmergencyReleaseInput struct {
	EscrowID  string
	Amount    decimal.Decimal
	Reason    string
	Recipient string
}

type ComplianceInput struct {
	EscrowID         string
	KYCVerified      *bool
	AMLChecked       *bool
	SanctionsCleared *bool
	RiskScore        *int
	Notes            *string
	Reason           string
}

type ControlsInput struct {
	EscrowID               string
	RequiresManualApproval *bool
	PriorityLevel          *domain.PriorityLevel
	Reason                 string
}

type AutoReleaseInput struct {
	EscrowID   string
	Enabled    bool
	DelayHours int
	Reason     string
}

type ResolveDisputeInput struct {
	EscrowID string
	Outcome  domain.DisputeOutcome
	Reason   string
}

type FeePreview struct {
	SettingID      string
	CommissionType domain.CommissionType
	Amount         decimal.Decimal
	Fee            decimal.Decimal
	EffectiveRate  decimal.Decimal
}

type Service struct {
	cfg          Config
	logger       *slog.Logger
	escrows      ports.EscrowRepository
	transactions ports.TransactionRepository
	audit        ports.AuditRepository
	commissions  ports.CommissionSettingRepository
	idempotency  ports.IdempotencyRepository
	eventDedup   ports.EventDedupRepository
	gateway      ports.PaymentGateway
	contracts    ports.ContractService
	users        ports.UserDirectory
	notifier     ports.Notifier
	locker       ports.AccountLocker
	metrics      ports.LedgerMetrics
	timers       *autoReleaseTimers
	nowFn        func() time.Time
}

type Dependencies struct {
	Config       Config
	Logger       *slog.Logger
	Escrows      ports.EscrowRepository
	Transactions ports.TransactionRepository
	Audit        ports.AuditRepository
	Commissions  ports.CommissionSettingRepository
	Idempotency  ports.IdempotencyRepository
	EventDedup   ports.EventDedupRepository
	Gateway      ports.PaymentGateway
	Contracts    ports.ContractService
	Users        ports.UserDirectory
	Notifier     ports.Notifier
	Locker       ports.AccountLocker
	Metrics      ports.LedgerMetrics
	Clock        func() time.Time
}

func NewService(deps Dependencies) *Service {
	cfg := deps.Config
	if cfg.ServiceName == "" {
		cfg.ServiceName = "Escrow-Ledger-Service"
	}
	if cfg.DefaultFeeRate.IsZero() {
		cfg.DefaultFeeRate = decimal.NewFromInt(5)
	}
	if cfg.CommissionTransactionType == "" {
		cfg.CommissionTransactionType = "escrow_deposit"
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 5 * time.Second
	}
	if cfg.ConflictRetries <= 0 {
		cfg.ConflictRetries = 3
	}
	if cfg.ConflictBackoff <= 0 {
		cfg.ConflictBackoff = 25 * time.Millisecond
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 7 * 24 * time.Hour
	}
	if cfg.EventDedupTTL <= 0 {
		cfg.EventDedupTTL = 7 * 24 * time.Hour
	}
	if cfg.AutoReleaseDefaultDelay <= 0 {
		cfg.AutoReleaseDefaultDelay = 14 * 24 * time.Hour
	}
	if cfg.AutoReleaseBatchSize <= 0 {
		cfg.AutoReleaseBatchSize = 100
	}
	if cfg.PendingDepositStaleAfter <= 0 {
		cfg.PendingDepositStaleAfter = 15 * time.Minute
	}
	if cfg.PendingDepositExpiry <= 0 {
		cfg.PendingDepositExpiry = 24 * time.Hour
	}
	if cfg.ReconcileBatchSize <= 0 {
		cfg.ReconcileBatchSize = 50
	}
	if cfg.CollaboratorTimeout <= 0 {
		cfg.CollaboratorTimeout = 5 * time.Second
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	nowFn := deps.Clock
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = noopNotifier{}
	}

	s := &Service{
		cfg:          cfg,
		logger:       logger.With("service", cfg.ServiceName, "module", "application", "layer", "service"),
		escrows:      deps.Escrows,
		transactions: deps.Transactions,
		audit:        deps.Audit,
		commissions:  deps.Commissions,
		idempotency:  deps.Idempotency,
		eventDedup:   deps.EventDedup,
		gateway:      deps.Gateway,
		contracts:    deps.Contracts,
		users:        deps.Users,
		notifier:     notifier,
		locker:       deps.Locker,
		metrics:      metrics,
		nowFn:        nowFn,
	}
	s.timers = newAutoReleaseTimers(cfg.AutoReleaseTimers, nowFn, s.fireAutoRelease)
	return s
}
