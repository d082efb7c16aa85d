package postgres

import (
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/ports"
	"gorm.io/gorm"
)

type Repositories struct {
	Escrows      ports.EscrowRepository
	Transactions ports.TransactionRepository
	Audit        ports.AuditRepository
	Commissions  ports.CommissionSettingRepository
	Idempotency  ports.IdempotencyRepository
	EventDedup   ports.EventDedupRepository
	Outbox       ports.OutboxRepository
}

func NewRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Escrows:      &escrowRepository{db: db},
		Transactions: &transactionRepository{db: db},
		Audit:        &auditRepository{db: db},
		Commissions:  &commissionSettingRepository{db: db},
		Idempotency:  &idempotencyRepository{db: db},
		EventDedup:   &eventDedupRepository{db: db},
		Outbox:       &outboxRepository{db: db},
	}
}
