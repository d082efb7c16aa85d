package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/domain"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/ports"
	"gorm.io/gorm"
)

type escrowRepository struct {
	db *gorm.DB
}

func (r *escrowRepository) Create(ctx context.Context, account domain.EscrowAccount, change ports.LedgerChange) error {
	if account.Version == 0 {
		account.Version = 1
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := toEscrowModel(account)
		if err := tx.Create(&row).Error; err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: escrow for contract %s already exists", domain.ErrConflict, account.ContractID)
			}
			return err
		}
		return writeLedgerChildren(tx, change)
	})
}

func (r *escrowRepository) GetByID(ctx context.Context, escrowID string) (domain.EscrowAccount, error) {
	var row escrowAccountModel
	if err := r.db.WithContext(ctx).Where("escrow_id = ?", escrowID).Take(&row).Error; err != nil {
		return domain.EscrowAccount{}, mapNotFound(err)
	}
	return fromEscrowModel(row), nil
}

func (r *escrowRepository) GetByContractID(ctx context.Context, contractID string) (domain.EscrowAccount, error) {
	var row escrowAccountModel
	if err := r.db.WithContext(ctx).Where("contract_id = ?", contractID).Take(&row).Error; err != nil {
		return domain.EscrowAccount{}, mapNotFound(err)
	}
	return fromEscrowModel(row), nil
}

func (r *escrowRepository) List(ctx context.Context, filter ports.EscrowFilter) ([]domain.EscrowAccount, int64, error) {
	q := r.db.WithContext(ctx).Model(&escrowAccountModel{})
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.PartyUserID != "" {
		q = q.Where("manager_id = ? OR talent_id = ?", filter.PartyUserID, filter.PartyUserID)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	var rows []escrowAccountModel
	if err := q.Order("created_at DESC").Order("escrow_id DESC").Limit(limit).Offset(filter.Offset).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	out := make([]domain.EscrowAccount, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromEscrowModel(row))
	}
	return out, total, nil
}

func (r *escrowRepository) ListDueAutoRelease(ctx context.Context, now time.Time, limit int) ([]domain.EscrowAccount, error) {
	if limit <= 0 {
		return nil, nil
	}
	var rows []escrowAccountModel
	err := r.db.WithContext(ctx).
		Where("auto_release_at IS NOT NULL AND auto_release_at <= ?", now).
		Where("status IN ?", []string{string(domain.EscrowStatusFunded), string(domain.EscrowStatusPartialRelease)}).
		Where("is_frozen = ? AND dispute_resolution_mode = ?", false, false).
		Order("auto_release_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.EscrowAccount, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromEscrowModel(row))
	}
	return out, nil
}

// Commit writes the change in one database transaction. The account row is only
// updated if its version still matches, which turns a lost update into
// ErrConcurrencyConflict.
func (r *escrowRepository) Commit(ctx context.Context, change ports.LedgerChange) error {
	var nextVersion int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if change.Account != nil {
			if err := change.Account.CheckInvariants(); err != nil {
				return err
			}
			row := toEscrowModel(*change.Account)
			nextVersion = change.Account.Version + 1
			row.Version = nextVersion
			res := tx.Model(&escrowAccountModel{}).
				Where("escrow_id = ? AND version = ?", change.Account.ID, change.Account.Version).
				Select("*").
				Omit("escrow_id", "contract_id", "created_at").
				Updates(&row)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%w: escrow %s was modified concurrently", domain.ErrConcurrencyConflict, change.Account.ID)
			}
		}
		return writeLedgerChildren(tx, change)
	})
	if err != nil {
		return err
	}
	if change.Account != nil {
		change.Account.Version = nextVersion
	}
	return nil
}

func writeLedgerChildren(tx *gorm.DB, change ports.LedgerChange) error {
	for _, t := range change.NewTransactions {
		row := toTransactionModel(t)
		if err := tx.Create(&row).Error; err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: transaction %s conflicts with an existing one", domain.ErrConflict, t.ID)
			}
			return err
		}
	}
	for _, t := range change.UpdatedTransactions {
		res := tx.Model(&transactionModel{}).
			Where("transaction_id = ?", t.ID).
			Updates(map[string]any{
				"status":         string(t.Status),
				"gateway_ref":    t.GatewayRef,
				"failure_reason": t.FailureReason,
				"processed_at":   t.ProcessedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: transaction %s", domain.ErrNotFound, t.ID)
		}
	}
	for _, e := range change.Audit {
		row := toAuditModel(e)
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
	}
	for _, evt := range change.Outbox {
		row := outboxModel{
			OutboxID:     evt.EventID,
			EventType:    evt.EventType,
			PartitionKey: evt.PartitionKey,
			Payload:      string(evt.Payload),
			CreatedAt:    evt.OccurredAt,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

var _ ports.EscrowRepository = (*escrowRepository)(nil)
