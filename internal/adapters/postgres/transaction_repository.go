package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/domain"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/ports"
	"gorm.io/gorm"
)

type transactionRepository struct {
	db *gorm.DB
}

func (r *transactionRepository) GetByID(ctx context.Context, transactionID string) (domain.Transaction, error) {
	var row transactionModel
	if err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).Take(&row).Error; err != nil {
		return domain.Transaction{}, mapNotFound(err)
	}
	return fromTransactionModel(row), nil
}

func (r *transactionRepository) GetByGatewayRef(ctx context.Context, gatewayRef string) (domain.Transaction, error) {
	var row transactionModel
	err := r.db.WithContext(ctx).
		Where("gateway_ref = ?", gatewayRef).
		Order("created_at DESC").
		Take(&row).Error
	if err != nil {
		return domain.Transaction{}, mapNotFound(err)
	}
	return fromTransactionModel(row), nil
}

func (r *transactionRepository) ListByEscrowID(ctx context.Context, escrowID string) ([]domain.Transaction, error) {
	var rows []transactionModel
	if err := r.db.WithContext(ctx).Where("escrow_id = ?", escrowID).Order("created_at ASC").Order("transaction_id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Transaction, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromTransactionModel(row))
	}
	return out, nil
}

func (r *transactionRepository) FindPending(ctx context.Context, escrowID string, txType domain.TransactionType) (*domain.Transaction, error) {
	var row transactionModel
	err := r.db.WithContext(ctx).
		Where("escrow_id = ? AND type = ? AND status = ?", escrowID, string(txType), string(domain.TransactionStatusPending)).
		Order("created_at DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	tx := fromTransactionModel(row)
	return &tx, nil
}

func (r *transactionRepository) ListStalePending(ctx context.Context, txType domain.TransactionType, before time.Time, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		return nil, nil
	}
	var rows []transactionModel
	err := r.db.WithContext(ctx).
		Where("type = ? AND status = ? AND created_at < ?", string(txType), string(domain.TransactionStatusPending), before).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Transaction, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromTransactionModel(row))
	}
	return out, nil
}

var _ ports.TransactionRepository = (*transactionRepository)(nil)
