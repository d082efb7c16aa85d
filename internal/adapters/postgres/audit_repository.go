package postgres

import (
	"context"

	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/domain"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/ports"
	"gorm.io/gorm"
)

// auditRepository only ever inserts; the table also rejects updates and deletes.
type auditRepository struct {
	db *gorm.DB
}

func (r *auditRepository) Append(ctx context.Context, entry domain.AuditEntry) error {
	row := toAuditModel(entry)
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *auditRepository) ListByEscrowID(ctx context.Context, escrowID string, limit, offset int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []auditEntryModel
	err := r.db.WithContext(ctx).
		Where("escrow_id = ?", escrowID).
		Order("occurred_at ASC").
		Order("audit_id ASC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.AuditEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromAuditModel(row))
	}
	return out, nil
}

var _ ports.AuditRepository = (*auditRepository)(nil)
