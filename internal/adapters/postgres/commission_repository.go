package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/domain"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/ports"
	"gorm.io/gorm"
)

type commissionSettingRepository struct {
	db *gorm.DB
}

func (r *commissionSettingRepository) Create(ctx context.Context, setting domain.CommissionSetting) error {
	row := toCommissionModel(setting)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: commission setting %s exists", domain.ErrConflict, setting.ID)
		}
		return err
	}
	return nil
}

// Update rewrites the rule but never the promotion usage counter, which only
// ClaimPromotionalSlot moves.
func (r *commissionSettingRepository) Update(ctx context.Context, setting domain.CommissionSetting) error {
	row := toCommissionModel(setting)
	res := r.db.WithContext(ctx).
		Model(&commissionSettingModel{}).
		Where("setting_id = ?", setting.ID).
		Select("*").
		Omit("setting_id", "created_at", "promo_current_users").
		Updates(&row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *commissionSettingRepository) GetByID(ctx context.Context, settingID string) (domain.CommissionSetting, error) {
	var row commissionSettingModel
	if err := r.db.WithContext(ctx).Where("setting_id = ?", settingID).Take(&row).Error; err != nil {
		return domain.CommissionSetting{}, mapNotFound(err)
	}
	return fromCommissionModel(row), nil
}

func (r *commissionSettingRepository) List(ctx context.Context, filter ports.CommissionSettingFilter) ([]domain.CommissionSetting, error) {
	q := r.db.WithContext(ctx).Model(&commissionSettingModel{})
	if filter.UserType != "" {
		q = q.Where("user_type IN ?", []string{string(filter.UserType), string(domain.UserTypeBoth)})
	}
	if filter.EnabledOnly {
		q = q.Where("enabled = ?", true)
	}
	var rows []commissionSettingModel
	if err := q.Order("priority DESC").Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.CommissionSetting, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromCommissionModel(row))
	}
	return out, nil
}

func (r *commissionSettingRepository) ClaimPromotionalSlot(ctx context.Context, settingID, userID string, at time.Time) (bool, error) {
	claimed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing promotionClaimModel
		err := tx.Where("setting_id = ? AND user_id = ?", settingID, userID).Take(&existing).Error
		if err == nil {
			claimed = true
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		res := tx.Model(&commissionSettingModel{}).
			Where("setting_id = ?", settingID).
			Where("promo_max_users <= 0 OR promo_current_users < promo_max_users").
			Update("promo_current_users", gorm.Expr("promo_current_users + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if err := tx.Create(&promotionClaimModel{SettingID: settingID, UserID: userID, ClaimedAt: at}).Error; err != nil {
			return err
		}
		claimed = true
		return nil
	})
	if err != nil {
		// A concurrent claim by the same user rolled us back; that user already holds a slot.
		if isUniqueViolation(err) {
			return true, nil
		}
		return false, err
	}
	return claimed, nil
}

var _ ports.CommissionSettingRepository = (*commissionSettingRepository)(nil)
