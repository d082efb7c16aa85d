package application

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/domain"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/ports"
)

type feeResolution struct {
	setting domain.CommissionSetting
	fee     decimal.Decimal
	rate    decimal.Decimal
}

// resolveFee selects the commission setting for the paying user and computes the fee.
func (s *Service) resolveFee(ctx context.Context, userID string, userType domain.UserType, amount decimal.Decimal, currency, jobCategory string) (feeResolution, error) {
	now := s.nowFn()
	setting := domain.DefaultCommissionSetting(s.cfg.DefaultFeeRate)
	if s.commissions != nil {
		settings, err := s.commissions.List(ctx, ports.CommissionSettingFilter{UserType: userType, EnabledOnly: true})
		if err != nil {
			return feeResolution{}, err
		}
		profile := domain.UserProfile{UserID: userID}
		if s.users != nil {
			p, err := s.users.GetUserProfile(ctx, userID)
			if err != nil {
				s.logger.WarnContext(ctx, "user profile unavailable; conditions evaluated without it",
					"operation", "resolve_fee",
					"outcome", "degraded",
					"user_id", userID,
					"error", err,
				)
			} else {
				profile = p
			}
		}
		query := domain.CommissionQuery{
			UserID:          userID,
			UserType:        userType,
			Amount:          amount,
			TransactionType: s.cfg.CommissionTransactionType,
			JobCategory:     jobCategory,
			Profile:         profile,
			Now:             now,
		}
		if selected, ok := domain.SelectCommissionSetting(settings, query); ok {
			setting = selected
		}
	}
	fee, err := domain.CalculateCommission(setting, amount, currency)
	if err != nil {
		return feeResolution{}, err
	}
	rate := setting.BaseRate
	if setting.CommissionType != domain.CommissionTypePercentage {
		rate = domain.EffectiveRate(fee, amount)
	}
	return feeResolution{setting: setting, fee: fee, rate: rate}, nil
}

// claimPromotion counts userID against a promotional setting. When the cap was
// reached concurrently the default rate is used instead.
func (s *Service) claimPromotion(ctx context.Context, res feeResolution, userID string, amount decimal.Decimal, currency string) (feeResolution, error) {
	if !res.setting.Promotional.IsPromotional || res.setting.ID == "" || s.commissions == nil {
		return res, nil
	}
	ok, err := s.commissions.ClaimPromotionalSlot(ctx, res.setting.ID, userID, s.nowFn())
	if err != nil {
		return feeResolution{}, err
	}
	if ok {
		return res, nil
	}
	fallback := domain.DefaultCommissionSetting(s.cfg.DefaultFeeRate)
	fee, err := domain.CalculateCommission(fallback, amount, currency)
	if err != nil {
		return feeResolution{}, err
	}
	return feeResolution{setting: fallback, fee: fee, rate: fallback.BaseRate}, nil
}

// PreviewFee reports the fee a user would be charged on amount without side effects.
func (s *Service) PreviewFee(ctx context.Context, actor Actor, userID string, userType domain.UserType, amount decimal.Decimal, currency, jobCategory string) (FeePreview, error) {
	if err := requireSubject(actor); err != nil {
		return FeePreview{}, err
	}
	if strings.TrimSpace(userID) == "" {
		userID = actor.SubjectID
	}
	if userID != actor.SubjectID && !actor.IsAdmin() {
		return FeePreview{}, domain.ErrForbidden
	}
	if userType == "" {
		userType = domain.UserTypeManager
	}
	if amount.IsNegative() {
		return FeePreview{}, fmt.Errorf("%w: amount must not be negative", domain.ErrInvalidInput)
	}
	res, err := s.resolveFee(ctx, userID, userType, amount, domain.NormalizeCurrency(currency), jobCategory)
	if err != nil {
		return FeePreview{}, err
	}
	return FeePreview{
		SettingID:      res.setting.ID,
		CommissionType: res.setting.CommissionType,
		Amount:         amount,
		Fee:            res.fee,
		EffectiveRate:  domain.EffectiveRate(res.fee, amount),
	}, nil
}

func (s *Service) CreateCommissionSetting(ctx context.Context, actor Actor, setting domain.CommissionSetting) (domain.CommissionSetting, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.CommissionSetting{}, err
	}
	if err := setting.Validate(); err != nil {
		return domain.CommissionSetting{}, err
	}
	now := s.nowFn()
	setting.ID = uuid.NewString()
	setting.Promotional.CurrentUsers = 0
	setting.CreatedAt = now
	setting.UpdatedAt = now
	if err := s.commissions.Create(ctx, setting); err != nil {
		return domain.CommissionSetting{}, err
	}
	s.logger.InfoContext(ctx, "commission setting created",
		"operation", "create_commission_setting",
		"outcome", "success",
		"setting_id", setting.ID,
		"commission_type", string(setting.CommissionType),
		"performed_by", actor.SubjectID,
	)
	return setting, nil
}

// UpdateCommissionSetting replaces a setting. Accounts already created keep the
// fee they were created with.
func (s *Service) UpdateCommissionSetting(ctx context.Context, actor Actor, setting domain.CommissionSetting) (domain.CommissionSetting, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.CommissionSetting{}, err
	}
	if err := setting.Validate(); err != nil {
		return domain.CommissionSetting{}, err
	}
	existing, err := s.commissions.GetByID(ctx, setting.ID)
	if err != nil {
		return domain.CommissionSetting{}, err
	}
	setting.CreatedAt = existing.CreatedAt
	setting.Promotional.CurrentUsers = existing.Promotional.CurrentUsers
	setting.UpdatedAt = s.nowFn()
	if err := s.commissions.Update(ctx, setting); err != nil {
		return domain.CommissionSetting{}, err
	}
	return setting, nil
}

func (s *Service) ListCommissionSettings(ctx context.Context, actor Actor, userType domain.UserType) ([]domain.CommissionSetting, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.commissions.List(ctx, ports.CommissionSettingFilter{UserType: userType})
}
