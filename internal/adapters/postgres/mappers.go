package postgres

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/domain"
	"gorm.io/gorm"
)

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func mapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	return err
}

type adminActionRecord struct {
	Action      string    `json:"action"`
	PerformedBy string    `json:"performed_by"`
	Reason      string    `json:"reason,omitempty"`
	At          time.Time `json:"at"`
}

func toEscrowModel(a domain.EscrowAccount) escrowAccountModel {
	notes := a.AdminControls.AdminNotes
	if notes == nil {
		notes = []string{}
	}
	notesRaw, _ := json.Marshal(notes)
	var lastAction *string
	if la := a.AdminControls.LastAdminAction; la != nil {
		raw, _ := json.Marshal(adminActionRecord{Action: string(la.Action), PerformedBy: la.PerformedBy, Reason: la.Reason, At: la.At})
		s := string(raw)
		lastAction = &s
	}
	return escrowAccountModel{
		EscrowID:                a.ID,
		ContractID:              a.ContractID,
		ManagerID:               a.ManagerID,
		TalentID:                a.TalentID,
		GatewayCustomerRef:      a.GatewayCustomerRef,
		TotalAmount:             a.TotalAmount,
		HeldAmount:              a.HeldAmount,
		ReleasedAmount:          a.ReleasedAmount,
		RefundedAmount:          a.RefundedAmount,
		Currency:                a.Currency,
		Status:                  string(a.Status),
		StatusBeforeDispute:     string(a.StatusBeforeDispute),
		PlatformFeePercentage:   a.PlatformFeePercentage,
		PlatformFeeAmount:       a.PlatformFeeAmount,
		CommissionSettingID:     a.CommissionSettingID,
		CommissionType:          string(a.CommissionType),
		IsFrozen:                a.AdminControls.IsFrozen,
		FrozenReason:            a.AdminControls.FrozenReason,
		FrozenBy:                a.AdminControls.FrozenBy,
		FrozenAt:                a.AdminControls.FrozenAt,
		AutoReleaseEnabled:      a.AdminControls.AutoReleaseEnabled,
		AutoReleaseDelaySeconds: int64(a.AdminControls.AutoReleaseDelay / time.Second),
		DisputeResolutionMode:   a.AdminControls.DisputeResolutionMode,
		RequiresManualApproval:  a.AdminControls.RequiresManualApproval,
		PriorityLevel:           string(a.AdminControls.PriorityLevel),
		AdminNotes:              string(notesRaw),
		LastAdminAction:         lastAction,
		KYCVerified:             a.Compliance.KYCVerified,
		AMLChecked:              a.Compliance.AMLChecked,
		SanctionsCleared:        a.Compliance.SanctionsCleared,
		RiskScore:               a.Compliance.RiskScore,
		ComplianceNotes:         a.Compliance.Notes,
		ComplianceLastCheck:     a.Compliance.LastCheck,
		AutoReleaseAt:           a.AutoReleaseAt,
		Version:                 a.Version,
		CreatedAt:               a.CreatedAt,
		UpdatedAt:               a.UpdatedAt,
		FundedAt:                a.FundedAt,
		ClosedAt:                a.ClosedAt,
	}
}

func fromEscrowModel(m escrowAccountModel) domain.EscrowAccount {
	var notes []string
	_ = json.Unmarshal([]byte(m.AdminNotes), &notes)
	var lastAction *domain.AdminAction
	if m.LastAdminAction != nil {
		var rec adminActionRecord
		if err := json.Unmarshal([]byte(*m.LastAdminAction), &rec); err == nil {
			lastAction = &domain.AdminAction{Action: domain.AuditAction(rec.Action), PerformedBy: rec.PerformedBy, Reason: rec.Reason, At: rec.At}
		}
	}
	return domain.EscrowAccount{
		ID:                    m.EscrowID,
		ContractID:            m.ContractID,
		ManagerID:             m.ManagerID,
		TalentID:              m.TalentID,
		GatewayCustomerRef:    m.GatewayCustomerRef,
		TotalAmount:           m.TotalAmount,
		HeldAmount:            m.HeldAmount,
		ReleasedAmount:        m.ReleasedAmount,
		RefundedAmount:        m.RefundedAmount,
		Currency:              m.Currency,
		Status:                domain.EscrowStatus(m.Status),
		StatusBeforeDispute:   domain.EscrowStatus(m.StatusBeforeDispute),
		PlatformFeePercentage: m.PlatformFeePercentage,
		PlatformFeeAmount:     m.PlatformFeeAmount,
		CommissionSettingID:   m.CommissionSettingID,
		CommissionType:        domain.CommissionType(m.CommissionType),
		AdminControls: domain.AdminControls{
			IsFrozen:               m.IsFrozen,
			FrozenReason:           m.FrozenReason,
			FrozenBy:               m.FrozenBy,
			FrozenAt:               utcPtr(m.FrozenAt),
			AutoReleaseEnabled:     m.AutoReleaseEnabled,
			AutoReleaseDelay:       time.Duration(m.AutoReleaseDelaySeconds) * time.Second,
			DisputeResolutionMode:  m.DisputeResolutionMode,
			RequiresManualApproval: m.RequiresManualApproval,
			PriorityLevel:          domain.PriorityLevel(m.PriorityLevel),
			AdminNotes:             notes,
			LastAdminAction:        lastAction,
		},
		Compliance: domain.Compliance{
			KYCVerified:      m.KYCVerified,
			AMLChecked:       m.AMLChecked,
			SanctionsCleared: m.SanctionsCleared,
			RiskScore:        m.RiskScore,
			Notes:            m.ComplianceNotes,
			LastCheck:        utcPtr(m.ComplianceLastCheck),
		},
		AutoReleaseAt: utcPtr(m.AutoReleaseAt),
		Version:       m.Version,
		CreatedAt:     m.CreatedAt.UTC(),
		UpdatedAt:     m.UpdatedAt.UTC(),
		FundedAt:      utcPtr(m.FundedAt),
		ClosedAt:      utcPtr(m.ClosedAt),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func toTransactionModel(t domain.Transaction) transactionModel {
	return transactionModel{
		TransactionID:       t.ID,
		EscrowID:            t.EscrowID,
		Type:                string(t.Type),
		Amount:              t.Amount,
		Currency:            t.Currency,
		GatewayRef:          t.GatewayRef,
		PaymentMethodRef:    t.PaymentMethodRef,
		IdempotencyKey:      t.IdempotencyKey,
		Status:              string(t.Status),
		Description:         t.Description,
		MilestoneID:         t.MilestoneID,
		PerformedBy:         t.PerformedBy,
		CommissionSettingID: t.CommissionSettingID,
		PlatformFeeAmount:   t.PlatformFeeAmount,
		FailureReason:       t.FailureReason,
		CreatedAt:           t.CreatedAt,
		ProcessedAt:         t.ProcessedAt,
	}
}

func fromTransactionModel(m transactionModel) domain.Transaction {
	return domain.Transaction{
		ID:                  m.TransactionID,
		EscrowID:            m.EscrowID,
		Type:                domain.TransactionType(m.Type),
		Amount:              m.Amount,
		Currency:            m.Currency,
		GatewayRef:          m.GatewayRef,
		PaymentMethodRef:    m.PaymentMethodRef,
		IdempotencyKey:      m.IdempotencyKey,
		Status:              domain.TransactionStatus(m.Status),
		Description:         m.Description,
		MilestoneID:         m.MilestoneID,
		PerformedBy:         m.PerformedBy,
		CommissionSettingID: m.CommissionSettingID,
		PlatformFeeAmount:   m.PlatformFeeAmount,
		FailureReason:       m.FailureReason,
		CreatedAt:           m.CreatedAt.UTC(),
		ProcessedAt:         utcPtr(m.ProcessedAt),
	}
}

func toAuditModel(e domain.AuditEntry) auditEntryModel {
	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	raw, _ := json.Marshal(metadata)
	m := auditEntryModel{
		AuditID:     e.ID,
		EscrowID:    e.EscrowID,
		Action:      string(e.Action),
		PerformedBy: e.PerformedBy,
		Reason:      e.Reason,
		Outcome:     string(e.Outcome),
		Metadata:    string(raw),
		OccurredAt:  e.Timestamp,
	}
	if e.Amount != nil {
		m.Amount = decimal.NewNullDecimal(*e.Amount)
	}
	return m
}

func fromAuditModel(m auditEntryModel) domain.AuditEntry {
	metadata := map[string]any{}
	_ = json.Unmarshal([]byte(m.Metadata), &metadata)
	e := domain.AuditEntry{
		ID:          m.AuditID,
		EscrowID:    m.EscrowID,
		Action:      domain.AuditAction(m.Action),
		PerformedBy: m.PerformedBy,
		Reason:      m.Reason,
		Outcome:     domain.AuditOutcome(m.Outcome),
		Metadata:    metadata,
		Timestamp:   m.OccurredAt.UTC(),
	}
	if m.Amount.Valid {
		v := m.Amount.Decimal
		e.Amount = &v
	}
	return e
}

type tierRecord struct {
	MinVolume decimal.Decimal  `json:"min_volume"`
	MaxVolume *decimal.Decimal `json:"max_volume,omitempty"`
	Rate      decimal.Decimal  `json:"rate"`
	FlatFee   decimal.Decimal  `json:"flat_fee"`
}

type paymentRangeRecord struct {
	Min               decimal.Decimal  `json:"min"`
	Max               *decimal.Decimal `json:"max,omitempty"`
	AdjustmentPercent decimal.Decimal  `json:"adjustment_percent"`
}

type scopeRecord struct {
	TransactionTypes []string             `json:"transaction_types,omitempty"`
	JobCategories    []string             `json:"job_categories,omitempty"`
	PaymentRanges    []paymentRangeRecord `json:"payment_ranges,omitempty"`
}

type conditionsRecord struct {
	StartDate             *time.Time `json:"start_date,omitempty"`
	EndDate               *time.Time `json:"end_date,omitempty"`
	MinimumUserRating     float64    `json:"minimum_user_rating,omitempty"`
	MinimumAccountAgeDays int        `json:"minimum_account_age_days,omitempty"`
	PremiumUsersOnly      bool       `json:"premium_users_only,omitempty"`
	ExcludedUsers         []string   `json:"excluded_users,omitempty"`
}

func toCommissionModel(s domain.CommissionSetting) commissionSettingModel {
	tiers := make([]tierRecord, 0, len(s.Tiers))
	for _, t := range s.Tiers {
		tiers = append(tiers, tierRecord{MinVolume: t.MinVolume, MaxVolume: t.MaxVolume, Rate: t.Rate, FlatFee: t.FlatFee})
	}
	scope := scopeRecord{TransactionTypes: s.AppliesTo.TransactionTypes, JobCategories: s.AppliesTo.JobCategories}
	for _, r := range s.AppliesTo.PaymentRanges {
		scope.PaymentRanges = append(scope.PaymentRanges, paymentRangeRecord{Min: r.Min, Max: r.Max, AdjustmentPercent: r.AdjustmentPercent})
	}
	cond := conditionsRecord{
		StartDate:             s.Conditions.StartDate,
		EndDate:               s.Conditions.EndDate,
		MinimumUserRating:     s.Conditions.MinimumUserRating,
		MinimumAccountAgeDays: s.Conditions.MinimumAccountAgeDays,
		PremiumUsersOnly:      s.Conditions.PremiumUsersOnly,
		ExcludedUsers:         s.Conditions.ExcludedUsers,
	}
	tiersRaw, _ := json.Marshal(tiers)
	scopeRaw, _ := json.Marshal(scope)
	condRaw, _ := json.Marshal(cond)

	m := commissionSettingModel{
		SettingID:         s.ID,
		Name:              s.Name,
		UserType:          string(s.UserType),
		CommissionType:    string(s.CommissionType),
		BaseRate:          s.BaseRate,
		FlatFee:           s.FlatFee,
		Tiers:             string(tiersRaw),
		AppliesTo:         string(scopeRaw),
		Conditions:        string(condRaw),
		Enabled:           s.Conditions.Enabled,
		IsPromotional:     s.Promotional.IsPromotional,
		PromoStartsAt:     s.Promotional.StartsAt,
		PromoEndsAt:       s.Promotional.EndsAt,
		PromoMaxUsers:     s.Promotional.MaxUsers,
		PromoCurrentUsers: s.Promotional.CurrentUsers,
		Priority:          s.Priority,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
	if s.MinimumCommission != nil {
		m.MinimumCommission = decimal.NewNullDecimal(*s.MinimumCommission)
	}
	if s.MaximumCommission != nil {
		m.MaximumCommission = decimal.NewNullDecimal(*s.MaximumCommission)
	}
	return m
}

func fromCommissionModel(m commissionSettingModel) domain.CommissionSetting {
	var tiers []tierRecord
	_ = json.Unmarshal([]byte(m.Tiers), &tiers)
	var scope scopeRecord
	_ = json.Unmarshal([]byte(m.AppliesTo), &scope)
	var cond conditionsRecord
	_ = json.Unmarshal([]byte(m.Conditions), &cond)

	s := domain.CommissionSetting{
		ID:             m.SettingID,
		Name:           m.Name,
		UserType:       domain.UserType(m.UserType),
		CommissionType: domain.CommissionType(m.CommissionType),
		BaseRate:       m.BaseRate,
		FlatFee:        m.FlatFee,
		AppliesTo: domain.CommissionScope{
			TransactionTypes: scope.TransactionTypes,
			JobCategories:    scope.JobCategories,
		},
		Conditions: domain.CommissionConditions{
			Enabled:               m.Enabled,
			StartDate:             utcPtr(cond.StartDate),
			EndDate:               utcPtr(cond.EndDate),
			MinimumUserRating:     cond.MinimumUserRating,
			MinimumAccountAgeDays: cond.MinimumAccountAgeDays,
			PremiumUsersOnly:      cond.PremiumUsersOnly,
			ExcludedUsers:         cond.ExcludedUsers,
		},
		Promotional: domain.Promotion{
			IsPromotional: m.IsPromotional,
			StartsAt:      utcPtr(m.PromoStartsAt),
			EndsAt:        utcPtr(m.PromoEndsAt),
			MaxUsers:      m.PromoMaxUsers,
			CurrentUsers:  m.PromoCurrentUsers,
		},
		Priority:  m.Priority,
		CreatedAt: m.CreatedAt.UTC(),
		UpdatedAt: m.UpdatedAt.UTC(),
	}
	for _, t := range tiers {
		s.Tiers = append(s.Tiers, domain.CommissionTier{MinVolume: t.MinVolume, MaxVolume: t.MaxVolume, Rate: t.Rate, FlatFee: t.FlatFee})
	}
	for _, r := range scope.PaymentRanges {
		s.AppliesTo.PaymentRanges = append(s.AppliesTo.PaymentRanges, domain.PaymentRange{Min: r.Min, Max: r.Max, AdjustmentPercent: r.AdjustmentPercent})
	}
	if m.MinimumCommission.Valid {
		v := m.MinimumCommission.Decimal
		s.MinimumCommission = &v
	}
	if m.MaximumCommission.Valid {
		v := m.MaximumCommission.Decimal
		s.MaximumCommission = &v
	}
	return s
}
