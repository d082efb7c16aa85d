package http

import (
	"github.com/shopspring/decimal"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/application"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/contracts"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/domain"
)

func money(amount decimal.Decimal, currency string) string {
	return amount.StringFixed(domain.CurrencyScale(currency))
}

// toEscrowResponse renders an account. Notes and compliance are admin-only.
func toEscrowResponse(a domain.EscrowAccount, admin bool) contracts.EscrowResponse {
	controls := a.AdminControls
	resp := contracts.EscrowResponse{
		EscrowID:              a.ID,
		ContractID:            a.ContractID,
		ManagerID:             a.ManagerID,
		TalentID:              a.TalentID,
		Status:                string(a.Status),
		Currency:              a.Currency,
		TotalAmount:           money(a.TotalAmount, a.Currency),
		HeldAmount:            money(a.HeldAmount, a.Currency),
		ReleasedAmount:        money(a.ReleasedAmount, a.Currency),
		RefundedAmount:        money(a.RefundedAmount, a.Currency),
		AvailableBalance:      money(a.Available(), a.Currency),
		PlatformFeePercentage: a.PlatformFeePercentage.String(),
		PlatformFeeAmount:     money(a.PlatformFeeAmount, a.Currency),
		CommissionSettingID:   a.CommissionSettingID,
		AutoReleaseAt:         a.AutoReleaseAt,
		AdminControls: contracts.AdminControlsResponse{
			IsFrozen:               controls.IsFrozen,
			FrozenReason:           controls.FrozenReason,
			FrozenAt:               controls.FrozenAt,
			AutoReleaseEnabled:     controls.AutoReleaseEnabled,
			AutoReleaseDelayHours:  int(controls.AutoReleaseDelay.Hours()),
			DisputeResolutionMode:  controls.DisputeResolutionMode,
			RequiresManualApproval: controls.RequiresManualApproval,
			PriorityLevel:          string(controls.PriorityLevel),
		},
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
		FundedAt:  a.FundedAt,
		ClosedAt:  a.ClosedAt,
	}
	if admin {
		resp.AdminControls.AdminNotes = controls.AdminNotes
		if controls.LastAdminAction != nil {
			resp.AdminControls.LastAdminAction = string(controls.LastAdminAction.Action)
		}
		resp.Compliance = &contracts.ComplianceResponse{
			KYCVerified:      a.Compliance.KYCVerified,
			AMLChecked:       a.Compliance.AMLChecked,
			SanctionsCleared: a.Compliance.SanctionsCleared,
			RiskScore:        a.Compliance.RiskScore,
			Notes:            a.Compliance.Notes,
			LastCheck:        a.Compliance.LastCheck,
		}
	}
	return resp
}

func toTransactionResponse(t domain.Transaction) contracts.TransactionResponse {
	return contracts.TransactionResponse{
		TransactionID: t.ID,
		EscrowID:      t.EscrowID,
		Type:          string(t.Type),
		Status:        string(t.Status),
		Amount:        money(t.Amount, t.Currency),
		Currency:      t.Currency,
		GatewayRef:    t.GatewayRef,
		Description:   t.Description,
		MilestoneID:   t.MilestoneID,
		PerformedBy:   t.PerformedBy,
		FailureReason: t.FailureReason,
		CreatedAt:     t.CreatedAt,
		ProcessedAt:   t.ProcessedAt,
	}
}

func toTransactionResponses(txs []domain.Transaction) []contracts.TransactionResponse {
	out := make([]contracts.TransactionResponse, 0, len(txs))
	for _, t := range txs {
		out = append(out, toTransactionResponse(t))
	}
	return out
}

func toDisbursementResponse(res application.DisbursementResult, admin bool) contracts.DisbursementResponse {
	return contracts.DisbursementResponse{
		Escrow:        toEscrowResponse(res.Account, admin),
		Transaction:   toTransactionResponse(res.Transaction),
		EventDelivery: "pending",
	}
}

func toAuditResponse(e domain.AuditEntry, currency string) contracts.AuditEntryResponse {
	resp := contracts.AuditEntryResponse{
		AuditID:     e.ID,
		EscrowID:    e.EscrowID,
		Action:      string(e.Action),
		Outcome:     string(e.Outcome),
		PerformedBy: e.PerformedBy,
		Reason:      e.Reason,
		Metadata:    e.Metadata,
		Timestamp:   e.Timestamp,
	}
	if e.Amount != nil {
		v := money(*e.Amount, currency)
		resp.Amount = &v
	}
	return resp
}

func toCommissionSetting(dto contracts.CommissionSettingDTO) domain.CommissionSetting {
	s := domain.CommissionSetting{
		ID:                dto.SettingID,
		Name:              dto.Name,
		UserType:          domain.UserType(dto.UserType),
		CommissionType:    domain.CommissionType(dto.CommissionType),
		BaseRate:          dto.BaseRate,
		FlatFee:           dto.FlatFee,
		MinimumCommission: dto.MinimumCommission,
		MaximumCommission: dto.MaximumCommission,
		AppliesTo: domain.CommissionScope{
			TransactionTypes: dto.AppliesTo.TransactionTypes,
			JobCategories:    dto.AppliesTo.JobCategories,
		},
		Conditions: domain.CommissionConditions{
			Enabled:               dto.Conditions.Enabled,
			StartDate:             dto.Conditions.StartDate,
			EndDate:               dto.Conditions.EndDate,
			MinimumUserRating:     dto.Conditions.MinimumUserRating,
			MinimumAccountAgeDays: dto.Conditions.MinimumAccountAgeDays,
			PremiumUsersOnly:      dto.Conditions.PremiumUsersOnly,
			ExcludedUsers:         dto.Conditions.ExcludedUsers,
		},
		Promotional: domain.Promotion{
			IsPromotional: dto.Promotional.IsPromotional,
			StartsAt:      dto.Promotional.StartsAt,
			EndsAt:        dto.Promotional.EndsAt,
			MaxUsers:      dto.Promotional.MaxUsers,
		},
		Priority: dto.Priority,
	}
	for _, t := range dto.Tiers {
		s.Tiers = append(s.Tiers, domain.CommissionTier{MinVolume: t.MinVolume, MaxVolume: t.MaxVolume, Rate: t.Rate, FlatFee: t.FlatFee})
	}
	for _, r := range dto.AppliesTo.PaymentRanges {
		s.AppliesTo.PaymentRanges = append(s.AppliesTo.PaymentRanges, domain.PaymentRange{Min: r.Min, Max: r.Max, AdjustmentPercent: r.AdjustmentPercent})
	}
	return s
}

func toCommissionSettingDTO(s domain.CommissionSetting) contracts.CommissionSettingDTO {
	created, updated := s.CreatedAt, s.UpdatedAt
	dto := contracts.CommissionSettingDTO{
		SettingID:         s.ID,
		Name:              s.Name,
		UserType:          string(s.UserType),
		CommissionType:    string(s.CommissionType),
		BaseRate:          s.BaseRate,
		FlatFee:           s.FlatFee,
		MinimumCommission: s.MinimumCommission,
		MaximumCommission: s.MaximumCommission,
		AppliesTo: contracts.CommissionScopeDTO{
			TransactionTypes: s.AppliesTo.TransactionTypes,
			JobCategories:    s.AppliesTo.JobCategories,
		},
		Conditions: contracts.CommissionConditionsDTO{
			Enabled:               s.Conditions.Enabled,
			StartDate:             s.Conditions.StartDate,
			EndDate:               s.Conditions.EndDate,
			MinimumUserRating:     s.Conditions.MinimumUserRating,
			MinimumAccountAgeDays: s.Conditions.MinimumAccountAgeDays,
			PremiumUsersOnly:      s.Conditions.PremiumUsersOnly,
			ExcludedUsers:         s.Conditions.ExcludedUsers,
		},
		Promotional: contracts.PromotionDTO{
			IsPromotional: s.Promotional.IsPromotional,
			StartsAt:      s.Promotional.StartsAt,
			EndsAt:        s.Promotional.EndsAt,
			MaxUsers:      s.Promotional.MaxUsers,
			CurrentUsers:  s.Promotional.CurrentUsers,
		},
		Priority:  s.Priority,
		CreatedAt: &created,
		UpdatedAt: &updated,
	}
	for _, t := range s.Tiers {
		dto.Tiers = append(dto.Tiers, contracts.CommissionTierDTO{MinVolume: t.MinVolume, MaxVolume: t.MaxVolume, Rate: t.Rate, FlatFee: t.FlatFee})
	}
	for _, r := range s.AppliesTo.PaymentRanges {
		dto.AppliesTo.PaymentRanges = append(dto.AppliesTo.PaymentRanges, contracts.PaymentRangeDTO{Min: r.Min, Max: r.Max, AdjustmentPercent: r.AdjustmentPercent})
	}
	return dto
}
