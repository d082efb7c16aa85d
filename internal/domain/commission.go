package domain

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type CommissionType string

const (
	CommissionTypePercentage CommissionType = "percentage"
	CommissionTypeFlatFee    CommissionType = "flat_fee"
	CommissionTypeTiered     CommissionType = "tiered"
	CommissionTypeHybrid     CommissionType = "hybrid"
)

type UserType string

const (
	UserTypeTalent  UserType = "talent"
	UserTypeManager UserType = "manager"
	UserTypeBoth    UserType = "both"
)

type CommissionTier struct {
	MinVolume decimal.Decimal
	MaxVolume *decimal.Decimal
	Rate      decimal.Decimal
	FlatFee   decimal.Decimal
}

func (t CommissionTier) contains(amount decimal.Decimal) bool {
	if amount.LessThan(t.MinVolume) {
		return false
	}
	return t.MaxVolume == nil || amount.LessThan(*t.MaxVolume)
}

type PaymentRange struct {
	Min               decimal.Decimal
	Max               *decimal.Decimal
	AdjustmentPercent decimal.Decimal
}

func (r PaymentRange) contains(amount decimal.Decimal) bool {
	if amount.LessThan(r.Min) {
		return false
	}
	return r.Max == nil || amount.LessThanOrEqual(*r.Max)
}

type CommissionScope struct {
	TransactionTypes []string
	JobCategories    []string
	PaymentRanges    []PaymentRange
}

type CommissionConditions struct {
	Enabled               bool
	StartDate             *time.Time
	EndDate               *time.Time
	MinimumUserRating     float64
	MinimumAccountAgeDays int
	PremiumUsersOnly      bool
	ExcludedUsers         []string
}

type Promotion struct {
	IsPromotional bool
	StartsAt      *time.Time
	EndsAt        *time.Time
	MaxUsers      int
	CurrentUsers  int
}

// HasCapacity reports whether the promotion can take another user. MaxUsers of zero means uncapped.
func (p Promotion) HasCapacity() bool {
	return p.MaxUsers <= 0 || p.CurrentUsers < p.MaxUsers
}

type CommissionSetting struct {
	ID                string
	Name              string
	UserType          UserType
	CommissionType    CommissionType
	BaseRate          decimal.Decimal
	FlatFee           decimal.Decimal
	MinimumCommission *decimal.Decimal
	MaximumCommission *decimal.Decimal
	Tiers             []CommissionTier
	AppliesTo         CommissionScope
	Conditions        CommissionConditions
	Promotional       Promotion
	Priority          int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Validate rejects settings the engine cannot evaluate deterministically.
func (s CommissionSetting) Validate() error {
	switch s.UserType {
	case UserTypeTalent, UserTypeManager, UserTypeBoth:
	default:
		return fmt.Errorf("%w: unknown user type %q", ErrInvalidInput, s.UserType)
	}
	switch s.CommissionType {
	case CommissionTypePercentage, CommissionTypeFlatFee, CommissionTypeHybrid:
	case CommissionTypeTiered:
		if len(s.Tiers) == 0 {
			return fmt.Errorf("%w: tiered commission requires tiers", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown commission type %q", ErrInvalidInput, s.CommissionType)
	}
	if s.BaseRate.IsNegative() || s.BaseRate.GreaterThan(hundred) {
		return fmt.Errorf("%w: base rate must be within 0..100", ErrInvalidInput)
	}
	if s.FlatFee.IsNegative() {
		return fmt.Errorf("%w: flat fee must not be negative", ErrInvalidInput)
	}
	if s.MinimumCommission != nil && s.MaximumCommission != nil && s.MinimumCommission.GreaterThan(*s.MaximumCommission) {
		return fmt.Errorf("%w: minimum commission exceeds maximum", ErrInvalidInput)
	}
	if err := checkTiers(s.Tiers); err != nil {
		return err
	}
	if s.Conditions.StartDate != nil && s.Conditions.EndDate != nil && !s.Conditions.EndDate.After(*s.Conditions.StartDate) {
		return fmt.Errorf("%w: end date must be after start date", ErrInvalidInput)
	}
	return nil
}

func checkTiers(tiers []CommissionTier) error {
	sorted := sortedTiers(tiers)
	for i, t := range sorted {
		if t.MaxVolume != nil && !t.MaxVolume.GreaterThan(t.MinVolume) {
			return fmt.Errorf("%w: tier max must exceed min", ErrInvalidInput)
		}
		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		if prev.MaxVolume == nil || prev.MaxVolume.GreaterThan(t.MinVolume) {
			return fmt.Errorf("%w: tier starting at %s", ErrOverlappingTiers, t.MinVolume)
		}
	}
	return nil
}

func sortedTiers(tiers []CommissionTier) []CommissionTier {
	out := slices.Clone(tiers)
	sort.SliceStable(out, func(i, j int) bool { return out[i].MinVolume.LessThan(out[j].MinVolume) })
	return out
}

// CalculateCommission computes the fee setting charges on amount in currency:
// base fee by commission type, one payment-range adjustment, min/max clamp, then
// half-up rounding to the currency's smallest unit.
func CalculateCommission(setting CommissionSetting, amount decimal.Decimal, currency string) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: amount must not be negative", ErrInvalidInput)
	}
	var fee decimal.Decimal
	switch setting.CommissionType {
	case CommissionTypePercentage:
		fee = PercentOf(amount, setting.BaseRate)
	case CommissionTypeFlatFee:
		fee = setting.FlatFee
	case CommissionTypeTiered:
		if err := checkTiers(setting.Tiers); err != nil {
			return decimal.Zero, err
		}
		fee = PercentOf(amount, setting.BaseRate)
		for _, tier := range sortedTiers(setting.Tiers) {
			if tier.contains(amount) {
				fee = PercentOf(amount, tier.Rate).Add(tier.FlatFee)
				break
			}
		}
	case CommissionTypeHybrid:
		fee = PercentOf(amount, setting.BaseRate).Add(setting.FlatFee)
	default:
		return decimal.Zero, fmt.Errorf("%w: unknown commission type %q", ErrInvalidInput, setting.CommissionType)
	}

	for _, r := range setting.AppliesTo.PaymentRanges {
		if r.contains(amount) {
			fee = fee.Add(PercentOf(fee, r.AdjustmentPercent))
			break
		}
	}

	if setting.MinimumCommission != nil && fee.LessThan(*setting.MinimumCommission) {
		fee = *setting.MinimumCommission
	}
	if setting.MaximumCommission != nil && fee.GreaterThan(*setting.MaximumCommission) {
		fee = *setting.MaximumCommission
	}
	if fee.IsNegative() {
		fee = decimal.Zero
	}
	return RoundMoney(fee, currency), nil
}

// CommissionQuery describes the user and transaction a fee is being resolved for.
type CommissionQuery struct {
	UserID          string
	UserType        UserType
	Amount          decimal.Decimal
	TransactionType string
	JobCategory     string
	Profile         UserProfile
	Now             time.Time
}

// Applies reports whether the setting's filters admit q.
func (s CommissionSetting) Applies(q CommissionQuery) bool {
	if s.UserType != q.UserType && s.UserType != UserTypeBoth {
		return false
	}
	c := s.Conditions
	if !c.Enabled {
		return false
	}
	if c.StartDate != nil && q.Now.Before(*c.StartDate) {
		return false
	}
	if c.EndDate != nil && !q.Now.Before(*c.EndDate) {
		return false
	}
	if slices.Contains(c.ExcludedUsers, q.UserID) {
		return false
	}
	if c.MinimumUserRating > 0 && q.Profile.Rating < c.MinimumUserRating {
		return false
	}
	if c.MinimumAccountAgeDays > 0 && q.Profile.AccountAgeDays(q.Now) < c.MinimumAccountAgeDays {
		return false
	}
	if c.PremiumUsersOnly && !q.Profile.Premium {
		return false
	}
	if p := s.Promotional; p.IsPromotional {
		if p.StartsAt != nil && q.Now.Before(*p.StartsAt) {
			return false
		}
		if p.EndsAt != nil && !q.Now.Before(*p.EndsAt) {
			return false
		}
		if !p.HasCapacity() {
			return false
		}
	}
	if len(s.AppliesTo.TransactionTypes) > 0 && !containsFold(s.AppliesTo.TransactionTypes, q.TransactionType) {
		return false
	}
	if len(s.AppliesTo.JobCategories) > 0 && !containsFold(s.AppliesTo.JobCategories, q.JobCategory) {
		return false
	}
	return true
}

// SelectCommissionSetting returns the highest-priority applicable setting,
// breaking ties by the most recently created.
func SelectCommissionSetting(settings []CommissionSetting, q CommissionQuery) (CommissionSetting, bool) {
	candidates := make([]CommissionSetting, 0, len(settings))
	for _, s := range settings {
		if s.Applies(q) {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return CommissionSetting{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})
	return candidates[0], true
}

// DefaultCommissionSetting is used when no configured setting applies.
func DefaultCommissionSetting(rate decimal.Decimal) CommissionSetting {
	return CommissionSetting{
		UserType:       UserTypeBoth,
		CommissionType: CommissionTypePercentage,
		BaseRate:       rate,
		Conditions:     CommissionConditions{Enabled: true},
	}
}

// EffectiveRate expresses fee as a percentage of amount, to four decimal places.
func EffectiveRate(fee, amount decimal.Decimal) decimal.Decimal {
	if !amount.IsPositive() {
		return decimal.Zero
	}
	return fee.Mul(hundred).Div(amount).Round(4)
}

func containsFold(values []string, needle string) bool {
	needle = strings.TrimSpace(needle)
	if needle == "" {
		return false
	}
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), needle) {
			return true
		}
	}
	return false
}
