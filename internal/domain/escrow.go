package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type EscrowStatus string

const (
	EscrowStatusCreated        EscrowStatus = "created"
	EscrowStatusFunded         EscrowStatus = "funded"
	EscrowStatusPartialRelease EscrowStatus = "partial_release"
	EscrowStatusCompleted      EscrowStatus = "completed"
	EscrowStatusRefunded       EscrowStatus = "refunded"
	EscrowStatusDisputed       EscrowStatus = "disputed"
)

func (s EscrowStatus) Valid() bool {
	_, ok := escrowTransitions[s]
	return ok
}

func (s EscrowStatus) Terminal() bool {
	return s == EscrowStatusCompleted || s == EscrowStatusRefunded
}

var escrowTransitions = map[EscrowStatus][]EscrowStatus{
	EscrowStatusCreated:        {EscrowStatusFunded},
	EscrowStatusFunded:         {EscrowStatusPartialRelease, EscrowStatusCompleted, EscrowStatusRefunded, EscrowStatusDisputed},
	EscrowStatusPartialRelease: {EscrowStatusPartialRelease, EscrowStatusCompleted, EscrowStatusRefunded, EscrowStatusDisputed},
	EscrowStatusDisputed:       {EscrowStatusDisputed, EscrowStatusFunded, EscrowStatusPartialRelease, EscrowStatusCompleted, EscrowStatusRefunded},
	EscrowStatusCompleted:      nil,
	EscrowStatusRefunded:       nil,
}

// CanTransition reports whether the state machine allows moving from one status to another.
func CanTransition(from, to EscrowStatus) bool {
	for _, next := range escrowTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type PriorityLevel string

const (
	PriorityLow    PriorityLevel = "low"
	PriorityNormal PriorityLevel = "normal"
	PriorityHigh   PriorityLevel = "high"
	PriorityUrgent PriorityLevel = "urgent"
)

func (p PriorityLevel) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	default:
		return false
	}
}

type AdminAction struct {
	Action      AuditAction
	PerformedBy string
	Reason      string
	At          time.Time
}

type AdminControls struct {
	IsFrozen               bool
	FrozenReason           string
	FrozenBy               string
	FrozenAt               *time.Time
	AutoReleaseEnabled     bool
	AutoReleaseDelay       time.Duration
	DisputeResolutionMode  bool
	RequiresManualApproval bool
	PriorityLevel          PriorityLevel
	AdminNotes             []string
	LastAdminAction        *AdminAction
}

type Compliance struct {
	KYCVerified      bool
	AMLChecked       bool
	SanctionsCleared bool
	RiskScore        int
	Notes            string
	LastCheck        *time.Time
}

type EscrowAccount struct {
	ID                    string
	ContractID            string
	ManagerID             string
	TalentID              string
	GatewayCustomerRef    string
	TotalAmount           decimal.Decimal
	HeldAmount            decimal.Decimal
	ReleasedAmount        decimal.Decimal
	RefundedAmount        decimal.Decimal
	Currency              string
	Status                EscrowStatus
	StatusBeforeDispute   EscrowStatus
	PlatformFeePercentage decimal.Decimal
	PlatformFeeAmount     decimal.Decimal
	CommissionSettingID   string
	CommissionType        CommissionType
	AdminControls         AdminControls
	Compliance            Compliance
	AutoReleaseAt         *time.Time
	Version               int64
	CreatedAt             time.Time
	UpdatedAt             time.Time
	FundedAt              *time.Time
	ClosedAt              *time.Time
}

// Available is the portion of the held amount not yet released or refunded.
func (a EscrowAccount) Available() decimal.Decimal {
	return a.HeldAmount.Sub(a.ReleasedAmount).Sub(a.RefundedAmount)
}

// ChargeAmount is what the manager pays at funding time.
func (a EscrowAccount) ChargeAmount() decimal.Decimal {
	return a.TotalAmount.Add(a.PlatformFeeAmount)
}

func (a EscrowAccount) IsParty(userID string) bool {
	return userID != "" && (userID == a.ManagerID || userID == a.TalentID)
}

// CheckInvariants verifies released+refunded <= held <= total with no negative balances.
func (a EscrowAccount) CheckInvariants() error {
	for name, v := range map[string]decimal.Decimal{
		"total": a.TotalAmount, "held": a.HeldAmount, "released": a.ReleasedAmount, "refunded": a.RefundedAmount,
	} {
		if v.IsNegative() {
			return fmt.Errorf("%w: %s amount is negative", ErrInvalidState, name)
		}
	}
	if a.HeldAmount.GreaterThan(a.TotalAmount) {
		return fmt.Errorf("%w: held exceeds total", ErrInvalidState)
	}
	if a.ReleasedAmount.Add(a.RefundedAmount).GreaterThan(a.HeldAmount) {
		return fmt.Errorf("%w: disbursed exceeds held", ErrInvalidState)
	}
	return nil
}

func (a *EscrowAccount) transition(to EscrowStatus, now time.Time) error {
	if !CanTransition(a.Status, to) {
		return fmt.Errorf("%w: cannot move from %s to %s", ErrInvalidState, a.Status, to)
	}
	a.Status = to
	a.UpdatedAt = now
	if to.Terminal() {
		a.ClosedAt = &now
		a.AutoReleaseAt = nil
	}
	return nil
}

func (a EscrowAccount) requireDisbursable() error {
	if a.AdminControls.IsFrozen {
		return fmt.Errorf("%w: account is frozen", ErrInvalidState)
	}
	if a.Status != EscrowStatusFunded && a.Status != EscrowStatusPartialRelease {
		return fmt.Errorf("%w: funds cannot move while %s", ErrInvalidState, a.Status)
	}
	return nil
}

// CheckFundable validates that a deposit may be started.
func (a EscrowAccount) CheckFundable() error {
	if a.AdminControls.IsFrozen {
		return fmt.Errorf("%w: account is frozen", ErrInvalidState)
	}
	if a.Status != EscrowStatusCreated {
		return fmt.Errorf("%w: account already %s", ErrInvalidState, a.Status)
	}
	return nil
}

// ApplyDeposit moves the full contract amount into held once the gateway confirms payment.
func (a *EscrowAccount) ApplyDeposit(now time.Time) error {
	if a.Status != EscrowStatusCreated {
		return fmt.Errorf("%w: account already %s", ErrInvalidState, a.Status)
	}
	if err := a.transition(EscrowStatusFunded, now); err != nil {
		return err
	}
	a.HeldAmount = a.TotalAmount
	a.FundedAt = &now
	a.rescheduleAutoRelease(now)
	return a.CheckInvariants()
}

func (a EscrowAccount) checkAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if !amount.Equal(RoundMoney(amount, a.Currency)) {
		return fmt.Errorf("%w: amount has more precision than %s allows", ErrInvalidInput, a.Currency)
	}
	return nil
}

// ApplyRelease disburses amount to the talent.
func (a *EscrowAccount) ApplyRelease(amount decimal.Decimal, now time.Time) error {
	if err := a.checkAmount(amount); err != nil {
		return err
	}
	if err := a.requireDisbursable(); err != nil {
		return err
	}
	if amount.GreaterThan(a.Available()) {
		return fmt.Errorf("%w: requested %s, available %s", ErrInsufficientFunds, amount, a.Available())
	}
	a.ReleasedAmount = a.ReleasedAmount.Add(amount)
	next := EscrowStatusPartialRelease
	if a.ReleasedAmount.GreaterThanOrEqual(a.HeldAmount) || a.Available().IsZero() {
		next = EscrowStatusCompleted
	}
	if err := a.transition(next, now); err != nil {
		return err
	}
	return a.CheckInvariants()
}

// ReserveRefund earmarks amount for a refund that is still awaiting the gateway.
// The reservation counts as refunded so concurrent releases cannot spend it.
func (a *EscrowAccount) ReserveRefund(amount decimal.Decimal, now time.Time) error {
	if err := a.checkAmount(amount); err != nil {
		return err
	}
	if err := a.requireDisbursable(); err != nil {
		return err
	}
	return a.reserveRefund(amount, now)
}

// ReserveDisputeRefund earmarks the refund that resolves a dispute. The account
// stays disputed until the gateway confirms it.
func (a *EscrowAccount) ReserveDisputeRefund(amount decimal.Decimal, now time.Time) error {
	if err := a.checkAmount(amount); err != nil {
		return err
	}
	if a.Status != EscrowStatusDisputed {
		return fmt.Errorf("%w: account is not disputed", ErrInvalidState)
	}
	if a.AdminControls.IsFrozen {
		return fmt.Errorf("%w: unfreeze the account before moving the remaining balance", ErrInvalidState)
	}
	return a.reserveRefund(amount, now)
}

func (a *EscrowAccount) reserveRefund(amount decimal.Decimal, now time.Time) error {
	if amount.GreaterThan(a.Available()) {
		return fmt.Errorf("%w: requested %s, available %s", ErrInsufficientFunds, amount, a.Available())
	}
	a.RefundedAmount = a.RefundedAmount.Add(amount)
	a.UpdatedAt = now
	return a.CheckInvariants()
}

// SettleRefund finalises the status after the gateway confirmed a reserved refund.
func (a *EscrowAccount) SettleRefund(now time.Time) error {
	if a.Status.Terminal() {
		return nil
	}
	next := EscrowStatusPartialRelease
	if a.Available().IsZero() {
		next = EscrowStatusRefunded
	}
	if a.Status == EscrowStatusDisputed && !next.Terminal() {
		next = EscrowStatusDisputed
	}
	return a.transition(next, now)
}

// RevertRefund gives back a reservation whose gateway refund failed.
func (a *EscrowAccount) RevertRefund(amount decimal.Decimal, now time.Time) error {
	if amount.GreaterThan(a.RefundedAmount) {
		return fmt.Errorf("%w: cannot revert %s of %s refunded", ErrInvalidState, amount, a.RefundedAmount)
	}
	a.RefundedAmount = a.RefundedAmount.Sub(amount)
	a.UpdatedAt = now
	// A release may have closed the account while the refund was in flight.
	if a.Status.Terminal() && a.Available().IsPositive() {
		a.Status = EscrowStatusPartialRelease
		a.ClosedAt = nil
	}
	return a.CheckInvariants()
}

// ApplyEmergencyRelease disburses amount regardless of the frozen flag. The amount
// must fit the held amount and the balance still available.
func (a *EscrowAccount) ApplyEmergencyRelease(amount decimal.Decimal, now time.Time) error {
	if err := a.checkAmount(amount); err != nil {
		return err
	}
	switch a.Status {
	case EscrowStatusFunded, EscrowStatusPartialRelease, EscrowStatusDisputed:
	default:
		return fmt.Errorf("%w: emergency release not allowed while %s", ErrInvalidState, a.Status)
	}
	if amount.GreaterThan(a.HeldAmount) {
		return fmt.Errorf("%w: requested %s, held %s", ErrInsufficientFunds, amount, a.HeldAmount)
	}
	// Capping at the available balance is a product decision recorded in the
	// design notes: the account invariant forbids overdrawing held.
	if amount.GreaterThan(a.Available()) {
		return fmt.Errorf("%w: requested %s, available %s", ErrInsufficientFunds, amount, a.Available())
	}
	a.ReleasedAmount = a.ReleasedAmount.Add(amount)
	next := a.Status
	switch {
	case !a.Available().IsPositive():
		next = EscrowStatusCompleted
	case a.Status != EscrowStatusDisputed:
		next = EscrowStatusPartialRelease
	}
	if next != a.Status {
		if err := a.transition(next, now); err != nil {
			return err
		}
	} else {
		a.UpdatedAt = now
	}
	return a.CheckInvariants()
}

func (a *EscrowAccount) Freeze(by, reason string, now time.Time) error {
	if a.Status.Terminal() {
		return fmt.Errorf("%w: account is %s", ErrInvalidState, a.Status)
	}
	if a.AdminControls.IsFrozen {
		return fmt.Errorf("%w: account already frozen", ErrInvalidState)
	}
	a.AdminControls.IsFrozen = true
	a.AdminControls.FrozenBy = by
	a.AdminControls.FrozenReason = reason
	a.AdminControls.FrozenAt = &now
	a.AutoReleaseAt = nil
	a.UpdatedAt = now
	return nil
}

func (a *EscrowAccount) Unfreeze(now time.Time) error {
	if !a.AdminControls.IsFrozen {
		return fmt.Errorf("%w: account is not frozen", ErrInvalidState)
	}
	a.AdminControls.IsFrozen = false
	a.AdminControls.FrozenBy = ""
	a.AdminControls.FrozenReason = ""
	a.AdminControls.FrozenAt = nil
	a.UpdatedAt = now
	a.rescheduleAutoRelease(now)
	return nil
}

// EnterDispute switches the account into dispute mode, remembering the status to restore.
func (a *EscrowAccount) EnterDispute(now time.Time) error {
	if a.AdminControls.DisputeResolutionMode || a.Status == EscrowStatusDisputed {
		return fmt.Errorf("%w: dispute mode already active", ErrInvalidState)
	}
	prior := a.Status
	if err := a.transition(EscrowStatusDisputed, now); err != nil {
		return err
	}
	a.StatusBeforeDispute = prior
	a.AdminControls.DisputeResolutionMode = true
	a.AutoReleaseAt = nil
	return nil
}

type DisputeOutcome string

const (
	DisputeOutcomeRestore          DisputeOutcome = "restore"
	DisputeOutcomeReleaseRemaining DisputeOutcome = "release_remaining"
	DisputeOutcomeRefundRemaining  DisputeOutcome = "refund_remaining"
)

func (o DisputeOutcome) Valid() bool {
	switch o {
	case DisputeOutcomeRestore, DisputeOutcomeReleaseRemaining, DisputeOutcomeRefundRemaining:
		return true
	default:
		return false
	}
}

// LeaveDispute ends dispute mode and restores the status the account had before it.
// Resolutions that move the remaining balance apply it in the same change.
func (a *EscrowAccount) LeaveDispute(now time.Time) error {
	if a.Status != EscrowStatusDisputed {
		return fmt.Errorf("%w: account is not disputed", ErrInvalidState)
	}
	next := a.StatusBeforeDispute
	if next == "" {
		next = EscrowStatusFunded
	}
	if next == EscrowStatusFunded && a.ReleasedAmount.Add(a.RefundedAmount).IsPositive() {
		next = EscrowStatusPartialRelease
	}
	if err := a.transition(next, now); err != nil {
		return err
	}
	a.StatusBeforeDispute = ""
	a.AdminControls.DisputeResolutionMode = false
	a.rescheduleAutoRelease(now)
	return nil
}

// AutoReleaseEligible reports whether a scheduled auto-release may run at now.
func (a EscrowAccount) AutoReleaseEligible(now time.Time) bool {
	c := a.AdminControls
	if !c.AutoReleaseEnabled || c.IsFrozen || c.DisputeResolutionMode || c.RequiresManualApproval {
		return false
	}
	if a.Status != EscrowStatusFunded && a.Status != EscrowStatusPartialRelease {
		return false
	}
	if a.AutoReleaseAt == nil || a.AutoReleaseAt.After(now) {
		return false
	}
	return a.Available().IsPositive()
}

// ConfigureAutoRelease updates the auto-release controls and recomputes the due time.
func (a *EscrowAccount) ConfigureAutoRelease(enabled bool, delay time.Duration, now time.Time) error {
	if a.Status.Terminal() {
		return fmt.Errorf("%w: account is %s", ErrInvalidState, a.Status)
	}
	if enabled && delay <= 0 {
		return fmt.Errorf("%w: auto-release delay must be positive", ErrInvalidInput)
	}
	a.AdminControls.AutoReleaseEnabled = enabled
	a.AdminControls.AutoReleaseDelay = delay
	a.AutoReleaseAt = nil
	a.UpdatedAt = now
	a.rescheduleAutoRelease(now)
	return nil
}

func (a *EscrowAccount) rescheduleAutoRelease(now time.Time) {
	c := a.AdminControls
	if !c.AutoReleaseEnabled || c.AutoReleaseDelay <= 0 || c.IsFrozen || c.DisputeResolutionMode || c.RequiresManualApproval || a.FundedAt == nil {
		return
	}
	if a.Status != EscrowStatusFunded && a.Status != EscrowStatusPartialRelease {
		return
	}
	at := a.FundedAt.Add(c.AutoReleaseDelay)
	if at.Before(now) {
		at = now
	}
	a.AutoReleaseAt = &at
}

// CancelAutoRelease drops any pending auto-release.
func (a *EscrowAccount) CancelAutoRelease() {
	a.AutoReleaseAt = nil
}

// RecordAdminAction stores the snapshot of the last successful admin call.
func (a *EscrowAccount) RecordAdminAction(action AuditAction, by, reason string, now time.Time) {
	a.AdminControls.LastAdminAction = &AdminAction{Action: action, PerformedBy: by, Reason: reason, At: now}
	a.UpdatedAt = now
}

// AdjustPlatformFee recomputes the platform fee from the contract total.
func (a *EscrowAccount) AdjustPlatformFee(percentage decimal.Decimal, now time.Time) error {
	if a.Status.Terminal() {
		return fmt.Errorf("%w: account is %s", ErrInvalidState, a.Status)
	}
	if percentage.IsNegative() || percentage.GreaterThan(hundred) {
		return fmt.Errorf("%w: fee percentage must be between 0 and 100", ErrInvalidInput)
	}
	a.PlatformFeePercentage = percentage
	a.PlatformFeeAmount = RoundMoney(PercentOf(a.TotalAmount, percentage), a.Currency)
	a.UpdatedAt = now
	return nil
}

func (a *EscrowAccount) AddAdminNote(note string, now time.Time) error {
	if note == "" {
		return fmt.Errorf("%w: note is required", ErrInvalidInput)
	}
	a.AdminControls.AdminNotes = append(a.AdminControls.AdminNotes, note)
	a.UpdatedAt = now
	return nil
}

// ComplianceUpdate carries the compliance flags to change; nil fields are left as they are.
type ComplianceUpdate struct {
	KYCVerified      *bool
	AMLChecked       *bool
	SanctionsCleared *bool
	RiskScore        *int
	Notes            *string
}

func (a *EscrowAccount) UpdateCompliance(u ComplianceUpdate, now time.Time) error {
	if u.RiskScore != nil && (*u.RiskScore < 0 || *u.RiskScore > 100) {
		return fmt.Errorf("%w: risk score must be between 0 and 100", ErrInvalidInput)
	}
	c := &a.Compliance
	if u.KYCVerified != nil {
		c.KYCVerified = *u.KYCVerified
	}
	if u.AMLChecked != nil {
		c.AMLChecked = *u.AMLChecked
	}
	if u.SanctionsCleared != nil {
		c.SanctionsCleared = *u.SanctionsCleared
	}
	if u.RiskScore != nil {
		c.RiskScore = *u.RiskScore
	}
	if u.Notes != nil {
		c.Notes = *u.Notes
	}
	c.LastCheck = &now
	a.UpdatedAt = now
	return nil
}

// SetManualApproval toggles whether disbursements need an explicit manager action.
// Requiring approval suspends the auto-release schedule.
func (a *EscrowAccount) SetManualApproval(required bool, now time.Time) {
	a.AdminControls.RequiresManualApproval = required
	a.UpdatedAt = now
	if required {
		a.AutoReleaseAt = nil
		return
	}
	a.rescheduleAutoRelease(now)
}

func (a *EscrowAccount) SetPriority(level PriorityLevel, now time.Time) error {
	if !level.Valid() {
		return fmt.Errorf("%w: unknown priority level %q", ErrInvalidInput, level)
	}
	a.AdminControls.PriorityLevel = level
	a.UpdatedAt = now
	return nil
}
