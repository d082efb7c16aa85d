package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/contracts"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/domain"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/ports"
)

// adminChange is what an admin mutation adds to the ledger change beyond the
// account itself and the succeeded audit entry.
type adminChange struct {
	metadata     map[string]any
	transactions []domain.Transaction
	audit        []domain.AuditEntry
	events       []eventItem
	after        effects
}

type adminMutation func(account *domain.EscrowAccount, now time.Time) (adminChange, error)

type adminRequest struct {
	operation string
	escrowID  string
	action    domain.AuditAction
	reason    string
	amount    *decimal.Decimal
	// invalid carries an input error found before the account was loaded; it is
	// returned after the rejection is audited.
	invalid error
}

// adminMutate runs an admin control under the account lock. Every call leaves an
// audit entry: rejected calls with a rejected outcome, successful ones together
// with the account change in the same commit.
func (s *Service) adminMutate(ctx context.Context, actor Actor, req adminRequest, mutate adminMutation) (account domain.EscrowAccount, err error) {
	start := time.Now()
	defer func() {
		s.observe("admin_"+req.operation, start, err)
		s.logOutcome(ctx, req.operation, req.escrowID, err, "action", string(req.action), "admin_id", actor.SubjectID)
	}()

	req.escrowID = strings.TrimSpace(req.escrowID)
	if err := s.adminPrecheck(ctx, actor, req); err != nil {
		return domain.EscrowAccount{}, err
	}

	var after effects
	err = s.withAccountLock(ctx, req.operation, req.escrowID, func(ctx context.Context) error {
		current, err := s.escrows.GetByID(ctx, req.escrowID)
		if err != nil {
			return err
		}
		now := s.nowFn()
		change, err := mutate(&current, now)
		if err != nil {
			s.auditRejected(ctx, current.ID, req.action, actor, req.reason, req.amount, err)
			return err
		}
		current.RecordAdminAction(req.action, actor.SubjectID, req.reason, now)
		if err := s.escrows.Commit(ctx, ports.LedgerChange{
			Account:         &current,
			NewTransactions: change.transactions,
			Audit:           append(change.audit, s.newAudit(current.ID, req.action, actor, req.reason, req.amount, change.metadata)),
			Outbox:          s.eventsFor(ctx, actor.RequestID, current.ID, now, change.events...),
		}); err != nil {
			return err
		}
		account = current
		after = append(change.after, func(context.Context) { s.syncAutoRelease(current) })
		return nil
	})
	after.run(ctx)
	return account, err
}

// adminPrecheck refuses calls by non-admins and calls with invalid input. Both are
// audited as rejected when the account exists.
func (s *Service) adminPrecheck(ctx context.Context, actor Actor, req adminRequest) error {
	if req.escrowID == "" {
		return fmt.Errorf("%w: escrow_id is required", domain.ErrInvalidInput)
	}
	err := requireAdmin(actor)
	if err == nil {
		err = req.invalid
	}
	if err == nil {
		return nil
	}
	if _, lookupErr := s.escrows.GetByID(ctx, req.escrowID); lookupErr == nil {
		s.auditRejected(ctx, req.escrowID, req.action, actor, req.reason, req.amount, err)
	}
	return err
}

func missingReason(reason string) error {
	if reason == "" {
		return fmt.Errorf("%w: reason is required", domain.ErrInvalidInput)
	}
	return nil
}

// Freeze blocks every normal fund, release and refund on the account.
func (s *Service) Freeze(ctx context.Context, actor Actor, escrowID, reason string) (domain.EscrowAccount, error) {
	reason = strings.TrimSpace(reason)
	req := adminRequest{operation: "freeze", escrowID: escrowID, action: domain.AuditActionFrozen, reason: reason, invalid: missingReason(reason)}
	return s.adminMutate(ctx, actor, req, func(account *domain.EscrowAccount, now time.Time) (adminChange, error) {
		if err := account.Freeze(actor.SubjectID, reason, now); err != nil {
			return adminChange{}, err
		}
		frozen := *account
		return adminChange{
			events: []eventItem{adminActionEvent(domain.EventEscrowFrozen, frozen, domain.AuditActionFrozen, actor, reason, now)},
			after: effects{func(ctx context.Context) {
				s.notifyParties(ctx, frozen, domain.NotificationEscrowFrozen, "Escrow frozen",
					"The escrow for your contract has been frozen by an administrator: "+reason)
			}},
		}, nil
	})
}

func (s *Service) Unfreeze(ctx context.Context, actor Actor, escrowID, reason string) (domain.EscrowAccount, error) {
	reason = strings.TrimSpace(reason)
	req := adminRequest{operation: "unfreeze", escrowID: escrowID, action: domain.AuditActionUnfrozen, reason: reason}
	return s.adminMutate(ctx, actor, req, func(account *domain.EscrowAccount, now time.Time) (adminChange, error) {
		frozenReason := account.AdminControls.FrozenReason
		if err := account.Unfreeze(now); err != nil {
			return adminChange{}, err
		}
		return adminChange{
			metadata: map[string]any{"frozen_reason": frozenReason},
			events:   []eventItem{adminActionEvent(domain.EventEscrowUnfrozen, *account, domain.AuditActionUnfrozen, actor, reason, now)},
		}, nil
	})
}

// SetDisputeMode moves the account in or out of dispute. Leaving dispute mode this
// way restores the prior status without moving money.
func (s *Service) SetDisputeMode(ctx context.Context, actor Actor, escrowID string, enabled bool, reason string) (domain.EscrowAccount, error) {
	reason = strings.TrimSpace(reason)
	if !enabled {
		return s.ResolveDispute(ctx, actor, ResolveDisputeInput{EscrowID: escrowID, Outcome: domain.DisputeOutcomeRestore, Reason: reason})
	}
	req := adminRequest{operation: "set_dispute_mode", escrowID: escrowID, action: domain.AuditActionDisputed, reason: reason, invalid: missingReason(reason)}
	return s.adminMutate(ctx, actor, req, func(account *domain.EscrowAccount, now time.Time) (adminChange, error) {
		prior := account.Status
		if err := account.EnterDispute(now); err != nil {
			return adminChange{}, err
		}
		disputed := *account
		return adminChange{
			metadata: map[string]any{"previous_status": string(prior)},
			events:   []eventItem{adminActionEvent(domain.EventEscrowDisputed, disputed, domain.AuditActionDisputed, actor, reason, now)},
			after: effects{func(ctx context.Context) {
				s.notifyParties(ctx, disputed, domain.NotificationEscrowDisputed, "Escrow under dispute",
					"Funds for your contract are on hold while a dispute is reviewed.")
			}},
		}, nil
	})
}

// ResolveDispute ends dispute mode and, depending on the outcome, pays the remaining
// balance to the talent or returns it to the manager. The account leaves dispute
// mode only together with the money movement.
func (s *Service) ResolveDispute(ctx context.Context, actor Actor, input ResolveDisputeInput) (domain.EscrowAccount, error) {
	reason := strings.TrimSpace(input.Reason)
	invalid := missingReason(reason)
	if invalid == nil && !input.Outcome.Valid() {
		invalid = fmt.Errorf("%w: unknown dispute outcome %q", domain.ErrInvalidInput, input.Outcome)
	}
	req := adminRequest{operation: "resolve_dispute", escrowID: strings.TrimSpace(input.EscrowID), action: domain.AuditActionResolved, reason: reason, invalid: invalid}

	if input.Outcome == domain.DisputeOutcomeRefundRemaining && invalid == nil {
		account, done, err := s.resolveByRefund(ctx, actor, req)
		if done {
			return account, err
		}
	}

	return s.adminMutate(ctx, actor, req, func(account *domain.EscrowAccount, now time.Time) (adminChange, error) {
		if err := s.requireNoRefundInFlight(ctx, account.ID); err != nil {
			return adminChange{}, err
		}
		remaining := account.Available()
		moving := input.Outcome != domain.DisputeOutcomeRestore && remaining.IsPositive()
		if err := account.LeaveDispute(now); err != nil {
			return adminChange{}, err
		}
		if moving && account.AdminControls.IsFrozen {
			return adminChange{}, fmt.Errorf("%w: unfreeze the account before moving the remaining balance", domain.ErrInvalidState)
		}
		change := adminChange{metadata: map[string]any{"outcome": string(input.Outcome), "available": remaining.String()}}
		if moving && input.Outcome == domain.DisputeOutcomeReleaseRemaining {
			rel := releaseRequest{escrowID: account.ID, amount: remaining, notes: "dispute resolution: " + reason, trigger: releaseTriggerDispute}
			if err := account.ApplyRelease(remaining, now); err != nil {
				return adminChange{}, err
			}
			tx := s.disbursementTx(*account, domain.TransactionTypeRelease, remaining, actor, now)
			tx.Description = rel.notes
			tx.Complete("", now)
			change.metadata["transaction_id"] = tx.ID
			change.transactions = []domain.Transaction{tx}
			change.audit = []domain.AuditEntry{s.newAudit(account.ID, domain.AuditActionReleased, actor, rel.notes, amountPtr(remaining), map[string]any{
				"transaction_id": tx.ID,
				"trigger":        rel.trigger,
				"available":      account.Available().String(),
			})}
			change.events = []eventItem{releasedEvent(*account, tx, rel, now)}
			if evt, ok := completionEvent(*account); ok {
				change.events = append(change.events, evt)
			}
			change.after = s.releaseEffects(*account, rel)
		}
		change.events = append(change.events, adminActionEvent(domain.EventEscrowDisputeResolved, *account, domain.AuditActionResolved, actor, reason, now))
		return change, nil
	})
}

// resolveByRefund refunds the remaining balance of a disputed account. done is false
// when nothing is left to refund and the resolution reduces to leaving dispute mode.
func (s *Service) resolveByRefund(ctx context.Context, actor Actor, req adminRequest) (account domain.EscrowAccount, done bool, err error) {
	start := time.Now()
	defer func() {
		if done {
			s.observe("admin_"+req.operation, start, err)
			s.logOutcome(ctx, req.operation, req.escrowID, err, "action", string(req.action), "admin_id", actor.SubjectID)
		}
	}()
	if err := s.adminPrecheck(ctx, actor, req); err != nil {
		return domain.EscrowAccount{}, true, err
	}
	result, err := s.refund(ctx, actor, refundRequest{
		escrowID:   req.escrowID,
		reason:     "dispute resolution: " + req.reason,
		resolution: &req,
	})
	if errors.Is(err, errNothingToRefund) {
		return domain.EscrowAccount{}, false, nil
	}
	return result.Account, true, err
}

// EmergencyRelease disburses funds even while the account is frozen.
func (s *Service) EmergencyRelease(ctx context.Context, actor Actor, input EmergencyReleaseInput) (DisbursementResult, error) {
	reason := strings.TrimSpace(input.Reason)
	recipient := strings.TrimSpace(input.Recipient)
	var result DisbursementResult
	req := adminRequest{operation: "emergency_release", escrowID: input.EscrowID, action: domain.AuditActionEmergencyRelease, reason: reason, amount: amountPtr(input.Amount), invalid: missingReason(reason)}
	account, err := s.adminMutate(ctx, actor, req, func(account *domain.EscrowAccount, now time.Time) (adminChange, error) {
		if recipient == "" {
			recipient = account.TalentID
		}
		if err := account.ApplyEmergencyRelease(input.Amount, now); err != nil {
			return adminChange{}, err
		}
		account.CancelAutoRelease()
		tx := s.disbursementTx(*account, domain.TransactionTypeRelease, input.Amount, actor, now)
		tx.Description = "emergency release: " + reason
		tx.Complete("", now)
		result.Transaction = tx

		events := []eventItem{{eventType: domain.EventEscrowFundsReleased, data: contracts.FundsReleasedPayload{
			EscrowID:       account.ID,
			ContractID:     account.ContractID,
			TransactionID:  tx.ID,
			TalentID:       recipient,
			Amount:         input.Amount,
			ReleasedAmount: account.ReleasedAmount,
			Available:      account.Available(),
			Status:         string(account.Status),
			Trigger:        "emergency_release",
			ReleasedAt:     now.UTC().Format(time.RFC3339),
		}}}
		if evt, ok := completionEvent(*account); ok {
			events = append(events, evt)
		}
		released := *account
		after := effects{func(ctx context.Context) {
			s.notifier.Notify(ctx, domain.Notification{
				Kind:    domain.NotificationFundsReleased,
				UserID:  recipient,
				Title:   "Funds released",
				Message: fmt.Sprintf("%s %s has been released by an administrator.", input.Amount.StringFixed(domain.CurrencyScale(released.Currency)), released.Currency),
				Data:    map[string]string{"escrow_id": released.ID, "contract_id": released.ContractID},
			})
		}}
		if released.Status == domain.EscrowStatusCompleted {
			after = append(after, func(ctx context.Context) { s.updateContractStatus(ctx, released.ContractID, domain.ContractStatusCompleted) })
		}
		return adminChange{
			metadata: map[string]any{
				"transaction_id": tx.ID,
				"recipient":      recipient,
				"frozen":         account.AdminControls.IsFrozen,
			},
			transactions: []domain.Transaction{tx},
			events:       events,
			after:        after,
		}, nil
	})
	result.Account = account
	if err != nil {
		return DisbursementResult{}, err
	}
	return result, nil
}

// AdjustPlatformFee recomputes the fee from the contract total and records the
// before and after values.
func (s *Service) AdjustPlatformFee(ctx context.Context, actor Actor, escrowID string, percentage decimal.Decimal, reason string) (domain.EscrowAccount, error) {
	reason = strings.TrimSpace(reason)
	req := adminRequest{operation: "adjust_platform_fee", escrowID: escrowID, action: domain.AuditActionManualAdjustment, reason: reason, invalid: missingReason(reason)}
	return s.adminMutate(ctx, actor, req, func(account *domain.EscrowAccount, now time.Time) (adminChange, error) {
		prevPct, prevAmt := account.PlatformFeePercentage, account.PlatformFeeAmount
		if err := account.AdjustPlatformFee(percentage, now); err != nil {
			return adminChange{}, err
		}
		return adminChange{
			metadata: map[string]any{
				"field":               "platform_fee",
				"previous_percentage": prevPct.String(),
				"new_percentage":      account.PlatformFeePercentage.String(),
				"previous_amount":     prevAmt.String(),
				"new_amount":          account.PlatformFeeAmount.String(),
			},
			events: []eventItem{{eventType: domain.EventEscrowFeeAdjusted, data: contracts.EscrowFeeAdjustedPayload{
				EscrowID:           account.ID,
				PreviousPercentage: prevPct,
				NewPercentage:      account.PlatformFeePercentage,
				PreviousAmount:     prevAmt,
				NewAmount:          account.PlatformFeeAmount,
				AdjustedAt:         now.UTC().Format(time.RFC3339),
			}}},
		}, nil
	})
}

func (s *Service) AddAdminNote(ctx context.Context, actor Actor, escrowID, note string) (domain.EscrowAccount, error) {
	note = strings.TrimSpace(note)
	req := adminRequest{operation: "add_admin_note", escrowID: escrowID, action: domain.AuditActionNoteAdded, reason: note}
	return s.adminMutate(ctx, actor, req, func(account *domain.EscrowAccount, now time.Time) (adminChange, error) {
		if err := account.AddAdminNote(note, now); err != nil {
			return adminChange{}, err
		}
		return adminChange{metadata: map[string]any{"note_index": len(account.AdminControls.AdminNotes) - 1}}, nil
	})
}

func (s *Service) UpdateComplianceStatus(ctx context.Context, actor Actor, input ComplianceInput) (domain.EscrowAccount, error) {
	reason := strings.TrimSpace(input.Reason)
	req := adminRequest{operation: "update_compliance", escrowID: input.EscrowID, action: domain.AuditActionComplianceUpdated, reason: reason}
	return s.adminMutate(ctx, actor, req, func(account *domain.EscrowAccount, now time.Time) (adminChange, error) {
		before := account.Compliance
		if err := account.UpdateCompliance(domain.ComplianceUpdate{
			KYCVerified:      input.KYCVerified,
			AMLChecked:       input.AMLChecked,
			SanctionsCleared: input.SanctionsCleared,
			RiskScore:        input.RiskScore,
			Notes:            input.Notes,
		}, now); err != nil {
			return adminChange{}, err
		}
		return adminChange{metadata: map[string]any{
			"before": complianceSnapshot(before),
			"after":  complianceSnapshot(account.Compliance),
		}}, nil
	})
}

func complianceSnapshot(c domain.Compliance) map[string]any {
	return map[string]any{
		"kyc_verified":      c.KYCVerified,
		"aml_checked":       c.AMLChecked,
		"sanctions_cleared": c.SanctionsCleared,
		"risk_score":        c.RiskScore,
	}
}

func (s *Service) ConfigureAutoRelease(ctx context.Context, actor Actor, input AutoReleaseInput) (domain.EscrowAccount, error) {
	var invalid error
	if input.DelayHours < 0 {
		invalid = fmt.Errorf("%w: delay_hours must not be negative", domain.ErrInvalidInput)
	}
	delay := time.Duration(input.DelayHours) * time.Hour
	reason := strings.TrimSpace(input.Reason)
	req := adminRequest{operation: "configure_auto_release", escrowID: input.EscrowID, action: domain.AuditActionAutoReleaseConfigured, reason: reason, invalid: invalid}
	return s.adminMutate(ctx, actor, req, func(account *domain.EscrowAccount, now time.Time) (adminChange, error) {
		if input.Enabled && delay == 0 {
			delay = account.AdminControls.AutoReleaseDelay
		}
		if err := account.ConfigureAutoRelease(input.Enabled, delay, now); err != nil {
			return adminChange{}, err
		}
		metadata := map[string]any{"enabled": input.Enabled, "delay_hours": int(delay / time.Hour)}
		if account.AutoReleaseAt != nil {
			metadata["auto_release_at"] = account.AutoReleaseAt.UTC().Format(time.RFC3339)
		}
		return adminChange{metadata: metadata}, nil
	})
}

// UpdateControls changes the manual-approval flag and priority level.
func (s *Service) UpdateControls(ctx context.Context, actor Actor, input ControlsInput) (domain.EscrowAccount, error) {
	var invalid error
	if input.RequiresManualApproval == nil && input.PriorityLevel == nil {
		invalid = fmt.Errorf("%w: no controls to update", domain.ErrInvalidInput)
	}
	reason := strings.TrimSpace(input.Reason)
	req := adminRequest{operation: "update_controls", escrowID: input.EscrowID, action: domain.AuditActionManualAdjustment, reason: reason, invalid: invalid}
	return s.adminMutate(ctx, actor, req, func(account *domain.EscrowAccount, now time.Time) (adminChange, error) {
		metadata := map[string]any{"field": "admin_controls"}
		if input.PriorityLevel != nil {
			metadata["previous_priority"] = string(account.AdminControls.PriorityLevel)
			if err := account.SetPriority(*input.PriorityLevel, now); err != nil {
				return adminChange{}, err
			}
			metadata["priority"] = string(*input.PriorityLevel)
		}
		if input.RequiresManualApproval != nil {
			account.SetManualApproval(*input.RequiresManualApproval, now)
			metadata["requires_manual_approval"] = *input.RequiresManualApproval
		}
		return adminChange{metadata: metadata}, nil
	})
}

func (s *Service) notifyParties(ctx context.Context, account domain.EscrowAccount, kind domain.NotificationKind, title, message string) {
	for _, userID := range []string{account.ManagerID, account.TalentID} {
		s.notifier.Notify(ctx, domain.Notification{
			Kind:    kind,
			UserID:  userID,
			Title:   title,
			Message: message,
			Data:    map[string]string{"escrow_id": account.ID, "contract_id": account.ContractID},
		})
	}
}
