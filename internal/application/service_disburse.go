package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/contracts"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/domain"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/ports"
)

const (
	releaseTriggerManual      = "manual"
	releaseTriggerAutoRelease = "auto_release"
	releaseTriggerDispute     = "dispute_resolution"
)

type releaseRequest struct {
	escrowID    string
	amount      decimal.Decimal
	milestoneID string
	notes       string
	trigger     string
}

// ReleaseFunds pays amount from the held balance to the talent.
func (s *Service) ReleaseFunds(ctx context.Context, actor Actor, input ReleaseInput) (result DisbursementResult, err error) {
	start := time.Now()
	defer func() {
		s.observe("release", start, err)
		s.logOutcome(ctx, "release_funds", result.Account.ID, err, "contract_id", input.ContractID, "amount", input.Amount.String())
	}()

	if err := requireSubject(actor); err != nil {
		return DisbursementResult{}, err
	}
	account, err := s.loadByContract(ctx, input.ContractID)
	if err != nil {
		return DisbursementResult{}, err
	}
	if err := requireManager(actor, account); err != nil {
		s.auditRejected(ctx, account.ID, domain.AuditActionReleased, actor, input.Notes, amountPtr(input.Amount), err)
		return DisbursementResult{}, err
	}
	if !input.Amount.IsPositive() {
		return DisbursementResult{}, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidInput)
	}
	input.MilestoneID = strings.TrimSpace(input.MilestoneID)
	return idempotent(ctx, s, actor.IdempotencyKey, input, func() (DisbursementResult, error) {
		return s.release(ctx, actor, releaseRequest{
			escrowID:    account.ID,
			amount:      input.Amount,
			milestoneID: input.MilestoneID,
			notes:       input.Notes,
			trigger:     releaseTriggerManual,
		})
	})
}

func (s *Service) release(ctx context.Context, actor Actor, req releaseRequest) (DisbursementResult, error) {
	var result DisbursementResult
	var after effects
	err := s.withAccountLock(ctx, "release", req.escrowID, func(ctx context.Context) error {
		account, err := s.escrows.GetByID(ctx, req.escrowID)
		if err != nil {
			return err
		}
		if req.trigger == releaseTriggerAutoRelease {
			if !account.AutoReleaseEligible(s.nowFn()) {
				result = DisbursementResult{Account: account}
				return errAutoReleaseNotDue
			}
			req.amount = account.Available()
		}
		now := s.nowFn()
		if err := account.ApplyRelease(req.amount, now); err != nil {
			s.auditRejected(ctx, account.ID, domain.AuditActionReleased, actor, req.notes, amountPtr(req.amount), err)
			return err
		}
		if req.trigger == releaseTriggerManual {
			account.CancelAutoRelease()
		}
		tx := s.disbursementTx(account, domain.TransactionTypeRelease, req.amount, actor, now)
		tx.MilestoneID = req.milestoneID
		tx.Description = releaseDescription(req)
		tx.Complete("", now)

		metadata := map[string]any{"transaction_id": tx.ID, "trigger": req.trigger, "available": account.Available().String()}
		if req.milestoneID != "" {
			metadata["milestone_id"] = req.milestoneID
		}
		events := []eventItem{releasedEvent(account, tx, req, now)}
		if evt, ok := completionEvent(account); ok {
			events = append(events, evt)
		}
		change := ports.LedgerChange{
			Account:         &account,
			NewTransactions: []domain.Transaction{tx},
			Audit:           []domain.AuditEntry{s.newAudit(account.ID, domain.AuditActionReleased, actor, req.notes, amountPtr(req.amount), metadata)},
			Outbox:          s.eventsFor(ctx, actor.RequestID, account.ID, now, events...),
		}
		if err := s.escrows.Commit(ctx, change); err != nil {
			return err
		}
		result = DisbursementResult{Account: account, Transaction: tx}
		after = s.releaseEffects(account, req)
		return nil
	})
	after.run(ctx)
	return result, err
}

var errAutoReleaseNotDue = errors.New("auto-release not due")

func releasedEvent(account domain.EscrowAccount, tx domain.Transaction, req releaseRequest, now time.Time) eventItem {
	return eventItem{eventType: domain.EventEscrowFundsReleased, data: contracts.FundsReleasedPayload{
		EscrowID:       account.ID,
		ContractID:     account.ContractID,
		TransactionID:  tx.ID,
		TalentID:       account.TalentID,
		Amount:         req.amount,
		ReleasedAmount: account.ReleasedAmount,
		Available:      account.Available(),
		Status:         string(account.Status),
		MilestoneID:    req.milestoneID,
		Trigger:        req.trigger,
		ReleasedAt:     now.UTC().Format(time.RFC3339),
	}}
}

func releaseDescription(req releaseRequest) string {
	switch {
	case req.notes != "":
		return req.notes
	case req.milestoneID != "":
		return "milestone " + req.milestoneID + " payment"
	case req.trigger == releaseTriggerAutoRelease:
		return "automatic release after review period"
	default:
		return "escrow release"
	}
}

func (s *Service) releaseEffects(account domain.EscrowAccount, req releaseRequest) effects {
	after := effects{
		func(ctx context.Context) {
			s.notifier.Notify(ctx, domain.Notification{
				Kind:    domain.NotificationFundsReleased,
				UserID:  account.TalentID,
				Title:   "Funds released",
				Message: fmt.Sprintf("%s %s has been released to you.", req.amount.StringFixed(domain.CurrencyScale(account.Currency)), account.Currency),
				Data:    map[string]string{"escrow_id": account.ID, "contract_id": account.ContractID, "milestone_id": req.milestoneID},
			})
		},
		func(context.Context) { s.syncAutoRelease(account) },
	}
	if req.milestoneID != "" && s.contracts != nil {
		after = append(after, func(ctx context.Context) {
			cctx, cancel := s.collaboratorContext(ctx)
			defer cancel()
			if err := s.contracts.MarkMilestonePaid(cctx, account.ContractID, req.milestoneID); err != nil {
				s.logger.WarnContext(ctx, "milestone update failed",
					"operation", "mark_milestone_paid",
					"outcome", "failure",
					"contract_id", account.ContractID,
					"milestone_id", req.milestoneID,
					"error", err,
				)
			}
		})
	}
	if account.Status == domain.EscrowStatusCompleted {
		after = append(after, func(ctx context.Context) { s.updateContractStatus(ctx, account.ContractID, domain.ContractStatusCompleted) })
	}
	return after
}

func (s *Service) disbursementTx(account domain.EscrowAccount, txType domain.TransactionType, amount decimal.Decimal, actor Actor, now time.Time) domain.Transaction {
	id := uuid.NewString()
	return domain.Transaction{
		ID:             id,
		EscrowID:       account.ID,
		Type:           txType,
		Amount:         amount,
		Currency:       account.Currency,
		IdempotencyKey: fmt.Sprintf("escrow-%s-%s", txType, id),
		Status:         domain.TransactionStatusPending,
		PerformedBy:    actor.SubjectID,
		CreatedAt:      now,
	}
}

// RefundFunds returns amount from the held balance to the manager through the gateway.
func (s *Service) RefundFunds(ctx context.Context, actor Actor, input RefundInput) (result DisbursementResult, err error) {
	start := time.Now()
	defer func() {
		s.observe("refund", start, err)
		s.logOutcome(ctx, "refund_funds", result.Account.ID, err, "contract_id", input.ContractID, "amount", input.Amount.String())
	}()

	if err := requireSubject(actor); err != nil {
		return DisbursementResult{}, err
	}
	account, err := s.loadByContract(ctx, input.ContractID)
	if err != nil {
		return DisbursementResult{}, err
	}
	if err := requireManagerOrAdmin(actor, account); err != nil {
		s.auditRejected(ctx, account.ID, domain.AuditActionRefunded, actor, input.Reason, amountPtr(input.Amount), err)
		return DisbursementResult{}, err
	}
	input.Reason = strings.TrimSpace(input.Reason)
	if input.Reason == "" {
		return DisbursementResult{}, fmt.Errorf("%w: reason is required", domain.ErrInvalidInput)
	}
	if !input.Amount.IsPositive() {
		return DisbursementResult{}, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidInput)
	}
	return idempotent(ctx, s, actor.IdempotencyKey, input, func() (DisbursementResult, error) {
		return s.refund(ctx, actor, refundRequest{escrowID: account.ID, amount: input.Amount, reason: input.Reason})
	})
}

type refundRequest struct {
	escrowID string
	amount   decimal.Decimal
	reason   string
	// resolution is set when the refund returns the remaining balance of a
	// disputed account; the amount is then taken from the account under the lock.
	resolution *adminRequest
}

var errNothingToRefund = errors.New("nothing left to refund")

// refund reserves the amount under the lock, calls the gateway without it, and
// then either settles the reservation or gives it back.
func (s *Service) refund(ctx context.Context, actor Actor, req refundRequest) (DisbursementResult, error) {
	var tx domain.Transaction
	var intentRef string
	amount := req.amount
	err := s.withAccountLock(ctx, "refund", req.escrowID, func(ctx context.Context) error {
		account, err := s.escrows.GetByID(ctx, req.escrowID)
		if err != nil {
			return err
		}
		now := s.nowFn()
		if req.resolution != nil {
			amount = account.Available()
			if !amount.IsPositive() {
				return errNothingToRefund
			}
			if err := s.requireNoRefundInFlight(ctx, account.ID); err != nil {
				s.auditRejected(ctx, account.ID, req.resolution.action, actor, req.resolution.reason, nil, err)
				return err
			}
			err = account.ReserveDisputeRefund(amount, now)
		} else {
			err = account.ReserveRefund(amount, now)
		}
		action, reason := req.auditTarget()
		if err != nil {
			s.auditRejected(ctx, account.ID, action, actor, reason, amountPtr(amount), err)
			return err
		}
		intentRef, err = s.depositIntentRef(ctx, account.ID)
		if err != nil {
			s.auditRejected(ctx, account.ID, action, actor, reason, amountPtr(amount), err)
			return err
		}
		account.CancelAutoRelease()
		tx = s.disbursementTx(account, domain.TransactionTypeRefund, amount, actor, now)
		tx.Description = req.reason
		return s.escrows.Commit(ctx, ports.LedgerChange{Account: &account, NewTransactions: []domain.Transaction{tx}})
	})
	if err != nil {
		return DisbursementResult{}, err
	}
	s.timers.Cancel(req.escrowID)

	gwStart := time.Now()
	refund, callErr := s.gateway.CreateRefund(ctx, ports.RefundRequest{
		PaymentIntentRef: intentRef,
		Amount:           amount,
		Currency:         tx.Currency,
		IdempotencyKey:   tx.IdempotencyKey,
		Reason:           req.reason,
	})
	s.metrics.ObserveGatewayCall("create_refund", gatewayOutcome(callErr), time.Since(gwStart))

	var result DisbursementResult
	var after effects
	// The reservation must be settled even if the caller went away.
	settleCtx := context.WithoutCancel(ctx)
	err = s.withAccountLock(settleCtx, "refund_settle", req.escrowID, func(ctx context.Context) error {
		account, err := s.escrows.GetByID(ctx, req.escrowID)
		if err != nil {
			return err
		}
		now := s.nowFn()
		if callErr != nil {
			if err := account.RevertRefund(amount, now); err != nil {
				return err
			}
			tx.Fail(callErr.Error(), now)
			audit := s.newAudit(account.ID, domain.AuditActionRefunded, actor, req.reason, amountPtr(amount), map[string]any{"transaction_id": tx.ID, "error": callErr.Error()})
			audit.Outcome = domain.AuditOutcomeRejected
			audits := []domain.AuditEntry{audit}
			if res := req.resolution; res != nil {
				// The dispute stays open: the admin may retry or choose another outcome.
				rejected := s.newAudit(account.ID, res.action, actor, res.reason, nil, map[string]any{
					"outcome":        string(domain.DisputeOutcomeRefundRemaining),
					"transaction_id": tx.ID,
					"error":          callErr.Error(),
				})
				rejected.Outcome = domain.AuditOutcomeRejected
				audits = append(audits, rejected)
			}
			if err := s.escrows.Commit(ctx, ports.LedgerChange{Account: &account, UpdatedTransactions: []domain.Transaction{tx}, Audit: audits}); err != nil {
				return err
			}
			result = DisbursementResult{Account: account, Transaction: tx}
			after = effects{func(context.Context) { s.syncAutoRelease(account) }}
			return nil
		}

		var resolved bool
		if req.resolution != nil && account.Status == domain.EscrowStatusDisputed {
			if err := account.LeaveDispute(now); err != nil {
				return err
			}
			account.RecordAdminAction(req.resolution.action, actor.SubjectID, req.resolution.reason, now)
			resolved = true
		}
		if err := account.SettleRefund(now); err != nil {
			return err
		}
		tx.Complete(refund.Ref, now)
		events := []eventItem{{eventType: domain.EventEscrowRefundProcessed, data: contracts.RefundProcessedPayload{
			EscrowID:       account.ID,
			ContractID:     account.ContractID,
			TransactionID:  tx.ID,
			ManagerID:      account.ManagerID,
			Amount:         amount,
			RefundedAmount: account.RefundedAmount,
			Status:         string(account.Status),
			GatewayRef:     refund.Ref,
			RefundedAt:     now.UTC().Format(time.RFC3339),
		}}}
		if evt, ok := completionEvent(account); ok {
			events = append(events, evt)
		}
		audits := []domain.AuditEntry{s.newAudit(account.ID, domain.AuditActionRefunded, actor, req.reason, amountPtr(amount), map[string]any{
			"transaction_id": tx.ID,
			"gateway_ref":    refund.Ref,
		})}
		if resolved {
			audits = append(audits, s.newAudit(account.ID, req.resolution.action, actor, req.resolution.reason, nil, map[string]any{
				"outcome":        string(domain.DisputeOutcomeRefundRemaining),
				"transaction_id": tx.ID,
			}))
			events = append(events, adminActionEvent(domain.EventEscrowDisputeResolved, account, req.resolution.action, actor, req.resolution.reason, now))
		}
		change := ports.LedgerChange{
			Account:             &account,
			UpdatedTransactions: []domain.Transaction{tx},
			Audit:               audits,
			Outbox:              s.eventsFor(ctx, actor.RequestID, account.ID, now, events...),
		}
		if err := s.escrows.Commit(ctx, change); err != nil {
			return err
		}
		result = DisbursementResult{Account: account, Transaction: tx}
		after = effects{
			func(ctx context.Context) {
				s.notifier.Notify(ctx, domain.Notification{
					Kind:    domain.NotificationEscrowRefunded,
					UserID:  account.ManagerID,
					Title:   "Escrow refunded",
					Message: fmt.Sprintf("%s %s has been refunded to your payment method.", amount.StringFixed(domain.CurrencyScale(account.Currency)), account.Currency),
					Data:    map[string]string{"escrow_id": account.ID, "contract_id": account.ContractID},
				})
			},
			func(context.Context) { s.syncAutoRelease(account) },
		}
		if account.Status == domain.EscrowStatusRefunded {
			after = append(after, func(ctx context.Context) { s.updateContractStatus(ctx, account.ContractID, domain.ContractStatusCancelled) })
		}
		return nil
	})
	after.run(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "refund settlement failed; reservation needs review",
			"operation", "refund_settle",
			"outcome", "failure",
			"escrow_id", req.escrowID,
			"transaction_id", tx.ID,
			"error", err,
		)
		return DisbursementResult{}, err
	}
	if callErr != nil {
		var gwErr *domain.GatewayError
		if !errors.As(callErr, &gwErr) {
			callErr = &domain.GatewayError{Op: "create_refund", Retryable: true, Err: callErr}
		}
		return result, callErr
	}
	return result, nil
}

// auditTarget is the action and reason a rejected reservation is recorded under.
func (r refundRequest) auditTarget() (domain.AuditAction, string) {
	if r.resolution != nil {
		return r.resolution.action, r.resolution.reason
	}
	return domain.AuditActionRefunded, r.reason
}

// requireNoRefundInFlight refuses changes that would race a refund still waiting
// on the gateway.
func (s *Service) requireNoRefundInFlight(ctx context.Context, escrowID string) error {
	pending, err := s.transactions.FindPending(ctx, escrowID, domain.TransactionTypeRefund)
	if err != nil {
		return err
	}
	if pending != nil {
		return fmt.Errorf("%w: refund %s is still settling", domain.ErrConflict, pending.ID)
	}
	return nil
}

func (s *Service) depositIntentRef(ctx context.Context, escrowID string) (string, error) {
	txs, err := s.transactions.ListByEscrowID(ctx, escrowID)
	if err != nil {
		return "", err
	}
	for _, tx := range txs {
		if tx.Type == domain.TransactionTypeDeposit && tx.Status == domain.TransactionStatusCompleted && tx.GatewayRef != "" {
			return tx.GatewayRef, nil
		}
	}
	return "", fmt.Errorf("%w: no settled deposit to refund against", domain.ErrInvalidState)
}
