package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/contracts"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/domain"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/ports"
)

// effects run after the ledger change committed and the account lock was released.
type effects []func(ctx context.Context)

func (e effects) run(ctx context.Context) {
	for _, fn := range e {
		fn(ctx)
	}
}

// FundEscrow charges the manager for the contract amount plus platform fee. The
// pending deposit is recorded before the gateway is called, and the account lock
// is not held while waiting on the gateway.
func (s *Service) FundEscrow(ctx context.Context, actor Actor, input FundEscrowInput) (result FundResult, err error) {
	start := time.Now()
	defer func() {
		s.observe("fund", start, err)
		s.logOutcome(ctx, "fund_escrow", result.Account.ID, err, "contract_id", input.ContractID, "requires_action", result.RequiresAction)
	}()

	if err := requireSubject(actor); err != nil {
		return FundResult{}, err
	}
	input.PaymentMethodRef = strings.TrimSpace(input.PaymentMethodRef)
	if input.PaymentMethodRef == "" {
		return FundResult{}, fmt.Errorf("%w: payment_method_ref is required", domain.ErrInvalidInput)
	}
	account, err := s.loadByContract(ctx, input.ContractID)
	if err != nil {
		return FundResult{}, err
	}
	if err := requireManager(actor, account); err != nil {
		s.auditRejected(ctx, account.ID, domain.AuditActionFunded, actor, "fund attempt", nil, err)
		return FundResult{}, err
	}
	return idempotent(ctx, s, actor.IdempotencyKey, input, func() (FundResult, error) {
		tx, err := s.openDeposit(ctx, actor, account.ID, input.PaymentMethodRef)
		if err != nil {
			return FundResult{}, err
		}
		return s.chargeDeposit(ctx, actor, tx)
	})
}

// openDeposit validates the account and records the pending deposit under the lock.
func (s *Service) openDeposit(ctx context.Context, actor Actor, escrowID, paymentMethodRef string) (domain.Transaction, error) {
	var tx domain.Transaction
	err := s.withAccountLock(ctx, "fund", escrowID, func(ctx context.Context) error {
		account, err := s.escrows.GetByID(ctx, escrowID)
		if err != nil {
			return err
		}
		if err := account.CheckFundable(); err != nil {
			s.auditRejected(ctx, account.ID, domain.AuditActionFunded, actor, "fund attempt", amountPtr(account.ChargeAmount()), err)
			return err
		}
		pending, err := s.transactions.FindPending(ctx, account.ID, domain.TransactionTypeDeposit)
		if err != nil {
			return err
		}
		if pending != nil {
			return fmt.Errorf("%w: deposit %s is already awaiting the gateway", domain.ErrConflict, pending.ID)
		}
		now := s.nowFn()
		id := uuid.NewString()
		tx = domain.Transaction{
			ID:                  id,
			EscrowID:            account.ID,
			Type:                domain.TransactionTypeDeposit,
			Amount:              account.ChargeAmount(),
			Currency:            account.Currency,
			PaymentMethodRef:    paymentMethodRef,
			IdempotencyKey:      "escrow-deposit-" + id,
			Status:              domain.TransactionStatusPending,
			Description:         fmt.Sprintf("escrow deposit for contract %s", account.ContractID),
			PerformedBy:         actor.SubjectID,
			CommissionSettingID: account.CommissionSettingID,
			PlatformFeeAmount:   account.PlatformFeeAmount,
			CreatedAt:           now,
		}
		return s.escrows.Commit(ctx, ports.LedgerChange{NewTransactions: []domain.Transaction{tx}})
	})
	return tx, err
}

// chargeDeposit calls the gateway for a pending deposit and applies the outcome.
// It is safe to call again for the same transaction: the gateway deduplicates on
// the transaction's idempotency key.
func (s *Service) chargeDeposit(ctx context.Context, actor Actor, tx domain.Transaction) (FundResult, error) {
	account, err := s.escrows.GetByID(ctx, tx.EscrowID)
	if err != nil {
		return FundResult{}, err
	}
	customerRef := account.GatewayCustomerRef
	var intent ports.PaymentIntent
	var callErr error
	if customerRef == "" {
		customerRef, callErr = s.createCustomer(ctx, account.ManagerID)
	}
	if callErr == nil {
		gwStart := time.Now()
		intent, callErr = s.gateway.CreatePaymentIntent(ctx, ports.PaymentIntentRequest{
			Amount:           tx.Amount,
			Currency:         tx.Currency,
			CustomerRef:      customerRef,
			PaymentMethodRef: tx.PaymentMethodRef,
			IdempotencyKey:   tx.IdempotencyKey,
			Description:      tx.Description,
			Metadata: map[string]string{
				"escrow_id":      account.ID,
				"contract_id":    account.ContractID,
				"transaction_id": tx.ID,
			},
		})
		s.metrics.ObserveGatewayCall("create_payment_intent", gatewayOutcome(callErr), time.Since(gwStart))
	}

	var result FundResult
	var after effects
	err = s.withAccountLock(ctx, "fund_settle", account.ID, func(ctx context.Context) error {
		var err error
		result, after, err = s.applyDepositResult(ctx, actor, tx.ID, customerRef, intent, callErr)
		return err
	})
	after.run(ctx)
	return result, err
}

func (s *Service) createCustomer(ctx context.Context, managerID string) (string, error) {
	email, name := "", managerID
	if s.users != nil {
		if profile, err := s.users.GetUserProfile(ctx, managerID); err == nil {
			email, name = profile.Email, profile.Name
		}
	}
	start := time.Now()
	ref, err := s.gateway.CreateCustomer(ctx, email, name)
	s.metrics.ObserveGatewayCall("create_customer", gatewayOutcome(err), time.Since(start))
	return ref, err
}

func gatewayOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case domain.IsRetryableGatewayError(err):
		return "retryable"
	default:
		return "failure"
	}
}

// applyDepositResult settles a pending deposit. It must run under the account lock.
// A deposit that is already settled is reported as-is, which makes gateway
// callbacks and reconciliation idempotent. A capture reported for a deposit that
// was marked failed funds the account when it is still unfunded.
func (s *Service) applyDepositResult(ctx context.Context, actor Actor, txID, customerRef string, intent ports.PaymentIntent, callErr error) (FundResult, effects, error) {
	tx, err := s.transactions.GetByID(ctx, txID)
	if err != nil {
		return FundResult{}, nil, err
	}
	account, err := s.escrows.GetByID(ctx, tx.EscrowID)
	if err != nil {
		return FundResult{}, nil, err
	}
	lateCapture := callErr == nil && intent.Status.Succeeded() && tx.Status != domain.TransactionStatusCompleted
	if tx.Settled() && lateCapture && account.Status != domain.EscrowStatusCreated {
		return s.rejectLateCapture(ctx, actor, account, tx, intent)
	}
	if tx.Settled() && !lateCapture {
		if tx.Status == domain.TransactionStatusFailed {
			return FundResult{Account: account, Transaction: tx}, nil, &domain.GatewayError{Op: "create_payment_intent", Code: tx.FailureReason}
		}
		return FundResult{Account: account, Transaction: tx}, nil, nil
	}

	now := s.nowFn()
	accountChanged := false
	if customerRef != "" && account.GatewayCustomerRef == "" {
		account.GatewayCustomerRef = customerRef
		account.UpdatedAt = now
		accountChanged = true
	}
	change := ports.LedgerChange{}

	switch {
	case callErr != nil:
		tx.Fail(callErr.Error(), now)
		audit := s.newAudit(account.ID, domain.AuditActionFunded, actor, "gateway charge failed", amountPtr(tx.Amount), map[string]any{"transaction_id": tx.ID, "error": callErr.Error()})
		audit.Outcome = domain.AuditOutcomeRejected
		change.Audit = append(change.Audit, audit)
		change.UpdatedTransactions = []domain.Transaction{tx}
		if accountChanged {
			change.Account = &account
		}
		if err := s.escrows.Commit(ctx, change); err != nil {
			return FundResult{}, nil, err
		}
		var gwErr *domain.GatewayError
		if !errors.As(callErr, &gwErr) {
			callErr = &domain.GatewayError{Op: "create_payment_intent", Retryable: true, Err: callErr}
		}
		return FundResult{Account: account, Transaction: tx}, nil, callErr

	case intent.Status.Failed():
		reason := intent.LastError
		if reason == "" {
			reason = string(intent.Status)
		}
		tx.GatewayRef = intent.Ref
		tx.Fail(reason, now)
		audit := s.newAudit(account.ID, domain.AuditActionFunded, actor, "payment declined", amountPtr(tx.Amount), map[string]any{"transaction_id": tx.ID, "gateway_ref": intent.Ref, "gateway_status": string(intent.Status)})
		audit.Outcome = domain.AuditOutcomeRejected
		change.Audit = append(change.Audit, audit)
		change.UpdatedTransactions = []domain.Transaction{tx}
		if accountChanged {
			change.Account = &account
		}
		if err := s.escrows.Commit(ctx, change); err != nil {
			return FundResult{}, nil, err
		}
		return FundResult{Account: account, Transaction: tx, GatewayStatus: string(intent.Status)}, nil,
			&domain.GatewayError{Op: "create_payment_intent", Code: reason}

	case !intent.Status.Succeeded():
		// Waiting on the client (3-D Secure etc.) or the network; balances stay untouched.
		tx.GatewayRef = intent.Ref
		change.UpdatedTransactions = []domain.Transaction{tx}
		if accountChanged {
			change.Account = &account
		}
		if err := s.escrows.Commit(ctx, change); err != nil {
			return FundResult{}, nil, err
		}
		return FundResult{
			Account:        account,
			Transaction:    tx,
			RequiresAction: true,
			ClientSecret:   intent.ClientSecret,
			GatewayStatus:  string(intent.Status),
		}, nil, nil
	}

	if err := account.ApplyDeposit(now); err != nil {
		return FundResult{}, nil, err
	}
	tx.Complete(intent.Ref, now)
	change.Account = &account
	change.UpdatedTransactions = []domain.Transaction{tx}
	change.Audit = []domain.AuditEntry{s.newAudit(account.ID, domain.AuditActionFunded, actor, "escrow funded", amountPtr(account.HeldAmount), map[string]any{
		"transaction_id": tx.ID,
		"gateway_ref":    tx.GatewayRef,
		"charged_amount": tx.Amount.String(),
	})}
	change.Outbox = s.eventsFor(ctx, actor.RequestID, account.ID, now, eventItem{eventType: domain.EventEscrowFunded, data: contracts.EscrowFundedPayload{
		EscrowID:      account.ID,
		ContractID:    account.ContractID,
		TransactionID: tx.ID,
		HeldAmount:    account.HeldAmount,
		ChargedAmount: tx.Amount,
		Currency:      account.Currency,
		GatewayRef:    tx.GatewayRef,
		FundedAt:      now.UTC().Format(time.RFC3339),
	}})
	if err := s.escrows.Commit(ctx, change); err != nil {
		return FundResult{}, nil, err
	}

	funded := account
	after := effects{
		func(ctx context.Context) {
			s.notifier.Notify(ctx, domain.Notification{
				Kind:    domain.NotificationEscrowFunded,
				UserID:  funded.TalentID,
				Title:   "Escrow funded",
				Message: fmt.Sprintf("%s %s is now held in escrow for your contract.", funded.HeldAmount.StringFixed(domain.CurrencyScale(funded.Currency)), funded.Currency),
				Data:    map[string]string{"escrow_id": funded.ID, "contract_id": funded.ContractID},
			})
		},
		func(ctx context.Context) { s.updateContractStatus(ctx, funded.ContractID, domain.ContractStatusActive) },
		func(context.Context) { s.syncAutoRelease(funded) },
	}
	return FundResult{Account: account, Transaction: tx, GatewayStatus: string(intent.Status)}, after, nil
}

// rejectLateCapture records a capture the ledger can no longer apply because the
// account was funded or closed in the meantime. The money has to be returned by hand.
func (s *Service) rejectLateCapture(ctx context.Context, actor Actor, account domain.EscrowAccount, tx domain.Transaction, intent ports.PaymentIntent) (FundResult, effects, error) {
	s.logger.ErrorContext(ctx, "payment captured for a settled deposit",
		"operation", "gateway_webhook",
		"outcome", "rejected",
		"escrow_id", account.ID,
		"transaction_id", tx.ID,
		"transaction_status", string(tx.Status),
		"account_status", string(account.Status),
		"gateway_ref", intent.Ref,
	)
	audit := s.newAudit(account.ID, domain.AuditActionFunded, actor, "capture for settled deposit", amountPtr(tx.Amount), map[string]any{
		"transaction_id":     tx.ID,
		"transaction_status": string(tx.Status),
		"gateway_ref":        intent.Ref,
	})
	audit.Outcome = domain.AuditOutcomeRejected
	if err := s.escrows.Commit(ctx, ports.LedgerChange{Audit: []domain.AuditEntry{audit}}); err != nil {
		return FundResult{}, nil, err
	}
	return FundResult{Account: account, Transaction: tx, GatewayStatus: string(intent.Status)}, nil, nil
}

func (s *Service) updateContractStatus(ctx context.Context, contractID, status string) {
	if s.contracts == nil {
		return
	}
	cctx, cancel := s.collaboratorContext(ctx)
	defer cancel()
	if err := s.contracts.UpdateStatus(cctx, contractID, status); err != nil {
		s.logger.WarnContext(ctx, "contract status update failed",
			"operation", "update_contract_status",
			"outcome", "failure",
			"contract_id", contractID,
			"status", status,
			"error", err,
		)
	}
}

// HandleGatewayEvent applies an asynchronous payment confirmation. Events are
// deduplicated by id. A settled deposit is left untouched unless the event reports
// a capture the ledger recorded as failed.
func (s *Service) HandleGatewayEvent(ctx context.Context, event contracts.GatewayWebhookEvent) (err error) {
	start := time.Now()
	defer func() { s.observe("gateway_webhook", start, err) }()

	event.ID = strings.TrimSpace(event.ID)
	if event.ID == "" || strings.TrimSpace(event.Type) == "" {
		return fmt.Errorf("%w: webhook event id and type are required", domain.ErrInvalidInput)
	}
	now := s.nowFn()
	if s.eventDedup != nil {
		dup, err := s.eventDedup.IsDuplicate(ctx, event.ID, now)
		if err != nil {
			return err
		}
		if dup {
			return nil
		}
	}

	var status ports.PaymentIntentStatus
	switch event.Type {
	case "payment_intent.succeeded":
		status = ports.PaymentIntentSucceeded
	case "payment_intent.payment_failed":
		status = ports.PaymentIntentRequiresPaymentMethod
	case "payment_intent.canceled":
		status = ports.PaymentIntentCanceled
	default:
		s.logger.InfoContext(ctx, "gateway event ignored", "operation", "gateway_webhook", "outcome", "ignored", "event_type", event.Type)
		return s.markEventProcessed(ctx, event.ID, event.Type, now)
	}

	obj := event.Data.Object
	tx, err := s.findDepositForIntent(ctx, obj.ID, obj.Metadata["transaction_id"])
	if err != nil {
		return err
	}
	if !tx.Settled() || (status == ports.PaymentIntentSucceeded && tx.Status != domain.TransactionStatusCompleted) {
		intent := ports.PaymentIntent{Ref: obj.ID, Status: status, LastError: obj.LastError}
		var after effects
		actor := SystemActor(event.ID)
		err = s.withAccountLock(ctx, "gateway_webhook", tx.EscrowID, func(ctx context.Context) error {
			var err error
			_, after, err = s.applyDepositResult(ctx, actor, tx.ID, "", intent, nil)
			return err
		})
		after.run(ctx)
		if err != nil && !errors.Is(err, domain.ErrGateway) {
			return err
		}
	}
	return s.markEventProcessed(ctx, event.ID, event.Type, now)
}

func (s *Service) findDepositForIntent(ctx context.Context, intentRef, transactionID string) (domain.Transaction, error) {
	if transactionID != "" {
		tx, err := s.transactions.GetByID(ctx, transactionID)
		if err == nil && tx.Type == domain.TransactionTypeDeposit {
			return tx, nil
		}
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return domain.Transaction{}, err
		}
	}
	if strings.TrimSpace(intentRef) == "" {
		return domain.Transaction{}, fmt.Errorf("%w: payment intent reference missing", domain.ErrInvalidInput)
	}
	tx, err := s.transactions.GetByGatewayRef(ctx, intentRef)
	if err != nil {
		return domain.Transaction{}, err
	}
	if tx.Type != domain.TransactionTypeDeposit {
		return domain.Transaction{}, fmt.Errorf("%w: %s is not a deposit", domain.ErrInvalidInput, intentRef)
	}
	return tx, nil
}

func (s *Service) markEventProcessed(ctx context.Context, eventID, eventType string, now time.Time) error {
	if s.eventDedup == nil {
		return nil
	}
	return s.eventDedup.MarkProcessed(ctx, eventID, eventType, now.Add(s.cfg.EventDedupTTL))
}

// ReconcilePendingDeposits settles deposits left pending past the stale threshold,
// either by reading the payment intent state or by replaying the idempotent charge.
func (s *Service) ReconcilePendingDeposits(ctx context.Context) (int, error) {
	cutoff := s.nowFn().Add(-s.cfg.PendingDepositStaleAfter)
	pending, err := s.transactions.ListStalePending(ctx, domain.TransactionTypeDeposit, cutoff, s.cfg.ReconcileBatchSize)
	if err != nil {
		return 0, err
	}
	settled := 0
	actor := SystemActor("reconcile-" + uuid.NewString())
	for _, tx := range pending {
		var result FundResult
		if tx.GatewayRef == "" {
			result, err = s.chargeDeposit(ctx, actor, tx)
		} else {
			result, err = s.refreshDeposit(ctx, actor, tx)
		}
		if err != nil && !errors.Is(err, domain.ErrGateway) {
			s.logger.WarnContext(ctx, "pending deposit reconciliation failed",
				"operation", "reconcile_deposit",
				"outcome", "failure",
				"transaction_id", tx.ID,
				"escrow_id", tx.EscrowID,
				"error", err,
			)
			continue
		}
		if result.Transaction.Settled() {
			settled++
			continue
		}
		if tx.CreatedAt.Before(s.nowFn().Add(-s.cfg.PendingDepositExpiry)) {
			if err := s.expireDeposit(ctx, actor, tx.ID); err != nil {
				s.logger.WarnContext(ctx, "pending deposit expiry failed",
					"operation", "expire_deposit",
					"outcome", "failure",
					"transaction_id", tx.ID,
					"error", err,
				)
				continue
			}
			settled++
		}
	}
	return settled, nil
}

// expireDeposit cancels a deposit whose payment never completed so the account can be funded again.
func (s *Service) expireDeposit(ctx context.Context, actor Actor, txID string) error {
	tx, err := s.transactions.GetByID(ctx, txID)
	if err != nil {
		return err
	}
	return s.withAccountLock(ctx, "expire_deposit", tx.EscrowID, func(ctx context.Context) error {
		tx, err := s.transactions.GetByID(ctx, txID)
		if err != nil || tx.Settled() {
			return err
		}
		now := s.nowFn()
		tx.Status = domain.TransactionStatusCancelled
		tx.FailureReason = "payment not completed before expiry"
		tx.ProcessedAt = &now
		audit := s.newAudit(tx.EscrowID, domain.AuditActionFunded, actor, "pending deposit expired", amountPtr(tx.Amount), map[string]any{"transaction_id": tx.ID, "gateway_ref": tx.GatewayRef})
		audit.Outcome = domain.AuditOutcomeRejected
		return s.escrows.Commit(ctx, ports.LedgerChange{UpdatedTransactions: []domain.Transaction{tx}, Audit: []domain.AuditEntry{audit}})
	})
}

func (s *Service) refreshDeposit(ctx context.Context, actor Actor, tx domain.Transaction) (FundResult, error) {
	start := time.Now()
	intent, err := s.gateway.RetrievePaymentIntent(ctx, tx.GatewayRef)
	s.metrics.ObserveGatewayCall("retrieve_payment_intent", gatewayOutcome(err), time.Since(start))
	if err != nil {
		return FundResult{}, err
	}
	var result FundResult
	var after effects
	err = s.withAccountLock(ctx, "reconcile_deposit", tx.EscrowID, func(ctx context.Context) error {
		var err error
		result, after, err = s.applyDepositResult(ctx, actor, tx.ID, "", intent, nil)
		return err
	})
	after.run(ctx)
	return result, err
}
