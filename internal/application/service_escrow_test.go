package application_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	gatewayadapter "github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/adapters/gateway"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/application"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/contracts"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/domain"
)

func TestCreateEscrowAppliesDefaultFee(t *testing.T) {
	h := newHarness(t)
	account := h.createEscrow(t, "c-100", "10000")

	require.Equal(t, domain.EscrowStatusCreated, account.Status)
	requireAmount(t, "10000", account.TotalAmount)
	requireAmount(t, "0", account.HeldAmount)
	requireAmount(t, "5", account.PlatformFeePercentage)
	requireAmount(t, "500", account.PlatformFeeAmount)
	requireAmount(t, "10500", account.ChargeAmount())
	require.Equal(t, "USD", account.Currency)
	require.Equal(t, []string{domain.EventEscrowCreated}, h.outboxEventTypes(t))

	_, err := h.svc.CreateEscrow(context.Background(), manager(), application.CreateEscrowInput{ContractID: "c-100"})
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestCreateEscrowRejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.CreateEscrow(ctx, manager(), application.CreateEscrowInput{ContractID: "missing"})
	require.ErrorIs(t, err, domain.ErrNotFound)

	h.putContract("c-1", "100")
	_, err = h.svc.CreateEscrow(ctx, talent(), application.CreateEscrowInput{ContractID: "c-1"})
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = h.svc.CreateEscrow(ctx, application.Actor{}, application.CreateEscrowInput{ContractID: "c-1"})
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	h.contracts.Put(domain.Contract{ContractID: "c-2", ManagerID: managerID, TalentID: talentID, TotalAmount: amount("100"), Currency: "USD", Status: "draft"})
	_, err = h.svc.CreateEscrow(ctx, manager(), application.CreateEscrowInput{ContractID: "c-2"})
	require.ErrorIs(t, err, domain.ErrInvalidState)

	h.contracts.Put(domain.Contract{ContractID: "c-3", ManagerID: managerID, TalentID: talentID, TotalAmount: amount("10.001"), Currency: "USD", Status: domain.ContractStatusAccepted})
	_, err = h.svc.CreateEscrow(ctx, manager(), application.CreateEscrowInput{ContractID: "c-3"})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestFundReleaseLifecycleCompletesEscrow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account := h.fundedEscrow(t, "c-200", "1000")

	requireAmount(t, "1000", account.HeldAmount)
	require.NotNil(t, account.AutoReleaseAt)
	require.NotEmpty(t, account.GatewayCustomerRef)
	require.Equal(t, []string{domain.ContractStatusActive}, h.contracts.StatusHistory("c-200"))

	first, err := h.svc.ReleaseFunds(ctx, manager(), application.ReleaseInput{ContractID: "c-200", Amount: amount("400"), MilestoneID: "ms-1"})
	require.NoError(t, err)
	require.Equal(t, domain.EscrowStatusPartialRelease, first.Account.Status)
	require.Equal(t, domain.TransactionStatusCompleted, first.Transaction.Status)
	require.Equal(t, "ms-1", first.Transaction.MilestoneID)
	requireAmount(t, "600", first.Account.Available())
	require.Nil(t, first.Account.AutoReleaseAt)

	_, err = h.svc.ReleaseFunds(ctx, manager(), application.ReleaseInput{ContractID: "c-200", Amount: amount("700")})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	last, err := h.svc.ReleaseFunds(ctx, manager(), application.ReleaseInput{ContractID: "c-200", Amount: amount("600")})
	require.NoError(t, err)
	require.Equal(t, domain.EscrowStatusCompleted, last.Account.Status)
	require.NotNil(t, last.Account.ClosedAt)

	details, err := h.svc.GetEscrowByContract(ctx, talent(), "c-200")
	require.NoError(t, err)
	require.Len(t, details.Transactions, 3)
	requireAmount(t, "1000", details.Account.ReleasedAmount)

	require.Equal(t, []string{domain.ContractStatusActive, domain.ContractStatusCompleted}, h.contracts.StatusHistory("c-200"))
	require.Equal(t, []string{"ms-1"}, h.contracts.PaidMilestones("c-200"))
	require.ElementsMatch(t, []string{
		domain.EventEscrowCreated,
		domain.EventEscrowFunded,
		domain.EventEscrowFundsReleased,
		domain.EventEscrowFundsReleased,
		domain.EventEscrowCompleted,
	}, h.outboxEventTypes(t))
	require.Contains(t, h.notifier.kinds(talentID), domain.NotificationEscrowFunded)
	require.Contains(t, h.notifier.kinds(talentID), domain.NotificationFundsReleased)
	require.Contains(t, h.auditActions(t, account.ID, domain.AuditOutcomeRejected), domain.AuditActionReleased)
}

func TestOnlyManagerMovesFunds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account := h.fundedEscrow(t, "c-201", "500")

	_, err := h.svc.ReleaseFunds(ctx, talent(), application.ReleaseInput{ContractID: "c-201", Amount: amount("10")})
	require.ErrorIs(t, err, domain.ErrForbidden)
	_, err = h.svc.FundEscrow(ctx, talent(), application.FundEscrowInput{ContractID: "c-201", PaymentMethodRef: gatewayadapter.SandboxCardOK})
	require.ErrorIs(t, err, domain.ErrForbidden)
	_, err = h.svc.RefundFunds(ctx, talent(), application.RefundInput{ContractID: "c-201", Amount: amount("10"), Reason: "please"})
	require.ErrorIs(t, err, domain.ErrForbidden)

	require.Len(t, h.auditActions(t, account.ID, domain.AuditOutcomeRejected), 3)

	outsider := application.Actor{SubjectID: "stranger", Role: application.RoleTalent}
	_, err = h.svc.GetEscrowByContract(ctx, outsider, "c-201")
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestFundEscrowIsIdempotentPerKey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.createEscrow(t, "c-300", "250")

	actor := manager()
	actor.IdempotencyKey = "fund-" + uuid.NewString()
	input := application.FundEscrowInput{ContractID: "c-300", PaymentMethodRef: gatewayadapter.SandboxCardOK}

	first, err := h.svc.FundEscrow(ctx, actor, input)
	require.NoError(t, err)
	second, err := h.svc.FundEscrow(ctx, actor, input)
	require.NoError(t, err)
	require.Equal(t, first.Transaction.ID, second.Transaction.ID)
	require.Equal(t, 1, h.gateway.Calls("create_payment_intent"))

	input.PaymentMethodRef = "pm_other"
	_, err = h.svc.FundEscrow(ctx, actor, input)
	require.ErrorIs(t, err, domain.ErrIdempotencyConflict)

	// Without a key the account state machine refuses a second deposit.
	_, err = h.svc.FundEscrow(ctx, manager(), application.FundEscrowInput{ContractID: "c-300", PaymentMethodRef: gatewayadapter.SandboxCardOK})
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestDeclinedAndUnavailableGatewayLeaveAccountFundable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account := h.createEscrow(t, "c-301", "300")

	_, err := h.svc.FundEscrow(ctx, manager(), application.FundEscrowInput{ContractID: "c-301", PaymentMethodRef: gatewayadapter.SandboxCardDeclined})
	require.ErrorIs(t, err, domain.ErrGateway)
	require.False(t, domain.IsRetryableGatewayError(err))

	_, err = h.svc.FundEscrow(ctx, manager(), application.FundEscrowInput{ContractID: "c-301", PaymentMethodRef: gatewayadapter.SandboxGatewayDown})
	require.ErrorIs(t, err, domain.ErrGateway)
	require.True(t, domain.IsRetryableGatewayError(err))

	current := h.account(t, account.ID)
	require.Equal(t, domain.EscrowStatusCreated, current.Status)
	requireAmount(t, "0", current.HeldAmount)

	res, err := h.svc.FundEscrow(ctx, manager(), application.FundEscrowInput{ContractID: "c-301", PaymentMethodRef: gatewayadapter.SandboxCardOK})
	require.NoError(t, err)
	require.Equal(t, domain.EscrowStatusFunded, res.Account.Status)

	txs, err := h.svc.ListTransactions(ctx, manager(), "c-301")
	require.NoError(t, err)
	statuses := map[domain.TransactionStatus]int{}
	for _, tx := range txs {
		statuses[tx.Status]++
	}
	require.Equal(t, 2, statuses[domain.TransactionStatusFailed])
	require.Equal(t, 1, statuses[domain.TransactionStatusCompleted])
}

func TestRequiresActionSettlesThroughWebhookOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account := h.createEscrow(t, "c-400", "800")

	res, err := h.svc.FundEscrow(ctx, manager(), application.FundEscrowInput{ContractID: "c-400", PaymentMethodRef: gatewayadapter.SandboxCardRequiresAction})
	require.NoError(t, err)
	require.True(t, res.RequiresAction)
	require.NotEmpty(t, res.ClientSecret)
	require.Equal(t, domain.EscrowStatusCreated, res.Account.Status)
	require.Equal(t, domain.TransactionStatusPending, res.Transaction.Status)

	// A second attempt while the first waits on the customer is refused.
	_, err = h.svc.FundEscrow(ctx, manager(), application.FundEscrowInput{ContractID: "c-400", PaymentMethodRef: gatewayadapter.SandboxCardOK})
	require.ErrorIs(t, err, domain.ErrConflict)

	_, err = h.gateway.Confirm(res.Transaction.GatewayRef)
	require.NoError(t, err)
	event := webhookEvent("evt_1", "payment_intent.succeeded", res.Transaction.GatewayRef, res.Transaction.ID)
	require.NoError(t, h.svc.HandleGatewayEvent(ctx, event))
	require.NoError(t, h.svc.HandleGatewayEvent(ctx, event))
	require.NoError(t, h.svc.HandleGatewayEvent(ctx, webhookEvent("evt_2", "payment_intent.succeeded", res.Transaction.GatewayRef, "")))

	current := h.account(t, account.ID)
	require.Equal(t, domain.EscrowStatusFunded, current.Status)
	requireAmount(t, "800", current.HeldAmount)

	funded := 0
	for _, evt := range h.outboxEventTypes(t) {
		if evt == domain.EventEscrowFunded {
			funded++
		}
	}
	require.Equal(t, 1, funded)

	require.NoError(t, h.svc.HandleGatewayEvent(ctx, webhookEvent("evt_3", "charge.refunded", "ch_1", "")))
	require.ErrorIs(t, h.svc.HandleGatewayEvent(ctx, contracts.GatewayWebhookEvent{}), domain.ErrInvalidInput)
}

func TestFailedPaymentWebhookFailsDeposit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account := h.createEscrow(t, "c-401", "120")

	res, err := h.svc.FundEscrow(ctx, manager(), application.FundEscrowInput{ContractID: "c-401", PaymentMethodRef: gatewayadapter.SandboxCardRequiresAction})
	require.NoError(t, err)
	event := webhookEvent("evt_fail", "payment_intent.payment_failed", res.Transaction.GatewayRef, res.Transaction.ID)
	event.Data.Object.LastError = "authentication_failed"
	require.NoError(t, h.svc.HandleGatewayEvent(ctx, event))

	tx, err := h.repos.Transactions.GetByID(ctx, res.Transaction.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TransactionStatusFailed, tx.Status)
	require.Equal(t, "authentication_failed", tx.FailureReason)
	require.Equal(t, domain.EscrowStatusCreated, h.account(t, account.ID).Status)
}

func TestCaptureForFailedDepositFundsUnfundedAccount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account := h.createEscrow(t, "c-402", "300")

	_, err := h.svc.FundEscrow(ctx, manager(), application.FundEscrowInput{ContractID: "c-402", PaymentMethodRef: gatewayadapter.SandboxGatewayDown})
	require.ErrorIs(t, err, domain.ErrGateway)
	failed := failedDeposit(t, h, "c-402")

	require.NoError(t, h.svc.HandleGatewayEvent(ctx, webhookEvent("evt_late_1", "payment_intent.succeeded", "pi_late_1", failed.ID)))

	current := h.account(t, account.ID)
	require.Equal(t, domain.EscrowStatusFunded, current.Status)
	requireAmount(t, "300", current.HeldAmount)
	tx, err := h.repos.Transactions.GetByID(ctx, failed.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TransactionStatusCompleted, tx.Status)
	require.Equal(t, "pi_late_1", tx.GatewayRef)
	require.Empty(t, tx.FailureReason)
	require.Contains(t, h.auditActions(t, account.ID, domain.AuditOutcomeSucceeded), domain.AuditActionFunded)
	require.Contains(t, h.outboxEventTypes(t), domain.EventEscrowFunded)
}

func TestCaptureForFailedDepositOnFundedAccountIsAudited(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account := h.createEscrow(t, "c-403", "300")

	_, err := h.svc.FundEscrow(ctx, manager(), application.FundEscrowInput{ContractID: "c-403", PaymentMethodRef: gatewayadapter.SandboxGatewayDown})
	require.ErrorIs(t, err, domain.ErrGateway)
	failed := failedDeposit(t, h, "c-403")
	_, err = h.svc.FundEscrow(ctx, manager(), application.FundEscrowInput{ContractID: "c-403", PaymentMethodRef: gatewayadapter.SandboxCardOK})
	require.NoError(t, err)

	countRejectedFunding := func() int {
		n := 0
		for _, action := range h.auditActions(t, account.ID, domain.AuditOutcomeRejected) {
			if action == domain.AuditActionFunded {
				n++
			}
		}
		return n
	}
	require.Equal(t, 1, countRejectedFunding())

	event := webhookEvent("evt_late_2", "payment_intent.succeeded", "pi_late_2", failed.ID)
	require.NoError(t, h.svc.HandleGatewayEvent(ctx, event))
	require.NoError(t, h.svc.HandleGatewayEvent(ctx, event))
	require.Equal(t, 2, countRejectedFunding())

	current := h.account(t, account.ID)
	require.Equal(t, domain.EscrowStatusFunded, current.Status)
	requireAmount(t, "300", current.HeldAmount)
	tx, err := h.repos.Transactions.GetByID(ctx, failed.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TransactionStatusFailed, tx.Status)
}

func failedDeposit(t *testing.T, h *harness, contractID string) domain.Transaction {
	t.Helper()
	txs, err := h.svc.ListTransactions(context.Background(), manager(), contractID)
	require.NoError(t, err)
	for _, tx := range txs {
		if tx.Type == domain.TransactionTypeDeposit && tx.Status == domain.TransactionStatusFailed {
			return tx
		}
	}
	t.Fatalf("no failed deposit for %s", contractID)
	return domain.Transaction{}
}

func webhookEvent(id, eventType, intentRef, transactionID string) contracts.GatewayWebhookEvent {
	var event contracts.GatewayWebhookEvent
	event.ID = id
	event.Type = eventType
	event.Created = time.Now().Unix()
	event.Data.Object.ID = intentRef
	event.Data.Object.Object = "payment_intent"
	if transactionID != "" {
		event.Data.Object.Metadata = map[string]string{"transaction_id": transactionID}
	}
	return event
}

func TestReconcilePendingDeposits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	confirmed := h.createEscrow(t, "c-500", "100")
	abandoned := h.createEscrow(t, "c-501", "100")

	res, err := h.svc.FundEscrow(ctx, manager(), application.FundEscrowInput{ContractID: "c-500", PaymentMethodRef: gatewayadapter.SandboxCardProcessing})
	require.NoError(t, err)
	require.True(t, res.RequiresAction)
	_, err = h.svc.FundEscrow(ctx, manager(), application.FundEscrowInput{ContractID: "c-501", PaymentMethodRef: gatewayadapter.SandboxCardProcessing})
	require.NoError(t, err)

	n, err := h.svc.ReconcilePendingDeposits(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = h.gateway.Confirm(res.Transaction.GatewayRef)
	require.NoError(t, err)
	h.clock.Advance(20 * time.Minute)
	n, err = h.svc.ReconcilePendingDeposits(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, domain.EscrowStatusFunded, h.account(t, confirmed.ID).Status)

	h.clock.Advance(25 * time.Hour)
	n, err = h.svc.ReconcilePendingDeposits(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, domain.EscrowStatusCreated, h.account(t, abandoned.ID).Status)

	pending, err := h.repos.Transactions.FindPending(ctx, abandoned.ID, domain.TransactionTypeDeposit)
	require.NoError(t, err)
	require.Nil(t, pending)

	_, err = h.svc.FundEscrow(ctx, manager(), application.FundEscrowInput{ContractID: "c-501", PaymentMethodRef: gatewayadapter.SandboxCardOK})
	require.NoError(t, err)
}

func TestRefundFullAmountClosesEscrow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account := h.fundedEscrow(t, "c-600", "1000")

	_, err := h.svc.RefundFunds(ctx, manager(), application.RefundInput{ContractID: "c-600", Amount: amount("100")})
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	res, err := h.svc.RefundFunds(ctx, manager(), application.RefundInput{ContractID: "c-600", Amount: amount("1000"), Reason: "project cancelled"})
	require.NoError(t, err)
	require.Equal(t, domain.EscrowStatusRefunded, res.Account.Status)
	require.Equal(t, domain.TransactionStatusCompleted, res.Transaction.Status)
	require.NotEmpty(t, res.Transaction.GatewayRef)

	deposit := depositRef(t, h, account.ID)
	requireAmount(t, "1000", h.gateway.Refunded(deposit))
	require.Equal(t, []string{domain.ContractStatusActive, domain.ContractStatusCancelled}, h.contracts.StatusHistory("c-600"))
	require.Contains(t, h.notifier.kinds(managerID), domain.NotificationEscrowRefunded)

	_, err = h.svc.RefundFunds(ctx, admin(), application.RefundInput{ContractID: "c-600", Amount: amount("1"), Reason: "again"})
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestAdminMayRefundPartially(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fundedEscrow(t, "c-601", "1000")

	_, err := h.svc.ReleaseFunds(ctx, manager(), application.ReleaseInput{ContractID: "c-601", Amount: amount("300")})
	require.NoError(t, err)
	res, err := h.svc.RefundFunds(ctx, admin(), application.RefundInput{ContractID: "c-601", Amount: amount("200"), Reason: "scope reduced"})
	require.NoError(t, err)
	require.Equal(t, domain.EscrowStatusPartialRelease, res.Account.Status)
	requireAmount(t, "500", res.Account.Available())
}

func TestRefundGatewayFailureRestoresBalance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account := h.fundedEscrow(t, "c-602", "400")

	h.gateway.FailRefunds(&domain.GatewayError{Op: "create_refund", Code: "processing_error"})
	res, err := h.svc.RefundFunds(ctx, manager(), application.RefundInput{ContractID: "c-602", Amount: amount("150"), Reason: "overpaid"})
	require.ErrorIs(t, err, domain.ErrGateway)
	require.Equal(t, domain.TransactionStatusFailed, res.Transaction.Status)

	current := h.account(t, account.ID)
	require.Equal(t, domain.EscrowStatusFunded, current.Status)
	requireAmount(t, "0", current.RefundedAmount)
	requireAmount(t, "400", current.Available())
	require.Contains(t, h.auditActions(t, account.ID, domain.AuditOutcomeRejected), domain.AuditActionRefunded)

	h.gateway.FailRefunds(nil)
	_, err = h.svc.RefundFunds(ctx, manager(), application.RefundInput{ContractID: "c-602", Amount: amount("150"), Reason: "overpaid"})
	require.NoError(t, err)
	requireAmount(t, "250", h.account(t, account.ID).Available())
}

func depositRef(t *testing.T, h *harness, escrowID string) string {
	t.Helper()
	txs, err := h.repos.Transactions.ListByEscrowID(context.Background(), escrowID)
	require.NoError(t, err)
	for _, tx := range txs {
		if tx.Type == domain.TransactionTypeDeposit && tx.Status == domain.TransactionStatusCompleted {
			return tx.GatewayRef
		}
	}
	t.Fatalf("no completed deposit for %s", escrowID)
	return ""
}

func TestConcurrentReleasesNeverOverdraw(t *testing.T) {
	h := newHarness(t)
	account := h.fundedEscrow(t, "c-700", "1000")

	const workers = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.ReleaseFunds(context.Background(), manager(), application.ReleaseInput{ContractID: "c-700", Amount: amount("200")})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.True(t, errors.Is(err, domain.ErrInsufficientFunds) || errors.Is(err, domain.ErrInvalidState), "unexpected error: %v", err)
	}
	require.Equal(t, 5, succeeded)

	final := h.account(t, account.ID)
	requireAmount(t, "1000", final.ReleasedAmount)
	require.Equal(t, domain.EscrowStatusCompleted, final.Status)
}

func TestListEscrowsScopesToParty(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.createEscrow(t, "c-800", "100")
	h.fundedEscrow(t, "c-801", "100")

	page, err := h.svc.ListEscrows(ctx, manager(), application.ListEscrowsInput{})
	require.NoError(t, err)
	require.EqualValues(t, 2, page.Total)

	page, err = h.svc.ListEscrows(ctx, manager(), application.ListEscrowsInput{Status: domain.EscrowStatusFunded})
	require.NoError(t, err)
	require.EqualValues(t, 1, page.Total)

	page, err = h.svc.ListEscrows(ctx, application.Actor{SubjectID: "nobody"}, application.ListEscrowsInput{})
	require.NoError(t, err)
	require.Zero(t, page.Total)

	page, err = h.svc.ListEscrows(ctx, admin(), application.ListEscrowsInput{Limit: 1})
	require.NoError(t, err)
	require.EqualValues(t, 2, page.Total)
	require.Len(t, page.Items, 1)

	_, err = h.svc.ListEscrows(ctx, admin(), application.ListEscrowsInput{Status: "bogus"})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestContractAcceptedEventOpensEscrowOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.putContract("c-900", "640")

	data, err := json.Marshal(contracts.ContractAcceptedPayload{ContractID: "c-900"})
	require.NoError(t, err)
	envelope := contracts.EventEnvelope{
		EventID:       uuid.NewString(),
		EventType:     domain.EventContractAccepted,
		OccurredAt:    time.Now().UTC(),
		SourceService: "contract-service",
		TraceID:       "trace-1",
		SchemaVersion: "v1",
		Data:          data,
	}
	require.NoError(t, h.svc.HandleCanonicalEvent(ctx, envelope))
	require.NoError(t, h.svc.HandleCanonicalEvent(ctx, envelope))

	redelivered := envelope
	redelivered.EventID = uuid.NewString()
	require.NoError(t, h.svc.HandleCanonicalEvent(ctx, redelivered))

	details, err := h.svc.GetEscrowByContract(ctx, manager(), "c-900")
	require.NoError(t, err)
	require.Equal(t, domain.EscrowStatusCreated, details.Account.Status)

	other := envelope
	other.EventID = uuid.NewString()
	other.EventType = "contract.cancelled"
	require.ErrorIs(t, h.svc.HandleCanonicalEvent(ctx, other), domain.ErrUnsupportedEventType)

	broken := envelope
	broken.SchemaVersion = ""
	require.ErrorIs(t, h.svc.HandleCanonicalEvent(ctx, broken), domain.ErrInvalidEnvelope)
}
