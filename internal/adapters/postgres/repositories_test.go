package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/domain"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/ports"
)

var repoNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestRepositories(t *testing.T) Repositories {
	t.Helper()
	db, err := OpenSQLite(context.Background(), "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return NewRepositories(db)
}

func sampleAccount(contractID string) domain.EscrowAccount {
	return domain.EscrowAccount{
		ID:                    uuid.NewString(),
		ContractID:            contractID,
		ManagerID:             "m-1",
		TalentID:              "t-1",
		TotalAmount:           decimal.RequireFromString("1500.50"),
		Currency:              "USD",
		Status:                domain.EscrowStatusCreated,
		PlatformFeePercentage: decimal.RequireFromString("5"),
		PlatformFeeAmount:     decimal.RequireFromString("75.03"),
		CommissionType:        domain.CommissionTypePercentage,
		AdminControls: domain.AdminControls{
			AutoReleaseEnabled: true,
			AutoReleaseDelay:   72 * time.Hour,
			PriorityLevel:      domain.PriorityNormal,
			AdminNotes:         []string{"first"},
		},
		CreatedAt: repoNow,
		UpdatedAt: repoNow,
	}
}

func pendingDeposit(escrowID string, createdAt time.Time) domain.Transaction {
	return domain.Transaction{
		ID:                uuid.NewString(),
		EscrowID:          escrowID,
		Type:              domain.TransactionTypeDeposit,
		Amount:            decimal.RequireFromString("1575.53"),
		Currency:          "USD",
		IdempotencyKey:    "dep-" + uuid.NewString(),
		Status:            domain.TransactionStatusPending,
		PlatformFeeAmount: decimal.RequireFromString("75.03"),
		CreatedAt:         createdAt,
	}
}

func TestEscrowCreateAndRoundTrip(t *testing.T) {
	repos := newTestRepositories(t)
	ctx := context.Background()
	account := sampleAccount("c-1")

	audit := domain.AuditEntry{ID: uuid.NewString(), EscrowID: account.ID, Action: domain.AuditActionCreated, PerformedBy: "m-1", Outcome: domain.AuditOutcomeSucceeded, Metadata: map[string]any{"k": "v"}, Timestamp: repoNow}
	event := ports.OutboxEvent{EventID: uuid.NewString(), EventType: domain.EventEscrowCreated, PartitionKey: account.ID, Payload: []byte(`{"escrow_id":"x"}`), OccurredAt: repoNow}
	require.NoError(t, repos.Escrows.Create(ctx, account, ports.LedgerChange{Audit: []domain.AuditEntry{audit}, Outbox: []ports.OutboxEvent{event}}))

	got, err := repos.Escrows.GetByContractID(ctx, "c-1")
	require.NoError(t, err)
	require.Equal(t, account.ID, got.ID)
	require.Equal(t, int64(1), got.Version)
	require.True(t, got.TotalAmount.Equal(account.TotalAmount))
	require.True(t, got.PlatformFeeAmount.Equal(account.PlatformFeeAmount))
	require.Equal(t, 72*time.Hour, got.AdminControls.AutoReleaseDelay)
	require.Equal(t, []string{"first"}, got.AdminControls.AdminNotes)
	require.Equal(t, domain.PriorityNormal, got.AdminControls.PriorityLevel)

	entries, err := repos.Audit.ListByEscrowID(ctx, account.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "v", entries[0].Metadata["k"])

	dup := sampleAccount("c-1")
	require.ErrorIs(t, repos.Escrows.Create(ctx, dup, ports.LedgerChange{}), domain.ErrConflict)

	_, err = repos.Escrows.GetByID(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCommitRejectsStaleVersion(t *testing.T) {
	repos := newTestRepositories(t)
	ctx := context.Background()
	account := sampleAccount("c-2")
	require.NoError(t, repos.Escrows.Create(ctx, account, ports.LedgerChange{}))

	first, err := repos.Escrows.GetByID(ctx, account.ID)
	require.NoError(t, err)
	second := first

	require.NoError(t, first.ApplyDeposit(repoNow))
	require.NoError(t, repos.Escrows.Commit(ctx, ports.LedgerChange{Account: &first}))
	require.Equal(t, int64(2), first.Version)

	second.AdminControls.PriorityLevel = domain.PriorityHigh
	err = repos.Escrows.Commit(ctx, ports.LedgerChange{Account: &second})
	require.ErrorIs(t, err, domain.ErrConcurrencyConflict)

	stored, err := repos.Escrows.GetByID(ctx, account.ID)
	require.NoError(t, err)
	require.Equal(t, domain.EscrowStatusFunded, stored.Status)
	require.Equal(t, domain.PriorityNormal, stored.AdminControls.PriorityLevel)
}

func TestCommitIsAtomic(t *testing.T) {
	repos := newTestRepositories(t)
	ctx := context.Background()
	account := sampleAccount("c-3")
	require.NoError(t, repos.Escrows.Create(ctx, account, ports.LedgerChange{}))

	loaded, err := repos.Escrows.GetByID(ctx, account.ID)
	require.NoError(t, err)
	require.NoError(t, loaded.ApplyDeposit(repoNow))

	// Updating an unknown transaction fails the whole change.
	err = repos.Escrows.Commit(ctx, ports.LedgerChange{
		Account:             &loaded,
		UpdatedTransactions: []domain.Transaction{{ID: "ghost", Status: domain.TransactionStatusCompleted}},
	})
	require.ErrorIs(t, err, domain.ErrNotFound)

	stored, err := repos.Escrows.GetByID(ctx, account.ID)
	require.NoError(t, err)
	require.Equal(t, domain.EscrowStatusCreated, stored.Status)
	require.Equal(t, int64(1), stored.Version)

	broken := stored
	broken.ReleasedAmount = stored.TotalAmount.Add(decimal.NewFromInt(1))
	require.ErrorIs(t, repos.Escrows.Commit(ctx, ports.LedgerChange{Account: &broken}), domain.ErrInvalidState)
}

func TestOnlyOnePendingDepositPerAccount(t *testing.T) {
	repos := newTestRepositories(t)
	ctx := context.Background()
	account := sampleAccount("c-4")
	require.NoError(t, repos.Escrows.Create(ctx, account, ports.LedgerChange{}))

	first := pendingDeposit(account.ID, repoNow)
	require.NoError(t, repos.Escrows.Commit(ctx, ports.LedgerChange{NewTransactions: []domain.Transaction{first}}))
	err := repos.Escrows.Commit(ctx, ports.LedgerChange{NewTransactions: []domain.Transaction{pendingDeposit(account.ID, repoNow)}})
	require.ErrorIs(t, err, domain.ErrConflict)

	pending, err := repos.Transactions.FindPending(ctx, account.ID, domain.TransactionTypeDeposit)
	require.NoError(t, err)
	require.NotNil(t, pending)
	require.Equal(t, first.ID, pending.ID)

	first.Fail("card_declined", repoNow)
	require.NoError(t, repos.Escrows.Commit(ctx, ports.LedgerChange{UpdatedTransactions: []domain.Transaction{first}}))
	require.NoError(t, repos.Escrows.Commit(ctx, ports.LedgerChange{NewTransactions: []domain.Transaction{pendingDeposit(account.ID, repoNow)}}))

	failed, err := repos.Transactions.GetByID(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TransactionStatusFailed, failed.Status)
	require.Equal(t, "card_declined", failed.FailureReason)
	require.NotNil(t, failed.ProcessedAt)
}

func TestTransactionLookups(t *testing.T) {
	repos := newTestRepositories(t)
	ctx := context.Background()
	account := sampleAccount("c-5")
	require.NoError(t, repos.Escrows.Create(ctx, account, ports.LedgerChange{}))

	old := pendingDeposit(account.ID, repoNow.Add(-time.Hour))
	old.GatewayRef = "pi_old"
	require.NoError(t, repos.Escrows.Commit(ctx, ports.LedgerChange{NewTransactions: []domain.Transaction{old}}))

	byRef, err := repos.Transactions.GetByGatewayRef(ctx, "pi_old")
	require.NoError(t, err)
	require.Equal(t, old.ID, byRef.ID)
	require.True(t, byRef.Amount.Equal(old.Amount))

	stale, err := repos.Transactions.ListStalePending(ctx, domain.TransactionTypeDeposit, repoNow.Add(-30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	stale, err = repos.Transactions.ListStalePending(ctx, domain.TransactionTypeDeposit, repoNow.Add(-2*time.Hour), 10)
	require.NoError(t, err)
	require.Empty(t, stale)

	_, err = repos.Transactions.GetByGatewayRef(ctx, "pi_missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListFiltersAndDueAutoRelease(t *testing.T) {
	repos := newTestRepositories(t)
	ctx := context.Background()

	due := sampleAccount("c-6")
	require.NoError(t, repos.Escrows.Create(ctx, due, ports.LedgerChange{}))
	loaded, err := repos.Escrows.GetByID(ctx, due.ID)
	require.NoError(t, err)
	require.NoError(t, loaded.ApplyDeposit(repoNow))
	require.NoError(t, repos.Escrows.Commit(ctx, ports.LedgerChange{Account: &loaded}))

	other := sampleAccount("c-7")
	other.ManagerID, other.TalentID = "m-2", "t-2"
	require.NoError(t, repos.Escrows.Create(ctx, other, ports.LedgerChange{}))

	items, total, err := repos.Escrows.List(ctx, ports.EscrowFilter{PartyUserID: "t-1"})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Equal(t, due.ID, items[0].ID)

	_, total, err = repos.Escrows.List(ctx, ports.EscrowFilter{Status: domain.EscrowStatusCreated})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)

	accounts, err := repos.Escrows.ListDueAutoRelease(ctx, repoNow.Add(24*time.Hour), 10)
	require.NoError(t, err)
	require.Empty(t, accounts)
	accounts, err = repos.Escrows.ListDueAutoRelease(ctx, repoNow.Add(73*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Equal(t, due.ID, accounts[0].ID)
}

func TestIdempotencyLifecycle(t *testing.T) {
	repos := newTestRepositories(t)
	ctx := context.Background()

	rec, err := repos.Idempotency.Get(ctx, "k1", repoNow)
	require.NoError(t, err)
	require.Nil(t, rec)

	require.NoError(t, repos.Idempotency.Reserve(ctx, "k1", "hash-a", repoNow.Add(time.Hour)))
	require.ErrorIs(t, repos.Idempotency.Reserve(ctx, "k1", "hash-a", repoNow.Add(time.Hour)), domain.ErrConflict)

	rec, err = repos.Idempotency.Get(ctx, "k1", repoNow)
	require.NoError(t, err)
	require.Equal(t, "hash-a", rec.RequestHash)
	require.Empty(t, rec.ResponseBody)

	require.NoError(t, repos.Idempotency.Complete(ctx, "k1", 200, []byte(`{"ok":true}`), repoNow))
	rec, err = repos.Idempotency.Get(ctx, "k1", repoNow)
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(rec.ResponseBody))

	// Completed keys survive Release; pending ones do not.
	require.NoError(t, repos.Idempotency.Release(ctx, "k1"))
	rec, err = repos.Idempotency.Get(ctx, "k1", repoNow)
	require.NoError(t, err)
	require.NotNil(t, rec)

	rec, err = repos.Idempotency.Get(ctx, "k1", repoNow.Add(2*time.Hour))
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestEventDedupExpires(t *testing.T) {
	repos := newTestRepositories(t)
	ctx := context.Background()

	dup, err := repos.EventDedup.IsDuplicate(ctx, "evt-1", repoNow)
	require.NoError(t, err)
	require.False(t, dup)

	require.NoError(t, repos.EventDedup.MarkProcessed(ctx, "evt-1", "payment_intent.succeeded", repoNow.Add(time.Hour)))
	require.NoError(t, repos.EventDedup.MarkProcessed(ctx, "evt-1", "payment_intent.succeeded", repoNow.Add(time.Hour)))

	dup, err = repos.EventDedup.IsDuplicate(ctx, "evt-1", repoNow)
	require.NoError(t, err)
	require.True(t, dup)
	dup, err = repos.EventDedup.IsDuplicate(ctx, "evt-1", repoNow.Add(2*time.Hour))
	require.NoError(t, err)
	require.False(t, dup)
}

func TestOutboxClaimAndMark(t *testing.T) {
	repos := newTestRepositories(t)
	ctx := context.Background()
	account := sampleAccount("c-8")
	events := []ports.OutboxEvent{
		{EventID: uuid.NewString(), EventType: domain.EventEscrowCreated, PartitionKey: account.ID, Payload: []byte(`{}`), OccurredAt: repoNow},
		{EventID: uuid.NewString(), EventType: domain.EventEscrowFunded, PartitionKey: account.ID, Payload: []byte(`{}`), OccurredAt: repoNow.Add(time.Second)},
	}
	require.NoError(t, repos.Escrows.Create(ctx, account, ports.LedgerChange{Outbox: events}))

	claimed, err := repos.Outbox.ClaimUnpublished(ctx, 10, "worker-a", time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	require.Equal(t, domain.EventEscrowCreated, claimed[0].EventType)

	again, err := repos.Outbox.ClaimUnpublished(ctx, 10, "worker-b", time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Empty(t, again)

	require.NoError(t, repos.Outbox.MarkPublished(ctx, claimed[0].OutboxID, "worker-a", repoNow))
	require.NoError(t, repos.Outbox.MarkFailed(ctx, claimed[1].OutboxID, "worker-a", "broker down", repoNow))

	retry, err := repos.Outbox.ClaimUnpublished(ctx, 10, "worker-b", time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, retry, 1)
	require.Equal(t, 1, retry[0].RetryCount)
	require.NotNil(t, retry[0].LastError)

	require.NoError(t, repos.Outbox.MarkDeadLettered(ctx, retry[0].OutboxID, "worker-b", "poison", repoNow))
	left, err := repos.Outbox.ClaimUnpublished(ctx, 10, "worker-c", time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Empty(t, left)
}

func TestCommissionSettingsAndPromotionClaims(t *testing.T) {
	repos := newTestRepositories(t)
	ctx := context.Background()
	maxFee := decimal.RequireFromString("250")
	setting := domain.CommissionSetting{
		ID:                uuid.NewString(),
		Name:              "promo",
		UserType:          domain.UserTypeManager,
		CommissionType:    domain.CommissionTypePercentage,
		BaseRate:          decimal.RequireFromString("2.5"),
		MaximumCommission: &maxFee,
		AppliesTo:         domain.CommissionScope{JobCategories: []string{"video"}},
		Conditions:        domain.CommissionConditions{Enabled: true, ExcludedUsers: []string{"blocked"}},
		Promotional:       domain.Promotion{IsPromotional: true, MaxUsers: 2},
		Priority:          3,
		CreatedAt:         repoNow,
		UpdatedAt:         repoNow,
	}
	require.NoError(t, repos.Commissions.Create(ctx, setting))

	both := setting
	both.ID = uuid.NewString()
	both.UserType = domain.UserTypeBoth
	both.Promotional = domain.Promotion{}
	both.Conditions.Enabled = false
	require.NoError(t, repos.Commissions.Create(ctx, both))

	got, err := repos.Commissions.GetByID(ctx, setting.ID)
	require.NoError(t, err)
	require.True(t, got.BaseRate.Equal(setting.BaseRate))
	require.NotNil(t, got.MaximumCommission)
	require.True(t, got.MaximumCommission.Equal(maxFee))
	require.Nil(t, got.MinimumCommission)
	require.Equal(t, []string{"video"}, got.AppliesTo.JobCategories)
	require.Equal(t, []string{"blocked"}, got.Conditions.ExcludedUsers)

	all, err := repos.Commissions.List(ctx, ports.CommissionSettingFilter{UserType: domain.UserTypeManager})
	require.NoError(t, err)
	require.Len(t, all, 2)
	enabled, err := repos.Commissions.List(ctx, ports.CommissionSettingFilter{UserType: domain.UserTypeManager, EnabledOnly: true})
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	talents, err := repos.Commissions.List(ctx, ports.CommissionSettingFilter{UserType: domain.UserTypeTalent})
	require.NoError(t, err)
	require.Len(t, talents, 1)

	for _, user := range []string{"u-1", "u-1", "u-2"} {
		ok, err := repos.Commissions.ClaimPromotionalSlot(ctx, setting.ID, user, repoNow)
		require.NoError(t, err)
		require.True(t, ok, user)
	}
	ok, err := repos.Commissions.ClaimPromotionalSlot(ctx, setting.ID, "u-3", repoNow)
	require.NoError(t, err)
	require.False(t, ok)

	got, err = repos.Commissions.GetByID(ctx, setting.ID)
	require.NoError(t, err)
	require.Equal(t, 2, got.Promotional.CurrentUsers)

	missing := setting
	missing.ID = "nope"
	require.ErrorIs(t, repos.Commissions.Update(ctx, missing), domain.ErrNotFound)
}
