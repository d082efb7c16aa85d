package application_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	cacheadapter "github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/adapters/cache"
	clientadapter "github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/adapters/clients"
	gatewayadapter "github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/adapters/gateway"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/adapters/postgres"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/application"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/domain"
)

const (
	managerID = "manager-1"
	talentID  = "talent-1"
	adminID   = "admin-1"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu    sync.Mutex
	items []domain.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, notification domain.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, notification)
}

func (n *recordingNotifier) kinds(userID string) []domain.NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []domain.NotificationKind
	for _, item := range n.items {
		if item.UserID == userID {
			out = append(out, item.Kind)
		}
	}
	return out
}

type harness struct {
	svc       *application.Service
	repos     postgres.Repositories
	gateway   *gatewayadapter.Sandbox
	contracts *clientadapter.StaticContracts
	users     *clientadapter.StaticUsers
	notifier  *recordingNotifier
	clock     *testClock
}

func newHarness(t *testing.T, tune ...func(*application.Config)) *harness {
	t.Helper()
	ctx := context.Background()
	db, err := postgres.OpenSQLite(ctx, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)

	cfg := application.Config{
		DefaultFeeRate:            decimal.NewFromInt(5),
		LockTimeout:               2 * time.Second,
		AutoReleaseDefaultEnabled: true,
		AutoReleaseDefaultDelay:   14 * 24 * time.Hour,
	}
	for _, fn := range tune {
		fn(&cfg)
	}

	h := &harness{
		repos:     postgres.NewRepositories(db),
		gateway:   gatewayadapter.NewSandbox(),
		contracts: clientadapter.NewStaticContracts(),
		users: clientadapter.NewStaticUsers(
			domain.UserProfile{UserID: managerID, Email: "manager@example.com", Name: "Manager", Rating: 4.8},
			domain.UserProfile{UserID: talentID, Email: "talent@example.com", Name: "Talent"},
		),
		notifier: &recordingNotifier{},
		clock:    &testClock{now: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)},
	}
	h.svc = application.NewService(application.Dependencies{
		Config:       cfg,
		Escrows:      h.repos.Escrows,
		Transactions: h.repos.Transactions,
		Audit:        h.repos.Audit,
		Commissions:  h.repos.Commissions,
		Idempotency:  h.repos.Idempotency,
		EventDedup:   h.repos.EventDedup,
		Gateway:      h.gateway,
		Contracts:    h.contracts,
		Users:        h.users,
		Notifier:     h.notifier,
		Locker:       cacheadapter.NewLocalAccountLocker(),
		Clock:        h.clock.Now,
	})
	t.Cleanup(func() {
		h.svc.Close()
		_ = sqlDB.Close()
	})
	return h
}

func manager() application.Actor {
	return application.Actor{SubjectID: managerID, Role: application.RoleManager, RequestID: uuid.NewString()}
}

func talent() application.Actor {
	return application.Actor{SubjectID: talentID, Role: application.RoleTalent, RequestID: uuid.NewString()}
}

func admin() application.Actor {
	return application.Actor{SubjectID: adminID, Role: application.RoleAdmin, RequestID: uuid.NewString()}
}

func amount(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (h *harness) putContract(contractID, total string) {
	h.contracts.Put(domain.Contract{
		ContractID:  contractID,
		ManagerID:   managerID,
		TalentID:    talentID,
		TotalAmount: amount(total),
		Currency:    "USD",
		Title:       "Brand campaign",
		Status:      domain.ContractStatusAccepted,
		JobCategory: "video",
	})
}

func (h *harness) createEscrow(t *testing.T, contractID, total string) domain.EscrowAccount {
	t.Helper()
	h.putContract(contractID, total)
	account, err := h.svc.CreateEscrow(context.Background(), manager(), application.CreateEscrowInput{ContractID: contractID})
	require.NoError(t, err)
	return account
}

func (h *harness) fundedEscrow(t *testing.T, contractID, total string) domain.EscrowAccount {
	t.Helper()
	h.createEscrow(t, contractID, total)
	res, err := h.svc.FundEscrow(context.Background(), manager(), application.FundEscrowInput{
		ContractID:       contractID,
		PaymentMethodRef: gatewayadapter.SandboxCardOK,
	})
	require.NoError(t, err)
	require.False(t, res.RequiresAction)
	require.Equal(t, domain.EscrowStatusFunded, res.Account.Status)
	return res.Account
}

func (h *harness) account(t *testing.T, escrowID string) domain.EscrowAccount {
	t.Helper()
	account, err := h.repos.Escrows.GetByID(context.Background(), escrowID)
	require.NoError(t, err)
	require.NoError(t, account.CheckInvariants())
	return account
}

func (h *harness) auditActions(t *testing.T, escrowID string, outcome domain.AuditOutcome) []domain.AuditAction {
	t.Helper()
	entries, err := h.repos.Audit.ListByEscrowID(context.Background(), escrowID, 500, 0)
	require.NoError(t, err)
	var out []domain.AuditAction
	for _, e := range entries {
		if e.Outcome == outcome {
			out = append(out, e.Action)
		}
	}
	return out
}

func (h *harness) outboxEventTypes(t *testing.T) []string {
	t.Helper()
	records, err := h.repos.Outbox.ClaimUnpublished(context.Background(), 500, uuid.NewString(), time.Now().Add(time.Minute))
	require.NoError(t, err)
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.EventType)
	}
	return out
}

func requireAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, got.Equal(amount(want)), "want %s got %s", want, got)
}
