package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	cacheadapter "github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/adapters/cache"
	clientadapter "github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/adapters/clients"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/adapters/gateway"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/adapters/postgres"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/application"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/contracts"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/domain"
)

const webhookSecret = "whsec_test"

type routerFixture struct {
	router    http.Handler
	handler   *Handler
	gateway   *gateway.Sandbox
	contracts *clientadapter.StaticContracts
}

func newRouterFixture(t *testing.T, cfg RouterConfig) *routerFixture {
	t.Helper()
	ctx := context.Background()
	db, err := postgres.OpenSQLite(ctx, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	repos := postgres.NewRepositories(db)

	f := &routerFixture{
		gateway:   gateway.NewSandbox(),
		contracts: clientadapter.NewStaticContracts(),
	}
	svc := application.NewService(application.Dependencies{
		Escrows:      repos.Escrows,
		Transactions: repos.Transactions,
		Audit:        repos.Audit,
		Commissions:  repos.Commissions,
		Idempotency:  repos.Idempotency,
		EventDedup:   repos.EventDedup,
		Gateway:      f.gateway,
		Contracts:    f.contracts,
		Users:        clientadapter.NewStaticUsers(),
		Locker:       cacheadapter.NewLocalAccountLocker(),
	})
	f.handler = NewHandler(svc, WebhookConfig{Secret: webhookSecret})
	f.router = NewRouter(f.handler, cfg)
	t.Cleanup(func() {
		svc.Close()
		_ = sqlDB.Close()
	})
	return f
}

func (f *routerFixture) putContract(contractID, total string) {
	f.contracts.Put(domain.Contract{
		ContractID:  contractID,
		ManagerID:   "manager-1",
		TalentID:    "talent-1",
		TotalAmount: decimal.RequireFromString(total),
		Currency:    "USD",
		Status:      domain.ContractStatusAccepted,
	})
}

func (f *routerFixture) do(t *testing.T, method, path, subject, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	if subject != "" {
		req.Header.Set("Authorization", "Bearer "+subject)
	}
	if role != "" {
		req.Header.Set("X-Actor-Role", role)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decodeData[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var envelope struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &envelope), rr.Body.String())
	require.Equal(t, "success", envelope.Status)
	var out T
	require.NoError(t, json.Unmarshal(envelope.Data, &out))
	return out
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) contracts.ErrorResponse {
	t.Helper()
	var out contracts.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestEscrowLifecycleOverHTTP(t *testing.T) {
	f := newRouterFixture(t, RouterConfig{})
	f.putContract("c-1", "1000")

	rr := f.do(t, http.MethodPost, "/escrow/create", "manager-1", "manager", contracts.CreateEscrowRequest{ContractID: "c-1"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decodeData[contracts.EscrowResponse](t, rr)
	require.Equal(t, "created", created.Status)
	require.Equal(t, "1000.00", created.TotalAmount)
	require.Equal(t, "50.00", created.PlatformFeeAmount)
	require.Nil(t, created.Compliance)

	rr = f.do(t, http.MethodPost, "/escrow/fund", "manager-1", "manager", contracts.FundEscrowRequest{ContractID: "c-1", PaymentMethodRef: gateway.SandboxCardOK})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	funded := decodeData[contracts.FundEscrowResponse](t, rr)
	require.False(t, funded.RequiresAction)
	require.Equal(t, "funded", funded.Escrow.Status)
	require.Equal(t, "1000.00", funded.Escrow.HeldAmount)
	require.Equal(t, "completed", funded.Transaction.Status)

	rr = f.do(t, http.MethodPost, "/escrow/release", "manager-1", "manager", map[string]any{"contract_id": "c-1", "amount": "400", "milestone_id": "m-1"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	released := decodeData[contracts.DisbursementResponse](t, rr)
	require.Equal(t, "partial_release", released.Escrow.Status)
	require.Equal(t, "600.00", released.Escrow.AvailableBalance)
	require.Equal(t, "m-1", released.Transaction.MilestoneID)

	rr = f.do(t, http.MethodGet, "/escrow/contract/c-1", "talent-1", "talent", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	details := decodeData[contracts.EscrowDetailsResponse](t, rr)
	require.Len(t, details.Transactions, 2)

	rr = f.do(t, http.MethodGet, "/escrow/contract/c-1/transactions", "stranger", "manager", nil)
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = f.do(t, http.MethodGet, "/escrow?status=partial_release", "manager-1", "manager", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	list := decodeData[contracts.EscrowListResponse](t, rr)
	require.EqualValues(t, 1, list.Total)
}

func TestErrorBodiesCarryRequestID(t *testing.T) {
	f := newRouterFixture(t, RouterConfig{})
	f.putContract("c-2", "100")

	req := httptest.NewRequest(http.MethodPost, "/escrow/create", bytes.NewReader([]byte(`{"contract_id":"c-2"}`)))
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "unauthorized", decodeError(t, rr).Error)

	req = httptest.NewRequest(http.MethodPost, "/escrow/create", bytes.NewReader([]byte(`{"contract_id":"c-2","extra":1}`)))
	req.Header.Set("Authorization", "Bearer manager-1")
	req.Header.Set("X-Request-Id", "req-42")
	rr = httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	body := decodeError(t, rr)
	require.Equal(t, "validation_error", body.Error)
	require.NotEmpty(t, body.Details)
	require.Equal(t, "req-42", body.RequestID)
	require.Equal(t, "req-42", rr.Header().Get("X-Request-Id"))

	rr = f.do(t, http.MethodPost, "/escrow/release", "manager-1", "manager", map[string]any{"contract_id": "missing", "amount": "1"})
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "not_found", decodeError(t, rr).Error)
	require.NotEmpty(t, decodeError(t, rr).RequestID)
}

func TestMoneyErrorsMapToStatusCodes(t *testing.T) {
	f := newRouterFixture(t, RouterConfig{})
	f.putContract("c-3", "100")
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/escrow/create", "manager-1", "manager", contracts.CreateEscrowRequest{ContractID: "c-3"}).Code)

	rr := f.do(t, http.MethodPost, "/escrow/fund", "manager-1", "manager", contracts.FundEscrowRequest{ContractID: "c-3", PaymentMethodRef: gateway.SandboxCardDeclined})
	require.Equal(t, http.StatusPaymentRequired, rr.Code, rr.Body.String())
	require.Equal(t, "payment_failed", decodeError(t, rr).Error)

	rr = f.do(t, http.MethodPost, "/escrow/fund", "manager-1", "manager", contracts.FundEscrowRequest{ContractID: "c-3", PaymentMethodRef: gateway.SandboxGatewayDown})
	require.Equal(t, http.StatusServiceUnavailable, rr.Code, rr.Body.String())
	require.Equal(t, "gateway_unavailable", decodeError(t, rr).Error)

	rr = f.do(t, http.MethodPost, "/escrow/fund", "manager-1", "manager", contracts.FundEscrowRequest{ContractID: "c-3", PaymentMethodRef: gateway.SandboxCardOK})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = f.do(t, http.MethodPost, "/escrow/release", "manager-1", "manager", map[string]any{"contract_id": "c-3", "amount": "150"})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Equal(t, "insufficient_funds", decodeError(t, rr).Error)

	rr = f.do(t, http.MethodPost, "/escrow/release", "talent-1", "talent", map[string]any{"contract_id": "c-3", "amount": "10"})
	require.Equal(t, http.StatusForbidden, rr.Code)

	created := decodeData[contracts.EscrowDetailsResponse](t, f.do(t, http.MethodGet, "/escrow/contract/c-3", "manager-1", "manager", nil))
	adminPath := "/admin/escrow/" + created.Escrow.EscrowID

	rr = f.do(t, http.MethodPost, adminPath+"/freeze", "manager-1", "manager", contracts.AdminReasonRequest{Reason: "fraud"})
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = f.do(t, http.MethodPost, adminPath+"/freeze", "admin-1", "admin", contracts.AdminReasonRequest{Reason: "fraud review"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	frozen := decodeData[contracts.EscrowResponse](t, rr)
	require.True(t, frozen.AdminControls.IsFrozen)
	require.NotNil(t, frozen.Compliance)

	rr = f.do(t, http.MethodPost, "/escrow/release", "manager-1", "manager", map[string]any{"contract_id": "c-3", "amount": "10"})
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "invalid_state", decodeError(t, rr).Error)

	rr = f.do(t, http.MethodGet, adminPath+"/audit", "admin-1", "admin", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	audit := decodeData[[]contracts.AuditEntryResponse](t, rr)
	require.NotEmpty(t, audit)
}

func TestSignedWebhookSettlesDeposit(t *testing.T) {
	f := newRouterFixture(t, RouterConfig{})
	f.putContract("c-4", "250")
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/escrow/create", "manager-1", "manager", contracts.CreateEscrowRequest{ContractID: "c-4"}).Code)

	rr := f.do(t, http.MethodPost, "/escrow/fund", "manager-1", "manager", contracts.FundEscrowRequest{ContractID: "c-4", PaymentMethodRef: gateway.SandboxCardRequiresAction})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	pending := decodeData[contracts.FundEscrowResponse](t, rr)
	require.True(t, pending.RequiresAction)
	require.NotEmpty(t, pending.ClientSecret)

	_, err := f.gateway.Confirm(pending.Transaction.GatewayRef)
	require.NoError(t, err)

	var event contracts.GatewayWebhookEvent
	event.ID = "evt_http_1"
	event.Type = "payment_intent.succeeded"
	event.Created = time.Now().Unix()
	event.Data.Object.ID = pending.Transaction.GatewayRef
	event.Data.Object.Object = "payment_intent"
	event.Data.Object.Metadata = map[string]string{"transaction_id": pending.Transaction.TransactionID}
	body, err := json.Marshal(event)
	require.NoError(t, err)

	send := func(signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", bytes.NewReader(body))
		if signature != "" {
			req.Header.Set(gateway.SignatureHeader, signature)
		}
		rr := httptest.NewRecorder()
		f.router.ServeHTTP(rr, req)
		return rr
	}

	rr = send("")
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "invalid_signature", decodeError(t, rr).Error)

	rr = send(gateway.SignWebhook(body, "wrong-secret", time.Now()))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = send(gateway.SignWebhook(body, webhookSecret, time.Now().Add(-time.Hour)))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	signature := gateway.SignWebhook(body, webhookSecret, time.Now())
	require.Equal(t, http.StatusOK, send(signature).Code)
	require.Equal(t, http.StatusOK, send(signature).Code)

	details := decodeData[contracts.EscrowDetailsResponse](t, f.do(t, http.MethodGet, "/escrow/contract/c-4", "manager-1", "manager", nil))
	require.Equal(t, "funded", details.Escrow.Status)
	require.Equal(t, "250.00", details.Escrow.HeldAmount)
}

func TestMoneyRoutesAreRateLimitedPerSubject(t *testing.T) {
	f := newRouterFixture(t, RouterConfig{MoneyRatePerSecond: 0.001, MoneyBurst: 1})

	body := map[string]any{"contract_id": "missing", "amount": "1"}
	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/escrow/release", "manager-1", "manager", body).Code)

	rr := f.do(t, http.MethodPost, "/escrow/release", "manager-1", "manager", body)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.Equal(t, "1", rr.Header().Get("Retry-After"))
	require.Equal(t, "rate_limited", decodeError(t, rr).Error)

	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/escrow/release", "manager-2", "manager", body).Code)
	// Reads are not limited.
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/escrow", "manager-1", "manager", nil).Code)
}

func TestHealthAndReadiness(t *testing.T) {
	f := newRouterFixture(t, RouterConfig{})
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", "", "", nil).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/readyz", "", "", nil).Code)

	down := newRouterFixture(t, RouterConfig{Ready: func(context.Context) error { return errors.New("db down") }})
	rr := down.do(t, http.MethodGet, "/readyz", "", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Equal(t, "not_ready", decodeError(t, rr).Error)
}

func TestSystemRoleCannotBeClaimedOverHTTP(t *testing.T) {
	f := newRouterFixture(t, RouterConfig{})
	f.putContract("c-5", "100")
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/escrow/create", "manager-1", "manager", contracts.CreateEscrowRequest{ContractID: "c-5"}).Code)

	rr := f.do(t, http.MethodGet, "/escrow/contract/c-5", "intruder", application.RoleSystem, nil)
	require.Equal(t, http.StatusForbidden, rr.Code)
}
