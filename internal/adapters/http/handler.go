package http

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/adapters/gateway"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/application"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/contracts"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/domain"
)

type WebhookConfig struct {
	Secret    string
	Tolerance time.Duration
}

type Handler struct {
	service *application.Service
	webhook WebhookConfig
	nowFn   func() time.Time
}

func NewHandler(service *application.Service, webhook WebhookConfig) *Handler {
	if webhook.Tolerance <= 0 {
		webhook.Tolerance = 5 * time.Minute
	}
	return &Handler{service: service, webhook: webhook, nowFn: time.Now}
}

func (h *Handler) createEscrow(w http.ResponseWriter, r *http.Request) {
	var req contracts.CreateEscrowRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "create_escrow", err)
		return
	}
	actor := actorFromContext(r.Context())
	account, err := h.service.CreateEscrow(r.Context(), actor, application.CreateEscrowInput{ContractID: req.ContractID})
	if err != nil {
		writeMappedError(r.Context(), w, "create_escrow", err)
		return
	}
	writeSuccess(w, http.StatusCreated, "escrow created", toEscrowResponse(account, actor.IsAdmin()))
}

func (h *Handler) fundEscrow(w http.ResponseWriter, r *http.Request) {
	var req contracts.FundEscrowRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "fund_escrow", err)
		return
	}
	actor := actorFromContext(r.Context())
	res, err := h.service.FundEscrow(r.Context(), actor, application.FundEscrowInput{ContractID: req.ContractID, PaymentMethodRef: req.PaymentMethodRef})
	if err != nil {
		writeMappedError(r.Context(), w, "fund_escrow", err)
		return
	}
	resp := contracts.FundEscrowResponse{
		Escrow:         toEscrowResponse(res.Account, actor.IsAdmin()),
		Transaction:    toTransactionResponse(res.Transaction),
		RequiresAction: res.RequiresAction,
		ClientSecret:   res.ClientSecret,
		GatewayStatus:  res.GatewayStatus,
	}
	if res.RequiresAction {
		writeSuccess(w, http.StatusAccepted, "payment requires action", resp)
		return
	}
	writeSuccess(w, http.StatusOK, "escrow funded", resp)
}

func (h *Handler) releaseFunds(w http.ResponseWriter, r *http.Request) {
	var req contracts.ReleaseFundsRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "release_funds", err)
		return
	}
	actor := actorFromContext(r.Context())
	res, err := h.service.ReleaseFunds(r.Context(), actor, application.ReleaseInput{
		ContractID:  req.ContractID,
		Amount:      req.Amount,
		MilestoneID: req.MilestoneID,
		Notes:       req.Notes,
	})
	if err != nil {
		writeMappedError(r.Context(), w, "release_funds", err)
		return
	}
	writeSuccess(w, http.StatusOK, "funds released", toDisbursementResponse(res, actor.IsAdmin()))
}

func (h *Handler) refundFunds(w http.ResponseWriter, r *http.Request) {
	var req contracts.RefundFundsRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "refund_funds", err)
		return
	}
	actor := actorFromContext(r.Context())
	res, err := h.service.RefundFunds(r.Context(), actor, application.RefundInput{ContractID: req.ContractID, Amount: req.Amount, Reason: req.Reason})
	if err != nil {
		writeMappedError(r.Context(), w, "refund_funds", err)
		return
	}
	writeSuccess(w, http.StatusOK, "refund processed", toDisbursementResponse(res, actor.IsAdmin()))
}

func (h *Handler) getEscrowByContract(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	details, err := h.service.GetEscrowByContract(r.Context(), actor, chi.URLParam(r, "contract_id"))
	if err != nil {
		writeMappedError(r.Context(), w, "get_escrow", err)
		return
	}
	writeSuccess(w, http.StatusOK, "", contracts.EscrowDetailsResponse{
		Escrow:       toEscrowResponse(details.Account, actor.IsAdmin()),
		Transactions: toTransactionResponses(details.Transactions),
	})
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.service.ListTransactions(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "contract_id"))
	if err != nil {
		writeMappedError(r.Context(), w, "list_transactions", err)
		return
	}
	writeSuccess(w, http.StatusOK, "", toTransactionResponses(txs))
}

func (h *Handler) listEscrows(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	q := r.URL.Query()
	page, err := h.service.ListEscrows(r.Context(), actor, application.ListEscrowsInput{
		Status: domain.EscrowStatus(strings.TrimSpace(q.Get("status"))),
		Page:   parseIntDefault(q.Get("page"), 1),
		Limit:  parseIntDefault(q.Get("limit"), 20),
	})
	if err != nil {
		writeMappedError(r.Context(), w, "list_escrows", err)
		return
	}
	items := make([]contracts.EscrowResponse, 0, len(page.Items))
	for _, a := range page.Items {
		items = append(items, toEscrowResponse(a, actor.IsAdmin()))
	}
	writeSuccess(w, http.StatusOK, "", contracts.EscrowListResponse{Items: items, Total: page.Total, Page: page.Page, Limit: page.Limit})
}

func (h *Handler) previewFee(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	amount, err := decimal.NewFromString(strings.TrimSpace(q.Get("amount")))
	if err != nil {
		writeValidationError(r.Context(), w, "preview_fee", err)
		return
	}
	currency := domain.NormalizeCurrency(q.Get("currency"))
	preview, err := h.service.PreviewFee(r.Context(), actorFromContext(r.Context()),
		q.Get("user_id"), domain.UserType(strings.TrimSpace(q.Get("user_type"))), amount, currency, q.Get("job_category"))
	if err != nil {
		writeMappedError(r.Context(), w, "preview_fee", err)
		return
	}
	writeSuccess(w, http.StatusOK, "", contracts.FeePreviewResponse{
		SettingID:      preview.SettingID,
		CommissionType: string(preview.CommissionType),
		Amount:         money(preview.Amount, currency),
		Fee:            money(preview.Fee, currency),
		EffectiveRate:  preview.EffectiveRate.StringFixed(4),
		Currency:       currency,
	})
}

// gatewayWebhook verifies the signature over the raw body before decoding it.
func (h *Handler) gatewayWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeValidationError(r.Context(), w, "gateway_webhook", err)
		return
	}
	if err := gateway.VerifyWebhookSignature(body, r.Header.Get(gateway.SignatureHeader), h.webhook.Secret, h.webhook.Tolerance, h.nowFn()); err != nil {
		writeMappedError(r.Context(), w, "gateway_webhook", err)
		return
	}
	var event contracts.GatewayWebhookEvent
	if err := decodeJSON(body, &event); err != nil {
		writeValidationError(r.Context(), w, "gateway_webhook", err)
		return
	}
	if err := h.service.HandleGatewayEvent(r.Context(), event); err != nil {
		writeMappedError(r.Context(), w, "gateway_webhook", err)
		return
	}
	writeSuccess(w, http.StatusOK, "event received", map[string]bool{"received": true})
}
