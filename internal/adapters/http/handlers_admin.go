package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/application"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/contracts"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/domain"
)

func escrowIDParam(r *http.Request) string { return chi.URLParam(r, "escrow_id") }

func (h *Handler) freezeEscrow(w http.ResponseWriter, r *http.Request) {
	var req contracts.AdminReasonRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "admin_freeze", err)
		return
	}
	account, err := h.service.Freeze(r.Context(), actorFromContext(r.Context()), escrowIDParam(r), req.Reason)
	h.writeAdminResult(w, r, "admin_freeze", "escrow frozen", account, err)
}

func (h *Handler) unfreezeEscrow(w http.ResponseWriter, r *http.Request) {
	var req contracts.AdminReasonRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "admin_unfreeze", err)
		return
	}
	account, err := h.service.Unfreeze(r.Context(), actorFromContext(r.Context()), escrowIDParam(r), req.Reason)
	h.writeAdminResult(w, r, "admin_unfreeze", "escrow unfrozen", account, err)
}

func (h *Handler) setDisputeMode(w http.ResponseWriter, r *http.Request) {
	var req contracts.DisputeModeRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "admin_dispute", err)
		return
	}
	account, err := h.service.SetDisputeMode(r.Context(), actorFromContext(r.Context()), escrowIDParam(r), req.Enabled, req.Reason)
	h.writeAdminResult(w, r, "admin_dispute", "dispute mode updated", account, err)
}

func (h *Handler) resolveDispute(w http.ResponseWriter, r *http.Request) {
	var req contracts.ResolveDisputeRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "admin_resolve_dispute", err)
		return
	}
	account, err := h.service.ResolveDispute(r.Context(), actorFromContext(r.Context()), application.ResolveDisputeInput{
		EscrowID: escrowIDParam(r),
		Outcome:  domain.DisputeOutcome(req.Outcome),
		Reason:   req.Reason,
	})
	h.writeAdminResult(w, r, "admin_resolve_dispute", "dispute resolved", account, err)
}

func (h *Handler) emergencyRelease(w http.ResponseWriter, r *http.Request) {
	var req contracts.EmergencyReleaseRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "admin_emergency_release", err)
		return
	}
	res, err := h.service.EmergencyRelease(r.Context(), actorFromContext(r.Context()), application.EmergencyReleaseInput{
		EscrowID:  escrowIDParam(r),
		Amount:    req.Amount,
		Reason:    req.Reason,
		Recipient: req.Recipient,
	})
	if err != nil {
		writeMappedError(r.Context(), w, "admin_emergency_release", err)
		return
	}
	writeSuccess(w, http.StatusOK, "emergency release processed", toDisbursementResponse(res, true))
}

func (h *Handler) adjustFee(w http.ResponseWriter, r *http.Request) {
	var req contracts.AdjustFeeRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "admin_adjust_fee", err)
		return
	}
	account, err := h.service.AdjustPlatformFee(r.Context(), actorFromContext(r.Context()), escrowIDParam(r), req.Percentage, req.Reason)
	h.writeAdminResult(w, r, "admin_adjust_fee", "platform fee adjusted", account, err)
}

func (h *Handler) addNote(w http.ResponseWriter, r *http.Request) {
	var req contracts.AdminNoteRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "admin_add_note", err)
		return
	}
	account, err := h.service.AddAdminNote(r.Context(), actorFromContext(r.Context()), escrowIDParam(r), req.Note)
	h.writeAdminResult(w, r, "admin_add_note", "note added", account, err)
}

func (h *Handler) updateCompliance(w http.ResponseWriter, r *http.Request) {
	var req contracts.ComplianceRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "admin_update_compliance", err)
		return
	}
	account, err := h.service.UpdateComplianceStatus(r.Context(), actorFromContext(r.Context()), application.ComplianceInput{
		EscrowID:         escrowIDParam(r),
		KYCVerified:      req.KYCVerified,
		AMLChecked:       req.AMLChecked,
		SanctionsCleared: req.SanctionsCleared,
		RiskScore:        req.RiskScore,
		Notes:            req.Notes,
		Reason:           req.Reason,
	})
	h.writeAdminResult(w, r, "admin_update_compliance", "compliance updated", account, err)
}

func (h *Handler) configureAutoRelease(w http.ResponseWriter, r *http.Request) {
	var req contracts.AutoReleaseRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "admin_configure_auto_release", err)
		return
	}
	account, err := h.service.ConfigureAutoRelease(r.Context(), actorFromContext(r.Context()), application.AutoReleaseInput{
		EscrowID:   escrowIDParam(r),
		Enabled:    req.Enabled,
		DelayHours: req.DelayHours,
		Reason:     req.Reason,
	})
	h.writeAdminResult(w, r, "admin_configure_auto_release", "auto-release configured", account, err)
}

func (h *Handler) updateControls(w http.ResponseWriter, r *http.Request) {
	var req contracts.ControlsRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "admin_update_controls", err)
		return
	}
	input := application.ControlsInput{
		EscrowID:               escrowIDParam(r),
		RequiresManualApproval: req.RequiresManualApproval,
		Reason:                 req.Reason,
	}
	if req.PriorityLevel != nil {
		level := domain.PriorityLevel(*req.PriorityLevel)
		input.PriorityLevel = &level
	}
	account, err := h.service.UpdateControls(r.Context(), actorFromContext(r.Context()), input)
	h.writeAdminResult(w, r, "admin_update_controls", "controls updated", account, err)
}

func (h *Handler) getEscrowAdmin(w http.ResponseWriter, r *http.Request) {
	account, err := h.service.GetEscrow(r.Context(), actorFromContext(r.Context()), escrowIDParam(r))
	h.writeAdminResult(w, r, "admin_get_escrow", "", account, err)
}

func (h *Handler) listAuditTrail(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	entries, err := h.service.ListAuditTrail(r.Context(), actor, escrowIDParam(r),
		parseIntDefault(r.URL.Query().Get("limit"), 100), parseIntDefault(r.URL.Query().Get("offset"), 0))
	if err != nil {
		writeMappedError(r.Context(), w, "admin_list_audit", err)
		return
	}
	account, err := h.service.GetEscrow(r.Context(), actor, escrowIDParam(r))
	if err != nil {
		writeMappedError(r.Context(), w, "admin_list_audit", err)
		return
	}
	out := make([]contracts.AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toAuditResponse(e, account.Currency))
	}
	writeSuccess(w, http.StatusOK, "", out)
}

func (h *Handler) writeAdminResult(w http.ResponseWriter, r *http.Request, operation, message string, account domain.EscrowAccount, err error) {
	if err != nil {
		writeMappedError(r.Context(), w, operation, err)
		return
	}
	writeSuccess(w, http.StatusOK, message, toEscrowResponse(account, true))
}
