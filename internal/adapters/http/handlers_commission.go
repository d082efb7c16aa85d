package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/contracts"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/domain"
)

func (h *Handler) createCommissionSetting(w http.ResponseWriter, r *http.Request) {
	var req contracts.CommissionSettingDTO
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "create_commission_setting", err)
		return
	}
	setting, err := h.service.CreateCommissionSetting(r.Context(), actorFromContext(r.Context()), toCommissionSetting(req))
	if err != nil {
		writeMappedError(r.Context(), w, "create_commission_setting", err)
		return
	}
	writeSuccess(w, http.StatusCreated, "commission setting created", toCommissionSettingDTO(setting))
}

func (h *Handler) updateCommissionSetting(w http.ResponseWriter, r *http.Request) {
	var req contracts.CommissionSettingDTO
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "update_commission_setting", err)
		return
	}
	setting := toCommissionSetting(req)
	setting.ID = chi.URLParam(r, "setting_id")
	updated, err := h.service.UpdateCommissionSetting(r.Context(), actorFromContext(r.Context()), setting)
	if err != nil {
		writeMappedError(r.Context(), w, "update_commission_setting", err)
		return
	}
	writeSuccess(w, http.StatusOK, "commission setting updated", toCommissionSettingDTO(updated))
}

func (h *Handler) listCommissionSettings(w http.ResponseWriter, r *http.Request) {
	userType := domain.UserType(strings.TrimSpace(r.URL.Query().Get("user_type")))
	settings, err := h.service.ListCommissionSettings(r.Context(), actorFromContext(r.Context()), userType)
	if err != nil {
		writeMappedError(r.Context(), w, "list_commission_settings", err)
		return
	}
	out := make([]contracts.CommissionSettingDTO, 0, len(settings))
	for _, s := range settings {
		out = append(out, toCommissionSettingDTO(s))
	}
	writeSuccess(w, http.StatusOK, "", out)
}
