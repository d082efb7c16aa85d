package http

import (
	"encoding/json"
	"net/http"

	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/contracts"
)

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, statusCode int, message string, data any) {
	writeJSON(w, statusCode, contracts.SuccessResponse{
		Status:  "success",
		Message: message,
		Data:    data,
	})
}

func writeError(w http.ResponseWriter, statusCode int, code, details, requestID string) {
	writeJSON(w, statusCode, contracts.ErrorResponse{
		Error:     code,
		Details:   details,
		RequestID: requestID,
	})
}
