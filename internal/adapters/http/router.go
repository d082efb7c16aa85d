package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

type RouterConfig struct {
	// Ready reports whether storage is reachable; nil means always ready.
	Ready             func(ctx context.Context) error
	MetricsMiddleware func(http.Handler) http.Handler
	MetricsHandler    http.Handler
	// MoneyRatePerSecond limits fund/release/refund/emergency calls per subject; zero disables it.
	MoneyRatePerSecond float64
	MoneyBurst         int
}

func NewRouter(handler *Handler, cfg RouterConfig) http.Handler {
	limiter := newSubjectLimiter(cfg.MoneyRatePerSecond, cfg.MoneyBurst)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware)
	if cfg.MetricsMiddleware != nil {
		r.Use(cfg.MetricsMiddleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { writeSuccess(w, http.StatusOK, "ok", nil) })
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if cfg.Ready != nil {
			ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
			defer cancel()
			if err := cfg.Ready(ctx); err != nil {
				logHTTPOperationError(req.Context(), "readiness", http.StatusServiceUnavailable, "not_ready", "dependency unavailable", err)
				writeError(w, http.StatusServiceUnavailable, "not_ready", "dependency unavailable", requestIDFromContext(req.Context()))
				return
			}
		}
		writeSuccess(w, http.StatusOK, "ready", nil)
	})
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Post("/webhooks/gateway", handler.gatewayWebhook)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)

		r.Post("/escrow/create", handler.createEscrow)
		r.Group(func(r chi.Router) {
			r.Use(limiter.middleware)
			r.Post("/escrow/fund", handler.fundEscrow)
			r.Post("/escrow/release", handler.releaseFunds)
			r.Post("/escrow/refund", handler.refundFunds)
		})
		r.Get("/escrow", handler.listEscrows)
		r.Get("/escrow/contract/{contract_id}", handler.getEscrowByContract)
		r.Get("/escrow/contract/{contract_id}/transactions", handler.listTransactions)
		r.Get("/commission/preview", handler.previewFee)

		r.Route("/admin", func(r chi.Router) {
			r.Route("/escrow/{escrow_id}", func(r chi.Router) {
				r.Get("/", handler.getEscrowAdmin)
				r.Post("/freeze", handler.freezeEscrow)
				r.Post("/unfreeze", handler.unfreezeEscrow)
				r.Post("/dispute", handler.setDisputeMode)
				r.Post("/resolve", handler.resolveDispute)
				r.With(limiter.middleware).Post("/emergency-release", handler.emergencyRelease)
				r.Post("/fee", handler.adjustFee)
				r.Post("/notes", handler.addNote)
				r.Put("/compliance", handler.updateCompliance)
				r.Put("/auto-release", handler.configureAutoRelease)
				r.Put("/controls", handler.updateControls)
				r.Get("/audit", handler.listAuditTrail)
			})
			r.Get("/commission-settings", handler.listCommissionSettings)
			r.Post("/commission-settings", handler.createCommissionSetting)
			r.Put("/commission-settings/{setting_id}", handler.updateCommissionSetting)
		})
	})
	return r
}
