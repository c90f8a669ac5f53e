package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/ayo6706/value-core/internal/service"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// WebhookHandler handles provider status callbacks.
type WebhookHandler struct {
	webhookSvc *service.WebhookService
}

func NewWebhookHandler(webhookSvc *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhookSvc: webhookSvc}
}

// HandleProviderWebhook handles POST /v1/webhooks/provider.
// The raw body is verified against X-Webhook-Signature before it is parsed.
func (h *WebhookHandler) HandleProviderWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		zap.L().Error("read webhook body failed", zap.Error(err))
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}

	resp, err := h.webhookSvc.HandleProviderWebhook(r.Context(), body, r.Header.Get("X-Webhook-Signature"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidSignature):
			zap.L().Warn("provider webhook rejected", zap.Error(err))
			RespondError(w, r, http.StatusUnauthorized, "webhook/invalid-signature", "Invalid signature")
		case errors.Is(err, service.ErrInvalidWebhook):
			RespondError(w, r, http.StatusBadRequest, "webhook/invalid-payload", err.Error())
		case errors.Is(err, service.ErrSettlementNotFound):
			RespondError(w, r, http.StatusNotFound, "webhook/unknown-settlement", "Unknown custom_identifier")
		case errors.Is(err, service.ErrInvalidTransition):
			RespondError(w, r, http.StatusConflict, "webhook/conflicting-status", "settlement already has a different terminal status")
		default:
			zap.L().Error("process provider webhook failed", zap.Error(err))
			RespondError(w, r, http.StatusInternalServerError, "webhook/process-failed", "Failed to process webhook")
		}
		return
	}
	RespondJSON(w, http.StatusOK, resp)
}
