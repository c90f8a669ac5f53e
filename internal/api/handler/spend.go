package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ayo6706/value-core/internal/domain"
	"github.com/ayo6706/value-core/internal/pricing"
	"github.com/ayo6706/value-core/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SpendHandler serves quotes, spend submissions and the manual review queue.
type SpendHandler struct {
	settlements *service.SettlementService
}

func NewSpendHandler(settlements *service.SettlementService) *SpendHandler {
	return &SpendHandler{settlements: settlements}
}

type quoteRequest struct {
	ServiceType string `json:"service_type"`
	OperatorID  int64  `json:"operator_id"`
	Amount      string `json:"amount"`
}

type submitSpendRequest struct {
	SettlementID *string `json:"settlement_id,omitempty"`
	ServiceType  string  `json:"service_type"`
	OperatorID   int64   `json:"operator_id"`
	Amount       string  `json:"amount"`
	Recipient    string  `json:"recipient"`
}

func parseSpendAmount(w http.ResponseWriter, r *http.Request, raw string) (int64, bool) {
	micros, err := domain.ParseMicros(strings.TrimSpace(raw))
	if err != nil || micros <= 0 {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-amount", "amount must be a positive decimal")
		return 0, false
	}
	return micros, true
}

// respondPricingError reports calculator rejections; it returns false for other errors.
func respondPricingError(w http.ResponseWriter, r *http.Request, err error) bool {
	switch {
	case errors.Is(err, pricing.ErrUnknownServiceType):
		RespondError(w, r, http.StatusBadRequest, "spend/unknown-service-type", err.Error())
	case errors.Is(err, pricing.ErrUnknownOperator):
		RespondError(w, r, http.StatusBadRequest, "spend/unknown-operator", err.Error())
	case errors.Is(err, pricing.ErrInvalidAmount):
		RespondError(w, r, http.StatusBadRequest, "spend/invalid-amount", err.Error())
	default:
		return false
	}
	return true
}

// Quote handles POST /v1/spends/quote.
func (h *SpendHandler) Quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	amount, ok := parseSpendAmount(w, r, req.Amount)
	if !ok {
		return
	}

	priced, err := h.settlements.Quote(r.Context(), domain.ServiceType(req.ServiceType), amount, req.OperatorID)
	if err != nil {
		if respondPricingError(w, r, err) {
			return
		}
		zap.L().Error("quote spend failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "spend/quote-failed", "Failed to price spend")
		return
	}
	RespondJSON(w, http.StatusOK, priced)
}

// Submit handles POST /v1/spends.
// 201 means fulfilled, 202 means the outcome is still pending confirmation and 200 replays
// an already terminal settlement.
func (h *SpendHandler) Submit(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req submitSpendRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	amount, ok := parseSpendAmount(w, r, req.Amount)
	if !ok {
		return
	}

	spend := service.SpendRequest{
		UserID:       actorID,
		ServiceType:  domain.ServiceType(req.ServiceType),
		OperatorID:   req.OperatorID,
		AmountMicros: amount,
		Recipient:    req.Recipient,
	}
	if req.SettlementID != nil {
		id, err := uuid.Parse(*req.SettlementID)
		if err != nil {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-settlement-id", "Invalid settlement_id")
			return
		}
		spend.SettlementID = &id
	}

	res, err := h.settlements.Submit(r.Context(), spend)
	switch {
	case err == nil:
		status := http.StatusCreated
		if res.Settlement.Status == string(service.StatusProcessing) {
			status = http.StatusAccepted
		}
		RespondJSON(w, status, res)
	case errors.Is(err, service.ErrReconciliationGap), errors.Is(err, service.ErrSettlementInFlight):
		RespondJSON(w, http.StatusAccepted, res)
	case errors.Is(err, service.ErrProviderFailed):
		RespondError(w, r, http.StatusBadGateway, "spend/provider-failed", service.ProviderFailureMessage)
	case errors.Is(err, service.ErrDuplicateSubmission) && res != nil:
		RespondJSON(w, http.StatusOK, res)
	case errors.Is(err, service.ErrDuplicateSubmission):
		RespondError(w, r, http.StatusConflict, "spend/duplicate-submission", "settlement already submitted")
	case errors.Is(err, service.ErrInvalidRecipient):
		RespondError(w, r, http.StatusBadRequest, "spend/invalid-recipient", err.Error())
	case respondPricingError(w, r, err):
	default:
		zap.L().Error("submit spend failed", zap.Error(err), zap.String("user_id", actorID.String()))
		respondInternal(w, r, err, "spend/submit-failed", "Failed to submit spend")
	}
}

// Get handles GET /v1/spends/{id}.
func (h *SpendHandler) Get(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-settlement-id", "Invalid settlement ID")
		return
	}

	rec, err := h.settlements.GetSettlement(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrSettlementNotFound) {
			RespondError(w, r, http.StatusNotFound, "spend/not-found", "Spend not found")
			return
		}
		zap.L().Error("get spend failed", zap.Error(err), zap.String("settlement_id", id.String()))
		RespondError(w, r, http.StatusInternalServerError, "spend/read-failed", "Failed to get spend")
		return
	}
	if !isAdmin && rec.UserID != actorID {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
		return
	}
	RespondJSON(w, http.StatusOK, rec)
}

// List handles GET /v1/spends.
func (h *SpendHandler) List(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	limit, offset, ok := parsePage(w, r, 50, 0)
	if !ok {
		return
	}

	items, err := h.settlements.ListSettlements(r.Context(), actorID, int32(limit), int32(offset))
	if err != nil {
		zap.L().Error("list spends failed", zap.Error(err), zap.String("user_id", actorID.String()))
		RespondError(w, r, http.StatusInternalServerError, "spend/list-failed", "Failed to list spends")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"items":  items,
		"limit":  limit,
		"offset": offset,
		"count":  len(items),
	})
}

// Operators handles GET /v1/operators/{serviceType}.
func (h *SpendHandler) Operators(w http.ResponseWriter, r *http.Request) {
	serviceType := domain.ServiceType(strings.ToLower(chi.URLParam(r, "serviceType")))
	ops, err := h.settlements.Operators(serviceType)
	if err != nil {
		if respondPricingError(w, r, err) {
			return
		}
		RespondError(w, r, http.StatusInternalServerError, "spend/operators-failed", "Failed to list operators")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"service_type": serviceType,
		"operators":    ops,
	})
}

// ListReviewQueue handles GET /v1/admin/settlements/review (admin only).
func (h *SpendHandler) ListReviewQueue(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := parsePage(w, r, 50, 0)
	if !ok {
		return
	}

	items, err := h.settlements.ListReviewQueue(r.Context(), int32(limit), int32(offset))
	if err != nil {
		zap.L().Error("list manual review settlements failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "spend/manual-review-list-failed", "Failed to list manual review settlements")
		return
	}
	total, err := h.settlements.ReviewQueueSize(r.Context())
	if err != nil {
		zap.L().Warn("failed to compute manual review queue size", zap.Error(err))
		total = int64(len(items))
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"items":       items,
		"limit":       limit,
		"offset":      offset,
		"count":       len(items),
		"total_count": total,
	})
}

type resolveReviewRequest struct {
	Decision              string  `json:"decision"`
	Reason                string  `json:"reason"`
	ProviderTransactionID *string `json:"provider_transaction_id,omitempty"`
}

// ResolveReview handles POST /v1/admin/settlements/{id}/resolve (admin only).
func (h *SpendHandler) ResolveReview(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-settlement-id", "Invalid settlement ID")
		return
	}

	var req resolveReviewRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-reason", "reason is required")
		return
	}

	rec, err := h.settlements.ResolveReview(r.Context(), service.ResolveReviewRequest{
		SettlementID:          id,
		Decision:              service.ReviewDecision(req.Decision),
		Reason:                req.Reason,
		ActorID:               &actorID,
		ProviderTransactionID: req.ProviderTransactionID,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSettlementNotFound):
			RespondError(w, r, http.StatusNotFound, "spend/not-found", "Spend not found")
		case errors.Is(err, service.ErrInvalidReviewDecision):
			RespondError(w, r, http.StatusBadRequest, "spend/invalid-decision", "decision must be confirm_success or confirm_failed")
		case errors.Is(err, service.ErrNotInManualReview):
			RespondError(w, r, http.StatusConflict, "spend/not-in-manual-review", err.Error())
		case errors.Is(err, service.ErrInvalidTransition):
			RespondError(w, r, http.StatusConflict, "spend/invalid-transition", "settlement already has a different terminal status")
		case errors.Is(err, service.ErrProviderMismatch):
			RespondError(w, r, http.StatusConflict, "spend/provider-mismatch", err.Error())
		case errors.Is(err, service.ErrProviderUnavailable):
			zap.L().Warn("provider confirmation unavailable", zap.Error(err), zap.String("settlement_id", id.String()))
			RespondError(w, r, http.StatusBadGateway, "provider/unavailable", "Provider status could not be confirmed")
		default:
			zap.L().Error("resolve manual review failed", zap.Error(err), zap.String("settlement_id", id.String()))
			RespondError(w, r, http.StatusInternalServerError, "spend/manual-review-resolve-failed", "Failed to resolve manual review")
		}
		return
	}
	RespondJSON(w, http.StatusOK, rec)
}
