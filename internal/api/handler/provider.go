package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayo6706/value-core/internal/gateway"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ProviderHandler exposes the provider catalog and float to operators.
type ProviderHandler struct {
	catalog gateway.Catalog
}

func NewProviderHandler(catalog gateway.Catalog) *ProviderHandler {
	return &ProviderHandler{catalog: catalog}
}

func respondProviderError(w http.ResponseWriter, r *http.Request, err error, op string) {
	var perr *gateway.ProviderError
	if errors.As(err, &perr) && perr.StatusCode == http.StatusNotFound {
		RespondError(w, r, http.StatusNotFound, "provider/not-found", "Not found at provider")
		return
	}
	zap.L().Error("provider catalog call failed", zap.Error(err), zap.String("op", op))
	RespondError(w, r, http.StatusBadGateway, "provider/unavailable", "Provider request failed")
}

// Balance handles GET /v1/admin/provider/balance.
func (h *ProviderHandler) Balance(w http.ResponseWriter, r *http.Request) {
	bal, err := h.catalog.AccountBalance(r.Context())
	if err != nil {
		respondProviderError(w, r, err, "balance")
		return
	}
	RespondJSON(w, http.StatusOK, bal)
}

// Operators handles GET /v1/admin/provider/operators?country=NG.
func (h *ProviderHandler) Operators(w http.ResponseWriter, r *http.Request) {
	country := strings.TrimSpace(r.URL.Query().Get("country"))
	if len(country) != 2 {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-country", "country must be an ISO 3166 alpha-2 code")
		return
	}
	ops, err := h.catalog.ListOperatorsByCountry(r.Context(), country)
	if err != nil {
		respondProviderError(w, r, err, "operators")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"country":   strings.ToUpper(country),
		"operators": ops,
	})
}

// Operator handles GET /v1/admin/provider/operators/{id}.
func (h *ProviderHandler) Operator(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-operator-id", "Invalid operator ID")
		return
	}
	op, err := h.catalog.GetOperator(r.Context(), id)
	if err != nil {
		respondProviderError(w, r, err, "operator")
		return
	}
	RespondJSON(w, http.StatusOK, op)
}

// Transaction handles GET /v1/admin/provider/transactions/{id}.
func (h *ProviderHandler) Transaction(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if _, err := strconv.ParseInt(id, 10, 64); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-transaction-id", "Invalid provider transaction ID")
		return
	}
	res, err := h.catalog.GetTransaction(r.Context(), id)
	if err != nil {
		respondProviderError(w, r, err, "transaction")
		return
	}
	RespondJSON(w, http.StatusOK, res)
}

// GiftCardProducts handles GET /v1/admin/provider/giftcards.
func (h *ProviderHandler) GiftCardProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.ListGiftCardProducts(r.Context())
	if err != nil {
		respondProviderError(w, r, err, "giftcards")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"products": products})
}
