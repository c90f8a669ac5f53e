package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ayo6706/value-core/internal/domain"
	"github.com/ayo6706/value-core/internal/service"
	"go.uber.org/zap"
)

// CommissionHandler reports the commission earned on settled spends.
type CommissionHandler struct {
	settlements *service.SettlementService
}

func NewCommissionHandler(settlements *service.SettlementService) *CommissionHandler {
	return &CommissionHandler{settlements: settlements}
}

// parseWindow reads the optional RFC 3339 from and to query parameters.
func parseWindow(w http.ResponseWriter, r *http.Request) (service.CommissionWindow, bool) {
	var window service.CommissionWindow
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &window.From}, {"to", &window.To}} {
		v := strings.TrimSpace(r.URL.Query().Get(p.name))
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-window", p.name+" must be an RFC 3339 timestamp")
			return window, false
		}
		t = t.UTC()
		*p.dst = &t
	}
	return window, true
}

func respondCommissionError(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case errors.Is(err, service.ErrInvalidReportWindow):
		RespondError(w, r, http.StatusBadRequest, "request/invalid-window", err.Error())
	default:
		if respondPricingError(w, r, err) {
			return
		}
		zap.L().Error("commission report failed", zap.Error(err), zap.String("op", op))
		RespondError(w, r, http.StatusInternalServerError, "commission/report-failed", "Failed to build commission report")
	}
}

// Stats handles GET /v1/admin/commission/stats?from=&to=.
func (h *CommissionHandler) Stats(w http.ResponseWriter, r *http.Request) {
	window, ok := parseWindow(w, r)
	if !ok {
		return
	}
	stats, err := h.settlements.CommissionStats(r.Context(), window)
	if err != nil {
		respondCommissionError(w, r, err, "stats")
		return
	}
	RespondJSON(w, http.StatusOK, stats)
}

// Transactions handles GET /v1/admin/commission/transactions.
func (h *CommissionHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	window, ok := parseWindow(w, r)
	if !ok {
		return
	}
	limit, offset, ok := parsePage(w, r, 50, 0)
	if !ok {
		return
	}
	items, err := h.settlements.ListCommissionTransactions(r.Context(), service.CommissionFilter{
		CommissionWindow: window,
		ServiceType:      domain.ServiceType(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("service_type")))),
		Limit:            int32(limit),
		Offset:           int32(offset),
	})
	if err != nil {
		respondCommissionError(w, r, err, "transactions")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"items":  items,
		"limit":  limit,
		"offset": offset,
		"count":  len(items),
	})
}
