package handler

import (
	"net/http"

	"github.com/ayo6706/value-core/internal/service"
	"go.uber.org/zap"
)

// WalletHandler exposes the unified balance of the authenticated user.
type WalletHandler struct {
	balances *service.BalanceService
}

func NewWalletHandler(balances *service.BalanceService) *WalletHandler {
	return &WalletHandler{balances: balances}
}

// Balance handles GET /v1/wallet/balance.
func (h *WalletHandler) Balance(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	bal, err := h.balances.GetBalances(r.Context(), actorID)
	if err != nil {
		zap.L().Error("get unified balance failed", zap.Error(err), zap.String("user_id", actorID.String()))
		RespondError(w, r, http.StatusInternalServerError, "wallet/balance-failed", "Failed to get balance")
		return
	}
	RespondJSON(w, http.StatusOK, bal)
}

// Transactions handles GET /v1/wallet/transactions.
func (h *WalletHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	limit, offset, ok := parsePage(w, r, 0, 0)
	if !ok {
		return
	}

	history, err := h.balances.GetTransactionHistory(r.Context(), actorID, limit, offset)
	if err != nil {
		zap.L().Error("get transaction history failed", zap.Error(err), zap.String("user_id", actorID.String()))
		RespondError(w, r, http.StatusInternalServerError, "wallet/history-failed", "Failed to get transaction history")
		return
	}
	RespondJSON(w, http.StatusOK, history)
}

// Sources handles GET /v1/wallet/sources.
func (h *WalletHandler) Sources(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	breakdown, err := h.balances.GetSourceBreakdown(r.Context(), actorID)
	if err != nil {
		zap.L().Error("get source breakdown failed", zap.Error(err), zap.String("user_id", actorID.String()))
		RespondError(w, r, http.StatusInternalServerError, "wallet/breakdown-failed", "Failed to get source breakdown")
		return
	}
	RespondJSON(w, http.StatusOK, breakdown)
}
