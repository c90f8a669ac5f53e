package handler

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ayo6706/value-core/internal/domain"
	"github.com/ayo6706/value-core/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReferralHandler serves referral link management and attribution.
type ReferralHandler struct {
	referrals *service.ReferralService
}

func NewReferralHandler(referrals *service.ReferralService) *ReferralHandler {
	return &ReferralHandler{referrals: referrals}
}

type createLinkRequest struct {
	CustomCode             string     `json:"custom_code,omitempty"`
	Type                   string     `json:"type,omitempty"`
	CampaignID             *string    `json:"campaign_id,omitempty"`
	ReferrerReward         string     `json:"referrer_reward,omitempty"`
	RefereeReward          string     `json:"referee_reward,omitempty"`
	RevenueSharePercentage string     `json:"revenue_share_percentage,omitempty"`
	MaxUses                *int64     `json:"max_uses,omitempty"`
	ExpiresAt              *time.Time `json:"expires_at,omitempty"`
}

func optionalMicros(raw string) (int64, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	return domain.ParseMicros(strings.TrimSpace(raw))
}

// respondReferralError maps attribution errors; unknown errors become a 500 with problemType.
func respondReferralError(w http.ResponseWriter, r *http.Request, err error, problemType, message string) {
	switch {
	case errors.Is(err, service.ErrLinkNotFound):
		RespondError(w, r, http.StatusNotFound, "referral/link-not-found", "Referral link not found")
	case errors.Is(err, service.ErrLinkExpired):
		RespondError(w, r, http.StatusGone, "referral/link-expired", err.Error())
	case errors.Is(err, service.ErrLinkExhausted):
		RespondError(w, r, http.StatusConflict, "referral/link-exhausted", err.Error())
	case errors.Is(err, service.ErrSelfReferral):
		RespondError(w, r, http.StatusBadRequest, "referral/self-referral", err.Error())
	case errors.Is(err, service.ErrAlreadyAttributed):
		RespondError(w, r, http.StatusConflict, "referral/already-attributed", err.Error())
	case errors.Is(err, service.ErrDuplicateCode):
		RespondError(w, r, http.StatusConflict, "referral/duplicate-code", err.Error())
	case errors.Is(err, service.ErrInvalidCode), errors.Is(err, service.ErrInvalidLinkOptions):
		RespondError(w, r, http.StatusBadRequest, "referral/invalid-link", err.Error())
	default:
		zap.L().Error(message, zap.Error(err))
		respondInternal(w, r, err, problemType, message)
	}
}

// CreateLink handles POST /v1/referrals/links.
func (h *ReferralHandler) CreateLink(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req createLinkRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	referrerReward, err := optionalMicros(req.ReferrerReward)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-amount", "referrer_reward must be a decimal amount")
		return
	}
	refereeReward, err := optionalMicros(req.RefereeReward)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-amount", "referee_reward must be a decimal amount")
		return
	}

	link, err := h.referrals.GenerateLink(r.Context(), actorID, service.LinkOptions{
		CustomCode:             req.CustomCode,
		Type:                   req.Type,
		CampaignID:             req.CampaignID,
		ReferrerRewardMicros:   referrerReward,
		RefereeRewardMicros:    refereeReward,
		RevenueSharePercentage: req.RevenueSharePercentage,
		MaxUses:                req.MaxUses,
		ExpiresAt:              req.ExpiresAt,
	})
	if err != nil {
		respondReferralError(w, r, err, "referral/create-failed", "Failed to create referral link")
		return
	}
	RespondJSON(w, http.StatusCreated, link)
}

// ListLinks handles GET /v1/referrals/links.
func (h *ReferralHandler) ListLinks(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	links, err := h.referrals.ListLinks(r.Context(), actorID)
	if err != nil {
		zap.L().Error("list referral links failed", zap.Error(err), zap.String("user_id", actorID.String()))
		RespondError(w, r, http.StatusInternalServerError, "referral/list-failed", "Failed to list referral links")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"items": links,
		"count": len(links),
	})
}

type trackClickRequest struct {
	Code        string `json:"code"`
	ReferrerURL string `json:"referrer_url,omitempty"`
}

// TrackClick handles POST /v1/referrals/clicks. It is public and IP rate limited.
func (h *ReferralHandler) TrackClick(w http.ResponseWriter, r *http.Request) {
	var req trackClickRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-code", "code is required")
		return
	}
	referrerURL := req.ReferrerURL
	if referrerURL == "" {
		referrerURL = r.Referer()
	}

	ev, err := h.referrals.TrackClick(r.Context(), req.Code, service.ClientContext{
		IPAddress:   clientIP(r),
		UserAgent:   r.UserAgent(),
		ReferrerURL: referrerURL,
	})
	if err != nil {
		respondReferralError(w, r, err, "referral/click-failed", "Failed to record click")
		return
	}
	RespondJSON(w, http.StatusCreated, ev)
}

type recordSignupRequest struct {
	Code       string  `json:"code"`
	ReferrerID string  `json:"referrer_id"`
	NewUserID  *string `json:"new_user_id,omitempty"`
}

// RecordSignup handles POST /v1/referrals/signups. The caller is the new user; admins may
// attribute on behalf of another user.
func (h *ReferralHandler) RecordSignup(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req recordSignupRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-code", "code is required")
		return
	}
	referrerID, err := uuid.Parse(req.ReferrerID)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-referrer-id", "Invalid referrer_id")
		return
	}
	newUserID := actorID
	if req.NewUserID != nil {
		parsed, err := uuid.Parse(*req.NewUserID)
		if err != nil {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-user-id", "Invalid new_user_id")
			return
		}
		if parsed != actorID && !isAdmin {
			RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
			return
		}
		newUserID = parsed
	}

	ev, err := h.referrals.RecordSignup(r.Context(), req.Code, referrerID, newUserID)
	if err != nil {
		respondReferralError(w, r, err, "referral/signup-failed", "Failed to record signup")
		return
	}
	RespondJSON(w, http.StatusCreated, ev)
}

// Stats handles GET /v1/referrals/stats.
func (h *ReferralHandler) Stats(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	stats, err := h.referrals.GetStats(r.Context(), actorID)
	if err != nil {
		zap.L().Error("get referral stats failed", zap.Error(err), zap.String("user_id", actorID.String()))
		RespondError(w, r, http.StatusInternalServerError, "referral/stats-failed", "Failed to get referral stats")
		return
	}
	RespondJSON(w, http.StatusOK, stats)
}

// DeactivateLink handles POST /v1/admin/referrals/links/{id}/deactivate (admin only).
func (h *ReferralHandler) DeactivateLink(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	linkID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-link-id", "Invalid link ID")
		return
	}

	link, err := h.referrals.DeactivateLink(r.Context(), linkID, &actorID)
	if err != nil {
		respondReferralError(w, r, err, "referral/deactivate-failed", "Failed to deactivate referral link")
		return
	}
	RespondJSON(w, http.StatusOK, link)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
