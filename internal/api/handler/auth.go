package handler

import (
	"net/http"
	"time"

	"github.com/ayo6706/value-core/internal/api/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const devTokenTTL = 24 * time.Hour

// AuthHandler issues short-lived tokens for local development. Identity itself is owned by
// the upstream user service; this is only mounted when DEV_TOKENS is enabled.
type AuthHandler struct {
	now func() time.Time
}

func NewAuthHandler() *AuthHandler {
	return &AuthHandler{now: time.Now}
}

type devTokenRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty"`
}

// IssueToken handles POST /v1/auth/token.
func (h *AuthHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req devTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	uid, err := uuid.Parse(req.UserID)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-user-id", "Invalid user_id")
		return
	}
	role := req.Role
	switch role {
	case "":
		role = middleware.RoleUser
	case middleware.RoleUser, middleware.RoleAdmin:
	default:
		RespondError(w, r, http.StatusBadRequest, "request/invalid-role", "role must be user or admin")
		return
	}

	now := h.now()
	claims := jwt.MapClaims{
		"user_id": uid.String(),
		"role":    role,
		"iat":     now.Unix(),
		"exp":     now.Add(devTokenTTL).Unix(),
	}
	if iss := middleware.JWTIssuer(); iss != "" {
		claims["iss"] = iss
	}
	if aud := middleware.JWTAudience(); aud != "" {
		claims["aud"] = aud
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(middleware.JWTSecret())
	if err != nil {
		zap.L().Error("sign dev token failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "auth/token-signing-failed", "Failed to sign token")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"token":      tokenString,
		"token_type": "Bearer",
		"expires_at": now.Add(devTokenTTL).UTC(),
	})
}
