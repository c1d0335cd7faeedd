package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/ayo6706/owa-release/internal/api/middleware"
	"github.com/golang-jwt/jwt/v5"
)

// AuthHandler mints bearer tokens for local development. Production tokens come
// from the identity provider; the route is only mounted when dev tokens are enabled.
type AuthHandler struct {
	ttl time.Duration
	now func() time.Time
}

func NewAuthHandler(ttl time.Duration) *AuthHandler {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &AuthHandler{ttl: ttl, now: time.Now}
}

type devTokenRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// DevToken handles POST /auth/dev-token.
func (h *AuthHandler) DevToken(w http.ResponseWriter, r *http.Request) {
	var req devTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.Role = strings.TrimSpace(strings.ToLower(req.Role))
	if req.UserID == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-user-id", "user_id is required")
		return
	}
	if !middleware.KnownRole(req.Role) {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-role", "role must be operator or admin")
		return
	}

	now := h.now()
	claims := jwt.MapClaims{
		"user_id": req.UserID,
		"role":    req.Role,
		"sub":     req.UserID,
		"iat":     now.Unix(),
		"nbf":     now.Add(-30 * time.Second).Unix(),
		"exp":     now.Add(h.ttl).Unix(),
	}
	if iss := middleware.JWTIssuer(); iss != "" {
		claims["iss"] = iss
	}
	if aud := middleware.JWTAudience(); aud != "" {
		claims["aud"] = aud
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(middleware.JWTSecret())
	if err != nil {
		RespondError(w, r, http.StatusInternalServerError, "auth/sign-failed", "Failed to sign token")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"token":      tokenString,
		"expires_at": now.Add(h.ttl).UTC(),
	})
}
