package handler

import (
	"encoding/json"
	"net/http"

	"github.com/kaleho/amber-ant-sub001/internal/auth"
	"github.com/kaleho/amber-ant-sub001/internal/domain"
	"github.com/kaleho/amber-ant-sub001/internal/tenant"
	"go.uber.org/zap"
)

type AuthHandler struct {
	service *auth.TokenService
	logger  *zap.Logger
}

func NewAuthHandler(s *auth.TokenService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{service: s, logger: logger.Named("auth-handler")}
}

// Login выпускает токен в рамках арендатора текущего запроса.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenant.FromContext(r.Context())
	if !ok {
		http.Error(w, "tenant context required", http.StatusBadRequest)
		return
	}

	var req domain.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	resp, err := h.service.Issue(r.Context(), tc.TenantID, req.Username, req.Password)
	if err != nil {
		// не уточняем, что именно неверно (логин или пароль) для защиты от перебора
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// Logout отзывает токен текущей сессии.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	h.service.Revoke(r.Context(), claims)
	w.WriteHeader(http.StatusNoContent)
}

// RevokeAll — «выйти везде» для текущего пользователя.
func (h *AuthHandler) RevokeAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	h.service.RevokeAll(r.Context(), claims.UserID)
	w.WriteHeader(http.StatusNoContent)
}
