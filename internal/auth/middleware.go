package auth

import (
	"context"
	"net/http"

	"github.com/kaleho/amber-ant-sub001/internal/domain"
	"github.com/kaleho/amber-ant-sub001/internal/tenant"
	"go.uber.org/zap"
)

// TokenValidator — интерфейс проверки подписи токена.
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.CustomClaims, error)
}

// Тип для ключа в контексте (избегаем коллизий)
type ctxKey string

const claimsCtxKey ctxKey = "token_claims"

// ClaimsFromContext достает клеймы аутентифицированного пользователя.
func ClaimsFromContext(ctx context.Context) (*domain.CustomClaims, bool) {
	c, ok := ctx.Value(claimsCtxKey).(*domain.CustomClaims)
	return c, ok
}

// NewMiddleware — аутентификационный слой: подпись → блэклист по jti →
// пользовательский отзыв → соответствие арендатору из контекста запроса.
// Любой отказ — 401 без деталей; сам блэклист ошибок не поднимает,
// он только отвечает true/false.
func NewMiddleware(v TokenValidator, bl *Blacklist, logger *zap.Logger) func(http.Handler) http.Handler {
	log := logger.Named("auth-middleware")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				log.Warn("auth failure", zap.Error(err))
				unauthorized(w)
				return
			}

			ctx := r.Context()

			if claims.ID != "" && bl.IsTokenRevoked(ctx, claims.ID) {
				log.Warn("revoked token rejected", zap.String("jti", claims.ID))
				unauthorized(w)
				return
			}
			if claims.IssuedAt != nil && bl.IsUserTokenRevoked(ctx, claims.UserID, claims.IssuedAt.Time) {
				log.Warn("token predates user revocation", zap.String("user_id", claims.UserID))
				unauthorized(w)
				return
			}

			// Токен арендатора A не обслуживает запрос арендатора B
			if tc, ok := tenant.FromContext(ctx); ok {
				if claims.TenantID != "" && claims.TenantID != tc.TenantID {
					log.Warn("token tenant mismatch",
						zap.String("token_tenant", claims.TenantID),
						zap.String("request_tenant", tc.TenantID))
					unauthorized(w)
					return
				}
				ctx = tenant.WithContext(ctx, tc.WithUser(claims.UserID))
			}

			ctx = context.WithValue(ctx, claimsCtxKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error": "unauthorized"}`))
}
