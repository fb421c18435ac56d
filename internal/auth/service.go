package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/kaleho/amber-ant-sub001/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// UserProvider описывает требования сервиса к хранилищу пользователей.
type UserProvider interface {
	GetUserByUsername(ctx context.Context, tenantID, username string) (*domain.User, error)
}

// TokenService выпускает и отзывает RS256-токены.
// Каждый токен получает уникальный jti — без него точечный отзыв невозможен.
type TokenService struct {
	repo       UserProvider
	privateKey *rsa.PrivateKey
	blacklist  *Blacklist
	tokenTTL   time.Duration
	logger     *zap.Logger
}

func NewTokenService(repo UserProvider, privateKey *rsa.PrivateKey, bl *Blacklist, tokenTTL time.Duration, logger *zap.Logger) *TokenService {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &TokenService{
		repo:       repo,
		privateKey: privateKey,
		blacklist:  bl,
		tokenTTL:   tokenTTL,
		logger:     logger.Named("token-service"),
	}
}

// Issue аутентифицирует пользователя и выпускает токен.
func (s *TokenService) Issue(ctx context.Context, tenantID, username, password string) (*domain.TokenResponse, error) {
	// 1. Аутентификация (источник правды — control-plane база)
	user, err := s.repo.GetUserByUsername(ctx, tenantID, username)
	if err != nil || user == nil {
		return nil, errors.New("invalid credentials")
	}

	// 2. Проверка пароля (используем bcrypt)
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, errors.New("invalid credentials")
	}

	// 3. Формирование Claims
	now := time.Now()
	expiresAt := now.Add(s.tokenTTL)
	claims := &domain.CustomClaims{
		UserID:   user.ID,
		TenantID: user.TenantID,
		Scopes:   user.Scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(), // jti — ключ точечного отзыва
			Issuer:    "amber-ant-gateway",
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	// 4. Подпись токена ЗАКРЫТЫМ КЛЮЧОМ (RS256)
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signedToken, err := token.SignedString(s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &domain.TokenResponse{
		AccessToken: signedToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(expiresAt).Seconds()),
	}, nil
}

// Revoke — logout текущей сессии: токен в блэклист до его истечения.
func (s *TokenService) Revoke(ctx context.Context, claims *domain.CustomClaims) {
	if claims == nil || claims.ID == "" {
		return
	}
	expiresAt := time.Now()
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	s.blacklist.RevokeToken(ctx, claims.ID, expiresAt)
	s.logger.Info("session revoked", zap.String("user_id", claims.UserID), zap.String("jti", claims.ID))
}

// RevokeAll — «выйти везде»: все ранее выпущенные токены пользователя
// становятся недействительными.
func (s *TokenService) RevokeAll(ctx context.Context, userID string) {
	s.blacklist.RevokeUserTokens(ctx, userID, time.Now())
	s.logger.Info("all user sessions revoked", zap.String("user_id", userID))
}
