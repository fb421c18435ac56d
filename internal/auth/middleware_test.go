package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kaleho/amber-ant-sub001/internal/domain"
	"github.com/kaleho/amber-ant-sub001/internal/tenant"
)

func issueTestToken(t *testing.T, svc *TokenService) string {
	t.Helper()
	resp, err := svc.Issue(context.Background(), "tenant-a", "alice", "s3cret")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return resp.AccessToken
}

func protectedRequest(t *testing.T, bl *Blacklist, token string, tc *domain.TenantContext) (*httptest.ResponseRecorder, *domain.CustomClaims) {
	t.Helper()

	_, validator := newTestService(t, bl)

	var captured *domain.CustomClaims
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims, ok := ClaimsFromContext(r.Context()); ok {
			captured = claims
		}
		w.WriteHeader(http.StatusOK)
	})
	mw := NewMiddleware(validator, bl, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/alerts", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if tc != nil {
		req = req.WithContext(tenant.WithContext(req.Context(), *tc))
	}

	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, req)
	return rec, captured
}

func TestAuthMiddlewareAcceptsValidToken(t *testing.T) {
	bl := newTestBlacklist(nil, BlacklistOptions{})
	svc, _ := newTestService(t, bl)
	token := issueTestToken(t, svc)

	rec, claims := protectedRequest(t, bl, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if claims == nil || claims.UserID != "user-1" {
		t.Fatalf("expected claims injected into context, got %+v", claims)
	}
}

func TestAuthMiddlewareRejectsMissingAndGarbageTokens(t *testing.T) {
	bl := newTestBlacklist(nil, BlacklistOptions{})

	if rec, _ := protectedRequest(t, bl, "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token must be 401, got %d", rec.Code)
	}
	if rec, _ := protectedRequest(t, bl, "not-a-jwt", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token must be 401, got %d", rec.Code)
	}
}

func TestAuthMiddlewareRejectsRevokedToken(t *testing.T) {
	ctx := context.Background()
	bl := newTestBlacklist(nil, BlacklistOptions{})
	svc, validator := newTestService(t, bl)
	token := issueTestToken(t, svc)

	claims, err := validator.VerifyToken(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	bl.RevokeToken(ctx, claims.ID, claims.ExpiresAt.Time)

	rec, _ := protectedRequest(t, bl, token, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("revoked token must be 401, got %d", rec.Code)
	}
}

func TestAuthMiddlewareRejectsAfterUserWideRevocation(t *testing.T) {
	ctx := context.Background()
	bl := newTestBlacklist(newFakeStore(), BlacklistOptions{})
	svc, _ := newTestService(t, bl)
	token := issueTestToken(t, svc)

	// «Выйти везде» после выпуска токена
	bl.RevokeUserTokens(ctx, "user-1", time.Now().Add(time.Second))

	rec, _ := protectedRequest(t, bl, token, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("token issued before user revocation must be 401, got %d", rec.Code)
	}
}

func TestAuthMiddlewareTenantCrossCheck(t *testing.T) {
	bl := newTestBlacklist(nil, BlacklistOptions{})
	svc, _ := newTestService(t, bl)
	token := issueTestToken(t, svc) // tenant-a

	other, err := domain.NewTenantContext("tenant-b", "beta", "postgres://beta-db/app")
	if err != nil {
		t.Fatalf("build context: %v", err)
	}
	rec, _ := protectedRequest(t, bl, token, &other)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("token of tenant-a must not serve tenant-b, got %d", rec.Code)
	}

	same, err := domain.NewTenantContext("tenant-a", "alpha", "postgres://alpha-db/app")
	if err != nil {
		t.Fatalf("build context: %v", err)
	}
	rec, claims := protectedRequest(t, bl, token, &same)
	if rec.Code != http.StatusOK {
		t.Fatalf("matching tenant must pass, got %d", rec.Code)
	}
	if claims == nil || claims.TenantID != "tenant-a" {
		t.Fatalf("expected claims for tenant-a, got %+v", claims)
	}
}

func TestAuthMiddlewareAttachesUserToTenantContext(t *testing.T) {
	bl := newTestBlacklist(nil, BlacklistOptions{})
	svc, _ := newTestService(t, bl)
	token := issueTestToken(t, svc)

	tc, err := domain.NewTenantContext("tenant-a", "alpha", "postgres://alpha-db/app")
	if err != nil {
		t.Fatalf("build context: %v", err)
	}

	_, validator := newTestService(t, bl)
	var gotUser string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inner, ok := tenant.FromContext(r.Context()); ok {
			gotUser = inner.UserID
		}
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/alerts", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req = req.WithContext(tenant.WithContext(req.Context(), tc))

	rec := httptest.NewRecorder()
	NewMiddleware(validator, bl, zap.NewNop())(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotUser != "user-1" {
		t.Fatalf("tenant context must carry the authenticated user, got %q", gotUser)
	}
}
