package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewTenantContextRequiresAllFields(t *testing.T) {
	if _, err := NewTenantContext("tenant-a", "alpha", "postgres://alpha-db/app"); err != nil {
		t.Fatalf("valid context must build: %v", err)
	}

	for _, tc := range [][3]string{
		{"", "alpha", "postgres://alpha-db/app"},
		{"tenant-a", "", "postgres://alpha-db/app"},
		{"tenant-a", "alpha", ""},
	} {
		if _, err := NewTenantContext(tc[0], tc[1], tc[2]); err == nil {
			t.Fatalf("expected error for %v", tc)
		}
	}
}

func TestTenantContextWithUserDoesNotMutate(t *testing.T) {
	base, err := NewTenantContext("tenant-a", "alpha", "postgres://alpha-db/app")
	if err != nil {
		t.Fatalf("build context: %v", err)
	}

	withUser := base.WithUser("user-1")
	if base.UserID != "" {
		t.Fatalf("original context must stay untouched, got %q", base.UserID)
	}
	if withUser.UserID != "user-1" {
		t.Fatalf("copy must carry the user, got %q", withUser.UserID)
	}
	if base.Equal(withUser) {
		t.Fatalf("contexts differing in user must not be equal")
	}
}

func TestTenantNotFoundErrorDetection(t *testing.T) {
	base := &TenantNotFoundError{Key: "tenant-x", Reason: "no tenant record"}

	if !IsTenantNotFound(base) {
		t.Fatalf("direct error must be detected")
	}
	if !IsTenantNotFound(fmt.Errorf("resolve: %w", base)) {
		t.Fatalf("wrapped error must be detected")
	}
	if IsTenantNotFound(errors.New("connection refused")) {
		t.Fatalf("unrelated error must not be detected")
	}
	if !strings.Contains(base.Error(), "tenant-x") {
		t.Fatalf("error text must name the key: %q", base.Error())
	}
}

func TestTenantJSONHidesDatabaseURL(t *testing.T) {
	raw, err := json.Marshal(Tenant{ID: "tenant-a", Slug: "alpha", DatabaseURL: "postgres://secret"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(raw), "secret") {
		t.Fatalf("database url must never serialize: %s", raw)
	}
}

func TestUserJSONHidesPasswordHash(t *testing.T) {
	raw, err := json.Marshal(User{ID: "user-1", PasswordHash: "$2a$10$hash"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(raw), "$2a$10$hash") {
		t.Fatalf("password hash must never serialize: %s", raw)
	}
}
