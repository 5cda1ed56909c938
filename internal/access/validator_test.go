package access

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seedRegistry(t *testing.T) *InMemoryRegistry {
	t.Helper()
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	reg := NewInMemoryRegistry()
	reg.Put(&Admin{
		ID:           "adm-1",
		Email:        "ops@example.com",
		Role:         RoleAdmin,
		PasswordHash: hash,
		Status:       AdminStatusActive,
	})
	reg.Put(&Admin{
		ID:           "adm-2",
		Email:        "gone@example.com",
		Role:         RoleModerator,
		PasswordHash: hash,
		Status:       AdminStatusDisabled,
	})
	return reg
}

func TestAuthenticatePassword(t *testing.T) {
	v, err := NewValidator(seedRegistry(t), "test-secret")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	p, err := v.Authenticate(ctx, "Ops@Example.com", "correct horse")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if p.ID != "adm-1" || p.Role != RoleAdmin {
		t.Fatalf("unexpected principal: %+v", p)
	}
	if !p.Can(CapManagePayments) || p.Can(CapManagePlans) {
		t.Fatalf("capability set wrong for admin")
	}

	cases := []struct{ email, password string }{
		{"ops@example.com", "wrong"},
		{"nobody@example.com", "correct horse"},
		{"gone@example.com", "correct horse"}, // disabled account
		{"", "correct horse"},
		{"ops@example.com", ""},
	}
	for _, tc := range cases {
		if _, err := v.Authenticate(ctx, tc.email, tc.password); !errors.Is(err, ErrUnauthenticated) {
			t.Errorf("Authenticate(%q) = %v, want ErrUnauthenticated", tc.email, err)
		}
	}
}

func TestTokenRoundTrip(t *testing.T) {
	reg := seedRegistry(t)
	v, err := NewValidator(reg, "test-secret")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	p, err := v.Authenticate(ctx, "ops@example.com", "correct horse")
	if err != nil {
		t.Fatal(err)
	}
	token, exp, err := v.IssueToken(p)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if !exp.After(time.Now()) {
		t.Fatalf("token already expired: %v", exp)
	}

	got, err := v.AuthenticateToken(ctx, token)
	if err != nil {
		t.Fatalf("authenticate token: %v", err)
	}
	if got.ID != p.ID || got.Email != p.Email || got.Role != p.Role {
		t.Fatalf("round trip mismatch: %+v != %+v", got, p)
	}
}

func TestTokenReflectsRegistryChanges(t *testing.T) {
	reg := seedRegistry(t)
	v, err := NewValidator(reg, "test-secret")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	p, _ := v.Authenticate(ctx, "ops@example.com", "correct horse")
	token, _, err := v.IssueToken(p)
	if err != nil {
		t.Fatal(err)
	}

	// Disable the account after issuance: the token must stop working.
	admin, _ := reg.LookupByID(ctx, "adm-1")
	admin.Status = AdminStatusDisabled
	reg.Put(admin)

	if _, err := v.AuthenticateToken(ctx, token); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for disabled account, got %v", err)
	}
}

func TestTokenRejection(t *testing.T) {
	v, err := NewValidator(seedRegistry(t), "test-secret")
	if err != nil {
		t.Fatal(err)
	}
	other, err := NewValidator(seedRegistry(t), "different-secret")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	p, _ := v.Authenticate(ctx, "ops@example.com", "correct horse")
	foreign, _, err := other.IssueToken(p)
	if err != nil {
		t.Fatal(err)
	}

	for name, token := range map[string]string{
		"empty":         "",
		"garbage":       "not.a.jwt",
		"wrong_secret":  foreign,
		"missing_parts": "abc",
	} {
		if _, err := v.AuthenticateToken(ctx, token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestExpiredToken(t *testing.T) {
	reg := seedRegistry(t)
	past := func() time.Time { return time.Now().Add(-time.Hour) }
	issuerAtPast, err := NewValidator(reg, "test-secret", WithClock(past), WithTokenTTL(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	v, err := NewValidator(reg, "test-secret")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	p, _ := v.Authenticate(ctx, "ops@example.com", "correct horse")
	stale, _, err := issuerAtPast.IssueToken(p)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := v.AuthenticateToken(ctx, stale); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}
