package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultIssuer   = "admincore"
	defaultTokenTTL = 15 * time.Minute
)

// Claims represents the JWT claims issued for admin bearer tokens.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Validator authenticates operator credentials against an injected registry.
// Password and token exchanges both resolve to a Principal; authorization is
// not decided here.
type Validator struct {
	registry Registry
	secret   []byte
	issuer   string
	tokenTTL time.Duration
	now      func() time.Time
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ValidatorOption {
	return func(v *Validator) {
		if s := strings.TrimSpace(issuer); s != "" {
			v.issuer = s
		}
	}
}

// WithTokenTTL overrides the bearer token lifetime.
func WithTokenTTL(ttl time.Duration) ValidatorOption {
	return func(v *Validator) {
		if ttl > 0 {
			v.tokenTTL = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ValidatorOption {
	return func(v *Validator) {
		if fn != nil {
			v.now = fn
		}
	}
}

// NewValidator constructs a Validator. The signing secret is required; the
// registry is the single source of truth for admin identity.
func NewValidator(registry Registry, secret string, opts ...ValidatorOption) (*Validator, error) {
	if registry == nil {
		return nil, errors.New("access: registry is required")
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("access: signing secret is required")
	}
	v := &Validator{
		registry: registry,
		secret:   []byte(secret),
		issuer:   defaultIssuer,
		tokenTTL: defaultTokenTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Authenticate checks an email+password pair against the registry and
// returns the resolved principal. Every failure mode collapses into
// ErrUnauthenticated so callers cannot probe which part was wrong.
func (v *Validator) Authenticate(ctx context.Context, email, password string) (Principal, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return Principal{}, ErrUnauthenticated
	}
	admin, err := v.registry.LookupByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrUnauthenticated
		}
		return Principal{}, err
	}
	if admin.Status != AdminStatusActive {
		return Principal{}, ErrUnauthenticated
	}
	if err := VerifyPassword(admin.PasswordHash, password); err != nil {
		return Principal{}, ErrUnauthenticated
	}
	if _, err := ParseRole(string(admin.Role)); err != nil {
		return Principal{}, fmt.Errorf("registry record %s: %w", admin.ID, err)
	}
	return NewPrincipal(admin), nil
}

// IssueToken signs an HS256 bearer token for the principal.
func (v *Validator) IssueToken(principal Principal) (string, time.Time, error) {
	now := v.now().UTC()
	exp := now.Add(v.tokenTTL)
	claims := Claims{
		Role: string(principal.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   principal.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// AuthenticateToken verifies a bearer token and re-resolves the principal
// against the registry, so a role change or disablement takes effect on the
// next request even for tokens issued earlier.
func (v *Validator) AuthenticateToken(ctx context.Context, token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	}, jwt.WithIssuer(v.issuer), jwt.WithTimeFunc(v.now))
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return Principal{}, ErrInvalidToken
	}

	admin, err := v.registry.LookupByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrInvalidToken
		}
		return Principal{}, err
	}
	if admin.Status != AdminStatusActive {
		return Principal{}, ErrInvalidToken
	}
	if _, err := ParseRole(string(admin.Role)); err != nil {
		return Principal{}, fmt.Errorf("registry record %s: %w", admin.ID, err)
	}
	return NewPrincipal(admin), nil
}
