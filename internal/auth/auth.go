// Package auth resolves the caller's role and tenant from bearer tokens.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Errors
var (
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrInvalidRole  = errors.New("auth: unknown role")
	ErrNoSecret     = errors.New("auth: signing secret not configured")
)

// Role is the caller's position in the platform.
type Role string

const (
	RoleSaaSOwner     Role = "SaaSOwner"
	RoleHospitalAdmin Role = "HospitalAdmin"
	RoleStaff         Role = "Staff"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleSaaSOwner, RoleHospitalAdmin, RoleStaff:
		return true
	}
	return false
}

// Identity is the authenticated caller. TenantID is empty for platform
// operators.
type Identity struct {
	Subject  string `json:"subject"`
	Role     Role   `json:"role"`
	TenantID string `json:"tenantId,omitempty"`
}

// IsPlatformOperator reports whether the caller runs the whole platform.
func (id *Identity) IsPlatformOperator() bool {
	return id != nil && id.Role == RoleSaaSOwner
}

// CanAccessTenant reports whether the caller may act on tenantID.
func (id *Identity) CanAccessTenant(tenantID string) bool {
	if id == nil {
		return false
	}
	return id.IsPlatformOperator() || (id.TenantID != "" && id.TenantID == tenantID)
}

// Claims is the JWT payload.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tenant_id,omitempty"`
	Role     Role   `json:"role"`
}

// Tokens signs and verifies HS256 tokens.
type Tokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens creates a signer/verifier. An empty issuer skips the issuer check.
func NewTokens(secret, issuer string, ttl time.Duration) (*Tokens, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Tokens{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// Issue mints a token for id.
func (t *Tokens) Issue(id Identity) (string, error) {
	if !id.Role.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, id.Role)
	}
	now := t.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Subject,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
		TenantID: id.TenantID,
		Role:     id.Role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Parse verifies a token and returns its identity.
func (t *Tokens) Parse(raw string) (*Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !claims.Role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, claims.Role)
	}
	return &Identity{Subject: claims.Subject, Role: claims.Role, TenantID: claims.TenantID}, nil
}
