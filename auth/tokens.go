// Package auth issues and validates the HS256 bearer tokens that identify
// callers of the control plane.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken is returned when the token is invalid
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidIssuer is returned when the token issuer is invalid
	ErrInvalidIssuer = errors.New("invalid issuer")

	// ErrInvalidAudience is returned when the token audience is invalid
	ErrInvalidAudience = errors.New("invalid audience")
)

// MinSecretLength is the shortest accepted signing secret in bytes
const MinSecretLength = 32

// Config holds the signing settings shared by Issuer and Validator
type Config struct {
	Secret   string
	Issuer   string
	Audience string
	// TTL is the lifetime of issued tokens
	TTL time.Duration
	// Leeway tolerates clock skew when checking exp, nbf and iat
	Leeway time.Duration
}

func (c Config) validate() error {
	if len(c.Secret) < MinSecretLength {
		return fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)
	}
	if c.Issuer == "" {
		return errors.New("jwt issuer is required")
	}
	if c.Audience == "" {
		return errors.New("jwt audience is required")
	}
	return nil
}

// Validator validates guardrails tokens
type Validator struct {
	secret []byte
	parser *jwt.Parser
}

// NewValidator creates a new HS256 token validator
func NewValidator(cfg Config) (*Validator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Validator{
		secret: []byte(cfg.Secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithAudience(cfg.Audience),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithLeeway(cfg.Leeway),
		),
	}, nil
}

// ValidateToken validates a JWT token and returns the principal it names
func (v *Validator) ValidateToken(_ context.Context, tokenString string) (*Principal, error) {
	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenInvalidIssuer):
			return nil, ErrInvalidIssuer
		case errors.Is(err, jwt.ErrTokenInvalidAudience):
			return nil, ErrInvalidAudience
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	p, err := parseClaims(claims)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return p, nil
}

// Issuer signs guardrails tokens
type Issuer struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// DefaultTTL is the token lifetime when Config.TTL is zero
const DefaultTTL = time.Hour

// NewIssuer creates a new HS256 token issuer
func NewIssuer(cfg Config) (*Issuer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// TokenRequest describes the identity to put in a token
type TokenRequest struct {
	Subject  string
	TenantID uuid.UUID
	Role     Role
	AppID    *uuid.UUID
	// TTL overrides the issuer's default lifetime when positive
	TTL time.Duration
}

// Issue signs a token for req and returns it with its expiry
func (i *Issuer) Issue(req TokenRequest) (string, time.Time, error) {
	if req.Subject == "" {
		return "", time.Time{}, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	if !req.Role.IsValid() {
		return "", time.Time{}, fmt.Errorf("%w: role %q", ErrInvalidClaim, req.Role)
	}
	if req.TenantID == uuid.Nil && req.Role != RolePlatformAdmin {
		return "", time.Time{}, fmt.Errorf("%w: tenant_id", ErrMissingClaim)
	}

	ttl := i.ttl
	if req.TTL > 0 {
		ttl = req.TTL
	}
	now := i.now().UTC()
	expiresAt := now.Add(ttl)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   req.Subject,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
		Role: req.Role,
	}
	if req.TenantID != uuid.Nil {
		claims.TenantID = req.TenantID.String()
	}
	if req.AppID != nil {
		claims.AppID = req.AppID.String()
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}
