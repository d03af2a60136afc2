package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrMissingClaim is returned when a required claim is missing
	ErrMissingClaim = errors.New("missing required claim")

	// ErrInvalidClaim is returned when a claim has an unexpected value
	ErrInvalidClaim = errors.New("invalid claim")
)

// Role is the authorization level carried by a token
type Role string

const (
	RolePlatformAdmin Role = "platform_admin"
	RoleTenantAdmin   Role = "tenant_admin"
	RoleTenantViewer  Role = "tenant_viewer"
)

// IsValid reports whether r is a known role
func (r Role) IsValid() bool {
	switch r {
	case RolePlatformAdmin, RoleTenantAdmin, RoleTenantViewer:
		return true
	}
	return false
}

// Claims are the JWT claims of a guardrails token
type Claims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tenant_id,omitempty"`
	Role     Role   `json:"role"`
	AppID    string `json:"app_id,omitempty"`
}

// Principal is the validated identity of a caller
type Principal struct {
	Subject   string
	TenantID  uuid.UUID // uuid.Nil for platform admins without a home tenant
	Role      Role
	AppID     *uuid.UUID
	IssuedAt  time.Time
	ExpiresAt time.Time
	// Legacy is set when the token arrived through a deprecated alias
	Legacy bool
}

// IsPlatformAdmin reports whether the principal administers every tenant
func (p *Principal) IsPlatformAdmin() bool {
	return p.Role == RolePlatformAdmin
}

// CanRead reports whether the principal may read data of tenantID
func (p *Principal) CanRead(tenantID uuid.UUID) bool {
	return p.IsPlatformAdmin() || p.TenantID == tenantID
}

// CanWrite reports whether the principal may change data of tenantID
func (p *Principal) CanWrite(tenantID uuid.UUID) bool {
	if p.IsPlatformAdmin() {
		return true
	}
	return p.Role == RoleTenantAdmin && p.TenantID == tenantID
}

// HasAnyRole checks if the principal has any of the specified roles
func (p *Principal) HasAnyRole(roles ...Role) bool {
	for _, role := range roles {
		if p.Role == role {
			return true
		}
	}
	return false
}

// parseClaims converts Claims to a Principal with proper type conversions
func parseClaims(claims *Claims) (*Principal, error) {
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	if claims.Role == "" {
		return nil, fmt.Errorf("%w: role", ErrMissingClaim)
	}
	if !claims.Role.IsValid() {
		return nil, fmt.Errorf("%w: role %q", ErrInvalidClaim, claims.Role)
	}

	p := &Principal{
		Subject: claims.Subject,
		Role:    claims.Role,
	}

	switch {
	case claims.TenantID != "":
		tenantID, err := uuid.Parse(claims.TenantID)
		if err != nil {
			return nil, fmt.Errorf("%w: tenant_id: %v", ErrInvalidClaim, err)
		}
		p.TenantID = tenantID
	case claims.Role != RolePlatformAdmin:
		return nil, fmt.Errorf("%w: tenant_id", ErrMissingClaim)
	}

	if claims.AppID != "" {
		appID, err := uuid.Parse(claims.AppID)
		if err != nil {
			return nil, fmt.Errorf("%w: app_id: %v", ErrInvalidClaim, err)
		}
		p.AppID = &appID
	}

	if claims.IssuedAt != nil {
		p.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, nil
}
