package models

import (
	"time"

	"github.com/google/uuid"
)

// App represents a client application registered under a tenant
type App struct {
	ID         uuid.UUID `json:"id" db:"id"`
	TenantID   uuid.UUID `json:"tenant_id" db:"tenant_id"`
	Name       string    `json:"name" db:"name"`
	QuotaPerHr int64     `json:"quota_per_hr" db:"quota_per_hr"`
	APIKeyHash string    `json:"-" db:"api_key_hash"` // Never expose in JSON
	KeyPrefix  string    `json:"key_prefix" db:"key_prefix"`
	Revoked    bool      `json:"revoked" db:"revoked"`
	Version    int64     `json:"version" db:"version"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the App model
func (App) TableName() string {
	return "apps"
}

// NewApp creates a new App instance at version 1
func NewApp(tenantID uuid.UUID, name string, quotaPerHr int64, apiKeyHash, keyPrefix string) *App {
	now := time.Now().UTC()
	return &App{
		ID:         uuid.New(),
		TenantID:   tenantID,
		Name:       name,
		QuotaPerHr: quotaPerHr,
		APIKeyHash: apiKeyHash,
		KeyPrefix:  keyPrefix,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Clone returns a copy safe to mutate
func (a *App) Clone() *App {
	c := *a
	return &c
}
