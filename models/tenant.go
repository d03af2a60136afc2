package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant represents an isolated customer of the guardrails control plane
type Tenant struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	Name      string     `json:"name" db:"name"`
	Version   int64      `json:"version" db:"version"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" db:"deleted_at"` // Tombstone, never hard-deleted
}

// TableName returns the table name for the Tenant model
func (Tenant) TableName() string {
	return "tenants"
}

// NewTenant creates a new Tenant instance at version 1
func NewTenant(name string) *Tenant {
	now := time.Now().UTC()
	return &Tenant{
		ID:        uuid.New(),
		Name:      name,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsDeleted reports whether the tenant carries a tombstone
func (t *Tenant) IsDeleted() bool {
	return t.DeletedAt != nil
}

// Clone returns a deep copy safe to mutate
func (t *Tenant) Clone() *Tenant {
	c := *t
	if t.DeletedAt != nil {
		d := *t.DeletedAt
		c.DeletedAt = &d
	}
	return &c
}
