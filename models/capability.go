package models

import (
	"time"

	"github.com/google/uuid"
)

// Capability describes a tool or action an agent may be granted
type Capability struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	Tags        []string  `json:"tags" db:"tags"` // JSONB
	Version     int64     `json:"version" db:"version"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the Capability model
func (Capability) TableName() string {
	return "capabilities"
}

// NewCapability creates a new Capability with a normalized tag set
func NewCapability(name, description string, tags []string) *Capability {
	return &Capability{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		Tags:        NormalizeTags(tags),
		Version:     1,
		CreatedAt:   time.Now().UTC(),
	}
}

// HasTag reports whether tag is in the capability's tag set
func (c *Capability) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to mutate
func (c *Capability) Clone() *Capability {
	out := *c
	out.Tags = append([]string{}, c.Tags...)
	return &out
}
