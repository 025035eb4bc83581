// Package models contains shared data models used across the Trialbench codebase.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Definition is one versioned probe specification. Editing a definition
// creates a new row whose ParentID points at the edited row, forming a
// version chain (a lineage).
type Definition struct {
	ID        uuid.UUID       `db:"id"         json:"id"`
	DomainID  uuid.UUID       `db:"domain_id"  json:"domain_id"`
	ParentID  *uuid.UUID      `db:"parent_id"  json:"parent_id,omitempty"`
	Name      string          `db:"name"       json:"name"`
	Version   int             `db:"version"    json:"version"`
	Content   json.RawMessage `db:"content" json:"content"`
	DeletedAt *time.Time      `db:"deleted_at" json:"deleted_at,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// Domain groups definitions that probe the same subject area.
type Domain struct {
	ID        uuid.UUID  `db:"id"         json:"id"`
	Name      string     `db:"name"       json:"name"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// Experiment is an optional grouping of runs launched for one study.
type Experiment struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Name      string    `db:"name"       json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Scenario is one probe case belonging to a definition.
type Scenario struct {
	ID           uuid.UUID  `db:"id"            json:"id"`
	DefinitionID uuid.UUID  `db:"definition_id" json:"definition_id"`
	DeletedAt    *time.Time `db:"deleted_at"    json:"deleted_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
}
