package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditRecord is one fire-and-forget audit entry. Recording an audit
// entry must never block or fail the operation being audited.
type AuditRecord struct {
	ID         uuid.UUID       `db:"id"          json:"id"`
	Action     string          `db:"action"      json:"action"`
	ActorID    uuid.UUID       `db:"actor_id"    json:"actor_id"`
	EntityID   uuid.UUID       `db:"entity_id"   json:"entity_id"`
	EntityType string          `db:"entity_type" json:"entity_type"`
	Metadata   json.RawMessage `db:"metadata"    json:"metadata,omitempty"`
	CreatedAt  time.Time       `db:"created_at"  json:"created_at"`
}
