// Package audit records fire-and-forget audit entries. Recording must
// never block or fail the operation being audited.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/probelab/trialbench/internal/store"
	"github.com/probelab/trialbench/pkg/models"
)

// Sink records audit entries.
type Sink interface {
	Record(ctx context.Context, action string, actorID, entityID uuid.UUID, entityType string, metadata any)
}

// StoreSink persists audit records asynchronously. Failures are logged
// and dropped.
type StoreSink struct {
	store store.Store
}

// NewStoreSink creates a StoreSink.
func NewStoreSink(st store.Store) *StoreSink {
	return &StoreSink{store: st}
}

// Record writes the entry in a background goroutine detached from the
// caller's context so a cancelled request still gets audited.
func (s *StoreSink) Record(ctx context.Context, action string, actorID, entityID uuid.UUID, entityType string, metadata any) {
	raw, err := json.Marshal(metadata)
	if err != nil {
		slog.Warn("audit metadata not serializable", "action", action, "error", err)
		raw = nil
	}
	rec := &models.AuditRecord{
		ID:         uuid.New(),
		Action:     action,
		ActorID:    actorID,
		EntityID:   entityID,
		EntityType: entityType,
		Metadata:   raw,
		CreatedAt:  time.Now().UTC(),
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in audit sink", "action", action, "error", r)
			}
		}()
		writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.InsertAuditRecord(writeCtx, rec); err != nil {
			slog.Warn("audit record dropped", "action", action, "entity_id", entityID, "error", err)
		}
	}()
}
