// Package audit maintains the append-only action trail for every tip.
// Entries are court-facing: once written they are never updated or removed,
// and replaying the same entry twice leaves a single record.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tipline/backend/internal/models"
)

// Log is the audit trail store. Append assigns entry IDs, sequence numbers
// and timestamps when missing, and is idempotent by entry ID.
type Log interface {
	Append(ctx context.Context, e *models.AuditEntry) error
	ByTip(ctx context.Context, tipID string) ([]models.AuditEntry, error)
	ByAgent(ctx context.Context, agent string, limit int) ([]models.AuditEntry, error)
}

// NewEntry builds an audit entry with identity and timestamp filled in.
func NewEntry(tipID, agent string, status models.AuditStatus, summary string) *models.AuditEntry {
	return &models.AuditEntry{
		EntryID:   uuid.New().String(),
		TipID:     tipID,
		Agent:     agent,
		Timestamp: time.Now().UTC(),
		Status:    status,
		Summary:   summary,
	}
}
