package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tipline/backend/internal/models"
)

// MemoryLog is the in-process audit store used in memory mode and tests.
type MemoryLog struct {
	mu     sync.Mutex
	byTip  map[string][]models.AuditEntry
	seen   map[string]bool
	lastTS map[string]time.Time
	seq    int64
}

// NewMemoryLog returns an empty audit log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		byTip:  make(map[string][]models.AuditEntry),
		seen:   make(map[string]bool),
		lastTS: make(map[string]time.Time),
	}
}

// Append records an entry. Re-appending an entry ID already in the log is a
// no-op, so replays after retries cannot double-write the trail.
func (l *MemoryLog) Append(_ context.Context, e *models.AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.EntryID == "" {
		e.EntryID = uuid.New().String()
	}
	if l.seen[e.EntryID] {
		return nil
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	// Wall clocks can step backwards; trail order within a tip must not.
	if last, ok := l.lastTS[e.TipID]; ok && e.Timestamp.Before(last) {
		e.Timestamp = last
	}
	l.seq++
	e.Seq = l.seq
	l.lastTS[e.TipID] = e.Timestamp
	l.seen[e.EntryID] = true
	l.byTip[e.TipID] = append(l.byTip[e.TipID], *e)
	return nil
}

// ByTip returns a tip's entries in append order.
func (l *MemoryLog) ByTip(_ context.Context, tipID string) ([]models.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := l.byTip[tipID]
	out := make([]models.AuditEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// ByAgent returns the most recent entries written by one agent, newest first.
func (l *MemoryLog) ByAgent(_ context.Context, agent string, limit int) ([]models.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []models.AuditEntry
	for _, entries := range l.byTip {
		for _, e := range entries {
			if e.Agent == agent {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Reset drops all entries. Test environment only.
func (l *MemoryLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byTip = make(map[string][]models.AuditEntry)
	l.seen = make(map[string]bool)
	l.lastTS = make(map[string]time.Time)
	l.seq = 0
}
