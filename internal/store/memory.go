package store

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/tipline/backend/internal/audit"
	"github.com/tipline/backend/internal/events"
	"github.com/tipline/backend/internal/models"
)

// MemoryStore keeps every tip in a mutex-guarded map. Reads hand out deep
// clones so callers can never alias store memory; writes go through the
// same lock the pipeline's upserts use.
type MemoryStore struct {
	mu       sync.RWMutex
	tips     map[string]*models.Tip
	handoffs map[string][]models.ForensicsHandoff

	auditLog audit.Log
	bus      *events.Bus
	logger   *log.Logger
}

// NewMemoryStore wires the in-process backend. auditLog and bus may be nil
// in narrow tests; human actions then skip their trail and event writes.
func NewMemoryStore(auditLog audit.Log, bus *events.Bus) *MemoryStore {
	return &MemoryStore{
		tips:     make(map[string]*models.Tip),
		handoffs: make(map[string][]models.ForensicsHandoff),
		auditLog: auditLog,
		bus:      bus,
		logger:   log.New(log.Writer(), "[Store] ", log.LstdFlags),
	}
}

func (s *MemoryStore) Upsert(_ context.Context, tip *models.Tip) error {
	cp := tip.Clone()
	cp.AuditTrail = nil // trails live in the audit log, hydrated on read
	s.mu.Lock()
	s.tips[cp.TipID] = cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, tipID string) (*models.Tip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tip, ok := s.tips[tipID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, tipID)
	}
	return tip.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context, filter ListFilter) (ListResult, error) {
	s.mu.RLock()
	matched := make([]*models.Tip, 0, len(s.tips))
	for _, tip := range s.tips {
		if matchesFilter(tip, filter) {
			matched = append(matched, tip)
		}
	}
	s.mu.RUnlock()

	sortTips(matched)
	total := len(matched)
	lo, hi := pageWindow(total, filter)
	page := make([]*models.Tip, 0, hi-lo)
	for _, tip := range matched[lo:hi] {
		page = append(page, tip.Clone())
	}
	return ListResult{Tips: page, Total: total}, nil
}

func (s *MemoryStore) Assign(ctx context.Context, tipID, investigatorID, investigatorName string) (*models.Tip, error) {
	s.mu.Lock()
	tip, ok := s.tips[tipID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, tipID)
	}
	if err := assignGuard(tip); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	tip.AssignedTo = investigatorID
	tip.Status = models.StatusAssigned
	tip.UpdatedAt = time.Now().UTC()
	out := tip.Clone()
	s.mu.Unlock()

	s.append(ctx, assignAuditEntry(tipID, investigatorID, investigatorName))
	s.logger.Printf("👤 %s assigned to %s", tipID, investigatorID)
	return out, nil
}

func (s *MemoryStore) UpdateFileWarrant(ctx context.Context, tipID, fileID string, change WarrantChange) (*models.TipFile, error) {
	s.mu.Lock()
	tip, ok := s.tips[tipID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, tipID)
	}
	var prev models.WarrantStatus
	if f := tip.FileByID(fileID); f != nil {
		prev = f.WarrantStatus
	}
	file, changed, err := applyWarrantChange(tip, fileID, change)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	out := *file
	s.mu.Unlock()

	if changed {
		s.append(ctx, warrantAuditEntry(tipID, &out, prev, change))
		s.emit(models.StageEvent{
			TipID:     tipID,
			Step:      models.StepWarrantUpdate,
			Status:    models.EventDone,
			Timestamp: time.Now().UTC(),
			Detail:    fmt.Sprintf("file %s warrant %s", fileID, change.Status),
		})
		s.logger.Printf("⚖️ %s file %s warrant -> %s", tipID, fileID, change.Status)
	}
	return &out, nil
}

func (s *MemoryStore) IssuePreservation(ctx context.Context, requestID, approvedBy string) (*models.PreservationRequest, error) {
	s.mu.Lock()
	var owner *models.Tip
	for _, tip := range s.tips {
		for i := range tip.Preservation {
			if tip.Preservation[i].RequestID == requestID {
				owner = tip
				break
			}
		}
		if owner != nil {
			break
		}
	}
	if owner == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
	}
	req, changed := issuePreservation(owner, requestID, approvedBy)
	out := *req
	tipID := owner.TipID
	s.mu.Unlock()

	if changed {
		s.append(ctx, preservationAuditEntry(tipID, &out))
		s.logger.Printf("📨 preservation %s issued for %s", requestID, tipID)
	}
	return &out, nil
}

func (s *MemoryStore) RecordHandoff(ctx context.Context, tipID string, in HandoffInput) (*models.ForensicsHandoff, error) {
	s.mu.Lock()
	tip, ok := s.tips[tipID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, tipID)
	}
	if err := assignGuard(tip); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	handoff, err := buildHandoff(tip, in)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.handoffs[tipID] = append(s.handoffs[tipID], handoff)
	s.mu.Unlock()

	s.append(ctx, handoffAuditEntry(handoff))
	s.logger.Printf("📦 %s handed to %s (officer %s)", tipID, in.Tool, in.OfficerID)
	return &handoff, nil
}

func (s *MemoryStore) Handoffs(_ context.Context, tipID string) ([]models.ForensicsHandoff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ForensicsHandoff(nil), s.handoffs[tipID]...), nil
}

// FindRelated returns IDs of stored tips sharing a username, IP or file hash
// with the given one. The linker stage calls this mid-pipeline.
func (s *MemoryStore) FindRelated(_ context.Context, tip *models.Tip) ([]string, error) {
	usernames, ips, hashes := relatedIdentifiers(tip)
	if len(usernames)+len(ips)+len(hashes) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var related []string
	for id, other := range s.tips {
		if id == tip.TipID || other.Status == models.StatusDuplicate {
			continue
		}
		ou, oi, oh := relatedIdentifiers(other)
		if intersects(usernames, ou) || intersects(ips, oi) || intersects(hashes, oh) {
			related = append(related, id)
		}
	}
	sort.Strings(related)
	return related, nil
}

func (s *MemoryStore) Recent(_ context.Context, since time.Time) ([]*models.Tip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Tip
	for _, tip := range s.tips {
		if !tip.ReceivedAt.Before(since) {
			out = append(out, tip.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := Stats{ByTier: make(map[string]int)}
	for _, tip := range s.tips {
		stats.Total++
		if tip.Status == models.StatusBlocked {
			stats.Blocked++
		}
		if tip.Priority != nil {
			stats.ByTier[string(tip.Priority.Tier)]++
			if tip.Priority.VictimCrisisAlert {
				stats.CrisisAlerts++
			}
		}
	}
	return stats, nil
}

func (s *MemoryStore) BundleStats(_ context.Context) (BundleStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := BundleStats{}
	for _, tip := range s.tips {
		stats.TotalTips++
		if tip.Status == models.StatusDuplicate {
			stats.Duplicates++
		}
		if tip.IsBundled {
			stats.BundledReports++
			stats.BundledIncidents += tip.BundledIncidentCount
		}
		if tip.Links != nil && len(tip.Links.ClusterFlags) > 0 {
			stats.ClusteredTips++
		}
	}
	return stats, nil
}

// Reset clears every tip and handoff. Only the test-mode HTTP helper and
// package tests call it.
func (s *MemoryStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tips = make(map[string]*models.Tip)
	s.handoffs = make(map[string][]models.ForensicsHandoff)
}

func (s *MemoryStore) append(ctx context.Context, entry *models.AuditEntry) {
	if s.auditLog == nil {
		return
	}
	if err := s.auditLog.Append(ctx, entry); err != nil {
		s.logger.Printf("⚠️ audit append failed for %s: %v", entry.TipID, err)
	}
}

func (s *MemoryStore) emit(ev models.StageEvent) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}

func assignAuditEntry(tipID, investigatorID, investigatorName string) *models.AuditEntry {
	summary := fmt.Sprintf("tip assigned to %s", investigatorID)
	if investigatorName != "" {
		summary = fmt.Sprintf("tip assigned to %s (%s)", investigatorName, investigatorID)
	}
	e := audit.NewEntry(tipID, models.AgentHuman, models.AuditSuccess, summary)
	e.HumanActor = investigatorID
	return e
}

func intersects(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, v := range a {
		set[v] = true
	}
	for _, v := range b {
		if set[v] {
			return true
		}
	}
	return false
}
