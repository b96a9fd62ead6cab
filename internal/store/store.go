// Package store is the only code that writes tips to storage. Two backends
// share one interface: an in-process map for demo, test and dev, and a
// postgres backend for production. Callers never branch on which one they
// hold. Human workflow actions (assignment, warrant flips, preservation
// issuance, forensics handoff) live here because they must be serialized
// with tip writes and must leave an audit entry.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tipline/backend/internal/audit"
	"github.com/tipline/backend/internal/models"
	"github.com/tipline/backend/internal/wilson"
)

var (
	// ErrNotFound maps to HTTP 404 for unknown tips.
	ErrNotFound = errors.New("tip not found")
	// ErrFileNotFound maps to HTTP 404 for unknown file IDs.
	ErrFileNotFound = errors.New("file not found")
	// ErrRequestNotFound maps to HTTP 404 for unknown preservation requests.
	ErrRequestNotFound = errors.New("preservation request not found")
	// ErrConflict maps to HTTP 409: the tip's current state forbids the
	// action (BLOCKED, duplicate, or a PAUSED deconfliction hold).
	ErrConflict = errors.New("action not permitted for this tip")
	// ErrBadTransition maps to HTTP 400 for warrant statuses outside
	// applied/granted/denied.
	ErrBadTransition = errors.New("unsupported warrant status")
)

// ListFilter narrows List. Zero values mean "any": an empty Tier or Unit
// matches every tip and Limit zero disables pagination.
type ListFilter struct {
	Tier       models.Tier
	Status     models.TipStatus
	Unit       string
	CrisisOnly bool
	Limit      int
	Offset     int
}

// ListResult carries one page plus the pre-pagination total.
type ListResult struct {
	Tips  []*models.Tip
	Total int
}

// Stats is the tip-side aggregate for /api/stats.
type Stats struct {
	ByTier       map[string]int `json:"by_tier"`
	CrisisAlerts int            `json:"crisis_alerts"`
	Blocked      int            `json:"blocked"`
	Total        int            `json:"total"`
}

// BundleStats summarizes dedup and bundling for /api/bundles/stats.
type BundleStats struct {
	TotalTips        int `json:"total_tips"`
	Duplicates       int `json:"duplicates"`
	BundledReports   int `json:"bundled_reports"`
	BundledIncidents int `json:"bundled_incidents"`
	ClusteredTips    int `json:"clustered_tips"`
}

// WarrantChange is one human warrant action on a single file.
type WarrantChange struct {
	Status        models.WarrantStatus
	WarrantNumber string
	GrantedBy     string
	ApprovedBy    string
}

// HandoffInput is one forensics handoff request.
type HandoffInput struct {
	Tool        string
	OfficerID   string
	OfficerName string
	Notes       string
}

// TipRepository is the storage contract shared by both backends.
type TipRepository interface {
	Upsert(ctx context.Context, tip *models.Tip) error
	Get(ctx context.Context, tipID string) (*models.Tip, error)
	List(ctx context.Context, filter ListFilter) (ListResult, error)
	Assign(ctx context.Context, tipID, investigatorID, investigatorName string) (*models.Tip, error)
	UpdateFileWarrant(ctx context.Context, tipID, fileID string, change WarrantChange) (*models.TipFile, error)
	IssuePreservation(ctx context.Context, requestID, approvedBy string) (*models.PreservationRequest, error)
	RecordHandoff(ctx context.Context, tipID string, in HandoffInput) (*models.ForensicsHandoff, error)
	Handoffs(ctx context.Context, tipID string) ([]models.ForensicsHandoff, error)
	FindRelated(ctx context.Context, tip *models.Tip) ([]string, error)
	Recent(ctx context.Context, since time.Time) ([]*models.Tip, error)
	Stats(ctx context.Context) (Stats, error)
	BundleStats(ctx context.Context) (BundleStats, error)
}

// ============================================================================
// Semantics shared by both backends
// ============================================================================

// matchesFilter applies every narrowing clause. Duplicates only show up when
// asked for by status, so the triage queue stays free of shadow records.
func matchesFilter(tip *models.Tip, f ListFilter) bool {
	if tip.Status == models.StatusDuplicate && f.Status != models.StatusDuplicate {
		return false
	}
	if f.Tier != "" && (tip.Priority == nil || tip.Priority.Tier != f.Tier) {
		return false
	}
	if f.Status != "" && tip.Status != f.Status {
		return false
	}
	if f.Unit != "" && (tip.Priority == nil || tip.Priority.RoutingUnit != f.Unit) {
		return false
	}
	if f.CrisisOnly && !crisisFlagged(tip) {
		return false
	}
	return true
}

func crisisFlagged(tip *models.Tip) bool {
	return tip.Priority != nil && tip.Priority.VictimCrisisAlert
}

// sortTips orders by tier rank, then newest first. Tips without a priority
// rank after every tier so mid-pipeline records do not jump the queue.
func sortTips(tips []*models.Tip) {
	sort.SliceStable(tips, func(i, j int) bool {
		ri, rj := tierRankOf(tips[i]), tierRankOf(tips[j])
		if ri != rj {
			return ri < rj
		}
		return tips[i].ReceivedAt.After(tips[j].ReceivedAt)
	})
}

func tierRankOf(tip *models.Tip) int {
	if tip.Priority == nil {
		return models.TierRank("") + 1
	}
	return models.TierRank(tip.Priority.Tier)
}

func pageWindow(n int, f ListFilter) (lo, hi int) {
	lo = f.Offset
	if lo > n {
		lo = n
	}
	hi = n
	if f.Limit > 0 && lo+f.Limit < hi {
		hi = lo + f.Limit
	}
	return lo, hi
}

// assignGuard enforces the workflow invariants: nothing human-actionable
// happens to a blocked tip, a duplicate, or a paused deconfliction hold.
func assignGuard(tip *models.Tip) error {
	if tip.Status == models.StatusBlocked || tip.Status == models.StatusDuplicate {
		return fmt.Errorf("%w: status is %s", ErrConflict, tip.Status)
	}
	if tip.Priority != nil && tip.Priority.Tier == models.TierPaused {
		return fmt.Errorf("%w: tip is paused for interagency deconfliction", ErrConflict)
	}
	return nil
}

func validWarrantTransition(s models.WarrantStatus) bool {
	switch s {
	case models.WarrantApplied, models.WarrantGranted, models.WarrantDenied:
		return true
	}
	return false
}

// applyWarrantChange mutates the tip for one warrant action and reports
// whether anything observable changed. A repeat of the current state is a
// no-op: same file back, no audit entry, no event.
func applyWarrantChange(tip *models.Tip, fileID string, change WarrantChange) (*models.TipFile, bool, error) {
	if !validWarrantTransition(change.Status) {
		return nil, false, fmt.Errorf("%w: %q", ErrBadTransition, change.Status)
	}
	file := tip.FileByID(fileID)
	if file == nil {
		return nil, false, fmt.Errorf("%w: %s on tip %s", ErrFileNotFound, fileID, tip.TipID)
	}
	if file.WarrantStatus == change.Status &&
		(change.WarrantNumber == "" || change.WarrantNumber == file.WarrantNumber) {
		return file, false, nil
	}

	file.WarrantStatus = change.Status
	if change.WarrantNumber != "" {
		file.WarrantNumber = change.WarrantNumber
	}
	wilson.Recompute(file)
	if tip.LegalStatus != nil {
		wilson.UpdateAggregate(tip.LegalStatus, tip.Files)
	}
	tip.UpdatedAt = time.Now().UTC()
	return file, true, nil
}

func warrantAuditEntry(tipID string, file *models.TipFile, prev models.WarrantStatus, change WarrantChange) *models.AuditEntry {
	actor := change.GrantedBy
	if actor == "" {
		actor = change.ApprovedBy
	}
	summary := fmt.Sprintf("warrant %s on file %s (was %s)", change.Status, file.FileID, prev)
	if change.WarrantNumber != "" {
		summary += fmt.Sprintf(", warrant %s", change.WarrantNumber)
	}
	if change.Status == models.WarrantGranted && !file.FileAccessBlocked {
		summary += "; file now accessible"
	}
	e := audit.NewEntry(tipID, models.AgentHuman, models.AuditSuccess, summary)
	e.HumanActor = actor
	return e
}

// issuePreservation flips a draft to issued. Retries after success return
// the already-issued request unchanged.
func issuePreservation(tip *models.Tip, requestID, approvedBy string) (*models.PreservationRequest, bool) {
	for i := range tip.Preservation {
		req := &tip.Preservation[i]
		if req.RequestID != requestID {
			continue
		}
		if req.Status != models.PreservationDraft {
			return req, false
		}
		req.Status = models.PreservationIssued
		req.IssuedAt = time.Now().UTC()
		req.ApprovedBy = approvedBy
		tip.UpdatedAt = req.IssuedAt
		return req, true
	}
	return nil, false
}

func preservationAuditEntry(tipID string, req *models.PreservationRequest) *models.AuditEntry {
	e := audit.NewEntry(tipID, models.AgentHuman, models.AuditSuccess,
		fmt.Sprintf("preservation request %s issued to %s", req.RequestID, req.ESPName))
	e.HumanActor = req.ApprovedBy
	return e
}

// buildHandoff freezes the aggregate for the forensics package.
func buildHandoff(tip *models.Tip, in HandoffInput) (models.ForensicsHandoff, error) {
	snapshot, err := json.Marshal(tip)
	if err != nil {
		return models.ForensicsHandoff{}, fmt.Errorf("snapshot tip %s: %w", tip.TipID, err)
	}
	h := models.ForensicsHandoff{
		HandoffID:   uuid.New().String(),
		TipID:       tip.TipID,
		GeneratedAt: time.Now().UTC(),
		Tool:        in.Tool,
		OfficerID:   in.OfficerID,
		OfficerName: in.OfficerName,
		Notes:       in.Notes,
		Snapshot:    snapshot,
	}
	if tip.Priority != nil {
		h.Tier = tip.Priority.Tier
	}
	return h, nil
}

func handoffAuditEntry(h models.ForensicsHandoff) *models.AuditEntry {
	e := audit.NewEntry(h.TipID, models.AgentHuman, models.AuditSuccess,
		fmt.Sprintf("forensics handoff to %s recorded for officer %s", h.Tool, h.OfficerID))
	e.HumanActor = h.OfficerID
	return e
}

// relatedIdentifiers lists the exact-match keys FindRelated joins on.
func relatedIdentifiers(tip *models.Tip) (usernames, ips, hashes []string) {
	seen := make(map[string]bool)
	add := func(dst *[]string, v string) {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" || seen[v] {
			return
		}
		seen[v] = true
		*dst = append(*dst, v)
	}
	if e := tip.Entities; e != nil {
		for _, u := range e.Usernames {
			add(&usernames, u)
		}
		for _, s := range e.Subjects {
			add(&usernames, s.Username)
		}
		for _, ip := range e.IPAddresses {
			add(&ips, ip)
		}
	}
	for i := range tip.Files {
		add(&hashes, tip.Files[i].SHA256)
	}
	return usernames, ips, hashes
}
