package ingest

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tipline/backend/internal/audit"
	"github.com/tipline/backend/internal/models"
)

const (
	defaultScanWindow   = 30 * 24 * time.Hour
	escalationThreshold = 3
)

// ClusterStore is the slice of the repository the scanner needs.
type ClusterStore interface {
	Recent(ctx context.Context, since time.Time) ([]*models.Tip, error)
	Upsert(ctx context.Context, tip *models.Tip) error
}

// ScanReport summarizes one cluster scan for the jobs endpoint.
type ScanReport struct {
	ScanID      string   `json:"scan_id"`
	Clusters    int      `json:"clusters"`
	Escalations int      `json:"escalations"`
	DurationMs  int64    `json:"duration_ms"`
	Errors      []string `json:"errors,omitempty"`
}

// Scanner links tips that share a subject username, an IP address, or a
// file hash inside a bounded time window. Shared identifiers become cluster
// flags on every member; clusters large enough to suggest a ring escalate
// their low-tier members to URGENT.
type Scanner struct {
	store  ClusterStore
	audit  audit.Log
	window time.Duration
	logger *log.Logger
}

func NewScanner(store ClusterStore, auditLog audit.Log, window time.Duration) *Scanner {
	if window <= 0 {
		window = defaultScanWindow
	}
	return &Scanner{
		store:  store,
		audit:  auditLog,
		window: window,
		logger: log.New(log.Writer(), "[ClusterScan] ", log.LstdFlags),
	}
}

// Start runs the scanner every interval until ctx ends.
func (s *Scanner) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Run(ctx); err != nil {
					s.logger.Printf("⚠️ scheduled scan failed: %v", err)
				}
			}
		}
	}()
}

// Run performs one full scan. Per-tip persistence failures are collected in
// the report rather than aborting the scan.
func (s *Scanner) Run(ctx context.Context) (ScanReport, error) {
	started := time.Now()
	report := ScanReport{ScanID: uuid.New().String()}

	tips, err := s.store.Recent(ctx, started.Add(-s.window))
	if err != nil {
		return report, fmt.Errorf("cluster scan: %w", err)
	}

	groups := make(map[string][]*models.Tip)
	for _, tip := range tips {
		if tip.Status == models.StatusDuplicate {
			continue
		}
		for _, id := range clusterIdentifiers(tip) {
			groups[id] = append(groups[id], tip)
		}
	}

	changed := make(map[string]*models.Tip)
	escalated := make(map[string]bool)
	for _, flag := range sortedKeys(groups) {
		members := groups[flag]
		if len(members) < 2 {
			continue
		}
		report.Clusters++
		for _, tip := range members {
			if appendClusterFlag(tip, flag) {
				changed[tip.TipID] = tip
			}
			if len(members) >= escalationThreshold && !escalated[tip.TipID] && s.escalate(ctx, tip, flag, len(members)) {
				escalated[tip.TipID] = true
				report.Escalations++
				changed[tip.TipID] = tip
			}
		}
	}

	for _, tip := range changed {
		tip.UpdatedAt = time.Now().UTC()
		if err := s.store.Upsert(ctx, tip); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", tip.TipID, err))
		}
	}

	report.DurationMs = time.Since(started).Milliseconds()
	s.logger.Printf("🔗 scan %s: %d tip(s) examined, %d cluster(s), %d escalation(s)",
		report.ScanID, len(tips), report.Clusters, report.Escalations)
	return report, nil
}

// escalate raises a STANDARD or MONITOR member of a large cluster to
// URGENT. PAUSED tips stay paused so deconfliction holds are never undone,
// and IMMEDIATE tips are already at the top of the queue.
func (s *Scanner) escalate(ctx context.Context, tip *models.Tip, flag string, size int) bool {
	if tip.Priority == nil {
		return false
	}
	if tip.Priority.Tier != models.TierStandard && tip.Priority.Tier != models.TierMonitor {
		return false
	}
	tip.Priority.Tier = models.TierUrgent
	tip.Priority.ScoringFactors = append(tip.Priority.ScoringFactors,
		fmt.Sprintf("cluster escalation (%d linked reports)", size))

	if s.audit != nil {
		entry := audit.NewEntry(tip.TipID, models.AgentOrch, models.AuditInfo,
			fmt.Sprintf("cluster escalation: %d linked reports share %s; tier raised to URGENT", size, flag))
		if err := s.audit.Append(ctx, entry); err != nil {
			s.logger.Printf("⚠️ audit append failed for %s: %v", tip.TipID, err)
		}
	}
	return true
}

// clusterIdentifiers lists the identifiers a tip can cluster on, lowercased
// and deduplicated, each prefixed with its kind.
func clusterIdentifiers(tip *models.Tip) []string {
	seen := make(map[string]bool)
	var ids []string
	add := func(kind, value string) {
		value = strings.ToLower(strings.TrimSpace(value))
		if value == "" {
			return
		}
		key := kind + ":" + value
		if !seen[key] {
			seen[key] = true
			ids = append(ids, key)
		}
	}

	if e := tip.Entities; e != nil {
		for _, u := range e.Usernames {
			add("username", u)
		}
		for _, subj := range e.Subjects {
			add("username", subj.Username)
		}
		for _, ip := range e.IPAddresses {
			add("ip", ip)
		}
	}
	for _, f := range tip.Files {
		add("sha256", f.SHA256)
	}
	return ids
}

func appendClusterFlag(tip *models.Tip, flag string) bool {
	if tip.Links == nil {
		tip.Links = &models.Links{}
	}
	for _, existing := range tip.Links.ClusterFlags {
		if existing == flag {
			return false
		}
	}
	tip.Links.ClusterFlags = append(tip.Links.ClusterFlags, flag)
	return true
}

func sortedKeys(m map[string][]*models.Tip) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
