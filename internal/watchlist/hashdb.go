// Package watchlist holds the lookup surfaces consulted during enrichment:
// known-material hash databases and the interagency deconfliction registry.
package watchlist

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/tipline/backend/internal/models"
)

// HashDB answers known-material lookups for file hashes.
type HashDB interface {
	// Lookup resolves one file's hashes against every connected database.
	Lookup(ctx context.Context, f models.TipFile) (models.FileMatchResult, error)
	Name() string
}

// hashEntry is one row of the offline snapshot format.
type hashEntry struct {
	SHA256            string   `json:"sha256,omitempty"`
	MD5               string   `json:"md5,omitempty"`
	PhotoDNA          string   `json:"photodna,omitempty"`
	NCMEC             bool     `json:"ncmec"`
	ProjectVIC        bool     `json:"project_vic"`
	IWF               bool     `json:"iwf"`
	Interpol          bool     `json:"interpol_icse"`
	KnownVictimSeries bool     `json:"known_victim_series"`
	AIGConfidence     float64  `json:"aig_detection_confidence,omitempty"`
	Databases         []string `json:"databases,omitempty"`
}

type hashSnapshot struct {
	Entries []hashEntry `json:"entries"`
}

// MemoryHashDB serves lookups from an in-memory table. It backs both
// TOOL_MODE=stub and OFFLINE_MODE (where the table is loaded from disk).
type MemoryHashDB struct {
	mu     sync.RWMutex
	bySHA  map[string]hashEntry
	byMD5  map[string]hashEntry
	byPDNA map[string]hashEntry
	name   string
	logger *log.Logger
}

// NewMemoryHashDB returns an empty table.
func NewMemoryHashDB(name string) *MemoryHashDB {
	if name == "" {
		name = "memory"
	}
	return &MemoryHashDB{
		bySHA:  make(map[string]hashEntry),
		byMD5:  make(map[string]hashEntry),
		byPDNA: make(map[string]hashEntry),
		name:   name,
		logger: log.New(log.Writer(), "[HashDB] ", log.LstdFlags),
	}
}

// NewOfflineHashDB loads the snapshot JSON at path.
func NewOfflineHashDB(path string) (*MemoryHashDB, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open offline hash db: %w", err)
	}
	defer f.Close()

	var snap hashSnapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return nil, fmt.Errorf("parse offline hash db %s: %w", path, err)
	}

	db := NewMemoryHashDB("offline")
	for _, e := range snap.Entries {
		db.add(e)
	}
	db.logger.Printf("loaded %d offline hash entries from %s", len(snap.Entries), path)
	return db, nil
}

func (db *MemoryHashDB) add(e hashEntry) {
	if e.SHA256 != "" {
		db.bySHA[strings.ToLower(e.SHA256)] = e
	}
	if e.MD5 != "" {
		db.byMD5[strings.ToLower(e.MD5)] = e
	}
	if e.PhotoDNA != "" {
		db.byPDNA[strings.ToLower(e.PhotoDNA)] = e
	}
}

// Seed registers a known hash. Used by tests and the demo feed.
func (db *MemoryHashDB) Seed(sha256, md5 string, result models.FileMatchResult) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.add(hashEntry{
		SHA256:            sha256,
		MD5:               md5,
		NCMEC:             result.NCMECMatch,
		ProjectVIC:        result.ProjectVICMatch,
		IWF:               result.IWFMatch,
		Interpol:          result.InterpolMatch,
		KnownVictimSeries: result.KnownVictimSeries,
		AIGConfidence:     result.AIGConfidence,
		Databases:         result.MatchedDatabases,
	})
}

// Name identifies the backing table in logs and health output.
func (db *MemoryHashDB) Name() string { return db.name }

// Lookup resolves a file against the table. Files with no hash at all come
// back as novel material with no hits.
func (db *MemoryHashDB) Lookup(ctx context.Context, f models.TipFile) (models.FileMatchResult, error) {
	if err := ctx.Err(); err != nil {
		return models.FileMatchResult{}, err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	res := models.FileMatchResult{FileID: f.FileID, AIGConfidence: f.AIGConfidence}
	entry, ok := db.bySHA[strings.ToLower(f.SHA256)]
	if !ok {
		entry, ok = db.byMD5[strings.ToLower(f.MD5)]
	}
	if !ok {
		entry, ok = db.byPDNA[strings.ToLower(f.PhotoDNA)]
	}
	if !ok {
		res.NovelMaterial = true
		return res, nil
	}

	res.NCMECMatch = entry.NCMEC
	res.ProjectVICMatch = entry.ProjectVIC
	res.IWFMatch = entry.IWF
	res.InterpolMatch = entry.Interpol
	res.KnownVictimSeries = entry.KnownVictimSeries
	if entry.AIGConfidence > res.AIGConfidence {
		res.AIGConfidence = entry.AIGConfidence
	}
	res.MatchedDatabases = append([]string(nil), entry.Databases...)
	if len(res.MatchedDatabases) == 0 {
		if res.NCMECMatch {
			res.MatchedDatabases = append(res.MatchedDatabases, "ncmec")
		}
		if res.ProjectVICMatch {
			res.MatchedDatabases = append(res.MatchedDatabases, "project_vic")
		}
		if res.IWFMatch {
			res.MatchedDatabases = append(res.MatchedDatabases, "iwf")
		}
		if res.InterpolMatch {
			res.MatchedDatabases = append(res.MatchedDatabases, "interpol_icse")
		}
	}
	res.NovelMaterial = !res.AnyMatch()
	return res, nil
}

// Size reports the number of distinct SHA-256 entries.
func (db *MemoryHashDB) Size() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.bySHA)
}
