package stages

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/tipline/backend/internal/agent"
	"github.com/tipline/backend/internal/circuitbreaker"
	"github.com/tipline/backend/internal/models"
	"github.com/tipline/backend/internal/oracle"
	"github.com/tipline/backend/internal/watchlist"
)

// AIGSuspectThreshold is the detector confidence at or above which a file is
// flagged as suspected AI-generated material.
const AIGSuspectThreshold = 0.8

const osintSystem = `You summarize open-source intelligence leads for a tip under triage.
Given the narrative, note account handles that look reusable across platforms and any
public-footprint leads worth an analyst's time. Keep it to two sentences and never
present speculation as fact. Respond with a JSON object: {"osint_summary": string}.`

// HashOSINT resolves every reported file against the connected hash
// databases and drafts a short open-source-intelligence summary. Hash
// verdicts are the load-bearing output; the OSINT summary is best-effort.
type HashOSINT struct {
	harness *agent.Harness
	primary watchlist.HashDB
	offline watchlist.HashDB // snapshot consulted when the live lookup fails
	breaker *circuitbreaker.CircuitBreaker
	logger  *log.Logger
}

// NewHashOSINT wires the stage. offline and breaker may be nil; without a
// breaker lookups hit the primary directly.
func NewHashOSINT(h *agent.Harness, primary, offline watchlist.HashDB,
	breaker *circuitbreaker.CircuitBreaker) *HashOSINT {
	return &HashOSINT{
		harness: h,
		primary: primary,
		offline: offline,
		breaker: breaker,
		logger:  log.New(log.Writer(), "[HashOSINT] ", log.LstdFlags),
	}
}

// Run produces the per-file verdict map. The stage rejects only when every
// file lookup failed; partial failures keep the verdicts that resolved.
func (s *HashOSINT) Run(ctx context.Context, tip *models.Tip) (*models.HashMatches, error) {
	hm, failed, err := s.resolve(ctx, tip)
	if err != nil {
		return nil, err
	}
	if failed > 0 && len(hm.PerFile) == 0 {
		return nil, fmt.Errorf("hash lookup failed for all %d file(s)", failed)
	}

	var out struct {
		OSINTSummary string `json:"osint_summary"`
	}
	_, err = s.harness.InvokeJSON(ctx, tip.TipID, agent.InvokeRequest{
		Agent:     models.AgentHashOSINT,
		Stage:     models.StepHashOSINT,
		Band:      oracle.BandFast,
		MaxTokens: 300,
		System:    osintSystem,
		Context:   fmt.Sprintf("files: %d\nhash_matched: %d", len(tip.Files), matchedVerdicts(hm)),
		Untrusted: tip.NormalizedBody,
	}, &out)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Hash verdicts stand on their own.
		s.logger.Printf("⚠️ OSINT summary unavailable for %s: %v", tip.TipID, err)
		return hm, nil
	}
	hm.OSINTSummary = strings.TrimSpace(out.OSINTSummary)
	return hm, nil
}

// Deterministic resolves hashes without the OSINT drafting call. Instant
// bypass uses it so file flags stay consistent even when no oracle runs.
func (s *HashOSINT) Deterministic(ctx context.Context, tip *models.Tip) *models.HashMatches {
	hm, _, err := s.resolve(ctx, tip)
	if err != nil {
		return nil
	}
	return hm
}

func (s *HashOSINT) resolve(ctx context.Context, tip *models.Tip) (*models.HashMatches, int, error) {
	hm := &models.HashMatches{PerFile: make(map[string]models.FileMatchResult, len(tip.Files))}

	var failed int
	for i := range tip.Files {
		f := tip.Files[i]
		if f.SHA256 == "" && f.MD5 == "" && f.PhotoDNA == "" {
			// Nothing to resolve against; unhashed material is novel by
			// definition of the databases we hold.
			hm.PerFile[f.FileID] = models.FileMatchResult{FileID: f.FileID, NovelMaterial: true}
			hm.AnyNovel = true
			continue
		}
		res, err := s.lookup(ctx, f)
		if err != nil {
			if ctx.Err() != nil {
				return nil, failed, ctx.Err()
			}
			failed++
			s.logger.Printf("⚠️ hash lookup failed for %s/%s: %v", tip.TipID, f.FileID, err)
			continue
		}
		hm.PerFile[f.FileID] = res
		if res.AnyMatch() {
			hm.AnyKnownCSAM = true
		}
		if res.NovelMaterial {
			hm.AnyNovel = true
		}
	}
	return hm, failed, nil
}

func (s *HashOSINT) lookup(ctx context.Context, f models.TipFile) (models.FileMatchResult, error) {
	if s.breaker == nil {
		res, err := s.primary.Lookup(ctx, f)
		if err != nil && s.offline != nil {
			return s.offline.Lookup(ctx, f)
		}
		return res, err
	}
	return circuitbreaker.ExecuteWithFallback(s.breaker,
		func() (models.FileMatchResult, error) {
			return s.primary.Lookup(ctx, f)
		},
		func(cause error) (models.FileMatchResult, error) {
			if s.offline == nil {
				return models.FileMatchResult{}, cause
			}
			s.logger.Printf("⚠️ live hash lookup degraded (%v); consulting offline snapshot", cause)
			return s.offline.Lookup(ctx, f)
		})
}

func matchedVerdicts(hm *models.HashMatches) int {
	n := 0
	for _, res := range hm.PerFile {
		if res.AnyMatch() {
			n++
		}
	}
	return n
}

// FoldHashVerdicts writes per-file verdicts back onto the tip's files so the
// file flags and the stage output agree at the end of the pipeline. Files
// whose lookup failed keep their prior flags.
func FoldHashVerdicts(tip *models.Tip, hm *models.HashMatches) {
	if hm == nil {
		return
	}
	for i := range tip.Files {
		f := &tip.Files[i]
		res, ok := hm.PerFile[f.FileID]
		if !ok {
			continue
		}
		f.NCMECMatch = res.NCMECMatch
		f.ProjectVICMatch = res.ProjectVICMatch
		f.IWFMatch = res.IWFMatch
		f.InterpolMatch = res.InterpolMatch
		f.KnownVictimSeries = res.KnownVictimSeries
		f.NovelMaterial = res.NovelMaterial
		f.AIGConfidence = res.AIGConfidence
		f.AIGSuspected = res.AIGConfidence >= AIGSuspectThreshold
	}
}
