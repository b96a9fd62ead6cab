package stages

import (
	"context"
	"log"

	"github.com/tipline/backend/internal/models"
	"github.com/tipline/backend/internal/watchlist"
)

// RelatedFinder surfaces previously stored tips that share identifiers with
// a new one. The tip repository implements it; tests use the func adapter.
type RelatedFinder interface {
	FindRelated(ctx context.Context, tip *models.Tip) ([]string, error)
}

// RelatedFinderFunc adapts a function to the RelatedFinder interface.
type RelatedFinderFunc func(ctx context.Context, tip *models.Tip) ([]string, error)

// FindRelated calls f.
func (f RelatedFinderFunc) FindRelated(ctx context.Context, tip *models.Tip) ([]string, error) {
	return f(ctx, tip)
}

// Linker connects a tip to prior tips and checks its identifiers against the
// interagency deconfliction index. Matching is exact string matching on
// normalized identifiers; no oracle is consulted, because whether another
// agency's case overlaps is not a judgment call.
type Linker struct {
	registry *watchlist.Registry
	finder   RelatedFinder
	logger   *log.Logger
}

// NewLinker wires the linker stage. Either dependency may be nil.
func NewLinker(registry *watchlist.Registry, finder RelatedFinder) *Linker {
	return &Linker{
		registry: registry,
		finder:   finder,
		logger:   log.New(log.Writer(), "[Linker] ", log.LstdFlags),
	}
}

// Run assembles the tip's link set. Deconfliction hits are the safety-critical
// output; a failed related-tip lookup degrades to an empty related list rather
// than rejecting the stage and losing the hits.
func (s *Linker) Run(ctx context.Context, tip *models.Tip) (*models.Links, error) {
	links := &models.Links{}
	if tip.Links != nil {
		links.DuplicateOf = tip.Links.DuplicateOf
		links.ClusterFlags = append(links.ClusterFlags, tip.Links.ClusterFlags...)
	}

	var usernames, ips []string
	if tip.Entities != nil {
		usernames = tip.Entities.Usernames
		ips = tip.Entities.IPAddresses
	}
	var hashes []string
	for i := range tip.Files {
		if h := tip.Files[i].SHA256; h != "" {
			hashes = append(hashes, h)
		}
		if h := tip.Files[i].MD5; h != "" {
			hashes = append(hashes, h)
		}
	}

	if s.registry != nil {
		hits, err := s.registry.Check(ctx, usernames, ips, hashes)
		if err != nil {
			return nil, err
		}
		links.Deconfliction = hits
	}

	if s.finder != nil {
		related, err := s.finder.FindRelated(ctx, tip)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Printf("⚠️ related-tip lookup failed for %s: %v", tip.TipID, err)
		} else {
			links.RelatedTips = related
		}
	}
	return links, nil
}
