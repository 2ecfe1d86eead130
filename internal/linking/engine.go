package linking

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/catena/internal/common"
	"github.com/ternarybob/catena/internal/interfaces"
	"github.com/ternarybob/catena/internal/models"
)

// AutoLinkResult summarizes one AutoLink pass over an anchor record.
// RecordsProcessed is only populated by batch passes.
type AutoLinkResult struct {
	LinksCreated         int `json:"links_created"`
	CandidatesConsidered int `json:"candidates_considered"`
	RecordsProcessed     int `json:"records_processed,omitempty"`
}

// Engine finds equivalent records across independently sourced datasets.
// Exact normalized-EAN matches become exact_key links at confidence 1.0.
// Everything else goes through fuzzy scoring with two thresholds: at or
// above Auto the link is created automatically, between Suggest and Auto
// it is persisted as suggested and left for a human, below Suggest it is
// discarded. Suggested links are never promoted without a user action.
type Engine struct {
	products interfaces.ProductStorage
	links    interfaces.LinkStorage
	config   *common.LinkingConfig
	logger   arbor.ILogger
}

func NewEngine(logger arbor.ILogger, products interfaces.ProductStorage, links interfaces.LinkStorage, cfg *common.LinkingConfig) *Engine {
	return &Engine{
		products: products,
		links:    links,
		config:   cfg,
		logger:   logger.WithPrefix("linking"),
	}
}

// AutoLink matches one anchor record against the other datasets. All link
// writes are upserts keyed on the record pair, so re-running over an
// already linked anchor is a no-op.
func (e *Engine) AutoLink(ctx context.Context, anchorID string) (*AutoLinkResult, error) {
	anchor, err := e.products.GetProduct(ctx, anchorID)
	if err != nil {
		return nil, fmt.Errorf("failed to load anchor record %s: %w", anchorID, err)
	}

	result := &AutoLinkResult{}

	key := NormalizeEAN(anchor.EAN)
	if key == "" {
		key = anchor.NormalizedEAN
	}

	if key != "" {
		matches, err := e.products.FindByNormalizedEAN(ctx, key, anchor.Source)
		if err != nil {
			return nil, fmt.Errorf("exact key lookup failed for %s: %w", key, err)
		}
		result.CandidatesConsidered += len(matches)

		for _, match := range matches {
			created, err := e.upsertLink(ctx, anchor, match, models.LinkTypeExactKey, 1.0)
			if err != nil {
				return nil, err
			}
			if created {
				result.LinksCreated++
			}
		}
		if len(matches) > 0 {
			return result, nil
		}
	}

	// No natural key or no exact hit, fall back to fuzzy scoring
	candidates, err := e.products.FindCandidates(ctx, anchor.OwnerID, anchor.Source, e.config.CandidateLimit)
	if err != nil {
		return nil, fmt.Errorf("candidate lookup failed: %w", err)
	}
	result.CandidatesConsidered += len(candidates)

	for _, candidate := range candidates {
		score := Score(anchor, candidate)
		switch {
		case score >= e.config.AutoThreshold:
			created, err := e.upsertLink(ctx, anchor, candidate, models.LinkTypeAutomatic, score)
			if err != nil {
				return nil, err
			}
			if created {
				result.LinksCreated++
			}
		case score >= e.config.SuggestThreshold:
			created, err := e.upsertLink(ctx, anchor, candidate, models.LinkTypeSuggested, score)
			if err != nil {
				return nil, err
			}
			if created {
				result.LinksCreated++
			}
		}
	}

	return result, nil
}

// upsertLink writes one scored edge. An existing manual or exact_key link
// for the pair is never downgraded by an automated pass.
func (e *Engine) upsertLink(ctx context.Context, anchor, match *models.Product, linkType models.LinkType, score float64) (bool, error) {
	existing, err := e.links.GetLink(ctx, anchor.ID, match.ID)
	if err != nil {
		return false, fmt.Errorf("failed to check existing link: %w", err)
	}
	if existing != nil {
		if existing.Type == models.LinkTypeManual || existing.Type == models.LinkTypeExactKey {
			return false, nil
		}
		if existing.Type == models.LinkTypeAutomatic && linkType == models.LinkTypeSuggested {
			return false, nil
		}
	}

	// Automated scores never reach 1.0; that value is reserved for exact
	// key matches.
	if linkType != models.LinkTypeExactKey && score >= 1.0 {
		score = 0.999
	}

	link := &models.Link{
		ID:         common.NewLinkID(),
		PairKey:    models.LinkPairKey(anchor.ID, match.ID),
		LeftID:     anchor.ID,
		RightID:    match.ID,
		Type:       linkType,
		Confidence: score,
		CreatedBy:  "linking-engine",
		CreatedAt:  time.Now(),
	}
	if err := link.Validate(); err != nil {
		return false, fmt.Errorf("refusing invalid link %s: %w", link.PairKey, err)
	}

	created, err := e.links.UpsertLink(ctx, link)
	if err != nil {
		return false, fmt.Errorf("failed to upsert link %s: %w", link.PairKey, err)
	}
	if created {
		e.logger.Debug().
			Str("left", anchor.ID).
			Str("right", match.ID).
			Str("type", string(linkType)).
			Float64("confidence", score).
			Msg("Link created")
	}
	return created, nil
}

// LinkBatch runs AutoLink over one page of an owner's records and returns
// the page's totals plus the last processed ID for the bulk-link cursor.
func (e *Engine) LinkBatch(ctx context.Context, ownerID, afterID string, limit int) (*AutoLinkResult, string, error) {
	page, err := e.products.ListPage(ctx, ownerID, afterID, limit)
	if err != nil {
		return nil, "", fmt.Errorf("failed to page records for owner %s: %w", ownerID, err)
	}

	total := &AutoLinkResult{}
	lastID := afterID
	for _, p := range page {
		if err := ctx.Err(); err != nil {
			return total, lastID, err
		}
		r, err := e.AutoLink(ctx, p.ID)
		if err != nil {
			// One bad record must not sink the sweep
			e.logger.Warn().Str("record", p.ID).Err(err).Msg("AutoLink failed for record, continuing")
		} else {
			total.LinksCreated += r.LinksCreated
			total.CandidatesConsidered += r.CandidatesConsidered
		}
		total.RecordsProcessed++
		lastID = p.ID
	}
	return total, lastID, nil
}

// MergePass reconciles links created concurrently by per-record triggers
// while a bulk sweep was running. For each record that carries both an
// automated and a suggested edge to the same counterpart (one per
// direction), the weaker suggested edge is removed.
func (e *Engine) MergePass(ctx context.Context, ownerID string) (int, error) {
	removed := 0
	afterID := ""
	for {
		page, err := e.products.ListPage(ctx, ownerID, afterID, 200)
		if err != nil {
			return removed, fmt.Errorf("merge pass paging failed: %w", err)
		}
		if len(page) == 0 {
			return removed, nil
		}
		for _, p := range page {
			links, err := e.links.GetLinksForRecord(ctx, p.ID)
			if err != nil {
				return removed, fmt.Errorf("merge pass link lookup failed for %s: %w", p.ID, err)
			}
			n, err := e.dedupeReverseEdges(ctx, p.ID, links)
			if err != nil {
				return removed, err
			}
			removed += n
			afterID = p.ID
		}
	}
}

// dedupeReverseEdges drops the weaker of two opposite-direction links
// joining the same pair.
func (e *Engine) dedupeReverseEdges(ctx context.Context, recordID string, links []*models.Link) (int, error) {
	byPair := make(map[string][]*models.Link)
	for _, l := range links {
		a, b := l.LeftID, l.RightID
		if a > b {
			a, b = b, a
		}
		k := a + "|" + b
		byPair[k] = append(byPair[k], l)
	}

	removed := 0
	for _, pair := range byPair {
		if len(pair) < 2 {
			continue
		}
		keep, drop := pair[0], pair[1]
		if linkRank(drop) > linkRank(keep) || (linkRank(drop) == linkRank(keep) && drop.Confidence > keep.Confidence) {
			keep, drop = drop, keep
		}
		if err := e.links.DeleteLink(ctx, drop.LeftID, drop.RightID); err != nil {
			return removed, fmt.Errorf("failed to remove duplicate link %s: %w", drop.PairKey, err)
		}
		removed++
		e.logger.Debug().
			Str("kept", keep.PairKey).
			Str("dropped", drop.PairKey).
			Msg("Merged duplicate pair")
	}
	return removed, nil
}

func linkRank(l *models.Link) int {
	switch l.Type {
	case models.LinkTypeExactKey:
		return 3
	case models.LinkTypeManual:
		return 2
	case models.LinkTypeAutomatic:
		return 1
	default:
		return 0
	}
}

// Score combines name similarity, reference similarity, and price
// plausibility into one value in [0,1]. Name dominates because supplier
// references are frequently absent or vendor-specific.
func Score(a, b *models.Product) float64 {
	name := similarity(a.Name, b.Name)
	ref := similarity(a.Reference, b.Reference)
	price := pricePlausibility(a.Price, b.Price)

	if a.Reference == "" || b.Reference == "" {
		// Without references, weight shifts to the name
		return 0.8*name + 0.2*price
	}
	return 0.55*name + 0.3*ref + 0.15*price
}

// similarity is a normalized Levenshtein ratio over case-folded input
func similarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" && b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}

// pricePlausibility scores how believable it is that two prices describe
// the same product. Equal prices score 1, a 2x difference scores 0.
func pricePlausibility(a, b float64) float64 {
	if a <= 0 || b <= 0 {
		// Unknown price neither confirms nor denies
		return 0.5
	}
	ratio := math.Abs(a-b) / math.Max(a, b)
	score := 1 - 2*ratio
	if score < 0 {
		return 0
	}
	return score
}
