package usecase

import (
	"sort"
	"strings"

	"github.com/pricelens/backend/internal/domain"
)

// DefaultPerMarketplaceLimit caps how many hits one marketplace contributes.
const DefaultPerMarketplaceLimit = 25

// CandidateRanker orders search hits by their listed price.
type CandidateRanker struct {
	parser              *PriceParser
	perMarketplaceLimit int
}

// NewCandidateRanker creates a ranker capping each marketplace at limit hits.
func NewCandidateRanker(parser *PriceParser, limit int) *CandidateRanker {
	if limit <= 0 {
		limit = DefaultPerMarketplaceLimit
	}
	return &CandidateRanker{parser: parser, perMarketplaceLimit: limit}
}

// Rank caps each marketplace, drops repeated URLs (first occurrence wins) and
// sorts by parsed price ascending. Unparsable prices go last; ties keep input
// order, so equal inputs always rank equally.
func (r *CandidateRanker) Rank(candidates []domain.Candidate) []domain.RankedCandidate {
	perMarketplace := make(map[string]int)
	seenURL := make(map[string]bool)

	ranked := make([]domain.RankedCandidate, 0, len(candidates))
	for _, c := range candidates {
		mk := strings.ToLower(c.Marketplace)
		if perMarketplace[mk] >= r.perMarketplaceLimit {
			continue
		}
		url := strings.TrimSpace(c.URL)
		if url == "" || seenURL[url] {
			continue
		}
		perMarketplace[mk]++
		seenURL[url] = true

		rc := domain.RankedCandidate{Candidate: c}
		if price, err := r.parser.Parse(c.RawPrice); err == nil {
			rc.Price = &price
		}
		ranked = append(ranked, rc)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i].Price, ranked[j].Price
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Less(*b)
		}
	})

	return ranked
}
