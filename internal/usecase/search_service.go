package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/pricelens/backend/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var nonAlphanumericRegex = regexp.MustCompile(`[^a-z0-9\s]`)

// SearchServiceConfig holds configuration for the search service
type SearchServiceConfig struct {
	Marketplaces        []domain.Marketplace
	PerMarketplaceLimit int
	MaxParallel         int
	Timeout             time.Duration
	CacheTTL            time.Duration
}

// SearchService fans a query out to every marketplace concurrently and
// merges the hits in marketplace order.
type SearchService struct {
	provider     domain.SearchProvider
	cache        domain.CacheRepository
	metrics      domain.MetricsRecorder
	logger       *zap.Logger
	marketplaces []domain.Marketplace
	limit        int
	maxParallel  int
	timeout      time.Duration
	cacheTTL     time.Duration
}

// NewSearchService creates a new search service with dependencies. cache and
// metrics may be nil.
func NewSearchService(
	provider domain.SearchProvider,
	cache domain.CacheRepository,
	metrics domain.MetricsRecorder,
	logger *zap.Logger,
	config SearchServiceConfig,
) *SearchService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}

	limit := config.PerMarketplaceLimit
	if limit <= 0 {
		limit = DefaultPerMarketplaceLimit
	}
	maxParallel := config.MaxParallel
	if maxParallel <= 0 {
		maxParallel = len(config.Marketplaces)
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	cacheTTL := config.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = 30 * time.Minute
	}

	return &SearchService{
		provider:     provider,
		cache:        cache,
		metrics:      metrics,
		logger:       logger.With(zap.String("component", "search")),
		marketplaces: config.Marketplaces,
		limit:        limit,
		maxParallel:  maxParallel,
		timeout:      timeout,
		cacheTTL:     cacheTTL,
	}
}

// Search queries all marketplaces. A marketplace that fails or times out
// contributes no candidates; only cancellation of ctx is returned as an error.
func (s *SearchService) Search(ctx context.Context, query string) ([]domain.Candidate, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.ErrInvalidRequest
	}

	results := make([][]domain.Candidate, len(s.marketplaces))

	g, gctx := errgroup.WithContext(ctx)
	if s.maxParallel > 0 {
		g.SetLimit(s.maxParallel)
	}
	for i, mk := range s.marketplaces {
		g.Go(func() error {
			results[i] = s.searchMarketplace(gctx, query, mk)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var merged []domain.Candidate
	for i, r := range results {
		s.metrics.AddCandidates(s.marketplaces[i].Name, len(r))
		merged = append(merged, r...)
	}
	s.logger.Info("search complete",
		zap.String("query", query),
		zap.Int("marketplaces", len(s.marketplaces)),
		zap.Int("candidates", len(merged)))
	return merged, nil
}

// searchMarketplace runs one marketplace query: cache, then provider.
func (s *SearchService) searchMarketplace(ctx context.Context, query string, mk domain.Marketplace) []domain.Candidate {
	log := s.logger.With(zap.String("marketplace", mk.Name))
	key := generateCacheKey(mk, query)

	if cached, ok := s.getFromCache(ctx, key); ok {
		log.Debug("cache hit", zap.Int("candidates", len(cached)))
		return cached
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	candidates, err := s.provider.Search(callCtx, domain.SearchRequest{
		Query:       query,
		Marketplace: mk,
		Limit:       s.limit,
	})
	if err != nil {
		log.Warn("marketplace search failed", zap.Error(err))
		return nil
	}

	for i := range candidates {
		if candidates[i].Marketplace == "" {
			candidates[i].Marketplace = mk.Name
		}
	}
	if len(candidates) > s.limit {
		candidates = candidates[:s.limit]
	}

	if err := s.setInCache(ctx, key, candidates); err != nil {
		log.Debug("cache write failed", zap.Error(err))
	}
	return candidates
}

// generateCacheKey creates a normalized cache key.
// Format: "search:{marketplace}:{normalized_query}"
func generateCacheKey(mk domain.Marketplace, query string) string {
	return fmt.Sprintf("search:%s:%s", normalizeForCacheKey(mk.Name), normalizeForCacheKey(query))
}

// normalizeForCacheKey normalizes a string for use as cache key component.
func normalizeForCacheKey(s string) string {
	if s == "" {
		return ""
	}
	result := strings.ToLower(s)
	result = nonAlphanumericRegex.ReplaceAllString(result, "")
	result = multiSpacePattern.ReplaceAllString(result, " ")
	return strings.TrimSpace(result)
}

// getFromCache reads candidates back. Cache backends hand values back as
// decoded JSON, so they are re-encoded into the concrete type.
func (s *SearchService) getFromCache(ctx context.Context, key string) ([]domain.Candidate, bool) {
	if s.cache == nil {
		return nil, false
	}
	value, err := s.cache.Get(ctx, key)
	if err != nil {
		return nil, false
	}

	if candidates, ok := value.([]domain.Candidate); ok {
		return candidates, true
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, false
	}
	var candidates []domain.Candidate
	if err := json.Unmarshal(raw, &candidates); err != nil {
		return nil, false
	}
	return candidates, true
}

func (s *SearchService) setInCache(ctx context.Context, key string, candidates []domain.Candidate) error {
	if s.cache == nil || len(candidates) == 0 {
		return nil
	}
	return s.cache.Set(ctx, key, candidates, s.cacheTTL)
}
