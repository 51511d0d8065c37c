package news

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ozoneai/ozone/internal/logger"
)

// Searcher runs NewsAPI searches. *Client implements it.
type Searcher interface {
	Configured() bool
	Everything(ctx context.Context, q Query) ([]Article, error)
}

// ClaimSearcher looks up fact-checked claims. *GoogleFactCheck implements it.
type ClaimSearcher interface {
	SearchClaims(ctx context.Context, claim, language string, pageSize int) ([]FactCheck, error)
}

// Config holds the topic lists and windows the feed uses.
type Config struct {
	DefaultQueries       []string
	RelatedKeywords      map[string][]string
	FactCheckDomains     []string
	DefaultPageSize      int
	Language             string
	LookbackDays         int
	ExpandedLookbackDays int
	BroadLookbackDays    int
}

// Service builds the trending feed on top of NewsAPI.
type Service struct {
	searcher Searcher
	claims   ClaimSearcher
	cfg      Config
	logger   *logger.Logger
	now      func() time.Time
	pick     func(n int) int
}

func NewService(searcher Searcher, claims ClaimSearcher, cfg Config, logger *logger.Logger) *Service {
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 12
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	return &Service{
		searcher: searcher,
		claims:   claims,
		cfg:      cfg,
		logger:   logger.WithComponent("news"),
		now:      time.Now,
		pick:     rand.Intn,
	}
}

// Configured reports whether article searches can run at all.
func (s *Service) Configured() bool {
	return s.searcher != nil && s.searcher.Configured()
}

func (s *Service) fetch(ctx context.Context, q string, pageSize, days int) ([]Article, error) {
	return s.searcher.Everything(ctx, Query{
		Q:        q,
		From:     s.now().AddDate(0, 0, -days),
		PageSize: pageSize,
		Language: s.cfg.Language,
	})
}

// Trending returns recent articles for query, or for a random default topic when
// query is empty. Empty results widen the search step by step: related keywords,
// then every default topic, then one keyword at a time. Errors yield no articles.
func (s *Service) Trending(ctx context.Context, query string, pageSize int) []Article {
	log := s.logger.WithContext(ctx)

	if !s.Configured() {
		log.Warn("trending news requested without a news api key")
		return []Article{}
	}
	if pageSize <= 0 {
		pageSize = s.cfg.DefaultPageSize
	}
	if query == "" && len(s.cfg.DefaultQueries) > 0 {
		query = s.cfg.DefaultQueries[s.pick(len(s.cfg.DefaultQueries))]
	}

	articles, err := s.fetch(ctx, query, pageSize, s.cfg.LookbackDays)
	if err != nil {
		log.Error("trending news fetch failed", slog.String("query", query), slog.String("error", err.Error()))
		return []Article{}
	}
	if len(articles) > 0 {
		return articles
	}

	related := s.cfg.RelatedKeywords[strings.ToLower(query)]
	if len(related) > 0 {
		expanded := strings.Join(append([]string{query}, related...), " OR ")
		log.Info("no articles found, retrying with related keywords", slog.String("query", expanded))

		articles, err = s.fetch(ctx, expanded, pageSize, s.cfg.ExpandedLookbackDays)
		if err != nil {
			log.Error("expanded news fetch failed", slog.String("error", err.Error()))
			return []Article{}
		}
		if len(articles) > 0 {
			return articles
		}
	}

	broad := strings.Join(append([]string{query}, s.cfg.DefaultQueries...), " OR ")
	log.Info("trying broad fallback query", slog.String("query", broad))
	articles, err = s.fetch(ctx, broad, pageSize, s.cfg.BroadLookbackDays)
	if err != nil {
		log.Error("broad news fetch failed", slog.String("error", err.Error()))
		return []Article{}
	}
	if len(articles) > 0 {
		return articles
	}

	keywords := append(append([]string{query}, related...), s.cfg.DefaultQueries...)
	aggregated := make([]Article, 0, pageSize)
	seen := make(map[string]bool)
	for _, k := range keywords {
		list, err := s.fetch(ctx, k, pageSize, s.cfg.BroadLookbackDays)
		if err != nil {
			log.Warn("keyword fetch failed", slog.String("keyword", k), slog.String("error", err.Error()))
			continue
		}
		for _, a := range list {
			if !seen[a.URL] {
				seen[a.URL] = true
				aggregated = append(aggregated, a)
			}
			if len(aggregated) >= pageSize {
				break
			}
		}
		if len(aggregated) >= pageSize {
			break
		}
	}

	log.Info("aggregated keyword results", slog.Int("articles", len(aggregated)))
	return aggregated
}

// SearchKeywords runs Trending for the keywords OR-joined.
func (s *Service) SearchKeywords(ctx context.Context, keywords []string, pageSize int) []Article {
	return s.Trending(ctx, strings.Join(keywords, " OR "), pageSize)
}

// Topics fetches the trending feed of each topic concurrently.
func (s *Service) Topics(ctx context.Context, topics []string, perTopic int) map[string][]Article {
	if len(topics) == 0 {
		topics = s.cfg.DefaultQueries
	}

	var mu sync.Mutex
	results := make(map[string][]Article, len(topics))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, topic := range topics {
		topic := topic
		g.Go(func() error {
			articles := s.Trending(gctx, topic, perTopic)
			mu.Lock()
			results[topic] = articles
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// FactCheckFeed returns today's articles from the configured fact-checking outlets.
func (s *Service) FactCheckFeed(ctx context.Context, pageSize int) []Article {
	if !s.Configured() {
		return []Article{}
	}
	if pageSize <= 0 {
		pageSize = s.cfg.DefaultPageSize
	}

	articles, err := s.searcher.Everything(ctx, Query{
		Q:        "fact check",
		Domains:  s.cfg.FactCheckDomains,
		From:     s.now(),
		PageSize: pageSize,
	})
	if err != nil {
		s.logger.WithContext(ctx).Error("fact check feed failed", slog.String("error", err.Error()))
		return []Article{}
	}
	return articles
}

// CheckClaim looks claim up in the fact-check index. Without a configured
// client, or on error, it returns no results.
func (s *Service) CheckClaim(ctx context.Context, claim, language string) []FactCheck {
	if s.claims == nil {
		s.logger.WithContext(ctx).Warn("fact check lookup requested without an api key")
		return []FactCheck{}
	}
	if language == "" {
		language = s.cfg.Language
	}

	checks, err := s.claims.SearchClaims(ctx, claim, language, 0)
	if err != nil {
		s.logger.WithContext(ctx).Error("fact check lookup failed", slog.String("error", err.Error()))
		return []FactCheck{}
	}
	return checks
}
