package discovery

import (
	"context"
	"fmt"
	"strings"

	"github.com/pbaille/grundsalg/internal/domain"
	"github.com/pbaille/grundsalg/internal/fetcher"
	"github.com/pbaille/grundsalg/internal/logger"
)

// Result-size caps per strategy
const (
	PortalLimit     = 100
	PageLinksLimit  = 100
	NewsFeedLimit   = 20
	SubsectionLimit = 50
	MinimalLimit    = 1
)

// Strategy finds raw URLs for a source
type Strategy interface {
	Map(ctx context.Context, src domain.Source) ([]fetcher.MapResult, error)
}

// Refiner is implemented by strategies that drop raw results before they
// become candidates. Every raw result has been audited by then.
type Refiner interface {
	Refine(ctx context.Context, src domain.Source, results []fetcher.MapResult) (kept []fetcher.MapResult, dropped int)
}

// Prefilter judges a feed item from its URL and short text
type Prefilter interface {
	Relevant(ctx context.Context, url, text string) (bool, error)
}

// Mapper is the site-mapping half of a provider
type Mapper interface {
	MapSite(ctx context.Context, rootURL string, keywords []string, limit int) ([]fetcher.MapResult, error)
}

// SiteMap maps the site by keywords. Used for portals and subsections.
type SiteMap struct {
	mapper   Mapper
	keywords []string
	limit    int
}

// NewSiteMap creates a keyword site-mapping strategy
func NewSiteMap(m Mapper, keywords []string, limit int) *SiteMap {
	return &SiteMap{mapper: m, keywords: keywords, limit: limit}
}

// Map implements Strategy
func (s *SiteMap) Map(ctx context.Context, src domain.Source) ([]fetcher.MapResult, error) {
	results, err := s.mapper.MapSite(ctx, src.URL, s.keywords, s.limit)
	if err != nil {
		return nil, fmt.Errorf("map site: %w", err)
	}
	return capResults(results, s.limit), nil
}

// PageLinks fetches the root page and filters its links locally.
// Site mapping returns nothing for script-rendered map applications.
type PageLinks struct {
	fetcher  fetcher.PageFetcher
	keywords []string
	limit    int
}

// NewPageLinks creates a fetch-and-extract strategy
func NewPageLinks(f fetcher.PageFetcher, keywords []string, limit int) *PageLinks {
	return &PageLinks{fetcher: f, keywords: keywords, limit: limit}
}

// Map implements Strategy
func (s *PageLinks) Map(ctx context.Context, src domain.Source) ([]fetcher.MapResult, error) {
	page, err := s.fetcher.FetchPage(ctx, src.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch root: %w", err)
	}

	root := strings.TrimRight(src.URL, "/")
	var out []fetcher.MapResult
	for _, link := range page.Links {
		if strings.TrimRight(link, "/") == root {
			continue
		}
		if !fetcher.MatchesKeywords(link, s.keywords) {
			continue
		}
		out = append(out, fetcher.MapResult{URL: link})
	}
	return capResults(out, s.limit), nil
}

// NewsFeed maps with the narrow keyword set, then pre-filters each item
type NewsFeed struct {
	*SiteMap
	filter Prefilter
	log    logger.Logger
}

// NewNewsFeed creates a news feed strategy. A nil filter keeps everything.
func NewNewsFeed(m Mapper, keywords []string, limit int, filter Prefilter, log logger.Logger) *NewsFeed {
	return &NewsFeed{SiteMap: NewSiteMap(m, keywords, limit), filter: filter, log: log}
}

// Refine implements Refiner. Items the filter cannot judge are kept.
func (s *NewsFeed) Refine(ctx context.Context, src domain.Source, results []fetcher.MapResult) ([]fetcher.MapResult, int) {
	if s.filter == nil {
		return results, 0
	}

	kept := make([]fetcher.MapResult, 0, len(results))
	for _, r := range results {
		ok, err := s.filter.Relevant(ctx, r.URL, strings.TrimSpace(r.Title+"\n"+r.Description))
		if err != nil {
			s.log.Warn("news pre-filter failed, keeping item",
				logger.String("source", src.ID),
				logger.String("url", r.URL),
				logger.Error(err),
			)
			kept = append(kept, r)
			continue
		}
		if ok {
			kept = append(kept, r)
		}
	}
	return kept, len(results) - len(kept)
}

// Minimal treats the root URL as the only candidate
type Minimal struct{}

// Map implements Strategy
func (Minimal) Map(_ context.Context, src domain.Source) ([]fetcher.MapResult, error) {
	return []fetcher.MapResult{{URL: src.URL}}, nil
}

func capResults(results []fetcher.MapResult, limit int) []fetcher.MapResult {
	if limit > 0 && len(results) > limit {
		return results[:limit]
	}
	return results
}
