// Package discovery turns configured sources into candidate URLs.
//
// Each source type maps to one Strategy. Every raw URL a strategy returns is
// written to the discoveries audit table before it can become a candidate.
package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pbaille/grundsalg/internal/classifier"
	"github.com/pbaille/grundsalg/internal/domain"
	"github.com/pbaille/grundsalg/internal/fetcher"
	"github.com/pbaille/grundsalg/internal/logger"
	"github.com/pbaille/grundsalg/internal/store"
)

// Seen reports ledger membership
type Seen interface {
	Contains(url string) bool
}

// Dispatcher runs the strategy registered for each source type
type Dispatcher struct {
	strategies map[domain.Strategy]Strategy
	audit      store.Store
	log        logger.Logger
	now        func() time.Time
}

// NewDispatcher creates a Dispatcher with no strategies registered
func NewDispatcher(audit store.Store, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		strategies: make(map[domain.Strategy]Strategy),
		audit:      audit,
		log:        log,
		now:        time.Now,
	}
}

// NewDefaultDispatcher registers the built-in strategy for every source type
func NewDefaultDispatcher(p fetcher.Provider, filter Prefilter, audit store.Store, log logger.Logger) *Dispatcher {
	d := NewDispatcher(audit, log)
	d.Register(domain.StrategyDedicatedPortal, NewSiteMap(p, classifier.PropertySaleKeywords, PortalLimit))
	d.Register(domain.StrategyJSRenderedMap, NewPageLinks(p, classifier.PropertySaleKeywords, PageLinksLimit))
	d.Register(domain.StrategyNewsFeed, NewNewsFeed(p, classifier.NewsKeywords, NewsFeedLimit, filter, log))
	d.Register(domain.StrategySubsection, NewSiteMap(p, classifier.PropertySaleKeywords, SubsectionLimit))
	d.Register(domain.StrategyMinimal, Minimal{})
	return d
}

// Register sets the strategy for a source type, replacing any existing one
func (d *Dispatcher) Register(t domain.Strategy, s Strategy) {
	d.strategies[t] = s
}

// Types lists the registered source types
func (d *Dispatcher) Types() []domain.Strategy {
	types := make([]domain.Strategy, 0, len(d.strategies))
	for t := range d.strategies {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Discover returns the unseen, deduplicated candidates for src.
// A failed audit append excludes that URL for this run. Refiners only see
// unique URLs missing from the ledger. Errors are
// *domain.DiscoveryError and mean the source produced nothing.
func (d *Dispatcher) Discover(ctx context.Context, src domain.Source, seen Seen, stats *domain.RunStats) ([]domain.Candidate, error) {
	log := d.log.With(logger.String("source", src.ID), logger.String("strategy", string(src.Strategy)))

	strategy, ok := d.strategies[src.Strategy]
	if !ok {
		return nil, &domain.DiscoveryError{SourceID: src.ID, Err: fmt.Errorf("no strategy for type %q", src.Strategy)}
	}

	raw, err := strategy.Map(ctx, src)
	if err != nil {
		return nil, &domain.DiscoveryError{SourceID: src.ID, Err: err}
	}

	audited := d.auditAll(ctx, src, raw, stats, log)
	stats.URLsDiscovered += len(audited)

	fresh, alreadySeen := unseen(audited, seen)

	if r, ok := strategy.(Refiner); ok && len(fresh) > 0 {
		var dropped int
		fresh, dropped = r.Refine(ctx, src, fresh)
		stats.PrefilterDropped += dropped
	}

	now := d.now()
	candidates := make([]domain.Candidate, 0, len(fresh))
	for _, r := range fresh {
		candidates = append(candidates, domain.Candidate{
			URL:          r.URL,
			SourceID:     src.ID,
			Strategy:     src.Strategy,
			DiscoveredAt: now,
		})
	}

	log.Info("discovery complete",
		logger.Int("raw", len(raw)),
		logger.Int("already_seen", alreadySeen),
		logger.Int("candidates", len(candidates)),
	)
	return candidates, nil
}

// unseen drops duplicates and ledger hits, keeping first occurrences in order.
// URLs are trimmed.
func unseen(results []fetcher.MapResult, seen Seen) ([]fetcher.MapResult, int) {
	var out []fetcher.MapResult
	unique := make(map[string]bool)
	alreadySeen := 0
	for _, r := range results {
		u := strings.TrimSpace(r.URL)
		if u == "" || unique[u] {
			continue
		}
		unique[u] = true
		if seen.Contains(u) {
			alreadySeen++
			continue
		}
		r.URL = u
		out = append(out, r)
	}
	return out, alreadySeen
}

// auditAll appends one discoveries row per raw result, in order
func (d *Dispatcher) auditAll(ctx context.Context, src domain.Source, raw []fetcher.MapResult, stats *domain.RunStats, log logger.Logger) []fetcher.MapResult {
	audited := make([]fetcher.MapResult, 0, len(raw))
	for _, r := range raw {
		if strings.TrimSpace(r.URL) == "" {
			continue
		}
		if err := d.audit.AppendRow(ctx, store.TableDiscoveries, store.DiscoveryRow(d.now(), src, r.URL)); err != nil {
			stats.AuditFailures++
			log.Error("audit append failed, skipping url", logger.String("url", r.URL), logger.Error(err))
			continue
		}
		audited = append(audited, r)
	}
	return audited
}
