// Package pipeline runs one monitoring pass end to end.
//
// A run moves through INIT, DISCOVERY, ANALYSIS (or SKIP_ANALYSIS when nothing
// new was found), OUTPUT and DONE. Only INIT can fail the run; every other error
// is recorded and the run continues.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pbaille/grundsalg/internal/classifier"
	"github.com/pbaille/grundsalg/internal/discovery"
	"github.com/pbaille/grundsalg/internal/domain"
	"github.com/pbaille/grundsalg/internal/fetcher"
	"github.com/pbaille/grundsalg/internal/ledger"
	"github.com/pbaille/grundsalg/internal/logger"
	"github.com/pbaille/grundsalg/internal/notify"
	"github.com/pbaille/grundsalg/internal/store"
)

// State is a coordinator phase
type State string

const (
	StateInit         State = "INIT"
	StateDiscovery    State = "DISCOVERY"
	StateAnalysis     State = "ANALYSIS"
	StateSkipAnalysis State = "SKIP_ANALYSIS"
	StateOutput       State = "OUTPUT"
	StateDone         State = "DONE"
)

// EventTypeRun is the event_type of the per-run summary row
const EventTypeRun = "run"

const outputTimeout = 30 * time.Second

// Discoverer produces candidates for a source
type Discoverer interface {
	Discover(ctx context.Context, src domain.Source, seen discovery.Seen, stats *domain.RunStats) ([]domain.Candidate, error)
}

// Fetcher retrieves page content with its own retry policy
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetcher.Page, error)
}

// Analyzer runs the two classification stages
type Analyzer interface {
	Analyze(ctx context.Context, url, text string, stats *domain.RunStats) (*classifier.Analysis, error)
}

// MetricsPusher exports final stats
type MetricsPusher interface {
	Push(ctx context.Context, stats domain.RunStats, finished time.Time) error
}

// Deps are the collaborators of a run
type Deps struct {
	Sources    func() ([]domain.Source, error)
	Store      store.Store
	Discoverer Discoverer
	Fetcher    Fetcher
	Analyzer   Analyzer
	Notifier   notify.Notifier
	Metrics    MetricsPusher
	Log        logger.Logger
	LedgerOpts []ledger.Option
	Now        func() time.Time
}

// Result describes a finished run
type Result struct {
	Summary  notify.Summary
	Notified bool
	States   []State
}

// Coordinator drives a run
type Coordinator struct {
	deps Deps
	now  func() time.Time
}

// New creates a Coordinator
func New(deps Deps) *Coordinator {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Noop{}
	}
	return &Coordinator{deps: deps, now: now}
}

// run is the mutable state of a single pass
type run struct {
	log       logger.Logger
	stats     *domain.RunStats
	ledger    *ledger.Ledger
	proposals []domain.Proposal
	failures  []domain.FailureRecord
	states    []State
}

func (r *run) enter(s State) {
	r.states = append(r.states, s)
	r.log.Debug("state", logger.String("state", string(s)))
}

// Run executes one pass. The returned error is non-nil only when the source
// registry or the ledger cannot be loaded.
func (c *Coordinator) Run(ctx context.Context) (*Result, error) {
	start := c.now()
	stats := &domain.RunStats{RunID: uuid.NewString()}
	r := &run{
		log:   c.deps.Log.With(logger.String("run_id", stats.RunID)),
		stats: stats,
	}

	r.enter(StateInit)
	sources, err := c.deps.Sources()
	if err != nil {
		return nil, fmt.Errorf("load sources: %w", err)
	}
	r.ledger, err = ledger.Load(ctx, c.deps.Store, r.log, c.deps.LedgerOpts...)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	r.log.Info("run started", logger.Int("sources", len(sources)), logger.Int("seen_urls", r.ledger.Len()))

	r.enter(StateDiscovery)
	queue, origin := c.discover(ctx, r, sources)

	if len(queue) == 0 {
		r.enter(StateSkipAnalysis)
	} else {
		r.enter(StateAnalysis)
		for _, cand := range queue {
			if ctx.Err() != nil {
				r.log.Warn("run cancelled, leaving remaining candidates for next run")
				break
			}
			c.process(ctx, r, cand, origin[cand.URL])
		}
	}

	r.enter(StateOutput)
	stats.Duration = c.now().Sub(start)
	notified := c.output(ctx, r)

	r.enter(StateDone)
	return &Result{
		Summary:  r.summary(),
		Notified: notified,
		States:   r.states,
	}, nil
}

// discover runs every source in order and returns the distinct candidates.
// A URL found by several sources is attributed to the first.
func (c *Coordinator) discover(ctx context.Context, r *run, sources []domain.Source) ([]domain.Candidate, map[string]domain.Source) {
	var queue []domain.Candidate
	origin := make(map[string]domain.Source)

	for _, src := range sources {
		if ctx.Err() != nil {
			r.log.Warn("run cancelled during discovery")
			break
		}
		r.stats.SourcesProcessed++

		candidates, err := c.deps.Discoverer.Discover(ctx, src, r.ledger, r.stats)
		if err != nil {
			r.stats.SourcesFailed++
			r.stats.FailedSources = append(r.stats.FailedSources, src.ID)
			r.log.Error("discovery failed", logger.String("source", src.ID), logger.Error(err))
			continue
		}

		for _, cand := range candidates {
			if _, dup := origin[cand.URL]; dup {
				continue
			}
			origin[cand.URL] = src
			queue = append(queue, cand)
		}
	}
	return queue, origin
}

// process takes one candidate through fetch, analysis and bookkeeping.
// The URL is marked seen whatever the outcome, unless the run was cancelled
// mid-fetch.
func (c *Coordinator) process(ctx context.Context, r *run, cand domain.Candidate, src domain.Source) {
	log := r.log.With(logger.String("url", cand.URL), logger.String("source", cand.SourceID))

	page, err := c.deps.Fetcher.Fetch(ctx, cand.URL)
	if err != nil && ctx.Err() != nil {
		log.Warn("fetch interrupted by cancellation", logger.Error(err))
		return
	}
	r.stats.URLsAttempted++

	if err != nil {
		r.stats.ScrapeFailed++
		log.Warn("scrape failed", logger.Error(err))
		c.recordFailure(ctx, r, cand, domain.FailureScrape, err)
		c.markSeen(ctx, r, cand.URL)
		return
	}
	r.stats.ScrapeSuccess++

	analysis, err := c.deps.Analyzer.Analyze(ctx, cand.URL, page.Markdown, r.stats)
	var ce *domain.ClassificationError
	var ee *domain.ExtractionError
	switch {
	case errors.As(err, &ce):
		log.Warn("classification failed", logger.Error(err))
		c.recordFailure(ctx, r, cand, domain.FailureClassification, err)
	case errors.As(err, &ee):
		log.Warn("extraction failed", logger.Error(err))
		c.recordFailure(ctx, r, cand, domain.FailureExtraction, err)
	case err != nil:
		log.Warn("analysis failed", logger.Error(err))
		c.recordFailure(ctx, r, cand, domain.FailureClassification, err)
	case analysis.Extraction != nil && analysis.Extraction.IsPropertyListing:
		c.recordProposal(ctx, r, cand, src, page, analysis.Extraction)
	case analysis.Extraction != nil:
		log.Info("relevant page is not a listing", logger.Float64("confidence", analysis.Extraction.Confidence))
	default:
		log.Debug("not relevant", logger.String("category", analysis.Classification.Category))
	}

	c.markSeen(ctx, r, cand.URL)
}

func (c *Coordinator) recordProposal(ctx context.Context, r *run, cand domain.Candidate, src domain.Source, page *fetcher.Page, ext *domain.ExtractionResult) {
	title := ext.Title
	if title == "" {
		title = page.Title()
	}
	p := domain.Proposal{
		Timestamp:    c.now(),
		Municipality: src.ID,
		Title:        title,
		URL:          cand.URL,
		Confidence:   ext.Confidence,
		Summary:      ext.Summary,
	}
	r.proposals = append(r.proposals, p)
	r.stats.ProposalsCreated++

	if err := c.deps.Store.AppendRow(ctx, store.TableProposals, store.ProposalRow(p)); err != nil {
		r.stats.StoreFailures++
		r.log.Error("proposal append failed", logger.String("url", p.URL), logger.Error(err))
		return
	}
	r.log.Info("proposal created",
		logger.String("url", p.URL),
		logger.String("title", p.Title),
		logger.Float64("confidence", p.Confidence),
	)
}

func (c *Coordinator) recordFailure(ctx context.Context, r *run, cand domain.Candidate, kind domain.FailureKind, err error) {
	f := domain.FailureRecord{
		Timestamp: c.now(),
		URL:       cand.URL,
		SourceID:  cand.SourceID,
		Kind:      kind,
		Error:     err.Error(),
	}
	r.failures = append(r.failures, f)

	if err := c.deps.Store.AppendRow(ctx, store.TableFailures, store.FailureRow(f)); err != nil {
		r.stats.StoreFailures++
		r.log.Error("failure append failed", logger.String("url", f.URL), logger.Error(err))
	}
}

func (c *Coordinator) markSeen(ctx context.Context, r *run, url string) {
	if err := r.ledger.MarkSeen(ctx, url); err != nil {
		r.stats.LedgerFailures++
		r.log.Error("ledger append failed", logger.String("url", url), logger.Error(err))
	}
}

// output writes the summary event, notifies when there is something to report
// and pushes metrics. It runs even when ctx is cancelled.
func (c *Coordinator) output(ctx context.Context, r *run) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), outputTimeout)
	defer cancel()

	stats := r.stats
	msg, err := json.Marshal(stats)
	if err != nil {
		msg = []byte(stats.Summary())
	}
	event := store.Event{
		Timestamp: c.now(),
		Type:      EventTypeRun,
		Title:     "Run completed",
		Message:   string(msg),
	}
	if err := c.deps.Store.AppendRow(ctx, store.TableEvents, store.EventRow(event)); err != nil {
		stats.StoreFailures++
		r.log.Error("summary event append failed", logger.Error(err))
	}

	r.log.Info("run complete",
		logger.Int("sources", stats.SourcesProcessed),
		logger.Int("sources_failed", stats.SourcesFailed),
		logger.Int("attempted", stats.URLsAttempted),
		logger.Int("proposals", stats.ProposalsCreated),
		logger.Int("failures", stats.FailureCount()),
		logger.Int("ledger_failures", stats.LedgerFailures),
		logger.Duration("duration", stats.Duration),
	)

	notified := false
	if stats.ProposalsCreated > 0 || stats.FailureCount() > 0 {
		if err := c.deps.Notifier.Notify(ctx, r.summary()); err != nil {
			r.log.Error("notification failed", logger.Error(err))
		} else {
			notified = true
		}
	}

	if c.deps.Metrics != nil {
		if err := c.deps.Metrics.Push(ctx, *stats, c.now()); err != nil {
			r.log.Warn("metrics push failed", logger.Error(err))
		}
	}
	return notified
}

func (r *run) summary() notify.Summary {
	return notify.Summary{
		Stats:     *r.stats,
		Proposals: r.proposals,
		Failures:  r.failures,
	}
}
