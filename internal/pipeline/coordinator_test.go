package pipeline_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/grundsalg/internal/classifier"
	"github.com/pbaille/grundsalg/internal/discovery"
	"github.com/pbaille/grundsalg/internal/domain"
	"github.com/pbaille/grundsalg/internal/fetcher"
	"github.com/pbaille/grundsalg/internal/ledger"
	"github.com/pbaille/grundsalg/internal/logger"
	"github.com/pbaille/grundsalg/internal/notify"
	"github.com/pbaille/grundsalg/internal/pipeline"
	"github.com/pbaille/grundsalg/internal/store"
)

// fakeProvider maps and fetches from canned data
type fakeProvider struct {
	maps       map[string][]fetcher.MapResult
	mapErrs    map[string]error
	pages      map[string]string
	fetchErrs  map[string]error
	fetchCalls map[string]int
	onFetch    func(url string)
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		maps:       make(map[string][]fetcher.MapResult),
		mapErrs:    make(map[string]error),
		pages:      make(map[string]string),
		fetchErrs:  make(map[string]error),
		fetchCalls: make(map[string]int),
	}
}

func (f *fakeProvider) MapSite(_ context.Context, rootURL string, _ []string, _ int) ([]fetcher.MapResult, error) {
	if err := f.mapErrs[rootURL]; err != nil {
		return nil, err
	}
	return f.maps[rootURL], nil
}

func (f *fakeProvider) FetchPage(_ context.Context, url string) (*fetcher.Page, error) {
	f.fetchCalls[url]++
	if f.onFetch != nil {
		f.onFetch(url)
	}
	if err := f.fetchErrs[url]; err != nil {
		return nil, err
	}
	md, ok := f.pages[url]
	if !ok {
		return nil, &domain.FetchError{URL: url, Err: errors.New("404")}
	}
	return &fetcher.Page{URL: url, Markdown: md, Metadata: map[string]string{"title": "Side"}}, nil
}

// scriptedUnderstander decides by URL substring
type scriptedUnderstander struct {
	relevant      map[string]bool
	listing       map[string]bool
	classifyFail  map[string]bool
	extractFail   map[string]bool
	classifyCalls int
	extractCalls  int
}

func newUnderstander() *scriptedUnderstander {
	return &scriptedUnderstander{
		relevant:     make(map[string]bool),
		listing:      make(map[string]bool),
		classifyFail: make(map[string]bool),
		extractFail:  make(map[string]bool),
	}
}

func (s *scriptedUnderstander) Classify(_ context.Context, url, _ string) (domain.ClassificationResult, error) {
	s.classifyCalls++
	if s.classifyFail[url] {
		return domain.ClassificationResult{}, &domain.ParseError{Msg: "not json"}
	}
	if s.relevant[url] {
		return domain.ClassificationResult{Relevant: true, Confidence: 0.8, Category: "land-sale"}, nil
	}
	return domain.ClassificationResult{Relevant: false, Confidence: 0.9, Category: "other"}, nil
}

func (s *scriptedUnderstander) Extract(_ context.Context, url, _ string) (domain.ExtractionResult, error) {
	s.extractCalls++
	if s.extractFail[url] {
		return domain.ExtractionResult{}, errors.New("overloaded")
	}
	return domain.ExtractionResult{
		IsPropertyListing: s.listing[url],
		Confidence:        0.9,
		Title:             "Grund til salg",
		Municipality:      "Aarhus",
		Summary:           "Parcelhusgrund",
	}, nil
}

// recordingNotifier keeps every summary it was given
type recordingNotifier struct {
	calls []notify.Summary
	err   error
}

func (r *recordingNotifier) Notify(_ context.Context, s notify.Summary) error {
	r.calls = append(r.calls, s)
	return r.err
}

// brokenStore fails appends to selected tables
type brokenStore struct {
	*store.Memory
	failTables map[string]bool
}

func (b *brokenStore) AppendRow(ctx context.Context, table string, row store.Row) error {
	if b.failTables[table] {
		return errors.New("sheet quota exceeded")
	}
	return b.Memory.AppendRow(ctx, table, row)
}

type harness struct {
	provider     *fakeProvider
	understander *scriptedUnderstander
	notifier     *recordingNotifier
	store        store.Store
	sources      []domain.Source
}

func newHarness(sources ...domain.Source) *harness {
	return &harness{
		provider:     newFakeProvider(),
		understander: newUnderstander(),
		notifier:     &recordingNotifier{},
		store:        store.NewMemory(),
		sources:      sources,
	}
}

func (h *harness) coordinator() *pipeline.Coordinator {
	log := logger.NewNop()
	return pipeline.New(pipeline.Deps{
		Sources:    func() ([]domain.Source, error) { return h.sources, nil },
		Store:      h.store,
		Discoverer: discovery.NewDefaultDispatcher(h.provider, nil, h.store, log),
		Fetcher:    fetcher.NewResilient(h.provider, time.Millisecond, log),
		Analyzer:   classifier.NewTwoStage(h.understander, classifier.Config{MaxChars: 12000}, log),
		Notifier:   h.notifier,
		Log:        log,
		LedgerOpts: []ledger.Option{ledger.WithRetryDelay(time.Millisecond)},
	})
}

func (h *harness) rows(t *testing.T, table string) []store.Row {
	t.Helper()
	rows, err := h.store.ReadRows(context.Background(), table)
	require.NoError(t, err)
	return rows
}

var aarhus = domain.Source{ID: "aarhus", Name: "Aarhus", URL: "https://grundsalg.aarhus.dk", Strategy: domain.StrategyDedicatedPortal}

const grund1 = "https://grundsalg.aarhus.dk/grund/1"

func TestRunCreatesProposal(t *testing.T) {
	h := newHarness(aarhus)
	h.provider.maps[aarhus.URL] = []fetcher.MapResult{{URL: grund1}}
	h.provider.pages[grund1] = "Parcelhusgrund til salg"
	h.understander.relevant[grund1] = true
	h.understander.listing[grund1] = true

	res, err := h.coordinator().Run(context.Background())
	require.NoError(t, err)

	proposals := h.rows(t, store.TableProposals)
	require.Len(t, proposals, 1)
	p := store.ParseProposal(proposals[0])
	assert.Equal(t, "aarhus", p.Municipality)
	assert.Equal(t, grund1, p.URL)
	assert.Equal(t, 0.9, p.Confidence)
	assert.Equal(t, "Grund til salg", p.Title)

	seen := h.rows(t, store.TableSeenURLs)
	require.Len(t, seen, 1)
	assert.Equal(t, grund1, seen[0][0])

	assert.Len(t, h.notifier.calls, 1)
	assert.True(t, res.Notified)
	assert.Equal(t, 1, res.Summary.Stats.ProposalsCreated)
	assert.Equal(t, []pipeline.State{
		pipeline.StateInit, pipeline.StateDiscovery, pipeline.StateAnalysis, pipeline.StateOutput, pipeline.StateDone,
	}, res.States)
}

func TestRunSkipsSeenURL(t *testing.T) {
	h := newHarness(aarhus)
	h.provider.maps[aarhus.URL] = []fetcher.MapResult{{URL: grund1}}
	h.provider.pages[grund1] = "Parcelhusgrund til salg"
	require.NoError(t, h.store.AppendRow(context.Background(), store.TableSeenURLs, store.Row{grund1, "2026-01-01T00:00:00Z"}))

	res, err := h.coordinator().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, h.provider.fetchCalls[grund1])
	assert.Equal(t, 0, h.understander.classifyCalls)
	assert.Contains(t, res.States, pipeline.StateSkipAnalysis)
	assert.NotContains(t, res.States, pipeline.StateAnalysis)
	assert.Len(t, h.rows(t, store.TableEvents), 1)
	assert.Empty(t, h.notifier.calls)
	assert.False(t, res.Notified)
}

func TestRunDoubleFetchFailure(t *testing.T) {
	h := newHarness(aarhus)
	h.provider.maps[aarhus.URL] = []fetcher.MapResult{{URL: grund1}}
	h.provider.fetchErrs[grund1] = &domain.FetchError{URL: grund1, Transient: true, Err: errors.New("503")}

	res, err := h.coordinator().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, h.provider.fetchCalls[grund1])

	failures := h.rows(t, store.TableFailures)
	require.Len(t, failures, 1)
	f := store.ParseFailure(failures[0])
	assert.Equal(t, domain.FailureScrape, f.Kind)
	assert.Equal(t, grund1, f.URL)
	assert.Equal(t, "aarhus", f.SourceID)

	assert.Len(t, h.rows(t, store.TableSeenURLs), 1)
	assert.Equal(t, 0, h.understander.classifyCalls)
	assert.Equal(t, 0, h.understander.extractCalls)
	assert.Equal(t, 1, res.Summary.Stats.ScrapeFailed)
	assert.Len(t, h.notifier.calls, 1)
}

func TestRunIsIdempotent(t *testing.T) {
	h := newHarness(aarhus)
	h.provider.maps[aarhus.URL] = []fetcher.MapResult{{URL: grund1}, {URL: aarhus.URL + "/grund/2"}}
	h.provider.pages[grund1] = "a"
	h.provider.pages[aarhus.URL+"/grund/2"] = "b"

	_, err := h.coordinator().Run(context.Background())
	require.NoError(t, err)
	_, err = h.coordinator().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, h.provider.fetchCalls[grund1])
	assert.Equal(t, 1, h.provider.fetchCalls[aarhus.URL+"/grund/2"])
	assert.Equal(t, 2, h.understander.classifyCalls)
	assert.Len(t, h.rows(t, store.TableSeenURLs), 2)
	assert.Len(t, h.rows(t, store.TableEvents), 2)
}

func TestRunMarksEveryOutcomeSeenOnce(t *testing.T) {
	h := newHarness(aarhus)
	base := aarhus.URL + "/"
	outcomes := []string{"proposal", "irrelevant", "scrape", "classify", "extract", "notlisting"}
	var mapped []fetcher.MapResult
	for _, o := range outcomes {
		u := base + o
		mapped = append(mapped, fetcher.MapResult{URL: u})
		h.provider.pages[u] = "tekst"
	}
	h.provider.maps[aarhus.URL] = mapped
	h.provider.fetchErrs[base+"scrape"] = &domain.FetchError{Err: errors.New("404")}
	h.understander.relevant[base+"proposal"] = true
	h.understander.listing[base+"proposal"] = true
	h.understander.classifyFail[base+"classify"] = true
	h.understander.relevant[base+"extract"] = true
	h.understander.extractFail[base+"extract"] = true
	h.understander.relevant[base+"notlisting"] = true

	res, err := h.coordinator().Run(context.Background())
	require.NoError(t, err)

	seen := h.rows(t, store.TableSeenURLs)
	require.Len(t, seen, len(outcomes))
	counts := make(map[string]int)
	for _, r := range seen {
		counts[r[0]]++
	}
	for _, o := range outcomes {
		assert.Equal(t, 1, counts[base+o], o)
	}

	st := res.Summary.Stats
	assert.Equal(t, 6, st.URLsAttempted)
	assert.Equal(t, 1, st.ScrapeFailed)
	assert.Equal(t, 1, st.ClassificationFailed)
	assert.Equal(t, 1, st.SkippedIrrelevant)
	assert.Equal(t, 3, st.ClassifiedRelevant)
	assert.Equal(t, 1, st.ExtractionFailed)
	assert.Equal(t, 2, st.ExtractionSuccess)
	assert.Equal(t, 1, st.ProposalsCreated)
	assert.Equal(t, 3, st.FailureCount())

	// cost gate
	assert.LessOrEqual(t, st.ExtractionAttempts(), st.ClassifiedRelevant)
	assert.LessOrEqual(t, st.ClassifiedRelevant, st.URLsAttempted)
	assert.Equal(t, h.understander.extractCalls, st.ExtractionAttempts())

	kinds := make(map[domain.FailureKind]int)
	for _, r := range h.rows(t, store.TableFailures) {
		kinds[store.ParseFailure(r).Kind]++
	}
	assert.Equal(t, map[domain.FailureKind]int{
		domain.FailureScrape:         1,
		domain.FailureClassification: 1,
		domain.FailureExtraction:     1,
	}, kinds)
}

func TestRunAuditPrecedesOutcome(t *testing.T) {
	h := newHarness(aarhus)
	h.provider.maps[aarhus.URL] = []fetcher.MapResult{{URL: grund1}}
	h.provider.pages[grund1] = "x"
	h.understander.relevant[grund1] = true
	h.understander.listing[grund1] = true

	order := &orderedStore{Memory: store.NewMemory()}
	h.store = order

	_, err := h.coordinator().Run(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, order.tables)
	assert.Equal(t, store.TableDiscoveries, order.tables[0])
	assert.Equal(t, []string{store.TableDiscoveries, store.TableProposals, store.TableSeenURLs, store.TableEvents}, order.tables)
}

// orderedStore records the table of every append
type orderedStore struct {
	*store.Memory
	tables []string
}

func (o *orderedStore) AppendRow(ctx context.Context, table string, row store.Row) error {
	o.tables = append(o.tables, table)
	return o.Memory.AppendRow(ctx, table, row)
}

func TestRunCompletesWhenEverythingFails(t *testing.T) {
	odense := domain.Source{ID: "odense", Name: "Odense", URL: "https://grundsalg.kortinfo.net/odense-grundsalg/", Strategy: domain.StrategyJSRenderedMap}
	h := newHarness(aarhus, odense)
	h.provider.mapErrs[aarhus.URL] = errors.New("firecrawl down")
	h.provider.fetchErrs[odense.URL] = errors.New("timeout")
	h.store = &brokenStore{Memory: store.NewMemory(), failTables: map[string]bool{
		store.TableDiscoveries: true,
		store.TableEvents:      true,
	}}
	h.notifier.err = errors.New("slack down")

	res, err := h.coordinator().Run(context.Background())
	require.NoError(t, err)

	st := res.Summary.Stats
	assert.Equal(t, 2, st.SourcesProcessed)
	assert.Equal(t, 2, st.SourcesFailed)
	assert.Equal(t, []string{"aarhus", "odense"}, st.FailedSources)
	assert.Equal(t, 1, st.StoreFailures)
	assert.Equal(t, pipeline.StateDone, res.States[len(res.States)-1])
	// discovery failures alone do not notify
	assert.Empty(t, h.notifier.calls)
}

func TestRunAllCandidatesFail(t *testing.T) {
	h := newHarness(aarhus)
	var mapped []fetcher.MapResult
	for _, p := range []string{"/a", "/b", "/c"} {
		u := aarhus.URL + p
		mapped = append(mapped, fetcher.MapResult{URL: u})
		h.provider.pages[u] = "x"
		h.understander.classifyFail[u] = true
	}
	h.provider.maps[aarhus.URL] = mapped
	h.notifier.err = errors.New("slack down")

	res, err := h.coordinator().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, res.Summary.Stats.ClassificationFailed)
	assert.Len(t, h.rows(t, store.TableEvents), 1)
	assert.Len(t, h.notifier.calls, 1)
	assert.False(t, res.Notified)
}

func TestRunLedgerFailureIsCounted(t *testing.T) {
	h := newHarness(aarhus)
	h.provider.maps[aarhus.URL] = []fetcher.MapResult{{URL: grund1}}
	h.provider.pages[grund1] = "x"
	h.store = &brokenStore{Memory: store.NewMemory(), failTables: map[string]bool{store.TableSeenURLs: true}}

	res, err := h.coordinator().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Summary.Stats.LedgerFailures)

	events := h.rows(t, store.TableEvents)
	require.Len(t, events, 1)
	assert.Contains(t, store.ParseEvent(events[0]).Message, `"ledger_failures":1`)
}

func TestRunDeduplicatesAcrossSources(t *testing.T) {
	sub := domain.Source{ID: "aarhus-kommune", Name: "Aarhus Kommune", URL: "https://aarhus.dk/grunde", Strategy: domain.StrategySubsection}
	h := newHarness(aarhus, sub)
	h.provider.maps[aarhus.URL] = []fetcher.MapResult{{URL: grund1}}
	h.provider.maps[sub.URL] = []fetcher.MapResult{{URL: grund1}}
	h.provider.pages[grund1] = "x"

	res, err := h.coordinator().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, h.provider.fetchCalls[grund1])
	assert.Equal(t, 1, res.Summary.Stats.URLsAttempted)
	assert.Len(t, h.rows(t, store.TableDiscoveries), 2)
}

func TestRunInitFailure(t *testing.T) {
	c := pipeline.New(pipeline.Deps{
		Sources: func() ([]domain.Source, error) { return nil, errors.New("sources.yaml: no such file") },
		Store:   store.NewMemory(),
		Log:     logger.NewNop(),
	})
	_, err := c.Run(context.Background())
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "load sources"))

	failing := &failingReads{Memory: store.NewMemory()}
	c = pipeline.New(pipeline.Deps{
		Sources: func() ([]domain.Source, error) { return []domain.Source{aarhus}, nil },
		Store:   failing,
		Log:     logger.NewNop(),
	})
	_, err = c.Run(context.Background())
	require.Error(t, err)
	var se *domain.StoreError
	assert.ErrorAs(t, err, &se)
}

type failingReads struct {
	*store.Memory
}

func (f *failingReads) ReadRows(context.Context, string) ([]store.Row, error) {
	return nil, errors.New("sheet not shared")
}

func TestRunEventMessageIsStatsJSON(t *testing.T) {
	h := newHarness()

	res, err := h.coordinator().Run(context.Background())
	require.NoError(t, err)

	events := h.rows(t, store.TableEvents)
	require.Len(t, events, 1)
	ev := store.ParseEvent(events[0])
	assert.Equal(t, pipeline.EventTypeRun, ev.Type)
	assert.Contains(t, ev.Message, res.Summary.Stats.RunID)
	assert.Empty(t, h.notifier.calls)
}

func TestRunCancelledMidFetchLeavesURLUnattempted(t *testing.T) {
	h := newHarness(aarhus)
	grund2 := aarhus.URL + "/grund/2"
	h.provider.maps[aarhus.URL] = []fetcher.MapResult{{URL: grund1}, {URL: grund2}}
	h.provider.pages[grund2] = "b"
	h.provider.fetchErrs[grund1] = &domain.FetchError{URL: grund1, Transient: true, Err: context.Canceled}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.provider.onFetch = func(string) { cancel() }

	res, err := h.coordinator().Run(ctx)
	require.NoError(t, err)

	st := res.Summary.Stats
	assert.Zero(t, st.URLsAttempted)
	assert.Zero(t, st.ScrapeFailed)
	assert.Equal(t, 1, h.provider.fetchCalls[grund1], "no retry after cancellation")
	assert.Zero(t, h.provider.fetchCalls[grund2])
	assert.Empty(t, h.rows(t, store.TableSeenURLs))
	assert.Empty(t, h.rows(t, store.TableFailures))
	assert.Len(t, h.rows(t, store.TableEvents), 1)
}
