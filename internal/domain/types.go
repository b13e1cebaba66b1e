package domain

import (
	"fmt"
	"time"
)

// Strategy identifies how candidate URLs are discovered for a source
type Strategy string

const (
	StrategyDedicatedPortal Strategy = "dedicated-portal"
	StrategyJSRenderedMap   Strategy = "js-rendered-map"
	StrategyNewsFeed        Strategy = "news-feed"
	StrategySubsection      Strategy = "subsection"
	StrategyMinimal         Strategy = "minimal"
)

// Strategies lists every valid strategy type
var Strategies = []Strategy{
	StrategyDedicatedPortal,
	StrategyJSRenderedMap,
	StrategyNewsFeed,
	StrategySubsection,
	StrategyMinimal,
}

// Valid reports whether s is one of the enumerated strategies
func (s Strategy) Valid() bool {
	for _, v := range Strategies {
		if s == v {
			return true
		}
	}
	return false
}

// Source is one monitored municipality site
type Source struct {
	ID       string   `json:"id" yaml:"id"`
	Name     string   `json:"name" yaml:"name"`
	URL      string   `json:"url" yaml:"url"`
	Region   string   `json:"region" yaml:"region"`
	Strategy Strategy `json:"type" yaml:"type"`
}

// SeenURL is a ledger entry for a URL that finished processing
type SeenURL struct {
	URL    string    `json:"url"`
	SeenAt time.Time `json:"seen_at"`
}

// Candidate is a URL discovered in the current run and not yet in the ledger
type Candidate struct {
	URL          string    `json:"url"`
	SourceID     string    `json:"source_id"`
	Strategy     Strategy  `json:"strategy"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// ClassificationResult is the outcome of the cheap relevance stage
type ClassificationResult struct {
	Relevant   bool    `json:"relevant"`
	Confidence float64 `json:"confidence"`
	Category   string  `json:"category"`
	Reason     string  `json:"reason"`
}

// ExtractionResult is the outcome of the structured extraction stage
type ExtractionResult struct {
	IsPropertyListing bool    `json:"is_property_listing"`
	Confidence        float64 `json:"confidence"`
	Title             string  `json:"title"`
	Municipality      string  `json:"municipality"`
	Summary           string  `json:"summary"`
}

// Proposal is an extraction judged worth surfacing to a human
type Proposal struct {
	Timestamp    time.Time `json:"timestamp"`
	Municipality string    `json:"municipality"`
	Title        string    `json:"title"`
	URL          string    `json:"url"`
	Confidence   float64   `json:"confidence"`
	Summary      string    `json:"summary"`
}

// FailureKind names the pipeline stage a failure belongs to
type FailureKind string

const (
	FailureScrape         FailureKind = "scrape"
	FailureClassification FailureKind = "classification"
	FailureExtraction     FailureKind = "extraction"
)

// FailureRecord is a persisted account of a stage that could not complete
type FailureRecord struct {
	Timestamp time.Time   `json:"timestamp"`
	URL       string      `json:"url"`
	SourceID  string      `json:"source_id"`
	Kind      FailureKind `json:"failure_type"`
	Error     string      `json:"error"`
}

// RunStats accumulates counters for a single run
type RunStats struct {
	RunID                 string        `json:"run_id"`
	SourcesProcessed      int           `json:"sources_processed"`
	SourcesFailed         int           `json:"sources_failed"`
	FailedSources         []string      `json:"failed_sources,omitempty"`
	URLsDiscovered        int           `json:"urls_discovered"`
	URLsAttempted         int           `json:"urls_attempted"`
	ScrapeSuccess         int           `json:"scrape_success"`
	ScrapeFailed          int           `json:"scrape_failed"`
	ClassificationSuccess int           `json:"classification_success"`
	ClassificationFailed  int           `json:"classification_failed"`
	ClassifiedRelevant    int           `json:"classified_relevant"`
	KeywordShortCircuits  int           `json:"keyword_short_circuits"`
	ExtractionSuccess     int           `json:"extraction_success"`
	ExtractionFailed      int           `json:"extraction_failed"`
	ProposalsCreated      int           `json:"proposals_created"`
	SkippedIrrelevant     int           `json:"skipped_irrelevant"`
	PrefilterDropped      int           `json:"prefilter_dropped"`
	AuditFailures         int           `json:"audit_failures"`
	LedgerFailures        int           `json:"ledger_failures"`
	StoreFailures         int           `json:"store_failures"`
	Duration              time.Duration `json:"duration"`
}

// FailureCount is the number of failure records produced in the run
func (s *RunStats) FailureCount() int {
	return s.ScrapeFailed + s.ClassificationFailed + s.ExtractionFailed
}

// ExtractionAttempts is the number of calls made to the extraction stage
func (s *RunStats) ExtractionAttempts() int {
	return s.ExtractionSuccess + s.ExtractionFailed
}

// Summary renders the counters as a single human-readable line
func (s *RunStats) Summary() string {
	return fmt.Sprintf(
		"sources=%d (failed %d) discovered=%d attempted=%d scraped=%d/%d classified=%d/%d relevant=%d extracted=%d/%d proposals=%d irrelevant=%d",
		s.SourcesProcessed, s.SourcesFailed, s.URLsDiscovered, s.URLsAttempted,
		s.ScrapeSuccess, s.ScrapeSuccess+s.ScrapeFailed,
		s.ClassificationSuccess, s.ClassificationSuccess+s.ClassificationFailed,
		s.ClassifiedRelevant,
		s.ExtractionSuccess, s.ExtractionAttempts(),
		s.ProposalsCreated, s.SkippedIrrelevant,
	)
}
