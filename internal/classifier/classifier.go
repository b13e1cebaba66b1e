// Package classifier decides whether fetched pages are municipal property sales.
//
// Classification is cheap and runs for every page; extraction is expensive and
// runs only after a relevant classification.
package classifier

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/pbaille/grundsalg/internal/domain"
	"github.com/pbaille/grundsalg/internal/logger"
)

// Understander is the external text-understanding capability
type Understander interface {
	Classify(ctx context.Context, url, text string) (domain.ClassificationResult, error)
	Extract(ctx context.Context, url, text string) (domain.ExtractionResult, error)
}

// Config tunes the two-stage pipeline
type Config struct {
	// KeywordPrecheck lets enough keyword hits mark a page relevant without an API call
	KeywordPrecheck bool
	MinKeywordHits  int
	// MaxChars truncates page text before it is sent to the provider
	MaxChars int
}

// Analysis is the outcome of running the stages on one page.
// Extraction is nil when the page was not relevant.
type Analysis struct {
	Classification domain.ClassificationResult
	KeywordMatch   bool
	Extraction     *domain.ExtractionResult
}

// TwoStage gates expensive extraction behind cheap classification
type TwoStage struct {
	understander Understander
	keywords     *KeywordMatcher
	cfg          Config
	log          logger.Logger
}

// NewTwoStage creates the two-stage classifier
func NewTwoStage(u Understander, cfg Config, log logger.Logger) *TwoStage {
	if cfg.MinKeywordHits <= 0 {
		cfg.MinKeywordHits = 1
	}
	return &TwoStage{
		understander: u,
		keywords:     NewKeywordMatcher(PropertySaleKeywords),
		cfg:          cfg,
		log:          log,
	}
}

// Analyze classifies text and, if relevant, extracts listing details.
// Counters in stats are updated for every stage reached. The returned error
// is a *domain.ClassificationError or a *domain.ExtractionError; on extraction
// failure the Analysis still carries the classification.
func (t *TwoStage) Analyze(ctx context.Context, url, text string, stats *domain.RunStats) (*Analysis, error) {
	text = Truncate(text, t.cfg.MaxChars)
	a := &Analysis{}

	if t.cfg.KeywordPrecheck {
		if hits := t.keywords.Match(url + "\n" + text); len(hits) >= t.cfg.MinKeywordHits {
			a.KeywordMatch = true
			a.Classification = domain.ClassificationResult{
				Relevant:   true,
				Confidence: 1,
				Category:   "land-sale",
				Reason:     "keywords: " + strings.Join(hits, ", "),
			}
			stats.KeywordShortCircuits++
			t.log.Debug("keyword pre-check matched", logger.String("url", url), logger.Strings("keywords", hits))
		}
	}

	if !a.KeywordMatch {
		res, err := t.understander.Classify(ctx, url, text)
		if err != nil {
			stats.ClassificationFailed++
			return nil, &domain.ClassificationError{URL: url, Err: err}
		}
		a.Classification = res
	}
	stats.ClassificationSuccess++

	if !a.Classification.Relevant {
		stats.SkippedIrrelevant++
		return a, nil
	}
	stats.ClassifiedRelevant++

	ext, err := t.understander.Extract(ctx, url, text)
	if err != nil {
		stats.ExtractionFailed++
		return a, &domain.ExtractionError{URL: url, Err: err}
	}
	stats.ExtractionSuccess++
	a.Extraction = &ext

	return a, nil
}

// NewsFilter is the discovery-time relevance pre-filter for news feed items.
// It sees only the title and description from site mapping.
type NewsFilter struct {
	understander Understander
	keywords     *KeywordMatcher
}

// NewNewsFilter creates a pre-filter using the narrow news keyword set
func NewNewsFilter(u Understander) *NewsFilter {
	return &NewsFilter{understander: u, keywords: NewKeywordMatcher(NewsKeywords)}
}

// Relevant reports whether a feed item is worth treating as a candidate.
// A keyword hit accepts without an API call.
func (f *NewsFilter) Relevant(ctx context.Context, url, text string) (bool, error) {
	if len(f.keywords.Match(url+"\n"+text)) > 0 {
		return true, nil
	}
	if f.understander == nil {
		return false, nil
	}
	res, err := f.understander.Classify(ctx, url, text)
	if err != nil {
		return false, err
	}
	return res.Relevant, nil
}

// Truncate shortens s to at most n runes. n <= 0 disables truncation.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
