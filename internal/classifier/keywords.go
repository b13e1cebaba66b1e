package classifier

import (
	"sort"
	"strings"
	"sync"

	ahocorasick "github.com/cloudflare/ahocorasick"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// PropertySaleKeywords is the Danish keyword set used for site mapping and the
// relevance pre-check.
var PropertySaleKeywords = []string{
	"grundsalg",
	"grunde til salg",
	"byggegrund",
	"parcelhusgrund",
	"erhvervsgrund",
	"boliggrund",
	"storparcel",
	"salg af grund",
	"udbud af grund",
	"ejendomssalg",
	"købesum",
	"mindstepris",
	"tilbudsfrist",
	"salgsvilkår",
}

// NewsKeywords is the narrower set used for news feeds, where generic words
// like "salg" match too much unrelated content.
var NewsKeywords = []string{
	"grundsalg",
	"byggegrund",
	"parcelhusgrund",
	"erhvervsgrund",
	"boliggrund",
	"storparcel",
}

// normalizeText composes accents (NFC) and lowercases with Danish rules.
// A Caser is stateful, so one is made per call.
func normalizeText(s string) string {
	return cases.Lower(language.Danish).String(norm.NFC.String(s))
}

// KeywordMatcher counts distinct keyword hits in a single pass.
// The underlying matcher is not safe for concurrent use.
type KeywordMatcher struct {
	mu       sync.Mutex
	matcher  *ahocorasick.Matcher
	keywords []string
}

// NewKeywordMatcher builds an Aho-Corasick automaton for keywords
func NewKeywordMatcher(keywords []string) *KeywordMatcher {
	seen := make(map[string]bool)
	normalized := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(normalizeText(kw))
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		normalized = append(normalized, kw)
	}

	m := &KeywordMatcher{keywords: normalized}
	if len(normalized) > 0 {
		m.matcher = ahocorasick.NewStringMatcher(normalized)
	}
	return m
}

// Match returns the distinct keywords found in text, sorted
func (m *KeywordMatcher) Match(text string) []string {
	if m == nil || m.matcher == nil || text == "" {
		return nil
	}

	m.mu.Lock()
	hits := m.matcher.Match([]byte(normalizeText(text)))
	m.mu.Unlock()

	found := make(map[string]bool, len(hits))
	for _, i := range hits {
		if i < len(m.keywords) {
			found[m.keywords[i]] = true
		}
	}

	out := make([]string, 0, len(found))
	for kw := range found {
		out = append(out, kw)
	}
	sort.Strings(out)
	return out
}

// Keywords returns the normalized keyword list
func (m *KeywordMatcher) Keywords() []string {
	return append([]string(nil), m.keywords...)
}
