package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/pbaille/grundsalg/internal/domain"
)

// MapResult is one link returned by site mapping
type MapResult struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// Page is rendered page content
type Page struct {
	URL      string            `json:"url"`
	Markdown string            `json:"markdown"`
	Links    []string          `json:"links"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Title returns the page title from metadata
func (p *Page) Title() string {
	if p == nil || p.Metadata == nil {
		return ""
	}
	return p.Metadata["title"]
}

// PageFetcher fetches rendered content for a single URL
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) (*Page, error)
}

// Provider is the content-discovery capability: map a site by keywords and fetch pages
type Provider interface {
	PageFetcher
	MapSite(ctx context.Context, rootURL string, keywords []string, limit int) ([]MapResult, error)
}

// transientStatus reports whether an HTTP status is worth retrying
func transientStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= http.StatusInternalServerError
}

// requestError converts a transport error into a FetchError.
// Network failures are transient; a cancelled context is not.
func requestError(url string, err error) error {
	return &domain.FetchError{URL: url, Transient: !errors.Is(err, context.Canceled), Err: err}
}

func statusError(url string, code int, status string) error {
	return &domain.FetchError{URL: url, Transient: transientStatus(code), Err: fmt.Errorf("HTTP %d: %s", code, status)}
}
