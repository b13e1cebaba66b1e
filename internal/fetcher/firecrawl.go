package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pbaille/grundsalg/internal/domain"
)

const defaultFirecrawlURL = "https://api.firecrawl.dev"

// Firecrawl is a Provider backed by the Firecrawl map and scrape endpoints.
// Pages are rendered remotely, so JavaScript-heavy sites work.
type Firecrawl struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewFirecrawl creates a Firecrawl client
func NewFirecrawl(baseURL, apiKey string, timeout time.Duration) (*Firecrawl, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("firecrawl api key not set")
	}
	if baseURL == "" {
		baseURL = defaultFirecrawlURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Firecrawl{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type mapRequest struct {
	URL    string `json:"url"`
	Search string `json:"search,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type mapResponse struct {
	Success bool              `json:"success"`
	Links   []json.RawMessage `json:"links"`
	Error   string            `json:"error,omitempty"`
}

type scrapeRequest struct {
	URL             string   `json:"url"`
	Formats         []string `json:"formats"`
	OnlyMainContent bool     `json:"onlyMainContent"`
}

type scrapeResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    struct {
		Markdown string         `json:"markdown"`
		Links    []string       `json:"links"`
		Metadata map[string]any `json:"metadata"`
	} `json:"data"`
}

// MapSite asks Firecrawl for the site's URLs ranked against the keywords
func (f *Firecrawl) MapSite(ctx context.Context, rootURL string, keywords []string, limit int) ([]MapResult, error) {
	req := mapRequest{
		URL:    rootURL,
		Search: strings.Join(keywords, " "),
		Limit:  limit,
	}

	var resp mapResponse
	if err := f.post(ctx, "/v1/map", rootURL, req, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &domain.FetchError{URL: rootURL, Err: fmt.Errorf("map failed: %s", resp.Error)}
	}

	results := make([]MapResult, 0, len(resp.Links))
	for _, raw := range resp.Links {
		r, ok := decodeMapLink(raw)
		if !ok {
			continue
		}
		results = append(results, r)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

// decodeMapLink accepts both the plain string and the object link forms
func decodeMapLink(raw json.RawMessage) (MapResult, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		return MapResult{URL: s}, s != ""
	}
	var r MapResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return MapResult{}, false
	}
	r.URL = strings.TrimSpace(r.URL)
	return r, r.URL != ""
}

// FetchPage scrapes a URL and returns its main content as markdown
func (f *Firecrawl) FetchPage(ctx context.Context, url string) (*Page, error) {
	req := scrapeRequest{
		URL:             url,
		Formats:         []string{"markdown", "links"},
		OnlyMainContent: true,
	}

	var resp scrapeResponse
	if err := f.post(ctx, "/v1/scrape", url, req, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &domain.FetchError{URL: url, Err: fmt.Errorf("scrape failed: %s", resp.Error)}
	}

	md := strings.TrimSpace(resp.Data.Markdown)
	if md == "" {
		return nil, &domain.FetchError{URL: url, Err: fmt.Errorf("no text content found")}
	}

	meta := make(map[string]string, len(resp.Data.Metadata))
	for k, v := range resp.Data.Metadata {
		if s, ok := v.(string); ok {
			meta[k] = s
		}
	}

	return &Page{
		URL:      url,
		Markdown: md,
		Links:    resp.Data.Links,
		Metadata: meta,
	}, nil
}

func (f *Firecrawl) post(ctx context.Context, path, target string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return &domain.FetchError{URL: target, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.apiKey)

	resp, err := f.client.Do(req)
	if err != nil {
		return requestError(target, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &domain.FetchError{URL: target, Transient: true, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return &domain.FetchError{
			URL:       target,
			Transient: transientStatus(resp.StatusCode),
			Err:       fmt.Errorf("firecrawl error (status %d): %s", resp.StatusCode, truncate(string(respBody), 200)),
		}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &domain.FetchError{URL: target, Err: fmt.Errorf("unmarshal response: %w", err)}
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
