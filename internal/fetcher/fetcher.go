// Package fetcher implements the content-discovery providers and the resilient page fetcher.
package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/pbaille/grundsalg/internal/domain"
	"github.com/pbaille/grundsalg/internal/ratelimit"
)

const maxBodyBytes = 5 * 1024 * 1024

// HTTPProvider fetches and maps sites directly over HTTP.
// It does not execute JavaScript.
type HTTPProvider struct {
	client    *http.Client
	userAgent string
	converter *converter.Converter
	limiter   *ratelimit.Limiter
}

// NewHTTPProvider creates a local provider
func NewHTTPProvider(userAgent string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if userAgent == "" {
		userAgent = "grundsalg/1.0"
	}
	return &HTTPProvider{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		converter: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// WithLimiter makes every outgoing HTTP request wait on l. MapSite issues
// several requests, so this spaces them individually; do not also wrap the
// provider in Limited.
func (p *HTTPProvider) WithLimiter(l *ratelimit.Limiter) *HTTPProvider {
	p.limiter = l
	return p
}

// FetchPage retrieves a URL and returns its content as markdown plus outgoing links
func (p *HTTPProvider) FetchPage(ctx context.Context, rawURL string) (*Page, error) {
	u, err := validateURL(rawURL)
	if err != nil {
		return nil, &domain.FetchError{URL: rawURL, Err: err}
	}

	body, err := p.get(ctx, u.String())
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &domain.FetchError{URL: rawURL, Err: fmt.Errorf("parse html: %w", err)}
	}

	page := &Page{
		URL:   rawURL,
		Links: extractLinks(doc, u),
		Metadata: map[string]string{
			"title":       pageTitle(doc),
			"description": metaDescription(doc),
		},
	}

	page.Markdown = p.toMarkdown(string(body), u.String())
	if page.Markdown == "" {
		return nil, &domain.FetchError{URL: rawURL, Err: fmt.Errorf("no text content found")}
	}

	return page, nil
}

func (p *HTTPProvider) get(ctx context.Context, target string) ([]byte, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, &domain.FetchError{URL: target, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &domain.FetchError{URL: target, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept-Language", "da,en;q=0.5")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, requestError(target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(target, resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &domain.FetchError{URL: target, Transient: true, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}

// toMarkdown converts HTML to markdown, falling back to plain text
func (p *HTTPProvider) toMarkdown(htmlContent, pageURL string) string {
	md, err := p.converter.ConvertString(htmlContent, converter.WithDomain(pageURL))
	if err == nil && strings.TrimSpace(md) != "" {
		return strings.TrimSpace(md)
	}
	return extractText(htmlContent)
}

func validateURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid URL: missing host")
	}
	return u, nil
}

func pageTitle(doc *goquery.Document) string {
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if og, ok := doc.Find("meta[property='og:title']").Attr("content"); ok {
		return strings.TrimSpace(og)
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}

func metaDescription(doc *goquery.Document) string {
	if desc, ok := doc.Find("meta[name='description']").Attr("content"); ok {
		return strings.TrimSpace(desc)
	}
	if og, ok := doc.Find("meta[property='og:description']").Attr("content"); ok {
		return strings.TrimSpace(og)
	}
	return ""
}

// anchor is a resolved link with its visible text
type anchor struct {
	URL  string
	Text string
}

func extractAnchors(doc *goquery.Document, base *url.URL) []anchor {
	var out []anchor
	seen := make(map[string]bool)

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		abs := ResolveLink(base, href)
		if abs == "" || seen[abs] {
			return
		}
		seen[abs] = true
		out = append(out, anchor{URL: abs, Text: strings.Join(strings.Fields(s.Text()), " ")})
	})
	return out
}

func extractLinks(doc *goquery.Document, base *url.URL) []string {
	anchors := extractAnchors(doc, base)
	links := make([]string, len(anchors))
	for i, a := range anchors {
		links[i] = a.URL
	}
	return links
}

// ResolveLink makes href absolute against base and drops the fragment.
// Non-http links (mailto:, javascript:, tel:) resolve to "".
func ResolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	abs.Fragment = ""
	abs.RawFragment = ""
	return abs.String()
}

// extractText parses HTML and returns readable text content
func extractText(htmlContent string) string {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return ""
	}

	var sb strings.Builder
	var extract func(*html.Node)

	// Tags to skip (non-content)
	skipTags := map[string]bool{
		"script": true, "style": true, "nav": true,
		"header": true, "footer": true, "aside": true,
		"noscript": true, "iframe": true,
	}

	extract = func(n *html.Node) {
		if n.Type == html.ElementNode && skipTags[n.Data] {
			return
		}

		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				sb.WriteString(text)
				sb.WriteString(" ")
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}

		if n.Type == html.ElementNode {
			switch n.Data {
			case "p", "div", "h1", "h2", "h3", "h4", "h5", "h6", "li", "br", "tr":
				sb.WriteString("\n")
			}
		}
	}

	extract(doc)

	lines := strings.Split(sb.String(), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
