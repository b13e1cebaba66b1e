package fetcher

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const maxChildSitemaps = 5

type xmlURLSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

type xmlSitemapIndex struct {
	XMLName  xml.Name `xml:"sitemapindex"`
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

// parseSitemap returns page URLs from a urlset, or child sitemap URLs from an index
func parseSitemap(body []byte) (pages, children []string, err error) {
	var set xmlURLSet
	if err := xml.Unmarshal(body, &set); err == nil {
		for _, u := range set.URLs {
			if loc := strings.TrimSpace(u.Loc); loc != "" {
				pages = append(pages, loc)
			}
		}
		return pages, nil, nil
	}

	var index xmlSitemapIndex
	if err := xml.Unmarshal(body, &index); err != nil {
		return nil, nil, fmt.Errorf("parse sitemap: %w", err)
	}
	for _, s := range index.Sitemaps {
		if loc := strings.TrimSpace(s.Loc); loc != "" {
			children = append(children, loc)
		}
	}
	return nil, children, nil
}

// MapSite lists same-host URLs from /sitemap.xml and the root page whose URL or
// link text contains one of keywords. No keywords means no filtering.
func (p *HTTPProvider) MapSite(ctx context.Context, rootURL string, keywords []string, limit int) ([]MapResult, error) {
	root, err := validateURL(rootURL)
	if err != nil {
		return nil, err
	}

	var candidates []MapResult

	sitemapURLs, sitemapErr := p.sitemapURLs(ctx, root)
	for _, u := range sitemapURLs {
		candidates = append(candidates, MapResult{URL: u})
	}

	anchors, rootErr := p.rootAnchors(ctx, root)
	for _, a := range anchors {
		candidates = append(candidates, MapResult{URL: a.URL, Title: a.Text})
	}

	if sitemapErr != nil && rootErr != nil {
		return nil, fmt.Errorf("map %s: %w", rootURL, rootErr)
	}

	return filterResults(root, candidates, keywords, limit), nil
}

func (p *HTTPProvider) sitemapURLs(ctx context.Context, root *url.URL) ([]string, error) {
	sm := *root
	sm.Path = "/sitemap.xml"
	sm.RawQuery = ""
	sm.Fragment = ""

	body, err := p.get(ctx, sm.String())
	if err != nil {
		return nil, err
	}
	pages, children, err := parseSitemap(body)
	if err != nil {
		return nil, err
	}

	for i, child := range children {
		if i >= maxChildSitemaps {
			break
		}
		childBody, err := p.get(ctx, child)
		if err != nil {
			continue
		}
		childPages, _, err := parseSitemap(childBody)
		if err != nil {
			continue
		}
		pages = append(pages, childPages...)
	}
	return pages, nil
}

func (p *HTTPProvider) rootAnchors(ctx context.Context, root *url.URL) ([]anchor, error) {
	body, err := p.get(ctx, root.String())
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return extractAnchors(doc, root), nil
}

// filterResults keeps unique same-host matches up to limit
func filterResults(root *url.URL, in []MapResult, keywords []string, limit int) []MapResult {
	out := make([]MapResult, 0, len(in))
	seen := make(map[string]bool)

	for _, r := range in {
		u, err := url.Parse(r.URL)
		if err != nil || !sameSite(root.Hostname(), u.Hostname()) {
			continue
		}
		if seen[r.URL] || !MatchesKeywords(r.URL+" "+r.Title, keywords) {
			continue
		}
		seen[r.URL] = true
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func sameSite(rootHost, host string) bool {
	rootHost = strings.TrimPrefix(strings.ToLower(rootHost), "www.")
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	return host == rootHost
}

// MatchesKeywords reports whether s contains any keyword, case-insensitively
func MatchesKeywords(s string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	s = strings.ToLower(s)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(s, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
