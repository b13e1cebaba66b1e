package fetcher

import (
	"context"
	"errors"
	"time"

	"github.com/pbaille/grundsalg/internal/domain"
	"github.com/pbaille/grundsalg/internal/logger"
	"github.com/pbaille/grundsalg/internal/ratelimit"
)

// Limited wraps a Provider so every call first acquires the shared limiter
type Limited struct {
	provider Provider
	limiter  *ratelimit.Limiter
}

// NewLimited creates a rate-limited provider
func NewLimited(p Provider, l *ratelimit.Limiter) *Limited {
	return &Limited{provider: p, limiter: l}
}

// MapSite waits for the limiter, then maps the site
func (l *Limited) MapSite(ctx context.Context, rootURL string, keywords []string, limit int) ([]MapResult, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, &domain.FetchError{URL: rootURL, Err: err}
	}
	return l.provider.MapSite(ctx, rootURL, keywords, limit)
}

// FetchPage waits for the limiter, then fetches the page
func (l *Limited) FetchPage(ctx context.Context, url string) (*Page, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, &domain.FetchError{URL: url, Err: err}
	}
	return l.provider.FetchPage(ctx, url)
}

// Resilient fetches pages with a single retry on failure
type Resilient struct {
	fetcher    PageFetcher
	retryDelay time.Duration
	log        logger.Logger
}

// NewResilient creates a Resilient fetcher. Pass a Limited fetcher so that
// both attempts respect the global call spacing.
func NewResilient(f PageFetcher, retryDelay time.Duration, log logger.Logger) *Resilient {
	return &Resilient{fetcher: f, retryDelay: retryDelay, log: log}
}

// Fetch retrieves url. Any failure is retried once after the retry delay
// unless ctx is done. The Transient flag of the error is informational only.
// The returned error is always a *domain.FetchError with Attempts set.
func (r *Resilient) Fetch(ctx context.Context, url string) (*Page, error) {
	page, err := r.fetcher.FetchPage(ctx, url)
	if err == nil {
		return page, nil
	}
	if ctx.Err() != nil {
		return nil, asFetchError(url, err, 1)
	}

	r.log.Warn("fetch failed, retrying",
		logger.String("url", url),
		logger.Bool("transient", domain.IsTransient(err)),
		logger.Duration("delay", r.retryDelay),
		logger.Error(err),
	)

	select {
	case <-ctx.Done():
		return nil, asFetchError(url, ctx.Err(), 1)
	case <-time.After(r.retryDelay):
	}

	page, err = r.fetcher.FetchPage(ctx, url)
	if err != nil {
		return nil, asFetchError(url, err, 2)
	}
	return page, nil
}

func asFetchError(url string, err error, attempts int) *domain.FetchError {
	var fe *domain.FetchError
	if errors.As(err, &fe) {
		out := *fe
		out.URL = url
		out.Attempts = attempts
		return &out
	}
	return &domain.FetchError{URL: url, Transient: domain.IsTransient(err), Attempts: attempts, Err: err}
}
