// Package ledger tracks which URLs have already been processed.
//
// The backing table is append-only and may hold duplicates; the ledger is
// always treated as a set.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pbaille/grundsalg/internal/domain"
	"github.com/pbaille/grundsalg/internal/logger"
	"github.com/pbaille/grundsalg/internal/store"
)

// Ledger is the in-memory snapshot of seen URLs plus its append path
type Ledger struct {
	store      store.Store
	log        logger.Logger
	seen       map[string]time.Time
	retryDelay time.Duration
	now        func() time.Time
}

// Option configures a Ledger
type Option func(*Ledger)

// WithRetryDelay sets the pause before retrying a failed append
func WithRetryDelay(d time.Duration) Option {
	return func(l *Ledger) { l.retryDelay = d }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// Load reads the seen_urls table once and builds the snapshot
func Load(ctx context.Context, s store.Store, log logger.Logger, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		store:      s,
		log:        log,
		seen:       make(map[string]time.Time),
		retryDelay: time.Second,
		now:        time.Now,
	}
	for _, o := range opts {
		o(l)
	}

	rows, err := s.ReadRows(ctx, store.TableSeenURLs)
	if err != nil {
		return nil, &domain.StoreError{Op: "read", Table: store.TableSeenURLs, Err: err}
	}

	dupes := 0
	for _, r := range rows {
		entry := store.ParseSeen(r)
		u := Normalize(entry.URL)
		if u == "" {
			continue
		}
		if _, ok := l.seen[u]; ok {
			dupes++
			continue
		}
		l.seen[u] = entry.SeenAt
	}

	log.Info("ledger loaded", logger.Int("urls", len(l.seen)), logger.Int("duplicate_rows", dupes))
	return l, nil
}

// Normalize trims surrounding whitespace. URLs are otherwise compared exactly.
func Normalize(u string) string {
	return strings.TrimSpace(u)
}

// Contains reports whether u has been seen
func (l *Ledger) Contains(u string) bool {
	_, ok := l.seen[Normalize(u)]
	return ok
}

// Len is the number of distinct seen URLs
func (l *Ledger) Len() int {
	return len(l.seen)
}

// MarkSeen records u in memory and appends it to the store.
// A failed append is retried once. The URL stays in the in-memory set either
// way so it is not reprocessed within this run.
func (l *Ledger) MarkSeen(ctx context.Context, u string) error {
	u = Normalize(u)
	now := l.now()
	l.seen[u] = now

	row := store.SeenRow(domain.SeenURL{URL: u, SeenAt: now})

	err := l.store.AppendRow(ctx, store.TableSeenURLs, row)
	if err == nil {
		return nil
	}

	l.log.Warn("ledger append failed, retrying", logger.String("url", u), logger.Error(err))
	select {
	case <-ctx.Done():
		return &domain.StoreError{Op: "append", Table: store.TableSeenURLs, Err: ctx.Err()}
	case <-time.After(l.retryDelay):
	}

	if err := l.store.AppendRow(ctx, store.TableSeenURLs, row); err != nil {
		return &domain.StoreError{Op: "append", Table: store.TableSeenURLs, Err: fmt.Errorf("after retry: %w", err)}
	}
	return nil
}
