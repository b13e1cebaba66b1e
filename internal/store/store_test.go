package store_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/grundsalg/internal/domain"
	"github.com/pbaille/grundsalg/internal/store"
)

func exerciseStore(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.AppendRow(ctx, store.TableSeenURLs, store.Row{"https://a.dk/1", "2026-01-01T00:00:00Z"}))
	require.NoError(t, s.AppendRow(ctx, store.TableSeenURLs, store.Row{"https://a.dk/2", "2026-01-01T00:00:01Z"}))
	require.NoError(t, s.AppendRow(ctx, store.TableSeenURLs, store.Row{"https://a.dk/1", "2026-01-01T00:00:02Z"}))
	require.NoError(t, s.AppendRow(ctx, store.TableEvents, store.Row{"2026-01-01T00:00:03Z", "run", "t", "m"}))

	rows, err := s.ReadRows(ctx, store.TableSeenURLs)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "https://a.dk/1", rows[0][0])
	assert.Equal(t, "https://a.dk/2", rows[1][0])
	assert.Equal(t, "2026-01-01T00:00:02Z", rows[2][1])

	events, err := s.ReadRows(ctx, store.TableEvents)
	require.NoError(t, err)
	require.Len(t, events, 1)

	empty, err := s.ReadRows(ctx, store.TableProposals)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemory(t *testing.T) {
	exerciseStore(t, store.NewMemory())
}

func TestMemoryCopiesRows(t *testing.T) {
	m := store.NewMemory()
	row := store.Row{"x"}
	require.NoError(t, m.AppendRow(context.Background(), "t", row))
	row[0] = "mutated"

	rows, err := m.ReadRows(context.Background(), "t")
	require.NoError(t, err)
	assert.Equal(t, "x", rows[0][0])
}

func TestSQLite(t *testing.T) {
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)
}

// fakeSheets emulates the Apps Script web app in memory
func fakeSheets(t *testing.T) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	sheets := map[string][][]any{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		switch r.Method {
		case http.MethodPost:
			var req struct {
				Sheet string `json:"sheet"`
				Row   []any  `json:"row"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			sheets[req.Sheet] = append(sheets[req.Sheet], req.Row)
			w.Write([]byte(`{"ok":true}`))
		case http.MethodGet:
			rows := sheets[r.URL.Query().Get("sheet")]
			if rows == nil {
				rows = [][]any{}
			}
			json.NewEncoder(w).Encode(map[string]any{"rows": rows})
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSheets(t *testing.T) {
	srv := fakeSheets(t)

	s, err := store.NewSheets(srv.URL, time.Second)
	require.NoError(t, err)

	exerciseStore(t, s)
}

func TestSheetsNumericCells(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"rows":[["2026-01-01T00:00:00Z","Aarhus","Grund","https://a.dk",0.9,"s",true,null]]}`))
	}))
	defer srv.Close()

	s, err := store.NewSheets(srv.URL, time.Second)
	require.NoError(t, err)

	rows, err := s.ReadRows(context.Background(), store.TableProposals)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, store.Row{"2026-01-01T00:00:00Z", "Aarhus", "Grund", "https://a.dk", "0.9", "s", "true", ""}, rows[0])

	p := store.ParseProposal(rows[0])
	assert.InDelta(t, 0.9, p.Confidence, 1e-9)
}

func TestSheetsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			http.Error(w, "quota", http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"error":"no such sheet"}`))
	}))
	defer srv.Close()

	s, err := store.NewSheets(srv.URL, time.Second)
	require.NoError(t, err)

	err = s.AppendRow(context.Background(), "x", store.Row{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")

	_, err = s.ReadRows(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such sheet")

	_, err = store.NewSheets("", time.Second)
	assert.Error(t, err)
}

func TestRowRoundTrips(t *testing.T) {
	ts := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)

	p := domain.Proposal{Timestamp: ts, Municipality: "aarhus", Title: "Storparcel", URL: "https://a.dk/g/1", Confidence: 0.9, Summary: "Grund til salg"}
	assert.Equal(t, p, store.ParseProposal(store.ProposalRow(p)))

	f := domain.FailureRecord{Timestamp: ts, URL: "https://a.dk/g/2", SourceID: "aarhus", Kind: domain.FailureScrape, Error: "timeout"}
	assert.Equal(t, f, store.ParseFailure(store.FailureRow(f)))

	s := domain.SeenURL{URL: "https://a.dk/g/3", SeenAt: ts}
	assert.Equal(t, s, store.ParseSeen(store.SeenRow(s)))

	e := store.Event{Timestamp: ts, Type: "run", Title: "t", Message: "m"}
	assert.Equal(t, e, store.ParseEvent(store.EventRow(e)))

	src := domain.Source{ID: "aarhus", Name: "Aarhus", Strategy: domain.StrategyDedicatedPortal}
	assert.Equal(t, store.Row{"2026-03-01T06:00:00Z", "aarhus", "Aarhus", "dedicated-portal", "https://a.dk"}, store.DiscoveryRow(ts, src, "https://a.dk"))
}

func TestParseShortRow(t *testing.T) {
	p := store.ParseProposal(store.Row{"bad-time"})
	assert.True(t, p.Timestamp.IsZero())
	assert.Empty(t, p.URL)
}
