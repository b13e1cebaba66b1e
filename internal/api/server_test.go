package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/grundsalg/internal/api"
	"github.com/pbaille/grundsalg/internal/domain"
	"github.com/pbaille/grundsalg/internal/logger"
	"github.com/pbaille/grundsalg/internal/store"
)

func seededServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	m := store.NewMemory()
	ts := time.Date(2026, 5, 1, 7, 0, 0, 0, time.UTC)

	for i, u := range []string{"https://a.dk/1", "https://a.dk/2", "https://b.dk/1"} {
		muni := "aarhus"
		if i == 2 {
			muni = "odense"
		}
		require.NoError(t, m.AppendRow(ctx, store.TableProposals, store.ProposalRow(domain.Proposal{
			Timestamp: ts, Municipality: muni, Title: "Grund", URL: u, Confidence: 0.9,
		})))
	}
	require.NoError(t, m.AppendRow(ctx, store.TableFailures, store.FailureRow(domain.FailureRecord{
		Timestamp: ts, URL: "https://a.dk/x", SourceID: "aarhus", Kind: domain.FailureScrape, Error: "404",
	})))
	require.NoError(t, m.AppendRow(ctx, store.TableFailures, store.FailureRow(domain.FailureRecord{
		Timestamp: ts, URL: "https://a.dk/y", SourceID: "aarhus", Kind: domain.FailureExtraction, Error: "parse",
	})))
	require.NoError(t, m.AppendRow(ctx, store.TableSeenURLs, store.SeenRow(domain.SeenURL{URL: "https://a.dk/1", SeenAt: ts})))
	require.NoError(t, m.AppendRow(ctx, store.TableSeenURLs, store.SeenRow(domain.SeenURL{URL: "https://a.dk/1", SeenAt: ts.Add(time.Hour)})))
	require.NoError(t, m.AppendRow(ctx, store.TableEvents, store.EventRow(store.Event{Timestamp: ts, Type: "run", Title: "Run completed", Message: "{}"})))
	require.NoError(t, m.AppendRow(ctx, store.TableDiscoveries, store.Row{"2026-05-01T07:00:00Z", "aarhus", "Aarhus", "dedicated-portal", "https://a.dk/1"}))

	srv := httptest.NewServer(api.New(m, ":0", logger.NewNop()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	srv := seededServer(t)
	var body map[string]string
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/health", &body))
	assert.Equal(t, "ok", body["status"])
}

func TestProposalsNewestFirst(t *testing.T) {
	srv := seededServer(t)

	var body struct {
		Proposals []domain.Proposal `json:"proposals"`
		Total     int               `json:"total"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/proposals?limit=2", &body))
	assert.Equal(t, 3, body.Total)
	require.Len(t, body.Proposals, 2)
	assert.Equal(t, "https://b.dk/1", body.Proposals[0].URL)
	assert.Equal(t, "https://a.dk/2", body.Proposals[1].URL)

	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/proposals?municipality=Odense", &body))
	assert.Equal(t, 1, body.Total)
}

func TestFailuresByKind(t *testing.T) {
	srv := seededServer(t)

	var body struct {
		Failures []domain.FailureRecord `json:"failures"`
		Total    int                    `json:"total"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/failures?kind=scrape", &body))
	require.Len(t, body.Failures, 1)
	assert.Equal(t, "https://a.dk/x", body.Failures[0].URL)

	var errBody map[string]string
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/failures?kind=bogus", &errBody))
}

func TestSeen(t *testing.T) {
	srv := seededServer(t)

	var body api.SeenResponse
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/seen?url=https://a.dk/1", &body))
	assert.True(t, body.Seen)
	require.NotNil(t, body.SeenAt)
	assert.Equal(t, 7, body.SeenAt.Hour(), "first sighting wins")
	assert.Equal(t, 1, body.Total)

	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/seen?url=https://a.dk/2", &body))
	assert.False(t, body.Seen)
}

func TestEventsAndDiscoveries(t *testing.T) {
	srv := seededServer(t)

	var events struct {
		Events []store.Event `json:"events"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/events", &events))
	require.Len(t, events.Events, 1)
	assert.Equal(t, "run", events.Events[0].Type)

	var disc struct {
		Discoveries []api.DiscoveryEntry `json:"discoveries"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/discoveries?source=aarhus", &disc))
	require.Len(t, disc.Discoveries, 1)
	assert.Equal(t, "dedicated-portal", disc.Discoveries[0].Strategy)
}

func TestReadOnly(t *testing.T) {
	srv := seededServer(t)
	resp, err := http.Post(srv.URL+"/proposals", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
