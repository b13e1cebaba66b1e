package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pbaille/grundsalg/internal/domain"
	"github.com/pbaille/grundsalg/internal/logger"
	"github.com/pbaille/grundsalg/internal/store"
)

const defaultLimit = 50

// Server exposes the monitor's tables over a read-only HTTP API
type Server struct {
	store store.Store
	addr  string
	log   logger.Logger
}

// New creates a new API server
func New(s store.Store, addr string, log logger.Logger) *Server {
	return &Server{store: s, addr: addr, log: log}
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /proposals", s.listProposals)
	mux.HandleFunc("GET /failures", s.listFailures)
	mux.HandleFunc("GET /events", s.listEvents)
	mux.HandleFunc("GET /discoveries", s.listDiscoveries)
	mux.HandleFunc("GET /seen", s.checkSeen)

	// Health check
	mux.HandleFunc("GET /health", s.health)

	return withCORS(mux)
}

// Run serves until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting server", logger.String("addr", s.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// withCORS adds CORS headers for dashboard use
func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		h.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// page reads limit and offset, newest first
type page struct {
	limit  int
	offset int
}

func pageParams(r *http.Request) page {
	p := page{limit: defaultLimit}
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			p.limit = n
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil && n >= 0 {
			p.offset = n
		}
	}
	return p
}

// newest returns rows reversed and windowed by p
func newest[T any](items []T, p page) []T {
	out := make([]T, 0, p.limit)
	for i := len(items) - 1 - p.offset; i >= 0 && len(out) < p.limit; i-- {
		out = append(out, items[i])
	}
	return out
}

func (s *Server) readRows(w http.ResponseWriter, r *http.Request, table string) ([]store.Row, bool) {
	rows, err := s.store.ReadRows(r.Context(), table)
	if err != nil {
		s.log.Error("read failed", logger.String("table", table), logger.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return rows, true
}

func (s *Server) listProposals(w http.ResponseWriter, r *http.Request) {
	rows, ok := s.readRows(w, r, store.TableProposals)
	if !ok {
		return
	}

	municipality := strings.TrimSpace(r.URL.Query().Get("municipality"))
	proposals := make([]domain.Proposal, 0, len(rows))
	for _, row := range rows {
		p := store.ParseProposal(row)
		if municipality != "" && !strings.EqualFold(p.Municipality, municipality) {
			continue
		}
		proposals = append(proposals, p)
	}

	pg := pageParams(r)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"proposals": newest(proposals, pg),
		"total":     len(proposals),
		"limit":     pg.limit,
		"offset":    pg.offset,
	})
}

func (s *Server) listFailures(w http.ResponseWriter, r *http.Request) {
	rows, ok := s.readRows(w, r, store.TableFailures)
	if !ok {
		return
	}

	kind := domain.FailureKind(r.URL.Query().Get("kind"))
	switch kind {
	case "", domain.FailureScrape, domain.FailureClassification, domain.FailureExtraction:
	default:
		writeError(w, http.StatusBadRequest, "kind must be scrape, classification or extraction")
		return
	}

	failures := make([]domain.FailureRecord, 0, len(rows))
	for _, row := range rows {
		f := store.ParseFailure(row)
		if kind != "" && f.Kind != kind {
			continue
		}
		failures = append(failures, f)
	}

	pg := pageParams(r)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"failures": newest(failures, pg),
		"total":    len(failures),
		"limit":    pg.limit,
		"offset":   pg.offset,
	})
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	rows, ok := s.readRows(w, r, store.TableEvents)
	if !ok {
		return
	}

	events := make([]store.Event, len(rows))
	for i, row := range rows {
		events[i] = store.ParseEvent(row)
	}

	pg := pageParams(r)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": newest(events, pg),
		"total":  len(events),
	})
}

// DiscoveryEntry is one audit row
type DiscoveryEntry struct {
	Timestamp  string `json:"timestamp"`
	SourceID   string `json:"source_id"`
	SourceName string `json:"source_name"`
	Strategy   string `json:"strategy"`
	URL        string `json:"url"`
}

func (s *Server) listDiscoveries(w http.ResponseWriter, r *http.Request) {
	rows, ok := s.readRows(w, r, store.TableDiscoveries)
	if !ok {
		return
	}

	source := r.URL.Query().Get("source")
	entries := make([]DiscoveryEntry, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			continue
		}
		if source != "" && row[1] != source {
			continue
		}
		entries = append(entries, DiscoveryEntry{
			Timestamp:  row[0],
			SourceID:   row[1],
			SourceName: row[2],
			Strategy:   row[3],
			URL:        row[4],
		})
	}

	pg := pageParams(r)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"discoveries": newest(entries, pg),
		"total":       len(entries),
	})
}

// SeenResponse answers a ledger lookup
type SeenResponse struct {
	URL    string     `json:"url,omitempty"`
	Seen   bool       `json:"seen"`
	SeenAt *time.Time `json:"seen_at,omitempty"`
	Total  int        `json:"total"`
}

func (s *Server) checkSeen(w http.ResponseWriter, r *http.Request) {
	rows, ok := s.readRows(w, r, store.TableSeenURLs)
	if !ok {
		return
	}

	target := strings.TrimSpace(r.URL.Query().Get("url"))
	resp := SeenResponse{URL: target}

	distinct := make(map[string]bool)
	for _, row := range rows {
		entry := store.ParseSeen(row)
		u := strings.TrimSpace(entry.URL)
		if u == "" {
			continue
		}
		distinct[u] = true
		if target != "" && u == target && !resp.Seen {
			resp.Seen = true
			at := entry.SeenAt
			resp.SeenAt = &at
		}
	}
	resp.Total = len(distinct)

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
