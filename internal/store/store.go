// Package store is the append-only tabular log behind the monitor.
//
// Every table is an ordered sequence of string rows with a fixed column layout.
// Backends: a Google Apps Script spreadsheet web app, a local SQLite file, and memory.
package store

import (
	"context"
	"strconv"
	"time"

	"github.com/pbaille/grundsalg/internal/domain"
)

// Table names
const (
	TableDiscoveries = "discoveries"
	TableProposals   = "proposals"
	TableSeenURLs    = "seen_urls"
	TableEvents      = "events"
	TableFailures    = "failures"
)

// Tables lists every table the monitor writes
var Tables = []string{TableDiscoveries, TableProposals, TableSeenURLs, TableEvents, TableFailures}

// Row is one record in a table
type Row []string

// Store appends and reads rows
type Store interface {
	AppendRow(ctx context.Context, table string, row Row) error
	ReadRows(ctx context.Context, table string) ([]Row, error)
	Close() error
}

// Event is a row of the events table
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"event_type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func col(r Row, i int) string {
	if i < len(r) {
		return r[i]
	}
	return ""
}

// DiscoveryRow is [timestamp, source_id, source_name, strategy, url]
func DiscoveryRow(ts time.Time, src domain.Source, url string) Row {
	return Row{formatTime(ts), src.ID, src.Name, string(src.Strategy), url}
}

// ProposalRow is [timestamp, municipality, title, url, confidence, summary]
func ProposalRow(p domain.Proposal) Row {
	return Row{
		formatTime(p.Timestamp),
		p.Municipality,
		p.Title,
		p.URL,
		strconv.FormatFloat(p.Confidence, 'f', 2, 64),
		p.Summary,
	}
}

// ParseProposal is the inverse of ProposalRow
func ParseProposal(r Row) domain.Proposal {
	conf, _ := strconv.ParseFloat(col(r, 4), 64)
	return domain.Proposal{
		Timestamp:    parseTime(col(r, 0)),
		Municipality: col(r, 1),
		Title:        col(r, 2),
		URL:          col(r, 3),
		Confidence:   conf,
		Summary:      col(r, 5),
	}
}

// SeenRow is [url, timestamp]
func SeenRow(s domain.SeenURL) Row {
	return Row{s.URL, formatTime(s.SeenAt)}
}

// ParseSeen is the inverse of SeenRow
func ParseSeen(r Row) domain.SeenURL {
	return domain.SeenURL{URL: col(r, 0), SeenAt: parseTime(col(r, 1))}
}

// EventRow is [timestamp, event_type, title, message]
func EventRow(e Event) Row {
	return Row{formatTime(e.Timestamp), e.Type, e.Title, e.Message}
}

// ParseEvent is the inverse of EventRow
func ParseEvent(r Row) Event {
	return Event{
		Timestamp: parseTime(col(r, 0)),
		Type:      col(r, 1),
		Title:     col(r, 2),
		Message:   col(r, 3),
	}
}

// FailureRow is [timestamp, url, source_id, failure_type, error]
func FailureRow(f domain.FailureRecord) Row {
	return Row{formatTime(f.Timestamp), f.URL, f.SourceID, string(f.Kind), f.Error}
}

// ParseFailure is the inverse of FailureRow
func ParseFailure(r Row) domain.FailureRecord {
	return domain.FailureRecord{
		Timestamp: parseTime(col(r, 0)),
		URL:       col(r, 1),
		SourceID:  col(r, 2),
		Kind:      domain.FailureKind(col(r, 3)),
		Error:     col(r, 4),
	}
}
