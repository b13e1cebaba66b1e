package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Sheets talks to a Google Apps Script web app fronting the spreadsheet.
//
// Append: POST {"sheet": table, "row": [...]}
// Read:   GET  ?sheet=table  ->  {"rows": [[...], ...]}
type Sheets struct {
	baseURL string
	client  *http.Client
}

// NewSheets creates a Sheets store for the web app deployed at baseURL
func NewSheets(baseURL string, timeout time.Duration) (*Sheets, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("sheets web app url not set (SHEETS_WEBAPP_URL)")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Sheets{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type appendRequest struct {
	Sheet string `json:"sheet"`
	Row   Row    `json:"row"`
}

type sheetsResponse struct {
	Rows  [][]any `json:"rows"`
	Error string  `json:"error,omitempty"`
}

// AppendRow posts row to the named sheet
func (s *Sheets) AppendRow(ctx context.Context, table string, row Row) error {
	body, err := json.Marshal(appendRequest{Sheet: table, Row: row})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("sheets error (status %d): %s", resp.StatusCode, string(msg))
	}
	return nil
}

// ReadRows fetches every row of the named sheet
func (s *Sheets) ReadRows(ctx context.Context, table string) ([]Row, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	q := u.Query()
	q.Set("sheet", table)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sheets error (status %d): %s", resp.StatusCode, string(body))
	}

	var sr sheetsResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if sr.Error != "" {
		return nil, fmt.Errorf("sheets error: %s", sr.Error)
	}

	rows := make([]Row, 0, len(sr.Rows))
	for _, raw := range sr.Rows {
		r := make(Row, len(raw))
		for i, v := range raw {
			r[i] = cellString(v)
		}
		rows = append(rows, r)
	}
	return rows, nil
}

// Close is a no-op
func (s *Sheets) Close() error { return nil }

// cellString renders a spreadsheet cell the way it was written
func cellString(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case float64:
		return strconv.FormatFloat(c, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(c)
	default:
		return fmt.Sprint(c)
	}
}
