// Package notify sends run summaries to a chat channel.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pbaille/grundsalg/internal/domain"
	"github.com/pbaille/grundsalg/internal/logger"
)

const maxListed = 10

// Summary is what a run reports at the end
type Summary struct {
	Stats     domain.RunStats
	Proposals []domain.Proposal
	Failures  []domain.FailureRecord
}

// Notifier delivers a run summary
type Notifier interface {
	Notify(ctx context.Context, s Summary) error
}

// Noop discards summaries
type Noop struct{}

// Notify implements Notifier
func (Noop) Notify(context.Context, Summary) error { return nil }

// Webhook posts summaries to a Slack-compatible incoming webhook
type Webhook struct {
	url        string
	client     *http.Client
	maxRetries int
	backoff    time.Duration
	log        logger.Logger
}

// WebhookOption configures a Webhook
type WebhookOption func(*Webhook)

// WithRetries sets the maximum number of retries. Default: 2.
func WithRetries(n int) WebhookOption {
	return func(w *Webhook) { w.maxRetries = n }
}

// WithBackoff sets the base backoff between retries. Default: 1s.
func WithBackoff(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.backoff = d }
}

// NewWebhook creates a Webhook notifier targeting url
func NewWebhook(url string, log logger.Logger, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		maxRetries: 2,
		backoff:    time.Second,
		log:        log,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

type message struct {
	Text string `json:"text"`
}

// Notify implements Notifier
func (w *Webhook) Notify(ctx context.Context, s Summary) error {
	body, err := json.Marshal(message{Text: Format(s)})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * w.backoff
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("webhook: new request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			lastErr = err
			w.log.Warn("webhook request failed", logger.Int("attempt", attempt+1), logger.Error(err))
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("webhook: status %d", resp.StatusCode)
		w.log.Warn("webhook bad status", logger.Int("attempt", attempt+1), logger.Int("status", resp.StatusCode))
	}
	return fmt.Errorf("webhook: all retries exhausted: %w", lastErr)
}

// Format renders the summary as chat text
func Format(s Summary) string {
	var sb strings.Builder
	st := s.Stats

	fmt.Fprintf(&sb, "*Grundsalg monitor* run %s\n", shortID(st.RunID))
	fmt.Fprintf(&sb, "%d new proposal(s), %d failure(s)\n", st.ProposalsCreated, st.FailureCount())
	sb.WriteString(st.Summary())
	sb.WriteString("\n")

	if len(s.Proposals) > 0 {
		sb.WriteString("\n*Proposals*\n")
		for i, p := range s.Proposals {
			if i == maxListed {
				fmt.Fprintf(&sb, "...and %d more\n", len(s.Proposals)-maxListed)
				break
			}
			title := p.Title
			if title == "" {
				title = p.URL
			}
			fmt.Fprintf(&sb, "• %s: <%s|%s> (%.2f)\n", p.Municipality, p.URL, title, p.Confidence)
		}
	}

	if len(s.Failures) > 0 {
		sb.WriteString("\n*Failures*\n")
		for i, f := range s.Failures {
			if i == maxListed {
				fmt.Fprintf(&sb, "...and %d more\n", len(s.Failures)-maxListed)
				break
			}
			fmt.Fprintf(&sb, "• [%s] %s %s\n", f.Kind, f.SourceID, f.URL)
		}
	}

	if st.SourcesFailed > 0 {
		fmt.Fprintf(&sb, "\nDiscovery failed for: %s\n", strings.Join(st.FailedSources, ", "))
	}
	if st.LedgerFailures > 0 {
		fmt.Fprintf(&sb, "\n%d seen-URL append(s) failed; those URLs may be processed again\n", st.LedgerFailures)
	}

	return strings.TrimRight(sb.String(), "\n")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
