// Package metrics exports run statistics to a Prometheus Pushgateway.
//
// The job runs once a day and exits, so metrics are pushed rather than scraped.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/pbaille/grundsalg/internal/domain"
)

const job = "grundsalg"

var (
	runStatDesc = prometheus.NewDesc(
		"grundsalg_run_stat",
		"Counter values from the most recent monitor run",
		[]string{"stat"},
		nil,
	)
	lastRunDesc = prometheus.NewDesc(
		"grundsalg_last_run_timestamp_seconds",
		"Unix time the most recent monitor run finished",
		nil,
		nil,
	)
	durationDesc = prometheus.NewDesc(
		"grundsalg_run_duration_seconds",
		"Wall time of the most recent monitor run",
		nil,
		nil,
	)
)

// RunCollector emits one gauge per RunStats counter
type RunCollector struct {
	stats    domain.RunStats
	finished time.Time
}

// NewRunCollector snapshots stats for collection
func NewRunCollector(stats domain.RunStats, finished time.Time) *RunCollector {
	return &RunCollector{stats: stats, finished: finished}
}

// Describe sends the metric descriptors to the channel.
func (c *RunCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- runStatDesc
	ch <- lastRunDesc
	ch <- durationDesc
}

// Collect emits the snapshot.
func (c *RunCollector) Collect(ch chan<- prometheus.Metric) {
	for name, v := range statValues(&c.stats) {
		ch <- prometheus.MustNewConstMetric(runStatDesc, prometheus.GaugeValue, float64(v), name)
	}
	ch <- prometheus.MustNewConstMetric(lastRunDesc, prometheus.GaugeValue, float64(c.finished.Unix()))
	ch <- prometheus.MustNewConstMetric(durationDesc, prometheus.GaugeValue, c.stats.Duration.Seconds())
}

func statValues(s *domain.RunStats) map[string]int {
	return map[string]int{
		"sources_processed":      s.SourcesProcessed,
		"sources_failed":         s.SourcesFailed,
		"urls_discovered":        s.URLsDiscovered,
		"urls_attempted":         s.URLsAttempted,
		"scrape_success":         s.ScrapeSuccess,
		"scrape_failed":          s.ScrapeFailed,
		"classification_success": s.ClassificationSuccess,
		"classification_failed":  s.ClassificationFailed,
		"classified_relevant":    s.ClassifiedRelevant,
		"keyword_short_circuits": s.KeywordShortCircuits,
		"extraction_success":     s.ExtractionSuccess,
		"extraction_failed":      s.ExtractionFailed,
		"proposals_created":      s.ProposalsCreated,
		"skipped_irrelevant":     s.SkippedIrrelevant,
		"prefilter_dropped":      s.PrefilterDropped,
		"audit_failures":         s.AuditFailures,
		"ledger_failures":        s.LedgerFailures,
		"store_failures":         s.StoreFailures,
	}
}

// Pusher sends run metrics to a Pushgateway
type Pusher struct {
	url string
}

// NewPusher creates a Pusher. An empty url disables pushing.
func NewPusher(url string) *Pusher {
	return &Pusher{url: url}
}

// Enabled reports whether a gateway is configured
func (p *Pusher) Enabled() bool {
	return p != nil && p.url != ""
}

// Push replaces the job's metrics on the gateway with stats
func (p *Pusher) Push(ctx context.Context, stats domain.RunStats, finished time.Time) error {
	if !p.Enabled() {
		return nil
	}
	err := push.New(p.url, job).
		Collector(NewRunCollector(stats, finished)).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
