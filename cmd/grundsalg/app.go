package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pbaille/grundsalg/internal/classifier"
	"github.com/pbaille/grundsalg/internal/config"
	"github.com/pbaille/grundsalg/internal/discovery"
	"github.com/pbaille/grundsalg/internal/domain"
	"github.com/pbaille/grundsalg/internal/fetcher"
	"github.com/pbaille/grundsalg/internal/ledger"
	"github.com/pbaille/grundsalg/internal/logger"
	"github.com/pbaille/grundsalg/internal/metrics"
	"github.com/pbaille/grundsalg/internal/notify"
	"github.com/pbaille/grundsalg/internal/pipeline"
	"github.com/pbaille/grundsalg/internal/ratelimit"
	"github.com/pbaille/grundsalg/internal/store"
)

// app holds the wired collaborators for a run
type app struct {
	cfg          *config.Config
	log          logger.Logger
	store        store.Store
	provider     fetcher.Provider
	understander classifier.Understander
	notifier     notify.Notifier
	metrics      *metrics.Pusher
}

func newApp(cfg *config.Config, dryRun bool) (*app, error) {
	log, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log}

	if dryRun {
		a.store = store.NewMemory()
		a.notifier = notify.Noop{}
	} else {
		if a.store, err = openStore(cfg); err != nil {
			return nil, err
		}
		a.notifier = newNotifier(cfg, log)
	}

	if a.provider, err = newProvider(cfg, ratelimit.New(cfg.Fetch.MinInterval)); err != nil {
		a.close()
		return nil, err
	}

	a.understander, err = classifier.NewAnthropic(classifier.Options{
		APIKey:        cfg.AI.APIKey,
		BaseURL:       cfg.AI.BaseURL,
		ClassifyModel: cfg.AI.ClassifyModel,
		ExtractModel:  cfg.AI.ExtractModel,
		Timeout:       cfg.AI.Timeout,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	a.metrics = metrics.NewPusher(cfg.Metrics.PushgatewayURL)

	log.Info("configured",
		logger.String("store", cfg.Store.Backend),
		logger.String("provider", cfg.Discovery.Provider),
		logger.Bool("dry_run", dryRun),
		logger.Duration("min_interval", cfg.Fetch.MinInterval),
		logger.Bool("notify", !dryRun && cfg.Notify.WebhookURL != ""),
		logger.Bool("metrics", a.metrics.Enabled()),
	)
	return a, nil
}

func (a *app) coordinator() *pipeline.Coordinator {
	return pipeline.New(pipeline.Deps{
		Sources: func() ([]domain.Source, error) {
			return config.LoadSources(a.cfg.SourcesFile)
		},
		Store:      a.store,
		Discoverer: discovery.NewDefaultDispatcher(a.provider, classifier.NewNewsFilter(a.understander), a.store, a.log),
		Fetcher:    fetcher.NewResilient(a.provider, a.cfg.Fetch.RetryDelay, a.log),
		Analyzer: classifier.NewTwoStage(a.understander, classifier.Config{
			KeywordPrecheck: a.cfg.Classifier.KeywordPrecheck,
			MinKeywordHits:  a.cfg.Classifier.MinKeywordHits,
			MaxChars:        a.cfg.AI.MaxChars,
		}, a.log),
		Notifier:   a.notifier,
		Metrics:    a.metrics,
		Log:        a.log,
		LedgerOpts: []ledger.Option{ledger.WithRetryDelay(a.cfg.Fetch.RetryDelay)},
	})
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("close store", logger.Error(err))
		}
	}
	_ = a.log.Sync()
}

func newLogger(cfg *config.Config) (logger.Logger, error) {
	log, err := logger.New(logger.Config{Level: cfg.Log.Level})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return log, nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendSQLite:
		if dir := filepath.Dir(cfg.Store.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
		return store.NewSQLite(cfg.Store.SQLitePath)
	case config.BackendMemory:
		return store.NewMemory(), nil
	default:
		return store.NewSheets(cfg.Store.SheetsURL, cfg.Store.Timeout)
	}
}

// newProvider returns a provider whose calls all respect limiter. The http
// provider waits per request since one MapSite issues several.
func newProvider(cfg *config.Config, limiter *ratelimit.Limiter) (fetcher.Provider, error) {
	switch cfg.Discovery.Provider {
	case config.ProviderHTTP:
		return fetcher.NewHTTPProvider(cfg.Discovery.UserAgent, cfg.Discovery.Timeout).WithLimiter(limiter), nil
	default:
		fc, err := fetcher.NewFirecrawl(cfg.Discovery.FirecrawlURL, cfg.Discovery.APIKey, cfg.Discovery.Timeout)
		if err != nil {
			return nil, err
		}
		return fetcher.NewLimited(fc, limiter), nil
	}
}

func newNotifier(cfg *config.Config, log logger.Logger) notify.Notifier {
	if cfg.Notify.WebhookURL == "" {
		log.Warn("notify.webhook_url not set, notifications disabled")
		return notify.Noop{}
	}
	return notify.NewWebhook(cfg.Notify.WebhookURL, log)
}

func errField(err error) logger.Field {
	return logger.Error(err)
}
