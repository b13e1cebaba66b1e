// Package config loads runtime settings and the source registry.
//
// Settings come from an optional YAML file, GRUNDSALG_* environment variables and a
// few conventional secret variables (ANTHROPIC_API_KEY, FIRECRAWL_API_KEY,
// SLACK_WEBHOOK_URL, SHEETS_WEBAPP_URL). A .env file is loaded first when present.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full runtime configuration
type Config struct {
	SourcesFile string           `mapstructure:"sources_file"`
	Log         LogConfig        `mapstructure:"log"`
	Store       StoreConfig      `mapstructure:"store"`
	Discovery   DiscoveryConfig  `mapstructure:"discovery"`
	Fetch       FetchConfig      `mapstructure:"fetch"`
	AI          AIConfig         `mapstructure:"ai"`
	Classifier  ClassifierConfig `mapstructure:"classifier"`
	Notify      NotifyConfig     `mapstructure:"notify"`
	Metrics     MetricsConfig    `mapstructure:"metrics"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type StoreConfig struct {
	Backend    string        `mapstructure:"backend"`
	SQLitePath string        `mapstructure:"sqlite_path"`
	SheetsURL  string        `mapstructure:"sheets_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type DiscoveryConfig struct {
	Provider     string        `mapstructure:"provider"`
	FirecrawlURL string        `mapstructure:"firecrawl_url"`
	APIKey       string        `mapstructure:"api_key"`
	UserAgent    string        `mapstructure:"user_agent"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// FetchConfig holds the global rate limit and retry timing
type FetchConfig struct {
	MinInterval time.Duration `mapstructure:"min_interval"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
}

type AIConfig struct {
	APIKey        string        `mapstructure:"api_key"`
	BaseURL       string        `mapstructure:"base_url"`
	ClassifyModel string        `mapstructure:"classify_model"`
	ExtractModel  string        `mapstructure:"extract_model"`
	MaxChars      int           `mapstructure:"max_chars"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type ClassifierConfig struct {
	KeywordPrecheck bool `mapstructure:"keyword_precheck"`
	MinKeywordHits  int  `mapstructure:"min_keyword_hits"`
}

type NotifyConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
}

// Store backends
const (
	BackendSheets = "sheets"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Discovery providers
const (
	ProviderFirecrawl = "firecrawl"
	ProviderHTTP      = "http"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("sources_file", "sources.yaml")
	v.SetDefault("log.level", "info")

	v.SetDefault("store.backend", BackendSheets)
	v.SetDefault("store.sqlite_path", "grundsalg.db")
	v.SetDefault("store.sheets_url", "")
	v.SetDefault("store.timeout", 30*time.Second)

	v.SetDefault("discovery.provider", ProviderFirecrawl)
	v.SetDefault("discovery.firecrawl_url", "https://api.firecrawl.dev")
	v.SetDefault("discovery.api_key", "")
	v.SetDefault("discovery.user_agent", "grundsalg/1.0 (+municipal land sale monitor)")
	v.SetDefault("discovery.timeout", 60*time.Second)

	v.SetDefault("fetch.min_interval", 2*time.Second)
	v.SetDefault("fetch.retry_delay", 5*time.Second)

	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.base_url", "")
	v.SetDefault("ai.classify_model", "claude-haiku-4-5")
	v.SetDefault("ai.extract_model", "claude-sonnet-4-5")
	v.SetDefault("ai.max_chars", 12000)
	v.SetDefault("ai.timeout", 60*time.Second)

	v.SetDefault("classifier.keyword_precheck", true)
	v.SetDefault("classifier.min_keyword_hits", 2)

	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("metrics.pushgateway_url", "")
}

// Load reads configuration from path (optional) and the environment.
// An empty path looks for config.yaml in the working directory and ./config.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GRUNDSALG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	secrets := map[string]string{
		"ai.api_key":         "ANTHROPIC_API_KEY",
		"discovery.api_key":  "FIRECRAWL_API_KEY",
		"notify.webhook_url": "SLACK_WEBHOOK_URL",
		"store.sheets_url":   "SHEETS_WEBAPP_URL",
	}
	for key, env := range secrets {
		prefixed := "GRUNDSALG_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerations and numeric bounds
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendSheets, BackendSQLite, BackendMemory:
	default:
		return fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend)
	}
	switch c.Discovery.Provider {
	case ProviderFirecrawl, ProviderHTTP:
	default:
		return fmt.Errorf("discovery.provider: unknown provider %q", c.Discovery.Provider)
	}
	if c.Fetch.MinInterval < 0 || c.Fetch.RetryDelay < 0 {
		return fmt.Errorf("fetch: durations must not be negative")
	}
	if c.AI.Timeout < 0 {
		return fmt.Errorf("ai.timeout must not be negative")
	}
	if c.AI.MaxChars <= 0 {
		return fmt.Errorf("ai.max_chars must be positive")
	}
	if c.Classifier.MinKeywordHits <= 0 {
		c.Classifier.MinKeywordHits = 1
	}
	return nil
}
