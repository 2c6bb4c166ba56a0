// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/judgment-crawler/internal/listing"
	"github.com/JakeFAU/judgment-crawler/internal/storage/local"
)

// Download modes.
const (
	DownloadModeBrowser = "browser"
	DownloadModeDirect  = "direct"
)

// Persistence backends.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendJSON     = "json"
	BackendMemory   = "memory"
)

// Archive backends. An empty backend disables archiving.
const (
	ArchiveLocal = "local"
	ArchiveGCS   = "gcs"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Listing     ListingConfig     `mapstructure:"listing"`
	Browser     BrowserConfig     `mapstructure:"browser"`
	Download    DownloadConfig    `mapstructure:"download"`
	Retry       RetryConfig       `mapstructure:"retry"`
	Extract     ExtractConfig     `mapstructure:"extract"`
	Pacing      PacingConfig      `mapstructure:"pacing"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ListingConfig describes the paginated search listing.
type ListingConfig struct {
	StartURL string `mapstructure:"start_url"`
	// PageURLTemplate and PagerSelectorTemplate take the page number as %d.
	PageURLTemplate       string            `mapstructure:"page_url_template"`
	PagerSelectorTemplate string            `mapstructure:"pager_selector_template"`
	Selectors             listing.Selectors `mapstructure:"selectors"`
}

// BrowserConfig configures the headless Chrome session.
type BrowserConfig struct {
	Headless            bool   `mapstructure:"headless"`
	ExecPath            string `mapstructure:"exec_path"`
	UserAgent           string `mapstructure:"user_agent"`
	NavTimeoutSeconds   int    `mapstructure:"nav_timeout_seconds"`
	ClickTimeoutSeconds int    `mapstructure:"click_timeout_seconds"`
}

// DownloadConfig controls how artifacts are fetched.
type DownloadConfig struct {
	// Mode is "browser" (click the row control) or "direct" (GET the href).
	Mode           string `mapstructure:"mode"`
	Dir            string `mapstructure:"dir"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
}

// RetryConfig bounds per-item retries.
type RetryConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
	BaseDelayMs int `mapstructure:"base_delay_ms"`
}

// ExtractConfig controls artifact text extraction.
type ExtractConfig struct {
	CharLimit        int  `mapstructure:"char_limit"`
	FailOnParseError bool `mapstructure:"fail_on_parse_error"`
}

// PacingConfig spaces out downloads per host.
type PacingConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// PersistenceConfig selects the record store.
type PersistenceConfig struct {
	Backend string `mapstructure:"backend"`
	// Dedupe skips records whose (case_number, judgment_date) already exists.
	Dedupe bool `mapstructure:"dedupe"`
	// Path is the file used by the sqlite and json backends.
	Path        string `mapstructure:"path"`
	DSN         string `mapstructure:"dsn"`
	Table       string `mapstructure:"table"`
	MaxConns    int32  `mapstructure:"max_conns"`
	CreateTable bool   `mapstructure:"create_table"`
}

// ArchiveConfig selects where raw artifacts are kept.
type ArchiveConfig struct {
	Backend string       `mapstructure:"backend"`
	Prefix  string       `mapstructure:"prefix"`
	Bucket  string       `mapstructure:"bucket"`
	Local   local.Config `mapstructure:"local"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("JUDGMENTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	sel := listing.DefaultSelectors()
	v.SetDefault("listing.start_url", "https://supremecourt.govmu.org/judgment-search")
	v.SetDefault("listing.page_url_template", "https://supremecourt.govmu.org/judgment-search?page=%d")
	v.SetDefault("listing.pager_selector_template", `ul.pager__items li.pager__item a[href$="page=%d"]`)
	v.SetDefault("listing.selectors.row", sel.Row)
	v.SetDefault("listing.selectors.case_number", sel.CaseNumber)
	v.SetDefault("listing.selectors.case_title", sel.CaseTitle)
	v.SetDefault("listing.selectors.date", sel.Date)
	v.SetDefault("listing.selectors.download", sel.Download)
	v.SetDefault("listing.selectors.pager", sel.Pager)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "judgment-crawler/0.1")
	v.SetDefault("browser.nav_timeout_seconds", 45)
	v.SetDefault("browser.click_timeout_seconds", 30)
	v.SetDefault("download.mode", DownloadModeBrowser)
	v.SetDefault("download.timeout_seconds", 30)
	v.SetDefault("download.max_body_bytes", 50<<20)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay_ms", 2000)
	v.SetDefault("extract.char_limit", 10000)
	v.SetDefault("extract.fail_on_parse_error", false)
	v.SetDefault("pacing.requests_per_second", 2.0)
	v.SetDefault("pacing.burst", 1)
	v.SetDefault("persistence.backend", BackendJSON)
	v.SetDefault("persistence.path", "judgments.json")
	v.SetDefault("persistence.table", "judgments")
	v.SetDefault("persistence.max_conns", 4)
	v.SetDefault("persistence.create_table", true)
	v.SetDefault("archive.prefix", "judgments")
	v.SetDefault("pubsub.topic_name", "judgments")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Listing.StartURL == "" {
		return fmt.Errorf("listing.start_url is required")
	}
	if strings.Count(c.Listing.PageURLTemplate, "%d") != 1 {
		return fmt.Errorf("listing.page_url_template must contain exactly one %%d")
	}
	if strings.Count(c.Listing.PagerSelectorTemplate, "%d") != 1 {
		return fmt.Errorf("listing.pager_selector_template must contain exactly one %%d")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Retry.BaseDelayMs < 0 {
		return fmt.Errorf("retry.base_delay_ms must be >= 0")
	}
	if c.Extract.CharLimit <= 0 {
		return fmt.Errorf("extract.char_limit must be > 0")
	}
	switch c.Download.Mode {
	case DownloadModeBrowser, DownloadModeDirect:
	default:
		return fmt.Errorf("download.mode must be %q or %q, got %q", DownloadModeBrowser, DownloadModeDirect, c.Download.Mode)
	}
	if c.Download.TimeoutSeconds <= 0 {
		return fmt.Errorf("download.timeout_seconds must be > 0")
	}
	if c.Browser.NavTimeoutSeconds <= 0 || c.Browser.ClickTimeoutSeconds <= 0 {
		return fmt.Errorf("browser.nav_timeout_seconds and browser.click_timeout_seconds must be > 0")
	}
	switch c.Persistence.Backend {
	case BackendPostgres:
		if c.Persistence.DSN == "" {
			return fmt.Errorf("persistence.dsn must be set for the postgres backend")
		}
	case BackendSQLite, BackendJSON:
		if c.Persistence.Path == "" {
			return fmt.Errorf("persistence.path must be set for the %s backend", c.Persistence.Backend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("persistence.backend %q is not supported", c.Persistence.Backend)
	}
	switch c.Archive.Backend {
	case "":
	case ArchiveGCS:
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set for the gcs archive")
		}
	case ArchiveLocal:
		if c.Archive.Local.BaseDir == "" {
			return fmt.Errorf("archive.local.base_dir must be set for the local archive")
		}
	default:
		return fmt.Errorf("archive.backend %q is not supported", c.Archive.Backend)
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

// NavigationTimeout bounds a page load or direct navigation.
func (c Config) NavigationTimeout() time.Duration {
	return time.Duration(c.Browser.NavTimeoutSeconds) * time.Second
}

// ClickTimeout bounds a pager click and the listing reload that follows.
func (c Config) ClickTimeout() time.Duration {
	return time.Duration(c.Browser.ClickTimeoutSeconds) * time.Second
}

// DownloadTimeout bounds one artifact download.
func (c Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Download.TimeoutSeconds) * time.Second
}

// RetryBaseDelay is the unit of the linear retry backoff.
func (c Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.Retry.BaseDelayMs) * time.Millisecond
}
