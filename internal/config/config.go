// Package config provides configuration management for adtrail.
// It defines the configuration structure, default values and validation.
package config

import (
	"log/slog"
	"net/url"
	"time"

	"github.com/masahif/adtrail/internal/browser"
	"github.com/masahif/adtrail/internal/logging"
	"github.com/masahif/adtrail/internal/pipeline"
	"github.com/masahif/adtrail/internal/scraper"
)

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

// StoreConfig selects the product store backend
type StoreConfig struct {
	Driver          string `mapstructure:"driver" yaml:"driver"`                     // sqlite or mongo
	Path            string `mapstructure:"path" yaml:"path"`                         // SQLite file for products
	MongoURI        string `mapstructure:"mongo_uri" yaml:"mongo_uri"`               // Connection string for mongo
	MongoDatabase   string `mapstructure:"mongo_database" yaml:"mongo_database"`     // Database name for mongo
	MongoCollection string `mapstructure:"mongo_collection" yaml:"mongo_collection"` // Collection name for mongo
}

// BrowserConfig configures the headless Chrome used by the scrapers
type BrowserConfig struct {
	Headless   bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath   string        `mapstructure:"exec_path" yaml:"exec_path"`     // Chrome binary, found on PATH when empty
	UserAgents []string      `mapstructure:"user_agents" yaml:"user_agents"` // One is picked per session
	Proxy      string        `mapstructure:"proxy" yaml:"proxy"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"` // Per navigation and wait
	Width      int           `mapstructure:"width" yaml:"width"`
	Height     int           `mapstructure:"height" yaml:"height"`
}

// LogConfig configures the process logger
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`   // debug, info, warn or error
	Format     string `mapstructure:"format" yaml:"format"` // json or text
	File       string `mapstructure:"file" yaml:"file"`
	MaxSize    int64  `mapstructure:"max_size" yaml:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	Console    bool   `mapstructure:"console" yaml:"console"`
}

// Config holds the whole adtrail configuration
type Config struct {
	// Target site
	BaseURL         string            `mapstructure:"base_url" yaml:"base_url"`
	RequestDelay    time.Duration     `mapstructure:"request_delay" yaml:"request_delay"` // Minimum gap between navigations per host
	ItemConcurrency int               `mapstructure:"item_concurrency" yaml:"item_concurrency"`
	Selectors       scraper.Selectors `mapstructure:"selectors" yaml:"selectors"`

	// Queue database and orchestration
	DatabasePath string          `mapstructure:"database_path" yaml:"database_path"`
	PollInterval time.Duration   `mapstructure:"poll_interval" yaml:"poll_interval"`
	StaleTimeout time.Duration   `mapstructure:"stale_timeout" yaml:"stale_timeout"`
	Pipeline     pipeline.Config `mapstructure:"pipeline" yaml:"pipeline"`

	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`

	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr"` // Empty disables the /metrics listener
}

// DefaultUserAgents are desktop browser signatures rotated across sessions.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:124.0) Gecko/20100101 Firefox/124.0",
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		BaseURL:         "https://www.revolico.com",
		RequestDelay:    time.Second,
		ItemConcurrency: 4,
		Selectors:       scraper.DefaultSelectors(),

		DatabasePath: "./adtrail.db",
		PollInterval: time.Second,
		StaleTimeout: 10 * time.Minute,
		Pipeline:     pipeline.DefaultConfig(),

		Store: StoreConfig{
			Driver:          DriverSQLite,
			Path:            "./products.db",
			MongoDatabase:   "adtrail",
			MongoCollection: "products",
		},
		Browser: BrowserConfig{
			Headless:   true,
			UserAgents: DefaultUserAgents,
			Timeout:    30 * time.Second,
			Width:      1280,
			Height:     800,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSize:    100,
			MaxBackups: 5,
			Console:    true,
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ErrInvalidBaseURL
	}

	if c.DatabasePath == "" {
		return ErrEmptyDatabasePath
	}

	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.Path == "" {
			return ErrEmptyStorePath
		}
	case DriverMongo:
		if c.Store.MongoURI == "" {
			return ErrEmptyMongoURI
		}
	default:
		return ErrUnknownStoreDriver
	}

	if c.Browser.Timeout <= 0 {
		return ErrInvalidTimeout
	}

	p := c.Pipeline
	for _, o := range []pipeline.StageOptions{p.Listing, p.Storage, p.Detail} {
		if o.Attempts < 1 {
			return ErrInvalidAttempts
		}
		if o.Concurrency < 1 {
			return ErrInvalidConcurrency
		}
		if o.Backoff < 0 {
			return ErrInvalidBackoff
		}
	}
	if p.ListingBatchSize < 1 || p.DetailBatchSize < 1 {
		return ErrInvalidBatchSize
	}
	if p.DetailDelayMin < 0 || p.DetailDelayMax < p.DetailDelayMin {
		return ErrInvalidDetailDelay
	}

	if c.ItemConcurrency <= 0 {
		c.ItemConcurrency = 1
	}
	if c.RequestDelay < 0 {
		c.RequestDelay = 0
	}
	if c.PollInterval < 100*time.Millisecond {
		c.PollInterval = 100 * time.Millisecond
	}

	return nil
}

// BrowserOptions converts the browser section for browser.NewChrome.
func (c *Config) BrowserOptions() browser.Options {
	return browser.Options{
		Headless:   c.Browser.Headless,
		ExecPath:   c.Browser.ExecPath,
		UserAgents: c.Browser.UserAgents,
		Proxy:      c.Browser.Proxy,
		Width:      c.Browser.Width,
		Height:     c.Browser.Height,
		Timeout:    c.Browser.Timeout,
	}
}

// ScraperConfig returns the settings shared by the listing and detail scrapers.
func (c *Config) ScraperConfig() scraper.Config {
	return scraper.Config{
		BaseURL:         c.BaseURL,
		Selectors:       c.Selectors,
		ItemConcurrency: c.ItemConcurrency,
		Limiter:         scraper.NewHostLimiter(c.RequestDelay),
	}
}

// LoggingConfig converts the log section for logging.NewLogger.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{
		Level:      logging.ParseLevel(c.Log.Level),
		Format:     c.Log.Format,
		FilePath:   c.Log.File,
		MaxSize:    c.Log.MaxSize,
		MaxBackups: c.Log.MaxBackups,
		Console:    c.Log.Console,
	}
}

// LogValue keeps credentials out of structured logs.
func (c StoreConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("driver", c.Driver),
		slog.String("path", c.Path),
		slog.String("mongo_uri", RedactURI(c.MongoURI)),
	)
}

// RedactURI masks the password of a connection string. Unparseable input
// is dropped entirely.
func RedactURI(uri string) string {
	if uri == "" {
		return ""
	}
	u, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	return u.Redacted()
}
