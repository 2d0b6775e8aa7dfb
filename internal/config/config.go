// Package config loads and validates monitor configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	DB         DBConfig         `mapstructure:"db"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Mailer     MailerConfig     `mapstructure:"mailer"`
	Sources    SourcesConfig    `mapstructure:"sources"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// DBConfig controls access to the backing store.
type DBConfig struct {
	Provider string `mapstructure:"provider"` // postgres | memory
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// ClassifierConfig governs the LLM gateway and its fallback behavior.
type ClassifierConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Endpoint         string        `mapstructure:"endpoint"`
	APIKey           string        `mapstructure:"api_key"`
	Model            string        `mapstructure:"model"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxRetries       int           `mapstructure:"max_retries"`
	BackoffInitial   time.Duration `mapstructure:"backoff_initial"`
	BackoffMax       time.Duration `mapstructure:"backoff_max"`
	SweepBatchSize   int           `mapstructure:"sweep_batch_size"`
	RetryFailedAfter time.Duration `mapstructure:"retry_failed_after"`
}

// MailerConfig configures the hosted email collaborator.
type MailerConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Endpoint    string        `mapstructure:"endpoint"`
	APIKey      string        `mapstructure:"api_key"`
	FromAddress string        `mapstructure:"from_address"`
	AppURL      string        `mapstructure:"app_url"`
	BatchSize   int           `mapstructure:"batch_size"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// SourcesConfig groups per-source adapter settings. UserAgent is the crawler
// identity shared by every outbound fetch; timeouts stay per-source.
type SourcesConfig struct {
	Keywords  []string       `mapstructure:"keywords"`
	UserAgent string         `mapstructure:"user_agent"`
	Legistar  LegistarConfig `mapstructure:"legistar"`
	RSS       RSSConfig      `mapstructure:"rss"`
	Board     BoardConfig    `mapstructure:"board"`
}

// LegistarConfig configures the civic-records API adapter.
type LegistarConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	DetailURL       string        `mapstructure:"detail_url"`
	EventsLookback  time.Duration `mapstructure:"events_lookback"`
	MattersLookback time.Duration `mapstructure:"matters_lookback"`
	PageSize        int           `mapstructure:"page_size"`
	Timeout         time.Duration `mapstructure:"timeout"`
	WatchedBodies   []string      `mapstructure:"watched_bodies"`
}

// RSSFeed names one upstream feed.
type RSSFeed struct {
	URL  string `mapstructure:"url"`
	Name string `mapstructure:"name"`
}

// RSSConfig configures the RSS adapter.
type RSSConfig struct {
	Feeds         []RSSFeed     `mapstructure:"feeds"`
	MaxPerFeed    int           `mapstructure:"max_per_feed"`
	Timeout       time.Duration `mapstructure:"timeout"`
	FetchFullText bool          `mapstructure:"fetch_full_text"`
}

// BoardConfig configures the planning-board HTML adapter.
type BoardConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	ListingPaths []string      `mapstructure:"listing_paths"`
	MeetingsPath string        `mapstructure:"meetings_path"`
	MaxPerPage   int           `mapstructure:"max_per_page"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// SchedulerConfig sets the cadence and wall-clock budget of each periodic job.
type SchedulerConfig struct {
	LegistarInterval time.Duration `mapstructure:"legistar_interval"`
	RSSInterval      time.Duration `mapstructure:"rss_interval"`
	BoardInterval    time.Duration `mapstructure:"board_interval"`
	ClassifyInterval time.Duration `mapstructure:"classify_interval"`
	EventsInterval   time.Duration `mapstructure:"events_interval"`
	DispatchInterval time.Duration `mapstructure:"dispatch_interval"`
	DigestInterval   time.Duration `mapstructure:"digest_interval"`
	JobBudget        time.Duration `mapstructure:"job_budget"`
}

// DispatchConfig tunes alert selection.
type DispatchConfig struct {
	InstantPriorityThreshold int           `mapstructure:"instant_priority_threshold"`
	Lookback                 time.Duration `mapstructure:"lookback"`
	DigestWeekday            string        `mapstructure:"digest_weekday"`
	DigestLookback           time.Duration `mapstructure:"digest_lookback"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MONITOR")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")

	v.SetDefault("db.provider", "memory")
	v.SetDefault("db.max_conns", 8)

	v.SetDefault("classifier.enabled", false)
	v.SetDefault("classifier.model", "gpt-4o-mini")
	v.SetDefault("classifier.timeout", "30s")
	v.SetDefault("classifier.max_retries", 2)
	v.SetDefault("classifier.backoff_initial", "250ms")
	v.SetDefault("classifier.backoff_max", "5s")
	v.SetDefault("classifier.sweep_batch_size", 25)
	v.SetDefault("classifier.retry_failed_after", "6h")

	v.SetDefault("mailer.enabled", false)
	v.SetDefault("mailer.batch_size", 50)
	v.SetDefault("mailer.timeout", "15s")
	v.SetDefault("mailer.app_url", "http://localhost:8080")

	v.SetDefault("sources.legistar.events_lookback", "720h")   // 30 days
	v.SetDefault("sources.legistar.matters_lookback", "1440h") // 60 days
	v.SetDefault("sources.legistar.page_size", 200)
	v.SetDefault("sources.legistar.timeout", "30s")
	v.SetDefault("sources.legistar.watched_bodies", []string{
		"council", "planning", "zoning", "environment", "economic",
	})
	v.SetDefault("sources.rss.max_per_feed", 30)
	v.SetDefault("sources.rss.timeout", "20s")
	v.SetDefault("sources.rss.fetch_full_text", true)
	v.SetDefault("sources.user_agent",
		"Mozilla/5.0 (compatible; HarborMonitor/1.0; +https://eagleharbormonitor.org)")
	v.SetDefault("sources.board.listing_paths", []string{"/news/", "/category/press-release/"})
	v.SetDefault("sources.board.meetings_path", "/meetings/")
	v.SetDefault("sources.board.max_per_page", 25)
	v.SetDefault("sources.board.timeout", "30s")

	v.SetDefault("scheduler.legistar_interval", "2h")
	v.SetDefault("scheduler.rss_interval", "30m")
	v.SetDefault("scheduler.board_interval", "2h")
	v.SetDefault("scheduler.classify_interval", "10m")
	v.SetDefault("scheduler.events_interval", "30m")
	v.SetDefault("scheduler.dispatch_interval", "5m")
	v.SetDefault("scheduler.digest_interval", "1h")
	v.SetDefault("scheduler.job_budget", "10m")

	v.SetDefault("dispatch.instant_priority_threshold", 8)
	v.SetDefault("dispatch.lookback", "48h")
	v.SetDefault("dispatch.digest_weekday", "Friday")
	v.SetDefault("dispatch.digest_lookback", "168h") // 7 days
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.DB.Provider {
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when db.provider is postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown db.provider: %s", c.DB.Provider)
	}
	if c.Classifier.Enabled && c.Classifier.Endpoint == "" {
		return fmt.Errorf("classifier.endpoint must be set when classifier is enabled")
	}
	if c.Classifier.Timeout <= 0 {
		return fmt.Errorf("classifier.timeout must be > 0")
	}
	if c.Classifier.MaxRetries < 0 {
		return fmt.Errorf("classifier.max_retries must be >= 0")
	}
	if c.Mailer.Enabled {
		if c.Mailer.Endpoint == "" {
			return fmt.Errorf("mailer.endpoint must be set when mailer is enabled")
		}
		if c.Mailer.FromAddress == "" {
			return fmt.Errorf("mailer.from_address must be set when mailer is enabled")
		}
	}
	if c.Mailer.BatchSize <= 0 {
		return fmt.Errorf("mailer.batch_size must be > 0")
	}
	if c.Dispatch.InstantPriorityThreshold < 1 || c.Dispatch.InstantPriorityThreshold > 10 {
		return fmt.Errorf("dispatch.instant_priority_threshold must be within 1..10")
	}
	if c.Scheduler.JobBudget <= 0 {
		return fmt.Errorf("scheduler.job_budget must be > 0")
	}
	if _, err := c.Dispatch.Weekday(); err != nil {
		return err
	}
	return nil
}

// Weekday parses the configured digest weekday.
func (d DispatchConfig) Weekday() (time.Weekday, error) {
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if strings.EqualFold(wd.String(), d.DigestWeekday) {
			return wd, nil
		}
	}
	return 0, fmt.Errorf("dispatch.digest_weekday %q is not a weekday name", d.DigestWeekday)
}
