package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Database       DatabaseConfig       `yaml:"database"`
	Server         ServerConfig         `yaml:"server"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	LeaderElection LeaderElectionConfig `yaml:"leader_election"`
	Discord        DiscordConfig        `yaml:"discord"`
	Lock           LockConfig           `yaml:"lock"`
	Scraper        ScraperConfig        `yaml:"scraper"`
	Market         MarketConfig         `yaml:"market"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Driver   string `yaml:"driver"` // "postgres" or "memory"
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TelemetryConfig holds OpenTelemetry and logging settings.
// An empty OTLPEndpoint keeps everything local.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	Insecure       bool   `yaml:"insecure"`
	LogFormat      string `yaml:"log_format"` // "text" or "json"
	LogLevel       string `yaml:"log_level"`
}

// LeaderElectionConfig holds Kubernetes leader election settings.
type LeaderElectionConfig struct {
	Enabled        bool          `yaml:"enabled"`
	LeaseName      string        `yaml:"lease_name"`
	LeaseNamespace string        `yaml:"lease_namespace"`
	LeaseDuration  time.Duration `yaml:"lease_duration"`
	RenewDeadline  time.Duration `yaml:"renew_deadline"`
	RetryPeriod    time.Duration `yaml:"retry_period"`
}

// DiscordConfig holds Discord bot and market-channel settings.
type DiscordConfig struct {
	Token           string   `yaml:"token"`
	GuildID         string   `yaml:"guild_id"`
	CommandsEnabled bool     `yaml:"commands_enabled"`
	MarketChannels  []string `yaml:"market_channels"`
	MessageLimit    int      `yaml:"message_limit"`
}

// LockConfig selects how whole pipeline runs are serialized.
type LockConfig struct {
	Driver    string        `yaml:"driver"` // "local" or "redis"
	RedisAddr string        `yaml:"redis_addr"`
	RedisDB   int           `yaml:"redis_db"`
	Key       string        `yaml:"key"`
	TTL       time.Duration `yaml:"ttl"`
}

// ScraperConfig holds source fetcher and scheduling settings.
type ScraperConfig struct {
	ForumBaseURL   string        `yaml:"forum_base_url"`
	ForumBoards    []string      `yaml:"forum_boards"`
	SteamURLs      []string      `yaml:"steam_urls"`
	BrowserEnabled bool          `yaml:"browser_enabled"`
	BrowserURLs    []string      `yaml:"browser_urls"`
	ChromePath     string        `yaml:"chrome_path"`
	MaxTopics      int           `yaml:"max_topics"`
	ScrapeInterval time.Duration `yaml:"scrape_interval"`
	RequestDelay   time.Duration `yaml:"request_delay"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	UserAgent      string        `yaml:"user_agent"`
	Retention      time.Duration `yaml:"retention"`
}

// MarketConfig is the data-driven extraction table: categories, servers,
// currency units and the keyword sets used by the text pipeline.
type MarketConfig struct {
	Categories      []Category `yaml:"categories"`
	DefaultCategory string     `yaml:"default_category"`
	Servers         []string   `yaml:"servers"`
	MajorUnit       string     `yaml:"major_unit"`
	Currencies      []Currency `yaml:"currencies"`
	ItemSuffixes    []string   `yaml:"item_suffixes"`
	QualityMarkers  []string   `yaml:"quality_markers"`
	IntentMarkers   []string   `yaml:"intent_markers"`
	TradeKeywords   []string   `yaml:"trade_keywords"`
}

// Category maps a category label to the keywords that select it.
// Categories are matched in configuration order.
type Category struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// Currency is one row of the currency table. Factor converts an amount in
// this unit into major units.
type Currency struct {
	Unit    string   `yaml:"unit"`
	Aliases []string `yaml:"aliases"`
	Factor  float64  `yaml:"factor"`
}

// Load reads a YAML configuration file from the given path. Values absent
// from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault never fails. A missing file is replaced by the built-in
// defaults, which are written back to path. An unreadable or invalid file
// falls back to the defaults and is left untouched.
func LoadOrDefault(path string, logger *slog.Logger) *Config {
	cfg, err := Load(path)
	if err == nil {
		cfg.applyEnv()
		return cfg
	}

	cfg = Default()
	if errors.Is(err, os.ErrNotExist) {
		logger.Warn("config file not found, using defaults", slog.String("path", path))
		if saveErr := Save(path, cfg); saveErr != nil {
			logger.Warn("writing default config failed", slog.String("path", path), slog.Any("error", saveErr))
		}
	} else {
		logger.Warn("config file unusable, using defaults", slog.String("path", path), slog.Any("error", err))
	}

	cfg.applyEnv()
	return cfg
}

// Save writes cfg to path as YAML, creating parent directories.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// applyEnv lets secrets come from the environment (or a .env file) instead
// of the config file.
func (c *Config) applyEnv() {
	if v := os.Getenv("TRADEWATCH_DISCORD_TOKEN"); v != "" {
		c.Discord.Token = v
	}
	if v := os.Getenv("TRADEWATCH_DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("TRADEWATCH_REDIS_ADDR"); v != "" {
		c.Lock.RedisAddr = v
	}
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
		// valid
	default:
		return fmt.Errorf("unsupported database driver %q: must be \"postgres\" or \"memory\"", c.Database.Driver)
	}

	switch c.Lock.Driver {
	case "local":
	case "redis":
		if c.Lock.RedisAddr == "" {
			return errors.New("lock driver \"redis\" requires redis_addr")
		}
	default:
		return fmt.Errorf("unsupported lock driver %q: must be \"local\" or \"redis\"", c.Lock.Driver)
	}

	if c.Scraper.ScrapeInterval <= 0 {
		return errors.New("scraper.scrape_interval must be positive")
	}
	if c.Scraper.RequestDelay < 0 {
		return errors.New("scraper.request_delay must not be negative")
	}

	return c.Market.validate()
}

func (m MarketConfig) validate() error {
	if m.MajorUnit == "" {
		return errors.New("market.major_unit is required")
	}
	if m.DefaultCategory == "" {
		return errors.New("market.default_category is required")
	}
	if len(m.ItemSuffixes) == 0 {
		return errors.New("market.item_suffixes must not be empty")
	}

	seenMajor := false
	for _, cur := range m.Currencies {
		if cur.Unit == "" {
			return errors.New("market.currencies: unit is required")
		}
		if cur.Factor <= 0 {
			return fmt.Errorf("market.currencies: unit %q has non-positive factor %v", cur.Unit, cur.Factor)
		}
		if cur.Unit == m.MajorUnit {
			seenMajor = true
		}
	}
	if !seenMajor {
		return fmt.Errorf("market.currencies has no row for major unit %q", m.MajorUnit)
	}

	for _, cat := range m.Categories {
		if cat.Name == "" {
			return errors.New("market.categories: name is required")
		}
	}
	return nil
}
