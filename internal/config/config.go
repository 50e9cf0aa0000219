// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/pt-crawler/internal/crawler"
)

// ErrUnknownTask is returned when a task name is not configured.
var ErrUnknownTask = errors.New("unknown task")

// Schedule types accepted in tasks[].schedule_type.
const (
	ScheduleCron     = "cron"
	ScheduleInterval = "interval"
	ScheduleManual   = "manual"
)

// Database drivers accepted in database.driver.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Storage backends accepted in storage.backend.
const (
	BackendLocal = "local"
	BackendGCS   = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Sites    []SiteConfig   `mapstructure:"sites"`
	Tasks    []TaskConfig   `mapstructure:"tasks"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlerConfig holds the settings shared by every run.
type CrawlerConfig struct {
	OutputDir        string  `mapstructure:"out_dir"`
	TorrentDir       string  `mapstructure:"torrent_dir"`
	DelaySeconds     float64 `mapstructure:"delay_seconds"`
	AllowV2          bool    `mapstructure:"allow_v2"`
	TestMode         bool    `mapstructure:"test_mode"`
	TestLimit        int     `mapstructure:"test_limit"`
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	MaxBodyMB        int     `mapstructure:"max_body_mb"`
	DefaultUserAgent string  `mapstructure:"default_user_agent"`
}

// SiteConfig is one tracker in the registry.
type SiteConfig struct {
	Name      string `mapstructure:"name"`
	BaseURL   string `mapstructure:"base_url"`
	ListPath  string `mapstructure:"list_path"`
	Cookie    string `mapstructure:"cookie"`
	UserAgent string `mapstructure:"user_agent"`
}

// TaskConfig binds a site to a schedule.
type TaskConfig struct {
	Name          string `mapstructure:"name"`
	Site          string `mapstructure:"site"`
	ScheduleType  string `mapstructure:"schedule_type"`
	ScheduleValue string `mapstructure:"schedule_value"`
	StartPage     int    `mapstructure:"start_page"`
}

// DatabaseConfig selects and sizes the record store.
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	DSN             string `mapstructure:"dsn"`
	Table           string `mapstructure:"table"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime_seconds"`
}

// StorageConfig picks where torrent files are written.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Bucket  string `mapstructure:"bucket"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from .env, disk and environment. Variables use the
// PTCRAWLER_ prefix with "." replaced by "_" (PTCRAWLER_DATABASE_DSN).
func Load(path string) (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("PTCRAWLER")
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

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("crawler.out_dir", "./output")
	v.SetDefault("crawler.torrent_dir", "./torrents")
	v.SetDefault("crawler.delay_seconds", crawler.DefaultDelay.Seconds())
	v.SetDefault("crawler.allow_v2", false)
	v.SetDefault("crawler.test_mode", false)
	v.SetDefault("crawler.test_limit", crawler.DefaultTestLimit)
	v.SetDefault("crawler.timeout_seconds", 30)
	v.SetDefault("crawler.max_body_mb", 32)
	v.SetDefault("crawler.default_user_agent", crawler.DefaultUserAgent)
	v.SetDefault("database.driver", DriverMemory)
	v.SetDefault("database.table", "torrents")
	v.SetDefault("storage.backend", BackendLocal)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Crawler.DelaySeconds < 0 {
		return fmt.Errorf("crawler.delay_seconds must be >= 0")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres, DriverSQLite:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set for driver %q", c.Database.Driver)
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	switch c.Storage.Backend {
	case BackendLocal:
	case BackendGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is")
	}

	sites := make(map[string]struct{}, len(c.Sites))
	for i, s := range c.Sites {
		if s.Name == "" {
			return fmt.Errorf("sites[%d].name must be set", i)
		}
		if _, dup := sites[s.Name]; dup {
			return fmt.Errorf("sites[%d].name %q is duplicated", i, s.Name)
		}
		sites[s.Name] = struct{}{}
	}
	tasks := make(map[string]struct{}, len(c.Tasks))
	for i, t := range c.Tasks {
		if t.Name == "" {
			return fmt.Errorf("tasks[%d].name must be set", i)
		}
		if _, dup := tasks[t.Name]; dup {
			return fmt.Errorf("tasks[%d].name %q is duplicated", i, t.Name)
		}
		tasks[t.Name] = struct{}{}
		if _, ok := sites[t.Site]; !ok {
			return fmt.Errorf("tasks[%d].site %q is not a configured site", i, t.Site)
		}
		switch t.ScheduleType {
		case "", ScheduleManual:
		case ScheduleCron, ScheduleInterval:
			if t.ScheduleValue == "" {
				return fmt.Errorf("tasks[%d].schedule_value must be set for %s schedules", i, t.ScheduleType)
			}
		default:
			return fmt.Errorf("tasks[%d].schedule_type %q is not supported", i, t.ScheduleType)
		}
	}
	return nil
}

// Site returns the registry entry called name.
func (c Config) Site(name string) (SiteConfig, bool) {
	for _, s := range c.Sites {
		if s.Name == name {
			return s, true
		}
	}
	return SiteConfig{}, false
}

// Task returns the task called name.
func (c Config) Task(name string) (TaskConfig, bool) {
	for _, t := range c.Tasks {
		if t.Name == name {
			return t, true
		}
	}
	return TaskConfig{}, false
}

// FetchTimeout is the per-request budget of the HTTP fetcher.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Crawler.TimeoutSeconds) * time.Second
}

// FetchMaxBody is the response size cap in bytes; zero leaves the fetcher default.
func (c Config) FetchMaxBody() int {
	if c.Crawler.MaxBodyMB <= 0 {
		return 0
	}
	return c.Crawler.MaxBodyMB << 20
}

// CrawlConfig resolves a task, its site and the shared settings into the
// input of one run. A site without a user agent gets the configured default.
func (c Config) CrawlConfig(taskName string) (crawler.CrawlConfig, error) {
	task, ok := c.Task(taskName)
	if !ok {
		return crawler.CrawlConfig{}, fmt.Errorf("%w: %q", ErrUnknownTask, taskName)
	}
	site, ok := c.Site(task.Site)
	if !ok {
		return crawler.CrawlConfig{}, fmt.Errorf("site %q for task %q is not configured", task.Site, taskName)
	}
	ua := site.UserAgent
	if ua == "" {
		ua = c.Crawler.DefaultUserAgent
	}
	if ua == "" {
		ua = crawler.DefaultUserAgent
	}
	return crawler.CrawlConfig{
		Site:       site.Name,
		BaseURL:    site.BaseURL,
		ListPath:   site.ListPath,
		Cookie:     site.Cookie,
		UserAgent:  ua,
		OutputDir:  c.Crawler.OutputDir,
		TorrentDir: c.Crawler.TorrentDir,
		Delay:      time.Duration(c.Crawler.DelaySeconds * float64(time.Second)),
		AllowV2:    c.Crawler.AllowV2,
		TestMode:   c.Crawler.TestMode,
		TestLimit:  c.Crawler.TestLimit,
		StartPage:  task.StartPage,
	}, nil
}
