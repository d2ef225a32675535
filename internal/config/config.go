// Package config loads and validates the service configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile  = "config.yaml"
	DefaultAddress     = ":8888"
	DefaultDailyAt     = "08:00"
	DefaultTimezone    = "UTC"
	DefaultStaleAfter  = 24 * time.Hour
	DefaultMaxWorkers  = 6
	DefaultTimeout     = 60 * time.Second
	DefaultAttempts    = 3
	DefaultBackoff     = 2 * time.Second
	DefaultLimit       = 20
	DefaultStoragePath = "data/trending.db"
)

// Duration wraps time.Duration for YAML unmarshaling from strings like "60s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Sources  SourcesConfig  `yaml:"sources"`
	Storage  StorageConfig  `yaml:"storage"`
}

type ServerConfig struct {
	Address string `yaml:"address"`
}

type ScheduleConfig struct {
	DailyAt    string   `yaml:"daily_at"` // HH:MM wall clock
	Timezone   string   `yaml:"timezone"`
	StaleAfter Duration `yaml:"stale_after"`
	MaxWorkers int      `yaml:"max_workers"`
}

type FetchConfig struct {
	Timeout  Duration `yaml:"timeout"`
	Attempts int      `yaml:"attempts"`
	Backoff  Duration `yaml:"backoff"`
}

type SourcesConfig struct {
	GitHub       SourceConfig `yaml:"github"`
	WeeklyGrowth SourceConfig `yaml:"github_weekly_growth"`
	Bilibili     SourceConfig `yaml:"bilibili"`
	ArxivBiology ArxivConfig  `yaml:"arxiv_biology"`
	ArxivAI      ArxivConfig  `yaml:"arxiv_computer_ai"`
	AINews       AINewsConfig `yaml:"ai_news"`
}

type SourceConfig struct {
	Enabled bool `yaml:"enabled"`
	Limit   int  `yaml:"limit"`
}

type ArxivConfig struct {
	SourceConfig `yaml:",inline"`
	Categories   []string `yaml:"categories"`
}

type AINewsConfig struct {
	SourceConfig `yaml:",inline"`
	Feeds        []string `yaml:"feeds"`
	Keywords     []string `yaml:"keywords"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

// Load reads the YAML config at path, applies defaults, and validates.
// A missing file yields the defaults with every source enabled.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("config path is required")
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case os.IsNotExist(err):
		cfg = defaultSources()
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func defaultSources() Config {
	var cfg Config
	cfg.Sources.GitHub.Enabled = true
	cfg.Sources.WeeklyGrowth.Enabled = true
	cfg.Sources.Bilibili.Enabled = true
	cfg.Sources.ArxivBiology.Enabled = true
	cfg.Sources.ArxivAI.Enabled = true
	cfg.Sources.AINews.Enabled = true
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = DefaultAddress
	}
	if cfg.Schedule.DailyAt == "" {
		cfg.Schedule.DailyAt = DefaultDailyAt
	}
	if cfg.Schedule.Timezone == "" {
		cfg.Schedule.Timezone = DefaultTimezone
	}
	if cfg.Schedule.StaleAfter.Duration == 0 {
		cfg.Schedule.StaleAfter.Duration = DefaultStaleAfter
	}
	if cfg.Schedule.MaxWorkers == 0 {
		cfg.Schedule.MaxWorkers = DefaultMaxWorkers
	}
	if cfg.Fetch.Timeout.Duration == 0 {
		cfg.Fetch.Timeout.Duration = DefaultTimeout
	}
	if cfg.Fetch.Attempts == 0 {
		cfg.Fetch.Attempts = DefaultAttempts
	}
	if cfg.Fetch.Backoff.Duration == 0 {
		cfg.Fetch.Backoff.Duration = DefaultBackoff
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}

	for _, sc := range []*SourceConfig{
		&cfg.Sources.GitHub,
		&cfg.Sources.WeeklyGrowth,
		&cfg.Sources.Bilibili,
		&cfg.Sources.ArxivBiology.SourceConfig,
		&cfg.Sources.ArxivAI.SourceConfig,
		&cfg.Sources.AINews.SourceConfig,
	} {
		if sc.Limit == 0 {
			sc.Limit = DefaultLimit
		}
	}

	if len(cfg.Sources.ArxivBiology.Categories) == 0 {
		cfg.Sources.ArxivBiology.Categories = []string{"q-bio.BM", "q-bio.GN", "q-bio.NC"}
	}
	if len(cfg.Sources.ArxivAI.Categories) == 0 {
		cfg.Sources.ArxivAI.Categories = []string{"cs.AI", "cs.LG", "cs.CV"}
	}
	if len(cfg.Sources.AINews.Feeds) == 0 {
		cfg.Sources.AINews.Feeds = []string{
			"https://hnrss.org/frontpage",
			"https://www.technologyreview.com/feed/",
		}
	}
	if len(cfg.Sources.AINews.Keywords) == 0 {
		cfg.Sources.AINews.Keywords = []string{"ai", "machine learning", "ml", "neural", "llm", "gpt"}
	}
}

func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Server.Address) == "" {
		return errors.New("server.address is required")
	}
	if _, _, err := ParseDailyAt(cfg.Schedule.DailyAt); err != nil {
		return err
	}
	if _, err := time.LoadLocation(cfg.Schedule.Timezone); err != nil {
		return fmt.Errorf("schedule.timezone %q: %w", cfg.Schedule.Timezone, err)
	}
	if cfg.Schedule.StaleAfter.Duration < 0 {
		return errors.New("schedule.stale_after must not be negative")
	}
	if cfg.Schedule.MaxWorkers < 1 {
		return errors.New("schedule.max_workers must be at least 1")
	}
	if cfg.Fetch.Timeout.Duration <= 0 {
		return errors.New("fetch.timeout must be positive")
	}
	if cfg.Fetch.Attempts < 1 {
		return errors.New("fetch.attempts must be at least 1")
	}
	if cfg.Fetch.Backoff.Duration < 0 {
		return errors.New("fetch.backoff must not be negative")
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	if cfg.Sources.AINews.Enabled && len(cfg.Sources.AINews.Feeds) == 0 {
		return errors.New("sources.ai_news.feeds is required when enabled")
	}
	return nil
}

// ParseDailyAt extracts hour and minute from an "HH:MM" trigger time.
func ParseDailyAt(s string) (int, int, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, 0, fmt.Errorf("schedule.daily_at %q: must be HH:MM", s)
	}
	for _, i := range []int{0, 1, 3, 4} {
		if s[i] < '0' || s[i] > '9' {
			return 0, 0, fmt.Errorf("schedule.daily_at %q: must be HH:MM", s)
		}
	}
	hour := int(s[0]-'0')*10 + int(s[1]-'0')
	minute := int(s[3]-'0')*10 + int(s[4]-'0')
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("schedule.daily_at %q: hour 0-23, minute 0-59", s)
	}
	return hour, minute, nil
}
