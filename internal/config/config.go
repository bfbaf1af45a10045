// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper. It is
// built once at boot and treated as immutable afterwards.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Admin   AdminConfig   `mapstructure:"admin"`
	DB      DBConfig      `mapstructure:"db"`
	Vendor  VendorConfig  `mapstructure:"vendor"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Scrape  ScrapeConfig  `mapstructure:"scrape"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Enrich  EnrichConfig  `mapstructure:"enrich"`
	Sweep   SweepConfig   `mapstructure:"sweep"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// AdminConfig holds the single shared operator credential.
type AdminConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// DBConfig controls access to the relational store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// VendorConfig configures the snapshot scraping vendor.
type VendorConfig struct {
	BaseURL            string `mapstructure:"base_url"`
	APIToken           string `mapstructure:"api_token"`
	LinkedInDatasetID  string `mapstructure:"linkedin_dataset_id"`
	IndeedDatasetID    string `mapstructure:"indeed_dataset_id"`
	Mock               bool   `mapstructure:"mock"`
	MockFixturePath    string `mapstructure:"mock_fixture_path"`
	TriggerTimeoutSec  int    `mapstructure:"trigger_timeout_seconds"`
	DownloadTimeoutSec int    `mapstructure:"download_timeout_seconds"`
	DailyQuota         int    `mapstructure:"daily_quota"`
}

// LLMConfig configures the LLM vendor and the per-worker prompts.
type LLMConfig struct {
	BaseURL              string `mapstructure:"base_url"`
	APIKey               string `mapstructure:"api_key"`
	TimeoutSec           int    `mapstructure:"timeout_seconds"`
	TitlePromptID        string `mapstructure:"title_prompt_id"`
	TitlePromptVersion   string `mapstructure:"title_prompt_version"`
	JobPromptID          string `mapstructure:"job_prompt_id"`
	JobPromptVersion     string `mapstructure:"job_prompt_version"`
	CompanyPromptID      string `mapstructure:"company_prompt_id"`
	CompanyPromptVersion string `mapstructure:"company_prompt_version"`
}

// ScrapeConfig governs the orchestrator polling lifecycle.
type ScrapeConfig struct {
	PollSeconds        int `mapstructure:"poll_seconds"`
	DeadlineSeconds    int `mapstructure:"deadline_seconds"`
	MinIntervalHours   int `mapstructure:"min_interval_hours"`
	SchedulerGraceMins int `mapstructure:"scheduler_grace_minutes"`
}

// RetryConfig governs the retry service.
type RetryConfig struct {
	TickMinutes      int `mapstructure:"tick_minutes"`
	StuckAfterMins   int `mapstructure:"stuck_after_minutes"`
	BackoffHours     int `mapstructure:"backoff_hours"`
	MaxRetriesPerRun int `mapstructure:"max_retries_per_run"`
}

// EnrichConfig governs the enrichment worker loops.
type EnrichConfig struct {
	TickSeconds      int `mapstructure:"tick_seconds"`
	BatchSize        int `mapstructure:"batch_size"`
	RetryWindowHours int `mapstructure:"retry_window_hours"`
	JobDelaySeconds  int `mapstructure:"job_delay_seconds"`
	CompanyDelaySecs int `mapstructure:"company_delay_seconds"`
}

// SweepConfig governs the lifecycle sweeper.
type SweepConfig struct {
	TickHours     int `mapstructure:"tick_hours"`
	ThresholdDays int `mapstructure:"threshold_days"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("JOBRADAR")
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
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("vendor.base_url", "https://api.brightdata.com/datasets/v3")
	v.SetDefault("vendor.trigger_timeout_seconds", 300)
	v.SetDefault("vendor.download_timeout_seconds", 300)
	v.SetDefault("vendor.daily_quota", 100)
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.timeout_seconds", 300)
	v.SetDefault("scrape.poll_seconds", 30)
	v.SetDefault("scrape.deadline_seconds", 1800)
	v.SetDefault("scrape.min_interval_hours", 6)
	v.SetDefault("scrape.scheduler_grace_minutes", 60)
	v.SetDefault("retry.tick_minutes", 30)
	v.SetDefault("retry.stuck_after_minutes", 60)
	v.SetDefault("retry.backoff_hours", 4)
	v.SetDefault("retry.max_retries_per_run", 4)
	v.SetDefault("enrich.tick_seconds", 60)
	v.SetDefault("enrich.batch_size", 10)
	v.SetDefault("enrich.retry_window_hours", 24)
	v.SetDefault("enrich.job_delay_seconds", 1)
	v.SetDefault("enrich.company_delay_seconds", 2)
	v.SetDefault("sweep.tick_hours", 6)
	v.SetDefault("sweep.threshold_days", 14)
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	if !c.Vendor.Mock && c.Vendor.APIToken == "" {
		return fmt.Errorf("vendor.api_token is required unless vendor.mock is set")
	}
	if c.Vendor.Mock && c.Vendor.MockFixturePath == "" {
		return fmt.Errorf("vendor.mock_fixture_path is required when vendor.mock is set")
	}
	if c.Scrape.PollSeconds <= 0 {
		return fmt.Errorf("scrape.poll_seconds must be > 0")
	}
	if c.Scrape.DeadlineSeconds <= 0 {
		return fmt.Errorf("scrape.deadline_seconds must be > 0")
	}
	if c.Retry.MaxRetriesPerRun < 0 {
		return fmt.Errorf("retry.max_retries_per_run must be >= 0")
	}
	if c.Enrich.BatchSize <= 0 {
		return fmt.Errorf("enrich.batch_size must be > 0")
	}
	if c.Sweep.ThresholdDays <= 0 {
		return fmt.Errorf("sweep.threshold_days must be > 0")
	}
	return nil
}

// PollInterval returns the snapshot polling cadence.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Scrape.PollSeconds) * time.Second
}

// SnapshotDeadline returns the total budget for a snapshot to build.
func (c Config) SnapshotDeadline() time.Duration {
	return time.Duration(c.Scrape.DeadlineSeconds) * time.Second
}

// EnrichRetryWindow returns the window during which a failed enrichment stays
// invisible to its worker.
func (c Config) EnrichRetryWindow() time.Duration {
	return time.Duration(c.Enrich.RetryWindowHours) * time.Hour
}

// SweepThreshold returns the last-seen age beyond which a posting goes inactive.
func (c Config) SweepThreshold() time.Duration {
	return time.Duration(c.Sweep.ThresholdDays) * 24 * time.Hour
}
