// Package config loads the daemon configuration from config.yaml under the
// lexflow home directory, with env overrides and zero-value defaults.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/basket/lexflow/internal/otel"
)

// LLMConfig selects the model backend.
type LLMConfig struct {
	// Provider names the active LLM provider: "google" or "anthropic".
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	// TimeoutSeconds bounds one model call. 0 = bounded by the task timeout only.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// SourceConfig points at the publication source API.
type SourceConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`

	// Per-request policy. Zero values take the documented fetch defaults
	// (10s timeout, 500ms delay, 3 retries, 1s retry delay).
	TimeoutSeconds int `yaml:"timeout_seconds"`
	RequestDelayMs int `yaml:"request_delay_ms"`
	Retries        int `yaml:"retries"`
	RetryDelayMs   int `yaml:"retry_delay_ms"`
}

// WatchConfig is one monitored identity with its sync schedule.
type WatchConfig struct {
	Name         string `yaml:"name"`
	Registration string `yaml:"registration"`
	Jurisdiction string `yaml:"jurisdiction"`
	// Cron is a standard 5-field cron expression. Empty uses the daemon default.
	Cron string `yaml:"cron"`
	// WindowDays is the lookback window per sync. 0 = 1 day.
	WindowDays int `yaml:"window_days"`
}

// HealthConfig sets the degradation thresholds for the status tracker.
type HealthConfig struct {
	FailureRateThreshold float64 `yaml:"failure_rate_threshold"`
	MinSamples           int     `yaml:"min_samples"`
	WindowSize           int     `yaml:"window_size"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	BindAddr string `yaml:"bind_addr"`
	LogLevel string `yaml:"log_level"`

	WorkerCount        int `yaml:"worker_count"`
	TaskTimeoutSeconds int `yaml:"task_timeout_seconds"`
	// MaxRetries is the total attempt budget per task.
	MaxRetries        int `yaml:"max_retries"`
	RetryDelaySeconds int `yaml:"retry_delay_seconds"`

	// DefaultCron schedules watches that set no cron of their own.
	DefaultCron string `yaml:"default_cron"`

	// RetentionFailedHours is how long failed task records are kept. 0 = keep forever.
	RetentionFailedHours int `yaml:"retention_failed_hours"`
	// RetentionCron schedules the cleanup sweep.
	RetentionCron string `yaml:"retention_cron"`

	DrainTimeoutSeconds int `yaml:"drain_timeout_seconds"`

	LLM     LLMConfig     `yaml:"llm"`
	Source  SourceConfig  `yaml:"source"`
	Health  HealthConfig  `yaml:"health"`
	Otel    otel.Config   `yaml:"otel"`
	Watches []WatchConfig `yaml:"watches"`
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

func defaultConfig() Config {
	return Config{
		BindAddr:             "127.0.0.1:18790",
		LogLevel:             "info",
		WorkerCount:          4,
		TaskTimeoutSeconds:   int((5 * time.Minute).Seconds()),
		MaxRetries:           3,
		RetryDelaySeconds:    1,
		DefaultCron:          "0 */2 * * *",
		RetentionFailedHours: int((30 * 24 * time.Hour).Hours()),
		RetentionCron:        "30 3 * * *",
		DrainTimeoutSeconds:  10,
		Source: SourceConfig{
			TimeoutSeconds: 10,
			RequestDelayMs: 500,
			Retries:        3,
			RetryDelayMs:   1000,
		},
	}
}

// HomeDir resolves the lexflow home directory, honoring LEXFLOW_HOME.
func HomeDir() string {
	if override := os.Getenv("LEXFLOW_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".lexflow")
}

// Load reads config.yaml from the lexflow home, creating the home directory
// when missing. A missing config file is not an error; defaults apply.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create lexflow home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	def := defaultConfig()
	if cfg.BindAddr == "" {
		cfg.BindAddr = def.BindAddr
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = def.WorkerCount
	}
	if cfg.TaskTimeoutSeconds <= 0 {
		cfg.TaskTimeoutSeconds = def.TaskTimeoutSeconds
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryDelaySeconds <= 0 {
		cfg.RetryDelaySeconds = def.RetryDelaySeconds
	}
	if cfg.DefaultCron == "" {
		cfg.DefaultCron = def.DefaultCron
	}
	if cfg.RetentionCron == "" {
		cfg.RetentionCron = def.RetentionCron
	}
	if cfg.DrainTimeoutSeconds <= 0 {
		cfg.DrainTimeoutSeconds = def.DrainTimeoutSeconds
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "google"
	}
	if cfg.Source.TimeoutSeconds <= 0 {
		cfg.Source.TimeoutSeconds = def.Source.TimeoutSeconds
	}
	if cfg.Source.RequestDelayMs <= 0 {
		cfg.Source.RequestDelayMs = def.Source.RequestDelayMs
	}
	if cfg.Source.Retries <= 0 {
		cfg.Source.Retries = def.Source.Retries
	}
	if cfg.Source.RetryDelayMs <= 0 {
		cfg.Source.RetryDelayMs = def.Source.RetryDelayMs
	}
}

func validate(cfg *Config) error {
	for i, w := range cfg.Watches {
		if w.Name == "" || w.Registration == "" {
			return fmt.Errorf("watches[%d]: name and registration must be non-empty", i)
		}
	}
	if cfg.RetentionFailedHours < 0 {
		return fmt.Errorf("retention_failed_hours must not be negative")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("LEXFLOW_BIND_ADDR"); raw != "" {
		cfg.BindAddr = raw
	}
	if raw := os.Getenv("LEXFLOW_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("LEXFLOW_WORKER_COUNT"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.WorkerCount = v
		}
	}
	if raw := os.Getenv("LEXFLOW_TASK_TIMEOUT_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.TaskTimeoutSeconds = v
		}
	}
	if raw := os.Getenv("LEXFLOW_MAX_RETRIES"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.MaxRetries = v
		}
	}
	if raw := os.Getenv("LEXFLOW_DRAIN_TIMEOUT_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.DrainTimeoutSeconds = v
		}
	}
	if raw := os.Getenv("LEXFLOW_SOURCE_BASE_URL"); raw != "" {
		cfg.Source.BaseURL = raw
	}
	if raw := os.Getenv("LEXFLOW_SOURCE_API_KEY"); raw != "" {
		cfg.Source.APIKey = raw
	}
	if raw := os.Getenv("LEXFLOW_LLM_PROVIDER"); raw != "" {
		cfg.LLM.Provider = raw
	}
	if raw := os.Getenv("LEXFLOW_LLM_MODEL"); raw != "" {
		cfg.LLM.Model = raw
	}
}

// TaskTimeout returns the per-attempt timeout as a duration.
func (c Config) TaskTimeout() time.Duration {
	return time.Duration(c.TaskTimeoutSeconds) * time.Second
}

// RetryDelay returns the inter-attempt delay as a duration.
func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// DrainTimeout returns the shutdown drain budget as a duration.
func (c Config) DrainTimeout() time.Duration {
	return time.Duration(c.DrainTimeoutSeconds) * time.Second
}

// RetentionFailedAge returns the failed-record retention age. Zero disables
// the sweep.
func (c Config) RetentionFailedAge() time.Duration {
	return time.Duration(c.RetentionFailedHours) * time.Hour
}

// Fingerprint returns a stable hash of the active config.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "workers=%d|timeout=%d|retries=%d|bind=%s|log=%s|watches=%d",
		c.WorkerCount, c.TaskTimeoutSeconds, c.MaxRetries, c.BindAddr, c.LogLevel, len(c.Watches))
	return fmt.Sprintf("cfg-%x", h.Sum64())
}
