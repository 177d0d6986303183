// Package config loads run settings from defaults, an optional YAML file,
// WEBSTAR_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/yifei-he/WebSTAR/internal/browser"
	"github.com/yifei-he/WebSTAR/internal/coords"
	"github.com/yifei-he/WebSTAR/internal/retry"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "WEBSTAR"

// Config is the full configuration tree.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Agent   AgentConfig   `mapstructure:"agent" yaml:"agent"`
	Model   ModelConfig   `mapstructure:"model" yaml:"model"`
	Run     RunConfig     `mapstructure:"run" yaml:"run"`
	Router  RouterConfig  `mapstructure:"router" yaml:"router"`
}

// LoggerConfig configures the process logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig configures the Chromium session of each task.
type BrowserConfig struct {
	Width             int           `mapstructure:"width" yaml:"width"`
	Height            int           `mapstructure:"height" yaml:"height"`
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	Bin               string        `mapstructure:"bin" yaml:"bin"`
	DownloadDir       string        `mapstructure:"download_dir" yaml:"download_dir"`
	ProfileDir        string        `mapstructure:"profile_dir" yaml:"profile_dir"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	InitialSettle     time.Duration `mapstructure:"initial_settle" yaml:"initial_settle"`
}

// AgentConfig configures the task loop.
type AgentConfig struct {
	MaxIterations     int          `mapstructure:"max_iterations" yaml:"max_iterations"`
	MaxAttachedImages int          `mapstructure:"max_attached_images" yaml:"max_attached_images"`
	TextSensor        string       `mapstructure:"text_sensor" yaml:"text_sensor"`
	Settle            SettleConfig `mapstructure:"settle" yaml:"settle"`
	Retry             RetryConfig  `mapstructure:"retry" yaml:"retry"`
}

// SettleConfig holds the fixed pauses around browser actions.
type SettleConfig struct {
	Action      time.Duration `mapstructure:"action" yaml:"action"`
	KeyInterval time.Duration `mapstructure:"key_interval" yaml:"key_interval"`
	Wait        time.Duration `mapstructure:"wait" yaml:"wait"`
}

// RetryConfig bounds model-call retries.
type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay" yaml:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier" yaml:"multiplier"`
	Jitter       bool          `mapstructure:"jitter" yaml:"jitter"`
}

// Policy converts the settings into a retry policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts:  r.MaxAttempts,
		InitialDelay: r.InitialDelay,
		MaxDelay:     r.MaxDelay,
		Multiplier:   r.Multiplier,
		Jitter:       r.Jitter,
	}
}

// ModelConfig selects the model service and the action dialect it speaks.
type ModelConfig struct {
	Provider        string  `mapstructure:"provider" yaml:"provider"`
	Name            string  `mapstructure:"name" yaml:"name"`
	BaseURL         string  `mapstructure:"base_url" yaml:"base_url"`
	APIKey          string  `mapstructure:"api_key" yaml:"api_key"`
	MaxTokens       int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature" yaml:"temperature"`
	Seed            int     `mapstructure:"seed" yaml:"seed"`
	Dialect         string  `mapstructure:"dialect" yaml:"dialect"`
	CoordinateScale string  `mapstructure:"coordinate_scale" yaml:"coordinate_scale"`
}

// RunConfig describes a batch run.
type RunConfig struct {
	TestFile  string `mapstructure:"test_file" yaml:"test_file"`
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir"`
	Workers   int    `mapstructure:"workers" yaml:"workers"`
	Trials    int    `mapstructure:"trials" yaml:"trials"`
}

// RouterConfig configures the replica load balancer.
type RouterConfig struct {
	Listen    string   `mapstructure:"listen" yaml:"listen"`
	Backends  []string `mapstructure:"backends" yaml:"backends"`
	RateLimit float64  `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst     int      `mapstructure:"burst" yaml:"burst"`
}

// SetDefaults initializes default values for every key.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "webstar")
	v.SetDefault("logger.log_file", "main.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.width", 1024)
	v.SetDefault("browser.height", 768)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.bin", "")
	v.SetDefault("browser.download_dir", "downloads")
	v.SetDefault("browser.profile_dir", "")
	v.SetDefault("browser.navigation_timeout", "180s")
	v.SetDefault("browser.initial_settle", "5s")

	// -- Agent --
	v.SetDefault("agent.max_iterations", 5)
	v.SetDefault("agent.max_attached_images", 1)
	v.SetDefault("agent.text_sensor", "none")
	v.SetDefault("agent.settle.action", "3s")
	v.SetDefault("agent.settle.key_interval", "1s")
	v.SetDefault("agent.settle.wait", "5s")
	v.SetDefault("agent.retry.max_attempts", 10)
	v.SetDefault("agent.retry.initial_delay", "10s")
	v.SetDefault("agent.retry.max_delay", "60s")
	v.SetDefault("agent.retry.multiplier", 1.5)
	v.SetDefault("agent.retry.jitter", false)

	// -- Model --
	v.SetDefault("model.provider", "openai")
	v.SetDefault("model.name", "gpt-4o")
	v.SetDefault("model.base_url", "")
	v.SetDefault("model.api_key", "")
	v.SetDefault("model.max_tokens", 1000)
	v.SetDefault("model.temperature", 1.0)
	v.SetDefault("model.seed", 0)
	v.SetDefault("model.dialect", "dsl")
	v.SetDefault("model.coordinate_scale", "pixel")

	// -- Run --
	v.SetDefault("run.test_file", "data/test.jsonl")
	v.SetDefault("run.output_dir", "results")
	v.SetDefault("run.workers", 16)
	v.SetDefault("run.trials", 1)

	// -- Router --
	backends := make([]string, 0, 8)
	for port := 8001; port <= 8008; port++ {
		backends = append(backends, fmt.Sprintf("http://localhost:%d", port))
	}
	v.SetDefault("router.listen", ":8000")
	v.SetDefault("router.backends", backends)
	v.SetDefault("router.rate_limit", 0.0)
	v.SetDefault("router.burst", 1)
}

// New returns a viper instance with defaults and environment overrides
// wired. cfgFile may be empty, in which case ./webstar.yaml is used when
// present.
func New(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("webstar")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars
	}
	return v, nil
}

// Load unmarshals and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	if c.Browser.Width <= 0 || c.Browser.Height <= 0 {
		return fmt.Errorf("browser.width and browser.height must be positive")
	}
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be a positive integer")
	}
	if c.Agent.MaxAttachedImages < 0 {
		return fmt.Errorf("agent.max_attached_images must not be negative")
	}
	if c.Agent.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("agent.retry.max_attempts must be a positive integer")
	}
	if c.Run.Workers <= 0 {
		return fmt.Errorf("run.workers must be a positive integer")
	}
	// Chrome locks a profile directory to one running browser.
	if c.Browser.ProfileDir != "" && c.Run.Workers > 1 {
		return fmt.Errorf("browser.profile_dir cannot be shared by %d workers; set run.workers to 1", c.Run.Workers)
	}
	if c.Run.Trials <= 0 {
		return fmt.Errorf("run.trials must be a positive integer")
	}
	switch c.Model.Dialect {
	case "dsl", "record", "legacy":
	default:
		return fmt.Errorf("model.dialect must be one of dsl, record, legacy; got %q", c.Model.Dialect)
	}
	if _, err := coords.ParseScale(c.Model.CoordinateScale); err != nil {
		return err
	}
	if _, err := browser.ParseTextSensor(c.Agent.TextSensor); err != nil {
		return err
	}
	switch c.Model.Provider {
	case "computer-use", "operator":
		// Its replies are rewritten as pixel-space records.
		if scale, _ := coords.ParseScale(c.Model.CoordinateScale); c.Model.Dialect != "record" || scale != coords.Pixel {
			return fmt.Errorf("model.provider %s needs model.dialect record and model.coordinate_scale pixel", c.Model.Provider)
		}
		if c.Agent.MaxAttachedImages == 0 {
			return fmt.Errorf("model.provider %s needs agent.max_attached_images of at least 1", c.Model.Provider)
		}
	}
	return nil
}

// Viewport returns the configured page size.
func (c *Config) Viewport() coords.Viewport {
	return coords.Viewport{Width: c.Browser.Width, Height: c.Browser.Height}
}

// Scale returns the parsed coordinate scale. Validate has already checked
// it.
func (c *Config) Scale() coords.Scale {
	s, _ := coords.ParseScale(c.Model.CoordinateScale)
	return s
}

// Sensor returns the parsed text sensor.
func (c *Config) Sensor() browser.TextSensor {
	s, _ := browser.ParseTextSensor(c.Agent.TextSensor)
	return s
}
