// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Browser() BrowserConfig
	Capture() CaptureConfig
	Report() ReportConfig
	Scripts() ScriptsConfig

	// Browser Setters
	SetBrowserDriver(string)
	SetBrowserHeadless(bool)
	SetBrowserConcurrency(int)

	// Report Setters
	SetReportRoot(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	CaptureCfg  CaptureConfig  `mapstructure:"capture" yaml:"capture"`
	ReportCfg   ReportConfig   `mapstructure:"report" yaml:"report"`
	ScriptsCfg  ScriptsConfig  `mapstructure:"scripts" yaml:"scripts"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Capture() CaptureConfig   { return c.CaptureCfg }
func (c *Config) Report() ReportConfig     { return c.ReportCfg }
func (c *Config) Scripts() ScriptsConfig   { return c.ScriptsCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserDriver(d string)   { c.BrowserCfg.Driver = d }
func (c *Config) SetBrowserHeadless(b bool)   { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserConcurrency(n int) { c.BrowserCfg.Concurrency = n }
func (c *Config) SetReportRoot(root string)   { c.ReportCfg.Root = root }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the database connection details. An empty URL keeps
// attachments in the log only.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// Browser backends.
const (
	DriverChromedp   = "chromedp"
	DriverRod        = "rod"
	DriverPlaywright = "playwright"
)

// BrowserConfig holds settings for the browser instances.
type BrowserConfig struct {
	// Driver selects the automation backend: chromedp, rod or playwright.
	Driver            string         `mapstructure:"driver" yaml:"driver"`
	Headless          bool           `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Concurrency       int            `mapstructure:"concurrency" yaml:"concurrency"`
	ExecPath          string         `mapstructure:"exec_path" yaml:"exec_path"`
	Args              []string       `mapstructure:"args" yaml:"args"`
	Viewport          map[string]int `mapstructure:"viewport" yaml:"viewport"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	FindTimeout       time.Duration  `mapstructure:"find_timeout" yaml:"find_timeout"`
}

// ViewportSize returns the configured width and height, falling back to
// 1920x1080 for missing entries.
func (b BrowserConfig) ViewportSize() (int, int) {
	w, h := b.Viewport["width"], b.Viewport["height"]
	if w <= 0 {
		w = 1920
	}
	if h <= 0 {
		h = 1080
	}
	return w, h
}

// CaptureConfig tunes the scroll-into-view retry policy.
type CaptureConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	ViewportTimeout time.Duration `mapstructure:"viewport_timeout" yaml:"viewport_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// ReportConfig controls where screenshots land.
type ReportConfig struct {
	Root string `mapstructure:"root" yaml:"root"`
	// RunFolder puts each run's screenshots under a <yyyyMMddHHmm> folder.
	RunFolder bool `mapstructure:"run_folder" yaml:"run_folder"`
}

// ScriptsConfig points at an optional directory of script overrides.
type ScriptsConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "snapreport")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.driver", DriverChromedp)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.concurrency", 2)
	v.SetDefault("browser.viewport", map[string]int{"width": 1920, "height": 1080})
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.find_timeout", "10s")

	// -- Capture --
	v.SetDefault("capture.max_attempts", 5)
	v.SetDefault("capture.viewport_timeout", "3s")
	v.SetDefault("capture.poll_interval", "500ms")

	// -- Report --
	v.SetDefault("report.root", "reports")
	v.SetDefault("report.run_folder", true)

	// -- Scripts --
	v.SetDefault("scripts.dir", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The database URL usually carries credentials, keep it reachable from
	// the environment even without AutomaticEnv.
	_ = v.BindEnv("database.url", "SNAPREPORT_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	var err error
	if cfg.ReportCfg.Root, err = homedir.Expand(cfg.ReportCfg.Root); err != nil {
		return nil, fmt.Errorf("failed to expand report.root: %w", err)
	}
	if cfg.ScriptsCfg.Dir, err = homedir.Expand(cfg.ScriptsCfg.Dir); err != nil {
		return nil, fmt.Errorf("failed to expand scripts.dir: %w", err)
	}
	cfg.BrowserCfg.Driver = strings.ToLower(strings.TrimSpace(cfg.BrowserCfg.Driver))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch c.BrowserCfg.Driver {
	case DriverChromedp, DriverRod, DriverPlaywright:
	default:
		return fmt.Errorf("browser.driver must be one of %s, %s or %s, got %q",
			DriverChromedp, DriverRod, DriverPlaywright, c.BrowserCfg.Driver)
	}
	if c.BrowserCfg.Concurrency <= 0 {
		return fmt.Errorf("browser.concurrency must be a positive integer")
	}
	if c.BrowserCfg.NavigationTimeout <= 0 {
		return fmt.Errorf("browser.navigation_timeout must be a positive duration")
	}
	if c.BrowserCfg.FindTimeout <= 0 {
		return fmt.Errorf("browser.find_timeout must be a positive duration")
	}
	if err := c.CaptureCfg.Validate(); err != nil {
		return fmt.Errorf("capture configuration invalid: %w", err)
	}
	if c.ReportCfg.Root == "" {
		return fmt.Errorf("report.root is a required configuration field")
	}
	return nil
}

// Validate checks the capture retry settings.
func (c *CaptureConfig) Validate() error {
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be greater than 0")
	}
	if c.ViewportTimeout <= 0 {
		return fmt.Errorf("viewport_timeout must be a positive duration")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be a positive duration")
	}
	if c.PollInterval > c.ViewportTimeout {
		return fmt.Errorf("poll_interval must not exceed viewport_timeout")
	}
	return nil
}
