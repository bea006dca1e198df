package config

import (
	"fmt"
	"path/filepath"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface is the read surface handed to components. Mutation stays with the
// CLI layer through the explicit setters.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Capture() CaptureConfig
	Builder() BuilderConfig
	Assets() AssetsConfig
	Service() ServiceConfig
	Store() StoreConfig

	SetBrowserHeadless(bool)
	SetCaptureAutoScroll(bool)
	SetCaptureNavigationTimeout(time.Duration)
	SetAssetsTimeout(time.Duration)
	SetServiceListenAddr(string)
	SetStoreURL(string)
}

// Config holds the whole application configuration behind Interface.
type Config struct {
	logger  LoggerConfig
	browser BrowserConfig
	capture CaptureConfig
	builder BuilderConfig
	assets  AssetsConfig
	service ServiceConfig
	store   StoreConfig
}

func (c *Config) Logger() LoggerConfig   { return c.logger }
func (c *Config) Browser() BrowserConfig { return c.browser }
func (c *Config) Capture() CaptureConfig { return c.capture }
func (c *Config) Builder() BuilderConfig { return c.builder }
func (c *Config) Assets() AssetsConfig   { return c.assets }
func (c *Config) Service() ServiceConfig { return c.service }
func (c *Config) Store() StoreConfig     { return c.store }

func (c *Config) SetBrowserHeadless(b bool)     { c.browser.Headless = b }
func (c *Config) SetCaptureAutoScroll(b bool)   { c.capture.AutoScroll = b }
func (c *Config) SetCaptureNavigationTimeout(d time.Duration) {
	c.capture.NavigationTimeout = d
}
func (c *Config) SetAssetsTimeout(d time.Duration) { c.assets.Timeout = d }
func (c *Config) SetServiceListenAddr(addr string) { c.service.ListenAddr = addr }
func (c *Config) SetStoreURL(url string)           { c.store.URL = url }

// LoggerConfig controls the zap logger construction.
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

// ViewportConfig is the browser viewport used for captures.
type ViewportConfig struct {
	Width  int64 `mapstructure:"width" yaml:"width"`
	Height int64 `mapstructure:"height" yaml:"height"`
}

// BrowserConfig holds settings for the headless browser process.
type BrowserConfig struct {
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Debug           bool           `mapstructure:"debug" yaml:"debug"`
	UserAgent       string         `mapstructure:"user_agent" yaml:"user_agent"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	Viewport        ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
}

// CaptureConfig tunes one capture run.
type CaptureConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	SettleDelay       time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	AutoScroll        bool          `mapstructure:"auto_scroll" yaml:"auto_scroll"`
	ScrollStepDelay   time.Duration `mapstructure:"scroll_step_delay" yaml:"scroll_step_delay"`
	MaxScrollSteps    int           `mapstructure:"max_scroll_steps" yaml:"max_scroll_steps"`
	HarvestAssets     bool          `mapstructure:"harvest_assets" yaml:"harvest_assets"`
}

// BuilderConfig tunes the reconstruction side.
type BuilderConfig struct {
	FontFallbackFamily string `mapstructure:"font_fallback_family" yaml:"font_fallback_family"`
	PrefetchEnabled    bool   `mapstructure:"prefetch_enabled" yaml:"prefetch_enabled"`
	PrefetchWorkers    int    `mapstructure:"prefetch_workers" yaml:"prefetch_workers"`
}

// AssetsConfig bounds build-side asset resolution.
type AssetsConfig struct {
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxSizeBytes  int64         `mapstructure:"max_size_bytes" yaml:"max_size_bytes"`
	MaxConcurrent int64         `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	PerHostRPS    float64       `mapstructure:"per_host_rps" yaml:"per_host_rps"`
	UserAgent     string        `mapstructure:"user_agent" yaml:"user_agent"`
}

// ServiceConfig configures the bridge service and its image proxy.
type ServiceConfig struct {
	ListenAddr        string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	ProxyFetchTimeout time.Duration `mapstructure:"proxy_fetch_timeout" yaml:"proxy_fetch_timeout"`
	ProxyMaxSizeBytes int64         `mapstructure:"proxy_max_size_bytes" yaml:"proxy_max_size_bytes"`
	Transcode         bool          `mapstructure:"transcode" yaml:"transcode"`
}

// StoreConfig points at the capture archive database.
type StoreConfig struct {
	URL         string `mapstructure:"url" yaml:"url"`
	AutoMigrate bool   `mapstructure:"auto_migrate" yaml:"auto_migrate"`
}

// SetDefaults seeds every configuration key with its default value.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "pagelift")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.debug", false)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.viewport.width", 1280)
	v.SetDefault("browser.viewport.height", 800)

	// -- Capture --
	v.SetDefault("capture.navigation_timeout", "45s")
	v.SetDefault("capture.settle_delay", "2s")
	v.SetDefault("capture.auto_scroll", true)
	v.SetDefault("capture.scroll_step_delay", "150ms")
	v.SetDefault("capture.max_scroll_steps", 20)
	v.SetDefault("capture.harvest_assets", true)

	// -- Builder --
	v.SetDefault("builder.font_fallback_family", "Inter")
	v.SetDefault("builder.prefetch_enabled", true)
	v.SetDefault("builder.prefetch_workers", 4)

	// -- Assets --
	v.SetDefault("assets.timeout", "5s")
	v.SetDefault("assets.max_size_bytes", 10*1024*1024)
	v.SetDefault("assets.max_concurrent", 8)
	v.SetDefault("assets.per_host_rps", 0.0)
	v.SetDefault("assets.user_agent", "")

	// -- Service --
	v.SetDefault("service.listen_addr", ":8787")
	v.SetDefault("service.request_timeout", "120s")
	v.SetDefault("service.proxy_fetch_timeout", "10s")
	v.SetDefault("service.proxy_max_size_bytes", 10*1024*1024)
	v.SetDefault("service.transcode", true)

	// -- Store --
	v.SetDefault("store.url", "")
	v.SetDefault("store.auto_migrate", true)
}

// AddConfigSearchPaths registers the file locations viper probes for a
// config.yaml: the working directory, then ~/.pagelift.
func AddConfigSearchPaths(v *viper.Viper) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := homedir.Dir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".pagelift"))
	}
}

// NewConfigFromViper decodes and validates the configuration held by v.
// Decoding runs over the whole key set at once, which is what lets
// environment variables override individual leaves.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Sensitive values come from the environment.
	v.BindEnv("store.url", "PAGELIFT_DATABASE_URL")

	// Viper decodes into the exported mirror; the real fields stay
	// unexported behind Interface.
	var raw struct {
		Logger  LoggerConfig  `mapstructure:"logger"`
		Browser BrowserConfig `mapstructure:"browser"`
		Capture CaptureConfig `mapstructure:"capture"`
		Builder BuilderConfig `mapstructure:"builder"`
		Assets  AssetsConfig  `mapstructure:"assets"`
		Service ServiceConfig `mapstructure:"service"`
		Store   StoreConfig   `mapstructure:"store"`
	}
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg := Config{
		logger:  raw.Logger,
		browser: raw.Browser,
		capture: raw.Capture,
		builder: raw.Builder,
		assets:  raw.Assets,
		service: raw.Service,
		store:   raw.Store,
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// NewDefaultConfig returns a configuration populated with defaults only.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := NewConfigFromViper(v)
	if err != nil {
		panic(fmt.Sprintf("failed to build default config: %v", err))
	}
	return cfg
}

// Validate checks required fields and sane values.
func (c *Config) Validate() error {
	if c.browser.Viewport.Width <= 0 || c.browser.Viewport.Height <= 0 {
		return fmt.Errorf("browser.viewport dimensions must be positive integers")
	}
	if c.capture.NavigationTimeout <= 0 {
		return fmt.Errorf("capture.navigation_timeout must be a positive duration")
	}
	if c.assets.Timeout <= 0 {
		return fmt.Errorf("assets.timeout must be a positive duration")
	}
	if c.assets.MaxSizeBytes <= 0 {
		return fmt.Errorf("assets.max_size_bytes must be positive")
	}
	if c.assets.MaxConcurrent <= 0 {
		return fmt.Errorf("assets.max_concurrent must be a positive integer")
	}
	if c.assets.PerHostRPS < 0 {
		return fmt.Errorf("assets.per_host_rps must not be negative")
	}
	if c.builder.PrefetchEnabled && c.builder.PrefetchWorkers <= 0 {
		return fmt.Errorf("builder.prefetch_workers must be a positive integer")
	}
	if c.service.ProxyFetchTimeout <= 0 {
		return fmt.Errorf("service.proxy_fetch_timeout must be a positive duration")
	}
	if c.service.ProxyMaxSizeBytes <= 0 {
		return fmt.Errorf("service.proxy_max_size_bytes must be positive")
	}
	return nil
}
