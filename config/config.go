package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server       ServerConfig        `mapstructure:"server"`
	Search       SearchConfig        `mapstructure:"search"`
	Marketplaces []MarketplaceConfig `mapstructure:"marketplaces"`
	Cache        CacheConfig         `mapstructure:"cache"`
	Device       DeviceConfig        `mapstructure:"device"`
	Perception   PerceptionConfig    `mapstructure:"perception"`
	Matching     MatchingConfig      `mapstructure:"matching"`
	Exploration  ExplorationConfig   `mapstructure:"exploration"`
	Cart         CartConfig          `mapstructure:"cart"`
	Capture      CaptureConfig       `mapstructure:"capture"`
	Log          LogConfig           `mapstructure:"log"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	Environment    string   `mapstructure:"environment"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// SearchConfig holds Serper search API configuration
type SearchConfig struct {
	APIKey              string        `mapstructure:"api_key"`
	BaseURL             string        `mapstructure:"base_url"`
	Country             string        `mapstructure:"country"`
	Language            string        `mapstructure:"language"`
	PerMarketplaceLimit int           `mapstructure:"per_marketplace_limit"`
	MaxParallel         int           `mapstructure:"max_parallel"`
	Timeout             time.Duration `mapstructure:"timeout"`
	Rate                float64       `mapstructure:"rate"`
	Burst               int           `mapstructure:"burst"`
	MaxRetries          int           `mapstructure:"max_retries"`
}

// MarketplaceConfig is one storefront searched per hunt
type MarketplaceConfig struct {
	Name   string `mapstructure:"name"`
	Domain string `mapstructure:"domain"`
}

// CacheConfig holds cache-related configuration
type CacheConfig struct {
	Type     string        `mapstructure:"type"` // "memory" or "redis"
	RedisURL string        `mapstructure:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// DeviceConfig selects and tunes the device driver
type DeviceConfig struct {
	Driver        string        `mapstructure:"driver"` // "adb" or "chrome"
	ADBPath       string        `mapstructure:"adb_path"`
	Serial        string        `mapstructure:"serial"`
	Browser       string        `mapstructure:"browser"`
	SettleDelay   time.Duration `mapstructure:"settle_delay"`
	SwipeDuration time.Duration `mapstructure:"swipe_duration"`
	Chrome        ChromeConfig  `mapstructure:"chrome"`
}

// ChromeConfig describes the emulated phone for the chrome driver
type ChromeConfig struct {
	Headless  bool    `mapstructure:"headless"`
	ExecPath  string  `mapstructure:"exec_path"`
	UserAgent string  `mapstructure:"user_agent"`
	Width     int     `mapstructure:"width"`
	Height    int     `mapstructure:"height"`
	Scale     float64 `mapstructure:"scale"`
}

// PerceptionConfig holds Gemini vision configuration
type PerceptionConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Rate    float64       `mapstructure:"rate"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// MatchingConfig tunes product title matching
type MatchingConfig struct {
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	EnableFuzzy         bool    `mapstructure:"enable_fuzzy"`
	FuzzyEditDistance   int     `mapstructure:"fuzzy_edit_distance"`
}

// ExplorationConfig bounds one hunt session
type ExplorationConfig struct {
	MaxSteps          int           `mapstructure:"max_steps"`
	MaxDuration       time.Duration `mapstructure:"max_duration"`
	MaxFailures       int           `mapstructure:"max_failures"`
	MaxScrollsPerPage int           `mapstructure:"max_scrolls_per_page"`
	ScrollAmount      int           `mapstructure:"scroll_amount"`
	StepTimeout       time.Duration `mapstructure:"step_timeout"`
	DeviceRetries     int           `mapstructure:"device_retries"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	TrustPriceHints   bool          `mapstructure:"trust_price_hints"`
	Currency          string        `mapstructure:"currency"`
}

// CartConfig controls the final add-to-cart action
type CartConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	Attempts      int  `mapstructure:"attempts"`
	SearchScrolls int  `mapstructure:"search_scrolls"`
}

// CaptureConfig holds where screenshots live during a session
type CaptureConfig struct {
	Dir string `mapstructure:"dir"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load loads configuration from a .env file, config files and environment variables
func Load() (*Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, err
	}

	v := viper.New()

	// Set config name and paths
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/pricelens/")

	// Environment variable settings
	v.SetEnvPrefix("PRICELENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// API keys are commonly exported under their provider names
	_ = v.BindEnv("search.api_key", "PRICELENS_SEARCH_API_KEY", "SERPER_API_KEY")
	_ = v.BindEnv("perception.api_key", "PRICELENS_PERCEPTION_API_KEY", "GEMINI_API_KEY")

	setDefaults(v)

	// Read config file (optional - will use env vars if file doesn't exist)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// loadEnvFile loads ./.env into the process environment without overriding
// variables that are already set. A missing file is not an error.
func loadEnvFile() error {
	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("error reading .env file: %w", err)
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	// Search defaults
	v.SetDefault("search.api_key", "")
	v.SetDefault("search.base_url", "https://google.serper.dev")
	v.SetDefault("search.country", "in")
	v.SetDefault("search.language", "en")
	v.SetDefault("search.per_marketplace_limit", 25)
	v.SetDefault("search.max_parallel", 3)
	v.SetDefault("search.timeout", "15s")
	v.SetDefault("search.rate", 5.0)
	v.SetDefault("search.burst", 5)
	v.SetDefault("search.max_retries", 3)

	v.SetDefault("marketplaces", []map[string]any{
		{"name": "flipkart", "domain": "flipkart.com"},
		{"name": "amazon", "domain": "amazon.in"},
		{"name": "myntra", "domain": "myntra.com"},
	})

	// Cache defaults
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.ttl", "6h")

	// Device defaults
	v.SetDefault("device.driver", "adb")
	v.SetDefault("device.adb_path", "adb")
	v.SetDefault("device.serial", "")
	v.SetDefault("device.browser", "com.android.chrome")
	v.SetDefault("device.settle_delay", "1500ms")
	v.SetDefault("device.swipe_duration", "300ms")
	v.SetDefault("device.chrome.headless", true)
	v.SetDefault("device.chrome.exec_path", "")
	v.SetDefault("device.chrome.user_agent", "")
	v.SetDefault("device.chrome.width", 412)
	v.SetDefault("device.chrome.height", 915)
	v.SetDefault("device.chrome.scale", 2.625)

	// Perception defaults
	v.SetDefault("perception.api_key", "")
	v.SetDefault("perception.model", "gemini-2.5-flash")
	v.SetDefault("perception.rate", 1.0)
	v.SetDefault("perception.timeout", "45s")

	// Matching defaults
	v.SetDefault("matching.similarity_threshold", 0.8)
	v.SetDefault("matching.enable_fuzzy", true)
	v.SetDefault("matching.fuzzy_edit_distance", 2)

	// Exploration defaults
	v.SetDefault("exploration.max_steps", 60)
	v.SetDefault("exploration.max_duration", "10m")
	v.SetDefault("exploration.max_failures", 8)
	v.SetDefault("exploration.max_scrolls_per_page", 4)
	v.SetDefault("exploration.scroll_amount", 1)
	v.SetDefault("exploration.step_timeout", "60s")
	v.SetDefault("exploration.device_retries", 2)
	v.SetDefault("exploration.retry_delay", "1s")
	v.SetDefault("exploration.trust_price_hints", true)
	v.SetDefault("exploration.currency", "INR")

	// Cart defaults
	v.SetDefault("cart.enabled", true)
	v.SetDefault("cart.attempts", 2)
	v.SetDefault("cart.search_scrolls", 3)

	v.SetDefault("capture.dir", "")
	v.SetDefault("log.level", "")
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Search.APIKey == "" {
		return errors.New("search API key is required (set SERPER_API_KEY or PRICELENS_SEARCH_API_KEY)")
	}

	if config.Perception.APIKey == "" {
		return errors.New("perception API key is required (set GEMINI_API_KEY or PRICELENS_PERCEPTION_API_KEY)")
	}

	if len(config.Marketplaces) == 0 {
		return errors.New("at least one marketplace is required")
	}
	for i, mk := range config.Marketplaces {
		if mk.Name == "" || mk.Domain == "" {
			return fmt.Errorf("marketplace %d needs a name and a domain", i)
		}
	}

	if config.Cache.Type != "memory" && config.Cache.Type != "redis" {
		return fmt.Errorf("cache type must be 'memory' or 'redis', got: %s", config.Cache.Type)
	}

	if config.Cache.Type == "redis" && config.Cache.RedisURL == "" {
		return errors.New("redis URL is required when cache type is 'redis'")
	}

	if config.Device.Driver != "adb" && config.Device.Driver != "chrome" {
		return fmt.Errorf("device driver must be 'adb' or 'chrome', got: %s", config.Device.Driver)
	}

	if t := config.Matching.SimilarityThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("matching similarity threshold must be in (0, 1], got: %v", t)
	}

	if config.Exploration.MaxSteps <= 0 {
		return errors.New("exploration max steps must be positive")
	}

	if config.Exploration.MaxDuration <= 0 {
		return errors.New("exploration max duration must be positive")
	}

	return nil
}
