package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Cache      CacheConfig      `mapstructure:"cache"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Batch      BatchConfig      `mapstructure:"batch"`
	History    HistoryConfig    `mapstructure:"history"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	I18n       I18nConfig       `mapstructure:"i18n"`
}

type APIConfig struct {
	Key              string        `mapstructure:"key"`
	BaseURL          string        `mapstructure:"base_url"`
	Model            string        `mapstructure:"model"`
	Temperature      float64       `mapstructure:"temperature"`
	TopP             float64       `mapstructure:"top_p"`
	PresencePenalty  float64       `mapstructure:"presence_penalty"`
	FrequencyPenalty float64       `mapstructure:"frequency_penalty"`
	Timeout          time.Duration `mapstructure:"timeout"`
	TestMode         bool          `mapstructure:"test_mode"`
}

type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Capacity int           `mapstructure:"capacity"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type RateLimitConfig struct {
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
}

type BatchConfig struct {
	Size    int           `mapstructure:"size"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type HistoryConfig struct {
	SessionID string `mapstructure:"session_id"`
	Autosave  bool   `mapstructure:"autosave"`
}

type StorageConfig struct {
	Type   string       `mapstructure:"type"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Memory MemoryConfig `mapstructure:"memory"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MemoryConfig struct {
	DefaultExpiration time.Duration `mapstructure:"default_expiration"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

type I18nConfig struct {
	DefaultLanguage string   `mapstructure:"default_language"`
	Directory       string   `mapstructure:"directory"`
	Languages       []string `mapstructure:"languages"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	setDefaults()

	// Enable environment variable substitution
	viper.AutomaticEnv()

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Set environment variable overrides
	viper.BindEnv("api.key", "OPENAI_API_KEY")
	viper.BindEnv("api.base_url", "OPENAI_BASE_URL")
	viper.BindEnv("api.model", "OPENAI_MODEL")
	viper.BindEnv("storage.redis.addr", "REDIS_ADDR")
	viper.BindEnv("storage.redis.password", "REDIS_PASSWORD")
	viper.BindEnv("storage.redis.db", "REDIS_DB")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Handle split Redis host/port env vars
	if redisHost := viper.GetString("REDIS_HOST"); redisHost != "" {
		redisPort := viper.GetString("REDIS_PORT")
		if redisPort == "" {
			redisPort = "6379"
		}
		config.Storage.Redis.Addr = fmt.Sprintf("%s:%s", redisHost, redisPort)
	}

	config.API.BaseURL = strings.TrimSuffix(config.API.BaseURL, "/")

	// Validate required fields
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("api.base_url", "https://api.openai.com/v1")
	viper.SetDefault("api.model", "gpt-3.5-turbo")
	viper.SetDefault("api.temperature", 0.7)
	viper.SetDefault("api.top_p", 0.9)
	viper.SetDefault("api.presence_penalty", 0.0)
	viper.SetDefault("api.frequency_penalty", 0.0)
	viper.SetDefault("api.timeout", 120*time.Second)

	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("cache.capacity", 1000)
	viper.SetDefault("cache.ttl", time.Hour)

	viper.SetDefault("rate_limit.max_requests", 60)
	viper.SetDefault("rate_limit.window", 60*time.Second)

	viper.SetDefault("batch.size", 5)
	viper.SetDefault("batch.timeout", time.Second)

	viper.SetDefault("history.session_id", "default")
	viper.SetDefault("history.autosave", true)

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.memory.default_expiration", 24*time.Hour)
	viper.SetDefault("storage.memory.cleanup_interval", time.Hour)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.output", "stderr")

	viper.SetDefault("monitoring.metrics.enabled", false)
	viper.SetDefault("monitoring.metrics.port", 9090)
	viper.SetDefault("monitoring.metrics.path", "/metrics")

	viper.SetDefault("i18n.default_language", "en")
	viper.SetDefault("i18n.directory", "configs/i18n")
	viper.SetDefault("i18n.languages", []string{"en"})
}

func validateConfig(cfg *Config) error {
	if cfg.API.Key == "" && !cfg.API.TestMode {
		return fmt.Errorf("api key is required unless test_mode is enabled")
	}
	if cfg.Cache.Capacity <= 0 {
		return fmt.Errorf("cache capacity must be positive")
	}
	if cfg.RateLimit.MaxRequests <= 0 || cfg.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit max_requests and window must be positive")
	}
	if cfg.Batch.Size <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	switch cfg.Storage.Type {
	case "redis", "memory":
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
	return nil
}
