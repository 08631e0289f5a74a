package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the adaptive trend core.
type Config struct {
	ServerConfig       ServerConfig       `json:"server" yaml:"server"`
	AuthConfig         AuthConfig         `json:"auth" yaml:"auth"`
	DatabaseConfig     DatabaseConfig     `json:"database" yaml:"database"`
	RedisConfig        RedisConfig        `json:"redis" yaml:"redis"`
	VaultConfig        VaultConfig        `json:"vault" yaml:"vault"`
	KafkaConfig        KafkaConfig        `json:"kafka" yaml:"kafka"`
	EngineConfig       EngineConfig       `json:"engine" yaml:"engine"`
	MiningConfig       MiningConfig       `json:"mining" yaml:"mining"`
	ThresholdConfig    ThresholdConfig    `json:"thresholds" yaml:"thresholds"`
	PostureConfig      PostureConfig      `json:"posture" yaml:"posture"`
	NotificationConfig NotificationConfig `json:"notification" yaml:"notification"`
	LoggingConfig      LoggingConfig      `json:"logging" yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int    `json:"port" yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
	Host            string `json:"host" yaml:"host" default:"0.0.0.0"`
	AllowedOrigins  string `json:"allowed_origins" yaml:"allowed_origins" default:"*"`
	ReadTimeout     int    `json:"read_timeout" yaml:"read_timeout" default:"30"`   // Seconds
	WriteTimeout    int    `json:"write_timeout" yaml:"write_timeout" default:"30"` // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout" yaml:"shutdown_timeout" default:"10"`
}

// AuthConfig holds authentication configuration for the ops API
type AuthConfig struct {
	Enabled              bool          `json:"enabled" yaml:"enabled"`
	JWTSecret            string        `json:"jwt_secret" yaml:"jwt_secret"`
	AccessTokenDuration  time.Duration `json:"access_token_duration" yaml:"access_token_duration" default:"15m"`
	RefreshTokenDuration time.Duration `json:"refresh_token_duration" yaml:"refresh_token_duration" default:"168h"`
	AdminUser            string        `json:"admin_user" yaml:"admin_user" default:"admin"`
	AdminPasswordHash    string        `json:"admin_password_hash" yaml:"admin_password_hash"` // bcrypt hash
}

// DatabaseConfig holds Postgres connection configuration
type DatabaseConfig struct {
	Host     string `json:"host" yaml:"host" default:"localhost"`
	Port     int    `json:"port" yaml:"port" default:"5432" validate:"gte=1,lte=65535"`
	User     string `json:"user" yaml:"user" default:"lotus"`
	Password string `json:"password" yaml:"password"`
	Database string `json:"database" yaml:"database" default:"lotus_trader"`
	SSLMode  string `json:"ssl_mode" yaml:"ssl_mode" default:"disable"`
	MaxConns int    `json:"max_conns" yaml:"max_conns" default:"25"`
}

// RedisConfig holds Redis configuration for engine-state persistence
type RedisConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Address  string `json:"address" yaml:"address" default:"localhost:6379"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	PoolSize int    `json:"pool_size" yaml:"pool_size" default:"10"`
}

// VaultConfig holds HashiCorp Vault configuration for secret resolution
type VaultConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Address    string `json:"address" yaml:"address" default:"http://localhost:8200"`
	Token      string `json:"token" yaml:"token"`
	MountPath  string `json:"mount_path" yaml:"mount_path" default:"secret"`
	SecretPath string `json:"secret_path" yaml:"secret_path" default:"lotus-trader/core"`
	TLSEnabled bool   `json:"tls_enabled" yaml:"tls_enabled"`
	CACert     string `json:"ca_cert" yaml:"ca_cert"`
}

// KafkaConfig holds bar-feed consumer configuration
type KafkaConfig struct {
	Enabled  bool     `json:"enabled" yaml:"enabled"`
	Brokers  []string `json:"brokers" yaml:"brokers"`
	Topic    string   `json:"topic" yaml:"topic" default:"lotus.bars"`
	GroupID  string   `json:"group_id" yaml:"group_id" default:"lotus-trend-core"`
	MinBytes int      `json:"min_bytes" yaml:"min_bytes" default:"1"`
	MaxBytes int      `json:"max_bytes" yaml:"max_bytes" default:"10485760"` // 10MB
}

// EngineConfig holds trend state machine configuration
type EngineConfig struct {
	FastPeriod        int     `json:"fast_period" yaml:"fast_period" default:"8" validate:"gte=2"`
	MidPeriod         int     `json:"mid_period" yaml:"mid_period" default:"21" validate:"gte=2"`
	SlowPeriod        int     `json:"slow_period" yaml:"slow_period" default:"55" validate:"gte=2"`
	LongPeriod        int     `json:"long_period" yaml:"long_period" default:"200" validate:"gte=2"`
	SlopeLookback     int     `json:"slope_lookback" yaml:"slope_lookback" default:"3" validate:"gte=1"`
	BarWindowSize     int     `json:"bar_window_size" yaml:"bar_window_size" default:"512" validate:"gte=32"`
	ResolveHorizon    int     `json:"resolve_horizon_bars" yaml:"resolve_horizon_bars" default:"8" validate:"gte=1"`
	ResolveMovePct    float64 `json:"resolve_move_pct" yaml:"resolve_move_pct" default:"0.01" validate:"gt=0"`
	SupportTolerance  float64 `json:"support_tolerance" yaml:"support_tolerance" default:"0.01" validate:"gt=0"`
	SupportBoost      float64 `json:"support_boost" yaml:"support_boost" default:"0.1" validate:"gte=0"`
	PersistStateRedis bool    `json:"persist_state_redis" yaml:"persist_state_redis" default:"true"`
}

// MiningConfig holds lesson miner and override materializer configuration
type MiningConfig struct {
	Interval               time.Duration `json:"interval" yaml:"interval" default:"1h"`
	Lookback               time.Duration `json:"lookback" yaml:"lookback" default:"720h"` // 30 days
	MinSampleTrades        int           `json:"min_sample_trades" yaml:"min_sample_trades" default:"33" validate:"gte=1"`
	LearningRate           float64       `json:"learning_rate" yaml:"learning_rate" default:"0.005" validate:"gt=0"`
	ActivationFloor        float64       `json:"activation_floor" yaml:"activation_floor" default:"0.05" validate:"gte=0"`
	NoopGuard              float64       `json:"noop_guard" yaml:"noop_guard" default:"0.01" validate:"gte=0"`
	ReliabilityPrior       float64       `json:"reliability_prior" yaml:"reliability_prior" default:"20" validate:"gt=0"`
	VariancePrior          float64       `json:"variance_prior" yaml:"variance_prior" default:"0.25" validate:"gte=0"`
	VariancePriorObs       float64       `json:"variance_prior_obs" yaml:"variance_prior_obs" default:"5" validate:"gt=0"`
	DecayHalfLife          time.Duration `json:"decay_half_life" yaml:"decay_half_life" default:"336h"`
	DriftClampMin          float64       `json:"drift_clamp_min" yaml:"drift_clamp_min" default:"0.5"`
	DriftClampMax          float64       `json:"drift_clamp_max" yaml:"drift_clamp_max" default:"2.0"`
	StrengthClampMin       float64       `json:"strength_clamp_min" yaml:"strength_clamp_min" default:"0.3"`
	StrengthClampMax       float64       `json:"strength_clamp_max" yaml:"strength_clamp_max" default:"3.0"`
	EpisodeResolveInterval time.Duration `json:"episode_resolve_interval" yaml:"episode_resolve_interval" default:"5m"`
}

// ThresholdConfig holds threshold cache configuration
type ThresholdConfig struct {
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl" default:"5m"`
}

// DriverConfig describes one macro posture driver.
type DriverConfig struct {
	Name    string  `json:"name" yaml:"name"`
	Weight  float64 `json:"weight" yaml:"weight" validate:"gte=0,lte=1"`
	Inverse bool    `json:"inverse" yaml:"inverse"`
}

// PostureConfig holds regime-to-posture calculator configuration
type PostureConfig struct {
	Drivers         []DriverConfig `json:"drivers" yaml:"drivers"`
	StrengthGain    float64        `json:"strength_gain" yaml:"strength_gain" default:"0.5" validate:"gte=0"`
	StrengthCap     float64        `json:"strength_cap" yaml:"strength_cap" default:"0.25" validate:"gte=0"`
	EmergencyFactor float64        `json:"emergency_factor" yaml:"emergency_factor" default:"2.0" validate:"gte=1"`
	StrengthRefresh time.Duration  `json:"strength_refresh" yaml:"strength_refresh" default:"5m"`
}

// NotificationConfig holds notifier configuration
type NotificationConfig struct {
	Enabled  bool           `json:"enabled" yaml:"enabled"`
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	Discord  DiscordConfig  `json:"discord" yaml:"discord"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	BotToken string `json:"bot_token" yaml:"bot_token"`
	ChatID   string `json:"chat_id" yaml:"chat_id"`
}

type DiscordConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	WebhookURL string `json:"webhook_url" yaml:"webhook_url"`
}

type LoggingConfig struct {
	Level   string `json:"level" yaml:"level" default:"info" validate:"oneof=trace debug info warn error"`
	Console bool   `json:"console" yaml:"console"` // Pretty console output instead of JSON
}

// DefaultDrivers returns the built-in macro driver set used when none are configured.
func DefaultDrivers() []DriverConfig {
	return []DriverConfig{
		{Name: "btc_trend", Weight: 0.15},
		{Name: "eth_trend", Weight: 0.10},
		{Name: "btc_dominance", Weight: 0.12, Inverse: true},
		{Name: "stable_flow", Weight: 0.08, Inverse: true},
	}
}

// Load builds the configuration: .env file, struct defaults, optional YAML
// file (LOTUS_CONFIG or ./config.yaml), then environment overrides, then
// validation. Environment variables always win.
func Load() (*Config, error) {
	// .env is optional; ignore a missing file
	_ = godotenv.Load()

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}

	path := os.Getenv("LOTUS_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if len(cfg.PostureConfig.Drivers) == 0 {
		cfg.PostureConfig.Drivers = DefaultDrivers()
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Credentials may additionally be replaced from Vault after loading; see
// internal/vault.
func applyEnvOverrides(cfg *Config) {
	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)
	cfg.ServerConfig.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", cfg.ServerConfig.ReadTimeout)
	cfg.ServerConfig.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", cfg.ServerConfig.WriteTimeout)
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", cfg.ServerConfig.ShutdownTimeout)

	// Auth config
	if v := os.Getenv("AUTH_ENABLED"); v != "" {
		cfg.AuthConfig.Enabled = v == "true"
	}
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.AccessTokenDuration = getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_DURATION", cfg.AuthConfig.AccessTokenDuration)
	cfg.AuthConfig.RefreshTokenDuration = getEnvDurationOrDefault("AUTH_REFRESH_TOKEN_DURATION", cfg.AuthConfig.RefreshTokenDuration)
	cfg.AuthConfig.AdminUser = getEnvOrDefault("AUTH_ADMIN_USER", cfg.AuthConfig.AdminUser)
	cfg.AuthConfig.AdminPasswordHash = getEnvOrDefault("AUTH_ADMIN_PASSWORD_HASH", cfg.AuthConfig.AdminPasswordHash)

	// Database config
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)
	cfg.DatabaseConfig.MaxConns = getEnvIntOrDefault("DB_MAX_CONNS", cfg.DatabaseConfig.MaxConns)

	// Redis config
	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		cfg.RedisConfig.Enabled = v == "true"
	}
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", cfg.RedisConfig.PoolSize)

	// Vault config
	if v := os.Getenv("VAULT_ENABLED"); v != "" {
		cfg.VaultConfig.Enabled = v == "true"
	}
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.VaultConfig.MountPath)
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.VaultConfig.SecretPath)
	if v := os.Getenv("VAULT_TLS_ENABLED"); v != "" {
		cfg.VaultConfig.TLSEnabled = v == "true"
	}
	cfg.VaultConfig.CACert = getEnvOrDefault("VAULT_CACERT", cfg.VaultConfig.CACert)

	// Kafka config
	if v := os.Getenv("KAFKA_ENABLED"); v != "" {
		cfg.KafkaConfig.Enabled = v == "true"
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaConfig.Brokers = splitAndTrim(v)
	}
	cfg.KafkaConfig.Topic = getEnvOrDefault("KAFKA_BARS_TOPIC", cfg.KafkaConfig.Topic)
	cfg.KafkaConfig.GroupID = getEnvOrDefault("KAFKA_GROUP_ID", cfg.KafkaConfig.GroupID)

	// Engine config
	cfg.EngineConfig.FastPeriod = getEnvIntOrDefault("ENGINE_FAST_PERIOD", cfg.EngineConfig.FastPeriod)
	cfg.EngineConfig.MidPeriod = getEnvIntOrDefault("ENGINE_MID_PERIOD", cfg.EngineConfig.MidPeriod)
	cfg.EngineConfig.SlowPeriod = getEnvIntOrDefault("ENGINE_SLOW_PERIOD", cfg.EngineConfig.SlowPeriod)
	cfg.EngineConfig.LongPeriod = getEnvIntOrDefault("ENGINE_LONG_PERIOD", cfg.EngineConfig.LongPeriod)
	cfg.EngineConfig.ResolveHorizon = getEnvIntOrDefault("ENGINE_RESOLVE_HORIZON_BARS", cfg.EngineConfig.ResolveHorizon)
	cfg.EngineConfig.ResolveMovePct = getEnvFloatOrDefault("ENGINE_RESOLVE_MOVE_PCT", cfg.EngineConfig.ResolveMovePct)
	if v := os.Getenv("ENGINE_PERSIST_STATE_REDIS"); v != "" {
		cfg.EngineConfig.PersistStateRedis = v == "true"
	}

	// Mining config
	cfg.MiningConfig.Interval = getEnvDurationOrDefault("MINING_INTERVAL", cfg.MiningConfig.Interval)
	cfg.MiningConfig.Lookback = getEnvDurationOrDefault("MINING_LOOKBACK", cfg.MiningConfig.Lookback)
	cfg.MiningConfig.MinSampleTrades = getEnvIntOrDefault("MINING_MIN_SAMPLE_TRADES", cfg.MiningConfig.MinSampleTrades)
	cfg.MiningConfig.LearningRate = getEnvFloatOrDefault("MINING_LEARNING_RATE", cfg.MiningConfig.LearningRate)
	cfg.MiningConfig.ActivationFloor = getEnvFloatOrDefault("MINING_ACTIVATION_FLOOR", cfg.MiningConfig.ActivationFloor)
	cfg.MiningConfig.NoopGuard = getEnvFloatOrDefault("MINING_NOOP_GUARD", cfg.MiningConfig.NoopGuard)
	cfg.MiningConfig.DecayHalfLife = getEnvDurationOrDefault("MINING_DECAY_HALF_LIFE", cfg.MiningConfig.DecayHalfLife)

	// Threshold cache config
	cfg.ThresholdConfig.CacheTTL = getEnvDurationOrDefault("THRESHOLD_CACHE_TTL", cfg.ThresholdConfig.CacheTTL)

	// Posture config
	cfg.PostureConfig.StrengthGain = getEnvFloatOrDefault("POSTURE_STRENGTH_GAIN", cfg.PostureConfig.StrengthGain)
	cfg.PostureConfig.StrengthCap = getEnvFloatOrDefault("POSTURE_STRENGTH_CAP", cfg.PostureConfig.StrengthCap)
	cfg.PostureConfig.EmergencyFactor = getEnvFloatOrDefault("POSTURE_EMERGENCY_FACTOR", cfg.PostureConfig.EmergencyFactor)
	cfg.PostureConfig.StrengthRefresh = getEnvDurationOrDefault("POSTURE_STRENGTH_REFRESH", cfg.PostureConfig.StrengthRefresh)

	// Notification config
	if v := os.Getenv("NOTIFICATIONS_ENABLED"); v != "" {
		cfg.NotificationConfig.Enabled = v == "true"
	}
	if v := os.Getenv("TELEGRAM_ENABLED"); v != "" {
		cfg.NotificationConfig.Telegram.Enabled = v == "true"
	}
	cfg.NotificationConfig.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.NotificationConfig.Telegram.BotToken)
	cfg.NotificationConfig.Telegram.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.NotificationConfig.Telegram.ChatID)
	if v := os.Getenv("DISCORD_ENABLED"); v != "" {
		cfg.NotificationConfig.Discord.Enabled = v == "true"
	}
	cfg.NotificationConfig.Discord.WebhookURL = getEnvOrDefault("DISCORD_WEBHOOK_URL", cfg.NotificationConfig.Discord.WebhookURL)

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	if v := os.Getenv("LOG_CONSOLE"); v != "" {
		cfg.LoggingConfig.Console = v == "true"
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
