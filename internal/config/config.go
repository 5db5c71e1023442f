package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port         int           `mapstructure:"port"`
	MasterSecret string        `mapstructure:"master_secret"`
	GinMode      string        `mapstructure:"gin_mode"`
	TLSCertFile  string        `mapstructure:"tls_cert_file"`
	TLSKeyFile   string        `mapstructure:"tls_key_file"`
	TokenExpiry  time.Duration `mapstructure:"token_expiry"`
	LogLevel     string        `mapstructure:"log_level"`

	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	NATS      NATSConfig      `mapstructure:"nats"`
	AI        AIConfig        `mapstructure:"ai"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// DatabaseConfig selects the record store. An empty URL keeps records in
// process memory.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// RedisConfig selects the cache backend: empty Addr disables caching,
// "memory" uses an in-process backend, anything else is a Redis address.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	Subject       string        `mapstructure:"subject"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

type AIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type RateLimitConfig struct {
	AIRequests int           `mapstructure:"ai_requests"`
	AIWindow   time.Duration `mapstructure:"ai_window"`
}

const MemoryCacheAddr = "memory"

type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

func Defaults() Config {
	return Config{
		Port:        3000,
		GinMode:     "release",
		TokenExpiry: 7 * 24 * time.Hour,
		LogLevel:    "info",
		Database:    DatabaseConfig{MaxConns: 10},
		Redis:       RedisConfig{PoolSize: 10},
		NATS: NATSConfig{
			Subject:       "chat.cache.version",
			MaxReconnects: 10,
			ReconnectWait: 2 * time.Second,
		},
		AI: AIConfig{
			Model:   "gpt-4o-mini",
			Timeout: 30 * time.Second,
		},
		RateLimit: RateLimitConfig{AIRequests: 20, AIWindow: time.Minute},
	}
}

func LoadConfigFromEnv(env Env) (Config, error) {
	return applyEnv(Defaults(), env)
}

// Load reads an optional YAML file and then applies environment overrides.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, osEnv{})
}

func LoadWithEnv(path string, env Env) (Config, error) {
	cfg := Defaults()
	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := v.Unmarshal(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config %s: %w", path, err)
		}
	}
	return applyEnv(cfg, env)
}

func applyEnv(cfg Config, env Env) (Config, error) {
	if raw := env.Getenv("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PORT")
		}
		cfg.Port = port
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("invalid PORT")
	}

	if raw := env.Getenv("MASTER_SECRET"); raw != "" {
		cfg.MasterSecret = raw
	}
	if cfg.MasterSecret == "" {
		return Config{}, fmt.Errorf("MASTER_SECRET is required")
	}

	if raw := env.Getenv("GIN_MODE"); raw != "" {
		cfg.GinMode = raw
	}
	if raw := env.Getenv("TLS_CERT_FILE"); raw != "" {
		cfg.TLSCertFile = raw
	}
	if raw := env.Getenv("TLS_KEY_FILE"); raw != "" {
		cfg.TLSKeyFile = raw
	}

	if raw := env.Getenv("TOKEN_EXPIRY_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return Config{}, fmt.Errorf("invalid TOKEN_EXPIRY_SECONDS")
		}
		cfg.TokenExpiry = time.Duration(seconds) * time.Second
	}

	if raw := env.Getenv("LOG_LEVEL"); raw != "" {
		cfg.LogLevel = strings.ToLower(raw)
	}
	if raw := env.Getenv("DATABASE_URL"); raw != "" {
		cfg.Database.URL = raw
	}
	if raw := env.Getenv("REDIS_ADDR"); raw != "" {
		cfg.Redis.Addr = raw
	}
	if raw := env.Getenv("REDIS_PASSWORD"); raw != "" {
		cfg.Redis.Password = raw
	}
	if raw := env.Getenv("REDIS_DB"); raw != "" {
		db, err := strconv.Atoi(raw)
		if err != nil || db < 0 {
			return Config{}, fmt.Errorf("invalid REDIS_DB")
		}
		cfg.Redis.DB = db
	}
	if raw := env.Getenv("NATS_URL"); raw != "" {
		cfg.NATS.URL = raw
	}
	if raw := env.Getenv("AI_BASE_URL"); raw != "" {
		cfg.AI.BaseURL = strings.TrimRight(raw, "/")
	}
	if raw := env.Getenv("AI_API_KEY"); raw != "" {
		cfg.AI.APIKey = raw
	}
	if raw := env.Getenv("AI_MODEL"); raw != "" {
		cfg.AI.Model = raw
	}
	if raw := env.Getenv("AI_TIMEOUT_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return Config{}, fmt.Errorf("invalid AI_TIMEOUT_SECONDS")
		}
		cfg.AI.Timeout = time.Duration(seconds) * time.Second
	}

	if cfg.RateLimit.AIRequests <= 0 || cfg.RateLimit.AIWindow <= 0 {
		return Config{}, fmt.Errorf("invalid rate_limit")
	}

	return cfg, nil
}
