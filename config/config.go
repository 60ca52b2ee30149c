package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is read when no path is given.
const ConfigPath = "booknest.yaml"

// Record store backends.
const (
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Checkout notifiers.
const (
	NotifierLog   = "log"
	NotifierRedis = "redis"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	DBPath         string `yaml:"dbPath"`
	Store          string `yaml:"store"`
	RedisAddr      string `yaml:"redisAddr"`
	RedisPassword  string `yaml:"redisPassword"`
	RedisKeyPrefix string `yaml:"redisKeyPrefix"`
	Notifier       string `yaml:"notifier"`
	NotifyStream   string `yaml:"notifyStream"`
	LogLevel       string `yaml:"logLevel"`
	LogFormat      string `yaml:"logFormat"`
	PersistRetries int    `yaml:"persistRetries"`
}

// Default is the configuration used when no file exists.
func Default() FileConfig {
	return FileConfig{
		DBPath:         "library.db",
		Store:          StoreSQLite,
		RedisKeyPrefix: "booknest",
		Notifier:       NotifierLog,
		NotifyStream:   "booknest:checkouts",
		LogLevel:       "info",
		LogFormat:      "text",
		PersistRetries: 3,
	}
}

// Load reads config from path (defaults to booknest.yaml). A missing file yields the
// defaults; environment variables override both.
func Load(path string) (FileConfig, error) {
	cfg := Default()
	explicit := path != ""
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	// Override with environment variables
	if v := os.Getenv("BOOKNEST_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("BOOKNEST_STORE"); v != "" {
		cfg.Store = v
	}
	if v := os.Getenv("BOOKNEST_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("BOOKNEST_REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("BOOKNEST_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("BOOKNEST_NOTIFIER"); v != "" {
		cfg.Notifier = v
	}
	if v := os.Getenv("BOOKNEST_PERSIST_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PersistRetries = n
		}
	}

	normalize(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func normalize(cfg *FileConfig) {
	def := Default()
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	cfg.Notifier = strings.ToLower(strings.TrimSpace(cfg.Notifier))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	cfg.RedisAddr = strings.TrimSpace(cfg.RedisAddr)
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = def.DBPath
	}
	if cfg.Store == "" {
		cfg.Store = def.Store
	}
	if cfg.Notifier == "" {
		cfg.Notifier = def.Notifier
	}
	if cfg.RedisKeyPrefix == "" {
		cfg.RedisKeyPrefix = def.RedisKeyPrefix
	}
	if cfg.NotifyStream == "" {
		cfg.NotifyStream = def.NotifyStream
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = def.LogFormat
	}
	if cfg.PersistRetries <= 0 {
		cfg.PersistRetries = def.PersistRetries
	}
}

func validateConfig(cfg FileConfig) error {
	switch cfg.Store {
	case StoreSQLite, StoreRedis, StoreMemory:
	default:
		return fmt.Errorf("config store must be one of sqlite, redis, memory: %q", cfg.Store)
	}
	switch cfg.Notifier {
	case NotifierLog, NotifierRedis:
	default:
		return fmt.Errorf("config notifier must be one of log, redis: %q", cfg.Notifier)
	}
	if (cfg.Store == StoreRedis || cfg.Notifier == NotifierRedis) && cfg.RedisAddr == "" {
		return errors.New("config redisAddr is required for the redis store or notifier")
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return fmt.Errorf("config logFormat must be json or text: %q", cfg.LogFormat)
	}
	return nil
}
