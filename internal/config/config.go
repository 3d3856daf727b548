// Package config loads process-level orchestrator settings: state store
// backend selection, external service addresses, default concurrency,
// retention, HTTP listen address, and logging level/format. This is
// distinct from a pipeline document (pkg/pipeline), which describes one
// DAG, not the process running it.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// StorageConfig selects and configures the state store backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"` // "file" or "postgres"

	FilePath string `mapstructure:"file_path"`

	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`

	// MigrationsPath points at the golang-migrate source directory used by
	// the postgres backend's "migrate" subcommand.
	MigrationsPath string `mapstructure:"migrations_path"`
}

// SchedulerConfig configures the cron scheduler.
type SchedulerConfig struct {
	DefaultTimezone      string        `mapstructure:"default_timezone"`
	HousekeepingInterval time.Duration `mapstructure:"housekeeping_interval"`
	RetentionDays        int           `mapstructure:"retention_days"`
}

// ExecutorConfig configures the pipeline executor's baseline limits.
type ExecutorConfig struct {
	DefaultConcurrency int           `mapstructure:"default_concurrency"`
	DefaultTaskTimeout time.Duration `mapstructure:"default_task_timeout"`

	// EnableShellPlugin opts into registering the shell plugin, which runs
	// arbitrary commands from pipeline config. Off by default.
	EnableShellPlugin bool `mapstructure:"enable_shell_plugin"`

	// DLQThreshold is the number of dead-lettered task executions that
	// triggers a notifier.EventDLQThresholdReached event. Zero disables
	// the threshold alert; entries are still recorded.
	DLQThreshold int `mapstructure:"dlq_threshold"`
}

// ServerConfig configures the HTTP status/trigger API.
type ServerConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
	JWTSecret  string `mapstructure:"jwt_secret"`
}

// RedisConfig configures the optional Redis client shared by the
// scheduler's distributed lock and the notifier's redis sink.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig configures the optional NATS client used by the notifier's
// JetStream sink.
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// LoggingConfig selects the process-wide log level, format, and optional
// file destination. Mirrors internal/logging.Config field-for-field so
// Load's result can be handed straight to logging.New.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// Config is the fully resolved process configuration.
type Config struct {
	Storage   StorageConfig   `mapstructure:"storage"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// EnvPrefix is prepended to every environment variable name viper binds,
// e.g. ORCH_STORAGE_BACKEND overrides storage.backend.
const EnvPrefix = "ORCH"

func defaults() Config {
	return Config{
		Storage: StorageConfig{
			Backend:        "file",
			FilePath:       "orchestrator.json",
			Host:           "localhost",
			Port:           "5432",
			User:           "pipeworks",
			DBName:         "pipeworks",
			SSLMode:        "disable",
			MigrationsPath: "migrations",
		},
		Scheduler: SchedulerConfig{
			DefaultTimezone:      "UTC",
			HousekeepingInterval: 24 * time.Hour,
			RetentionDays:        30,
		},
		Executor: ExecutorConfig{
			DefaultConcurrency: 5,
			DefaultTaskTimeout: 5 * time.Minute,
			EnableShellPlugin:  false,
			DLQThreshold:       10,
		},
		Server: ServerConfig{
			Enabled:    false,
			ListenAddr: ":8080",
		},
		NATS: NATSConfig{
			Subject: "pipeworks.events",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load resolves a Config from, in ascending priority: built-in defaults,
// an optional YAML/JSON config file, an optional .env file, and process
// environment variables prefixed ORCH_.
func Load(configFile, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("loading env file %s: %w", envFile, err)
		}
	}

	v := viper.New()
	def := defaults()
	v.SetConfigType("yaml")
	if err := v.MergeConfigMap(structToMap(def)); err != nil {
		return nil, fmt.Errorf("seeding config defaults: %w", err)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configFile, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v, def)

	cfg := defaults()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects a Config with an unrecognized storage backend or a
// non-positive concurrency limit.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "file", "postgres":
	default:
		return fmt.Errorf("config: unknown storage.backend %q, want \"file\" or \"postgres\"", c.Storage.Backend)
	}
	if c.Executor.DefaultConcurrency <= 0 {
		return fmt.Errorf("config: executor.default_concurrency must be positive, got %d", c.Executor.DefaultConcurrency)
	}
	return nil
}

// bindEnv registers every leaf key in def with viper so AutomaticEnv
// picks up ORCH_-prefixed overrides during Unmarshal, not just Get —
// viper only resolves env vars against keys it already knows about.
func bindEnv(v *viper.Viper, def Config) {
	for _, key := range flattenKeys("", structToMap(def)) {
		v.BindEnv(key)
	}
}

func flattenKeys(prefix string, m map[string]interface{}) []string {
	var keys []string
	for k, val := range m {
		full := k
		if prefix != "" {
			full = prefix + "." + k
		}
		if nested, ok := val.(map[string]interface{}); ok {
			keys = append(keys, flattenKeys(full, nested)...)
			continue
		}
		keys = append(keys, full)
	}
	return keys
}

// structToMap flattens Config into viper's dotted-key map form using its
// mapstructure tags, so defaults() can seed viper the same way a parsed
// config file would.
func structToMap(cfg Config) map[string]interface{} {
	return map[string]interface{}{
		"storage": map[string]interface{}{
			"backend":   cfg.Storage.Backend,
			"file_path": cfg.Storage.FilePath,
			"host":      cfg.Storage.Host,
			"port":      cfg.Storage.Port,
			"user":      cfg.Storage.User,
			"password":  cfg.Storage.Password,
			"dbname":          cfg.Storage.DBName,
			"sslmode":         cfg.Storage.SSLMode,
			"migrations_path": cfg.Storage.MigrationsPath,
		},
		"scheduler": map[string]interface{}{
			"default_timezone":      cfg.Scheduler.DefaultTimezone,
			"housekeeping_interval": cfg.Scheduler.HousekeepingInterval,
			"retention_days":        cfg.Scheduler.RetentionDays,
		},
		"executor": map[string]interface{}{
			"default_concurrency":  cfg.Executor.DefaultConcurrency,
			"default_task_timeout": cfg.Executor.DefaultTaskTimeout,
			"enable_shell_plugin":  cfg.Executor.EnableShellPlugin,
			"dlq_threshold":        cfg.Executor.DLQThreshold,
		},
		"server": map[string]interface{}{
			"enabled":     cfg.Server.Enabled,
			"listen_addr": cfg.Server.ListenAddr,
			"jwt_secret":  cfg.Server.JWTSecret,
		},
		"redis": map[string]interface{}{
			"addr":     cfg.Redis.Addr,
			"password": cfg.Redis.Password,
			"db":       cfg.Redis.DB,
		},
		"nats": map[string]interface{}{
			"url":     cfg.NATS.URL,
			"subject": cfg.NATS.Subject,
		},
		"logging": map[string]interface{}{
			"level":  cfg.Logging.Level,
			"format": cfg.Logging.Format,
			"file":   cfg.Logging.File,
		},
	}
}
