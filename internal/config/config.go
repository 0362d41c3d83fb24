package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/practice-sem-2/group-chat-service/internal/bridge"
	"github.com/spf13/viper"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	StoreBackend      string
	DBDsn             string
	MigrationsDsn     string
	MigrationsDir     string
	KafkaBrokers      []string
	UpdatesTopic      string
	RedisAddr         string
	PreferencesTTL    time.Duration
	Timeouts          bridge.Timeouts
	DefaultMaxMembers int
	ReconcileInterval time.Duration
}

func setDefaults(v *viper.Viper) {
	def := bridge.DefaultTimeouts()
	v.SetDefault("STORE_BACKEND", BackendMemory)
	v.SetDefault("MIGRATIONS_DIR", "file://migrations")
	v.SetDefault("UPDATES_TOPIC", "group-chat-updates")
	v.SetDefault("PREFERENCES_TTL", 5*time.Minute)
	v.SetDefault("TIMEOUT_EXISTS", def.Exists)
	v.SetDefault("TIMEOUT_SINGLE", def.Single)
	v.SetDefault("TIMEOUT_FANOUT", def.FanOut)
	v.SetDefault("TIMEOUT_LONG_FANOUT", def.LongFanOut)
	v.SetDefault("DEFAULT_MAX_MEMBERS", 256)
	v.SetDefault("RECONCILE_INTERVAL", time.Minute)
}

// LoadEnvFile loads a .env file into the process environment outside
// production. A missing file is not an error.
func LoadEnvFile(path string) error {
	if strings.EqualFold(os.Getenv("ENV"), "production") {
		return nil
	}
	err := godotenv.Load(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("can't load %s: %w", path, err)
	}
	return nil
}

// Load reads the configuration from v, which should already be bound to
// the environment.
func Load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	cfg := &Config{
		StoreBackend:   strings.ToLower(v.GetString("STORE_BACKEND")),
		DBDsn:          v.GetString("DB_DSN"),
		MigrationsDsn:  v.GetString("MIGRATIONS_DSN"),
		MigrationsDir:  v.GetString("MIGRATIONS_DIR"),
		UpdatesTopic:   v.GetString("UPDATES_TOPIC"),
		RedisAddr:      v.GetString("REDIS_ADDR"),
		PreferencesTTL: v.GetDuration("PREFERENCES_TTL"),
		Timeouts: bridge.Timeouts{
			Exists:     v.GetDuration("TIMEOUT_EXISTS"),
			Single:     v.GetDuration("TIMEOUT_SINGLE"),
			FanOut:     v.GetDuration("TIMEOUT_FANOUT"),
			LongFanOut: v.GetDuration("TIMEOUT_LONG_FANOUT"),
		},
		DefaultMaxMembers: v.GetInt("DEFAULT_MAX_MEMBERS"),
		ReconcileInterval: v.GetDuration("RECONCILE_INTERVAL"),
	}
	for _, b := range strings.Split(v.GetString("KAFKA_BROKERS"), ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DBDsn == "" {
			return fmt.Errorf("%w: DB_DSN must be defined for the postgres backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown STORE_BACKEND %q", ErrInvalidConfig, c.StoreBackend)
	}
	if len(c.KafkaBrokers) > 0 && c.UpdatesTopic == "" {
		return fmt.Errorf("%w: UPDATES_TOPIC must be defined when KAFKA_BROKERS is", ErrInvalidConfig)
	}
	if c.DefaultMaxMembers <= 0 {
		return fmt.Errorf("%w: DEFAULT_MAX_MEMBERS must be positive", ErrInvalidConfig)
	}
	if c.ReconcileInterval <= 0 {
		return fmt.Errorf("%w: RECONCILE_INTERVAL must be positive", ErrInvalidConfig)
	}
	return nil
}
