package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Port                string `mapstructure:"PORT"`
	Env                 string `mapstructure:"ENV"`
	LogLevel            string `mapstructure:"LOG_LEVEL"`
	StoreDriver         string `mapstructure:"STORE_DRIVER"`
	DatabaseURL         string `mapstructure:"DB_DSN"`
	DBMaxConns          int32  `mapstructure:"DB_MAX_CONNS"`
	CatalogFile         string `mapstructure:"CATALOG_FILE"`
	PinTimezone         string `mapstructure:"PIN_TIMEZONE"`
	PinResetHour        int    `mapstructure:"PIN_RESET_HOUR"`
	RateLimitPerMinute  int    `mapstructure:"RATE_LIMIT_PER_MIN"`
	RateLimitBurst      int    `mapstructure:"RATE_LIMIT_BURST"`
	TrustedProxies      string `mapstructure:"TRUSTED_PROXIES"`
	SSEHeartbeatSeconds int    `mapstructure:"SSE_HEARTBEAT_SECONDS"`
	RealtimePollSeconds int    `mapstructure:"REALTIME_POLL_SECONDS"`
	OutboxBatchSize     int    `mapstructure:"OUTBOX_BATCH_SIZE"`
	KafkaBrokers        string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic          string `mapstructure:"KAFKA_TOPIC"`
	BreakerMaxFailures  uint32 `mapstructure:"BREAKER_MAX_FAILURES"`
	BreakerOpenSeconds  int    `mapstructure:"BREAKER_OPEN_SECONDS"`
	MaintenanceMode     bool   `mapstructure:"MAINTENANCE_MODE"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "STORE_DRIVER", "DB_DSN", "DB_MAX_CONNS",
	"CATALOG_FILE", "PIN_TIMEZONE", "PIN_RESET_HOUR", "RATE_LIMIT_PER_MIN",
	"RATE_LIMIT_BURST", "TRUSTED_PROXIES", "SSE_HEARTBEAT_SECONDS", "REALTIME_POLL_SECONDS",
	"OUTBOX_BATCH_SIZE", "KAFKA_BROKERS", "KAFKA_TOPIC", "BREAKER_MAX_FAILURES",
	"BREAKER_OPEN_SECONDS", "MAINTENANCE_MODE",
}

// Load reads the environment, falling back to an optional .env file in the
// working directory.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "production")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_DRIVER", DriverPostgres)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("PIN_TIMEZONE", "Asia/Qatar")
	v.SetDefault("PIN_RESET_HOUR", 5)
	v.SetDefault("RATE_LIMIT_PER_MIN", 120)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("SSE_HEARTBEAT_SECONDS", 15)
	v.SetDefault("REALTIME_POLL_SECONDS", 1)
	v.SetDefault("OUTBOX_BATCH_SIZE", 100)
	v.SetDefault("KAFKA_TOPIC", "clinic-events")
	v.SetDefault("BREAKER_MAX_FAILURES", 5)
	v.SetDefault("BREAKER_OPEN_SECONDS", 30)
	v.SetDefault("MAINTENANCE_MODE", false)

	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DB_DSN is required when STORE_DRIVER is %q", DriverPostgres)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMemory, c.StoreDriver)
	}
	if c.PinResetHour < 0 || c.PinResetHour > 23 {
		return fmt.Errorf("PIN_RESET_HOUR must be between 0 and 23, got %d", c.PinResetHour)
	}
	if _, err := time.LoadLocation(c.PinTimezone); err != nil {
		return fmt.Errorf("PIN_TIMEZONE %q: %w", c.PinTimezone, err)
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.PinTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) Brokers() []string {
	return splitList(c.KafkaBrokers)
}

// Proxies lists the addresses or CIDRs allowed to set X-Forwarded-For.
func (c *Config) Proxies() []string {
	return splitList(c.TrustedProxies)
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (c *Config) HeartbeatInterval() time.Duration {
	return seconds(c.SSEHeartbeatSeconds, 15)
}

func (c *Config) PollInterval() time.Duration {
	return seconds(c.RealtimePollSeconds, 1)
}

func (c *Config) BreakerOpenTimeout() time.Duration {
	return seconds(c.BreakerOpenSeconds, 30)
}

func seconds(value, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Second
}
