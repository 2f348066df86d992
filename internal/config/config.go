package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	ResendAPIKey string `env:"RESEND_API_KEY,required=true"`
	FromAddress  string `env:"FROM_ADDRESS,required=true"`

	AdminPrimaryEmail   string `env:"ADMIN_PRIMARY_EMAIL,required=true"`
	AdminSecondaryEmail string `env:"ADMIN_SECONDARY_EMAIL,required=true"`

	StorageBaseURL string `env:"STORAGE_BASE_URL,required=true"`

	DailySendLimit      int  `env:"DAILY_SEND_LIMIT,default=100"`
	SendBurstPerSec     int  `env:"SEND_BURST_PER_SEC,default=2"`
	DrainIntervalSec    int  `env:"DRAIN_INTERVAL_SEC,default=300"`
	DrainBatchCap       int  `env:"DRAIN_BATCH_CAP,default=10"`
	DrainRetryPermanent bool `env:"DRAIN_RETRY_PERMANENT,default=true"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DailySendLimit <= 0 {
		return fmt.Errorf("invalid config: DAILY_SEND_LIMIT must be positive, got %d", c.DailySendLimit)
	}
	if c.SendBurstPerSec <= 0 {
		return fmt.Errorf("invalid config: SEND_BURST_PER_SEC must be positive, got %d", c.SendBurstPerSec)
	}
	if c.DrainIntervalSec <= 0 {
		return fmt.Errorf("invalid config: DRAIN_INTERVAL_SEC must be positive, got %d", c.DrainIntervalSec)
	}
	if c.DrainBatchCap <= 0 {
		return fmt.Errorf("invalid config: DRAIN_BATCH_CAP must be positive, got %d", c.DrainBatchCap)
	}
	return nil
}

func (c *Config) DrainInterval() time.Duration {
	return time.Duration(c.DrainIntervalSec) * time.Second
}
