// Package config содержит логику чтения конфигурации сервиса уведомлений.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config содержит параметры конфигурации сервиса уведомлений.
type Config struct {
	RunAddress    string `env:"RUN_ADDRESS"`
	DatabaseURI   string `env:"DATABASE_URI"`
	RedisAddr     string `env:"REDIS_ADDR"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`

	AppEnv         string `env:"APP_ENV" envDefault:"development"`
	AuthSecret     string `env:"AUTH_SECRET"`
	InternalSecret string `env:"INTERNAL_SECRET"`

	DispatchInterval  time.Duration `env:"DISPATCH_INTERVAL" envDefault:"5s"`
	DispatchBatchSize int           `env:"DISPATCH_BATCH_SIZE" envDefault:"100"`
	DispatchWorkers   int           `env:"DISPATCH_WORKERS" envDefault:"8"`
	ChannelTimeout    time.Duration `env:"CHANNEL_TIMEOUT" envDefault:"10s"`
	RetryBackoff      time.Duration `env:"RETRY_BACKOFF" envDefault:"1m"`
	ClaimLease        time.Duration `env:"CLAIM_LEASE"`

	FavoriteScanInterval time.Duration `env:"FAVORITE_SCAN_INTERVAL" envDefault:"10m"`
	FavoriteScanBatch    int           `env:"FAVORITE_SCAN_BATCH" envDefault:"500"`
	DedupWindow          time.Duration `env:"DEDUP_WINDOW" envDefault:"24h"`

	WebhookTolerance time.Duration `env:"WEBHOOK_TOLERANCE" envDefault:"15m"`
	WebhookReplayTTL time.Duration `env:"WEBHOOK_REPLAY_TTL" envDefault:"24h"`
	WebhookRateLimit float64       `env:"WEBHOOK_RATE_LIMIT" envDefault:"20"`
	WebhookRateBurst int           `env:"WEBHOOK_RATE_BURST" envDefault:"40"`
	WebhookRateIdle  time.Duration `env:"WEBHOOK_RATE_IDLE" envDefault:"10m"`

	EmailGatewayURL   string `env:"EMAIL_GATEWAY_URL"`
	SMSGatewayURL     string `env:"SMS_GATEWAY_URL"`
	ChatBotGatewayURL string `env:"CHATBOT_GATEWAY_URL"`
	PushGatewayURL    string `env:"PUSH_GATEWAY_URL"`
}

// IsProduction сообщает, запущен ли сервис в боевом окружении.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Parse считывает конфигурацию из файла .env, флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envRedisAddr := cfg.RedisAddr
	envWebhookSecret := cfg.WebhookSecret

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.RedisAddr, "r", "", "redis address")
	flag.StringVar(&cfg.WebhookSecret, "s", "", "payment webhook signing secret")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envRedisAddr != "" {
		cfg.RedisAddr = envRedisAddr
	}
	if envWebhookSecret != "" {
		cfg.WebhookSecret = envWebhookSecret
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
