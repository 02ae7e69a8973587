package config

import (
	"log"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv        string `env:"APP_ENV,notEmpty"`
	APIAddr       string `env:"API_ADDR,notEmpty"`
	PostgresDSN   string `env:"POSTGRES_DSN,notEmpty"`
	RedisAddr     string `env:"REDIS_ADDR,notEmpty"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	// Worker
	WorkerConcurrency  int `env:"WORKER_CONCURRENCY" envDefault:"4"`
	DispatchTimeoutSec int `env:"DISPATCH_TIMEOUT_SEC" envDefault:"30"`

	// Idempotency record retention (client-supplied keys, bounded TTL).
	IdempotencyTTLSec int `env:"IDEMPOTENCY_TTL_SEC" envDefault:"86400"`

	// Outbound forwarding
	ForwardAllowedHosts []string `env:"FORWARD_ALLOWED_HOSTS,notEmpty" envSeparator:","`
	ForwardPerHostRPS   float64  `env:"FORWARD_PER_HOST_RPS" envDefault:"10"`
	ForwardPerHostBurst int      `env:"FORWARD_PER_HOST_BURST" envDefault:"5"`

	// Managed publishing
	ChannelAPIBaseURL   string `env:"CHANNEL_API_BASE_URL,notEmpty"`
	DefaultDailyCeiling int64  `env:"DEFAULT_DAILY_CEILING" envDefault:"50"`
}

func Load() Config {
	_ = godotenv.Load()
	var c Config
	if err := env.Parse(&c); err != nil {
		log.Fatal(err)
	}
	return c
}
