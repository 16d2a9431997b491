package config

import (
	"log"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	AppEnv        string `env:"APP_ENV,notEmpty"`
	APIAddr       string `env:"API_ADDR,notEmpty"`
	PostgresDSN   string `env:"POSTGRES_DSN,notEmpty"`
	RedisAddr     string `env:"REDIS_ADDR,notEmpty"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	AMQPURL       string `env:"AMQP_URL,notEmpty"`
	EventExchange string `env:"EVENT_EXCHANGE" envDefault:"jobs.lifecycle"`
	JWTSigningKey string `env:"JWT_SIGNING_KEY,notEmpty"`

	ExpirySweepSec  int `env:"EXPIRY_SWEEP_SEC" envDefault:"300"`
	TimeoutSweepSec int `env:"TIMEOUT_SWEEP_SEC" envDefault:"120"`
	SweepBatch      int `env:"SWEEP_BATCH" envDefault:"500"`
}

func Load() Config {
	var c Config
	if err := env.Parse(&c); err != nil {
		log.Fatal(err)
	}
	return c
}
