package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config captures process-level configuration. Protocol tunables live in the
// settings/protocol document instead; the environment only decides where the
// engine runs and which store backs it.
type Config struct {
	Addr     string `env:"PROTOKOLL_ADDR" envDefault:":8080"`
	LogLevel string `env:"PROTOKOLL_LOG_LEVEL" envDefault:"info"`

	// UserID keys every status document. Single-user deployment, but the
	// aggregate is explicit so the invariants are enforceable per user.
	UserID string `env:"PROTOKOLL_USER_ID" envDefault:"default"`

	Redis RedisConfig `envPrefix:"PROTOKOLL_REDIS_"`

	// Scheduler intervals. Shortened in tests, never in production.
	TriggerInterval  time.Duration `env:"PROTOKOLL_TRIGGER_INTERVAL" envDefault:"5m"`
	ProgressInterval time.Duration `env:"PROTOKOLL_PROGRESS_INTERVAL" envDefault:"60s"`
	CheckInInterval  time.Duration `env:"PROTOKOLL_CHECKIN_INTERVAL" envDefault:"10s"`
}

// RedisConfig configures the redis-backed status store. An empty URL selects
// the in-memory store.
type RedisConfig struct {
	URL          string        `env:"URL"`
	PoolSize     int           `env:"POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"3s"`
}

// FromEnv parses configuration from environment variables so main stays lean.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
