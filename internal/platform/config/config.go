package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config captures server-level configuration. Values come from the
// environment so main stays lean and deployments stay twelve-factor.
type Config struct {
	Addr          string `env:"CUSTODIA_ADDR" envDefault:":8080"`
	DatabaseURL   string `env:"DATABASE_URL"`
	JWTSigningKey string `env:"JWT_SIGNING_KEY" envDefault:"dev-secret-key-change-in-production"`

	Redis RedisConfig
	Kafka KafkaConfig

	// SweepInterval controls how often the escalation sweep scans approval
	// instances for expired step timeouts.
	SweepInterval time.Duration `env:"APPROVAL_SWEEP_INTERVAL" envDefault:"1h"`

	// CustodyContinuity selects the chain-of-custody break policy:
	// "advisory" records the transfer and flags the container, "strict"
	// refuses the transfer outright.
	CustodyContinuity string `env:"CUSTODY_CONTINUITY_MODE" envDefault:"advisory"`

	// ApprovalGroupPolicy selects how mandatory steps sharing a sequence
	// combine: "all" (every mandatory step must approve) or "any".
	ApprovalGroupPolicy string `env:"APPROVAL_GROUP_POLICY" envDefault:"all"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// RedisConfig configures the notification queue client. An empty URL
// disables redis and the dispatcher falls back to log-only delivery.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
	Queue        string        `env:"NOTIFY_QUEUE" envDefault:"custodia:notifications"`
}

// KafkaConfig configures the audit fan-out publisher. Empty seeds disable
// Kafka publishing; the audit log itself is unaffected.
type KafkaConfig struct {
	Seeds []string `env:"KAFKA_SEEDS" envSeparator:","`
	Topic string   `env:"KAFKA_AUDIT_TOPIC" envDefault:"custodia.audit"`
}

// Load parses configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
