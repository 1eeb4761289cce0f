package internal

import (
	"fmt"
	"time"
)

type BusKind string

const (
	BusMemory BusKind = "memory"
	BusRedis  BusKind = "redis"
)

// Config is the server configuration, read from the environment.
type Config struct {
	BadgerFilepath     string        `env:"BADGER_FILEPATH,required=true"`
	LogLevel           string        `env:"LOG_LEVEL,required=true"`
	Host               string        `env:"HOST,default=0.0.0.0"`
	Port               int           `env:"PORT,default=8080"`
	AuthSecret         string        `env:"AUTH_SECRET,required=true"`
	AuthTokenDuration  time.Duration `env:"AUTH_TOKEN_DURATION,default=24h"`
	MaxContentLength   int           `env:"MAX_CONTENT_LENGTH,default=4000"`
	LimitMessages      *int          `env:"LIMIT_MESSAGES"`
	BusKind            BusKind       `env:"BUS_KIND,default=memory"`
	RedisURL           string        `env:"REDIS_URL"`
	SubscriptionBuffer int           `env:"SUBSCRIPTION_BUFFER,default=64"`
	RestartInterval    time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	DebugPort          int           `env:"DEBUG_PORT,default=8081"`
	TelemetryBuffer    int           `env:"TELEMETRY_BUFFER,default=256"`
	LatencyThreshold   time.Duration `env:"LATENCY_THRESHOLD,default=500ms"`
	DropWarnEvery      int           `env:"DROP_WARN_EVERY,default=100"`
}

func (c Config) Validate() error {
	switch c.BusKind {
	case BusMemory:
	case BusRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when BUS_KIND=%s", BusRedis)
		}
	default:
		return fmt.Errorf("BUS_KIND must be %q or %q, got %q", BusMemory, BusRedis, c.BusKind)
	}
	if c.SubscriptionBuffer <= 0 {
		return fmt.Errorf("SUBSCRIPTION_BUFFER must be positive, got %d", c.SubscriptionBuffer)
	}
	if c.MaxContentLength <= 0 {
		return fmt.Errorf("MAX_CONTENT_LENGTH must be positive, got %d", c.MaxContentLength)
	}
	return nil
}

func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
