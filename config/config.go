// Package config loads process-wide configuration for both the scheduler
// and dispatcher binaries from environment variables, grounded on the
// teacher's config/config.go (caarlos0/env struct tags plus a
// go-playground/validator pass).
package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// SchedulerConfig configures a single scheduler cell process.
type SchedulerConfig struct {
	Env  string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	Port string `env:"PORT" envDefault:"8080" validate:"required"`

	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`

	// CellID identifies this process within the static shard map (spec.md
	// §3 "Cell assignment"). NCells and CellIndex together decide which
	// owners this cell schedules.
	CellID    string `env:"CELL_ID,required" validate:"required"`
	NCells    int    `env:"N_CELLS" envDefault:"1" validate:"min=1"`
	CellIndex int    `env:"CELL_INDEX" envDefault:"0" validate:"min=0"`

	DispatcherURL      string `env:"DISPATCHER_URL,required" validate:"required"`
	MaxInFlightPerCell int    `env:"SCHEDULER_MAX_IN_FLIGHT_PER_CELL" envDefault:"500" validate:"min=1"`
	DangerousFastForward bool `env:"SCHEDULER_DANGEROUS_FAST_FORWARD" envDefault:"false"`

	// ServiceTokenKey signs/verifies the short-lived HS256 token attached to
	// every scheduler->dispatcher RPC. Empty disables signing, for local dev.
	ServiceTokenKey string `env:"SERVICE_TOKEN_KEY"`

	AdminAPIKeys map[string]string `env:"-"`
	AdminAPIKeysRaw []string        `env:"ADMIN_API_KEYS" envSeparator:","`

	LeadershipCheckIntervalSec int `env:"LEADERSHIP_CHECK_INTERVAL_SEC" envDefault:"30" validate:"min=1"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"required,oneof=debug info warn error"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_RUN_EVENTS_TOPIC" envDefault:"cronback.run-events"`
}

// LoadScheduler reads SchedulerConfig from the environment and validates it.
func LoadScheduler() (*SchedulerConfig, error) {
	cfg := &SchedulerConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.AdminAPIKeys = parseAPIKeys(cfg.AdminAPIKeysRaw)
	return cfg, nil
}

// DispatcherConfig configures the dispatcher runner process.
type DispatcherConfig struct {
	Env  string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	Port string `env:"PORT" envDefault:"8081" validate:"required"`

	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`

	MaxConcurrentAttempts  int   `env:"DISPATCHER_MAX_CONCURRENT_ATTEMPTS" envDefault:"50" validate:"min=1"`
	QueueDepth             int   `env:"DISPATCHER_QUEUE_DEPTH" envDefault:"1000" validate:"min=1"`
	ResponseBodyCapBytes   int64 `env:"DISPATCHER_RESPONSE_BODY_CAP_BYTES" envDefault:"1048576" validate:"min=1"`
	ProxyURL               string `env:"DISPATCHER_PROXY_URL"`

	ServiceTokenKey string `env:"SERVICE_TOKEN_KEY"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9091"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"required,oneof=debug info warn error"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_RUN_EVENTS_TOPIC" envDefault:"cronback.run-events"`
}

// LoadDispatcher reads DispatcherConfig from the environment and validates it.
func LoadDispatcher() (*DispatcherConfig, error) {
	cfg := &DispatcherConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// parseAPIKeys turns "key1:owner1,key2:owner2" entries into a key->owner map.
func parseAPIKeys(raw []string) map[string]string {
	out := make(map[string]string, len(raw))
	for _, entry := range raw {
		for i := 0; i < len(entry); i++ {
			if entry[i] == ':' {
				out[entry[:i]] = entry[i+1:]
				break
			}
		}
	}
	return out
}

// SlogLevel converts a LOG_LEVEL string to a slog.Level.
func SlogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
