// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables,
// with CLI flag overrides.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/protobuf/types/known/durationpb"
)

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with TOOLSYNC_.
//
// Configuration priority: CLI flags > Environment variables > Config file > Defaults
//
// Required environment variables:
//   - MYSQL_DSN or TOOLSYNC_DATA_DATABASE_SOURCE: MySQL connection string
//
// Parameters:
//   - configPath: Path to the configuration file or directory
//
// Returns:
//   - *Bootstrap: Loaded configuration
//   - error: Configuration loading or validation error
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Enable environment variable support with TOOLSYNC_ prefix
	v.SetEnvPrefix("TOOLSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Allow direct environment variable names (without TOOLSYNC_ prefix) for compatibility
	// Bind specific environment variables for required fields
	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "TOOLSYNC_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "REDIS_ADDR", "TOOLSYNC_DATA_REDIS_ADDR")
	_ = v.BindEnv("admin.token", "ADMIN_TOKEN", "TOOLSYNC_ADMIN_TOKEN")

	// Load configuration file
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// If config file is specified but not found, return error
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	// Parse configuration into Bootstrap structure
	bc := &Bootstrap{
		Server: &Server{
			Http: &Server_HTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: durationpb.New(v.GetDuration("server.http.timeout")),
			},
		},
		Data: &Data{
			Database: &Data_Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
			Redis: &Data_Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				ReadTimeout:  durationpb.New(v.GetDuration("data.redis.read_timeout")),
				WriteTimeout: durationpb.New(v.GetDuration("data.redis.write_timeout")),
			},
		},
		Sync: &Sync{
			Enabled:      v.GetBool("sync.enabled"),
			QueueKey:     v.GetString("sync.queue_key"),
			InventoryKey: v.GetString("sync.inventory_key"),
			PollTimeout:  durationpb.New(v.GetDuration("sync.poll_timeout")),
			StopGrace:    durationpb.New(v.GetDuration("sync.stop_grace")),
			IdleLogEvery: v.GetInt32("sync.idle_log_every"),
			Store: &Sync_Store{
				MaxRetryAttempts:  v.GetInt32("sync.store.max_retry_attempts"),
				RetryInitialDelay: durationpb.New(v.GetDuration("sync.store.retry_initial_delay")),
				RetryMaxDelay:     durationpb.New(v.GetDuration("sync.store.retry_max_delay")),
				FailureThreshold:  v.GetInt32("sync.store.failure_threshold"),
				RecoveryTimeout:   durationpb.New(v.GetDuration("sync.store.recovery_timeout")),
				OpTimeout:         durationpb.New(v.GetDuration("sync.store.op_timeout")),
			},
			Failure: &Sync_Failure{
				DeserializationThreshold: v.GetInt32("sync.failure.deserialization_threshold"),
				ProcessingThreshold:      v.GetInt32("sync.failure.processing_threshold"),
				ValidationThreshold:      v.GetInt32("sync.failure.validation_threshold"),
				ValidationWindow:         durationpb.New(v.GetDuration("sync.failure.validation_window")),
			},
			Validation: &Sync_Validation{
				FreshnessWindow: durationpb.New(v.GetDuration("sync.validation.freshness_window")),
			},
			Backoff: &Sync_Backoff{
				PollErrorInitial: durationpb.New(v.GetDuration("sync.backoff.poll_error_initial")),
				PollErrorMax:     durationpb.New(v.GetDuration("sync.backoff.poll_error_max")),
			},
			Dedupe: &Sync_Dedupe{
				Size: v.GetInt32("sync.dedupe.size"),
				Ttl:  durationpb.New(v.GetDuration("sync.dedupe.ttl")),
			},
			Reconcile: &Sync_Reconcile{
				Enabled:  v.GetBool("sync.reconcile.enabled"),
				Schedule: v.GetString("sync.reconcile.schedule"),
			},
		},
		Admin: &Admin{
			Token: v.GetString("admin.token"),
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
	}

	// Validate required fields
	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 10*time.Minute)

	// Data defaults
	v.SetDefault("data.database.driver", "mysql")
	// Note: data.database.source (MYSQL_DSN) is required from environment

	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	// Sync consumer defaults
	v.SetDefault("sync.enabled", true)
	v.SetDefault("sync.queue_key", "toolsync:updates")
	v.SetDefault("sync.inventory_key", "toolsync:inventory")
	v.SetDefault("sync.poll_timeout", 2*time.Second)
	v.SetDefault("sync.stop_grace", 10*time.Second)
	v.SetDefault("sync.idle_log_every", 100)

	v.SetDefault("sync.store.max_retry_attempts", 3)
	v.SetDefault("sync.store.retry_initial_delay", 200*time.Millisecond)
	v.SetDefault("sync.store.retry_max_delay", 5*time.Second)
	v.SetDefault("sync.store.failure_threshold", 5)
	v.SetDefault("sync.store.recovery_timeout", 30*time.Second)
	v.SetDefault("sync.store.op_timeout", 3*time.Second)

	v.SetDefault("sync.failure.deserialization_threshold", 5)
	v.SetDefault("sync.failure.processing_threshold", 5)
	v.SetDefault("sync.failure.validation_threshold", 10)
	v.SetDefault("sync.failure.validation_window", time.Minute)

	v.SetDefault("sync.validation.freshness_window", 30*time.Minute)

	v.SetDefault("sync.backoff.poll_error_initial", time.Second)
	v.SetDefault("sync.backoff.poll_error_max", 30*time.Second)

	v.SetDefault("sync.dedupe.size", 4096)
	v.SetDefault("sync.dedupe.ttl", 30*time.Minute)

	v.SetDefault("sync.reconcile.enabled", true)
	v.SetDefault("sync.reconcile.schedule", "0 0 * * * *")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that all required configuration fields are present and valid.
// It returns an error listing all missing required fields.
func Validate(bc *Bootstrap) error {
	var missingFields []string

	// Check required database configuration
	if bc.Data == nil || bc.Data.Database == nil || bc.Data.Database.Source == "" {
		missingFields = append(missingFields, "data.database.source (MYSQL_DSN)")
	}

	// Check required redis configuration
	if bc.Data == nil || bc.Data.Redis == nil || bc.Data.Redis.Addr == "" {
		missingFields = append(missingFields, "data.redis.addr (REDIS_ADDR)")
	}

	// The consumer cannot run without a queue to read
	if bc.Sync == nil || bc.Sync.QueueKey == "" {
		missingFields = append(missingFields, "sync.queue_key")
	}

	if len(missingFields) > 0 {
		return fmt.Errorf("missing required configuration fields: %s", strings.Join(missingFields, ", "))
	}

	return nil
}
