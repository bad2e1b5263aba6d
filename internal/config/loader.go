// Package config handles configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/jittakal/kafspill/internal/config/dto"
)

// Loader handles configuration loading and validation
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// Load loads configuration from file and environment variables
func (l *Loader) Load(path string) (*dto.ApplicationConfig, error) {
	l.setDefaults()

	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Expand environment variables in config values
	// Only expand if the value contains ${...} pattern
	for _, key := range l.v.AllKeys() {
		value := l.v.GetString(key)
		if strings.Contains(value, "${") {
			l.v.Set(key, os.ExpandEnv(value))
		}
	}

	var config dto.ApplicationConfig
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.Validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values.
// The spill thresholds deliberately get no defaults: they are byte-exact
// policy knobs and must be supplied explicitly.
func (l *Loader) setDefaults() {
	// Application defaults
	l.v.SetDefault("application.name", "kafspill")
	l.v.SetDefault("application.version", "1.0.0")
	l.v.SetDefault("application.environment", "development")

	// Kafka defaults
	l.v.SetDefault("kafka.security_protocol", "PLAINTEXT")
	l.v.SetDefault("kafka.sasl_mechanism", "PLAIN")
	l.v.SetDefault("kafka.consumer.auto_offset_reset", "earliest")
	l.v.SetDefault("kafka.consumer.enable_auto_commit", false)
	l.v.SetDefault("kafka.consumer.max_poll_interval_ms", 300000)
	l.v.SetDefault("kafka.consumer.session_timeout_ms", 30000)
	l.v.SetDefault("kafka.consumer.heartbeat_interval_ms", 10000)
	l.v.SetDefault("kafka.dead_letter.enabled", true)
	l.v.SetDefault("kafka.dead_letter.topic_suffix", "-dead-letter")

	// Codec defaults
	l.v.SetDefault("codec.format", "binary")

	// Sink defaults
	l.v.SetDefault("sink.backend", "file")
	l.v.SetDefault("sink.archive_mode", "raw")
	l.v.SetDefault("sink.compression", "snappy")
	l.v.SetDefault("sink.s3.use_path_style", false)
	l.v.SetDefault("sink.s3.sse_enabled", true)

	// Limits defaults
	l.v.SetDefault("limits.max_key_bytes", 1024*1024)
	l.v.SetDefault("limits.max_value_bytes", 16*1024*1024)

	// Observability defaults
	l.v.SetDefault("observability.logging.level", "info")
	l.v.SetDefault("observability.logging.format", "json")
	l.v.SetDefault("observability.logging.output", "stdout")
	l.v.SetDefault("observability.metrics.enabled", true)
	l.v.SetDefault("observability.metrics.port", 9090)
	l.v.SetDefault("observability.metrics.path", "/metrics")
	l.v.SetDefault("observability.health.port", 8080)
	l.v.SetDefault("observability.health.liveness_path", "/health/live")
	l.v.SetDefault("observability.health.readiness_path", "/health/ready")

	// Shutdown defaults
	l.v.SetDefault("shutdown.grace_period_seconds", 30)
	l.v.SetDefault("shutdown.force_timeout_seconds", 60)
}

// Validate validates the configuration
func (l *Loader) Validate(config *dto.ApplicationConfig) error {
	// Kafka validation
	if len(config.Kafka.BootstrapServers) == 0 {
		return errors.New("kafka.bootstrap_servers is required")
	}
	if len(config.Kafka.Consumer.Topics) == 0 {
		return errors.New("kafka.consumer.topics is required")
	}
	if config.Kafka.Consumer.GroupID == "" {
		return errors.New("kafka.consumer.group_id is required")
	}

	// Buffer validation: all three thresholds are explicit, positive, and
	// the individual spill threshold cannot exceed the hard cap.
	if config.Buffer.IndividualBufferSizeBytes <= 0 {
		return errors.New("buffer.individual_buffer_size_bytes is required and must be positive")
	}
	if config.Buffer.IndividualBufferMaxBytes <= 0 {
		return errors.New("buffer.individual_buffer_max_bytes is required and must be positive")
	}
	if config.Buffer.AggregateSpillThresholdBytes <= 0 {
		return errors.New("buffer.aggregate_spill_threshold_bytes is required and must be positive")
	}
	if config.Buffer.IndividualBufferSizeBytes > config.Buffer.IndividualBufferMaxBytes {
		return fmt.Errorf("buffer.individual_buffer_size_bytes (%d) exceeds individual_buffer_max_bytes (%d)",
			config.Buffer.IndividualBufferSizeBytes, config.Buffer.IndividualBufferMaxBytes)
	}

	// Codec validation
	if config.Codec.Format != "binary" && config.Codec.Format != "avro" {
		return fmt.Errorf("unsupported codec format: %s", config.Codec.Format)
	}

	// Sink validation
	switch config.Sink.Backend {
	case "s3":
		if config.Sink.S3.Bucket == "" {
			return errors.New("sink.s3.bucket is required for S3 backend")
		}
		if config.Sink.S3.Region == "" {
			return errors.New("sink.s3.region is required for S3 backend")
		}
	case "azure":
		if config.Sink.Azure.AccountName == "" {
			return errors.New("sink.azure.account_name is required for Azure backend")
		}
		if config.Sink.Azure.Container == "" {
			return errors.New("sink.azure.container is required for Azure backend")
		}
	case "gcs":
		if config.Sink.GCS.Bucket == "" {
			return errors.New("sink.gcs.bucket is required for GCS backend")
		}
	case "file":
		if config.Sink.File.BasePath == "" {
			return errors.New("sink.file.base_path is required for file backend")
		}
	default:
		return fmt.Errorf("unsupported sink backend: %s", config.Sink.Backend)
	}

	// Archive mode validation; parquet archiving is file-backed only.
	switch config.Sink.ArchiveMode {
	case "raw":
	case "parquet":
		if config.Sink.Backend != "file" {
			return fmt.Errorf("sink.archive_mode parquet requires the file backend, got %s", config.Sink.Backend)
		}
	default:
		return fmt.Errorf("unsupported sink archive mode: %s", config.Sink.ArchiveMode)
	}

	// Port validation
	if config.Observability.Metrics.Port < 1 || config.Observability.Metrics.Port > 65535 {
		return fmt.Errorf("invalid metrics port: %d", config.Observability.Metrics.Port)
	}
	if config.Observability.Health.Port < 1 || config.Observability.Health.Port > 65535 {
		return fmt.Errorf("invalid health port: %d", config.Observability.Health.Port)
	}

	return nil
}
