// Package dto defines the configuration structures for the application.
package dto

// ApplicationConfig is the root configuration structure
type ApplicationConfig struct {
	Application   ApplicationInfo     `mapstructure:"application"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Buffer        BufferConfig        `mapstructure:"buffer"`
	Codec         CodecConfig         `mapstructure:"codec"`
	Sink          SinkConfig          `mapstructure:"sink"`
	Limits        LimitsConfig        `mapstructure:"limits"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Shutdown      ShutdownConfig      `mapstructure:"shutdown"`
}

// ApplicationInfo contains application metadata
type ApplicationInfo struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// KafkaConfig contains Kafka-related configuration
type KafkaConfig struct {
	BootstrapServers []string         `mapstructure:"bootstrap_servers"`
	SecurityProtocol string           `mapstructure:"security_protocol"`
	SASLMechanism    string           `mapstructure:"sasl_mechanism"`
	SASLUsername     string           `mapstructure:"sasl_username"`
	SASLPassword     string           `mapstructure:"sasl_password"`
	Consumer         ConsumerConfig   `mapstructure:"consumer"`
	DeadLetter       DeadLetterConfig `mapstructure:"dead_letter"`
}

// ConsumerConfig contains Kafka consumer configuration
type ConsumerConfig struct {
	GroupID             string   `mapstructure:"group_id"`
	Topics              []string `mapstructure:"topics"`
	AutoOffsetReset     string   `mapstructure:"auto_offset_reset"`
	EnableAutoCommit    bool     `mapstructure:"enable_auto_commit"`
	MaxPollIntervalMS   int      `mapstructure:"max_poll_interval_ms"`
	SessionTimeoutMS    int      `mapstructure:"session_timeout_ms"`
	HeartbeatIntervalMS int      `mapstructure:"heartbeat_interval_ms"`
}

// DeadLetterConfig contains dead-letter topic configuration
type DeadLetterConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	TopicSuffix string `mapstructure:"topic_suffix"`
}

// BufferConfig contains the spill engine thresholds, all in bytes.
// No defaults are applied: every threshold must be supplied explicitly.
type BufferConfig struct {
	IndividualBufferSizeBytes    int64 `mapstructure:"individual_buffer_size_bytes"`
	IndividualBufferMaxBytes     int64 `mapstructure:"individual_buffer_max_bytes"`
	AggregateSpillThresholdBytes int64 `mapstructure:"aggregate_spill_threshold_bytes"`
}

// CodecConfig selects the record serialization scheme
type CodecConfig struct {
	Format string `mapstructure:"format"`
}

// SinkConfig contains sink backend configuration
type SinkConfig struct {
	Backend      string      `mapstructure:"backend"`
	ArchiveMode  string      `mapstructure:"archive_mode"`
	Compression  string      `mapstructure:"compression"`
	PathTemplate string      `mapstructure:"path_template"`
	S3           S3Config    `mapstructure:"s3"`
	Azure        AzureConfig `mapstructure:"azure"`
	GCS          GCSConfig   `mapstructure:"gcs"`
	File         FileConfig  `mapstructure:"file"`
}

// S3Config contains AWS S3 configuration
type S3Config struct {
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	BasePath     string `mapstructure:"base_path"`
	Endpoint     string `mapstructure:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
	SSEEnabled   bool   `mapstructure:"sse_enabled"`
	SSEKMSKeyID  string `mapstructure:"sse_kms_key_id"`
}

// AzureConfig contains Azure Blob Storage configuration
type AzureConfig struct {
	AccountName string `mapstructure:"account_name"`
	Container   string `mapstructure:"container"`
}

// GCSConfig contains Google Cloud Storage configuration
type GCSConfig struct {
	Bucket               string `mapstructure:"bucket"`
	ProjectID            string `mapstructure:"project_id"`
	BasePath             string `mapstructure:"base_path"`
	CredentialsFile      string `mapstructure:"credentials_file"`
	UseDefaultCredential bool   `mapstructure:"use_default_credential"`
}

// FileConfig contains local filesystem configuration
type FileConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// LimitsConfig contains record admission limits
type LimitsConfig struct {
	MaxKeyBytes   int `mapstructure:"max_key_bytes"`
	MaxValueBytes int `mapstructure:"max_value_bytes"`
}

// ObservabilityConfig contains logging, metrics and health configuration
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig contains metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// HealthConfig contains health endpoint configuration
type HealthConfig struct {
	Port          int    `mapstructure:"port"`
	LivenessPath  string `mapstructure:"liveness_path"`
	ReadinessPath string `mapstructure:"readiness_path"`
}

// ShutdownConfig contains graceful shutdown configuration
type ShutdownConfig struct {
	GracePeriodSeconds int `mapstructure:"grace_period_seconds"`
	ForceTimeoutSecond int `mapstructure:"force_timeout_seconds"`
}
