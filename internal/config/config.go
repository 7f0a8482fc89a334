package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Queue     QueueConfig     `mapstructure:"queue"`
	Storage   StorageConfig   `mapstructure:"storage"`
	KMS       KMSConfig       `mapstructure:"kms"`
	Transport TransportConfig `mapstructure:"transport"`
	Dedupe    DedupeConfig    `mapstructure:"dedupe"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// QueueConfig holds the SQS notification queue settings.
type QueueConfig struct {
	SQSQueueURL         string        `mapstructure:"sqs_queue_url"`
	Region              string        `mapstructure:"region"`
	Endpoint            string        `mapstructure:"endpoint"`
	MaxMessages         int32         `mapstructure:"max_messages"`
	WaitTimeSeconds     int32         `mapstructure:"wait_time_seconds"`
	VisibilityTimeout   time.Duration `mapstructure:"visibility_timeout"`
	DLQURL              string        `mapstructure:"dlq_url"`
	DeadLetterPermanent bool          `mapstructure:"dead_letter_permanent"`
}

// StorageConfig holds the blob store settings for received mail.
type StorageConfig struct {
	Type     string `mapstructure:"type"` // "s3" or "local"
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
	Path     string `mapstructure:"path"`
}

// KMSConfig holds the key management settings used to unwrap data keys.
type KMSConfig struct {
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

// TransportConfig holds the outbound mail transport settings. An empty type
// leaves the relay without a transport.
type TransportConfig struct {
	Type               string        `mapstructure:"type"` // "smtp", "stdout", "file"
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	TLS                string        `mapstructure:"tls"` // "none", "starttls", "tls"
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	HELO               string        `mapstructure:"helo"`
	Timeout            time.Duration `mapstructure:"timeout"`
	OutputDir          string        `mapstructure:"output_dir"`
	RatePerSecond      float64       `mapstructure:"rate_per_second"`
	Burst              int           `mapstructure:"burst"`
	Breaker            BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig holds circuit breaker tuning.
type BreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MinRequests  uint32        `mapstructure:"min_requests"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
}

// DedupeConfig holds the delivery record store settings.
type DedupeConfig struct {
	Type          string        `mapstructure:"type"` // "redis" or "postgres"
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	DatabaseURL   string        `mapstructure:"database_url"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
	TTL           time.Duration `mapstructure:"ttl"`
	ClaimTTL      time.Duration `mapstructure:"claim_ttl"`
	RecordTimeout time.Duration `mapstructure:"record_timeout"`
	PurgeInterval time.Duration `mapstructure:"purge_interval"` // postgres only; 0 disables
	Breaker       BreakerConfig `mapstructure:"breaker"`
}

// RelayConfig holds poll loop settings.
type RelayConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	ProcessTimeout  time.Duration `mapstructure:"process_timeout"`
	BackoffInitial  time.Duration `mapstructure:"backoff_initial"`
	BackoffMax      time.Duration `mapstructure:"backoff_max"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AdminConfig holds the health and metrics HTTP server settings.
type AdminConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	Output    string `mapstructure:"output"` // stdout, stderr, console, file
	FilePath  string `mapstructure:"file_path"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
	MaxFiles  int    `mapstructure:"max_files"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("queue.max_messages", 10)
	v.SetDefault("queue.wait_time_seconds", 20)
	v.SetDefault("queue.visibility_timeout", 5*time.Minute)
	v.SetDefault("queue.dead_letter_permanent", false)

	v.SetDefault("storage.type", "s3")
	v.SetDefault("storage.path", "./data/inbound")

	v.SetDefault("transport.tls", "starttls")
	v.SetDefault("transport.timeout", 30*time.Second)
	v.SetDefault("transport.output_dir", "./mail_output")
	v.SetDefault("transport.breaker.enabled", true)

	v.SetDefault("dedupe.type", "redis")
	v.SetDefault("dedupe.redis_addr", "localhost:6379")
	v.SetDefault("dedupe.key_prefix", "relay:")
	v.SetDefault("dedupe.ttl", time.Hour)
	v.SetDefault("dedupe.claim_ttl", 5*time.Minute)
	v.SetDefault("dedupe.record_timeout", 10*time.Second)
	v.SetDefault("dedupe.purge_interval", 10*time.Minute)
	v.SetDefault("dedupe.breaker.enabled", true)

	v.SetDefault("relay.concurrency", 10)
	v.SetDefault("relay.process_timeout", 2*time.Minute)
	v.SetDefault("relay.backoff_initial", 5*time.Second)
	v.SetDefault("relay.backoff_max", 2*time.Minute)
	v.SetDefault("relay.shutdown_timeout", 30*time.Second)

	v.SetDefault("admin.enabled", true)
	v.SetDefault("admin.host", "0.0.0.0")
	v.SetDefault("admin.port", 9090)
	v.SetDefault("admin.read_timeout", 10*time.Second)
	v.SetDefault("admin.write_timeout", 10*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_files", 5)
}

// Load reads configuration from the given config directory path.
// It looks for a file named "config.yaml" in that directory; a missing file
// leaves defaults and environment variables in effect.
// Environment variables with prefix SES_RELAY_ override file values.
// For example, SES_RELAY_QUEUE_SQS_QUEUE_URL overrides queue.sqs_queue_url.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	v.SetEnvPrefix("SES_RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	// AutomaticEnv only applies to keys viper already knows about.
	for _, key := range []string{
		"queue.sqs_queue_url", "queue.region", "queue.endpoint", "queue.dlq_url",
		"storage.region", "storage.endpoint",
		"kms.region", "kms.endpoint",
		"transport.type", "transport.host", "transport.port",
		"transport.username", "transport.password", "transport.helo",
		"transport.insecure_skip_verify", "transport.rate_per_second", "transport.burst",
		"dedupe.redis_password", "dedupe.redis_db", "dedupe.database_url",
		"logging.file_path",
	} {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate rejects configurations the relay cannot start with. An empty
// transport type is accepted here; the relay reports it as a configuration
// error when it first needs to deliver.
func (c *Config) Validate() error {
	var errs []error

	if c.Queue.SQSQueueURL == "" {
		errs = append(errs, errors.New("queue.sqs_queue_url is required"))
	}
	if c.Queue.MaxMessages < 1 || c.Queue.MaxMessages > 10 {
		errs = append(errs, fmt.Errorf("queue.max_messages must be between 1 and 10, got %d", c.Queue.MaxMessages))
	}
	if c.Queue.WaitTimeSeconds < 0 || c.Queue.WaitTimeSeconds > 20 {
		errs = append(errs, fmt.Errorf("queue.wait_time_seconds must be between 0 and 20, got %d", c.Queue.WaitTimeSeconds))
	}
	if c.Queue.DeadLetterPermanent && c.Queue.DLQURL == "" {
		errs = append(errs, errors.New("queue.dlq_url is required when queue.dead_letter_permanent is set"))
	}

	switch c.Storage.Type {
	case "s3":
	case "local":
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for local storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.type %q", c.Storage.Type))
	}

	switch c.Transport.Type {
	case "", "smtp", "stdout", "file":
	default:
		errs = append(errs, fmt.Errorf("unknown transport.type %q", c.Transport.Type))
	}

	switch c.Dedupe.Type {
	case "redis":
		if c.Dedupe.RedisAddr == "" {
			errs = append(errs, errors.New("dedupe.redis_addr is required for redis"))
		}
	case "postgres":
		if c.Dedupe.DatabaseURL == "" {
			errs = append(errs, errors.New("dedupe.database_url is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown dedupe.type %q", c.Dedupe.Type))
	}
	if c.Dedupe.TTL <= 0 {
		errs = append(errs, errors.New("dedupe.ttl must be positive"))
	}

	if c.Relay.Concurrency < 1 {
		errs = append(errs, errors.New("relay.concurrency must be at least 1"))
	}

	return errors.Join(errs...)
}

// Addr returns the admin server listen address.
func (a AdminConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}
