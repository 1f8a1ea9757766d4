package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for evalkit-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Storage  StorageConfig  `yaml:"storage"`
	Queue    QueueConfig    `yaml:"queue"`
	Importer ImporterConfig `yaml:"importer"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// EnableVerification controls whether JWT tokens are validated.
	// Set to false for local development without auth server.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs.
	// Format: "issuer1=url1,issuer2=url2"
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"JWKS_ENDPOINTS" env-default:""`

	// JWKSEndpoints is the parsed map from JWKSEndpointsStr (not from config file).
	JWKSEndpoints map[string]string `yaml:"-"`

	// Audience, when set, must be present in every verified token's aud claim.
	Audience string `yaml:"audience" env:"AUTH_AUDIENCE" env-default:""`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"evalkit"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"evalkit"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds Redis configuration. Only used by the redis queue driver.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// StorageConfig holds the S3-compatible blob store settings.
type StorageConfig struct {
	Bucket string `yaml:"bucket" env:"STORAGE_BUCKET" env-default:"evalkit-uploads"`
	Region string `yaml:"region" env:"AWS_REGION" env-default:"us-east-1"`

	// Endpoint overrides the AWS endpoint for S3-compatible stores (MinIO, LocalStack).
	Endpoint     string `yaml:"endpoint" env:"STORAGE_ENDPOINT" env-default:""`
	UsePathStyle bool   `yaml:"use_path_style" env:"STORAGE_USE_PATH_STYLE" env-default:"false"`

	// Static credentials are optional; the default AWS credential chain is used when empty.
	AccessKeyID     string `yaml:"-" env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"-" env:"AWS_SECRET_ACCESS_KEY"`

	// UploadURLTTL bounds how long a signed upload URL stays valid.
	UploadURLTTL time.Duration `yaml:"upload_url_ttl" env:"STORAGE_UPLOAD_URL_TTL" env-default:"15m"`
}

// Queue driver names.
const (
	QueueDriverSQS   = "sqs"
	QueueDriverRedis = "redis"
	QueueDriverLocal = "local"
)

// QueueConfig selects and configures the import job queue.
type QueueConfig struct {
	Driver string `yaml:"driver" env:"QUEUE_DRIVER" env-default:"local"`

	SQSQueueURL          string `yaml:"sqs_queue_url" env:"QUEUE_SQS_URL" env-default:""`
	SQSEndpoint          string `yaml:"sqs_endpoint" env:"QUEUE_SQS_ENDPOINT" env-default:""` // LocalStack and similar
	SQSWaitTimeSeconds   int32  `yaml:"sqs_wait_time_seconds" env:"QUEUE_SQS_WAIT_SECONDS" env-default:"20"`
	SQSVisibilityTimeout int32  `yaml:"sqs_visibility_timeout" env:"QUEUE_SQS_VISIBILITY_TIMEOUT" env-default:"300"`

	RedisKey string `yaml:"redis_key" env:"QUEUE_REDIS_KEY" env-default:"evalkit:import-jobs"`

	// Workers is the number of imports a worker process runs concurrently.
	Workers int `yaml:"workers" env:"QUEUE_WORKERS" env-default:"4"`
}

// ImporterConfig bounds the dataset entry importer and the reconciliation sweeper.
type ImporterConfig struct {
	MaxFileBytes         int64         `yaml:"max_file_bytes" env:"IMPORT_MAX_FILE_BYTES" env-default:"536870912"`
	MaxLineBytes         int           `yaml:"max_line_bytes" env:"IMPORT_MAX_LINE_BYTES" env-default:"4194304"`
	MaxEntries           int           `yaml:"max_entries" env:"IMPORT_MAX_ENTRIES" env-default:"100000"`
	StuckPendingAfter    time.Duration `yaml:"stuck_pending_after" env:"IMPORT_STUCK_PENDING_AFTER" env-default:"10m"`
	StuckProcessingAfter time.Duration `yaml:"stuck_processing_after" env:"IMPORT_STUCK_PROCESSING_AFTER" env-default:"1h"`
	MaxEnqueueAttempts   int           `yaml:"max_enqueue_attempts" env:"IMPORT_MAX_ENQUEUE_ATTEMPTS" env-default:"5"`
	SweepInterval        time.Duration `yaml:"sweep_interval" env:"IMPORT_SWEEP_INTERVAL" env-default:"1m"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" env:"METRICS_ENABLED" env-default:"true"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// A missing config.yaml is not an error; defaults and environment are used instead.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	return LoadFile("config.yaml", version)
}

// LoadFile is Load with an explicit config file path.
func LoadFile(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	cfg.Auth.JWKSEndpoints = parseJWKSEndpoints(cfg.Auth.JWKSEndpointsStr)
	cfg.resolveServiceHosts()

	if err := cfg.validateTLS(); err != nil {
		return nil, fmt.Errorf("invalid TLS configuration: %w", err)
	}
	if err := cfg.validateQueue(); err != nil {
		return nil, fmt.Errorf("invalid queue configuration: %w", err)
	}

	// Auto-derive BaseURL from Port if not explicitly set
	if cfg.BaseURL == "" {
		scheme := "http"
		if cfg.TLSCertPath != "" {
			scheme = "https"
		}
		cfg.BaseURL = (&url.URL{
			Scheme: scheme,
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

// IsLocal reports whether the service runs in the local development environment.
func (c *Config) IsLocal() bool {
	return c.Env == "local"
}

// validateTLS ensures TLS configuration is valid if provided.
// Both cert and key must be provided together, and files must exist.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}

	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}

	return nil
}

func (c *Config) validateQueue() error {
	switch c.Queue.Driver {
	case QueueDriverLocal:
	case QueueDriverSQS:
		if c.Queue.SQSQueueURL == "" {
			return fmt.Errorf("sqs_queue_url is required for the sqs driver")
		}
	case QueueDriverRedis:
		if c.Redis.Host == "" {
			return fmt.Errorf("redis.host is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown queue driver %q", c.Queue.Driver)
	}
	if c.Queue.Workers < 1 {
		c.Queue.Workers = 1
	}
	return nil
}

// parseJWKSEndpoints parses the JWKS endpoints string into a map.
// Format: "issuer1=url1,issuer2=url2"
func parseJWKSEndpoints(value string) map[string]string {
	endpoints := make(map[string]string)
	if value == "" {
		return endpoints
	}

	pairs := strings.Split(value, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) == 2 {
			endpoints[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return endpoints
}

// ConnectionString returns a PostgreSQL connection URL usable by both pgxpool and database/sql.
func (c *DatabaseConfig) ConnectionString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}
