// Package config provides configuration management for the research agent service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Queue backend names.
const (
	QueueBackendMemory   = "memory"
	QueueBackendKafka    = "kafka"
	QueueBackendTemporal = "temporal"
)

// Config holds all configuration for the research agent service.
type Config struct {
	// Server contains HTTP/gRPC server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Workflow contains research pipeline tuning.
	Workflow WorkflowConfig `mapstructure:"workflow"`
	// Worker contains worker pool and sweeper settings.
	Worker WorkerConfig `mapstructure:"worker"`
	// Queue selects the job queue backend.
	Queue QueueConfig `mapstructure:"queue"`
	// Kafka contains Kafka settings for the kafka queue backend.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// Temporal contains Temporal settings for the temporal queue backend.
	Temporal TemporalConfig `mapstructure:"temporal"`
	// Sources contains content source API configurations.
	Sources SourcesConfig `mapstructure:"sources"`
	// Cleanup contains retention settings for finished topics.
	Cleanup CleanupConfig `mapstructure:"cleanup"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// GRPCPort is the gRPC health server port (default: 9090).
	GRPCPort int `mapstructure:"grpc_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (use environment variable in production).
	Password string `mapstructure:"password"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool (default: 20).
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open (default: 2).
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// StatementTimeout bounds each write transaction issued by the workflow.
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
	// MigrationPath is the path to migration files (relative or absolute).
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup (default: false).
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
	// StatementCacheCapacity is the size of the prepared statement cache.
	StatementCacheCapacity int `mapstructure:"statement_cache_capacity"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr, file path).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
	// Namespace prefixes every metric name.
	Namespace string `mapstructure:"namespace"`
}

// WorkflowConfig holds research pipeline settings.
type WorkflowConfig struct {
	// MaxResults caps the number of results kept per topic (default: 5).
	MaxResults int `mapstructure:"max_results"`
	// SummaryLength is the maximum summary length in characters (default: 280).
	SummaryLength int `mapstructure:"summary_length"`
	// MaxKeywords is the number of keywords extracted per result (default: 5).
	MaxKeywords int `mapstructure:"max_keywords"`
	// GatherTimeout bounds the whole data gathering step (default: 30s).
	GatherTimeout time.Duration `mapstructure:"gather_timeout"`
	// StaleAfter is how long a processing topic may go without a heartbeat
	// before it is reclaimed (default: 10m).
	StaleAfter time.Duration `mapstructure:"stale_after"`
	// SourcePriority is the fixed order in which sources are queried and results ranked.
	SourcePriority []string `mapstructure:"source_priority"`
	// TransientRetries is the number of extra attempts for transient failures
	// on retryable steps (default: 0).
	TransientRetries int `mapstructure:"transient_retries"`
	// RetryBackoff is the initial backoff between retries.
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// WorkerConfig holds worker pool configuration.
type WorkerConfig struct {
	// Concurrency is the number of topics processed in parallel (default: 4).
	Concurrency int `mapstructure:"concurrency"`
	// Embedded runs the worker pool inside the API server process.
	Embedded bool `mapstructure:"embedded"`
	// SweepInterval is how often stale and orphaned topics are re-enqueued.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// PendingGrace is how long a pending topic may wait before the sweeper re-enqueues it.
	PendingGrace time.Duration `mapstructure:"pending_grace"`
	// SweepBatchSize bounds the number of topics re-enqueued per sweep.
	SweepBatchSize int `mapstructure:"sweep_batch_size"`
	// NackBackoff is the delay before a job that hit an infrastructure error is redelivered.
	NackBackoff time.Duration `mapstructure:"nack_backoff"`
}

// QueueConfig selects the job queue backend.
type QueueConfig struct {
	// Backend is one of memory, kafka, temporal (default: memory).
	Backend string `mapstructure:"backend"`
	// BufferSize is the in-memory queue capacity.
	BufferSize int `mapstructure:"buffer_size"`
}

// KafkaConfig holds Kafka settings for the job queue.
type KafkaConfig struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic is the Kafka topic carrying research jobs.
	Topic string `mapstructure:"topic"`
	// GroupID is the consumer group shared by all workers.
	GroupID string `mapstructure:"group_id"`
	// BatchSize is the maximum number of messages to batch before sending.
	BatchSize int `mapstructure:"batch_size"`
	// BatchTimeout is the maximum time to wait for a batch to fill before sending.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// TemporalConfig holds Temporal workflow configuration.
type TemporalConfig struct {
	// HostPort is the Temporal server address.
	HostPort string `mapstructure:"host_port"`
	// Namespace is the Temporal namespace.
	Namespace string `mapstructure:"namespace"`
	// TaskQueue is the task queue name for research workflows.
	TaskQueue string `mapstructure:"task_queue"`
}

// SourcesConfig holds configuration for all content source APIs.
type SourcesConfig struct {
	// Wikipedia contains Wikipedia API settings.
	Wikipedia SourceConfig `mapstructure:"wikipedia"`
	// NewsAPI contains NewsAPI settings.
	NewsAPI SourceConfig `mapstructure:"newsapi"`
	// HackerNews contains Hacker News (Algolia) settings.
	HackerNews SourceConfig `mapstructure:"hackernews"`
	// Reddit contains Reddit settings.
	Reddit RedditSourceConfig `mapstructure:"reddit"`
}

// SourceConfig holds configuration for a single content source API.
type SourceConfig struct {
	// Enabled controls whether this source is used.
	Enabled bool `mapstructure:"enabled"`
	// APIKey is the API key (loaded from environment variable, e.g. RESEARCH_SOURCES_NEWSAPI_API_KEY).
	APIKey string `mapstructure:"-"`
	// BaseURL is the API base URL.
	BaseURL string `mapstructure:"base_url"`
	// Timeout is the per-call timeout.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
}

// RedditSourceConfig extends SourceConfig with the subreddits to search.
type RedditSourceConfig struct {
	SourceConfig `mapstructure:",squash"`
	// Subreddits is the list of subreddits searched, in order.
	Subreddits []string `mapstructure:"subreddits"`
	// UserAgent is sent with every request.
	UserAgent string `mapstructure:"user_agent"`
}

// CleanupConfig holds retention settings.
type CleanupConfig struct {
	// Enabled turns on periodic deletion of old finished topics.
	Enabled bool `mapstructure:"enabled"`
	// Interval is how often the cleanup runs (default: 24h).
	Interval time.Duration `mapstructure:"interval"`
	// Retention is the age after which completed or failed topics are deleted (default: 720h).
	Retention time.Duration `mapstructure:"retention"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}
	if c.StatementCacheCapacity > 0 {
		params.Set("statement_cache_capacity", fmt.Sprintf("%d", c.StatementCacheCapacity))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// GRPCAddress returns the gRPC server address.
func (c *ServerConfig) GRPCAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.GRPCPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("RESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/research-agent-service")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
// These fields are tagged with mapstructure:"-" to prevent loading from config files.
func loadSecrets(cfg *Config) {
	cfg.Sources.NewsAPI.APIKey = os.Getenv("RESEARCH_SOURCES_NEWSAPI_API_KEY")
	if cfg.Sources.NewsAPI.APIKey == "" {
		cfg.Sources.NewsAPI.APIKey = os.Getenv("NEWS_API_KEY")
	}
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "research")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "research_agent")
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.statement_timeout", "15s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)
	v.SetDefault("database.statement_cache_capacity", 512)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "research_agent")

	// Workflow defaults
	v.SetDefault("workflow.max_results", 5)
	v.SetDefault("workflow.summary_length", 280)
	v.SetDefault("workflow.max_keywords", 5)
	v.SetDefault("workflow.gather_timeout", "30s")
	v.SetDefault("workflow.stale_after", "10m")
	v.SetDefault("workflow.source_priority", []string{"wikipedia", "newsapi", "hackernews", "reddit"})
	v.SetDefault("workflow.transient_retries", 0)
	v.SetDefault("workflow.retry_backoff", "500ms")

	// Worker defaults
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.embedded", true)
	v.SetDefault("worker.sweep_interval", "1m")
	v.SetDefault("worker.pending_grace", "2m")
	v.SetDefault("worker.sweep_batch_size", 100)
	v.SetDefault("worker.nack_backoff", "5s")

	// Queue defaults
	v.SetDefault("queue.backend", QueueBackendMemory)
	v.SetDefault("queue.buffer_size", 1024)

	// Kafka defaults
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "research.jobs")
	v.SetDefault("kafka.group_id", "research-agent-workers")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "10ms")

	// Temporal defaults
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "research-agent")
	v.SetDefault("temporal.task_queue", "research-agent-tasks")

	// Sources defaults - Wikipedia
	v.SetDefault("sources.wikipedia.enabled", true)
	v.SetDefault("sources.wikipedia.base_url", "https://en.wikipedia.org")
	v.SetDefault("sources.wikipedia.timeout", "10s")
	v.SetDefault("sources.wikipedia.rate_limit", 10.0)

	// Sources defaults - NewsAPI (key loaded from environment, see loadSecrets)
	v.SetDefault("sources.newsapi.enabled", true)
	v.SetDefault("sources.newsapi.base_url", "https://newsapi.org/v2")
	v.SetDefault("sources.newsapi.timeout", "10s")
	v.SetDefault("sources.newsapi.rate_limit", 1.0)

	// Sources defaults - Hacker News
	v.SetDefault("sources.hackernews.enabled", true)
	v.SetDefault("sources.hackernews.base_url", "https://hn.algolia.com/api/v1")
	v.SetDefault("sources.hackernews.timeout", "10s")
	v.SetDefault("sources.hackernews.rate_limit", 10.0)

	// Sources defaults - Reddit
	v.SetDefault("sources.reddit.enabled", true)
	v.SetDefault("sources.reddit.base_url", "https://www.reddit.com")
	v.SetDefault("sources.reddit.timeout", "10s")
	v.SetDefault("sources.reddit.rate_limit", 1.0) // unauthenticated clients are throttled hard
	v.SetDefault("sources.reddit.subreddits", []string{"technology", "science", "news", "worldnews", "todayilearned"})
	v.SetDefault("sources.reddit.user_agent", "research-agent-service/1.0")

	// Cleanup defaults
	v.SetDefault("cleanup.enabled", true)
	v.SetDefault("cleanup.interval", "24h")
	v.SetDefault("cleanup.retention", "720h")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Validate server ports
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.GRPCPort <= 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.Server.GRPCPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	// Validate database config
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	// Validate workflow config
	if c.Workflow.MaxResults <= 0 {
		return fmt.Errorf("workflow max_results must be positive")
	}
	if c.Workflow.SummaryLength < 20 {
		return fmt.Errorf("workflow summary_length must be at least 20")
	}
	if c.Workflow.MaxKeywords <= 0 {
		return fmt.Errorf("workflow max_keywords must be positive")
	}
	if c.Workflow.GatherTimeout <= 0 {
		return fmt.Errorf("workflow gather_timeout must be positive")
	}
	if c.Workflow.StaleAfter <= c.Workflow.GatherTimeout {
		return fmt.Errorf("workflow stale_after (%s) must exceed gather_timeout (%s)",
			c.Workflow.StaleAfter, c.Workflow.GatherTimeout)
	}
	if c.Workflow.TransientRetries < 0 {
		return fmt.Errorf("workflow transient_retries must not be negative")
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be positive")
	}

	switch c.Queue.Backend {
	case QueueBackendMemory:
		if c.Queue.BufferSize <= 0 {
			return fmt.Errorf("queue buffer_size must be positive")
		}
		if !c.Worker.Embedded {
			return fmt.Errorf("the memory queue backend requires worker.embedded")
		}
	case QueueBackendKafka:
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			return fmt.Errorf("kafka brokers and topic are required for the kafka queue backend")
		}
	case QueueBackendTemporal:
		if c.Temporal.HostPort == "" || c.Temporal.TaskQueue == "" {
			return fmt.Errorf("temporal host_port and task_queue are required for the temporal queue backend")
		}
	default:
		return fmt.Errorf("unknown queue backend: %q", c.Queue.Backend)
	}

	if c.Cleanup.Enabled && (c.Cleanup.Interval <= 0 || c.Cleanup.Retention <= 0) {
		return fmt.Errorf("cleanup interval and retention must be positive when cleanup is enabled")
	}

	return nil
}
