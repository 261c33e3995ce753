// Package config provides configuration structures and validation for the application.
// It handles environment-based configuration for all major components including
// server settings, database connections, the message broker, and the background
// consistency machinery (relay, timeout scheduler, compensation, reconciliation).
package config

import (
	"errors"
	"strings"
	"time"
)

// Config holds the complete application configuration with settings for all components.
// Each field represents a major subsystem's configuration and is validated during
// application startup.
type Config struct {
	Application    ApplicationConfig
	Logging        LoggingConfig
	Server         ServerConfig
	Kafka          KafkaConfig
	Postgres       PostgresConfig
	MongoDB        MongoDBConfig
	Settlement     SettlementConfig
	Relay          RelayConfig
	Scheduler      SchedulerConfig
	Compensation   CompensationConfig
	Reconciliation ReconciliationConfig
	WorkerPool     WorkerPoolConfig
}

// ApplicationConfig contains general application configuration
type ApplicationConfig struct {
	Env  string
	Name string
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port            int           // Port to listen on
	ShutdownTimeout time.Duration // Grace period for server shutdown
	ReadTimeout     time.Duration // Maximum duration for reading entire request
	WriteTimeout    time.Duration // Maximum duration for writing response
	IdleTimeout     time.Duration // Maximum duration to wait for next request
}

// KafkaConfig contains Kafka configuration
type KafkaConfig struct {
	Brokers           string
	EventTopic        string // Topic the change-relay publishes domain events to
	CompensationTopic string // Topic carrying compensation triggers
	NumPartitions     int    // Number of partitions for topics
	ReplicationFactor int    // Replication factor for topics
	ConsumerGroup     string
	MinBytes          int
	MaxBytes          int
	MaxWait           time.Duration
	DLQTopic          string // Topic for dead-lettered messages and loud alerts
}

// PostgresConfig contains PostgreSQL configuration
type PostgresConfig struct {
	URL             string        // Database connection string
	MaxConns        int32         // Maximum number of open connections
	MinConns        int32         // Maximum number of idle connections
	ConnMaxLifetime time.Duration // Maximum lifetime of a connection
	ConnMaxIdleTime time.Duration // Maximum idle time of a connection
	MigrationsPath  string        // Path to migration files
}

// MongoDBConfig contains MongoDB configuration for the dead-letter store
type MongoDBConfig struct {
	URI             string
	Database        string
	Timeout         time.Duration
	MaxPoolSize     uint64
	MinPoolSize     uint64
	MaxConnIdleTime time.Duration
}

// SettlementConfig contains account-mutation settings
type SettlementConfig struct {
	LockTimeout time.Duration // Pessimistic row-lock acquisition bound
	SagaTimeout time.Duration // Deadline given to a new settlement saga
}

// RelayConfig contains change-relay settings
type RelayConfig struct {
	PollInterval    time.Duration // How often the change stream is drained
	BatchSize       int           // Maximum rows fetched per drain
	StalenessWindow time.Duration // Health turns unhealthy past this without events
}

// SchedulerConfig contains timeout-sweep settings
type SchedulerConfig struct {
	SweepInterval     time.Duration // Period of the saga timeout sweep
	ReservationExpiry time.Duration // ACTIVE reservations older than this are force-expired
}

// CompensationConfig contains compensation retry policy
type CompensationConfig struct {
	BaseBackoff    time.Duration // First retry delay; doubles per attempt
	MaxAttempts    int           // Attempts before dead-lettering
	AttemptMapSize int           // Bound on the in-memory attempt map
}

// ReconciliationConfig contains auditor settings
type ReconciliationConfig struct {
	Interval          time.Duration
	InitialBalance    string  // Balance accounts are replayed from, decimal string
	Epsilon           string  // Tolerated divergence, decimal string (e.g. "0.01")
	WarnThresholdRate float64 // Consistency rate below this raises a warning (e.g. 99.99)
}

// WorkerPoolConfig contains worker pool configuration
type WorkerPoolConfig struct {
	Size int // Maximum number of workers in the pool
}

// validate performs comprehensive validation of all configuration values,
// ensuring they meet minimum requirements and logical constraints
func (c *Config) validate() error {
	var validationErrors []string

	// Validate Server config
	if c.Server.Port <= 0 {
		validationErrors = append(validationErrors, "SERVER_PORT must be greater than 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_SHUTDOWN_TIMEOUT must be greater than 0")
	}
	if c.Server.ReadTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_READ_TIMEOUT must be greater than 0")
	}
	if c.Server.WriteTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_WRITE_TIMEOUT must be greater than 0")
	}
	if c.Server.IdleTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_IDLE_TIMEOUT must be greater than 0")
	}

	// Validate Kafka config
	if len(c.Kafka.Brokers) == 0 {
		validationErrors = append(validationErrors, "KAFKA_BROKERS is required")
	}
	if c.Kafka.EventTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_EVENT_TOPIC is required")
	}
	if c.Kafka.CompensationTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_COMPENSATION_TOPIC is required")
	}
	if c.Kafka.ConsumerGroup == "" {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_GROUP is required")
	}
	if c.Kafka.MinBytes <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MIN_BYTES must be greater than 0")
	}
	if c.Kafka.MaxBytes <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MAX_BYTES must be greater than 0")
	}
	if c.Kafka.MaxWait <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MAX_WAIT must be greater than 0")
	}
	if c.Kafka.DLQTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_DLQ_TOPIC is required")
	}

	// Validate PostgreSQL config
	if c.Postgres.URL == "" {
		validationErrors = append(validationErrors, "POSTGRES_URL is required")
	}
	if c.Postgres.MaxConns <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONNS must be greater than 0")
	}
	if c.Postgres.MinConns <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MIN_CONNS must be greater than 0")
	}
	if c.Postgres.ConnMaxLifetime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_LIFETIME must be greater than 0")
	}
	if c.Postgres.ConnMaxIdleTime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_IDLE_TIME must be greater than 0")
	}

	// Validate MongoDB config
	if c.MongoDB.URI == "" {
		validationErrors = append(validationErrors, "MONGO_URI is required")
	}
	if c.MongoDB.Database == "" {
		validationErrors = append(validationErrors, "MONGO_DATABASE is required")
	}
	if c.MongoDB.Timeout <= 0 {
		validationErrors = append(validationErrors, "MONGO_TIMEOUT must be greater than 0")
	}
	if c.MongoDB.MaxPoolSize <= 0 {
		validationErrors = append(validationErrors, "MONGO_MAX_POOL_SIZE must be greater than 0")
	}
	if c.MongoDB.MinPoolSize <= 0 {
		validationErrors = append(validationErrors, "MONGO_MIN_POOL_SIZE must be greater than 0")
	}
	if c.MongoDB.MaxConnIdleTime <= 0 {
		validationErrors = append(validationErrors, "MONGO_MAX_CONN_IDLE_TIME must be greater than 0")
	}

	// Validate Settlement config
	if c.Settlement.LockTimeout <= 0 {
		validationErrors = append(validationErrors, "SETTLEMENT_LOCK_TIMEOUT must be greater than 0")
	}
	if c.Settlement.SagaTimeout <= c.Settlement.LockTimeout {
		validationErrors = append(validationErrors, "SETTLEMENT_SAGA_TIMEOUT must be greater than SETTLEMENT_LOCK_TIMEOUT")
	}

	// Validate Relay config
	if c.Relay.PollInterval <= 0 {
		validationErrors = append(validationErrors, "RELAY_POLL_INTERVAL must be greater than 0")
	}
	if c.Relay.BatchSize <= 0 {
		validationErrors = append(validationErrors, "RELAY_BATCH_SIZE must be greater than 0")
	}
	if c.Relay.StalenessWindow <= 0 {
		validationErrors = append(validationErrors, "RELAY_STALENESS_WINDOW must be greater than 0")
	}

	// Validate Scheduler config
	if c.Scheduler.SweepInterval <= 0 {
		validationErrors = append(validationErrors, "SCHEDULER_SWEEP_INTERVAL must be greater than 0")
	}
	if c.Scheduler.ReservationExpiry <= 0 {
		validationErrors = append(validationErrors, "SCHEDULER_RESERVATION_EXPIRY must be greater than 0")
	}

	// Validate Compensation config
	if c.Compensation.BaseBackoff <= 0 {
		validationErrors = append(validationErrors, "COMPENSATION_BASE_BACKOFF must be greater than 0")
	}
	if c.Compensation.MaxAttempts <= 0 {
		validationErrors = append(validationErrors, "COMPENSATION_MAX_ATTEMPTS must be greater than 0")
	}
	if c.Compensation.AttemptMapSize <= 0 {
		validationErrors = append(validationErrors, "COMPENSATION_ATTEMPT_MAP_SIZE must be greater than 0")
	}

	// Validate Reconciliation config
	if c.Reconciliation.Interval <= 0 {
		validationErrors = append(validationErrors, "RECONCILIATION_INTERVAL must be greater than 0")
	}
	if c.Reconciliation.Epsilon == "" {
		validationErrors = append(validationErrors, "RECONCILIATION_EPSILON is required")
	}
	if c.Reconciliation.WarnThresholdRate <= 0 || c.Reconciliation.WarnThresholdRate > 100 {
		validationErrors = append(validationErrors, "RECONCILIATION_WARN_THRESHOLD_RATE must be in (0, 100]")
	}

	// Validate WorkerPool config
	if c.WorkerPool.Size <= 0 {
		validationErrors = append(validationErrors, "WORKER_POOL_SIZE must be greater than 0")
	}

	if len(validationErrors) > 0 {
		return errors.New(strings.Join(validationErrors, ", "))
	}

	return nil
}
