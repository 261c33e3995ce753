package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_HappyPath(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "config_test")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	tempConfigsSubDir := filepath.Join(tempDir, "configs")
	err = os.Mkdir(tempConfigsSubDir, 0755)
	require.NoError(t, err)

	testAppName := "TestApp"
	testPort := 9090
	testLogLevel := "debug"
	testKafkaBrokers := "kafka1:9092,kafka2:9092"

	envContent := fmt.Sprintf(
		"APP_NAME=%s\nSERVER_PORT=%d\nLOG_LEVEL=%s\nKAFKA_BROKERS=%s\n",
		testAppName, testPort, testLogLevel, testKafkaBrokers,
	)
	envFilePath := filepath.Join(tempConfigsSubDir, "test_happy.env")
	err = os.WriteFile(envFilePath, []byte(envContent), 0644)
	require.NoError(t, err)

	originalWD, err := os.Getwd()
	require.NoError(t, err)
	defer func() {
		_ = os.Chdir(originalWD)
	}()

	err = os.Chdir(tempDir)
	require.NoError(t, err)

	cfg, err := LoadConfig("test_happy")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, testAppName, cfg.Application.Name)
	assert.Equal(t, testPort, cfg.Server.Port)
	assert.Equal(t, testLogLevel, cfg.Logging.Level)
	assert.Equal(t, testKafkaBrokers, cfg.Kafka.Brokers)

	assert.Equal(t, "development", cfg.Application.Env)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "settlement_events", cfg.Kafka.EventTopic)
	assert.Equal(t, "compensation_triggers", cfg.Kafka.CompensationTopic)
	assert.Equal(t, "mongodb://localhost:27017", cfg.MongoDB.URI)
	assert.Equal(t, 3*time.Second, cfg.Settlement.LockTimeout)
	assert.Equal(t, 30*time.Second, cfg.Settlement.SagaTimeout)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.SweepInterval)
	assert.Equal(t, 5, cfg.Compensation.MaxAttempts)
	assert.Equal(t, "0.01", cfg.Reconciliation.Epsilon)
	assert.Equal(t, 10, cfg.WorkerPool.Size)

	cfgWithName, err := LoadConfigWithName("configs/test_happy") // Viper will look for configs/test_happy.env
	require.NoError(t, err)
	require.NotNil(t, cfgWithName)
	assert.Equal(t, testAppName, cfgWithName.Application.Name)

	// Test LoadConfigWithNameAndType
	cfgWithNameAndType, err := LoadConfigWithNameAndType("configs/test_happy", "env")
	require.NoError(t, err)
	require.NotNil(t, cfgWithNameAndType)
	assert.Equal(t, testAppName, cfgWithNameAndType.Application.Name)
}

func TestConfig_Validate_Defaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{
		Application: ApplicationConfig{Env: v.GetString("APP_ENV"), Name: v.GetString("APP_NAME")},
		Logging:     LoggingConfig{Level: v.GetString("LOG_LEVEL")},
		Server: ServerConfig{
			Port:            v.GetInt("SERVER_PORT"),
			ShutdownTimeout: v.GetDuration("SERVER_SHUTDOWN_TIMEOUT"),
			ReadTimeout:     v.GetDuration("SERVER_READ_TIMEOUT"),
			WriteTimeout:    v.GetDuration("SERVER_WRITE_TIMEOUT"),
			IdleTimeout:     v.GetDuration("SERVER_IDLE_TIMEOUT"),
		},
		Kafka: KafkaConfig{
			Brokers:           v.GetString("KAFKA_BROKERS"),
			EventTopic:        v.GetString("KAFKA_EVENT_TOPIC"),
			CompensationTopic: v.GetString("KAFKA_COMPENSATION_TOPIC"),
			NumPartitions:     v.GetInt("KAFKA_NUM_PARTITIONS"),
			ReplicationFactor: v.GetInt("KAFKA_REPLICATION_FACTOR"),
			ConsumerGroup:     v.GetString("KAFKA_CONSUMER_GROUP"),
			MinBytes:          v.GetInt("KAFKA_CONSUMER_MIN_BYTES"),
			MaxBytes:          v.GetInt("KAFKA_CONSUMER_MAX_BYTES"),
			MaxWait:           v.GetDuration("KAFKA_CONSUMER_MAX_WAIT"),
			DLQTopic:          v.GetString("KAFKA_DLQ_TOPIC"),
		},
		Postgres: PostgresConfig{
			URL:             v.GetString("POSTGRES_URL"),
			MaxConns:        int32(v.GetInt("POSTGRES_MAX_CONNS")),
			MinConns:        int32(v.GetInt("POSTGRES_MIN_CONNS")),
			ConnMaxLifetime: v.GetDuration("POSTGRES_MAX_CONN_LIFETIME"),
			ConnMaxIdleTime: v.GetDuration("POSTGRES_MAX_CONN_IDLE_TIME"),
			MigrationsPath:  v.GetString("POSTGRES_MIGRATIONS_PATH"),
		},
		MongoDB: MongoDBConfig{
			URI:             v.GetString("MONGO_URI"),
			Database:        v.GetString("MONGO_DATABASE"),
			Timeout:         v.GetDuration("MONGO_TIMEOUT"),
			MaxPoolSize:     uint64(v.GetInt("MONGO_MAX_POOL_SIZE")),
			MinPoolSize:     uint64(v.GetInt("MONGO_MIN_POOL_SIZE")),
			MaxConnIdleTime: v.GetDuration("MONGO_MAX_CONN_IDLE_TIME"),
		},
		Settlement: SettlementConfig{
			LockTimeout: v.GetDuration("SETTLEMENT_LOCK_TIMEOUT"),
			SagaTimeout: v.GetDuration("SETTLEMENT_SAGA_TIMEOUT"),
		},
		Relay: RelayConfig{
			PollInterval:    v.GetDuration("RELAY_POLL_INTERVAL"),
			BatchSize:       v.GetInt("RELAY_BATCH_SIZE"),
			StalenessWindow: v.GetDuration("RELAY_STALENESS_WINDOW"),
		},
		Scheduler: SchedulerConfig{
			SweepInterval:     v.GetDuration("SCHEDULER_SWEEP_INTERVAL"),
			ReservationExpiry: v.GetDuration("SCHEDULER_RESERVATION_EXPIRY"),
		},
		Compensation: CompensationConfig{
			BaseBackoff:    v.GetDuration("COMPENSATION_BASE_BACKOFF"),
			MaxAttempts:    v.GetInt("COMPENSATION_MAX_ATTEMPTS"),
			AttemptMapSize: v.GetInt("COMPENSATION_ATTEMPT_MAP_SIZE"),
		},
		Reconciliation: ReconciliationConfig{
			Interval:          v.GetDuration("RECONCILIATION_INTERVAL"),
			InitialBalance:    v.GetString("RECONCILIATION_INITIAL_BALANCE"),
			Epsilon:           v.GetString("RECONCILIATION_EPSILON"),
			WarnThresholdRate: v.GetFloat64("RECONCILIATION_WARN_THRESHOLD_RATE"),
		},
		WorkerPool: WorkerPoolConfig{
			Size: v.GetInt("WORKER_POOL_SIZE"),
		},
	}
	err := cfg.validate()
	assert.NoError(t, err, "Default config should be valid")
}

func TestConfig_Validate_AggregatesViolations(t *testing.T) {
	cfg := &Config{
		Settlement: SettlementConfig{
			LockTimeout: 30 * time.Second,
			SagaTimeout: 3 * time.Second, // must exceed the lock timeout
		},
	}

	err := cfg.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SETTLEMENT_SAGA_TIMEOUT must be greater than SETTLEMENT_LOCK_TIMEOUT")
	assert.Contains(t, err.Error(), "KAFKA_BROKERS is required")
}
