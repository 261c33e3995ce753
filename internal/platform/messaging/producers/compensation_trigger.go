package producers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/tradewind-settlement/internal/config"
)

// CompensationTriggerProducer publishes compensation triggers. Triggers are
// keyed by saga id so redeliveries and retries of one saga stay ordered.
type CompensationTriggerProducer struct {
	logger *slog.Logger
	writer KafkaWriter
	topic  string
}

// NewCompensationTriggerProducer creates the trigger producer and ensures the topic exists
func NewCompensationTriggerProducer(ctx context.Context, logger *slog.Logger, cfg *config.KafkaConfig) (*CompensationTriggerProducer, error) {
	if cfg.CompensationTopic == "" {
		return nil, fmt.Errorf("kafka compensation topic is not configured")
	}

	conn, err := kafka.Dial("tcp", cfg.Brokers)
	if err != nil {
		return nil, fmt.Errorf("failed to dial kafka for compensation producer: %w", err)
	}
	defer conn.Close()

	err = createKafkaTopicIfNotExists(conn, cfg.CompensationTopic, cfg.NumPartitions, cfg.ReplicationFactor, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure compensation topic %s exists: %w", cfg.CompensationTopic, err)
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers),
		Topic:        cfg.CompensationTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		WriteTimeout: cfg.MaxWait,
	}

	return &CompensationTriggerProducer{
		logger: logger,
		writer: writer,
		topic:  cfg.CompensationTopic,
	}, nil
}

func (p *CompensationTriggerProducer) Publish(ctx context.Context, key string, value interface{}) error {
	jsonValue, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal compensation trigger: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: jsonValue,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish compensation trigger",
			"topic", p.topic,
			"key", key,
			"error", err,
		)
		return fmt.Errorf("failed to publish compensation trigger to %s: %w", p.topic, err)
	}

	p.logger.Debug("Published compensation trigger",
		"topic", p.topic,
		"key", key,
	)
	return nil
}

func (p *CompensationTriggerProducer) Close() error {
	p.logger.Info("Closing compensation trigger producer", "topic", p.topic)
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer for topic %s: %w", p.topic, err)
	}
	return nil
}
