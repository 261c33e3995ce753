package mongo

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tradewind-settlement/internal/domain/deadletter"
)

const (
	// DeadLetterCollectionName is the name of the dead-letter collection in MongoDB
	DeadLetterCollectionName = "compensation_dead_letters"

	// AttemptCollectionName holds the durable per-saga attempt counters
	AttemptCollectionName = "compensation_attempts"
)

// DeadLetterRepository implements the deadletter.Store interface for MongoDB
type DeadLetterRepository struct {
	db     *mongo.Database
	logger *slog.Logger
}

// NewDeadLetterRepository creates a new MongoDB dead-letter repository
func NewDeadLetterRepository(logger *slog.Logger, db *mongo.Database) deadletter.Store {
	return &DeadLetterRepository{
		db:     db,
		logger: logger,
	}
}

// Save upserts a dead-lettered case keyed by event id, so re-filing the same
// exhausted compensation is idempotent
func (r *DeadLetterRepository) Save(ctx context.Context, record *deadletter.Record) error {
	collection := r.db.Collection(DeadLetterCollectionName)

	filter := bson.M{"event_id": record.EventID}
	update := bson.M{"$set": record}
	opts := options.Update().SetUpsert(true)

	_, err := collection.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		r.logger.Error("Failed to save dead-letter record",
			"event_id", record.EventID.String(),
			"trade_id", record.TradeID.String(),
			"error", err)
		return fmt.Errorf("failed to save dead-letter record: %w", err)
	}

	return nil
}

// GetByTradeID returns all dead-lettered cases for a trade
func (r *DeadLetterRepository) GetByTradeID(ctx context.Context, tradeID uuid.UUID) ([]*deadletter.Record, error) {
	collection := r.db.Collection(DeadLetterCollectionName)

	cursor, err := collection.Find(ctx, bson.M{"trade_id": tradeID})
	if err != nil {
		r.logger.Error("Failed to query dead-letter records", "trade_id", tradeID.String(), "error", err)
		return nil, fmt.Errorf("failed to query dead-letter records: %w", err)
	}
	defer cursor.Close(ctx)

	var records []*deadletter.Record
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode dead-letter records: %w", err)
	}

	return records, nil
}

// IncrementAttempts bumps the attempt counter for a saga with an atomic
// upsert and returns the post-increment count. The counter survives process
// restarts, so a crash-looping compensator still converges on the dead letter
// instead of granting itself fresh attempts.
func (r *DeadLetterRepository) IncrementAttempts(ctx context.Context, sagaID uuid.UUID) (int, error) {
	collection := r.db.Collection(AttemptCollectionName)

	filter := bson.M{"saga_id": sagaID}
	update := bson.M{"$inc": bson.M{"attempts": 1}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc struct {
		Attempts int `bson:"attempts"`
	}
	if err := collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		r.logger.Error("Failed to increment compensation attempts", "saga_id", sagaID.String(), "error", err)
		return 0, fmt.Errorf("failed to increment compensation attempts: %w", err)
	}

	return doc.Attempts, nil
}

// ClearAttempts removes the attempt counter for a resolved or filed case
func (r *DeadLetterRepository) ClearAttempts(ctx context.Context, sagaID uuid.UUID) error {
	collection := r.db.Collection(AttemptCollectionName)

	if _, err := collection.DeleteOne(ctx, bson.M{"saga_id": sagaID}); err != nil {
		r.logger.Error("Failed to clear compensation attempts", "saga_id", sagaID.String(), "error", err)
		return fmt.Errorf("failed to clear compensation attempts: %w", err)
	}

	return nil
}

// Count returns the total number of dead-lettered cases
func (r *DeadLetterRepository) Count(ctx context.Context) (int64, error) {
	collection := r.db.Collection(DeadLetterCollectionName)

	count, err := collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("failed to count dead-letter records: %w", err)
	}

	return count, nil
}
