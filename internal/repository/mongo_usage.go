package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/nusawave/prepaidnet/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoUsageRepository implements domain.UsageRepository over the
// data_usage collection, one row per (subscription, day).
type MongoUsageRepository struct {
	collection *mongo.Collection
}

// NewMongoUsageRepository creates a new usage repository
func NewMongoUsageRepository(db *mongo.Database) *MongoUsageRepository {
	return &MongoUsageRepository{
		collection: db.Collection("data_usage"),
	}
}

func (r *MongoUsageRepository) UpsertDaily(ctx context.Context, subscriptionID, date string, delta domain.UsageDelta) error {
	now := time.Now().UTC()
	filter := bson.M{
		"subscription_id": subscriptionID,
		"date":            date,
	}
	update := bson.M{
		"$inc": bson.M{
			"bytes_up":        delta.BytesUp,
			"bytes_down":      delta.BytesDown,
			"bytes_total":     delta.BytesUp + delta.BytesDown,
			"session_count":   delta.SessionDelta,
			"session_seconds": delta.SecondsDelta,
		},
		"$max": bson.M{"peak_concurrent": delta.ConcurrentNow},
		"$set": bson.M{"updated_at": now},
		"$setOnInsert": bson.M{
			"_id":        primitive.NewObjectID().Hex(),
			"created_at": now,
		},
	}

	_, err := r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert daily usage: %w", err)
	}
	return nil
}

func (r *MongoUsageRepository) GetDaily(ctx context.Context, subscriptionID, date string) (*domain.DataUsageRecord, error) {
	filter := bson.M{
		"subscription_id": subscriptionID,
		"date":            date,
	}

	var rec domain.DataUsageRecord
	if err := r.collection.FindOne(ctx, filter).Decode(&rec); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get daily usage: %w", err)
	}
	return &rec, nil
}

func (r *MongoUsageRepository) ListBySubscription(ctx context.Context, subscriptionID string, from, to string) ([]*domain.DataUsageRecord, error) {
	filter := bson.M{"subscription_id": subscriptionID}
	dateRange := bson.M{}
	if from != "" {
		dateRange["$gte"] = from
	}
	if to != "" {
		dateRange["$lte"] = to
	}
	if len(dateRange) > 0 {
		filter["date"] = dateRange
	}

	cursor, err := r.collection.Find(ctx, filter, options.Find().SetSort(bson.M{"date": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}
	defer cursor.Close(ctx)

	var records []*domain.DataUsageRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// MongoAccountingRepository implements domain.AccountingRepository over the
// accounting_sessions collection.
type MongoAccountingRepository struct {
	collection *mongo.Collection
}

// NewMongoAccountingRepository creates a new accounting repository
func NewMongoAccountingRepository(db *mongo.Database) *MongoAccountingRepository {
	return &MongoAccountingRepository{
		collection: db.Collection("accounting_sessions"),
	}
}

func (r *MongoAccountingRepository) CreateSession(ctx context.Context, s *domain.AccountingSession) error {
	// Insert-if-absent on the natural key keeps replayed start records from
	// producing a second row.
	if existing, err := r.GetByNaturalKey(ctx, s.NaturalKey); err == nil && existing != nil {
		return domain.ErrDuplicateAccounting
	}

	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now
	if s.State == "" {
		s.State = domain.SessionOpen
	}
	if s.ID == "" {
		s.ID = primitive.NewObjectID().Hex()
	}

	if _, err := r.collection.InsertOne(ctx, s); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrDuplicateAccounting
		}
		return fmt.Errorf("failed to create accounting session: %w", err)
	}
	return nil
}

func (r *MongoAccountingRepository) GetByNaturalKey(ctx context.Context, key string) (*domain.AccountingSession, error) {
	var s domain.AccountingSession
	if err := r.collection.FindOne(ctx, bson.M{"natural_key": key}).Decode(&s); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get accounting session: %w", err)
	}
	return &s, nil
}

// AdvanceCounters moves the session's cumulative byte counters forward with
// $max and returns the delta actually applied. FindOneAndUpdate serializes
// per document, so a replayed or reordered record sees counters already at
// (or past) its values and folds in a zero delta.
func (r *MongoAccountingRepository) AdvanceCounters(ctx context.Context, key string, bytesIn, bytesOut int64, seenAt time.Time) (int64, int64, error) {
	filter := bson.M{"natural_key": key}
	update := bson.M{
		"$max": bson.M{
			"last_bytes_in":  bytesIn,
			"last_bytes_out": bytesOut,
		},
		"$set": bson.M{
			"last_seen_at": seenAt,
			"updated_at":   time.Now().UTC(),
		},
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.Before)
	var before domain.AccountingSession
	if err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&before); err != nil {
		if err == mongo.ErrNoDocuments {
			return 0, 0, domain.ErrNotFound
		}
		return 0, 0, fmt.Errorf("failed to advance session counters: %w", err)
	}

	inDelta := bytesIn - before.LastBytesIn
	if inDelta < 0 {
		inDelta = 0
	}
	outDelta := bytesOut - before.LastBytesOut
	if outDelta < 0 {
		outDelta = 0
	}
	return inDelta, outDelta, nil
}

func (r *MongoAccountingRepository) CloseSession(ctx context.Context, key string, stoppedAt time.Time, state domain.SessionState) error {
	filter := bson.M{"natural_key": key, "state": domain.SessionOpen}
	update := bson.M{"$set": bson.M{
		"state":      state,
		"stopped_at": stoppedAt,
		"updated_at": time.Now().UTC(),
	}}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to close accounting session: %w", err)
	}
	if result.MatchedCount == 0 {
		// Already closed: fine for replayed stop records.
		if _, getErr := r.GetByNaturalKey(ctx, key); getErr != nil {
			return getErr
		}
	}
	return nil
}

func (r *MongoAccountingRepository) CountOpenByUsername(ctx context.Context, username string) (int64, error) {
	filter := bson.M{"username": username, "state": domain.SessionOpen}
	count, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to count open sessions: %w", err)
	}
	return count, nil
}

func (r *MongoAccountingRepository) FindOpenBySubscriptionIDs(ctx context.Context, subscriptionIDs []string) ([]*domain.AccountingSession, error) {
	filter := bson.M{
		"subscription_id": bson.M{"$in": subscriptionIDs},
		"state":           domain.SessionOpen,
	}
	return r.find(ctx, filter, 0)
}

func (r *MongoAccountingRepository) FindOpenSessions(ctx context.Context, limit int64) ([]*domain.AccountingSession, error) {
	return r.find(ctx, bson.M{"state": domain.SessionOpen}, limit)
}

func (r *MongoAccountingRepository) find(ctx context.Context, filter bson.M, limit int64) ([]*domain.AccountingSession, error) {
	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounting sessions: %w", err)
	}
	defer cursor.Close(ctx)

	var sessions []*domain.AccountingSession
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}
