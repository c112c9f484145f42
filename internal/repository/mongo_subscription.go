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

// MongoSubscriptionRepository implements domain.SubscriptionRepository.
// Status writes go through version- or status-filtered updates so that
// transitions on one row are totally ordered; a filter miss surfaces as
// domain.ErrConcurrencyConflict (or false from CASStatus) and never as a
// silent lost update.
type MongoSubscriptionRepository struct {
	collection *mongo.Collection
}

// NewMongoSubscriptionRepository creates a new subscription repository
func NewMongoSubscriptionRepository(db *mongo.Database) *MongoSubscriptionRepository {
	return &MongoSubscriptionRepository{
		collection: db.Collection("subscriptions"),
	}
}

func (r *MongoSubscriptionRepository) Create(ctx context.Context, sub *domain.Subscription) error {
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	sub.Version = 1
	if sub.Status == "" {
		sub.Status = domain.SubscriptionPending
	}
	if sub.ID == "" {
		sub.ID = primitive.NewObjectID().Hex()
	}

	if _, err := r.collection.InsertOne(ctx, sub); err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

func (r *MongoSubscriptionRepository) GetByID(ctx context.Context, id string) (*domain.Subscription, error) {
	var sub domain.Subscription
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&sub); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &sub, nil
}

func (r *MongoSubscriptionRepository) GetByCustomerID(ctx context.Context, customerID string) ([]*domain.Subscription, error) {
	return r.find(ctx, bson.M{"customer_id": customerID}, 0)
}

func (r *MongoSubscriptionRepository) GetActiveByCustomerID(ctx context.Context, customerID string) (*domain.Subscription, error) {
	filter := bson.M{
		"customer_id": customerID,
		"status":      domain.SubscriptionActive,
	}

	var sub domain.Subscription
	if err := r.collection.FindOne(ctx, filter).Decode(&sub); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get active subscription: %w", err)
	}
	return &sub, nil
}

// UpdateCAS writes all mutable fields filtered on the version the caller
// loaded. The version bump rides in the same update, so two racing writers
// cannot both match.
func (r *MongoSubscriptionRepository) UpdateCAS(ctx context.Context, sub *domain.Subscription) error {
	sub.UpdatedAt = time.Now().UTC()

	filter := bson.M{"_id": sub.ID, "version": sub.Version}
	update := bson.M{
		"$set": bson.M{
			"package_id":             sub.PackageID,
			"status":                 sub.Status,
			"starts_at":              sub.StartsAt,
			"expires_at":             sub.ExpiresAt,
			"sessions_used":          sub.SessionsUsed,
			"is_trial":               sub.IsTrial,
			"auto_renew":             sub.AutoRenew,
			"renewal_package_id":     sub.RenewalPackageID,
			"suspend_reason":         sub.SuspendReason,
			"expiry_warning_sent_at": sub.ExpiryWarningSentAt,
			"needs_aaa_sync":         sub.NeedsAaaSync,
			"last_sync_error":        sub.LastSyncError,
			"updated_at":             sub.UpdatedAt,
		},
		"$inc": bson.M{"version": 1},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if result.MatchedCount == 0 {
		// Row is gone or someone else committed first.
		if _, getErr := r.GetByID(ctx, sub.ID); getErr != nil {
			return getErr
		}
		return domain.ErrConcurrencyConflict
	}
	sub.Version++
	return nil
}

// AddUsage atomically increments data_used and returns the post-increment
// total, so two concurrent increments both land and the caller sees a total
// reflecting its own write.
func (r *MongoSubscriptionRepository) AddUsage(ctx context.Context, id string, bytes int64, sessions int) (int64, error) {
	filter := bson.M{"_id": id}
	update := bson.M{
		"$inc": bson.M{"data_used": bytes, "sessions_used": sessions},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated domain.Subscription
	if err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated); err != nil {
		if err == mongo.ErrNoDocuments {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("failed to add usage: %w", err)
	}
	return updated.DataUsed, nil
}

// ResetUsage zeroes the byte counter for a fresh validity cycle.
func (r *MongoSubscriptionRepository) ResetUsage(ctx context.Context, id string) error {
	update := bson.M{"$set": bson.M{
		"data_used":  int64(0),
		"updated_at": time.Now().UTC(),
	}}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to reset usage: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CASStatus flips status only when the row still holds from. Exactly one of
// several racing callers sees true.
func (r *MongoSubscriptionRepository) CASStatus(ctx context.Context, id string, from, to domain.SubscriptionStatus, reason string) (bool, error) {
	filter := bson.M{"_id": id, "status": from}
	update := bson.M{
		"$set": bson.M{
			"status":         to,
			"suspend_reason": reason,
			"updated_at":     time.Now().UTC(),
		},
		"$inc": bson.M{"version": 1},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to CAS subscription status: %w", err)
	}
	return result.MatchedCount == 1, nil
}

func (r *MongoSubscriptionRepository) SetNeedsAaaSync(ctx context.Context, id string, needs bool, syncErr string) error {
	update := bson.M{"$set": bson.M{
		"needs_aaa_sync":  needs,
		"last_sync_error": syncErr,
		"updated_at":      time.Now().UTC(),
	}}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to set aaa sync flag: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *MongoSubscriptionRepository) MarkExpiryWarningSent(ctx context.Context, id string, at time.Time) error {
	update := bson.M{"$set": bson.M{
		"expiry_warning_sent_at": at,
		"updated_at":             time.Now().UTC(),
	}}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to mark expiry warning: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *MongoSubscriptionRepository) FindDueForExpiry(ctx context.Context, now time.Time) ([]*domain.Subscription, error) {
	filter := bson.M{
		"status":     bson.M{"$in": []domain.SubscriptionStatus{domain.SubscriptionActive, domain.SubscriptionSuspended}},
		"expires_at": bson.M{"$lte": now},
	}
	return r.find(ctx, filter, 0)
}

func (r *MongoSubscriptionRepository) FindDueForAutoRenew(ctx context.Context, before time.Time) ([]*domain.Subscription, error) {
	filter := bson.M{
		"auto_renew": true,
		"status":     domain.SubscriptionActive,
		"expires_at": bson.M{"$lte": before},
	}
	return r.find(ctx, filter, 0)
}

func (r *MongoSubscriptionRepository) FindNeedingAaaSync(ctx context.Context, limit int64) ([]*domain.Subscription, error) {
	return r.find(ctx, bson.M{"needs_aaa_sync": true}, limit)
}

func (r *MongoSubscriptionRepository) FindDueForExpiryWarning(ctx context.Context, now, windowEnd time.Time) ([]*domain.Subscription, error) {
	filter := bson.M{
		"status":                 domain.SubscriptionActive,
		"expires_at":             bson.M{"$gt": now, "$lte": windowEnd},
		"expiry_warning_sent_at": nil,
	}
	return r.find(ctx, filter, 0)
}

func (r *MongoSubscriptionRepository) CountByPackageID(ctx context.Context, packageID string) (int64, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{"package_id": packageID})
	if err != nil {
		return 0, fmt.Errorf("failed to count subscriptions by package: %w", err)
	}
	return count, nil
}

func (r *MongoSubscriptionRepository) find(ctx context.Context, filter bson.M, limit int64) ([]*domain.Subscription, error) {
	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer cursor.Close(ctx)

	var subs []*domain.Subscription
	if err := cursor.All(ctx, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}
