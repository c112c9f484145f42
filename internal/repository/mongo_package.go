package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/nusawave/prepaidnet/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoPackageRepository implements domain.PackageRepository
type MongoPackageRepository struct {
	collection *mongo.Collection
}

// NewMongoPackageRepository creates a new package repository
func NewMongoPackageRepository(db *mongo.Database) *MongoPackageRepository {
	return &MongoPackageRepository{
		collection: db.Collection("packages"),
	}
}

func (r *MongoPackageRepository) Create(ctx context.Context, pkg *domain.Package) error {
	now := time.Now().UTC()
	pkg.CreatedAt = now
	pkg.UpdatedAt = now
	if pkg.ID == "" {
		pkg.ID = primitive.NewObjectID().Hex()
	}

	if _, err := r.collection.InsertOne(ctx, pkg); err != nil {
		return fmt.Errorf("failed to create package: %w", err)
	}
	return nil
}

func (r *MongoPackageRepository) GetByID(ctx context.Context, id string) (*domain.Package, error) {
	var pkg domain.Package
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&pkg); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get package: %w", err)
	}
	return &pkg, nil
}

func (r *MongoPackageRepository) GetActivePackages(ctx context.Context) ([]*domain.Package, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"is_active": true})
	if err != nil {
		return nil, fmt.Errorf("failed to list active packages: %w", err)
	}
	defer cursor.Close(ctx)

	var packages []*domain.Package
	if err := cursor.All(ctx, &packages); err != nil {
		return nil, err
	}
	return packages, nil
}

func (r *MongoPackageRepository) GetTrialPackage(ctx context.Context) (*domain.Package, error) {
	var pkg domain.Package
	filter := bson.M{"is_trial": true, "is_active": true}
	if err := r.collection.FindOne(ctx, filter).Decode(&pkg); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get trial package: %w", err)
	}
	return &pkg, nil
}

func (r *MongoPackageRepository) Update(ctx context.Context, pkg *domain.Package) error {
	pkg.UpdatedAt = time.Now().UTC()

	update := bson.M{"$set": bson.M{
		"name":                pkg.Name,
		"description":         pkg.Description,
		"price":               pkg.Price,
		"currency":            pkg.Currency,
		"duration_unit":       pkg.DurationUnit,
		"duration_count":      pkg.DurationCount,
		"bandwidth_up_kbps":   pkg.BandwidthUpKbps,
		"bandwidth_down_kbps": pkg.BandwidthDownKbps,
		"data_cap_bytes":      pkg.DataCapBytes,
		"simultaneous_use":    pkg.SimultaneousUse,
		"idle_timeout_sec":    pkg.IdleTimeoutSec,
		"vlan_id":             pkg.VlanID,
		"is_trial":            pkg.IsTrial,
		"is_active":           pkg.IsActive,
		"updated_at":          pkg.UpdatedAt,
	}}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": pkg.ID}, update)
	if err != nil {
		return fmt.Errorf("failed to update package: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *MongoPackageRepository) Delete(ctx context.Context, id string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete package: %w", err)
	}
	if result.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}
