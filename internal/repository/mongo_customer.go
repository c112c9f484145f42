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

// MongoCustomerRepository implements domain.CustomerRepository
type MongoCustomerRepository struct {
	collection *mongo.Collection
}

// NewMongoCustomerRepository creates a new customer repository
func NewMongoCustomerRepository(db *mongo.Database) *MongoCustomerRepository {
	return &MongoCustomerRepository{
		collection: db.Collection("customers"),
	}
}

func (r *MongoCustomerRepository) Create(ctx context.Context, customer *domain.Customer) error {
	// Phone is the customer's identity; refuse a second account on it.
	if existing, err := r.GetByPhone(ctx, customer.Phone); err == nil && existing != nil {
		return domain.ErrDuplicatePhone
	}

	now := time.Now().UTC()
	customer.CreatedAt = now
	customer.UpdatedAt = now
	if customer.Status == "" {
		customer.Status = domain.CustomerActive
	}
	if customer.ID == "" {
		customer.ID = primitive.NewObjectID().Hex()
	}

	if _, err := r.collection.InsertOne(ctx, customer); err != nil {
		return fmt.Errorf("failed to create customer: %w", err)
	}
	return nil
}

func (r *MongoCustomerRepository) GetByID(ctx context.Context, id string) (*domain.Customer, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoCustomerRepository) GetByPhone(ctx context.Context, phone string) (*domain.Customer, error) {
	return r.findOne(ctx, bson.M{"phone": phone})
}

func (r *MongoCustomerRepository) GetByUsername(ctx context.Context, username string) (*domain.Customer, error) {
	return r.findOne(ctx, bson.M{"username": username})
}

func (r *MongoCustomerRepository) findOne(ctx context.Context, filter bson.M) (*domain.Customer, error) {
	var customer domain.Customer
	if err := r.collection.FindOne(ctx, filter).Decode(&customer); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return &customer, nil
}

func (r *MongoCustomerRepository) Update(ctx context.Context, customer *domain.Customer) error {
	customer.UpdatedAt = time.Now().UTC()

	update := bson.M{"$set": bson.M{
		"phone":      customer.Phone,
		"email":      customer.Email,
		"full_name":  customer.FullName,
		"username":   customer.Username,
		"password":   customer.Password,
		"status":     customer.Status,
		"updated_at": customer.UpdatedAt,
	}}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": customer.ID}, update)
	if err != nil {
		return fmt.Errorf("failed to update customer: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *MongoCustomerRepository) Delete(ctx context.Context, id string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete customer: %w", err)
	}
	if result.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}
