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

// MongoPaymentRepository implements domain.PaymentRepository over two
// collections: payments and payment_refunds. Status flips are filtered on
// the current status so a terminal state is reached exactly once.
type MongoPaymentRepository struct {
	payments *mongo.Collection
	refunds  *mongo.Collection
}

// NewMongoPaymentRepository creates a new payment repository
func NewMongoPaymentRepository(db *mongo.Database) *MongoPaymentRepository {
	return &MongoPaymentRepository{
		payments: db.Collection("payments"),
		refunds:  db.Collection("payment_refunds"),
	}
}

func (r *MongoPaymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = domain.PaymentPending
	}
	if p.ID == "" {
		p.ID = primitive.NewObjectID().Hex()
	}

	if _, err := r.payments.InsertOne(ctx, p); err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (r *MongoPaymentRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoPaymentRepository) GetByProviderSessionID(ctx context.Context, sessionID string) (*domain.Payment, error) {
	return r.findOne(ctx, bson.M{"provider_session_id": sessionID})
}

func (r *MongoPaymentRepository) findOne(ctx context.Context, filter bson.M) (*domain.Payment, error) {
	var p domain.Payment
	if err := r.payments.FindOne(ctx, filter).Decode(&p); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &p, nil
}

func (r *MongoPaymentRepository) GetByCustomerID(ctx context.Context, customerID string) ([]*domain.Payment, error) {
	cursor, err := r.payments.Find(ctx, bson.M{"customer_id": customerID},
		options.Find().SetSort(bson.M{"created_at": -1}))
	if err != nil {
		return nil, fmt.Errorf("failed to list payments by customer: %w", err)
	}
	defer cursor.Close(ctx)

	var payments []*domain.Payment
	if err := cursor.All(ctx, &payments); err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *MongoPaymentRepository) GetPendingByCustomerAndPackage(ctx context.Context, customerID, packageID string) (*domain.Payment, error) {
	filter := bson.M{
		"customer_id": customerID,
		"package_id":  packageID,
		"status":      domain.PaymentPending,
		"expiry_date": bson.M{"$gt": time.Now().UTC()},
	}
	return r.findOne(ctx, filter)
}

// LoadAggregate fetches the payment and all of its refund rows together so
// refundable-balance math happens over loaded data.
func (r *MongoPaymentRepository) LoadAggregate(ctx context.Context, paymentID string) (*domain.PaymentAggregate, error) {
	p, err := r.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	refunds, err := r.ListRefundsByPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return &domain.PaymentAggregate{Payment: p, Refunds: refunds}, nil
}

func (r *MongoPaymentRepository) SetProviderSession(ctx context.Context, id, sessionID, vaNumber string, expiry *time.Time) error {
	set := bson.M{
		"provider_session_id": sessionID,
		"va_number":           vaNumber,
		"updated_at":          time.Now().UTC(),
	}
	if expiry != nil {
		set["expiry_date"] = expiry
	}

	result, err := r.payments.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to set provider session: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *MongoPaymentRepository) TransitionStatus(ctx context.Context, id string, from, to domain.PaymentStatus, paymentDate *time.Time, trxID string) error {
	set := bson.M{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	if paymentDate != nil {
		set["payment_date"] = paymentDate
	}
	if trxID != "" {
		set["provider_trx_id"] = trxID
	}

	result, err := r.payments.UpdateOne(ctx, bson.M{"_id": id, "status": from}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to transition payment status: %w", err)
	}
	if result.MatchedCount == 0 {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return domain.ErrConcurrencyConflict
	}
	return nil
}

func (r *MongoPaymentRepository) SetRefundAggregates(ctx context.Context, id string, totalRefunded int64, lastRef string, status domain.PaymentStatus) error {
	update := bson.M{"$set": bson.M{
		"total_refunded":  totalRefunded,
		"last_refund_ref": lastRef,
		"status":          status,
		"updated_at":      time.Now().UTC(),
	}}

	result, err := r.payments.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to set refund aggregates: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ReserveRefund admits a refund by incrementing total_reserved, filtered so
// the increment only lands while reserved+amount still fits inside the
// payment amount. The filter and $inc execute as one atomic update, so two
// racing refunds over a stale aggregate cannot both pass.
func (r *MongoPaymentRepository) ReserveRefund(ctx context.Context, id string, amount int64) error {
	filter := bson.M{
		"_id": id,
		"status": bson.M{"$in": []domain.PaymentStatus{
			domain.PaymentCompleted, domain.PaymentPartiallyRefunded,
		}},
		"$expr": bson.M{"$lte": bson.A{
			bson.M{"$add": bson.A{bson.M{"$ifNull": bson.A{"$total_reserved", 0}}, amount}},
			"$amount",
		}},
	}
	update := bson.M{
		"$inc": bson.M{"total_reserved": amount},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	}

	result, err := r.payments.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to reserve refund: %w", err)
	}
	if result.MatchedCount == 0 {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return domain.ErrRefundExceedsBalance
	}
	return nil
}

func (r *MongoPaymentRepository) ReleaseRefundReservation(ctx context.Context, id string, amount int64) error {
	result, err := r.payments.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$inc": bson.M{"total_reserved": -amount},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("failed to release refund reservation: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *MongoPaymentRepository) GetRenewalPayment(ctx context.Context, subscriptionID, cycle string) (*domain.Payment, error) {
	filter := bson.M{
		"subscription_id": subscriptionID,
		"renewal_cycle":   cycle,
	}
	return r.findOne(ctx, filter)
}

func (r *MongoPaymentRepository) CreateRefund(ctx context.Context, refund *domain.PaymentRefund) error {
	now := time.Now().UTC()
	refund.CreatedAt = now
	refund.UpdatedAt = now
	if refund.Status == "" {
		refund.Status = domain.RefundPending
	}
	if refund.ID == "" {
		refund.ID = primitive.NewObjectID().Hex()
	}

	if _, err := r.refunds.InsertOne(ctx, refund); err != nil {
		return fmt.Errorf("failed to create refund: %w", err)
	}
	return nil
}

func (r *MongoPaymentRepository) GetRefundByID(ctx context.Context, id string) (*domain.PaymentRefund, error) {
	var refund domain.PaymentRefund
	if err := r.refunds.FindOne(ctx, bson.M{"_id": id}).Decode(&refund); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get refund: %w", err)
	}
	return &refund, nil
}

func (r *MongoPaymentRepository) ListRefundsByPayment(ctx context.Context, paymentID string) ([]*domain.PaymentRefund, error) {
	cursor, err := r.refunds.Find(ctx, bson.M{"payment_id": paymentID})
	if err != nil {
		return nil, fmt.Errorf("failed to list refunds: %w", err)
	}
	defer cursor.Close(ctx)

	var refunds []*domain.PaymentRefund
	if err := cursor.All(ctx, &refunds); err != nil {
		return nil, err
	}
	return refunds, nil
}

func (r *MongoPaymentRepository) TransitionRefundStatus(ctx context.Context, id string, from, to domain.RefundStatus, trxID string) error {
	set := bson.M{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	if trxID != "" {
		set["transaction_id"] = trxID
	}
	if to == domain.RefundCompleted || to == domain.RefundFailed {
		set["processed_at"] = time.Now().UTC()
	}

	result, err := r.refunds.UpdateOne(ctx, bson.M{"_id": id, "status": from}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to transition refund status: %w", err)
	}
	if result.MatchedCount == 0 {
		if _, getErr := r.GetRefundByID(ctx, id); getErr != nil {
			return getErr
		}
		return domain.ErrConcurrencyConflict
	}
	return nil
}

func (r *MongoPaymentRepository) FindProcessingRefunds(ctx context.Context, olderThan time.Time) ([]*domain.PaymentRefund, error) {
	filter := bson.M{
		"status":     domain.RefundProcessing,
		"updated_at": bson.M{"$lte": olderThan},
	}

	cursor, err := r.refunds.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list processing refunds: %w", err)
	}
	defer cursor.Close(ctx)

	var refunds []*domain.PaymentRefund
	if err := cursor.All(ctx, &refunds); err != nil {
		return nil, err
	}
	return refunds, nil
}
