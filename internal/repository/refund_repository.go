package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type refundDocument struct {
	ID               string               `bson:"_id"`
	OrderID          string               `bson:"order_id"`
	PaymentReference string               `bson:"payment_reference"`
	Amount           primitive.Decimal128 `bson:"amount"`
	Reason           string               `bson:"reason"`
	Status           string               `bson:"status"`
	// Active mirrors status != REJECTED and backs the one-active-refund index.
	Active      bool      `bson:"active"`
	RequestedAt time.Time `bson:"requested_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func (d *refundDocument) toDomain() (*domain.RefundRequest, error) {
	var conv decimalConv
	r := &domain.RefundRequest{
		ID:               d.ID,
		OrderID:          d.OrderID,
		PaymentReference: d.PaymentReference,
		Amount:           conv.from(d.Amount),
		Reason:           d.Reason,
		Status:           domain.RefundStatus(d.Status),
		RequestedAt:      d.RequestedAt,
		UpdatedAt:        d.UpdatedAt,
	}
	if conv.err != nil {
		return nil, conv.err
	}
	return r, nil
}

type mongoRefundRepository struct {
	collection *mongo.Collection
}

func NewRefundRepository(db *mongo.Database) RefundRepository {
	return &mongoRefundRepository{collection: db.Collection("refunds")}
}

func (m *mongoRefundRepository) CreateRefund(ctx context.Context, refund *domain.RefundRequest) error {
	now := time.Now().UTC()
	if refund.RequestedAt.IsZero() {
		refund.RequestedAt = now
	}
	refund.UpdatedAt = refund.RequestedAt

	var conv decimalConv
	doc := refundDocument{
		ID:               refund.ID,
		OrderID:          refund.OrderID,
		PaymentReference: refund.PaymentReference,
		Amount:           conv.to(refund.Amount),
		Reason:           refund.Reason,
		Status:           string(refund.Status),
		Active:           refund.Status.Active(),
		RequestedAt:      refund.RequestedAt,
		UpdatedAt:        refund.UpdatedAt,
	}
	if conv.err != nil {
		return conv.err
	}

	if _, err := m.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrActiveRefundExists
		}
		return fmt.Errorf("failed to insert refund: %w", err)
	}
	return nil
}

func (m *mongoRefundRepository) GetRefund(ctx context.Context, id string) (*domain.RefundRequest, error) {
	var doc refundDocument
	err := m.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrRefundNotFound
		}
		return nil, fmt.Errorf("failed to get refund: %w", err)
	}
	return doc.toDomain()
}

func (m *mongoRefundRepository) UpdateRefundStatus(ctx context.Context, id string, from, to domain.RefundStatus) error {
	filter := bson.M{"_id": id, "status": string(from)}
	update := bson.M{"$set": bson.M{
		"status":     string(to),
		"active":     to.Active(),
		"updated_at": time.Now().UTC(),
	}}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update refund: %w", err)
	}
	if result.MatchedCount == 1 {
		return nil
	}

	count, err := m.collection.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to check refund: %w", err)
	}
	if count == 0 {
		return ErrRefundNotFound
	}
	return ErrStatusConflict
}

func (m *mongoRefundRepository) ListRefundsByOrder(ctx context.Context, orderID string) ([]*domain.RefundRequest, error) {
	opts := options.Find().SetSort(bson.D{{Key: "requested_at", Value: 1}})
	cursor, err := m.collection.Find(ctx, bson.M{"order_id": orderID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query refunds: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []refundDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode refunds: %w", err)
	}

	refunds := make([]*domain.RefundRequest, 0, len(docs))
	for i := range docs {
		r, err := docs[i].toDomain()
		if err != nil {
			return nil, err
		}
		refunds = append(refunds, r)
	}
	return refunds, nil
}

func (m *mongoRefundRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "order_id", Value: 1}},
			Options: options.Index().
				SetName("one_active_refund_per_order").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"active": true}),
		},
		{
			Keys: bson.D{{Key: "order_id", Value: 1}, {Key: "requested_at", Value: 1}},
		},
	}
	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create refund indexes: %w", err)
	}
	return nil
}
