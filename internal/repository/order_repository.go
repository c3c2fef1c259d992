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

type orderLineDocument struct {
	ProductID           string               `bson:"product_id"`
	Name                string               `bson:"name"`
	Quantity            int                  `bson:"quantity"`
	UnitPriceAtPurchase primitive.Decimal128 `bson:"unit_price_at_purchase"`
}

type addressDocument struct {
	Name       string `bson:"name"`
	Line1      string `bson:"line1"`
	Line2      string `bson:"line2,omitempty"`
	City       string `bson:"city"`
	PostalCode string `bson:"postal_code"`
	Country    string `bson:"country"`
}

type orderDocument struct {
	ID               string               `bson:"_id"`
	UserID           string               `bson:"user_id,omitempty"`
	SessionID        string               `bson:"session_id"`
	Lines            []orderLineDocument  `bson:"lines"`
	Subtotal         primitive.Decimal128 `bson:"subtotal"`
	Discount         primitive.Decimal128 `bson:"discount"`
	Total            primitive.Decimal128 `bson:"total"`
	Currency         string               `bson:"currency"`
	CouponCode       string               `bson:"coupon_code,omitempty"`
	ShippingAddress  addressDocument      `bson:"shipping_address"`
	Status           string               `bson:"status"`
	PaymentStatus    string               `bson:"payment_status"`
	PaymentReference string               `bson:"payment_reference,omitempty"`
	TrackingNumber   string               `bson:"tracking_number,omitempty"`
	CreatedAt        time.Time            `bson:"created_at"`
	UpdatedAt        time.Time            `bson:"updated_at"`
}

func newOrderDocument(o *domain.Order) (*orderDocument, error) {
	var conv decimalConv
	lines := make([]orderLineDocument, len(o.Lines))
	for i, l := range o.Lines {
		lines[i] = orderLineDocument{
			ProductID:           l.ProductID,
			Name:                l.Name,
			Quantity:            l.Quantity,
			UnitPriceAtPurchase: conv.to(l.UnitPriceAtPurchase),
		}
	}
	a := o.ShippingAddress
	doc := &orderDocument{
		ID:               o.ID,
		UserID:           o.UserID,
		SessionID:        o.SessionID,
		Lines:            lines,
		Subtotal:         conv.to(o.Subtotal),
		Discount:         conv.to(o.Discount),
		Total:            conv.to(o.Total),
		Currency:         o.Currency,
		CouponCode:       o.CouponCode,
		ShippingAddress:  addressDocument(a),
		Status:           string(o.Status),
		PaymentStatus:    string(o.PaymentStatus),
		PaymentReference: o.PaymentReference,
		TrackingNumber:   o.TrackingNumber,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
	if conv.err != nil {
		return nil, conv.err
	}
	return doc, nil
}

func (d *orderDocument) toDomain() (*domain.Order, error) {
	var conv decimalConv
	lines := make([]domain.OrderLine, len(d.Lines))
	for i, l := range d.Lines {
		lines[i] = domain.OrderLine{
			ProductID:           l.ProductID,
			Name:                l.Name,
			Quantity:            l.Quantity,
			UnitPriceAtPurchase: conv.from(l.UnitPriceAtPurchase),
		}
	}
	o := &domain.Order{
		ID:               d.ID,
		UserID:           d.UserID,
		SessionID:        d.SessionID,
		Lines:            lines,
		Subtotal:         conv.from(d.Subtotal),
		Discount:         conv.from(d.Discount),
		Total:            conv.from(d.Total),
		Currency:         d.Currency,
		CouponCode:       d.CouponCode,
		ShippingAddress:  domain.ShippingAddress(d.ShippingAddress),
		Status:           domain.OrderStatus(d.Status),
		PaymentStatus:    domain.PaymentStatus(d.PaymentStatus),
		PaymentReference: d.PaymentReference,
		TrackingNumber:   d.TrackingNumber,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
	if conv.err != nil {
		return nil, conv.err
	}
	return o, nil
}

type mongoOrderRepository struct {
	collection *mongo.Collection
}

func NewOrderRepository(db *mongo.Database) OrderRepository {
	return &mongoOrderRepository{collection: db.Collection("orders")}
}

func (m *mongoOrderRepository) CreateOrder(ctx context.Context, order *domain.Order) error {
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = order.CreatedAt

	doc, err := newOrderDocument(order)
	if err != nil {
		return err
	}
	if _, err := m.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func (m *mongoOrderRepository) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	var doc orderDocument
	err := m.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return doc.toDomain()
}

func (m *mongoOrderRepository) ListOrdersBySession(ctx context.Context, sessionID string) ([]*domain.Order, error) {
	return m.list(ctx, bson.M{"session_id": sessionID})
}

func (m *mongoOrderRepository) ListOrdersByUser(ctx context.Context, userID string) ([]*domain.Order, error) {
	return m.list(ctx, bson.M{"user_id": userID})
}

func (m *mongoOrderRepository) list(ctx context.Context, filter bson.M) ([]*domain.Order, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := m.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []orderDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode orders: %w", err)
	}

	orders := make([]*domain.Order, 0, len(docs))
	for i := range docs {
		o, err := docs[i].toDomain()
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func (m *mongoOrderRepository) UpdateStatus(ctx context.Context, id string, from, to domain.OrderStatus, trackingNumber string) error {
	set := bson.M{
		"status":     string(to),
		"updated_at": time.Now().UTC(),
	}
	if trackingNumber != "" {
		set["tracking_number"] = trackingNumber
	}
	return m.conditionalUpdate(ctx, bson.M{"_id": id, "status": string(from)}, bson.M{"$set": set})
}

func (m *mongoOrderRepository) UpdatePayment(ctx context.Context, id string, to domain.PaymentStatus, reference string) error {
	set := bson.M{
		"payment_status": string(to),
		"updated_at":     time.Now().UTC(),
	}
	if reference != "" {
		set["payment_reference"] = reference
	}
	filter := bson.M{"_id": id, "payment_status": string(domain.PaymentStatusPending)}
	return m.conditionalUpdate(ctx, filter, bson.M{"$set": set})
}

func (m *mongoOrderRepository) SetTrackingNumber(ctx context.Context, id, trackingNumber string) error {
	update := bson.M{"$set": bson.M{
		"tracking_number": trackingNumber,
		"updated_at":      time.Now().UTC(),
	}}
	result, err := m.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to set tracking number: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// conditionalUpdate tells a missing order apart from one that moved on.
func (m *mongoOrderRepository) conditionalUpdate(ctx context.Context, filter, update bson.M) error {
	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	if result.MatchedCount == 1 {
		return nil
	}

	count, err := m.collection.CountDocuments(ctx, bson.M{"_id": filter["_id"]})
	if err != nil {
		return fmt.Errorf("failed to check order: %w", err)
	}
	if count == 0 {
		return ErrOrderNotFound
	}
	return ErrStatusConflict
}

func (m *mongoOrderRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
	}
	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create order indexes: %w", err)
	}
	return nil
}
