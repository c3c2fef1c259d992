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

type couponDocument struct {
	Code         string                `bson:"_id"`
	Kind         string                `bson:"kind"`
	Value        primitive.Decimal128  `bson:"value"`
	MinimumOrder primitive.Decimal128  `bson:"minimum_order"`
	MaxDiscount  *primitive.Decimal128 `bson:"max_discount"`
	UsageLimit   *int                  `bson:"usage_limit"`
	UsedCount    int                   `bson:"used_count"`
	IsActive     bool                  `bson:"is_active"`
	ExpiresAt    *time.Time            `bson:"expires_at"`
}

func newCouponDocument(c *domain.Coupon) (*couponDocument, error) {
	var conv decimalConv
	doc := &couponDocument{
		Code:         domain.NormalizeCouponCode(c.Code),
		Kind:         string(c.Kind),
		Value:        conv.to(c.Value),
		MinimumOrder: conv.to(c.MinimumOrder),
		MaxDiscount:  conv.toPtr(c.MaxDiscount),
		UsageLimit:   c.UsageLimit,
		UsedCount:    c.UsedCount,
		IsActive:     c.IsActive,
		ExpiresAt:    c.ExpiresAt,
	}
	if conv.err != nil {
		return nil, conv.err
	}
	return doc, nil
}

func (d *couponDocument) toDomain() (*domain.Coupon, error) {
	var conv decimalConv
	c := &domain.Coupon{
		Code:         d.Code,
		Kind:         domain.CouponKind(d.Kind),
		Value:        conv.from(d.Value),
		MinimumOrder: conv.from(d.MinimumOrder),
		MaxDiscount:  conv.fromPtr(d.MaxDiscount),
		UsageLimit:   d.UsageLimit,
		UsedCount:    d.UsedCount,
		IsActive:     d.IsActive,
		ExpiresAt:    d.ExpiresAt,
	}
	if conv.err != nil {
		return nil, conv.err
	}
	return c, nil
}

type mongoCouponRepository struct {
	collection *mongo.Collection
}

func NewCouponRepository(db *mongo.Database) CouponRepository {
	return &mongoCouponRepository{collection: db.Collection("coupons")}
}

func (m *mongoCouponRepository) GetCoupon(ctx context.Context, code string) (*domain.Coupon, error) {
	var doc couponDocument
	err := m.collection.FindOne(ctx, bson.M{"_id": domain.NormalizeCouponCode(code)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCouponNotFound
		}
		return nil, fmt.Errorf("failed to get coupon: %w", err)
	}
	return doc.toDomain()
}

// IncrementUsage adds one use only while used_count < usage_limit (or no limit is set).
func (m *mongoCouponRepository) IncrementUsage(ctx context.Context, code string) (bool, error) {
	code = domain.NormalizeCouponCode(code)
	filter := bson.M{
		"_id":       code,
		"is_active": true,
		"$or": bson.A{
			bson.M{"usage_limit": nil},
			bson.M{"$expr": bson.M{"$lt": bson.A{"$used_count", "$usage_limit"}}},
		},
	}
	update := bson.M{"$inc": bson.M{"used_count": 1}}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to increment coupon usage: %w", err)
	}
	if result.MatchedCount == 1 {
		return true, nil
	}

	if _, err := m.GetCoupon(ctx, code); err != nil {
		return false, err
	}
	return false, nil
}

// DecrementUsage releases one previously consumed use; it never goes below zero.
func (m *mongoCouponRepository) DecrementUsage(ctx context.Context, code string) error {
	code = domain.NormalizeCouponCode(code)
	filter := bson.M{"_id": code, "used_count": bson.M{"$gt": 0}}
	update := bson.M{"$inc": bson.M{"used_count": -1}}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to decrement coupon usage: %w", err)
	}
	if result.MatchedCount == 0 {
		if _, err := m.GetCoupon(ctx, code); err != nil {
			return err
		}
	}
	return nil
}

func (m *mongoCouponRepository) UpsertCoupon(ctx context.Context, coupon *domain.Coupon) error {
	if err := coupon.Validate(); err != nil {
		return err
	}
	doc, err := newCouponDocument(coupon)
	if err != nil {
		return err
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := m.collection.ReplaceOne(ctx, bson.M{"_id": doc.Code}, doc, opts); err != nil {
		return fmt.Errorf("failed to upsert coupon: %w", err)
	}
	return nil
}

func (m *mongoCouponRepository) CreateIndexes(ctx context.Context) error {
	// _id is the normalised code; expiry is the only secondary lookup
	_, err := m.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "expires_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create coupon indexes: %w", err)
	}
	return nil
}
