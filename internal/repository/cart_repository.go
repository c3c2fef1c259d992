package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const cartTTL = 90 * 24 * time.Hour

type mongoCartRepository struct {
	collection *mongo.Collection
}

func NewCartRepository(db *mongo.Database) CartRepository {
	return &mongoCartRepository{collection: db.Collection("carts")}
}

func (m *mongoCartRepository) GetCart(ctx context.Context, sessionID string) (*domain.Cart, error) {
	var cart domain.Cart

	filter := bson.M{"session_id": sessionID}
	err := m.collection.FindOne(ctx, filter).Decode(&cart)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	return &cart, nil
}

// UpsertCart replaces the lines of the session's cart, creating it if needed.
func (m *mongoCartRepository) UpsertCart(ctx context.Context, cart *domain.Cart) error {
	now := time.Now()
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = now
	}
	cart.UpdatedAt = now

	items := cart.Items
	if items == nil {
		items = []domain.CartItem{}
	}

	filter := bson.M{"session_id": cart.SessionID}
	update := bson.M{
		"$set": bson.M{
			"items":      items,
			"updated_at": cart.UpdatedAt,
		},
		"$setOnInsert": bson.M{"created_at": cart.CreatedAt},
	}
	opts := options.Update().SetUpsert(true)

	if _, err := m.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to upsert cart: %w", err)
	}
	return nil
}

func (m *mongoCartRepository) AddItem(ctx context.Context, sessionID string, item domain.CartItem, limit int) (int, error) {
	now := time.Now()
	item.AddedAt = now

	// a lost race against a concurrent first insert of the line or cart is retried
	for attempt := 0; attempt < 3; attempt++ {
		quantity, ok, err := m.incrementItem(ctx, sessionID, item.ProductID, item.Quantity, limit, now)
		if err != nil || ok {
			return quantity, err
		}

		if item.Quantity <= limit {
			pushed, err := m.pushItem(ctx, sessionID, item, now)
			if err != nil || pushed {
				return item.Quantity, err
			}
		}

		cart, err := m.GetCart(ctx, sessionID)
		if err != nil && !errors.Is(err, ErrCartNotFound) {
			return 0, err
		}
		existing, found := cart.Item(item.ProductID)
		switch {
		case found && existing.Quantity+item.Quantity > limit:
			return existing.Quantity, ErrQuantityLimit
		case !found && item.Quantity > limit:
			return 0, ErrQuantityLimit
		}
	}
	return 0, fmt.Errorf("failed to add item to cart %s: concurrent update", sessionID)
}

// incrementItem adds qty to an existing line while the result stays within limit.
func (m *mongoCartRepository) incrementItem(ctx context.Context, sessionID, productID string, qty, limit int, now time.Time) (int, bool, error) {
	filter := bson.M{
		"session_id": sessionID,
		"items": bson.M{"$elemMatch": bson.M{
			"product_id": productID,
			"quantity":   bson.M{"$lte": limit - qty},
		}},
	}
	update := bson.M{
		"$inc": bson.M{"items.$.quantity": qty},
		"$set": bson.M{"updated_at": now},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var cart domain.Cart
	err := m.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&cart)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to increment item: %w", err)
	}
	line, _ := cart.Item(productID)
	return line.Quantity, true, nil
}

// pushItem appends a line the cart does not have yet, creating the cart if needed.
// It reports false when the line already exists.
func (m *mongoCartRepository) pushItem(ctx context.Context, sessionID string, item domain.CartItem, now time.Time) (bool, error) {
	filter := bson.M{
		"session_id":       sessionID,
		"items.product_id": bson.M{"$ne": item.ProductID},
	}
	update := bson.M{
		"$push":        bson.M{"items": item},
		"$set":         bson.M{"updated_at": now},
		"$setOnInsert": bson.M{"created_at": now},
	}
	_, err := m.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to add new item: %w", err)
	}
	return true, nil
}

func (m *mongoCartRepository) setExistingItem(ctx context.Context, sessionID, productID string, quantity int, now time.Time) (bool, error) {
	filter := bson.M{
		"session_id":       sessionID,
		"items.product_id": productID,
	}
	update := bson.M{
		"$set": bson.M{
			"items.$[elem].quantity": quantity,
			"updated_at":             now,
		},
	}
	arrayFilters := options.Update().SetArrayFilters(options.ArrayFilters{
		Filters: []interface{}{
			bson.M{"elem.product_id": productID},
		},
	})

	result, err := m.collection.UpdateOne(ctx, filter, update, arrayFilters)
	if err != nil {
		return false, fmt.Errorf("failed to update existing item: %w", err)
	}
	return result.MatchedCount > 0, nil
}

func (m *mongoCartRepository) UpdateItemQuantity(ctx context.Context, sessionID, productID string, quantity int) error {
	updated, err := m.setExistingItem(ctx, sessionID, productID, quantity, time.Now())
	if err != nil {
		return err
	}
	if !updated {
		return ErrItemNotFound
	}
	return nil
}

// RemoveItem is idempotent: a missing cart or line is not an error.
func (m *mongoCartRepository) RemoveItem(ctx context.Context, sessionID, productID string) error {
	filter := bson.M{"session_id": sessionID}
	update := bson.M{
		"$pull": bson.M{
			"items": bson.M{"product_id": productID},
		},
		"$set": bson.M{"updated_at": time.Now()},
	}

	if _, err := m.collection.UpdateOne(ctx, filter, update); err != nil {
		return fmt.Errorf("failed to remove item: %w", err)
	}
	return nil
}

// RemoveLines runs as a single pipeline update, so concurrent edits to other
// lines, or to the same line, are never overwritten. An emptied cart stays as an
// empty document until the TTL index reaps it.
func (m *mongoCartRepository) RemoveLines(ctx context.Context, sessionID string, items []domain.CartItem) error {
	if len(items) == 0 {
		return nil
	}

	branches := make(bson.A, 0, len(items))
	for _, item := range items {
		branches = append(branches, bson.D{
			{Key: "case", Value: bson.D{{Key: "$eq", Value: bson.A{"$$it.product_id", bson.D{{Key: "$literal", Value: item.ProductID}}}}}},
			{Key: "then", Value: item.Quantity},
		})
	}
	remaining := bson.D{{Key: "$map", Value: bson.D{
		{Key: "input", Value: "$items"},
		{Key: "as", Value: "it"},
		{Key: "in", Value: bson.D{{Key: "$mergeObjects", Value: bson.A{
			"$$it",
			bson.D{{Key: "quantity", Value: bson.D{{Key: "$subtract", Value: bson.A{
				"$$it.quantity",
				bson.D{{Key: "$switch", Value: bson.D{{Key: "branches", Value: branches}, {Key: "default", Value: 0}}}},
			}}}}},
		}}}},
	}}}
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "items", Value: bson.D{{Key: "$filter", Value: bson.D{
				{Key: "input", Value: remaining},
				{Key: "as", Value: "it"},
				{Key: "cond", Value: bson.D{{Key: "$gt", Value: bson.A{"$$it.quantity", 0}}}},
			}}}},
			{Key: "updated_at", Value: time.Now()},
		}}},
	}

	if _, err := m.collection.UpdateOne(ctx, bson.M{"session_id": sessionID}, pipeline); err != nil {
		return fmt.Errorf("failed to remove cart lines: %w", err)
	}
	return nil
}

// DeleteCart is idempotent.
func (m *mongoCartRepository) DeleteCart(ctx context.Context, sessionID string) error {
	filter := bson.M{"session_id": sessionID}

	if _, err := m.collection.DeleteOne(ctx, filter); err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	return nil
}

func (m *mongoCartRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(cartTTL.Seconds())),
		},
	}

	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create cart indexes: %w", err)
	}
	return nil
}
