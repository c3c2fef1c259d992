package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// ConnectMongoDB opens a primary-reading, majority-writing client and pings it.
func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetAppName("storefront").
		SetReadPreference(readpref.Primary()).
		SetWriteConcern(writeconcern.Majority()).
		SetRetryWrites(true).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(100).
		SetMinPoolSize(5)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(database), nil
}

// Stores bundles the Mongo-backed repositories sharing one database.
type Stores struct {
	Carts   CartRepository
	Coupons CouponRepository
	Orders  OrderRepository
	Refunds RefundRepository

	indexers []interface{ CreateIndexes(context.Context) error }
}

func NewStores(db *mongo.Database) *Stores {
	carts := &mongoCartRepository{collection: db.Collection("carts")}
	coupons := &mongoCouponRepository{collection: db.Collection("coupons")}
	orders := &mongoOrderRepository{collection: db.Collection("orders")}
	refunds := &mongoRefundRepository{collection: db.Collection("refunds")}
	return &Stores{
		Carts:    carts,
		Coupons:  coupons,
		Orders:   orders,
		Refunds:  refunds,
		indexers: []interface{ CreateIndexes(context.Context) error }{carts, coupons, orders, refunds},
	}
}

// CreateIndexes creates the indexes every collection relies on, including the
// uniqueness constraints behind session carts and active refunds.
func (s *Stores) CreateIndexes(ctx context.Context) error {
	for _, ix := range s.indexers {
		if err := ix.CreateIndexes(ctx); err != nil {
			return err
		}
	}
	return nil
}
