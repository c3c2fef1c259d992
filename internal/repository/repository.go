package repository

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/fjod/go_cart/internal/domain"
)

var (
	ErrCartNotFound   = fmt.Errorf("cart %w", domain.ErrNotFound)
	ErrItemNotFound   = fmt.Errorf("cart item %w", domain.ErrNotFound)
	ErrCouponNotFound = fmt.Errorf("coupon %w", domain.ErrNotFound)
	ErrOrderNotFound  = fmt.Errorf("order %w", domain.ErrNotFound)
	ErrRefundNotFound = fmt.Errorf("refund %w", domain.ErrNotFound)

	// ErrStatusConflict means a conditional update found the record in another state.
	ErrStatusConflict = errors.New("record is not in the expected state")
	// ErrQuantityLimit means adding to a cart line would take it past the caller's limit.
	ErrQuantityLimit = errors.New("cart line quantity limit reached")
	// ErrActiveRefundExists is returned when an order already has a non-rejected refund.
	ErrActiveRefundExists = errors.New("order already has an active refund")
)

// NoQuantityLimit disables the limit check of CartRepository.AddItem.
const NoQuantityLimit = math.MaxInt32

// CartRepository stores one cart document per session.
type CartRepository interface {
	GetCart(ctx context.Context, sessionID string) (*domain.Cart, error)
	UpsertCart(ctx context.Context, cart *domain.Cart) error
	// AddItem adds item.Quantity to the line, creating the cart and the line as
	// needed, in one conditional write. It returns the new line quantity, or the
	// current one with ErrQuantityLimit when the sum would exceed limit.
	AddItem(ctx context.Context, sessionID string, item domain.CartItem, limit int) (int, error)
	UpdateItemQuantity(ctx context.Context, sessionID, productID string, quantity int) error
	RemoveItem(ctx context.Context, sessionID, productID string) error
	// RemoveLines subtracts the given quantities from the matching lines and
	// drops lines that reach zero in one atomic write. Lines not listed are left alone.
	RemoveLines(ctx context.Context, sessionID string, items []domain.CartItem) error
	DeleteCart(ctx context.Context, sessionID string) error
}

type CouponRepository interface {
	GetCoupon(ctx context.Context, code string) (*domain.Coupon, error)
	// IncrementUsage consumes one use atomically; false when the limit is reached
	// or the coupon is inactive.
	IncrementUsage(ctx context.Context, code string) (bool, error)
	DecrementUsage(ctx context.Context, code string) error
	UpsertCoupon(ctx context.Context, coupon *domain.Coupon) error
}

type OrderRepository interface {
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrdersBySession(ctx context.Context, sessionID string) ([]*domain.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]*domain.Order, error)
	// UpdateStatus moves status from -> to only if the stored status is still from.
	// A non-empty trackingNumber is stored in the same write.
	UpdateStatus(ctx context.Context, id string, from, to domain.OrderStatus, trackingNumber string) error
	// UpdatePayment records the processor outcome only while payment is still pending.
	UpdatePayment(ctx context.Context, id string, to domain.PaymentStatus, reference string) error
	SetTrackingNumber(ctx context.Context, id, trackingNumber string) error
}

type RefundRepository interface {
	// CreateRefund fails with ErrActiveRefundExists while the order has a non-rejected refund.
	CreateRefund(ctx context.Context, refund *domain.RefundRequest) error
	GetRefund(ctx context.Context, id string) (*domain.RefundRequest, error)
	UpdateRefundStatus(ctx context.Context, id string, from, to domain.RefundStatus) error
	ListRefundsByOrder(ctx context.Context, orderID string) ([]*domain.RefundRequest, error)
}
