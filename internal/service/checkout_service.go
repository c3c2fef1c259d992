package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fjod/go_cart/internal/cache"
	"github.com/fjod/go_cart/internal/catalog"
	"github.com/fjod/go_cart/internal/coupon"
	"github.com/fjod/go_cart/internal/domain"
	"github.com/fjod/go_cart/internal/metrics"
	"github.com/fjod/go_cart/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const compensationTimeout = 10 * time.Second

type PlaceOrderRequest struct {
	SessionID       string
	UserID          string
	ShippingAddress domain.ShippingAddress
	CouponCode      string
	IdempotencyKey  string
}

type CheckoutDeps struct {
	Carts       *CartService
	Catalog     catalog.Catalog
	Coupons     repository.CouponRepository
	Orders      repository.OrderRepository
	Idempotency cache.IdempotencyStore
	Notifier    Notifier
	Evaluator   *coupon.Evaluator
	Currency    string
	Logger      *slog.Logger
}

// CheckoutService is the order engine: it places orders and drives the order
// and payment status machines afterwards.
type CheckoutService struct {
	carts     *CartService
	catalog   catalog.Catalog
	coupons   repository.CouponRepository
	orders    repository.OrderRepository
	idem      cache.IdempotencyStore
	notifier  Notifier
	evaluator *coupon.Evaluator
	currency  string
	logger    *slog.Logger
	now       func() time.Time
}

func NewCheckoutService(deps CheckoutDeps) *CheckoutService {
	s := &CheckoutService{
		carts:     deps.Carts,
		catalog:   deps.Catalog,
		coupons:   deps.Coupons,
		orders:    deps.Orders,
		idem:      deps.Idempotency,
		notifier:  deps.Notifier,
		evaluator: deps.Evaluator,
		currency:  deps.Currency,
		logger:    deps.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if s.notifier == nil {
		s.notifier = noopNotifier{}
	}
	if s.evaluator == nil {
		s.evaluator = coupon.NewEvaluator(nil)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// PlaceOrder turns the session cart into a Pending order. Either every effect
// (stock, coupon usage, cart, order) happens or none does.
func (s *CheckoutService) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (order *domain.Order, err error) {
	defer func() { metrics.ObserveCheckout(err) }()

	if err := req.ShippingAddress.Validate(); err != nil {
		return nil, err
	}

	if req.IdempotencyKey == "" || s.idem == nil {
		return s.placeOrder(ctx, req)
	}

	if id, ok, err := s.idem.Recall(ctx, req.SessionID, req.IdempotencyKey); err != nil {
		s.logger.WarnContext(ctx, "idempotency recall failed", "error", err)
	} else if ok {
		s.logger.InfoContext(ctx, "duplicate checkout request", "idempotency_key", req.IdempotencyKey, "order_id", id)
		return s.orders.GetOrder(ctx, id)
	}

	locked, err := s.idem.TryLock(ctx, req.SessionID, req.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if !locked {
		return nil, domain.ErrDuplicateRequest
	}

	order, err = s.placeOrder(ctx, req)
	if err != nil {
		if relErr := s.idem.Release(context.WithoutCancel(ctx), req.SessionID, req.IdempotencyKey); relErr != nil {
			s.logger.WarnContext(ctx, "idempotency release failed", "error", relErr)
		}
		return nil, err
	}

	if err := s.idem.Remember(ctx, req.SessionID, req.IdempotencyKey, order.ID); err != nil {
		s.logger.WarnContext(ctx, "idempotency remember failed", "order_id", order.ID, "error", err)
	}
	return order, nil
}

func (s *CheckoutService) placeOrder(ctx context.Context, req PlaceOrderRequest) (*domain.Order, error) {
	cart, err := s.carts.Snapshot(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	if cart.IsEmpty() {
		return nil, domain.ErrEmptyCart
	}

	lines, subtotal, err := s.priceLines(ctx, cart.Items)
	if err != nil {
		return nil, err
	}

	discount := decimal.Zero
	couponCode := domain.NormalizeCouponCode(req.CouponCode)
	if couponCode != "" {
		c, err := s.coupons.GetCoupon(ctx, couponCode)
		if err != nil {
			return nil, err
		}
		res := s.evaluator.Evaluate(*c, subtotal)
		if !res.Eligible {
			return nil, fmt.Errorf("coupon %s: %w", couponCode, res.Err())
		}
		discount = res.Discount
	}

	now := s.now()
	order := &domain.Order{
		ID:              uuid.NewString(),
		UserID:          req.UserID,
		SessionID:       req.SessionID,
		Lines:           lines,
		Subtotal:        subtotal,
		Discount:        discount,
		Total:           subtotal.Sub(discount),
		Currency:        s.currency,
		CouponCode:      couponCode,
		ShippingAddress: req.ShippingAddress,
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := order.CheckTotals(); err != nil {
		return nil, err
	}

	if err := s.commit(ctx, cart, order); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "order placed", "order_id", order.ID, "session_id", order.SessionID, "total", order.Total.String())
	s.notifier.Notify(ctx, EventOrderPlaced, order)
	return order, nil
}

// priceLines re-validates every cart line against the catalog and captures current prices.
func (s *CheckoutService) priceLines(ctx context.Context, items []domain.CartItem) ([]domain.OrderLine, decimal.Decimal, error) {
	lines := make([]domain.OrderLine, 0, len(items))
	subtotal := decimal.Zero
	for _, item := range items {
		product, err := s.catalog.GetProduct(ctx, item.ProductID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, decimal.Zero, &domain.OutOfStockError{ProductID: item.ProductID, Requested: item.Quantity, Available: 0}
		}
		if err != nil {
			return nil, decimal.Zero, fmt.Errorf("failed to get product %s: %w", item.ProductID, err)
		}
		if !product.Purchasable(item.Quantity) {
			available := product.Stock
			if !product.IsActive {
				available = 0
			}
			return nil, decimal.Zero, &domain.OutOfStockError{ProductID: item.ProductID, Requested: item.Quantity, Available: available}
		}

		line := domain.OrderLine{
			ProductID:           product.ID,
			Name:                product.Name,
			Quantity:            item.Quantity,
			UnitPriceAtPurchase: product.Price,
		}
		subtotal = subtotal.Add(line.Total())
		lines = append(lines, line)
	}
	return lines, subtotal, nil
}

// commit applies the checkout effects in order and undoes the completed ones
// when a later step fails.
func (s *CheckoutService) commit(ctx context.Context, cart *domain.Cart, order *domain.Order) error {
	var taken []domain.OrderLine
	for _, line := range order.Lines {
		ok, err := s.catalog.DecrementStock(ctx, line.ProductID, line.Quantity)
		if err != nil {
			s.restoreStock(ctx, order.ID, taken)
			return fmt.Errorf("failed to reserve stock for %s: %w", line.ProductID, err)
		}
		if !ok {
			s.restoreStock(ctx, order.ID, taken)
			return &domain.OutOfStockError{ProductID: line.ProductID, Requested: line.Quantity, Available: -1}
		}
		taken = append(taken, line)
	}

	if order.CouponCode != "" {
		ok, err := s.coupons.IncrementUsage(ctx, order.CouponCode)
		if err != nil {
			s.restoreStock(ctx, order.ID, taken)
			return fmt.Errorf("failed to consume coupon %s: %w", order.CouponCode, err)
		}
		if !ok {
			s.restoreStock(ctx, order.ID, taken)
			return fmt.Errorf("coupon %s: %w", order.CouponCode, domain.ErrCouponLimitExceeded)
		}
	}

	if err := s.carts.Consume(ctx, cart); err != nil {
		s.rollback(ctx, nil, order)
		return fmt.Errorf("failed to clear cart: %w", err)
	}

	if err := s.orders.CreateOrder(ctx, order); err != nil {
		s.rollback(ctx, cart, order)
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// rollback undoes every checkout effect. Failures are logged; the original error wins.
// consumed is the snapshot whose lines were taken out of the cart, nil if none were.
func (s *CheckoutService) rollback(ctx context.Context, consumed *domain.Cart, order *domain.Order) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	if consumed != nil {
		if err := s.carts.Restore(ctx, consumed); err != nil {
			metrics.ObserveCompensationFailure()
			s.logger.ErrorContext(ctx, "failed to restore cart", "order_id", order.ID, "session_id", consumed.SessionID, "error", err)
		}
	}
	if order.CouponCode != "" {
		if err := s.coupons.DecrementUsage(ctx, order.CouponCode); err != nil {
			metrics.ObserveCompensationFailure()
			s.logger.ErrorContext(ctx, "failed to release coupon usage", "order_id", order.ID, "coupon", order.CouponCode, "error", err)
		}
	}
	s.restoreStock(ctx, order.ID, order.Lines)
}

func (s *CheckoutService) restoreStock(ctx context.Context, orderID string, lines []domain.OrderLine) {
	if len(lines) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	for _, line := range lines {
		if err := s.catalog.RestoreStock(ctx, line.ProductID, line.Quantity); err != nil {
			metrics.ObserveCompensationFailure()
			s.logger.ErrorContext(ctx, "failed to restore stock",
				"order_id", orderID, "product_id", line.ProductID, "quantity", line.Quantity, "error", err)
		}
	}
}

type CouponPreview struct {
	Code     string          `json:"code"`
	Eligible bool            `json:"eligible"`
	Reason   string          `json:"reason,omitempty"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
}

// PreviewCoupon evaluates a coupon against the current cart without consuming it.
func (s *CheckoutService) PreviewCoupon(ctx context.Context, sessionID, code string) (*CouponPreview, error) {
	view, err := s.carts.GetCart(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(view.Lines) == 0 {
		return nil, domain.ErrEmptyCart
	}

	c, err := s.coupons.GetCoupon(ctx, code)
	if err != nil {
		return nil, err
	}

	res := s.evaluator.Evaluate(*c, view.Subtotal)
	return &CouponPreview{
		Code:     c.Code,
		Eligible: res.Eligible,
		Reason:   string(res.Reason),
		Subtotal: view.Subtotal,
		Discount: res.Discount,
		Total:    view.Subtotal.Sub(res.Discount),
	}, nil
}
