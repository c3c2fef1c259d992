package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_cart/internal/catalog"
	"github.com/fjod/go_cart/internal/coupon"
	"github.com/fjod/go_cart/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var address = domain.ShippingAddress{Name: "Ann Lee", Line1: "1 Main St", City: "Oslo", PostalCode: "0150", Country: "NO"}

type checkoutFixture struct {
	catalog  *catalog.MemoryStore
	carts    *mockCartRepository
	cache    *mockCache
	coupons  *mockCouponRepository
	orders   *mockOrderRepository
	idem     *mockIdempotencyStore
	notifier *recordingNotifier
	cartSvc  *CartService
	sut      *CheckoutService
}

func newCheckoutFixture(t *testing.T, coupons ...domain.Coupon) *checkoutFixture {
	t.Helper()
	f := &checkoutFixture{
		catalog:  newTestCatalog(),
		carts:    newMockCartRepository(),
		cache:    newMockCache(),
		coupons:  newMockCouponRepository(coupons...),
		orders:   newMockOrderRepository(),
		idem:     newMockIdempotencyStore(),
		notifier: &recordingNotifier{},
	}
	f.build(f.catalog)
	return f
}

func (f *checkoutFixture) build(c catalog.Catalog) {
	f.cartSvc = NewCartService(f.carts, f.cache, c, "USD", nil)
	f.sut = NewCheckoutService(CheckoutDeps{
		Carts:       f.cartSvc,
		Catalog:     c,
		Coupons:     f.coupons,
		Orders:      f.orders,
		Idempotency: f.idem,
		Notifier:    f.notifier,
		Evaluator:   coupon.NewEvaluator(nil),
		Currency:    "USD",
	})
}

func (f *checkoutFixture) add(t *testing.T, sessionID, productID string, qty int) {
	t.Helper()
	require.NoError(t, f.cartSvc.AddItem(context.Background(), sessionID, productID, qty))
}

func place(sessionID, couponCode string) PlaceOrderRequest {
	return PlaceOrderRequest{SessionID: sessionID, ShippingAddress: address, CouponCode: couponCode}
}

func ptr[T any](v T) *T {
	return &v
}

func TestPlaceOrder_Success(t *testing.T) {
	f := newCheckoutFixture(t)
	f.add(t, session, "sku-1", 2)
	f.add(t, session, "sku-2", 1)

	order, err := f.sut.PlaceOrder(context.Background(), place(session, ""))
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, domain.PaymentStatusPending, order.PaymentStatus)
	assert.True(t, order.Subtotal.Equal(dec("270")), "got %s", order.Subtotal)
	assert.True(t, order.Discount.IsZero())
	assert.True(t, order.Total.Equal(dec("270")))
	assert.Equal(t, "USD", order.Currency)
	require.Len(t, order.Lines, 2)
	assert.True(t, order.Lines[0].UnitPriceAtPurchase.Equal(dec("10")))

	assert.Equal(t, 3, stockOf(t, f.catalog, "sku-1"))
	assert.Equal(t, 9, stockOf(t, f.catalog, "sku-2"))
	assert.Empty(t, f.carts.items(session))

	stored, err := f.orders.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, stored.ID)
	assert.True(t, f.notifier.has(EventOrderPlaced))
}

func TestPlaceOrder_PriceFrozenAtPurchase(t *testing.T) {
	f := newCheckoutFixture(t)
	f.add(t, session, "sku-1", 1)

	order, err := f.sut.PlaceOrder(context.Background(), place(session, ""))
	require.NoError(t, err)

	f.catalog.SetProduct(domain.Product{ID: "sku-1", Name: "Widget", Price: dec("99"), Stock: 4, IsActive: true})
	stored, err := f.orders.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.True(t, stored.Lines[0].UnitPriceAtPurchase.Equal(dec("10")))
}

func TestPlaceOrder_EmptyCart(t *testing.T) {
	f := newCheckoutFixture(t)

	_, err := f.sut.PlaceOrder(context.Background(), place(session, ""))
	require.ErrorIs(t, err, domain.ErrEmptyCart)
	assert.Equal(t, 0, f.orders.count())
}

func TestPlaceOrder_InvalidAddress(t *testing.T) {
	f := newCheckoutFixture(t)
	f.add(t, session, "sku-1", 1)

	req := place(session, "")
	req.ShippingAddress.Country = ""
	_, err := f.sut.PlaceOrder(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrInvalidAddress)
	assert.Equal(t, 5, stockOf(t, f.catalog, "sku-1"))
}

func TestPlaceOrder_StockShrankSinceAdd(t *testing.T) {
	f := newCheckoutFixture(t)
	f.add(t, session, "sku-1", 1)
	f.add(t, session, "sku-2", 4)
	f.catalog.SetProduct(domain.Product{ID: "sku-2", Name: "Gadget", Price: dec("250"), Stock: 3, IsActive: true})

	_, err := f.sut.PlaceOrder(context.Background(), place(session, ""))

	var oos *domain.OutOfStockError
	require.True(t, errors.As(err, &oos))
	assert.Equal(t, "sku-2", oos.ProductID)
	assert.Equal(t, 4, oos.Requested)
	assert.Equal(t, 3, oos.Available)

	assert.Equal(t, 5, stockOf(t, f.catalog, "sku-1"))
	assert.Equal(t, 3, stockOf(t, f.catalog, "sku-2"))
	assert.Len(t, f.carts.items(session), 2)
	assert.Equal(t, 0, f.orders.count())
}

func TestPlaceOrder_ProductGoneAtCheckout(t *testing.T) {
	f := newCheckoutFixture(t)
	f.add(t, session, "sku-1", 1)
	f.catalog.SetProduct(domain.Product{ID: "sku-1", Name: "Widget", Price: dec("10"), Stock: 5, IsActive: false})

	_, err := f.sut.PlaceOrder(context.Background(), place(session, ""))

	var oos *domain.OutOfStockError
	require.True(t, errors.As(err, &oos))
	assert.Equal(t, 0, oos.Available)
}

func TestPlaceOrder_LostStockRaceRestoresEarlierLines(t *testing.T) {
	f := newCheckoutFixture(t)
	f.add(t, session, "sku-1", 2)
	f.add(t, session, "sku-2", 3)

	racing := &racingCatalog{MemoryStore: f.catalog}
	racing.beforeDecrement = func(productID string) {
		if productID == "sku-2" {
			// another checkout takes the stock between validation and decrement
			ok, err := f.catalog.DecrementStock(context.Background(), "sku-2", 9)
			require.NoError(t, err)
			require.True(t, ok)
		}
	}
	f.build(racing)

	_, err := f.sut.PlaceOrder(context.Background(), place(session, ""))

	var oos *domain.OutOfStockError
	require.True(t, errors.As(err, &oos))
	assert.Equal(t, "sku-2", oos.ProductID)
	assert.Equal(t, 5, stockOf(t, f.catalog, "sku-1"))
	assert.Equal(t, 1, stockOf(t, f.catalog, "sku-2"))
	assert.Len(t, f.carts.items(session), 2)
}

func TestPlaceOrder_PercentageCouponWithCap(t *testing.T) {
	f := newCheckoutFixture(t, domain.Coupon{
		Code: "SAVE25", Kind: domain.CouponPercentage, Value: dec("25"), MaxDiscount: ptr(dec("50")), IsActive: true,
	})
	f.add(t, session, "sku-2", 4)

	order, err := f.sut.PlaceOrder(context.Background(), place(session, "save25"))
	require.NoError(t, err)

	assert.True(t, order.Subtotal.Equal(dec("1000")))
	assert.True(t, order.Discount.Equal(dec("50")))
	assert.True(t, order.Total.Equal(dec("950")), "got %s", order.Total)
	assert.Equal(t, "SAVE25", order.CouponCode)
	assert.Equal(t, 1, f.coupons.usedCount("SAVE25"))
}

func TestPlaceOrder_FixedCouponCappedAtSubtotal(t *testing.T) {
	f := newCheckoutFixture(t, domain.Coupon{Code: "FLAT30", Kind: domain.CouponFixed, Value: dec("30"), IsActive: true})
	f.add(t, session, "sku-1", 2)

	order, err := f.sut.PlaceOrder(context.Background(), place(session, "FLAT30"))
	require.NoError(t, err)

	assert.True(t, order.Discount.Equal(dec("20")))
	assert.True(t, order.Total.IsZero())
}

func TestPlaceOrder_CouponRejections(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	f := newCheckoutFixture(t,
		domain.Coupon{Code: "OLD", Kind: domain.CouponFixed, Value: dec("5"), IsActive: true, ExpiresAt: &past},
		domain.Coupon{Code: "BIG", Kind: domain.CouponFixed, Value: dec("5"), IsActive: true, MinimumOrder: dec("500")},
		domain.Coupon{Code: "USED", Kind: domain.CouponFixed, Value: dec("5"), IsActive: true, UsageLimit: ptr(1), UsedCount: 1},
	)
	f.add(t, session, "sku-1", 1)
	ctx := context.Background()

	_, err := f.sut.PlaceOrder(ctx, place(session, "OLD"))
	assert.ErrorIs(t, err, domain.ErrCouponExpired)
	_, err = f.sut.PlaceOrder(ctx, place(session, "BIG"))
	assert.ErrorIs(t, err, domain.ErrCouponBelowMinimum)
	_, err = f.sut.PlaceOrder(ctx, place(session, "USED"))
	assert.ErrorIs(t, err, domain.ErrCouponLimitExceeded)
	_, err = f.sut.PlaceOrder(ctx, place(session, "NOPE"))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Equal(t, 5, stockOf(t, f.catalog, "sku-1"))
	assert.Len(t, f.carts.items(session), 1)
	assert.Equal(t, 0, f.orders.count())
}

func TestPlaceOrder_ConcurrentLastUnit(t *testing.T) {
	f := newCheckoutFixture(t)
	f.catalog.SetProduct(domain.Product{ID: "sku-last", Name: "Last", Price: dec("15"), Stock: 1, IsActive: true})
	f.add(t, "sess-a", "sku-last", 1)
	f.add(t, "sess-b", "sku-last", 1)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, s := range []string{"sess-a", "sess-b"} {
		wg.Add(1)
		go func(i int, s string) {
			defer wg.Done()
			_, errs[i] = f.sut.PlaceOrder(context.Background(), place(s, ""))
		}(i, s)
	}
	wg.Wait()

	var succeeded, outOfStock int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrOutOfStock):
			outOfStock++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, outOfStock)
	assert.Equal(t, 0, stockOf(t, f.catalog, "sku-last"))
	assert.Equal(t, 1, f.orders.count())
}

func TestPlaceOrder_ConcurrentSingleUseCoupon(t *testing.T) {
	f := newCheckoutFixture(t, domain.Coupon{
		Code: "ONCE", Kind: domain.CouponFixed, Value: dec("5"), IsActive: true, UsageLimit: ptr(1),
	})
	f.add(t, "sess-a", "sku-1", 1)
	f.add(t, "sess-b", "sku-1", 1)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, s := range []string{"sess-a", "sess-b"} {
		wg.Add(1)
		go func(i int, s string) {
			defer wg.Done()
			_, errs[i] = f.sut.PlaceOrder(context.Background(), place(s, "ONCE"))
		}(i, s)
	}
	wg.Wait()

	var succeeded, limited int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrCouponLimitExceeded):
			limited++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, limited)
	assert.Equal(t, 1, f.coupons.usedCount("ONCE"))
	// the losing checkout gives its unit back
	assert.Equal(t, 4, stockOf(t, f.catalog, "sku-1"))
}

func TestPlaceOrder_RollbackOnOrderInsertFailure(t *testing.T) {
	f := newCheckoutFixture(t, domain.Coupon{Code: "FIVE", Kind: domain.CouponFixed, Value: dec("5"), IsActive: true})
	f.add(t, session, "sku-1", 2)
	f.add(t, session, "sku-2", 1)
	f.orders.createErr = errStorage

	_, err := f.sut.PlaceOrder(context.Background(), place(session, "FIVE"))
	require.ErrorIs(t, err, errStorage)

	assert.Equal(t, 5, stockOf(t, f.catalog, "sku-1"))
	assert.Equal(t, 10, stockOf(t, f.catalog, "sku-2"))
	assert.Equal(t, 0, f.coupons.usedCount("FIVE"))

	items := f.carts.items(session)
	require.Len(t, items, 2)
	assert.Equal(t, 2, items[0].Quantity)
	assert.Equal(t, 0, f.orders.count())
	assert.False(t, f.notifier.has(EventOrderPlaced))
}

func TestPlaceOrder_RollbackOnCartClearFailure(t *testing.T) {
	f := newCheckoutFixture(t)
	f.add(t, session, "sku-1", 1)
	f.carts.removeErr = errStorage

	_, err := f.sut.PlaceOrder(context.Background(), place(session, ""))
	require.ErrorIs(t, err, errStorage)
	assert.Equal(t, 5, stockOf(t, f.catalog, "sku-1"))
	items := f.carts.items(session)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Quantity)
}

func TestPlaceOrder_KeepsItemAddedDuringCheckout(t *testing.T) {
	f := newCheckoutFixture(t)
	f.add(t, session, "sku-1", 2)
	f.carts.beforeRemove = func() { f.add(t, session, "sku-2", 1) }

	order, err := f.sut.PlaceOrder(context.Background(), place(session, ""))
	require.NoError(t, err)
	require.Len(t, order.Lines, 1)

	items := f.carts.items(session)
	require.Len(t, items, 1)
	assert.Equal(t, "sku-2", items[0].ProductID)
	assert.Equal(t, 1, items[0].Quantity)
}

func TestPlaceOrder_RollbackKeepsItemAddedDuringCheckout(t *testing.T) {
	f := newCheckoutFixture(t)
	f.add(t, session, "sku-1", 2)
	f.carts.beforeRemove = func() { f.add(t, session, "sku-2", 1) }
	f.orders.createErr = errStorage

	_, err := f.sut.PlaceOrder(context.Background(), place(session, ""))
	require.ErrorIs(t, err, errStorage)

	items := f.carts.items(session)
	require.Len(t, items, 2)
	assert.Equal(t, domain.CartItem{ProductID: "sku-2", Quantity: 1}, items[0])
	assert.Equal(t, domain.CartItem{ProductID: "sku-1", Quantity: 2}, items[1])
	assert.Equal(t, 5, stockOf(t, f.catalog, "sku-1"))
}

func TestPlaceOrder_IdempotentReplay(t *testing.T) {
	f := newCheckoutFixture(t)
	f.add(t, session, "sku-1", 1)
	req := place(session, "")
	req.IdempotencyKey = "key-1"

	first, err := f.sut.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	second, err := f.sut.PlaceOrder(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, f.orders.count())
	assert.Equal(t, 4, stockOf(t, f.catalog, "sku-1"))
}

func TestPlaceOrder_DuplicateInFlight(t *testing.T) {
	f := newCheckoutFixture(t)
	f.add(t, session, "sku-1", 1)
	locked, err := f.idem.TryLock(context.Background(), session, "key-1")
	require.NoError(t, err)
	require.True(t, locked)

	req := place(session, "")
	req.IdempotencyKey = "key-1"
	_, err = f.sut.PlaceOrder(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrDuplicateRequest)
	assert.Equal(t, 5, stockOf(t, f.catalog, "sku-1"))
}

func TestPlaceOrder_FailureReleasesIdempotencyKey(t *testing.T) {
	f := newCheckoutFixture(t)
	req := place(session, "")
	req.IdempotencyKey = "key-1"

	_, err := f.sut.PlaceOrder(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrEmptyCart)

	f.add(t, session, "sku-1", 1)
	order, err := f.sut.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.NotEmpty(t, order.ID)
}

func TestPreviewCoupon(t *testing.T) {
	f := newCheckoutFixture(t,
		domain.Coupon{Code: "SAVE25", Kind: domain.CouponPercentage, Value: dec("25"), MaxDiscount: ptr(dec("50")), IsActive: true},
		domain.Coupon{Code: "BIG", Kind: domain.CouponFixed, Value: dec("5"), IsActive: true, MinimumOrder: dec("5000")},
	)
	ctx := context.Background()

	_, err := f.sut.PreviewCoupon(ctx, session, "SAVE25")
	require.ErrorIs(t, err, domain.ErrEmptyCart)

	f.add(t, session, "sku-2", 4)

	preview, err := f.sut.PreviewCoupon(ctx, session, "save25")
	require.NoError(t, err)
	assert.True(t, preview.Eligible)
	assert.True(t, preview.Discount.Equal(dec("50")))
	assert.True(t, preview.Total.Equal(dec("950")))
	assert.Equal(t, 0, f.coupons.usedCount("SAVE25"))

	preview, err = f.sut.PreviewCoupon(ctx, session, "BIG")
	require.NoError(t, err)
	assert.False(t, preview.Eligible)
	assert.Equal(t, string(coupon.ReasonBelowMinimum), preview.Reason)

	_, err = f.sut.PreviewCoupon(ctx, session, "NOPE")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
