package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fjod/go_cart/internal/cache"
	"github.com/fjod/go_cart/internal/catalog"
	"github.com/fjod/go_cart/internal/domain"
	"github.com/fjod/go_cart/internal/repository"
	"github.com/shopspring/decimal"
)

// mockCartRepository implements repository.CartRepository for testing
type mockCartRepository struct {
	mu        sync.Mutex
	carts     map[string]*domain.Cart
	getErr    error
	addErr    error
	removeErr error
	upserts   int

	// beforeRemove runs ahead of RemoveLines, outside the lock
	beforeRemove func()
}

func newMockCartRepository() *mockCartRepository {
	return &mockCartRepository{carts: make(map[string]*domain.Cart)}
}

func cloneCart(c *domain.Cart) *domain.Cart {
	cp := *c
	cp.Items = append([]domain.CartItem(nil), c.Items...)
	return &cp
}

func (m *mockCartRepository) GetCart(_ context.Context, sessionID string) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	c, ok := m.carts[sessionID]
	if !ok {
		return nil, repository.ErrCartNotFound
	}
	return cloneCart(c), nil
}

func (m *mockCartRepository) UpsertCart(_ context.Context, cart *domain.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	m.carts[cart.SessionID] = cloneCart(cart)
	return nil
}

func (m *mockCartRepository) AddItem(_ context.Context, sessionID string, item domain.CartItem, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		return 0, m.addErr
	}
	c, ok := m.carts[sessionID]
	if !ok {
		c = &domain.Cart{SessionID: sessionID}
	}
	for i := range c.Items {
		if c.Items[i].ProductID == item.ProductID {
			if c.Items[i].Quantity+item.Quantity > limit {
				return c.Items[i].Quantity, repository.ErrQuantityLimit
			}
			c.Items[i].Quantity += item.Quantity
			return c.Items[i].Quantity, nil
		}
	}
	if item.Quantity > limit {
		return 0, repository.ErrQuantityLimit
	}
	c.Items = append(c.Items, item)
	m.carts[sessionID] = c
	return item.Quantity, nil
}

func (m *mockCartRepository) UpdateItemQuantity(_ context.Context, sessionID, productID string, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.carts[sessionID]; ok {
		for i := range c.Items {
			if c.Items[i].ProductID == productID {
				c.Items[i].Quantity = quantity
				return nil
			}
		}
	}
	return repository.ErrItemNotFound
}

func (m *mockCartRepository) RemoveItem(_ context.Context, sessionID, productID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[sessionID]
	if !ok {
		return nil
	}
	for i, item := range c.Items {
		if item.ProductID == productID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			break
		}
	}
	return nil
}

func (m *mockCartRepository) DeleteCart(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, sessionID)
	return nil
}

func (m *mockCartRepository) RemoveLines(_ context.Context, sessionID string, items []domain.CartItem) error {
	if m.beforeRemove != nil {
		m.beforeRemove()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.removeErr != nil {
		return m.removeErr
	}
	c, ok := m.carts[sessionID]
	if !ok {
		return nil
	}
	remove := make(map[string]int, len(items))
	for _, item := range items {
		remove[item.ProductID] += item.Quantity
	}
	kept := c.Items[:0]
	for _, item := range c.Items {
		item.Quantity -= remove[item.ProductID]
		if item.Quantity > 0 {
			kept = append(kept, item)
		}
	}
	c.Items = kept
	return nil
}

func (m *mockCartRepository) items(sessionID string) []domain.CartItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.carts[sessionID]; ok {
		return append([]domain.CartItem(nil), c.Items...)
	}
	return nil
}

// mockCache implements cache.CartCache for testing
type mockCache struct {
	mu      sync.Mutex
	data    map[string]*domain.Cart
	getErr  error
	deletes int
}

func newMockCache() *mockCache {
	return &mockCache{data: make(map[string]*domain.Cart)}
}

func (m *mockCache) Get(_ context.Context, sessionID string) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	c, ok := m.data[sessionID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return cloneCart(c), nil
}

func (m *mockCache) Set(_ context.Context, sessionID string, cart *domain.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[sessionID] = cloneCart(cart)
	return nil
}

func (m *mockCache) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	delete(m.data, sessionID)
	return nil
}

func (m *mockCache) has(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[sessionID]
	return ok
}

// racingCatalog runs a hook before each decrement so tests can lose the stock race.
type racingCatalog struct {
	*catalog.MemoryStore
	beforeDecrement func(productID string)
}

func (r *racingCatalog) DecrementStock(ctx context.Context, id string, qty int) (bool, error) {
	if r.beforeDecrement != nil {
		r.beforeDecrement(id)
	}
	return r.MemoryStore.DecrementStock(ctx, id, qty)
}

// mockCouponRepository implements repository.CouponRepository for testing
type mockCouponRepository struct {
	mu      sync.Mutex
	coupons map[string]*domain.Coupon
}

func newMockCouponRepository(coupons ...domain.Coupon) *mockCouponRepository {
	m := &mockCouponRepository{coupons: make(map[string]*domain.Coupon)}
	for _, c := range coupons {
		c := c
		c.Code = domain.NormalizeCouponCode(c.Code)
		m.coupons[c.Code] = &c
	}
	return m
}

func (m *mockCouponRepository) GetCoupon(_ context.Context, code string) (*domain.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[domain.NormalizeCouponCode(code)]
	if !ok {
		return nil, repository.ErrCouponNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockCouponRepository) IncrementUsage(_ context.Context, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[domain.NormalizeCouponCode(code)]
	if !ok {
		return false, repository.ErrCouponNotFound
	}
	if !c.IsActive || (c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit) {
		return false, nil
	}
	c.UsedCount++
	return true, nil
}

func (m *mockCouponRepository) DecrementUsage(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[domain.NormalizeCouponCode(code)]
	if !ok {
		return repository.ErrCouponNotFound
	}
	if c.UsedCount > 0 {
		c.UsedCount--
	}
	return nil
}

func (m *mockCouponRepository) UpsertCoupon(_ context.Context, c *domain.Coupon) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.coupons[domain.NormalizeCouponCode(c.Code)] = &cp
	return nil
}

func (m *mockCouponRepository) usedCount(code string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coupons[domain.NormalizeCouponCode(code)].UsedCount
}

// mockOrderRepository implements repository.OrderRepository for testing
type mockOrderRepository struct {
	mu        sync.Mutex
	orders    map[string]*domain.Order
	createErr error
}

func newMockOrderRepository() *mockOrderRepository {
	return &mockOrderRepository{orders: make(map[string]*domain.Order)}
}

func cloneOrder(o *domain.Order) *domain.Order {
	cp := *o
	cp.Lines = append([]domain.OrderLine(nil), o.Lines...)
	return &cp
}

func (m *mockOrderRepository) CreateOrder(_ context.Context, order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.orders[order.ID] = cloneOrder(order)
	return nil
}

func (m *mockOrderRepository) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (m *mockOrderRepository) ListOrdersBySession(_ context.Context, sessionID string) ([]*domain.Order, error) {
	return m.filter(func(o *domain.Order) bool { return o.SessionID == sessionID }), nil
}

func (m *mockOrderRepository) ListOrdersByUser(_ context.Context, userID string) ([]*domain.Order, error) {
	return m.filter(func(o *domain.Order) bool { return o.UserID == userID }), nil
}

func (m *mockOrderRepository) filter(keep func(*domain.Order) bool) []*domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.Order{}
	for _, o := range m.orders {
		if keep(o) {
			out = append(out, cloneOrder(o))
		}
	}
	return out
}

func (m *mockOrderRepository) UpdateStatus(_ context.Context, id string, from, to domain.OrderStatus, trackingNumber string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return repository.ErrOrderNotFound
	}
	if o.Status != from {
		return repository.ErrStatusConflict
	}
	o.Status = to
	if trackingNumber != "" {
		o.TrackingNumber = trackingNumber
	}
	o.UpdatedAt = time.Now()
	return nil
}

func (m *mockOrderRepository) UpdatePayment(_ context.Context, id string, to domain.PaymentStatus, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return repository.ErrOrderNotFound
	}
	if o.PaymentStatus != domain.PaymentStatusPending {
		return repository.ErrStatusConflict
	}
	o.PaymentStatus = to
	if reference != "" {
		o.PaymentReference = reference
	}
	return nil
}

func (m *mockOrderRepository) SetTrackingNumber(_ context.Context, id, trackingNumber string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return repository.ErrOrderNotFound
	}
	o.TrackingNumber = trackingNumber
	return nil
}

func (m *mockOrderRepository) put(o *domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = cloneOrder(o)
}

func (m *mockOrderRepository) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

// mockRefundRepository implements repository.RefundRepository for testing,
// enforcing one active refund per order like the unique index does.
type mockRefundRepository struct {
	mu      sync.Mutex
	refunds []*domain.RefundRequest
	// updateErrs are returned, in order, by the next UpdateRefundStatus calls
	updateErrs  []error
	updateCalls int
}

func (m *mockRefundRepository) CreateRefund(_ context.Context, refund *domain.RefundRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.refunds {
		if r.OrderID == refund.OrderID && r.Status.Active() {
			return repository.ErrActiveRefundExists
		}
	}
	cp := *refund
	m.refunds = append(m.refunds, &cp)
	return nil
}

func (m *mockRefundRepository) GetRefund(_ context.Context, id string) (*domain.RefundRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.refunds {
		if r.ID == id {
			cp := *r
			return &cp, nil
		}
	}
	return nil, repository.ErrRefundNotFound
}

func (m *mockRefundRepository) UpdateRefundStatus(_ context.Context, id string, from, to domain.RefundStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	if len(m.updateErrs) > 0 {
		err := m.updateErrs[0]
		m.updateErrs = m.updateErrs[1:]
		return err
	}
	for _, r := range m.refunds {
		if r.ID == id {
			if r.Status != from {
				return repository.ErrStatusConflict
			}
			r.Status = to
			return nil
		}
	}
	return repository.ErrRefundNotFound
}

func (m *mockRefundRepository) ListRefundsByOrder(_ context.Context, orderID string) ([]*domain.RefundRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.RefundRequest{}
	for _, r := range m.refunds {
		if r.OrderID == orderID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

// mockIdempotencyStore implements cache.IdempotencyStore for testing
type mockIdempotencyStore struct {
	mu     sync.Mutex
	locks  map[string]bool
	values map[string]string
}

func newMockIdempotencyStore() *mockIdempotencyStore {
	return &mockIdempotencyStore{locks: make(map[string]bool), values: make(map[string]string)}
}

func (m *mockIdempotencyStore) TryLock(_ context.Context, scope, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[scope+key] {
		return false, nil
	}
	m.locks[scope+key] = true
	return true, nil
}

func (m *mockIdempotencyStore) Release(_ context.Context, scope, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, scope+key)
	return nil
}

func (m *mockIdempotencyStore) Remember(_ context.Context, scope, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[scope+key] = value
	return nil
}

func (m *mockIdempotencyStore) Recall(_ context.Context, scope, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[scope+key]
	return v, ok, nil
}

// recordingNotifier captures published events
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingNotifier) Notify(_ context.Context, event string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingNotifier) has(event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

// stubProcessor implements RefundProcessor with a fixed answer
type stubProcessor struct {
	outcome domain.RefundOutcome
	err     error
	calls   int
	amounts []decimal.Decimal
}

func (s *stubProcessor) InitiateRefund(_ context.Context, _ string, amount decimal.Decimal) (domain.RefundOutcome, error) {
	s.calls++
	s.amounts = append(s.amounts, amount)
	return s.outcome, s.err
}

var errStorage = errors.New("storage unavailable")
