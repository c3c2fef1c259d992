package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fjod/go_cart/internal/cache"
	"github.com/fjod/go_cart/internal/catalog"
	"github.com/fjod/go_cart/internal/domain"
	"github.com/fjod/go_cart/internal/repository"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// CartService owns session carts. It validates lines against the catalog but
// never touches stock counters.
type CartService struct {
	repo     repository.CartRepository
	cache    cache.CartCache
	catalog  catalog.Catalog
	currency string
	logger   *slog.Logger
	sfg      singleflight.Group // Prevents cache stampede
}

func NewCartService(repo repository.CartRepository, cache cache.CartCache, catalog catalog.Catalog, currency string, logger *slog.Logger) *CartService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CartService{
		repo:     repo,
		cache:    cache,
		catalog:  catalog,
		currency: currency,
		logger:   logger,
	}
}

// cart reads the session cart through the cache; a missing cart is an empty one.
func (s *CartService) cart(ctx context.Context, sessionID string) (*domain.Cart, error) {
	v, err, _ := s.sfg.Do(sessionID, func() (interface{}, error) {
		cart, err := s.cache.Get(ctx, sessionID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.WarnContext(ctx, "cache get error", "session_id", sessionID, "error", err)
		}

		cart, err = s.repo.GetCart(ctx, sessionID)
		if errors.Is(err, repository.ErrCartNotFound) {
			now := time.Now().UTC()
			return &domain.Cart{SessionID: sessionID, CreatedAt: now, UpdatedAt: now}, nil
		}
		if err != nil {
			return nil, err
		}

		go func(cart *domain.Cart) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := s.cache.Set(ctx, sessionID, cart); err != nil {
				s.logger.Warn("cache set error", "session_id", sessionID, "error", err)
			}
		}(cart)

		return cart, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Cart), nil
}

// GetCart joins the cart lines with live catalog data. Lines whose product
// vanished or became inactive are shown as unavailable and left out of the subtotal.
func (s *CartService) GetCart(ctx context.Context, sessionID string) (*domain.CartView, error) {
	cart, err := s.cart(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	view := &domain.CartView{
		SessionID: sessionID,
		Lines:     make([]domain.CartLineView, 0, len(cart.Items)),
		Subtotal:  decimal.Zero,
		Currency:  s.currency,
		UpdatedAt: cart.UpdatedAt,
	}
	for _, item := range cart.Items {
		line := domain.CartLineView{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: decimal.Zero,
			LineTotal: decimal.Zero,
		}

		product, err := s.catalog.GetProduct(ctx, item.ProductID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("failed to get product %s: %w", item.ProductID, err)
		default:
			line.Name = product.Name
			line.ImageURL = product.ImageURL
			line.UnitPrice = product.Price
			line.LineTotal = product.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
			line.Available = product.Purchasable(item.Quantity)
			if product.IsActive {
				view.Subtotal = view.Subtotal.Add(line.LineTotal)
			}
		}
		view.Lines = append(view.Lines, line)
	}
	return view, nil
}

// AddItem adds qty units; an existing line has its quantity summed and re-validated
// against stock by the store in the same write.
func (s *CartService) AddItem(ctx context.Context, sessionID, productID string, qty int) error {
	if qty < 1 {
		return domain.ErrInvalidQuantity
	}

	product, err := s.activeProduct(ctx, productID)
	if err != nil {
		return err
	}

	current, err := s.repo.AddItem(ctx, sessionID, domain.CartItem{ProductID: productID, Quantity: qty}, product.Stock)
	if errors.Is(err, repository.ErrQuantityLimit) {
		return &domain.OutOfStockError{ProductID: productID, Requested: current + qty, Available: product.Stock}
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "repo add item error", "session_id", sessionID, "error", err)
		return err
	}

	s.invalidateCache(sessionID)
	return nil
}

func (s *CartService) UpdateQuantity(ctx context.Context, sessionID, productID string, qty int) error {
	if qty < 1 {
		return domain.ErrInvalidQuantity
	}

	cart, err := s.repo.GetCart(ctx, sessionID)
	if err != nil {
		return err
	}
	if _, ok := cart.Item(productID); !ok {
		return repository.ErrItemNotFound
	}

	product, err := s.activeProduct(ctx, productID)
	if err != nil {
		return err
	}
	if qty > product.Stock {
		return &domain.OutOfStockError{ProductID: productID, Requested: qty, Available: product.Stock}
	}

	if err := s.repo.UpdateItemQuantity(ctx, sessionID, productID, qty); err != nil {
		s.logger.ErrorContext(ctx, "repo update item quantity error", "session_id", sessionID, "error", err)
		return err
	}

	s.invalidateCache(sessionID)
	return nil
}

// RemoveItem succeeds when the line or the cart does not exist.
func (s *CartService) RemoveItem(ctx context.Context, sessionID, productID string) error {
	if err := s.repo.RemoveItem(ctx, sessionID, productID); err != nil {
		s.logger.ErrorContext(ctx, "repo remove item error", "session_id", sessionID, "error", err)
		return err
	}

	s.invalidateCache(sessionID)
	return nil
}

func (s *CartService) Clear(ctx context.Context, sessionID string) error {
	if err := s.repo.DeleteCart(ctx, sessionID); err != nil {
		s.logger.ErrorContext(ctx, "repo delete cart error", "session_id", sessionID, "error", err)
		return err
	}

	s.invalidateCache(sessionID)
	return nil
}

// Snapshot reads the stored cart bypassing the cache. Checkout works from it.
func (s *CartService) Snapshot(ctx context.Context, sessionID string) (*domain.Cart, error) {
	cart, err := s.repo.GetCart(ctx, sessionID)
	if errors.Is(err, repository.ErrCartNotFound) {
		return &domain.Cart{SessionID: sessionID}, nil
	}
	return cart, err
}

// Consume removes the snapshot's lines from the stored cart after an order is
// placed. Anything added since the snapshot stays.
func (s *CartService) Consume(ctx context.Context, cart *domain.Cart) error {
	if err := s.repo.RemoveLines(ctx, cart.SessionID, cart.Items); err != nil {
		s.logger.ErrorContext(ctx, "repo remove lines error", "session_id", cart.SessionID, "error", err)
		return err
	}

	s.invalidateCache(cart.SessionID)
	return nil
}

// Restore adds the snapshot's lines back after a failed checkout, on top of
// whatever the cart holds now.
func (s *CartService) Restore(ctx context.Context, cart *domain.Cart) error {
	var errs []error
	for _, item := range cart.Items {
		if _, err := s.repo.AddItem(ctx, cart.SessionID, item, repository.NoQuantityLimit); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", item.ProductID, err))
		}
	}
	s.invalidateCache(cart.SessionID)
	return errors.Join(errs...)
}

func (s *CartService) activeProduct(ctx context.Context, productID string) (*domain.Product, error) {
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !product.IsActive {
		return nil, fmt.Errorf("product %s is inactive: %w", productID, domain.ErrNotFound)
	}
	return product, nil
}

func (s *CartService) invalidateCache(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, sessionID); err != nil {
		s.logger.Warn("cache invalidate error", "session_id", sessionID, "error", err)
	}
}
