package catalog

import (
	"context"
	"sync"

	"github.com/fjod/go_cart/internal/domain"
)

// MemoryStore implements Catalog with in-memory storage
type MemoryStore struct {
	mu       sync.RWMutex
	products map[string]*domain.Product // productID -> product
}

// NewMemoryStore creates a new in-memory catalog
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[string]*domain.Product),
	}
}

// GetProduct returns a copy of the stored product
func (s *MemoryStore) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.products[id]
	if !exists {
		return nil, ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

// DecrementStock takes qty units if at least qty are left
func (s *MemoryStore) DecrementStock(_ context.Context, id string, qty int) (bool, error) {
	if err := checkQuantity(qty); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.products[id]
	if !exists {
		return false, ErrProductNotFound
	}
	if p.Stock < qty {
		return false, nil
	}
	p.Stock -= qty
	return true, nil
}

// RestoreStock puts qty units back
func (s *MemoryStore) RestoreStock(_ context.Context, id string, qty int) error {
	if err := checkQuantity(qty); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.products[id]
	if !exists {
		return ErrProductNotFound
	}
	p.Stock += qty
	return nil
}

// SetProduct inserts or replaces a product (used for initialization)
func (s *MemoryStore) SetProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := p
	s.products[p.ID] = &cp
}

// Seed loads products in bulk
func (s *MemoryStore) Seed(_ context.Context, products []domain.Product) error {
	for _, p := range products {
		s.SetProduct(p)
	}
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
