package domain

import "github.com/shopspring/decimal"

// Product is the catalog view the core reads: price, stock and active flag.
type Product struct {
	ID       string
	Name     string
	ImageURL string
	Price    decimal.Decimal
	Stock    int
	IsActive bool
}

// Purchasable reports whether qty units can currently be sold.
func (p Product) Purchasable(qty int) bool {
	return p.IsActive && qty <= p.Stock
}
