package catalog

import (
	"github.com/fjod/go_cart/internal/domain"
	"github.com/shopspring/decimal"
)

// DevProducts is the catalog loaded when catalog.seed is enabled.
func DevProducts() []domain.Product {
	return []domain.Product{
		{ID: "sku-1001", Name: "Linen Shirt", ImageURL: "/media/sku-1001.jpg", Price: decimal.RequireFromString("49.90"), Stock: 25, IsActive: true},
		{ID: "sku-1002", Name: "Canvas Tote", ImageURL: "/media/sku-1002.jpg", Price: decimal.RequireFromString("19.00"), Stock: 100, IsActive: true},
		{ID: "sku-1003", Name: "Leather Wallet", ImageURL: "/media/sku-1003.jpg", Price: decimal.RequireFromString("75.00"), Stock: 10, IsActive: true},
		{ID: "sku-1004", Name: "Wool Scarf", ImageURL: "/media/sku-1004.jpg", Price: decimal.RequireFromString("35.50"), Stock: 1, IsActive: true},
		{ID: "sku-1005", Name: "Discontinued Cap", ImageURL: "/media/sku-1005.jpg", Price: decimal.RequireFromString("12.00"), Stock: 40, IsActive: false},
	}
}
