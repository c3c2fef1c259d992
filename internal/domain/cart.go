package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Cart is the session-scoped document holding cart lines.
type Cart struct {
	ID        string     `bson:"_id,omitempty" json:"id,omitempty"`
	SessionID string     `bson:"session_id" json:"session_id"`
	Items     []CartItem `bson:"items" json:"items"`
	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time  `bson:"updated_at" json:"updated_at"`
}

type CartItem struct {
	ProductID string    `bson:"product_id" json:"product_id"`
	Quantity  int       `bson:"quantity" json:"quantity"`
	AddedAt   time.Time `bson:"added_at" json:"added_at"`
}

// Item returns the line for productID, if present.
func (c *Cart) Item(productID string) (CartItem, bool) {
	if c == nil {
		return CartItem{}, false
	}
	for _, it := range c.Items {
		if it.ProductID == productID {
			return it, true
		}
	}
	return CartItem{}, false
}

func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}

// CartView is a cart joined with live catalog data for display.
type CartView struct {
	SessionID string          `json:"session_id"`
	Lines     []CartLineView  `json:"lines"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Currency  string          `json:"currency"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type CartLineView struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	ImageURL  string          `json:"image_url,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
	Available bool            `json:"available"`
}
