package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusShipped   OrderStatus = "SHIPPED"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:   {OrderStatusDelivered},
}

func (s OrderStatus) String() string {
	return string(s)
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// CanTransitionTo reports whether from -> to is an edge of the order status machine.
func (s OrderStatus) CanTransitionTo(to OrderStatus) bool {
	for _, next := range orderTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns a TransitionError when from -> to is not allowed.
func (s OrderStatus) CheckTransition(to OrderStatus) error {
	if !s.CanTransitionTo(to) {
		return &TransitionError{Machine: "order status", From: s.String(), To: to.String()}
	}
	return nil
}

// ParseOrderStatus accepts any letter case.
func ParseOrderStatus(v string) (OrderStatus, bool) {
	s := OrderStatus(strings.ToUpper(strings.TrimSpace(v)))
	return s, s.Valid()
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
)

func (s PaymentStatus) String() string {
	return string(s)
}

func (s PaymentStatus) CanTransitionTo(to PaymentStatus) bool {
	return s == PaymentStatusPending && (to == PaymentStatusCompleted || to == PaymentStatusFailed)
}

func (s PaymentStatus) CheckTransition(to PaymentStatus) error {
	if !s.CanTransitionTo(to) {
		return &TransitionError{Machine: "payment status", From: s.String(), To: to.String()}
	}
	return nil
}

func ParsePaymentOutcome(v string) (PaymentStatus, bool) {
	s := PaymentStatus(strings.ToUpper(strings.TrimSpace(v)))
	return s, s == PaymentStatusCompleted || s == PaymentStatusFailed
}

type ShippingAddress struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

func (a ShippingAddress) Validate() error {
	for _, f := range []string{a.Name, a.Line1, a.City, a.PostalCode, a.Country} {
		if strings.TrimSpace(f) == "" {
			return ErrInvalidAddress
		}
	}
	return nil
}

// OrderLine captures the unit price at purchase time; it never changes afterwards.
type OrderLine struct {
	ProductID           string          `json:"product_id"`
	Name                string          `json:"name"`
	Quantity            int             `json:"quantity"`
	UnitPriceAtPurchase decimal.Decimal `json:"unit_price_at_purchase"`
}

func (l OrderLine) Total() decimal.Decimal {
	return l.UnitPriceAtPurchase.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Order struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id,omitempty"`
	SessionID        string          `json:"session_id"`
	Lines            []OrderLine     `json:"lines"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	Discount         decimal.Decimal `json:"discount"`
	Total            decimal.Decimal `json:"total"`
	Currency         string          `json:"currency"`
	CouponCode       string          `json:"coupon_code,omitempty"`
	ShippingAddress  ShippingAddress `json:"shipping_address"`
	Status           OrderStatus     `json:"status"`
	PaymentStatus    PaymentStatus   `json:"payment_status"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	TrackingNumber   string          `json:"tracking_number,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// CheckTotals verifies total = subtotal - discount with discount and total non-negative.
func (o *Order) CheckTotals() error {
	if o.Discount.IsNegative() || o.Total.IsNegative() || !o.Subtotal.Sub(o.Discount).Equal(o.Total) {
		return ErrInvalidAmount
	}
	return nil
}

// RefundEligible reports whether a customer refund may be requested.
func (o *Order) RefundEligible() bool {
	return o.PaymentStatus == PaymentStatusCompleted && o.Status != OrderStatusCancelled
}
