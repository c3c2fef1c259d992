package domain

import (
	"errors"
	"fmt"
)

// Error kinds returned by the commerce core. Callers match them with errors.Is.
var (
	ErrNotFound            = errors.New("not found")
	ErrOutOfStock          = errors.New("out of stock")
	ErrEmptyCart           = errors.New("cart is empty, nothing to checkout")
	ErrCouponExpired       = errors.New("coupon is expired or inactive")
	ErrCouponLimitExceeded = errors.New("coupon usage limit exceeded")
	ErrCouponBelowMinimum  = errors.New("order subtotal is below coupon minimum")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrNotEligible         = errors.New("order is not eligible for refund")
	ErrAlreadyRequested    = errors.New("refund already requested for this order")

	ErrInvalidQuantity  = errors.New("quantity must be at least 1")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidCoupon    = errors.New("invalid coupon definition")
	ErrInvalidAddress   = errors.New("invalid shipping address")
	ErrDuplicateRequest = errors.New("request with this idempotency key is already in progress")
)

// OutOfStockError names the product that could not be satisfied.
type OutOfStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *OutOfStockError) Error() string {
	if e.Available < 0 {
		return fmt.Sprintf("product %s: out of stock (requested %d)", e.ProductID, e.Requested)
	}
	return fmt.Sprintf("product %s: out of stock (requested %d, available %d)", e.ProductID, e.Requested, e.Available)
}

func (e *OutOfStockError) Unwrap() error {
	return ErrOutOfStock
}

// TransitionError describes a rejected state machine edge.
type TransitionError struct {
	Machine string
	From    string
	To      string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot transition from %s to %s", e.Machine, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
