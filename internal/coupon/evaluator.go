// Package coupon evaluates coupon eligibility and discount amounts.
//
// Evaluation is pure: it never touches the coupon's usage counter. Usage is
// consumed by checkout only once an order is actually placed.
package coupon

import (
	"time"

	"github.com/fjod/go_cart/internal/domain"
	"github.com/shopspring/decimal"
)

// MinorUnits is the number of decimal places of the store currency.
const MinorUnits int32 = 2

var hundred = decimal.NewFromInt(100)

type Reason string

const (
	ReasonNone          Reason = ""
	ReasonExpired       Reason = "EXPIRED"
	ReasonLimitExceeded Reason = "LIMIT_EXCEEDED"
	ReasonBelowMinimum  Reason = "BELOW_MINIMUM"
)

// Err maps a reason to its domain error kind, nil for ReasonNone.
func (r Reason) Err() error {
	switch r {
	case ReasonExpired:
		return domain.ErrCouponExpired
	case ReasonLimitExceeded:
		return domain.ErrCouponLimitExceeded
	case ReasonBelowMinimum:
		return domain.ErrCouponBelowMinimum
	}
	return nil
}

type Result struct {
	Eligible bool
	// Discount is rounded half-up to the currency minor unit.
	Discount decimal.Decimal
	// RawDiscount keeps full precision for callers layering further adjustments.
	RawDiscount decimal.Decimal
	Reason      Reason
}

// Err returns the domain error for an ineligible result.
func (r Result) Err() error {
	return r.Reason.Err()
}

// Evaluate applies the coupon policy to an order subtotal at time now.
func Evaluate(c domain.Coupon, subtotal decimal.Decimal, now time.Time) Result {
	if !c.IsActive || (c.ExpiresAt != nil && now.After(*c.ExpiresAt)) {
		return ineligible(ReasonExpired)
	}
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return ineligible(ReasonLimitExceeded)
	}
	if subtotal.LessThan(c.MinimumOrder) {
		return ineligible(ReasonBelowMinimum)
	}

	raw := rawDiscount(c, subtotal)
	return Result{
		Eligible:    true,
		Discount:    decimal.Min(roundHalfUp(raw), subtotal),
		RawDiscount: raw,
	}
}

func rawDiscount(c domain.Coupon, subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.IsNegative() {
		return decimal.Zero
	}
	switch c.Kind {
	case domain.CouponPercentage:
		limit := subtotal
		if c.MaxDiscount != nil {
			limit = *c.MaxDiscount
		}
		return decimal.Min(subtotal.Mul(c.Value).Div(hundred), limit)
	case domain.CouponFixed:
		return decimal.Min(c.Value, subtotal)
	}
	return decimal.Zero
}

// roundHalfUp rounds a non-negative amount to the minor unit; decimal.Round rounds
// half away from zero, which is half-up for the amounts seen here.
func roundHalfUp(v decimal.Decimal) decimal.Decimal {
	return v.Round(MinorUnits)
}

func ineligible(r Reason) Result {
	return Result{Discount: decimal.Zero, RawDiscount: decimal.Zero, Reason: r}
}

// Evaluator binds Evaluate to a clock.
type Evaluator struct {
	now func() time.Time
}

func NewEvaluator(now func() time.Time) *Evaluator {
	if now == nil {
		now = time.Now
	}
	return &Evaluator{now: now}
}

func (e *Evaluator) Evaluate(c domain.Coupon, subtotal decimal.Decimal) Result {
	return Evaluate(c, subtotal, e.now())
}
