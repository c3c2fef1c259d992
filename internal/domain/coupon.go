package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type CouponKind string

const (
	CouponPercentage CouponKind = "PERCENTAGE"
	CouponFixed      CouponKind = "FIXED"
)

var hundred = decimal.NewFromInt(100)

type Coupon struct {
	Code         string
	Kind         CouponKind
	Value        decimal.Decimal
	MinimumOrder decimal.Decimal
	MaxDiscount  *decimal.Decimal // percentage coupons only
	UsageLimit   *int
	UsedCount    int
	IsActive     bool
	ExpiresAt    *time.Time
}

// NormalizeCouponCode gives the case-insensitive lookup key for a code.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks the coupon record invariants.
func (c Coupon) Validate() error {
	if NormalizeCouponCode(c.Code) == "" {
		return fmt.Errorf("%w: code is required", ErrInvalidCoupon)
	}
	if !c.Value.IsPositive() {
		return fmt.Errorf("%w: value must be positive", ErrInvalidCoupon)
	}
	if c.MinimumOrder.IsNegative() {
		return fmt.Errorf("%w: minimum order must not be negative", ErrInvalidCoupon)
	}
	switch c.Kind {
	case CouponPercentage:
		if c.Value.GreaterThan(hundred) {
			return fmt.Errorf("%w: percentage must be in (0, 100]", ErrInvalidCoupon)
		}
		if c.MaxDiscount != nil && c.MaxDiscount.IsNegative() {
			return fmt.Errorf("%w: max discount must not be negative", ErrInvalidCoupon)
		}
	case CouponFixed:
		if c.MaxDiscount != nil {
			return fmt.Errorf("%w: max discount applies to percentage coupons only", ErrInvalidCoupon)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidCoupon, c.Kind)
	}
	if c.UsageLimit != nil {
		if *c.UsageLimit < 0 {
			return fmt.Errorf("%w: usage limit must not be negative", ErrInvalidCoupon)
		}
		if c.UsedCount > *c.UsageLimit {
			return fmt.Errorf("%w: used count exceeds usage limit", ErrInvalidCoupon)
		}
	}
	if c.UsedCount < 0 {
		return fmt.Errorf("%w: used count must not be negative", ErrInvalidCoupon)
	}
	return nil
}
