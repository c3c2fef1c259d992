package coupon

import (
	"time"

	"github.com/fjod/go_cart/internal/domain"
	"github.com/shopspring/decimal"
)

// DevCoupons is the coupon set loaded when coupons.seed is enabled.
func DevCoupons(now time.Time) []domain.Coupon {
	maxTen := decimal.NewFromInt(10)
	maxFifty := decimal.NewFromInt(50)
	once := 1
	hundred := 100
	nextYear := now.AddDate(1, 0, 0)

	return []domain.Coupon{
		{Code: "WELCOME10", Kind: domain.CouponPercentage, Value: decimal.NewFromInt(10), MaxDiscount: &maxTen, IsActive: true},
		{Code: "SAVE25", Kind: domain.CouponPercentage, Value: decimal.NewFromInt(25), MaxDiscount: &maxFifty, MinimumOrder: decimal.NewFromInt(100), UsageLimit: &hundred, ExpiresAt: &nextYear, IsActive: true},
		{Code: "FLAT30", Kind: domain.CouponFixed, Value: decimal.NewFromInt(30), IsActive: true},
		{Code: "FIRSTONLY", Kind: domain.CouponFixed, Value: decimal.NewFromInt(5), UsageLimit: &once, IsActive: true},
	}
}
