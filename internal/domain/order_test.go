package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStatus_AllowedEdges(t *testing.T) {
	allowed := [][2]OrderStatus{
		{OrderStatusPending, OrderStatusConfirmed},
		{OrderStatusPending, OrderStatusCancelled},
		{OrderStatusConfirmed, OrderStatusShipped},
		{OrderStatusConfirmed, OrderStatusCancelled},
		{OrderStatusShipped, OrderStatusDelivered},
	}
	for _, edge := range allowed {
		assert.True(t, edge[0].CanTransitionTo(edge[1]), "%s -> %s", edge[0], edge[1])
		assert.NoError(t, edge[0].CheckTransition(edge[1]))
	}
}

func TestOrderStatus_RejectedEdges(t *testing.T) {
	rejected := [][2]OrderStatus{
		{OrderStatusDelivered, OrderStatusShipped},
		{OrderStatusDelivered, OrderStatusConfirmed},
		{OrderStatusShipped, OrderStatusCancelled},
		{OrderStatusDelivered, OrderStatusCancelled},
		{OrderStatusCancelled, OrderStatusPending},
		{OrderStatusPending, OrderStatusShipped},
		{OrderStatusPending, OrderStatusPending},
	}
	for _, edge := range rejected {
		err := edge[0].CheckTransition(edge[1])
		require.Error(t, err, "%s -> %s", edge[0], edge[1])
		assert.ErrorIs(t, err, ErrInvalidTransition)

		var te *TransitionError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, edge[0].String(), te.From)
		assert.Equal(t, edge[1].String(), te.To)
	}
}

func TestPaymentStatus_Transitions(t *testing.T) {
	assert.True(t, PaymentStatusPending.CanTransitionTo(PaymentStatusCompleted))
	assert.True(t, PaymentStatusPending.CanTransitionTo(PaymentStatusFailed))
	assert.False(t, PaymentStatusCompleted.CanTransitionTo(PaymentStatusFailed))
	assert.False(t, PaymentStatusFailed.CanTransitionTo(PaymentStatusCompleted))
	assert.ErrorIs(t, PaymentStatusCompleted.CheckTransition(PaymentStatusCompleted), ErrInvalidTransition)
}

func TestRefundStatus_OnlyMovesForward(t *testing.T) {
	assert.True(t, RefundStatusRequested.CanTransitionTo(RefundStatusCompleted))
	assert.True(t, RefundStatusApproved.CanTransitionTo(RefundStatusRejected))
	assert.False(t, RefundStatusCompleted.CanTransitionTo(RefundStatusRequested))
	assert.False(t, RefundStatusRejected.CanTransitionTo(RefundStatusApproved))
	assert.False(t, RefundStatusRejected.Active())
	assert.True(t, RefundStatusCompleted.Active())
}

func TestParseOrderStatus(t *testing.T) {
	s, ok := ParseOrderStatus(" shipped ")
	assert.True(t, ok)
	assert.Equal(t, OrderStatusShipped, s)

	_, ok = ParseOrderStatus("lost")
	assert.False(t, ok)
}

func TestOrder_CheckTotals(t *testing.T) {
	o := &Order{
		Subtotal: decimal.NewFromInt(1000),
		Discount: decimal.NewFromInt(50),
		Total:    decimal.NewFromInt(950),
	}
	assert.NoError(t, o.CheckTotals())

	o.Total = decimal.NewFromInt(951)
	assert.ErrorIs(t, o.CheckTotals(), ErrInvalidAmount)
}

func TestOrder_RefundEligible(t *testing.T) {
	o := &Order{Status: OrderStatusShipped, PaymentStatus: PaymentStatusCompleted}
	assert.True(t, o.RefundEligible())

	o.PaymentStatus = PaymentStatusPending
	assert.False(t, o.RefundEligible())

	o.PaymentStatus = PaymentStatusCompleted
	o.Status = OrderStatusCancelled
	assert.False(t, o.RefundEligible())
}

func TestShippingAddress_Validate(t *testing.T) {
	addr := ShippingAddress{Name: "Ann", Line1: "1 Main St", City: "Oslo", PostalCode: "0150", Country: "NO"}
	assert.NoError(t, addr.Validate())

	addr.City = " "
	assert.ErrorIs(t, addr.Validate(), ErrInvalidAddress)
}

func TestCoupon_Validate(t *testing.T) {
	limit := 1
	c := Coupon{Code: "save25", Kind: CouponPercentage, Value: decimal.NewFromInt(25), UsageLimit: &limit}
	assert.NoError(t, c.Validate())

	c.Value = decimal.NewFromInt(101)
	assert.ErrorIs(t, c.Validate(), ErrInvalidCoupon)

	max := decimal.NewFromInt(5)
	fixed := Coupon{Code: "flat", Kind: CouponFixed, Value: decimal.NewFromInt(30), MaxDiscount: &max}
	assert.ErrorIs(t, fixed.Validate(), ErrInvalidCoupon)

	over := Coupon{Code: "x", Kind: CouponFixed, Value: decimal.NewFromInt(1), UsageLimit: &limit, UsedCount: 2}
	assert.ErrorIs(t, over.Validate(), ErrInvalidCoupon)

	assert.Equal(t, "SAVE25", NormalizeCouponCode(" save25 "))
}
