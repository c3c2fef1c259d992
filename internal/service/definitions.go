package service

import (
	"context"
	"time"

	"github.com/fjod/go_cart/internal/domain"
	"github.com/shopspring/decimal"
)

// Notification events published by the services.
const (
	EventOrderPlaced        = "order.placed"
	EventOrderStatusChanged = "order.status_changed"
	EventPaymentFailed      = "payment.failed"
	EventRefundRequested    = "refund.requested"
	EventRefundCompleted    = "refund.completed"
	EventRefundRejected     = "refund.rejected"
)

// Notifier delivers events fire-and-forget; implementations log their own failures.
type Notifier interface {
	Notify(ctx context.Context, event string, payload any)
}

// RefundProcessor is the payment processor side of a refund.
type RefundProcessor interface {
	InitiateRefund(ctx context.Context, paymentReference string, amount decimal.Decimal) (domain.RefundOutcome, error)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, string, any) {}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
