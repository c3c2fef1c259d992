// Package metrics holds the Prometheus collectors of the storefront core.
package metrics

import (
	"errors"

	"github.com/fjod/go_cart/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_ms",
			Help:    "Duration of HTTP requests in ms",
			Buckets: []float64{5, 10, 25, 50, 100, 200, 400, 800, 1600},
		},
		[]string{"method", "path"},
	)

	checkouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_checkouts_total",
			Help: "Checkout attempts by outcome",
		},
		[]string{"outcome"},
	)

	paymentResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_payment_results_total",
			Help: "Payment processor outcomes recorded on orders",
		},
		[]string{"outcome"},
	)

	refunds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_refunds_total",
			Help: "Refund requests by final status",
		},
		[]string{"status"},
	)

	compensationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storefront_checkout_compensation_failures_total",
			Help: "Rollback steps that failed after a checkout error",
		},
	)
)

// ObserveCheckout counts a checkout attempt labelled by its error kind.
func ObserveCheckout(err error) {
	checkouts.WithLabelValues(checkoutOutcome(err)).Inc()
}

func checkoutOutcome(err error) string {
	switch {
	case err == nil:
		return "placed"
	case errors.Is(err, domain.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, domain.ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, domain.ErrCouponExpired),
		errors.Is(err, domain.ErrCouponLimitExceeded),
		errors.Is(err, domain.ErrCouponBelowMinimum):
		return "coupon_rejected"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrDuplicateRequest):
		return "duplicate"
	case errors.Is(err, domain.ErrInvalidAddress):
		return "invalid_request"
	}
	return "error"
}

func ObservePaymentResult(status domain.PaymentStatus) {
	paymentResults.WithLabelValues(status.String()).Inc()
}

func ObserveRefund(status domain.RefundStatus) {
	refunds.WithLabelValues(status.String()).Inc()
}

func ObserveCompensationFailure() {
	compensationFailures.Inc()
}
