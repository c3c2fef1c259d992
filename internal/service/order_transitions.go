package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/internal/domain"
	"github.com/fjod/go_cart/internal/metrics"
	"github.com/fjod/go_cart/internal/repository"
)

// maxCancelAttempts bounds retries when the order status moves under a cancellation.
const maxCancelAttempts = 3

func (s *CheckoutService) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return s.orders.GetOrder(ctx, id)
}

// ListOrders returns the user's orders when userID is set, the session's otherwise.
func (s *CheckoutService) ListOrders(ctx context.Context, userID, sessionID string) ([]*domain.Order, error) {
	if userID != "" {
		return s.orders.ListOrdersByUser(ctx, userID)
	}
	if sessionID == "" {
		return []*domain.Order{}, nil
	}
	return s.orders.ListOrdersBySession(ctx, sessionID)
}

// RecordPaymentResult applies the processor's answer to a Pending payment.
// A failed payment releases the order's stock and cancels it when still possible.
func (s *CheckoutService) RecordPaymentResult(ctx context.Context, orderID string, outcome domain.PaymentStatus, reference string) (*domain.Order, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := order.PaymentStatus.CheckTransition(outcome); err != nil {
		return nil, err
	}

	err = s.orders.UpdatePayment(ctx, orderID, outcome, reference)
	if errors.Is(err, repository.ErrStatusConflict) {
		return nil, s.paymentConflict(ctx, orderID, outcome)
	}
	if err != nil {
		return nil, err
	}

	metrics.ObservePaymentResult(outcome)
	order.PaymentStatus = outcome
	if reference != "" {
		order.PaymentReference = reference
	}
	order.UpdatedAt = s.now()
	s.logger.InfoContext(ctx, "payment recorded", "order_id", orderID, "payment_status", outcome.String())

	if outcome == domain.PaymentStatusFailed {
		ctx := context.WithoutCancel(ctx)
		cancelled, err := s.cancelOrder(ctx, order)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to cancel order after payment failure", "order_id", orderID, "error", err)
		}
		if cancelled {
			s.restoreStock(ctx, orderID, order.Lines)
		}
		s.notifier.Notify(ctx, EventPaymentFailed, order)
	}

	return order, nil
}

func (s *CheckoutService) paymentConflict(ctx context.Context, orderID string, outcome domain.PaymentStatus) error {
	current, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	return &domain.TransitionError{Machine: "payment status", From: current.PaymentStatus.String(), To: outcome.String()}
}

// cancelOrder moves the order to Cancelled if its current status allows it,
// following concurrent status changes. It reports whether this call cancelled it.
func (s *CheckoutService) cancelOrder(ctx context.Context, order *domain.Order) (bool, error) {
	for attempt := 0; attempt < maxCancelAttempts; attempt++ {
		if !order.Status.CanTransitionTo(domain.OrderStatusCancelled) {
			if order.Status != domain.OrderStatusCancelled {
				s.logger.WarnContext(ctx, "order can no longer be cancelled", "order_id", order.ID, "status", order.Status.String())
			}
			return false, nil
		}

		err := s.orders.UpdateStatus(ctx, order.ID, order.Status, domain.OrderStatusCancelled, "")
		if err == nil {
			order.Status = domain.OrderStatusCancelled
			order.UpdatedAt = s.now()
			return true, nil
		}
		if !errors.Is(err, repository.ErrStatusConflict) {
			return false, err
		}

		current, err := s.orders.GetOrder(ctx, order.ID)
		if err != nil {
			return false, err
		}
		order.Status = current.Status
	}
	return false, fmt.Errorf("order %s: status kept changing during cancellation", order.ID)
}

// AdminUpdateStatus moves an order along the status machine. An empty newStatus
// only sets the tracking number.
func (s *CheckoutService) AdminUpdateStatus(ctx context.Context, orderID string, newStatus domain.OrderStatus, trackingNumber string) (*domain.Order, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if newStatus == "" {
		if trackingNumber != "" {
			if err := s.orders.SetTrackingNumber(ctx, orderID, trackingNumber); err != nil {
				return nil, err
			}
			order.TrackingNumber = trackingNumber
			order.UpdatedAt = s.now()
		}
		return order, nil
	}

	if err := order.Status.CheckTransition(newStatus); err != nil {
		return nil, err
	}

	err = s.orders.UpdateStatus(ctx, orderID, order.Status, newStatus, trackingNumber)
	if errors.Is(err, repository.ErrStatusConflict) {
		current, getErr := s.orders.GetOrder(ctx, orderID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, &domain.TransitionError{Machine: "order status", From: current.Status.String(), To: newStatus.String()}
	}
	if err != nil {
		return nil, err
	}

	from := order.Status
	order.Status = newStatus
	if trackingNumber != "" {
		order.TrackingNumber = trackingNumber
	}
	order.UpdatedAt = s.now()

	if newStatus == domain.OrderStatusCancelled {
		s.restoreStock(ctx, orderID, order.Lines)
	}

	s.logger.InfoContext(ctx, "order status changed", "order_id", orderID, "from", from.String(), "to", newStatus.String())
	s.notifier.Notify(ctx, EventOrderStatusChanged, order)
	return order, nil
}
