package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fjod/go_cart/internal/domain"
	"github.com/fjod/go_cart/internal/metrics"
	"github.com/fjod/go_cart/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	maxRecordAttempts = 3
	recordRetryDelay  = 200 * time.Millisecond
)

// RefundService coordinates refund requests with the payment processor.
type RefundService struct {
	orders    repository.OrderRepository
	refunds   repository.RefundRepository
	processor RefundProcessor
	notifier  Notifier
	logger    *slog.Logger
	now       func() time.Time

	retryDelay time.Duration
}

func NewRefundService(orders repository.OrderRepository, refunds repository.RefundRepository, processor RefundProcessor, notifier Notifier, logger *slog.Logger) *RefundService {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RefundService{
		orders:    orders,
		refunds:   refunds,
		processor: processor,
		notifier:  notifier,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },

		retryDelay: recordRetryDelay,
	}
}

// RequestRefund refunds the full order total on behalf of the customer.
func (s *RefundService) RequestRefund(ctx context.Context, orderID, reason string) (*domain.RefundRequest, error) {
	order, err := s.eligibleOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.start(ctx, order, order.Total, reason, domain.RefundStatusRequested)
}

// AdminRefund refunds an arbitrary amount up to the order total; the request
// is pre-approved.
func (s *RefundService) AdminRefund(ctx context.Context, orderID string, amount decimal.Decimal, reason string) (*domain.RefundRequest, error) {
	order, err := s.eligibleOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() || amount.GreaterThan(order.Total) {
		return nil, fmt.Errorf("refund amount %s must be in (0, %s]: %w", amount, order.Total, domain.ErrInvalidAmount)
	}
	return s.start(ctx, order, amount, reason, domain.RefundStatusApproved)
}

func (s *RefundService) ListRefunds(ctx context.Context, orderID string) ([]*domain.RefundRequest, error) {
	if _, err := s.orders.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.refunds.ListRefundsByOrder(ctx, orderID)
}

// eligibleOrder loads the order and checks that a refund may be started. An
// active refund is reported before the order status because a completed refund
// cancels the order.
func (s *RefundService) eligibleOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus != domain.PaymentStatusCompleted {
		return nil, fmt.Errorf("order %s payment is %s: %w", orderID, order.PaymentStatus, domain.ErrNotEligible)
	}

	existing, err := s.refunds.ListRefundsByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	for _, r := range existing {
		if r.Status.Active() {
			return nil, fmt.Errorf("order %s: %w", orderID, domain.ErrAlreadyRequested)
		}
	}

	if !order.RefundEligible() {
		return nil, fmt.Errorf("order %s is %s: %w", orderID, order.Status, domain.ErrNotEligible)
	}
	return order, nil
}

func (s *RefundService) start(ctx context.Context, order *domain.Order, amount decimal.Decimal, reason string, initial domain.RefundStatus) (*domain.RefundRequest, error) {
	now := s.now()
	refund := &domain.RefundRequest{
		ID:               uuid.NewString(),
		OrderID:          order.ID,
		PaymentReference: order.PaymentReference,
		Amount:           amount,
		Reason:           reason,
		Status:           initial,
		RequestedAt:      now,
		UpdatedAt:        now,
	}

	if err := s.refunds.CreateRefund(ctx, refund); err != nil {
		if errors.Is(err, repository.ErrActiveRefundExists) {
			return nil, fmt.Errorf("order %s: %w", order.ID, domain.ErrAlreadyRequested)
		}
		return nil, err
	}
	s.notifier.Notify(ctx, EventRefundRequested, refund)

	// the outcome must be recorded even if the caller goes away
	ctx = context.WithoutCancel(ctx)

	outcome, err := s.processor.InitiateRefund(ctx, refund.PaymentReference, refund.Amount)
	if err != nil {
		s.logger.WarnContext(ctx, "refund processor error, treating as rejected", "refund_id", refund.ID, "order_id", order.ID, "error", err)
		outcome = domain.RefundOutcomeRejected
	}

	final := domain.RefundStatusRejected
	if outcome == domain.RefundOutcomeCompleted {
		final = domain.RefundStatusCompleted
	}
	if err := s.recordOutcome(ctx, refund.ID, initial, final); err != nil {
		metrics.ObserveCompensationFailure()
		s.logger.ErrorContext(ctx, "failed to record refund outcome",
			"refund_id", refund.ID, "order_id", order.ID, "outcome", final.String(), "error", err)
	}
	refund.Status = final
	refund.UpdatedAt = s.now()
	metrics.ObserveRefund(final)

	if final == domain.RefundStatusCompleted {
		if err := s.cancelRefundedOrder(ctx, order); err != nil {
			s.logger.ErrorContext(ctx, "failed to cancel refunded order", "order_id", order.ID, "error", err)
		}
		s.logger.InfoContext(ctx, "refund completed", "refund_id", refund.ID, "order_id", order.ID, "amount", amount.String())
		s.notifier.Notify(ctx, EventRefundCompleted, refund)
	} else {
		s.logger.InfoContext(ctx, "refund rejected", "refund_id", refund.ID, "order_id", order.ID)
		s.notifier.Notify(ctx, EventRefundRejected, refund)
	}
	return refund, nil
}

// recordOutcome stores the processor's answer, retrying transient failures.
// A conflict means another writer already settled the refund.
func (s *RefundService) recordOutcome(ctx context.Context, id string, from, to domain.RefundStatus) error {
	var err error
	for attempt := 0; attempt < maxRecordAttempts; attempt++ {
		if attempt > 0 && !sleep(ctx, s.retryDelay) {
			return ctx.Err()
		}
		err = s.refunds.UpdateRefundStatus(ctx, id, from, to)
		if err == nil || errors.Is(err, repository.ErrStatusConflict) || errors.Is(err, domain.ErrNotFound) {
			return err
		}
	}
	return err
}

// cancelRefundedOrder sets the order to Cancelled from whatever status it is
// in; a refunded order is cancelled even after shipping.
func (s *RefundService) cancelRefundedOrder(ctx context.Context, order *domain.Order) error {
	status := order.Status
	for attempt := 0; attempt < maxCancelAttempts; attempt++ {
		if status == domain.OrderStatusCancelled {
			return nil
		}
		err := s.orders.UpdateStatus(ctx, order.ID, status, domain.OrderStatusCancelled, "")
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrStatusConflict) {
			return err
		}
		current, err := s.orders.GetOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		status = current.Status
	}
	return fmt.Errorf("order %s: status kept changing during cancellation", order.ID)
}
