package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type RefundStatus string

const (
	RefundStatusRequested RefundStatus = "REQUESTED"
	RefundStatusApproved  RefundStatus = "APPROVED"
	RefundStatusRejected  RefundStatus = "REJECTED"
	RefundStatusCompleted RefundStatus = "COMPLETED"
)

var refundTransitions = map[RefundStatus][]RefundStatus{
	RefundStatusRequested: {RefundStatusApproved, RefundStatusRejected, RefundStatusCompleted},
	RefundStatusApproved:  {RefundStatusCompleted, RefundStatusRejected},
}

func (s RefundStatus) String() string {
	return string(s)
}

// Active refunds block further requests for the same order.
func (s RefundStatus) Active() bool {
	return s != RefundStatusRejected
}

func (s RefundStatus) CanTransitionTo(to RefundStatus) bool {
	for _, next := range refundTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s RefundStatus) CheckTransition(to RefundStatus) error {
	if !s.CanTransitionTo(to) {
		return &TransitionError{Machine: "refund status", From: s.String(), To: to.String()}
	}
	return nil
}

type RefundRequest struct {
	ID               string          `json:"id"`
	OrderID          string          `json:"order_id"`
	PaymentReference string          `json:"payment_reference"`
	Amount           decimal.Decimal `json:"amount"`
	Reason           string          `json:"reason"`
	Status           RefundStatus    `json:"status"`
	RequestedAt      time.Time       `json:"requested_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// RefundOutcome is the definitive answer from the payment processor.
type RefundOutcome string

const (
	RefundOutcomeCompleted RefundOutcome = "COMPLETED"
	RefundOutcomeRejected  RefundOutcome = "REJECTED"
)
