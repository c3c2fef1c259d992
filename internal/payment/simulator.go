// Package payment holds the payment processor collaborator used for refunds.
package payment

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/fjod/go_cart/internal/domain"
	"github.com/shopspring/decimal"
)

var ErrMissingReference = errors.New("payment reference is required")

// Processor executes refunds against the external payment processor.
type Processor interface {
	InitiateRefund(ctx context.Context, paymentReference string, amount decimal.Decimal) (domain.RefundOutcome, error)
}

// Roller returns a value in [0, 100].
type Roller interface {
	Roll() int
}

type RandomRoller struct{}

func (RandomRoller) Roll() int {
	return rand.Intn(101) // 101 because Intn is exclusive of the upper bound
}

// Simulator stands in for a real processor: a configurable share of refunds
// complete and the rest are rejected.
type Simulator struct {
	successRate int
	latency     time.Duration
	roller      Roller
}

func NewSimulator(successRate int, latency time.Duration, roller Roller) *Simulator {
	if roller == nil {
		roller = RandomRoller{}
	}
	return &Simulator{successRate: successRate, latency: latency, roller: roller}
}

func (s *Simulator) InitiateRefund(ctx context.Context, paymentReference string, amount decimal.Decimal) (domain.RefundOutcome, error) {
	if paymentReference == "" {
		return "", ErrMissingReference
	}
	if !amount.IsPositive() {
		return "", fmt.Errorf("refund amount %s: %w", amount, domain.ErrInvalidAmount)
	}

	if s.latency > 0 {
		select {
		case <-time.After(s.latency):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	return calcOutcome(s.roller.Roll(), s.successRate), nil
}

func calcOutcome(roll, successRate int) domain.RefundOutcome {
	if roll < successRate {
		return domain.RefundOutcomeCompleted
	}
	return domain.RefundOutcomeRejected
}
