package payment

import (
	"context"
	"log/slog"
	"time"

	"github.com/fjod/go_cart/internal/domain"
	"github.com/fjod/go_cart/pkg/circuitbreaker"
	"github.com/shopspring/decimal"
)

// BreakerProcessor bounds each processor call with a timeout and fails fast
// while the processor keeps erroring.
type BreakerProcessor struct {
	next    Processor
	breaker *circuitbreaker.Breaker[domain.RefundOutcome]
	timeout time.Duration
}

func NewBreakerProcessor(next Processor, settings circuitbreaker.Settings, timeout time.Duration, logger *slog.Logger) *BreakerProcessor {
	if settings.Name == "" {
		settings.Name = "payment-processor"
	}
	return &BreakerProcessor{
		next:    next,
		breaker: circuitbreaker.New[domain.RefundOutcome](settings, logger),
		timeout: timeout,
	}
}

func (p *BreakerProcessor) InitiateRefund(ctx context.Context, paymentReference string, amount decimal.Decimal) (domain.RefundOutcome, error) {
	return p.breaker.Execute(ctx, func(ctx context.Context) (domain.RefundOutcome, error) {
		if p.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.timeout)
			defer cancel()
		}
		return p.next.InitiateRefund(ctx, paymentReference, amount)
	})
}
