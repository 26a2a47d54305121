package credits

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/config"
	pkgerrors "github.com/Cdineshreddy12/Wrapper-sub013/pkg/errors"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/logger"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/payments"
)

// PaymentConfirmer verifies a gateway payment before it is credited.
type PaymentConfirmer interface {
	Confirm(ctx context.Context, req payments.Confirmation) error
}

// BreakerConfirmer guards a PaymentConfirmer with a circuit breaker so an
// unavailable gateway fails fast with DEPENDENCY_ERROR.
type BreakerConfirmer struct {
	next    PaymentConfirmer
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerConfirmer wraps next. Only dependency failures count against the
// breaker; rejected payments are the gateway working as intended.
func NewBreakerConfirmer(next PaymentConfirmer, cfg config.PaymentsConfig, logg *logger.Logger) *BreakerConfirmer {
	maxFails := cfg.BreakerMaxFails
	if maxFails == 0 {
		maxFails = 5
	}
	cooldown := cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	settings := gobreaker.Settings{
		Name:        "payment-confirmation",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFails
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !pkgerrors.IsCode(err, pkgerrors.CodeDependency)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logg == nil {
				return
			}
			ctx := logg.WithFields(context.Background(), map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
			logg.Warn(ctx, "payment confirmation breaker state changed")
		},
	}
	return &BreakerConfirmer{next: next, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerConfirmer) Confirm(ctx context.Context, req payments.Confirmation) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, b.next.Confirm(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment confirmation unavailable")
	}
	return err
}

// State exposes the breaker state for health reporting.
func (b *BreakerConfirmer) State() string {
	return b.breaker.State().String()
}
