package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/owa-release/internal/domain"
	"github.com/ayo6706/owa-release/internal/observability"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Policy bounds a banking call: Attempts tries, each limited by CallTimeout,
// separated by full-jitter backoff between BaseDelay and MaxDelay.
//
// A transient failure that may have reached the bank (timeout, transport error,
// most 5xx) is retried only when RetryAmbiguous is set. Failures marked
// domain.ErrBankingNotDelivered are always retried.
type Policy struct {
	Attempts       int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	CallTimeout    time.Duration
	RetryAmbiguous bool
	Breakers       *Breakers
	Logger         *zap.Logger
}

// ForRail returns a copy of p that retries ambiguous failures only when the
// rail guarantees a repeated idempotency key cannot execute twice.
func (p Policy) ForRail(rail domain.Rail) Policy {
	p.RetryAmbiguous = rail.IdempotentResubmit()
	return p
}

// DefaultPolicy returns the production retry settings.
func DefaultPolicy(breakers *Breakers, logger *zap.Logger) Policy {
	return Policy{
		Attempts:    3,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		CallTimeout: 8 * time.Second,
		Breakers:    breakers,
		Logger:      logger,
	}
}

// Execute runs fn under the policy. Only errors wrapping domain.ErrBankingTransient
// are retried, and ambiguous ones only under RetryAmbiguous. An open breaker fails
// fast as transient. The last error is returned once attempts are exhausted.
func Execute[T any](ctx context.Context, p Policy, name string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := FullJitter(Exponential(p.BaseDelay, attempt-1, p.MaxDelay))
			if err := SleepWithContext(ctx, delay); err != nil {
				return zero, fmt.Errorf("%w: %w", domain.ErrBankingTransient, errors.Join(lastErr, err))
			}
		}

		result, err := call(ctx, p, name, fn)
		if err == nil {
			observability.IncrementBankAttempt(name, "success")
			return result, nil
		}
		lastErr = err
		if !errors.Is(err, domain.ErrBankingTransient) {
			observability.IncrementBankAttempt(name, "rejected")
			return zero, err
		}
		observability.IncrementBankAttempt(name, "transient")
		if !p.RetryAmbiguous && !errors.Is(err, domain.ErrBankingNotDelivered) {
			logger.Warn("banking call outcome unknown; not retrying on this rail",
				zap.String("rail", name),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			break
		}
		logger.Warn("banking call failed; will retry if attempts remain",
			zap.String("rail", name),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", attempts),
			zap.Error(err),
		)
		if errors.Is(err, gobreaker.ErrOpenState) {
			break
		}
	}
	return zero, lastErr
}

func call[T any](ctx context.Context, p Policy, name string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	callCtx := ctx
	if p.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.CallTimeout)
		defer cancel()
	}

	run := func() (any, error) {
		res, err := fn(callCtx)
		if err != nil && !errors.Is(err, domain.ErrBankingRejected) && !errors.Is(err, domain.ErrBankingTransient) {
			// Unclassified failures (timeouts, transport) are treated as transient.
			err = fmt.Errorf("%w: %w", domain.ErrBankingTransient, err)
		}
		return res, err
	}
	if p.Breakers == nil {
		res, err := run()
		if err != nil {
			return zero, err
		}
		return res.(T), nil
	}

	res, err := p.Breakers.Get(name).Execute(run)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %w: rail %s unavailable: %w", domain.ErrBankingTransient, domain.ErrBankingNotDelivered, name, err)
		}
		return zero, err
	}
	return res.(T), nil
}
