package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ayo6706/owa-release/internal/domain"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(b *Breakers) Policy {
	return Policy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, CallTimeout: time.Second, RetryAmbiguous: true, Breakers: b}
}

func transient() error { return fmt.Errorf("%w: boom", domain.ErrBankingTransient) }
func undelivered() error {
	return fmt.Errorf("%w: %w: 503", domain.ErrBankingTransient, domain.ErrBankingNotDelivered)
}
func rejected() error { return fmt.Errorf("%w: closed account", domain.ErrBankingRejected) }

func TestExecuteRetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	got, err := Execute(context.Background(), fastPolicy(nil), "EFT", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", transient()
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestExecuteStopsAfterAttempts(t *testing.T) {
	calls := 0
	_, err := Execute(context.Background(), fastPolicy(nil), "EFT", func(context.Context) (int, error) {
		calls++
		return 0, transient()
	})
	assert.ErrorIs(t, err, domain.ErrBankingTransient)
	assert.Equal(t, 3, calls)
}

func TestExecuteDoesNotRetryRejection(t *testing.T) {
	calls := 0
	_, err := Execute(context.Background(), fastPolicy(nil), "EFT", func(context.Context) (int, error) {
		calls++
		return 0, rejected()
	})
	assert.ErrorIs(t, err, domain.ErrBankingRejected)
	assert.Equal(t, 1, calls)
}

func TestExecuteClassifiesUnknownErrorsAsTransient(t *testing.T) {
	_, err := Execute(context.Background(), Policy{Attempts: 1}, "EFT", func(context.Context) (int, error) {
		return 0, errors.New("connection reset")
	})
	assert.ErrorIs(t, err, domain.ErrBankingTransient)
}

func TestExecuteAppliesCallTimeout(t *testing.T) {
	p := Policy{Attempts: 1, CallTimeout: 5 * time.Millisecond}
	_, err := Execute(context.Background(), p, "EFT", func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	assert.ErrorIs(t, err, domain.ErrBankingTransient)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecuteHonoursCancellationBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{Attempts: 3, BaseDelay: time.Hour, MaxDelay: time.Hour}
	calls := 0
	_, err := Execute(ctx, p, "EFT", func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, transient()
	})
	assert.ErrorIs(t, err, domain.ErrBankingTransient)
	assert.Equal(t, 1, calls)
}

func TestExecuteDoesNotResendTimedOutCallOnEFT(t *testing.T) {
	p := Policy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, CallTimeout: 20 * time.Millisecond}.ForRail(domain.RailEFT)
	calls := 0
	_, err := Execute(context.Background(), p, "EFT", func(ctx context.Context) (int, error) {
		calls++
		<-ctx.Done()
		return 0, ctx.Err()
	})
	assert.ErrorIs(t, err, domain.ErrBankingTransient)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, calls)
}

func TestExecuteRetriesTimedOutCallOnIdempotentRail(t *testing.T) {
	p := Policy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, CallTimeout: 20 * time.Millisecond}.ForRail(domain.RailBPAY)
	calls := 0
	got, err := Execute(context.Background(), p, "BPAY", func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return 0, ctx.Err()
		}
		return 9, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 9, got)
	assert.Equal(t, 2, calls)
}

func TestExecuteRetriesUndeliveredOnEFT(t *testing.T) {
	p := Policy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}.ForRail(domain.RailEFT)
	calls := 0
	got, err := Execute(context.Background(), p, "EFT", func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, undelivered()
		}
		return 4, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, got)
	assert.Equal(t, 3, calls)
}

func TestBreakerOpensOnConsecutiveTransientFailures(t *testing.T) {
	cfg := BreakerConfig{MaxRequests: 1, Interval: time.Minute, Timeout: 20 * time.Millisecond, ConsecutiveFailures: 2}
	breakers := NewBreakers(cfg, nil)
	p := Policy{Attempts: 1, Breakers: breakers}

	for i := 0; i < 2; i++ {
		_, _ = Execute(context.Background(), p, "BPAY", func(context.Context) (int, error) { return 0, transient() })
	}
	assert.Equal(t, gobreaker.StateOpen, breakers.State("BPAY"))

	calls := 0
	_, err := Execute(context.Background(), p, "BPAY", func(context.Context) (int, error) {
		calls++
		return 1, nil
	})
	assert.ErrorIs(t, err, domain.ErrBankingTransient)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.ErrorIs(t, err, domain.ErrBankingNotDelivered)
	assert.Zero(t, calls)
	assert.Equal(t, gobreaker.StateClosed, breakers.State("EFT"))

	time.Sleep(30 * time.Millisecond)
	got, err := Execute(context.Background(), p, "BPAY", func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, got)
	assert.Equal(t, gobreaker.StateClosed, breakers.State("BPAY"))
}

func TestRejectionsDoNotTripBreaker(t *testing.T) {
	cfg := BreakerConfig{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, ConsecutiveFailures: 1}
	breakers := NewBreakers(cfg, nil)
	p := Policy{Attempts: 1, Breakers: breakers}

	for i := 0; i < 3; i++ {
		_, err := Execute(context.Background(), p, "EFT", func(context.Context) (int, error) { return 0, rejected() })
		assert.ErrorIs(t, err, domain.ErrBankingRejected)
	}
	assert.Equal(t, gobreaker.StateClosed, breakers.State("EFT"))
}

func TestExponentialIsCapped(t *testing.T) {
	assert.Equal(t, 250*time.Millisecond, Exponential(250*time.Millisecond, 0, 2*time.Second))
	assert.Equal(t, time.Second, Exponential(250*time.Millisecond, 2, 2*time.Second))
	assert.Equal(t, 2*time.Second, Exponential(250*time.Millisecond, 10, 2*time.Second))
	assert.Equal(t, time.Duration(0), Exponential(0, 3, time.Second))
	for i := 0; i < 50; i++ {
		j := FullJitter(100 * time.Millisecond)
		assert.GreaterOrEqual(t, j, time.Duration(0))
		assert.Less(t, j, 100*time.Millisecond)
	}
}
