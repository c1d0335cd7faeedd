package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/ayo6706/owa-release/internal/domain"
	"github.com/ayo6706/owa-release/internal/observability"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerConfig controls when a rail's breaker opens and how long it stays open.
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32
}

// DefaultBreakerConfig suits an external banking gateway.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            2 * time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
		FailureRatio:        0.5,
		MinRequests:         10,
	}
}

// Breakers holds one circuit breaker per name (rail).
type Breakers struct {
	cfg      BreakerConfig
	logger   *zap.Logger
	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewBreakers(cfg BreakerConfig, logger *zap.Logger) *Breakers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breakers{
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Get returns the breaker for name, creating it on first use.
func (b *Breakers) Get(name string) *gobreaker.CircuitBreaker {
	b.mu.RLock()
	cb, ok := b.breakers[name]
	b.mu.RUnlock()
	if ok {
		return cb
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok = b.breakers[name]; ok {
		return cb
	}
	cfg := b.cfg
	cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "rail-" + name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if counts.Requests == 0 || counts.Requests < cfg.MinRequests || cfg.FailureRatio <= 0 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		// A rejection is the rail answering; only transient failures count against it.
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, domain.ErrBankingTransient)
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			b.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			observability.SetBreakerState(name, stateValue(to))
		},
	})
	b.breakers[name] = cb
	observability.SetBreakerState(name, 0)
	return cb
}

// State reports the named breaker's state; unknown names read as closed.
func (b *Breakers) State(name string) gobreaker.State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if cb, ok := b.breakers[name]; ok {
		return cb.State()
	}
	return gobreaker.StateClosed
}

func stateValue(s gobreaker.State) int {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
