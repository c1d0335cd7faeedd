package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/owa-release/internal/observability"
	"go.uber.org/zap"
)

// ChainVerifier replays ledger chains with recent activity.
type ChainVerifier interface {
	VerifyRecent(ctx context.Context, since time.Time, limit int32) (int, error)
}

// ReservationRecoverer moves reservations abandoned mid-dispatch to review.
type ReservationRecoverer interface {
	RecoverStaleReservations(ctx context.Context, batchSize int32) (int, error)
	ReviewQueueSize(ctx context.Context) (int64, error)
}

// IntegrityWorker audits recently touched ledger chains and recovers stale
// release reservations. Several instances can run side by side: chain
// verification is read-only until it halts a scope, and recovery claims rows
// with SKIP LOCKED.
type IntegrityWorker struct {
	verifier     ChainVerifier
	recoverer    ReservationRecoverer
	pollInterval time.Duration
	lookback     time.Duration
	batchSize    int32
	now          func() time.Time
	stopCh       chan struct{}
	stopOnce     sync.Once
}

func NewIntegrityWorker(verifier ChainVerifier, recoverer ReservationRecoverer) *IntegrityWorker {
	return &IntegrityWorker{
		verifier:     verifier,
		recoverer:    recoverer,
		pollInterval: time.Minute,
		lookback:     time.Hour,
		batchSize:    100,
		now:          time.Now,
		stopCh:       make(chan struct{}),
	}
}

// WithPollInterval sets the poll interval for the worker.
func (w *IntegrityWorker) WithPollInterval(interval time.Duration) *IntegrityWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

// WithLookback bounds how far back ledger activity is re-verified.
func (w *IntegrityWorker) WithLookback(lookback time.Duration) *IntegrityWorker {
	if lookback > 0 {
		w.lookback = lookback
	}
	return w
}

func (w *IntegrityWorker) WithBatchSize(size int32) *IntegrityWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start runs the worker loop until Stop is called or ctx is canceled.
func (w *IntegrityWorker) Start(ctx context.Context) {
	zap.L().Info("integrity worker starting",
		zap.Duration("interval", w.pollInterval),
		zap.Duration("lookback", w.lookback),
	)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("integrity worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("integrity worker stop signal received")
			return
		case <-ticker.C:
			if err := w.ProcessOnce(ctx); err != nil {
				zap.L().Error("integrity pass failed", zap.Error(err))
			}
		}
	}
}

func (w *IntegrityWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *IntegrityWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// ProcessOnce runs one recovery and verification pass. Both halves always run;
// their errors are joined.
func (w *IntegrityWorker) ProcessOnce(ctx context.Context) error {
	var errs []error

	recovered, err := w.recoverer.RecoverStaleReservations(ctx, w.batchSize)
	if err != nil {
		errs = append(errs, fmt.Errorf("recover stale reservations: %w", err))
	}

	failures, err := w.verifier.VerifyRecent(ctx, w.now().Add(-w.lookback), w.batchSize)
	if err != nil {
		errs = append(errs, fmt.Errorf("verify recent chains: %w", err))
	}
	if failures > 0 {
		zap.L().Error("ledger chains failed verification", zap.Int("scopes", failures))
	}

	if size, err := w.recoverer.ReviewQueueSize(ctx); err != nil {
		errs = append(errs, fmt.Errorf("review queue size: %w", err))
	} else {
		observability.SetReviewQueueSize(size)
	}

	if len(errs) > 0 {
		observability.IncrementWorkerRun("integrity", "failed")
		return errors.Join(errs...)
	}
	if recovered > 0 {
		zap.L().Warn("stale reservations moved to review", zap.Int("count", recovered))
	}
	observability.IncrementWorkerRun("integrity", "success")
	return nil
}
