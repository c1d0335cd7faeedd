package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ayo6706/owa-release/internal/observability"
	"go.uber.org/zap"
)

// StatementMatcher re-runs statement matching over the unresolved queue.
type StatementMatcher interface {
	MatchUnresolved(ctx context.Context, batchSize int32) (int, error)
	UnresolvedCount(ctx context.Context) (int64, error)
}

// ReconciliationWorker periodically retries unresolved statement lines, which
// match once a late release is finalized or confirmed by an operator.
type ReconciliationWorker struct {
	matcher   StatementMatcher
	interval  time.Duration
	batchSize int32
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewReconciliationWorker constructs a worker with a five minute interval.
func NewReconciliationWorker(matcher StatementMatcher) *ReconciliationWorker {
	return &ReconciliationWorker{
		matcher:   matcher,
		interval:  5 * time.Minute,
		batchSize: 200,
		stopCh:    make(chan struct{}),
	}
}

// WithInterval updates the run interval.
func (w *ReconciliationWorker) WithInterval(interval time.Duration) *ReconciliationWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

func (w *ReconciliationWorker) WithBatchSize(size int32) *ReconciliationWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start blocks and runs matching at the configured interval.
func (w *ReconciliationWorker) Start(ctx context.Context) {
	zap.L().Info("reconciliation worker starting",
		zap.Duration("interval", w.interval),
		zap.Int32("batch_size", w.batchSize),
	)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("reconciliation worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("reconciliation worker stop signal received")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// Stop stops the running worker loop.
func (w *ReconciliationWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *ReconciliationWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// RunOnce performs one matching pass and refreshes the unresolved gauge.
func (w *ReconciliationWorker) RunOnce(ctx context.Context) {
	if _, err := w.matcher.MatchUnresolved(ctx, w.batchSize); err != nil {
		observability.IncrementWorkerRun("reconciliation", "failed")
		zap.L().Error("statement re-match failed", zap.Error(err))
		return
	}
	count, err := w.matcher.UnresolvedCount(ctx)
	if err != nil {
		observability.IncrementWorkerRun("reconciliation", "failed")
		zap.L().Error("count unresolved statement lines failed", zap.Error(err))
		return
	}
	observability.SetUnresolvedLines(count)
	observability.IncrementWorkerRun("reconciliation", "success")
}
