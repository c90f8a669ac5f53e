package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/value-core/internal/observability"
	"github.com/ayo6706/value-core/internal/service"
	"go.uber.org/zap"
)

const sweeperName = "settlement_sweeper"

// Reconciler resolves one batch of stale settlements.
type Reconciler interface {
	Run(ctx context.Context, batchSize int32) (service.SweepReport, error)
}

var _ Reconciler = (*service.ReconciliationService)(nil)

// SettlementSweeper periodically resolves settlements stuck in processing.
// Safe for concurrent instances thanks to FOR UPDATE SKIP LOCKED.
type SettlementSweeper struct {
	reconciler Reconciler
	interval   time.Duration
	batchSize  int32
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// NewSettlementSweeper constructs a sweeper polling every minute.
func NewSettlementSweeper(reconciler Reconciler) *SettlementSweeper {
	return &SettlementSweeper{
		reconciler: reconciler,
		interval:   time.Minute,
		batchSize:  50,
		stopCh:     make(chan struct{}),
	}
}

// WithInterval updates the run interval.
func (w *SettlementSweeper) WithInterval(interval time.Duration) *SettlementSweeper {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// WithBatchSize sets how many stale records one run claims.
func (w *SettlementSweeper) WithBatchSize(size int32) *SettlementSweeper {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start blocks and sweeps at the configured interval.
func (w *SettlementSweeper) Start(ctx context.Context) {
	zap.L().Info("settlement sweeper starting", zap.Duration("interval", w.interval), zap.Int32("batch_size", w.batchSize))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Pick up anything a previous process left behind.
	w.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("settlement sweeper context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("settlement sweeper stop signal received")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// Stop stops the running worker loop.
func (w *SettlementSweeper) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *SettlementSweeper) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// ProcessOnce sweeps a single batch immediately.
func (w *SettlementSweeper) ProcessOnce(ctx context.Context) (service.SweepReport, error) {
	return w.reconciler.Run(ctx, w.batchSize)
}

func (w *SettlementSweeper) runOnce(ctx context.Context) {
	if _, err := w.ProcessOnce(ctx); err != nil {
		observability.IncrementWorkerRun(sweeperName, "failed")
		zap.L().Error("settlement sweep failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun(sweeperName, "success")
}

func (w *SettlementSweeper) String() string {
	return fmt.Sprintf("SettlementSweeper(interval=%v, batch=%d)", w.interval, w.batchSize)
}
