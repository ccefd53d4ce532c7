package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticketbot/internal/config"
	"github.com/spec-kit/ticketbot/internal/service"
)

// Reconciler is the slice of the lifecycle engine the sweep needs.
type Reconciler interface {
	ReconcileOrphans(ctx context.Context, olderThan time.Duration, purge bool) (service.ReconcileReport, error)
}

// ReconcileWorker periodically looks for ticket rows that never got a
// channel.
type ReconcileWorker struct {
	reconciler Reconciler
	cfg        config.SweepConfig
	logger     *zap.Logger
}

// NewReconcileWorker builds the sweep.
func NewReconcileWorker(reconciler Reconciler, cfg config.SweepConfig, logger *zap.Logger) *ReconcileWorker {
	return &ReconcileWorker{reconciler: reconciler, cfg: cfg, logger: logger.Named("reconcile")}
}

// Run sweeps once immediately and then every interval until ctx ends.
func (w *ReconcileWorker) Run(ctx context.Context) {
	if !w.cfg.Enabled || w.cfg.Interval <= 0 {
		w.logger.Info("orphan sweep disabled")
		return
	}

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.logger.Info("orphan sweep started",
		zap.Duration("interval", w.cfg.Interval),
		zap.Duration("orphan_age", w.cfg.OrphanAge),
		zap.Bool("purge", w.cfg.Purge))

	for {
		w.sweep(ctx)
		select {
		case <-ctx.Done():
			w.logger.Info("orphan sweep stopped")
			return
		case <-ticker.C:
		}
	}
}

func (w *ReconcileWorker) sweep(ctx context.Context) {
	report, err := w.reconciler.ReconcileOrphans(ctx, w.cfg.OrphanAge, w.cfg.Purge)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("orphan sweep failed", zap.Error(err))
		}
		return
	}
	if len(report.Orphans) > 0 {
		w.logger.Warn("orphan sweep found unbound tickets",
			zap.Int("found", len(report.Orphans)),
			zap.Int("purged", report.Purged))
	}
}
