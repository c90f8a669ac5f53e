package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/value-core/internal/models"
	"github.com/ayo6706/value-core/internal/observability"
	"github.com/ayo6706/value-core/internal/repository"
	"go.uber.org/zap"
)

// ReconciliationService resolves settlements left in processing by a crash or a lost response.
type ReconciliationService struct {
	store       QueryStore
	settlements *SettlementService
	staleAfter  time.Duration
	now         func() time.Time
}

// NewReconciliationService creates a reconciliation service.
func NewReconciliationService(store QueryStore, settlements *SettlementService, staleAfter time.Duration) *ReconciliationService {
	if staleAfter <= 0 {
		staleAfter = 2 * time.Minute
	}
	return &ReconciliationService{
		store:       store,
		settlements: settlements,
		staleAfter:  staleAfter,
		now:         time.Now,
	}
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	Scanned   int
	Succeeded int
	Failed    int
	Flagged   int
}

// Run claims up to batchSize stale processing records. Records seen for the first time get one
// provider lookup; records already looked up go to manual review.
func (s *ReconciliationService) Run(ctx context.Context, batchSize int32) (SweepReport, error) {
	var (
		report   SweepReport
		toLookup []models.SettlementRecord
		flagged  []models.SettlementRecord
	)
	cutoff := s.now().Add(-s.staleAfter)

	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		stale, err := q.ListStaleProcessingSettlements(ctx, repository.ListStaleProcessingSettlementsParams{
			CreatedBefore: cutoff,
			Limit:         batchSize,
		})
		if err != nil {
			return fmt.Errorf("load stale processing settlements: %w", err)
		}
		toLookup, flagged = nil, nil
		for _, rec := range stale {
			if rec.ReconcileAttempts > 0 {
				flagged = append(flagged, rec)
				continue
			}
			rows, err := q.IncrementReconcileAttempts(ctx, rec.ID)
			if err != nil {
				return fmt.Errorf("increment reconcile attempts for %s: %w", rec.ID, err)
			}
			if err := requireExactlyOne(rows, "increment reconcile attempts"); err != nil {
				return err
			}
			toLookup = append(toLookup, rec)
		}
		return nil
	})
	if err != nil {
		return report, err
	}
	report.Scanned = len(toLookup) + len(flagged)

	for _, rec := range flagged {
		s.settlements.flagForReview(ctx, rec.ID, "provider outcome unresolved after reconciliation lookup")
		report.Flagged++
	}

	for _, rec := range toLookup {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		updated, err := s.settlements.ReconcileOne(ctx, rec)
		if err != nil {
			zap.L().Error("settlement reconciliation failed", zap.Error(err), zap.String("settlement_id", rec.ID.String()))
			report.Flagged++
			continue
		}
		switch SettlementStatus(updated.Status) {
		case StatusSuccess:
			report.Succeeded++
		case StatusFailed:
			report.Failed++
		default:
			report.Flagged++
		}
	}

	if size, err := s.settlements.ReviewQueueSize(ctx); err == nil {
		observability.SetManualReviewQueueSize(size)
	} else {
		zap.L().Warn("failed to refresh manual review queue size", zap.Error(err))
	}

	if report.Scanned > 0 {
		zap.L().Info("settlement sweep finished",
			zap.Int("scanned", report.Scanned),
			zap.Int("succeeded", report.Succeeded),
			zap.Int("failed", report.Failed),
			zap.Int("flagged", report.Flagged),
		)
	}
	return report, nil
}
