package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/value-core/internal/models"
	"github.com/ayo6706/value-core/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SettlementStatus is the persisted status of a settlement record.
type SettlementStatus string

const (
	StatusProcessing SettlementStatus = "processing"
	StatusSuccess    SettlementStatus = "success"
	StatusFailed     SettlementStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s SettlementStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Stage is the saga step of one submission attempt. Stages are logged, not stored.
type Stage string

const (
	StageQuoted    Stage = "QUOTED"
	StagePending   Stage = "PENDING"
	StageSubmitted Stage = "SUBMITTED"
	StageSettled   Stage = "SETTLED"
	StageFailed    Stage = "FAILED"
)

var settlementTransitions = map[SettlementStatus]map[SettlementStatus]struct{}{
	StatusProcessing: {
		StatusSuccess: {},
		StatusFailed:  {},
	},
	StatusSuccess: {},
	StatusFailed:  {},
}

func canTransition(current, next SettlementStatus) bool {
	nextStates, ok := settlementTransitions[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

type terminalUpdate struct {
	ProviderTransactionID *string
	ProviderReferenceID   *string
	ErrorDetail           *string
}

// transitionSettlement moves a settlement to a terminal status within q's transaction.
// Re-observing the current status is a no-op and reports applied=false.
func transitionSettlement(ctx context.Context, q repository.Querier, id uuid.UUID, next SettlementStatus, upd terminalUpdate, actorID *uuid.UUID, action string, metadata []byte) (models.SettlementRecord, bool, error) {
	rec, err := q.GetSettlementForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return models.SettlementRecord{}, false, ErrSettlementNotFound
		}
		return models.SettlementRecord{}, false, fmt.Errorf("get settlement for update: %w", err)
	}

	current := SettlementStatus(rec.Status)
	if current == next {
		return rec, false, nil
	}
	if !canTransition(current, next) {
		return rec, false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}

	rows, err := q.CompleteSettlement(ctx, repository.CompleteSettlementParams{
		ID:                    id,
		Status:                string(next),
		ProviderTransactionID: upd.ProviderTransactionID,
		ProviderReferenceID:   upd.ProviderReferenceID,
		ErrorDetail:           upd.ErrorDetail,
	})
	if err != nil {
		return rec, false, fmt.Errorf("update settlement status: %w", err)
	}
	if err := requireExactlyOne(rows, "complete settlement"); err != nil {
		return rec, false, err
	}

	if err := writeAudit(ctx, q, auditEntry{
		Entity:   auditSettlement,
		EntityID: id,
		Actor:    actorID,
		Action:   action,
		From:     string(current),
		To:       string(next),
		Metadata: metadata,
	}); err != nil {
		return rec, false, err
	}

	updated, err := q.GetSettlement(ctx, id)
	if err != nil {
		return rec, false, fmt.Errorf("reload settlement: %w", err)
	}
	return updated, true, nil
}

func logStage(rec models.SettlementRecord, stage Stage, fields ...zap.Field) {
	base := []zap.Field{
		zap.String("settlement_id", rec.ID.String()),
		zap.String("user_id", rec.UserID.String()),
		zap.String("service_type", string(rec.ServiceType)),
		zap.String("stage", string(stage)),
	}
	zap.L().Info("settlement stage", append(base, fields...)...)
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
