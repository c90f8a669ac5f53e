package repository

import (
	"context"
	"fmt"

	"github.com/ayo6706/value-core/internal/domain"
	"github.com/ayo6706/value-core/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const settlementColumns = `id, user_id, service_type, operator_id, operator_name, recipient,
	amount_micros, provider_amount_micros, commission_micros, commission_rate::text, commission_type,
	currency, status, idempotency_key, provider_transaction_id, provider_reference_id, error_detail,
	needs_review, review_reason, reconcile_attempts, metadata, created_at, updated_at`

func scanSettlement(row pgx.Row) (models.SettlementRecord, error) {
	var (
		r           models.SettlementRecord
		serviceType string
		metadata    []byte
	)
	err := row.Scan(
		&r.ID,
		&r.UserID,
		&serviceType,
		&r.OperatorID,
		&r.OperatorName,
		&r.Recipient,
		&r.AmountMicros,
		&r.ProviderAmountMicros,
		&r.CommissionMicros,
		&r.CommissionRate,
		&r.CommissionType,
		&r.Currency,
		&r.Status,
		&r.IdempotencyKey,
		&r.ProviderTransactionID,
		&r.ProviderReferenceID,
		&r.ErrorDetail,
		&r.NeedsReview,
		&r.ReviewReason,
		&r.ReconcileAttempts,
		&metadata,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return models.SettlementRecord{}, translate(err)
	}
	r.ServiceType = domain.ServiceType(serviceType)
	r.Metadata = metadata
	return r, nil
}

func collectSettlements(rows pgx.Rows) ([]models.SettlementRecord, error) {
	defer rows.Close()
	var out []models.SettlementRecord
	for rows.Next() {
		r, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan settlement: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const insertSettlement = `
INSERT INTO settlement_records (
	id, user_id, service_type, operator_id, operator_name, recipient,
	amount_micros, provider_amount_micros, commission_micros, commission_rate, commission_type,
	currency, status, idempotency_key, metadata, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::numeric, $11, $12, 'processing', $13, $14, $15, $15)
RETURNING ` + settlementColumns

func (q *Queries) InsertSettlement(ctx context.Context, arg InsertSettlementParams) (models.SettlementRecord, error) {
	metadata := arg.Metadata
	if len(metadata) == 0 {
		metadata = []byte("{}")
	}
	return scanSettlement(q.db.QueryRow(ctx, insertSettlement,
		arg.ID,
		arg.UserID,
		arg.ServiceType,
		arg.OperatorID,
		arg.OperatorName,
		arg.Recipient,
		arg.AmountMicros,
		arg.ProviderAmountMicros,
		arg.CommissionMicros,
		arg.CommissionRate,
		arg.CommissionType,
		arg.Currency,
		arg.IdempotencyKey,
		metadata,
		arg.CreatedAt,
	))
}

func (q *Queries) GetSettlement(ctx context.Context, id uuid.UUID) (models.SettlementRecord, error) {
	return scanSettlement(q.db.QueryRow(ctx, `SELECT `+settlementColumns+` FROM settlement_records WHERE id = $1`, id))
}

func (q *Queries) GetSettlementForUpdate(ctx context.Context, id uuid.UUID) (models.SettlementRecord, error) {
	return scanSettlement(q.db.QueryRow(ctx, `SELECT `+settlementColumns+` FROM settlement_records WHERE id = $1 FOR UPDATE`, id))
}

func (q *Queries) GetSettlementByIdempotencyKey(ctx context.Context, key string) (models.SettlementRecord, error) {
	return scanSettlement(q.db.QueryRow(ctx, `SELECT `+settlementColumns+` FROM settlement_records WHERE idempotency_key = $1`, key))
}

func (q *Queries) ListSettlementsByUser(ctx context.Context, arg ListSettlementsByUserParams) ([]models.SettlementRecord, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+settlementColumns+`
		FROM settlement_records
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`, arg.UserID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, translate(err)
	}
	return collectSettlements(rows)
}

const completeSettlement = `
UPDATE settlement_records
SET status = $2,
	provider_transaction_id = COALESCE($3, provider_transaction_id),
	provider_reference_id = COALESCE($4, provider_reference_id),
	error_detail = $5,
	needs_review = FALSE,
	updated_at = NOW()
WHERE id = $1 AND status = 'processing'`

func (q *Queries) CompleteSettlement(ctx context.Context, arg CompleteSettlementParams) (int64, error) {
	tag, err := q.db.Exec(ctx, completeSettlement, arg.ID, arg.Status, arg.ProviderTransactionID, arg.ProviderReferenceID, arg.ErrorDetail)
	if err != nil {
		return 0, translate(err)
	}
	return tag.RowsAffected(), nil
}

const backfillProviderIdentifiers = `
UPDATE settlement_records
SET provider_transaction_id = COALESCE(provider_transaction_id, $2),
	provider_reference_id = COALESCE(provider_reference_id, $3),
	updated_at = NOW()
WHERE id = $1
	AND status = 'success'
	AND (provider_transaction_id IS NULL OR provider_reference_id IS NULL)`

func (q *Queries) BackfillProviderIdentifiers(ctx context.Context, arg BackfillProviderIdentifiersParams) (int64, error) {
	tag, err := q.db.Exec(ctx, backfillProviderIdentifiers, arg.ID, arg.ProviderTransactionID, arg.ProviderReferenceID)
	if err != nil {
		return 0, translate(err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) FlagSettlementForReview(ctx context.Context, arg FlagSettlementForReviewParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE settlement_records
		SET needs_review = TRUE, review_reason = $2, updated_at = NOW()
		WHERE id = $1`, arg.ID, arg.Reason)
	if err != nil {
		return 0, translate(err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) ClearSettlementReview(ctx context.Context, id uuid.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE settlement_records
		SET needs_review = FALSE, updated_at = NOW()
		WHERE id = $1 AND needs_review`, id)
	if err != nil {
		return 0, translate(err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) IncrementReconcileAttempts(ctx context.Context, id uuid.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE settlement_records
		SET reconcile_attempts = reconcile_attempts + 1, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'`, id)
	if err != nil {
		return 0, translate(err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) ListStaleProcessingSettlements(ctx context.Context, arg ListStaleProcessingSettlementsParams) ([]models.SettlementRecord, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+settlementColumns+`
		FROM settlement_records
		WHERE status = 'processing' AND NOT needs_review AND created_at < $1
		ORDER BY created_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, arg.CreatedBefore, arg.Limit)
	if err != nil {
		return nil, translate(err)
	}
	return collectSettlements(rows)
}

func (q *Queries) ListSettlementsForReview(ctx context.Context, arg ListSettlementsForReviewParams) ([]models.SettlementRecord, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+settlementColumns+`
		FROM settlement_records
		WHERE needs_review
		ORDER BY created_at
		LIMIT $1 OFFSET $2`, arg.Limit, arg.Offset)
	if err != nil {
		return nil, translate(err)
	}
	return collectSettlements(rows)
}

func (q *Queries) CountSettlementsForReview(ctx context.Context) (int64, error) {
	var n int64
	if err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM settlement_records WHERE needs_review`).Scan(&n); err != nil {
		return 0, translate(err)
	}
	return n, nil
}

// GetCommissionBreakdown sums earned commission over successful settlements, one bucket per
// service type and commission type.
func (q *Queries) GetCommissionBreakdown(ctx context.Context, arg CommissionWindowParams) ([]CommissionBucket, error) {
	rows, err := q.db.Query(ctx, `
		SELECT service_type, commission_type, COUNT(*), COALESCE(SUM(commission_micros), 0)::BIGINT
		FROM settlement_records
		WHERE status = 'success'
			AND ($1::TIMESTAMPTZ IS NULL OR created_at >= $1)
			AND ($2::TIMESTAMPTZ IS NULL OR created_at < $2)
		GROUP BY service_type, commission_type
		ORDER BY service_type, commission_type`, arg.From, arg.To)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	var out []CommissionBucket
	for rows.Next() {
		var b CommissionBucket
		if err := rows.Scan(&b.ServiceType, &b.CommissionType, &b.Transactions, &b.CommissionMicros); err != nil {
			return nil, fmt.Errorf("scan commission bucket: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (q *Queries) ListCommissionSettlements(ctx context.Context, arg ListCommissionSettlementsParams) ([]models.SettlementRecord, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+settlementColumns+`
		FROM settlement_records
		WHERE status = 'success'
			AND ($1::TEXT IS NULL OR service_type = $1)
			AND ($2::TIMESTAMPTZ IS NULL OR created_at >= $2)
			AND ($3::TIMESTAMPTZ IS NULL OR created_at < $3)
		ORDER BY created_at DESC, id
		LIMIT $4 OFFSET $5`, arg.ServiceType, arg.From, arg.To, arg.Limit, arg.Offset)
	if err != nil {
		return nil, translate(err)
	}
	return collectSettlements(rows)
}

func (q *Queries) InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO audit_log (entity_type, entity_id, actor_id, action, prev_state, next_state, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		arg.EntityType, arg.EntityID, optionalUUID(arg.ActorID), arg.Action, arg.PrevState, arg.NextState, arg.Metadata)
	return translate(err)
}
