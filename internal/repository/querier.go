package repository

import (
	"context"
	"time"

	"github.com/ayo6706/value-core/internal/models"
	"github.com/google/uuid"
)

// Querier is the data access contract used by the services. *Queries implements it
// against Postgres; tests substitute an in-memory implementation.
type Querier interface {
	InsertSettlement(ctx context.Context, arg InsertSettlementParams) (models.SettlementRecord, error)
	GetSettlement(ctx context.Context, id uuid.UUID) (models.SettlementRecord, error)
	GetSettlementForUpdate(ctx context.Context, id uuid.UUID) (models.SettlementRecord, error)
	GetSettlementByIdempotencyKey(ctx context.Context, key string) (models.SettlementRecord, error)
	ListSettlementsByUser(ctx context.Context, arg ListSettlementsByUserParams) ([]models.SettlementRecord, error)
	CompleteSettlement(ctx context.Context, arg CompleteSettlementParams) (int64, error)
	BackfillProviderIdentifiers(ctx context.Context, arg BackfillProviderIdentifiersParams) (int64, error)
	FlagSettlementForReview(ctx context.Context, arg FlagSettlementForReviewParams) (int64, error)
	ClearSettlementReview(ctx context.Context, id uuid.UUID) (int64, error)
	IncrementReconcileAttempts(ctx context.Context, id uuid.UUID) (int64, error)
	ListStaleProcessingSettlements(ctx context.Context, arg ListStaleProcessingSettlementsParams) ([]models.SettlementRecord, error)
	ListSettlementsForReview(ctx context.Context, arg ListSettlementsForReviewParams) ([]models.SettlementRecord, error)
	CountSettlementsForReview(ctx context.Context) (int64, error)
	GetCommissionBreakdown(ctx context.Context, arg CommissionWindowParams) ([]CommissionBucket, error)
	ListCommissionSettlements(ctx context.Context, arg ListCommissionSettlementsParams) ([]models.SettlementRecord, error)

	InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) error

	InsertReferralLink(ctx context.Context, link models.ReferralLink) (models.ReferralLink, error)
	GetReferralLink(ctx context.Context, id uuid.UUID) (models.ReferralLink, error)
	GetReferralLinkByCode(ctx context.Context, code string) (models.ReferralLink, error)
	ReferralCodeExists(ctx context.Context, code string) (bool, error)
	ListReferralLinksByReferrer(ctx context.Context, referrerID uuid.UUID) ([]models.ReferralLink, error)
	IncrementLinkClick(ctx context.Context, arg IncrementLinkUsageParams) (int64, error)
	IncrementLinkSignup(ctx context.Context, arg IncrementLinkUsageParams) (int64, error)
	DeactivateReferralLink(ctx context.Context, id uuid.UUID) (int64, error)
	InsertReferralEvent(ctx context.Context, ev models.ReferralEvent) error
	SignupExists(ctx context.Context, linkID, refereeID uuid.UUID) (bool, error)
	GetReferralLinkTotals(ctx context.Context, referrerID uuid.UUID) (ReferralLinkTotals, error)
	GetReferralEarnings(ctx context.Context, arg GetReferralEarningsParams) (ReferralEarnings, error)
}

var _ Querier = (*Queries)(nil)

type InsertSettlementParams struct {
	ID                   uuid.UUID
	UserID               uuid.UUID
	ServiceType          string
	OperatorID           int64
	OperatorName         string
	Recipient            string
	AmountMicros         int64
	ProviderAmountMicros int64
	CommissionMicros     int64
	CommissionRate       string
	CommissionType       string
	Currency             string
	IdempotencyKey       string
	Metadata             []byte
	CreatedAt            time.Time
}

type ListSettlementsByUserParams struct {
	UserID uuid.UUID
	Limit  int32
	Offset int32
}

type CompleteSettlementParams struct {
	ID                    uuid.UUID
	Status                string
	ProviderTransactionID *string
	ProviderReferenceID   *string
	ErrorDetail           *string
}

type BackfillProviderIdentifiersParams struct {
	ID                    uuid.UUID
	ProviderTransactionID *string
	ProviderReferenceID   *string
}

type FlagSettlementForReviewParams struct {
	ID     uuid.UUID
	Reason string
}

type ListStaleProcessingSettlementsParams struct {
	CreatedBefore time.Time
	Limit         int32
}

type ListSettlementsForReviewParams struct {
	Limit  int32
	Offset int32
}

// CommissionWindowParams bounds commission reporting to [From, To). Nil ends are open.
type CommissionWindowParams struct {
	From *time.Time
	To   *time.Time
}

type CommissionBucket struct {
	ServiceType      string
	CommissionType   string
	Transactions     int64
	CommissionMicros int64
}

type ListCommissionSettlementsParams struct {
	ServiceType *string
	From        *time.Time
	To          *time.Time
	Limit       int32
	Offset      int32
}

type InsertAuditLogParams struct {
	EntityType string
	EntityID   uuid.UUID
	ActorID    *uuid.UUID
	Action     string
	PrevState  *string
	NextState  *string
	Metadata   []byte
}

type IncrementLinkUsageParams struct {
	ID  uuid.UUID
	Now time.Time
}

type ReferralLinkTotals struct {
	Clicks      int64
	Signups     int64
	Conversions int64
	ActiveLinks int64
}

type GetReferralEarningsParams struct {
	ReferrerID uuid.UUID
	MonthStart time.Time
}

type ReferralEarnings struct {
	LifetimeMicros  int64
	ThisMonthMicros int64
	PendingMicros   int64
}
