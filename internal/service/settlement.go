package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/value-core/internal/domain"
	"github.com/ayo6706/value-core/internal/events"
	"github.com/ayo6706/value-core/internal/gateway"
	"github.com/ayo6706/value-core/internal/models"
	"github.com/ayo6706/value-core/internal/observability"
	"github.com/ayo6706/value-core/internal/pricing"
	"github.com/ayo6706/value-core/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrSettlementNotFound    = errors.New("settlement not found")
	ErrSettlementInFlight    = errors.New("settlement is still being processed")
	ErrDuplicateSubmission   = errors.New("settlement already submitted")
	ErrInvalidTransition     = errors.New("invalid settlement status transition")
	ErrProviderFailed        = errors.New("provider did not fulfill the spend")
	ErrReconciliationGap     = errors.New("provider fulfilled the spend but the result could not be recorded")
	ErrNotInManualReview     = errors.New("settlement is not in manual review")
	ErrInvalidReviewDecision = errors.New("invalid manual review decision")
	ErrInvalidRecipient      = errors.New("recipient is required")
	ErrProviderMismatch      = errors.New("provider status contradicts the review decision")
	ErrProviderUnavailable   = errors.New("provider status could not be confirmed")
)

// ProviderFailureMessage is shown to users when a spend fails.
const ProviderFailureMessage = "transaction failed; no charge to you beyond what the provider may have billed"

// PendingConfirmationMessage is shown when the provider outcome is not yet recorded.
const PendingConfirmationMessage = "spend is pending confirmation"

const publishTimeout = 5 * time.Second

// SettlementConfig tunes the saga.
type SettlementConfig struct {
	ProviderTimeout   time.Duration
	StaleAfter        time.Duration
	IdempotencyPrefix string
}

// SettlementService runs the quote, persist, submit, finalize saga for provider spends.
// The persisted record is the source of truth; the provider is called at most once per record.
type SettlementService struct {
	store     QueryStore
	calc      *pricing.Calculator
	gateway   gateway.Gateway
	publisher events.Publisher
	cfg       SettlementConfig
	now       func() time.Time
}

func NewSettlementService(store QueryStore, calc *pricing.Calculator, gw gateway.Gateway, publisher events.Publisher, cfg SettlementConfig) *SettlementService {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 30 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 2 * time.Minute
	}
	if cfg.IdempotencyPrefix == "" {
		cfg.IdempotencyPrefix = "VALUECORE"
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &SettlementService{
		store:     store,
		calc:      calc,
		gateway:   gw,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
	}
}

// SpendRequest is one user-initiated spend.
type SpendRequest struct {
	// SettlementID lets a client retry a submission safely; nil means a new spend.
	SettlementID *uuid.UUID
	UserID       uuid.UUID
	ServiceType  domain.ServiceType
	OperatorID   int64
	AmountMicros int64
	Recipient    string
}

// SpendResult carries the record as persisted after the attempt.
type SpendResult struct {
	Settlement models.SettlementRecord `json:"settlement"`
	Pricing    pricing.PricedRequest   `json:"pricing"`
	Message    string                  `json:"message"`
}

// Quote prices a spend without any writes.
func (s *SettlementService) Quote(_ context.Context, serviceType domain.ServiceType, amountMicros, operatorID int64) (pricing.PricedRequest, error) {
	return s.calc.Calculate(serviceType, amountMicros, operatorID)
}

// Operators lists the catalog for a service type.
func (s *SettlementService) Operators(serviceType domain.ServiceType) ([]pricing.Operator, error) {
	return s.calc.Operators(serviceType)
}

// Submit executes the saga. On ErrProviderFailed and ErrReconciliationGap the returned result
// still describes the persisted record.
func (s *SettlementService) Submit(ctx context.Context, req SpendRequest) (*SpendResult, error) {
	req.Recipient = strings.TrimSpace(req.Recipient)
	if req.Recipient == "" {
		return nil, ErrInvalidRecipient
	}
	priced, err := s.calc.Calculate(req.ServiceType, req.AmountMicros, req.OperatorID)
	if err != nil {
		return nil, err
	}

	settlementID := uuid.New()
	if req.SettlementID != nil {
		settlementID = *req.SettlementID
		existing, err := s.store.Queries().GetSettlement(ctx, settlementID)
		switch {
		case err == nil && existing.UserID != req.UserID:
			return nil, ErrDuplicateSubmission
		case err == nil:
			return s.resumeExisting(ctx, existing, priced)
		case !errors.Is(err, repository.ErrNotFound):
			return nil, fmt.Errorf("check existing settlement: %w", err)
		}
	}

	createdAt := s.now().UTC().Truncate(time.Microsecond)
	key := gateway.IdempotencyKey(s.cfg.IdempotencyPrefix, req.UserID, createdAt, settlementID)
	metadata, err := json.Marshal(map[string]any{
		"direction":       priced.Direction,
		"original_amount": domain.FormatMicros(priced.OriginalAmount),
	})
	if err != nil {
		return nil, fmt.Errorf("encode settlement metadata: %w", err)
	}

	var rec models.SettlementRecord
	err = s.store.RunInTx(ctx, func(q repository.Querier) error {
		var err error
		rec, err = q.InsertSettlement(ctx, repository.InsertSettlementParams{
			ID:                   settlementID,
			UserID:               req.UserID,
			ServiceType:          string(req.ServiceType),
			OperatorID:           req.OperatorID,
			OperatorName:         priced.OperatorName,
			Recipient:            req.Recipient,
			AmountMicros:         priced.FinalAmount,
			ProviderAmountMicros: priced.ProviderAmount,
			CommissionMicros:     priced.CommissionValue,
			CommissionRate:       priced.CommissionRate.String(),
			CommissionType:       priced.CommissionType,
			Currency:             priced.Currency,
			IdempotencyKey:       key,
			Metadata:             metadata,
			CreatedAt:            createdAt,
		})
		if err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return ErrDuplicateSubmission
			}
			return fmt.Errorf("insert settlement: %w", err)
		}
		return writeAudit(ctx, q, auditEntry{
			Entity:   auditSettlement,
			EntityID: settlementID,
			Actor:    &req.UserID,
			Action:   "created",
			To:       string(StatusProcessing),
			Metadata: metadata,
		})
	})
	if err != nil {
		return nil, err
	}
	observability.IncrementSettlementTransition(string(rec.ServiceType), string(StatusProcessing))
	logStage(rec, StageQuoted, zap.Int64("final_amount_micros", priced.FinalAmount), zap.Int64("commission_micros", priced.CommissionValue))
	logStage(rec, StagePending, zap.String("idempotency_key", key))

	// The provider call must not be abandoned because the caller went away.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ProviderTimeout)
	res, callErr := s.dispatch(callCtx, rec)
	cancel()
	logStage(rec, StageSubmitted, zap.Bool("provider_success", callErr == nil && res.Success))

	writeCtx := context.WithoutCancel(ctx)
	if callErr == nil && res.Success {
		return s.finalizeSuccess(writeCtx, rec, priced, res)
	}
	return s.finalizeFailure(writeCtx, rec, priced, res, callErr)
}

func (s *SettlementService) resumeExisting(ctx context.Context, existing models.SettlementRecord, priced pricing.PricedRequest) (*SpendResult, error) {
	result := &SpendResult{Settlement: existing, Pricing: priced}
	if SettlementStatus(existing.Status).Terminal() {
		return result, ErrDuplicateSubmission
	}
	if s.now().Sub(existing.CreatedAt) < s.cfg.StaleAfter {
		result.Message = PendingConfirmationMessage
		return result, ErrSettlementInFlight
	}

	// One lookup per record: the attempt is claimed under the row lock, and anything
	// already looked up waits for the review queue.
	claimed := false
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		current, err := q.GetSettlementForUpdate(ctx, existing.ID)
		if err != nil {
			return fmt.Errorf("lock settlement: %w", err)
		}
		existing, claimed = current, false
		if SettlementStatus(current.Status).Terminal() || current.ReconcileAttempts > 0 || current.NeedsReview {
			return nil
		}
		rows, err := q.IncrementReconcileAttempts(ctx, current.ID)
		if err != nil {
			return fmt.Errorf("increment reconcile attempts: %w", err)
		}
		if err := requireExactlyOne(rows, "increment reconcile attempts"); err != nil {
			return err
		}
		claimed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Settlement = existing
	if !claimed {
		if SettlementStatus(existing.Status).Terminal() {
			return result, ErrDuplicateSubmission
		}
		if !existing.NeedsReview {
			s.flagForReview(ctx, existing.ID, "provider outcome unresolved after reconciliation lookup")
			if flagged, getErr := s.store.Queries().GetSettlement(ctx, existing.ID); getErr == nil {
				result.Settlement = flagged
			}
		}
		result.Message = PendingConfirmationMessage
		return result, ErrSettlementInFlight
	}

	rec, err := s.ReconcileOne(ctx, existing)
	if err != nil {
		return nil, err
	}
	result.Settlement = rec
	switch SettlementStatus(rec.Status) {
	case StatusFailed:
		result.Message = ProviderFailureMessage
		return result, ErrProviderFailed
	case StatusProcessing:
		result.Message = PendingConfirmationMessage
	}
	return result, nil
}

func (s *SettlementService) dispatch(ctx context.Context, rec models.SettlementRecord) (gateway.Result, error) {
	amount := domain.MicrosToDecimal(rec.ProviderAmountMicros)
	switch rec.ServiceType {
	case domain.ServiceAirtime:
		return s.gateway.SubmitTopUp(ctx, rec.OperatorID, amount, rec.Recipient, rec.IdempotencyKey)
	case domain.ServiceData:
		return s.gateway.SubmitDataBundle(ctx, rec.OperatorID, amount, rec.Recipient, rec.IdempotencyKey)
	case domain.ServiceUtility:
		return s.gateway.PayBill(ctx, rec.OperatorID, amount, rec.Recipient, rec.IdempotencyKey)
	case domain.ServiceGiftCard:
		return s.gateway.PurchaseGiftCard(ctx, rec.OperatorID, amount, rec.Recipient, rec.IdempotencyKey)
	default:
		return gateway.Result{}, fmt.Errorf("%w: %q", pricing.ErrUnknownServiceType, rec.ServiceType)
	}
}

func (s *SettlementService) finalizeSuccess(ctx context.Context, rec models.SettlementRecord, priced pricing.PricedRequest, res gateway.Result) (*SpendResult, error) {
	updated, applied, err := s.applyTerminal(ctx, rec.ID, StatusSuccess, terminalUpdate{
		ProviderTransactionID: optionalString(res.ProviderTransactionID),
		ProviderReferenceID:   optionalString(res.ProviderReferenceID),
	}, nil, "provider_succeeded", nil)
	if err != nil {
		observability.IncrementReconciliationGap()
		zap.L().Error("provider succeeded but settlement finalization failed",
			zap.Error(err),
			zap.String("settlement_id", rec.ID.String()),
			zap.String("provider_transaction_id", res.ProviderTransactionID),
		)
		s.flagForReview(ctx, rec.ID, "provider succeeded; terminal write failed: "+err.Error())
		if flagged, getErr := s.store.Queries().GetSettlement(ctx, rec.ID); getErr == nil {
			rec = flagged
		}
		return &SpendResult{Settlement: rec, Pricing: priced, Message: PendingConfirmationMessage}, fmt.Errorf("%w: %v", ErrReconciliationGap, err)
	}
	if !applied && SettlementStatus(updated.Status) == StatusSuccess {
		s.backfill(ctx, updated, res)
	}
	logStage(updated, StageSettled, zap.String("provider_transaction_id", res.ProviderTransactionID))
	return &SpendResult{Settlement: updated, Pricing: priced, Message: "spend completed"}, nil
}

func (s *SettlementService) finalizeFailure(ctx context.Context, rec models.SettlementRecord, priced pricing.PricedRequest, res gateway.Result, callErr error) (*SpendResult, error) {
	detail := res.Error
	if callErr != nil {
		detail = callErr.Error()
	}
	if detail == "" {
		detail = "provider reported status " + res.Status
	}
	metadata, err := marshalReasonMetadata(detail)
	if err != nil {
		return nil, fmt.Errorf("marshal failure metadata: %w", err)
	}

	updated, _, err := s.applyTerminal(ctx, rec.ID, StatusFailed, terminalUpdate{
		ProviderTransactionID: optionalString(res.ProviderTransactionID),
		ErrorDetail:           &detail,
	}, nil, "provider_failed", metadata)
	if err != nil {
		zap.L().Error("failed to record provider failure", zap.Error(err), zap.String("settlement_id", rec.ID.String()))
		s.flagForReview(ctx, rec.ID, "provider failed; terminal write failed: "+err.Error())
		updated = rec
	}
	logStage(rec, StageFailed, zap.String("error_detail", detail))

	failure := fmt.Errorf("%w: %s", ErrProviderFailed, detail)
	if callErr != nil {
		failure = fmt.Errorf("%w: %w", ErrProviderFailed, callErr)
	}
	return &SpendResult{Settlement: updated, Pricing: priced, Message: ProviderFailureMessage}, failure
}

// applyTerminal runs one terminal transition in its own transaction and emits the metric and
// event when it actually changed the record.
func (s *SettlementService) applyTerminal(ctx context.Context, id uuid.UUID, next SettlementStatus, upd terminalUpdate, actorID *uuid.UUID, action string, metadata []byte) (models.SettlementRecord, bool, error) {
	var (
		rec     models.SettlementRecord
		applied bool
	)
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		var err error
		rec, applied, err = transitionSettlement(ctx, q, id, next, upd, actorID, action, metadata)
		return err
	})
	if err != nil {
		return rec, false, err
	}
	if applied {
		observability.IncrementSettlementTransition(string(rec.ServiceType), string(next))
		s.publish(ctx, rec)
	}
	return rec, applied, nil
}

func (s *SettlementService) publish(ctx context.Context, rec models.SettlementRecord) {
	eventType := events.SettlementSucceeded
	if SettlementStatus(rec.Status) == StatusFailed {
		eventType = events.SettlementFailed
	}
	ev := events.SettlementEvent{
		EventType:        eventType,
		SettlementID:     rec.ID,
		UserID:           rec.UserID,
		ServiceType:      string(rec.ServiceType),
		Status:           rec.Status,
		AmountMicros:     rec.AmountMicros,
		CommissionMicros: rec.CommissionMicros,
		Currency:         rec.Currency,
		OccurredAt:       s.now().UTC(),
	}
	if rec.ProviderTransactionID != nil {
		ev.ProviderTransactionID = *rec.ProviderTransactionID
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.publisher.PublishSettlement(pubCtx, ev); err != nil {
		zap.L().Warn("settlement event publish failed", zap.Error(err), zap.String("settlement_id", rec.ID.String()))
	}
}

func (s *SettlementService) backfill(ctx context.Context, rec models.SettlementRecord, res gateway.Result) {
	if res.ProviderTransactionID == "" && res.ProviderReferenceID == "" {
		return
	}
	if _, err := s.BackfillProviderIdentifiers(ctx, rec.ID, res.ProviderTransactionID, res.ProviderReferenceID); err != nil {
		zap.L().Warn("provider identifier backfill failed", zap.Error(err), zap.String("settlement_id", rec.ID.String()))
	}
}

// flagForReview queues the record for manual reconciliation. Best effort: failures are logged.
func (s *SettlementService) flagForReview(ctx context.Context, id uuid.UUID, reason string) {
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		rows, err := q.FlagSettlementForReview(ctx, repository.FlagSettlementForReviewParams{ID: id, Reason: reason})
		if err != nil {
			return fmt.Errorf("flag settlement for review: %w", err)
		}
		if err := requireExactlyOne(rows, "flag settlement for review"); err != nil {
			return err
		}
		metadata, err := marshalReasonMetadata(reason)
		if err != nil {
			return fmt.Errorf("marshal manual review metadata: %w", err)
		}
		return writeAudit(ctx, q, auditEntry{
			Entity:   auditSettlement,
			EntityID: id,
			Action:   "manual_review_queued",
			From:     string(StatusProcessing),
			To:       string(StatusProcessing),
			Metadata: metadata,
		})
	})
	if err != nil {
		zap.L().Error("failed to queue settlement for manual review", zap.Error(err), zap.String("settlement_id", id.String()))
		return
	}
	observability.IncrementManualReviewTransition("queued")
	zap.L().Warn("settlement queued for manual review", zap.String("settlement_id", id.String()), zap.String("reason", reason))
}

// ProviderOutcome is a terminal provider notification for one settlement.
type ProviderOutcome struct {
	Success               bool
	ProviderTransactionID string
	ProviderReferenceID   string
	ErrorDetail           string
	// Source names the notifier for the audit trail, e.g. "webhook" or "sweeper".
	Source string
}

// ApplyProviderOutcome records a terminal provider notification. Duplicate deliveries are
// no-ops and report applied=false; a conflicting terminal status returns ErrInvalidTransition.
func (s *SettlementService) ApplyProviderOutcome(ctx context.Context, settlementID uuid.UUID, outcome ProviderOutcome) (models.SettlementRecord, bool, error) {
	source := outcome.Source
	if source == "" {
		source = "provider"
	}
	next := StatusFailed
	upd := terminalUpdate{
		ProviderTransactionID: optionalString(outcome.ProviderTransactionID),
		ProviderReferenceID:   optionalString(outcome.ProviderReferenceID),
	}
	if outcome.Success {
		next = StatusSuccess
	} else {
		detail := outcome.ErrorDetail
		if detail == "" {
			detail = "not fulfilled by provider"
		}
		upd.ErrorDetail = &detail
	}
	metadata, err := json.Marshal(map[string]string{"source": source})
	if err != nil {
		return models.SettlementRecord{}, false, fmt.Errorf("marshal outcome metadata: %w", err)
	}

	rec, applied, err := s.applyTerminal(ctx, settlementID, next, upd, nil, source+"_"+string(next), metadata)
	if err != nil {
		return rec, false, err
	}
	if !applied && outcome.Success {
		s.backfill(ctx, rec, gateway.Result{
			ProviderTransactionID: outcome.ProviderTransactionID,
			ProviderReferenceID:   outcome.ProviderReferenceID,
		})
		if refreshed, err := s.store.Queries().GetSettlement(ctx, settlementID); err == nil {
			rec = refreshed
		}
	}
	return rec, applied, nil
}

// BackfillProviderIdentifiers fills missing provider ids on a successful record. It never
// changes status and is a no-op for other records.
func (s *SettlementService) BackfillProviderIdentifiers(ctx context.Context, settlementID uuid.UUID, providerTransactionID, providerReferenceID string) (bool, error) {
	rows, err := s.store.Queries().BackfillProviderIdentifiers(ctx, repository.BackfillProviderIdentifiersParams{
		ID:                    settlementID,
		ProviderTransactionID: optionalString(providerTransactionID),
		ProviderReferenceID:   optionalString(providerReferenceID),
	})
	if err != nil {
		return false, fmt.Errorf("backfill provider identifiers: %w", err)
	}
	return rows > 0, nil
}

// ReconcileOne performs the single provider lookup for a stale processing record and applies
// what it learns. Anything inconclusive is queued for manual review; nothing is re-submitted.
func (s *SettlementService) ReconcileOne(ctx context.Context, rec models.SettlementRecord) (models.SettlementRecord, error) {
	res, err := s.providerStatus(ctx, rec)
	knownID := rec.ProviderTransactionID != nil && *rec.ProviderTransactionID != ""

	switch {
	case err != nil && errors.Is(err, gateway.ErrTransactionNotFound) && knownID:
		s.flagForReview(ctx, rec.ID, "provider has no transaction "+*rec.ProviderTransactionID)
	case err != nil && errors.Is(err, gateway.ErrTransactionNotFound):
		updated, _, applyErr := s.ApplyProviderOutcome(ctx, rec.ID, ProviderOutcome{ErrorDetail: "not fulfilled by provider", Source: "sweeper"})
		return updated, applyErr
	case err != nil:
		s.flagForReview(ctx, rec.ID, "provider lookup failed: "+err.Error())
	case res.Success:
		updated, _, applyErr := s.ApplyProviderOutcome(ctx, rec.ID, ProviderOutcome{
			Success:               true,
			ProviderTransactionID: res.ProviderTransactionID,
			ProviderReferenceID:   res.ProviderReferenceID,
			Source:                "sweeper",
		})
		if applyErr != nil {
			s.flagForReview(ctx, rec.ID, "provider succeeded; terminal write failed: "+applyErr.Error())
			break
		}
		return updated, nil
	case res.Failed():
		detail := res.Error
		if detail == "" {
			detail = "provider reported status " + res.Status
		}
		updated, _, applyErr := s.ApplyProviderOutcome(ctx, rec.ID, ProviderOutcome{
			ProviderTransactionID: res.ProviderTransactionID,
			ErrorDetail:           detail,
			Source:                "sweeper",
		})
		return updated, applyErr
	default:
		s.flagForReview(ctx, rec.ID, "provider reports status "+res.Status)
	}

	updated, err := s.store.Queries().GetSettlement(ctx, rec.ID)
	if err != nil {
		return rec, fmt.Errorf("reload settlement: %w", err)
	}
	return updated, nil
}

// providerStatus asks the provider about rec, by transaction id when one was recorded and by
// idempotency key otherwise.
func (s *SettlementService) providerStatus(ctx context.Context, rec models.SettlementRecord) (gateway.Result, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ProviderTimeout)
	defer cancel()
	if rec.ProviderTransactionID != nil && *rec.ProviderTransactionID != "" {
		return s.gateway.GetTransaction(callCtx, *rec.ProviderTransactionID)
	}
	return s.gateway.LookupByCustomIdentifier(callCtx, rec.IdempotencyKey)
}

// ProviderTransaction fetches one transaction straight from the provider.
func (s *SettlementService) ProviderTransaction(ctx context.Context, providerTransactionID string) (gateway.Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()
	return s.gateway.GetTransaction(callCtx, providerTransactionID)
}

// GetSettlement retrieves a settlement by ID.
func (s *SettlementService) GetSettlement(ctx context.Context, id uuid.UUID) (models.SettlementRecord, error) {
	rec, err := s.store.Queries().GetSettlement(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return models.SettlementRecord{}, ErrSettlementNotFound
		}
		return models.SettlementRecord{}, fmt.Errorf("get settlement: %w", err)
	}
	return rec, nil
}

// ListSettlements returns a user's settlements, newest first.
func (s *SettlementService) ListSettlements(ctx context.Context, userID uuid.UUID, limit, offset int32) ([]models.SettlementRecord, error) {
	limit, offset = normalizePage(limit, offset, 50, 500)
	rows, err := s.store.Queries().ListSettlementsByUser(ctx, repository.ListSettlementsByUserParams{
		UserID: userID,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list settlements: %w", err)
	}
	return rows, nil
}

func (s *SettlementService) ReviewQueueSize(ctx context.Context) (int64, error) {
	count, err := s.store.Queries().CountSettlementsForReview(ctx)
	if err != nil {
		return 0, fmt.Errorf("count manual review settlements: %w", err)
	}
	return count, nil
}

// ListReviewQueue returns settlements waiting for manual operator action, oldest first.
func (s *SettlementService) ListReviewQueue(ctx context.Context, limit, offset int32) ([]models.SettlementRecord, error) {
	limit, offset = normalizePage(limit, offset, 50, 500)
	rows, err := s.store.Queries().ListSettlementsForReview(ctx, repository.ListSettlementsForReviewParams{
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list manual review settlements: %w", err)
	}
	return rows, nil
}

type ReviewDecision string

const (
	DecisionConfirmSuccess ReviewDecision = "confirm_success"
	DecisionConfirmFailed  ReviewDecision = "confirm_failed"
)

type ResolveReviewRequest struct {
	SettlementID          uuid.UUID
	Decision              ReviewDecision
	Reason                string
	ActorID               *uuid.UUID
	ProviderTransactionID *string
}

// ResolveReview closes a manual review with an operator decision.
func (s *SettlementService) ResolveReview(ctx context.Context, req ResolveReviewRequest) (models.SettlementRecord, error) {
	decision := ReviewDecision(strings.ToLower(strings.TrimSpace(string(req.Decision))))
	var next SettlementStatus
	switch decision {
	case DecisionConfirmSuccess:
		next = StatusSuccess
	case DecisionConfirmFailed:
		next = StatusFailed
	default:
		return models.SettlementRecord{}, ErrInvalidReviewDecision
	}

	metadata, err := marshalReasonMetadata(req.Reason)
	if err != nil {
		return models.SettlementRecord{}, fmt.Errorf("marshal resolution metadata: %w", err)
	}

	confirmed, err := s.confirmWithProvider(ctx, req, next)
	if err != nil {
		return models.SettlementRecord{}, err
	}

	var (
		rec     models.SettlementRecord
		applied bool
	)
	err = s.store.RunInTx(ctx, func(q repository.Querier) error {
		current, err := q.GetSettlementForUpdate(ctx, req.SettlementID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrSettlementNotFound
			}
			return fmt.Errorf("get settlement for update: %w", err)
		}
		if !current.NeedsReview {
			return ErrNotInManualReview
		}

		upd := terminalUpdate{ProviderTransactionID: req.ProviderTransactionID}
		if confirmed.ProviderReferenceID != "" {
			upd.ProviderReferenceID = &confirmed.ProviderReferenceID
		}
		if next == StatusFailed {
			detail := "manual review: " + req.Reason
			upd.ErrorDetail = &detail
		}
		rec, applied, err = transitionSettlement(ctx, q, req.SettlementID, next, upd, req.ActorID, "manual_review_"+string(decision), metadata)
		if err != nil {
			return err
		}
		if !applied {
			if _, err := q.ClearSettlementReview(ctx, req.SettlementID); err != nil {
				return fmt.Errorf("clear manual review flag: %w", err)
			}
			if req.ProviderTransactionID != nil && next == StatusSuccess {
				if _, err := q.BackfillProviderIdentifiers(ctx, repository.BackfillProviderIdentifiersParams{
					ID:                    req.SettlementID,
					ProviderTransactionID: req.ProviderTransactionID,
					ProviderReferenceID:   upd.ProviderReferenceID,
				}); err != nil {
					return fmt.Errorf("backfill provider identifiers: %w", err)
				}
			}
			if err := writeAudit(ctx, q, auditEntry{
				Entity:   auditSettlement,
				EntityID: req.SettlementID,
				Actor:    req.ActorID,
				Action:   "manual_review_" + string(decision),
				From:     current.Status,
				To:       current.Status,
				Metadata: metadata,
			}); err != nil {
				return err
			}
		}
		rec, err = q.GetSettlement(ctx, req.SettlementID)
		if err != nil {
			return fmt.Errorf("reload settlement: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.SettlementRecord{}, err
	}

	observability.IncrementManualReviewTransition(string(decision))
	if applied {
		observability.IncrementSettlementTransition(string(rec.ServiceType), string(next))
		s.publish(ctx, rec)
	}
	if size, err := s.ReviewQueueSize(ctx); err == nil {
		observability.SetManualReviewQueueSize(size)
	}
	return rec, nil
}

// confirmWithProvider checks a review decision against the provider when the settlement carries
// a provider transaction id. Records the provider never acknowledged are left to the operator.
func (s *SettlementService) confirmWithProvider(ctx context.Context, req ResolveReviewRequest, next SettlementStatus) (gateway.Result, error) {
	rec, err := s.GetSettlement(ctx, req.SettlementID)
	if err != nil {
		return gateway.Result{}, err
	}
	if req.ProviderTransactionID != nil && *req.ProviderTransactionID != "" {
		id := *req.ProviderTransactionID
		rec.ProviderTransactionID = &id
	}
	if rec.ProviderTransactionID == nil || *rec.ProviderTransactionID == "" {
		return gateway.Result{}, nil
	}

	res, err := s.ProviderTransaction(ctx, *rec.ProviderTransactionID)
	switch {
	case errors.Is(err, gateway.ErrTransactionNotFound):
		if next == StatusSuccess {
			return gateway.Result{}, fmt.Errorf("%w: provider has no transaction %s", ErrProviderMismatch, *rec.ProviderTransactionID)
		}
		return gateway.Result{}, nil
	case err != nil:
		return gateway.Result{}, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	case next == StatusSuccess && !res.Success, next == StatusFailed && !res.Failed():
		return gateway.Result{}, fmt.Errorf("%w: provider reports %s", ErrProviderMismatch, res.Status)
	}
	return res, nil
}
