package service

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/ayo6706/value-core/internal/domain"
	"github.com/ayo6706/value-core/internal/events"
	"github.com/ayo6706/value-core/internal/gateway"
	"github.com/ayo6706/value-core/internal/models"
	"github.com/ayo6706/value-core/internal/pricing"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func airtimeRequest() SpendRequest {
	return SpendRequest{
		UserID:       uuid.New(),
		ServiceType:  domain.ServiceAirtime,
		OperatorID:   341,
		AmountMicros: 5_000_000,
		Recipient:    "+2348012345678",
	}
}

func TestSubmitAirtimeSuccess(t *testing.T) {
	f := newSettlementFixture(t)
	f.gateway.result = gateway.Result{
		Success:               true,
		Status:                gateway.StatusSuccessful,
		ProviderTransactionID: "4521",
		ProviderReferenceID:   "REF-1",
	}

	req := airtimeRequest()
	res, err := f.svc.Submit(context.Background(), req)
	require.NoError(t, err)

	rec := res.Settlement
	require.Equal(t, string(StatusSuccess), rec.Status)
	require.NotNil(t, rec.ProviderTransactionID)
	assert.Equal(t, "4521", *rec.ProviderTransactionID)
	require.NotNil(t, rec.ProviderReferenceID)
	assert.Equal(t, "REF-1", *rec.ProviderReferenceID)
	assert.Equal(t, int64(5_500_000), rec.AmountMicros)
	assert.Equal(t, int64(5_000_000), rec.ProviderAmountMicros)
	assert.Equal(t, int64(500_000), rec.CommissionMicros)
	assert.Equal(t, int64(5_500_000), res.Pricing.FinalAmount)

	calls := f.gateway.submitCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, gateway.OpTopUp, calls[0].op)
	assert.Equal(t, int64(341), calls[0].operatorID)
	assert.True(t, calls[0].amount.Equal(domain.MicrosToDecimal(5_000_000)))
	assert.Equal(t, rec.IdempotencyKey, calls[0].key)
	assert.Equal(t, gateway.IdempotencyKey("VALUECORE", req.UserID, rec.CreatedAt, rec.ID), rec.IdempotencyKey)

	assert.Equal(t, []string{"created", "provider_succeeded"}, auditActions(f.store, rec.ID))

	published := f.publisher.published()
	require.Len(t, published, 1)
	assert.Equal(t, events.SettlementSucceeded, published[0].EventType)
	assert.Equal(t, rec.ID, published[0].SettlementID)
	assert.Equal(t, "4521", published[0].ProviderTransactionID)
}

func TestSubmitRoutesByServiceType(t *testing.T) {
	cases := []struct {
		serviceType domain.ServiceType
		operatorID  int64
		op          gateway.Operation
	}{
		{serviceType: domain.ServiceAirtime, operatorID: 341, op: gateway.OpTopUp},
		{serviceType: domain.ServiceData, operatorID: 645, op: gateway.OpDataBundle},
		{serviceType: domain.ServiceUtility, operatorID: 1, op: gateway.OpBillPayment},
		{serviceType: domain.ServiceGiftCard, operatorID: 5, op: gateway.OpGiftCard},
	}

	for _, tc := range cases {
		t.Run(string(tc.serviceType), func(t *testing.T) {
			f := newSettlementFixture(t)
			f.gateway.result = gateway.Result{Success: true, Status: gateway.StatusSuccessful, ProviderTransactionID: "1"}

			req := airtimeRequest()
			req.ServiceType = tc.serviceType
			req.OperatorID = tc.operatorID
			req.AmountMicros = 20_000_000
			_, err := f.svc.Submit(context.Background(), req)
			require.NoError(t, err)

			calls := f.gateway.submitCalls()
			require.Len(t, calls, 1)
			assert.Equal(t, tc.op, calls[0].op)
			assert.Equal(t, tc.operatorID, calls[0].operatorID)
		})
	}
}

func TestSubmitProviderErrorMarksFailed(t *testing.T) {
	f := newSettlementFixture(t)
	f.gateway.result = gateway.Result{Status: gateway.StatusFailed}
	f.gateway.err = &gateway.ProviderError{Op: gateway.OpTopUp, StatusCode: http.StatusInternalServerError, Body: `{"message":"boom"}`}

	res, err := f.svc.Submit(context.Background(), airtimeRequest())
	require.ErrorIs(t, err, ErrProviderFailed)

	var perr *gateway.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusInternalServerError, perr.StatusCode)

	require.NotNil(t, res)
	assert.Equal(t, ProviderFailureMessage, res.Message)
	assert.Equal(t, string(StatusFailed), res.Settlement.Status)
	require.NotNil(t, res.Settlement.ErrorDetail)
	assert.Contains(t, *res.Settlement.ErrorDetail, "status 500")

	stored, ok := f.store.Settlement(res.Settlement.ID)
	require.True(t, ok)
	assert.Equal(t, string(StatusFailed), stored.Status)
	assert.Len(t, f.gateway.submitCalls(), 1)

	published := f.publisher.published()
	require.Len(t, published, 1)
	assert.Equal(t, events.SettlementFailed, published[0].EventType)
}

func TestSubmitProviderFailedStatusMarksFailed(t *testing.T) {
	f := newSettlementFixture(t)
	f.gateway.result = gateway.Result{Status: gateway.StatusFailed, Error: "invalid recipient number"}

	res, err := f.svc.Submit(context.Background(), airtimeRequest())
	require.ErrorIs(t, err, ErrProviderFailed)
	require.NotNil(t, res.Settlement.ErrorDetail)
	assert.Equal(t, "invalid recipient number", *res.Settlement.ErrorDetail)
	assert.Equal(t, []string{"created", "provider_failed"}, auditActions(f.store, res.Settlement.ID))
}

func TestSubmitTerminalWriteFailureQueuesManualReview(t *testing.T) {
	f := newSettlementFixture(t)
	f.gateway.result = gateway.Result{Success: true, Status: gateway.StatusSuccessful, ProviderTransactionID: "77"}
	f.store.SetFailure("CompleteSettlement", errors.New("connection reset"))

	res, err := f.svc.Submit(context.Background(), airtimeRequest())
	require.ErrorIs(t, err, ErrReconciliationGap)
	require.NotNil(t, res)
	assert.Equal(t, PendingConfirmationMessage, res.Message)

	stored, ok := f.store.Settlement(res.Settlement.ID)
	require.True(t, ok)
	assert.Equal(t, string(StatusProcessing), stored.Status)
	assert.True(t, stored.NeedsReview)
	require.NotNil(t, stored.ReviewReason)
	assert.Contains(t, *stored.ReviewReason, "provider succeeded")

	assert.Empty(t, f.publisher.published())
	assert.Len(t, f.gateway.submitCalls(), 1)
	assert.Equal(t, []string{"created", "manual_review_queued"}, auditActions(f.store, stored.ID))
}

func TestSubmitRejectsBadInputWithoutWrites(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*SpendRequest)
		want   error
	}{
		{name: "blank_recipient", mutate: func(r *SpendRequest) { r.Recipient = "  " }, want: ErrInvalidRecipient},
		{name: "unknown_operator", mutate: func(r *SpendRequest) { r.OperatorID = 999 }, want: pricing.ErrUnknownOperator},
		{name: "unknown_service", mutate: func(r *SpendRequest) { r.ServiceType = "lottery" }, want: pricing.ErrUnknownServiceType},
		{name: "zero_amount", mutate: func(r *SpendRequest) { r.AmountMicros = 0 }, want: pricing.ErrInvalidAmount},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newSettlementFixture(t)
			req := airtimeRequest()
			tc.mutate(&req)

			_, err := f.svc.Submit(context.Background(), req)
			require.ErrorIs(t, err, tc.want)
			assert.Empty(t, f.store.Settlements())
			assert.Empty(t, f.gateway.submitCalls())
		})
	}
}

func TestSubmitWithKnownIDDoesNotCallProviderTwice(t *testing.T) {
	f := newSettlementFixture(t)
	f.gateway.result = gateway.Result{Success: true, Status: gateway.StatusSuccessful, ProviderTransactionID: "9"}

	id := uuid.New()
	req := airtimeRequest()
	req.SettlementID = &id

	first, err := f.svc.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, id, first.Settlement.ID)

	again, err := f.svc.Submit(context.Background(), req)
	require.ErrorIs(t, err, ErrDuplicateSubmission)
	assert.Equal(t, string(StatusSuccess), again.Settlement.Status)
	assert.Len(t, f.gateway.submitCalls(), 1)
}

func TestSubmitResumeInFlightRecord(t *testing.T) {
	f := newSettlementFixture(t)
	rec := f.seedProcessing(10 * time.Second)

	req := airtimeRequest()
	req.UserID = rec.UserID
	req.SettlementID = &rec.ID
	res, err := f.svc.Submit(context.Background(), req)
	require.ErrorIs(t, err, ErrSettlementInFlight)
	assert.Equal(t, PendingConfirmationMessage, res.Message)
	assert.Empty(t, f.gateway.submitCalls())
	assert.Empty(t, f.gateway.lookups)
}

func TestSubmitResumeStaleRecordReconciles(t *testing.T) {
	f := newSettlementFixture(t)
	rec := f.seedProcessing(10 * time.Minute)
	f.gateway.lookup = gateway.Result{Success: true, Status: gateway.StatusSuccessful, ProviderTransactionID: "555"}

	req := airtimeRequest()
	req.UserID = rec.UserID
	req.SettlementID = &rec.ID
	res, err := f.svc.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, string(StatusSuccess), res.Settlement.Status)
	assert.Equal(t, []string{rec.IdempotencyKey}, f.gateway.lookups)
	assert.Empty(t, f.gateway.submitCalls())

	stored, _ := f.store.Settlement(rec.ID)
	assert.Equal(t, int32(1), stored.ReconcileAttempts)
}

func TestSubmitResumeLooksUpOnlyOnce(t *testing.T) {
	f := newSettlementFixture(t)
	rec := f.seedProcessing(10 * time.Minute)
	f.gateway.lookupErr = &gateway.ProviderError{Op: gateway.OpLookup, StatusCode: http.StatusBadGateway}

	req := airtimeRequest()
	req.UserID = rec.UserID
	req.SettlementID = &rec.ID

	first, err := f.svc.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, PendingConfirmationMessage, first.Message)

	for i := 0; i < 2; i++ {
		res, err := f.svc.Submit(context.Background(), req)
		require.ErrorIs(t, err, ErrSettlementInFlight)
		assert.Equal(t, PendingConfirmationMessage, res.Message)
		assert.True(t, res.Settlement.NeedsReview)
	}

	assert.Len(t, f.gateway.lookups, 1)
	assert.Empty(t, f.gateway.submitCalls())
	stored, _ := f.store.Settlement(rec.ID)
	assert.Equal(t, int32(1), stored.ReconcileAttempts)
	assert.Equal(t, string(StatusProcessing), stored.Status)
}

func TestSubmitResumeAfterLookupQueuesReview(t *testing.T) {
	f := newSettlementFixture(t)
	rec := f.seedProcessing(10 * time.Minute)
	rec.ReconcileAttempts = 1
	f.store.PutSettlement(rec)

	req := airtimeRequest()
	req.UserID = rec.UserID
	req.SettlementID = &rec.ID
	res, err := f.svc.Submit(context.Background(), req)
	require.ErrorIs(t, err, ErrSettlementInFlight)
	assert.True(t, res.Settlement.NeedsReview)
	assert.Empty(t, f.gateway.lookups)
	assert.Equal(t, []string{"manual_review_queued"}, auditActions(f.store, rec.ID))
}

func TestSubmitRecordIsProcessingWhileProviderIsCalled(t *testing.T) {
	f := newSettlementFixture(t)
	f.gateway.result = gateway.Result{Success: true, Status: gateway.StatusSuccessful, ProviderTransactionID: "31"}

	id := uuid.New()
	var seen []models.SettlementRecord
	f.gateway.beforeSubmit = func(string) {
		if rec, ok := f.store.Settlement(id); ok {
			seen = append(seen, rec)
		}
	}

	req := airtimeRequest()
	req.SettlementID = &id
	res, err := f.svc.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, string(StatusSuccess), res.Settlement.Status)

	require.Len(t, seen, 1)
	assert.Equal(t, string(StatusProcessing), seen[0].Status)
	assert.Nil(t, seen[0].ProviderTransactionID)
	assert.Equal(t, res.Settlement.IdempotencyKey, seen[0].IdempotencyKey)
}

func TestApplyProviderOutcomeIsIdempotent(t *testing.T) {
	f := newSettlementFixture(t)
	rec := f.seedProcessing(time.Minute)
	ctx := context.Background()

	updated, applied, err := f.svc.ApplyProviderOutcome(ctx, rec.ID, ProviderOutcome{
		Success:               true,
		ProviderTransactionID: "100",
		Source:                "webhook",
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, string(StatusSuccess), updated.Status)
	assert.Nil(t, updated.ProviderReferenceID)

	updated, applied, err = f.svc.ApplyProviderOutcome(ctx, rec.ID, ProviderOutcome{
		Success:               true,
		ProviderTransactionID: "100",
		ProviderReferenceID:   "REF-100",
		Source:                "webhook",
	})
	require.NoError(t, err)
	assert.False(t, applied)
	require.NotNil(t, updated.ProviderReferenceID)
	assert.Equal(t, "REF-100", *updated.ProviderReferenceID)

	_, _, err = f.svc.ApplyProviderOutcome(ctx, rec.ID, ProviderOutcome{ErrorDetail: "late failure", Source: "webhook"})
	require.ErrorIs(t, err, ErrInvalidTransition)

	stored, _ := f.store.Settlement(rec.ID)
	assert.Equal(t, string(StatusSuccess), stored.Status)
	assert.Len(t, f.publisher.published(), 1)
	assert.Equal(t, []string{"webhook_success"}, auditActions(f.store, rec.ID))
}

func TestApplyProviderOutcomeUnknownSettlement(t *testing.T) {
	f := newSettlementFixture(t)
	_, _, err := f.svc.ApplyProviderOutcome(context.Background(), uuid.New(), ProviderOutcome{Success: true})
	require.ErrorIs(t, err, ErrSettlementNotFound)
}

func TestBackfillProviderIdentifiersOnlyTouchesSuccess(t *testing.T) {
	f := newSettlementFixture(t)
	rec := f.seedProcessing(time.Minute)
	ctx := context.Background()

	changed, err := f.svc.BackfillProviderIdentifiers(ctx, rec.ID, "1", "R")
	require.NoError(t, err)
	assert.False(t, changed)

	_, _, err = f.svc.ApplyProviderOutcome(ctx, rec.ID, ProviderOutcome{Success: true})
	require.NoError(t, err)

	changed, err = f.svc.BackfillProviderIdentifiers(ctx, rec.ID, "1", "R")
	require.NoError(t, err)
	assert.True(t, changed)

	stored, _ := f.store.Settlement(rec.ID)
	assert.Equal(t, string(StatusSuccess), stored.Status)
	require.NotNil(t, stored.ProviderTransactionID)
	assert.Equal(t, "1", *stored.ProviderTransactionID)
}

func TestReconcileOne(t *testing.T) {
	cases := []struct {
		name       string
		lookup     gateway.Result
		lookupErr  error
		wantStatus SettlementStatus
		wantReview bool
	}{
		{
			name:       "provider_never_saw_it",
			lookupErr:  &gateway.ProviderError{Op: gateway.OpLookup, StatusCode: http.StatusNotFound, Err: gateway.ErrTransactionNotFound},
			wantStatus: StatusFailed,
		},
		{
			name:       "provider_succeeded",
			lookup:     gateway.Result{Success: true, Status: gateway.StatusSuccessful, ProviderTransactionID: "42"},
			wantStatus: StatusSuccess,
		},
		{
			name:       "provider_refunded",
			lookup:     gateway.Result{Status: gateway.StatusRefunded},
			wantStatus: StatusFailed,
		},
		{
			name:       "provider_still_pending",
			lookup:     gateway.Result{Status: gateway.StatusPending},
			wantStatus: StatusProcessing,
			wantReview: true,
		},
		{
			name:       "lookup_unavailable",
			lookupErr:  &gateway.ProviderError{Op: gateway.OpLookup, StatusCode: http.StatusBadGateway},
			wantStatus: StatusProcessing,
			wantReview: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newSettlementFixture(t)
			rec := f.seedProcessing(5 * time.Minute)
			f.gateway.lookup = tc.lookup
			f.gateway.lookupErr = tc.lookupErr

			updated, err := f.svc.ReconcileOne(context.Background(), rec)
			require.NoError(t, err)
			assert.Equal(t, string(tc.wantStatus), updated.Status)
			assert.Equal(t, tc.wantReview, updated.NeedsReview)
			assert.Empty(t, f.gateway.submitCalls())
		})
	}
}

func TestReconcileOneUsesKnownProviderTransaction(t *testing.T) {
	t.Run("confirmed", func(t *testing.T) {
		f := newSettlementFixture(t)
		rec := f.seedProcessing(5 * time.Minute)
		txnID := "77"
		rec.ProviderTransactionID = &txnID
		f.store.PutSettlement(rec)
		f.gateway.transaction = gateway.Result{Success: true, Status: gateway.StatusSuccessful, ProviderTransactionID: txnID, ProviderReferenceID: "REF-77"}

		updated, err := f.svc.ReconcileOne(context.Background(), rec)
		require.NoError(t, err)
		assert.Equal(t, string(StatusSuccess), updated.Status)
		assert.Equal(t, []string{txnID}, f.gateway.transactionIDs)
		assert.Empty(t, f.gateway.lookups)
	})

	t.Run("unknown_to_provider", func(t *testing.T) {
		f := newSettlementFixture(t)
		rec := f.seedProcessing(5 * time.Minute)
		txnID := "78"
		rec.ProviderTransactionID = &txnID
		f.store.PutSettlement(rec)
		f.gateway.transactionErr = &gateway.ProviderError{Op: gateway.OpGetTransaction, StatusCode: http.StatusNotFound, Err: gateway.ErrTransactionNotFound}

		updated, err := f.svc.ReconcileOne(context.Background(), rec)
		require.NoError(t, err)
		assert.Equal(t, string(StatusProcessing), updated.Status)
		assert.True(t, updated.NeedsReview)
	})
}

func TestResolveReview(t *testing.T) {
	ctx := context.Background()
	actor := uuid.New()

	t.Run("confirm_success", func(t *testing.T) {
		f := newSettlementFixture(t)
		rec := f.seedProcessing(5 * time.Minute)
		f.svc.flagForReview(ctx, rec.ID, "provider lookup failed")

		size, err := f.svc.ReviewQueueSize(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), size)

		txnID := "900"
		f.gateway.transaction = gateway.Result{Success: true, Status: gateway.StatusSuccessful, ProviderTransactionID: txnID, ProviderReferenceID: "REF-900"}
		updated, err := f.svc.ResolveReview(ctx, ResolveReviewRequest{
			SettlementID:          rec.ID,
			Decision:              DecisionConfirmSuccess,
			Reason:                "confirmed on provider dashboard",
			ActorID:               &actor,
			ProviderTransactionID: &txnID,
		})
		require.NoError(t, err)
		assert.Equal(t, string(StatusSuccess), updated.Status)
		assert.False(t, updated.NeedsReview)
		require.NotNil(t, updated.ProviderTransactionID)
		assert.Equal(t, txnID, *updated.ProviderTransactionID)
		require.NotNil(t, updated.ProviderReferenceID)
		assert.Equal(t, "REF-900", *updated.ProviderReferenceID)
		assert.Equal(t, []string{txnID}, f.gateway.transactionIDs)

		queue, err := f.svc.ListReviewQueue(ctx, 0, 0)
		require.NoError(t, err)
		assert.Empty(t, queue)
		assert.Len(t, f.publisher.published(), 1)
	})

	t.Run("confirm_failed", func(t *testing.T) {
		f := newSettlementFixture(t)
		rec := f.seedProcessing(5 * time.Minute)
		f.svc.flagForReview(ctx, rec.ID, "provider reports status PENDING")

		updated, err := f.svc.ResolveReview(ctx, ResolveReviewRequest{
			SettlementID: rec.ID,
			Decision:     "CONFIRM_FAILED",
			Reason:       "provider refunded",
			ActorID:      &actor,
		})
		require.NoError(t, err)
		assert.Equal(t, string(StatusFailed), updated.Status)
		require.NotNil(t, updated.ErrorDetail)
		assert.Equal(t, "manual review: provider refunded", *updated.ErrorDetail)
	})

	t.Run("provider_contradicts_success", func(t *testing.T) {
		f := newSettlementFixture(t)
		rec := f.seedProcessing(5 * time.Minute)
		f.svc.flagForReview(ctx, rec.ID, "provider reports status PENDING")
		f.gateway.transaction = gateway.Result{Status: gateway.StatusRefunded, ProviderTransactionID: "901"}

		txnID := "901"
		_, err := f.svc.ResolveReview(ctx, ResolveReviewRequest{
			SettlementID:          rec.ID,
			Decision:              DecisionConfirmSuccess,
			ActorID:               &actor,
			ProviderTransactionID: &txnID,
		})
		require.ErrorIs(t, err, ErrProviderMismatch)

		stored, _ := f.store.Settlement(rec.ID)
		assert.Equal(t, string(StatusProcessing), stored.Status)
		assert.True(t, stored.NeedsReview)
		assert.Empty(t, f.publisher.published())
	})

	t.Run("provider_contradicts_failure", func(t *testing.T) {
		f := newSettlementFixture(t)
		rec := f.seedProcessing(5 * time.Minute)
		txnID := "902"
		rec.ProviderTransactionID = &txnID
		rec.NeedsReview = true
		f.store.PutSettlement(rec)
		f.gateway.transaction = gateway.Result{Success: true, Status: gateway.StatusSuccessful, ProviderTransactionID: txnID}

		_, err := f.svc.ResolveReview(ctx, ResolveReviewRequest{SettlementID: rec.ID, Decision: DecisionConfirmFailed, ActorID: &actor})
		require.ErrorIs(t, err, ErrProviderMismatch)
		assert.Equal(t, []string{txnID}, f.gateway.transactionIDs)
	})

	t.Run("provider_unreachable", func(t *testing.T) {
		f := newSettlementFixture(t)
		rec := f.seedProcessing(5 * time.Minute)
		txnID := "903"
		rec.ProviderTransactionID = &txnID
		rec.NeedsReview = true
		f.store.PutSettlement(rec)
		f.gateway.transactionErr = &gateway.ProviderError{Op: gateway.OpGetTransaction, StatusCode: http.StatusBadGateway}

		_, err := f.svc.ResolveReview(ctx, ResolveReviewRequest{SettlementID: rec.ID, Decision: DecisionConfirmFailed, ActorID: &actor})
		require.ErrorIs(t, err, ErrProviderUnavailable)
	})

	t.Run("not_flagged", func(t *testing.T) {
		f := newSettlementFixture(t)
		rec := f.seedProcessing(5 * time.Minute)
		_, err := f.svc.ResolveReview(ctx, ResolveReviewRequest{SettlementID: rec.ID, Decision: DecisionConfirmFailed})
		require.ErrorIs(t, err, ErrNotInManualReview)
	})

	t.Run("bad_decision", func(t *testing.T) {
		f := newSettlementFixture(t)
		_, err := f.svc.ResolveReview(ctx, ResolveReviewRequest{SettlementID: uuid.New(), Decision: "refund"})
		require.ErrorIs(t, err, ErrInvalidReviewDecision)
	})

	t.Run("unknown_settlement", func(t *testing.T) {
		f := newSettlementFixture(t)
		_, err := f.svc.ResolveReview(ctx, ResolveReviewRequest{SettlementID: uuid.New(), Decision: DecisionConfirmSuccess})
		require.ErrorIs(t, err, ErrSettlementNotFound)
	})
}

func TestListSettlementsNewestFirst(t *testing.T) {
	f := newSettlementFixture(t)
	older := f.seedProcessing(time.Hour)
	newer := older
	newer.ID = uuid.New()
	newer.IdempotencyKey = "other-key"
	newer.CreatedAt = time.Now().UTC()
	f.store.PutSettlement(newer)

	rows, err := f.svc.ListSettlements(context.Background(), older.UserID, 0, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, newer.ID, rows[0].ID)
	assert.Equal(t, older.ID, rows[1].ID)

	_, err = f.svc.GetSettlement(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrSettlementNotFound)
}

func TestSubmitWithForeignSettlementID(t *testing.T) {
	f := newSettlementFixture(t)
	rec := f.seedProcessing(10 * time.Minute)

	req := airtimeRequest()
	req.UserID = rec.UserID
	req.SettlementID = &rec.ID
	res, err := f.svc.Submit(context.Background(), req)
	require.ErrorIs(t, err, ErrDuplicateSubmission)
	assert.Nil(t, res)
	assert.Empty(t, f.gateway.lookups)
}
