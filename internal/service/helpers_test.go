package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/value-core/internal/domain"
	"github.com/ayo6706/value-core/internal/events"
	"github.com/ayo6706/value-core/internal/gateway"
	"github.com/ayo6706/value-core/internal/models"
	"github.com/ayo6706/value-core/internal/pricing"
	"github.com/ayo6706/value-core/internal/testutil/memstore"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type submitCall struct {
	op         gateway.Operation
	operatorID int64
	amount     decimal.Decimal
	recipient  string
	key        string
}

type stubGateway struct {
	mu             sync.Mutex
	result         gateway.Result
	err            error
	lookup         gateway.Result
	lookupErr      error
	transaction    gateway.Result
	transactionErr error
	calls          []submitCall
	lookups        []string
	transactionIDs []string
	// beforeSubmit runs ahead of every submission, outside the stub's lock.
	beforeSubmit func(key string)
}

func (s *stubGateway) submit(op gateway.Operation, operatorID int64, amount decimal.Decimal, recipient, key string) (gateway.Result, error) {
	if s.beforeSubmit != nil {
		s.beforeSubmit(key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, submitCall{op: op, operatorID: operatorID, amount: amount, recipient: recipient, key: key})
	return s.result, s.err
}

func (s *stubGateway) SubmitTopUp(_ context.Context, operatorID int64, amount decimal.Decimal, recipient, key string) (gateway.Result, error) {
	return s.submit(gateway.OpTopUp, operatorID, amount, recipient, key)
}

func (s *stubGateway) SubmitDataBundle(_ context.Context, operatorID int64, amount decimal.Decimal, recipient, key string) (gateway.Result, error) {
	return s.submit(gateway.OpDataBundle, operatorID, amount, recipient, key)
}

func (s *stubGateway) PayBill(_ context.Context, operatorID int64, amount decimal.Decimal, recipient, key string) (gateway.Result, error) {
	return s.submit(gateway.OpBillPayment, operatorID, amount, recipient, key)
}

func (s *stubGateway) PurchaseGiftCard(_ context.Context, productID int64, amount decimal.Decimal, recipient, key string) (gateway.Result, error) {
	return s.submit(gateway.OpGiftCard, productID, amount, recipient, key)
}

func (s *stubGateway) LookupByCustomIdentifier(_ context.Context, key string) (gateway.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups = append(s.lookups, key)
	return s.lookup, s.lookupErr
}

func (s *stubGateway) GetTransaction(_ context.Context, providerTransactionID string) (gateway.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactionIDs = append(s.transactionIDs, providerTransactionID)
	return s.transaction, s.transactionErr
}

func (s *stubGateway) submitCalls() []submitCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]submitCall(nil), s.calls...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.SettlementEvent
}

func (p *recordingPublisher) PublishSettlement(_ context.Context, ev events.SettlementEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) published() []events.SettlementEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.SettlementEvent(nil), p.events...)
}

type settlementFixture struct {
	store     *memstore.Store
	gateway   *stubGateway
	publisher *recordingPublisher
	svc       *SettlementService
}

func newSettlementFixture(t *testing.T) *settlementFixture {
	t.Helper()
	store := memstore.New()
	gw := &stubGateway{}
	pub := &recordingPublisher{}
	svc := NewSettlementService(store, pricing.NewCalculator(nil), gw, pub, SettlementConfig{
		ProviderTimeout: time.Second,
		StaleAfter:      2 * time.Minute,
	})
	return &settlementFixture{store: store, gateway: gw, publisher: pub, svc: svc}
}

// seedProcessing stores a processing airtime record created age ago.
func (f *settlementFixture) seedProcessing(age time.Duration) models.SettlementRecord {
	id := uuid.New()
	userID := uuid.New()
	createdAt := time.Now().Add(-age).UTC()
	rec := models.SettlementRecord{
		ID:                   id,
		UserID:               userID,
		ServiceType:          domain.ServiceAirtime,
		OperatorID:           341,
		OperatorName:         "MTN Nigeria",
		Recipient:            "+2348012345678",
		AmountMicros:         5_500_000,
		ProviderAmountMicros: 5_000_000,
		CommissionMicros:     500_000,
		CommissionRate:       "10",
		CommissionType:       domain.CommissionPercentage,
		Currency:             "USD",
		Status:               string(StatusProcessing),
		IdempotencyKey:       gateway.IdempotencyKey("VALUECORE", userID, createdAt, id),
		CreatedAt:            createdAt,
		UpdatedAt:            createdAt,
	}
	f.store.PutSettlement(rec)
	return rec
}

func auditActions(store *memstore.Store, entityID uuid.UUID) []string {
	var out []string
	for _, entry := range store.Audit() {
		if entry.EntityID == entityID {
			out = append(out, entry.Action)
		}
	}
	return out
}
