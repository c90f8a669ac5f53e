package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MockGateway simulates the provider for local runs.
// It introduces a random delay and fails a configurable share of submissions.
// Outcomes are remembered by custom identifier so lookups behave like the real provider.
type MockGateway struct {
	// FailureRate is the probability of failure (0.0 to 1.0). Default: 0.1 (10%)
	FailureRate float64
	MinDelay    time.Duration
	MaxDelay    time.Duration

	mu      sync.Mutex
	byKey   map[string]Result
	byTxnID map[string]Result
	seq     int64
}

var (
	_ Gateway = (*MockGateway)(nil)
	_ Catalog = (*MockGateway)(nil)
)

// NewMockGateway creates a new MockGateway with default settings.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		FailureRate: 0.1,
		MinDelay:    200 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		byKey:       map[string]Result{},
		byTxnID:     map[string]Result{},
	}
}

func (g *MockGateway) submit(ctx context.Context, op Operation, id int64, amount decimal.Decimal, key string) (Result, error) {
	delay := g.MinDelay
	if spread := g.MaxDelay - g.MinDelay; spread > 0 {
		delay += time.Duration(rand.Int63n(int64(spread)))
	}

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return Result{Status: StatusFailed}, &ProviderError{Op: op, Err: fmt.Errorf("provider call canceled: %w", ctx.Err())}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if rand.Float64() < g.FailureRate {
		res := Result{Status: StatusFailed, CustomIdentifier: key, Error: "provider temporarily unavailable"}
		g.byKey[key] = res
		return res, &ProviderError{Op: op, StatusCode: http.StatusServiceUnavailable, Body: `{"message":"provider temporarily unavailable"}`}
	}

	g.seq++
	res := Result{
		Success:               true,
		ProviderTransactionID: fmt.Sprintf("%d%04d", time.Now().Unix(), g.seq%10000),
		ProviderReferenceID:   fmt.Sprintf("MOCK-%s-%05d", time.Now().Format("20060102-150405"), rand.Intn(100000)),
		CustomIdentifier:      key,
		Status:                StatusSuccessful,
		OperatorName:          fmt.Sprintf("Mock operator %d", id),
		Amount:                amount,
	}
	g.byKey[key] = res
	g.byTxnID[res.ProviderTransactionID] = res
	return res, nil
}

func (g *MockGateway) SubmitTopUp(ctx context.Context, operatorID int64, amount decimal.Decimal, _ string, key string) (Result, error) {
	return g.submit(ctx, OpTopUp, operatorID, amount, key)
}

func (g *MockGateway) SubmitDataBundle(ctx context.Context, operatorID int64, amount decimal.Decimal, _ string, key string) (Result, error) {
	return g.submit(ctx, OpDataBundle, operatorID, amount, key)
}

func (g *MockGateway) PayBill(ctx context.Context, operatorID int64, amount decimal.Decimal, _ string, key string) (Result, error) {
	return g.submit(ctx, OpBillPayment, operatorID, amount, key)
}

func (g *MockGateway) PurchaseGiftCard(ctx context.Context, productID int64, amount decimal.Decimal, _ string, key string) (Result, error) {
	return g.submit(ctx, OpGiftCard, productID, amount, key)
}

func (g *MockGateway) LookupByCustomIdentifier(_ context.Context, key string) (Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	res, ok := g.byKey[key]
	if !ok {
		return Result{}, &ProviderError{Op: OpLookup, StatusCode: http.StatusNotFound, Err: ErrTransactionNotFound}
	}
	return res, nil
}

func (g *MockGateway) GetTransaction(_ context.Context, providerTransactionID string) (Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	res, ok := g.byTxnID[providerTransactionID]
	if !ok {
		return Result{}, &ProviderError{Op: OpGetTransaction, StatusCode: http.StatusNotFound, Err: ErrTransactionNotFound}
	}
	return res, nil
}

// Remember records res as an outcome the provider already knows about.
func (g *MockGateway) Remember(res Result) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if res.CustomIdentifier != "" {
		g.byKey[res.CustomIdentifier] = res
	}
	if res.ProviderTransactionID != "" {
		g.byTxnID[res.ProviderTransactionID] = res
	}
}

func (g *MockGateway) GetOperator(_ context.Context, operatorID int64) (Operator, error) {
	return Operator{
		ID:                      operatorID,
		Name:                    fmt.Sprintf("Mock operator %d", operatorID),
		DenominationType:        "RANGE",
		SenderCurrencyCode:      "USD",
		DestinationCurrencyCode: "USD",
	}, nil
}

func (g *MockGateway) ListOperatorsByCountry(ctx context.Context, countryCode string) ([]Operator, error) {
	op, _ := g.GetOperator(ctx, 1)
	op.Country = OperatorCountry{ISOName: countryCode, Name: countryCode}
	return []Operator{op}, nil
}

func (g *MockGateway) ListGiftCardProducts(_ context.Context) ([]GiftCardProduct, error) {
	return []GiftCardProduct{{ProductID: 1, ProductName: "Mock gift card", RecipientCurrencyCode: "USD"}}, nil
}

func (g *MockGateway) AccountBalance(_ context.Context) (AccountBalance, error) {
	return AccountBalance{Balance: decimal.NewFromInt(10000), CurrencyCode: "USD", CurrencyName: "US Dollar"}, nil
}
