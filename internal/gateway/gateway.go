package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Operation names a provider call for errors and metrics.
type Operation string

const (
	OpTopUp          Operation = "topup"
	OpDataBundle     Operation = "data_bundle"
	OpBillPayment    Operation = "bill_payment"
	OpGiftCard       Operation = "gift_card"
	OpLookup         Operation = "lookup"
	OpGetTransaction Operation = "get_transaction"
	OpAuth           Operation = "auth"
	OpCatalog        Operation = "catalog"
	OpBalance        Operation = "balance"
)

// Provider status values reported on fulfillment and lookup responses.
const (
	StatusSuccessful = "SUCCESSFUL"
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusFailed     = "FAILED"
	StatusRefunded   = "REFUNDED"
)

// ErrTransactionNotFound means the provider has no record of the transaction.
var ErrTransactionNotFound = errors.New("provider transaction not found")

// Gateway is the outbound fulfillment contract used by the settlement saga and the sweeper.
// Implementations never retry a submission internally.
type Gateway interface {
	SubmitTopUp(ctx context.Context, operatorID int64, amount decimal.Decimal, recipient, idempotencyKey string) (Result, error)
	SubmitDataBundle(ctx context.Context, operatorID int64, amount decimal.Decimal, recipient, idempotencyKey string) (Result, error)
	PayBill(ctx context.Context, operatorID int64, amount decimal.Decimal, recipient, idempotencyKey string) (Result, error)
	PurchaseGiftCard(ctx context.Context, productID int64, amount decimal.Decimal, recipient, idempotencyKey string) (Result, error)
	LookupByCustomIdentifier(ctx context.Context, idempotencyKey string) (Result, error)
	GetTransaction(ctx context.Context, providerTransactionID string) (Result, error)
}

// Catalog exposes the provider's read-only endpoints.
type Catalog interface {
	GetOperator(ctx context.Context, operatorID int64) (Operator, error)
	ListOperatorsByCountry(ctx context.Context, countryCode string) ([]Operator, error)
	ListGiftCardProducts(ctx context.Context) ([]GiftCardProduct, error)
	AccountBalance(ctx context.Context) (AccountBalance, error)
	GetTransaction(ctx context.Context, providerTransactionID string) (Result, error)
}

// Result is the normalized outcome of a provider call.
type Result struct {
	Success               bool            `json:"success"`
	ProviderTransactionID string          `json:"provider_transaction_id,omitempty"`
	ProviderReferenceID   string          `json:"provider_reference_id,omitempty"`
	CustomIdentifier      string          `json:"custom_identifier,omitempty"`
	Status                string          `json:"status"`
	OperatorName          string          `json:"operator_name,omitempty"`
	Amount                decimal.Decimal `json:"amount"`
	Fee                   decimal.Decimal `json:"fee"`
	Error                 string          `json:"error,omitempty"`
}

// Failed reports whether the provider definitively did not fulfill the transaction.
func (r Result) Failed() bool {
	return r.Status == StatusFailed || r.Status == StatusRefunded
}

// Terminal reports whether the provider reached a final outcome.
func (r Result) Terminal() bool {
	return r.Success || r.Failed()
}

// ProviderError carries the operation, HTTP status and raw body of a failed provider call.
// StatusCode is zero for transport failures, in which case Err is set.
type ProviderError struct {
	Op         Operation
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("provider %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("provider %s: status %d: %s", e.Op, e.StatusCode, truncate(e.Body, 256))
	case e.Err != nil:
		return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("provider %s failed", e.Op)
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Timeout reports whether the call ended because its deadline expired.
func (e *ProviderError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// IdempotencyKey derives the provider custom identifier for a settlement record.
// It depends only on persisted fields, so a reconciliation lookup regenerates the same value.
func IdempotencyKey(prefix string, userID uuid.UUID, createdAt time.Time, settlementID uuid.UUID) string {
	compact := strings.ReplaceAll(settlementID.String(), "-", "")
	return fmt.Sprintf("%s_%s_%d_%s", prefix, userID, createdAt.UnixMilli(), compact[:8])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
