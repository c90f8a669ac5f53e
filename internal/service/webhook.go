package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/value-core/internal/gateway"
	"github.com/ayo6706/value-core/internal/repository"
	"github.com/google/uuid"
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidWebhook   = errors.New("invalid webhook payload")
)

// WebhookService handles asynchronous provider notifications.
type WebhookService struct {
	store       QueryStore
	settlements *SettlementService
	hmacKey     []byte
	skipSig     bool
}

// NewWebhookService creates a new WebhookService instance.
func NewWebhookService(store QueryStore, settlements *SettlementService, hmacKey string, skipSignature bool) *WebhookService {
	return &WebhookService{
		store:       store,
		settlements: settlements,
		hmacKey:     []byte(hmacKey),
		skipSig:     skipSignature,
	}
}

// ProviderWebhookPayload is the provider's transaction status callback.
type ProviderWebhookPayload struct {
	CustomIdentifier string `json:"custom_identifier"`
	TransactionID    string `json:"transaction_id"`
	ReferenceID      string `json:"reference_id"`
	Status           string `json:"status"`
	Error            string `json:"error"`
}

// ProviderWebhookResponse represents the response to a provider webhook.
type ProviderWebhookResponse struct {
	SettlementID uuid.UUID `json:"settlement_id"`
	Status       string    `json:"status"`
	Applied      bool      `json:"applied"`
	Message      string    `json:"message"`
}

// HandleProviderWebhook verifies the signature, resolves the settlement by its idempotency key
// and applies the terminal outcome. Re-deliveries are acknowledged without changes.
func (s *WebhookService) HandleProviderWebhook(ctx context.Context, payload []byte, signature string) (*ProviderWebhookResponse, error) {
	if !s.verifyHMAC(payload, signature) {
		return nil, ErrInvalidSignature
	}

	var body ProviderWebhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	body.CustomIdentifier = strings.TrimSpace(body.CustomIdentifier)
	body.Status = strings.ToUpper(strings.TrimSpace(body.Status))
	if body.CustomIdentifier == "" {
		return nil, fmt.Errorf("%w: custom_identifier is required", ErrInvalidWebhook)
	}

	rec, err := s.store.Queries().GetSettlementByIdempotencyKey(ctx, body.CustomIdentifier)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSettlementNotFound
		}
		return nil, fmt.Errorf("find settlement by idempotency key: %w", err)
	}

	result := gateway.Result{Status: body.Status}
	switch {
	case body.Status == gateway.StatusSuccessful:
	case result.Failed():
	default:
		return &ProviderWebhookResponse{
			SettlementID: rec.ID,
			Status:       rec.Status,
			Message:      "non-terminal status ignored",
		}, nil
	}

	updated, applied, err := s.settlements.ApplyProviderOutcome(ctx, rec.ID, ProviderOutcome{
		Success:               body.Status == gateway.StatusSuccessful,
		ProviderTransactionID: body.TransactionID,
		ProviderReferenceID:   body.ReferenceID,
		ErrorDetail:           body.Error,
		Source:                "webhook",
	})
	if err != nil {
		return nil, err
	}

	msg := "outcome recorded"
	if !applied {
		msg = "outcome already recorded"
	}
	return &ProviderWebhookResponse{
		SettlementID: updated.ID,
		Status:       updated.Status,
		Applied:      applied,
		Message:      msg,
	}, nil
}

// verifyHMAC verifies the HMAC signature of the payload.
func (s *WebhookService) verifyHMAC(payload []byte, signature string) bool {
	if s.skipSig {
		return true
	}
	if len(s.hmacKey) == 0 {
		return false
	}

	h := hmac.New(sha256.New, s.hmacKey)
	h.Write(payload)
	expectedSig := "sha256=" + hex.EncodeToString(h.Sum(nil))

	// Use hmac.Equal for constant-time comparison
	return hmac.Equal([]byte(signature), []byte(expectedSig))
}
