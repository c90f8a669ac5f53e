package models

import (
	"encoding/json"
	"time"

	"github.com/ayo6706/value-core/internal/domain"
	"github.com/google/uuid"
)

// SettlementRecord is the durable row for one attempted provider spend.
type SettlementRecord struct {
	ID                    uuid.UUID          `json:"id"`
	UserID                uuid.UUID          `json:"user_id"`
	ServiceType           domain.ServiceType `json:"service_type"`
	OperatorID            int64              `json:"operator_id"`
	OperatorName          string             `json:"operator_name"`
	Recipient             string             `json:"recipient"`
	AmountMicros          int64              `json:"amount_micros"`
	ProviderAmountMicros  int64              `json:"provider_amount_micros"`
	CommissionMicros      int64              `json:"commission_micros"`
	CommissionRate        string             `json:"commission_rate"`
	CommissionType        string             `json:"commission_type"`
	Currency              string             `json:"currency"`
	Status                string             `json:"status"`
	IdempotencyKey        string             `json:"idempotency_key"`
	ProviderTransactionID *string            `json:"provider_transaction_id,omitempty"`
	ProviderReferenceID   *string            `json:"provider_reference_id,omitempty"`
	ErrorDetail           *string            `json:"error_detail,omitempty"`
	NeedsReview           bool               `json:"needs_review"`
	ReviewReason          *string            `json:"review_reason,omitempty"`
	ReconcileAttempts     int32              `json:"reconcile_attempts"`
	Metadata              json.RawMessage    `json:"metadata,omitempty"`
	CreatedAt             time.Time          `json:"created_at"`
	UpdatedAt             time.Time          `json:"updated_at"`
}

// ReferralLink is a referrer's shareable code with its counters and caps.
type ReferralLink struct {
	ID                     uuid.UUID  `json:"id"`
	ReferrerID             uuid.UUID  `json:"referrer_id"`
	Code                   string     `json:"code"`
	URL                    string     `json:"url"`
	Type                   string     `json:"type"`
	CampaignID             *string    `json:"campaign_id,omitempty"`
	ClickCount             int64      `json:"click_count"`
	SignupCount            int64      `json:"signup_count"`
	ConversionCount        int64      `json:"conversion_count"`
	ReferrerRewardMicros   int64      `json:"referrer_reward_micros"`
	RefereeRewardMicros    int64      `json:"referee_reward_micros"`
	RevenueSharePercentage string     `json:"revenue_share_percentage"`
	IsActive               bool       `json:"is_active"`
	MaxUses                *int64     `json:"max_uses,omitempty"`
	CurrentUses            int64      `json:"current_uses"`
	ExpiresAt              *time.Time `json:"expires_at,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// ReferralEvent is an append-only click or signup recorded against a link.
type ReferralEvent struct {
	ID              uuid.UUID  `json:"id"`
	ReferralLinkID  uuid.UUID  `json:"referral_link_id"`
	ReferrerID      uuid.UUID  `json:"referrer_id"`
	RefereeID       *uuid.UUID `json:"referee_id,omitempty"`
	EventType       string     `json:"event_type"`
	RewardMicros    int64      `json:"reward_micros"`
	RewardCurrency  string     `json:"reward_currency"`
	IsRewardClaimed bool       `json:"is_reward_claimed"`
	IPAddress       *string    `json:"ip_address,omitempty"`
	UserAgent       *string    `json:"user_agent,omitempty"`
	ReferrerURL     *string    `json:"referrer_url,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// SourceTransaction is a single ledger row contributed by one balance source.
type SourceTransaction struct {
	ID           string        `json:"id"`
	Source       domain.Source `json:"source"`
	AmountMicros int64         `json:"amount_micros"`
	Description  string        `json:"description"`
	Status       string        `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
}
