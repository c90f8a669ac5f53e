package repository

import (
	"context"
	"fmt"

	"github.com/ayo6706/value-core/internal/domain"
	"github.com/ayo6706/value-core/internal/models"
	"github.com/google/uuid"
)

// LedgerSource reads one independently owned ledger. The tables behind it belong to
// other subsystems, so amounts are read as NUMERIC text and converted to micros here.
type LedgerSource struct {
	source       domain.Source
	db           DBTX
	balanceQuery string
	historyQuery string
}

// Source returns the ledger name.
func (s *LedgerSource) Source() domain.Source {
	return s.source
}

// Balance sums the user's rows in this ledger.
func (s *LedgerSource) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var raw string
	if err := s.db.QueryRow(ctx, s.balanceQuery, userID).Scan(&raw); err != nil {
		return 0, fmt.Errorf("%s balance: %w", s.source, translate(err))
	}
	micros, err := domain.ParseMicros(raw)
	if err != nil {
		return 0, fmt.Errorf("%s balance: %w", s.source, err)
	}
	return micros, nil
}

// Transactions returns the user's newest rows in this ledger, newest first.
func (s *LedgerSource) Transactions(ctx context.Context, userID uuid.UUID, limit int) ([]models.SourceTransaction, error) {
	rows, err := s.db.Query(ctx, s.historyQuery, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%s transactions: %w", s.source, translate(err))
	}
	defer rows.Close()

	var out []models.SourceTransaction
	for rows.Next() {
		var (
			tx     models.SourceTransaction
			amount string
		)
		if err := rows.Scan(&tx.ID, &amount, &tx.Description, &tx.Status, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s transactions: scan: %w", s.source, err)
		}
		if tx.AmountMicros, err = domain.ParseMicros(amount); err != nil {
			return nil, fmt.Errorf("%s transactions: %w", s.source, err)
		}
		tx.Source = s.source
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s transactions: %w", s.source, err)
	}
	return out, nil
}

func NewCryptoSource(db DBTX) *LedgerSource {
	return &LedgerSource{
		source:       domain.SourceCrypto,
		db:           db,
		balanceQuery: `SELECT COALESCE(SUM(balance), 0)::text FROM crypto_wallets WHERE user_id = $1`,
		historyQuery: `
			SELECT id::text, amount::text, COALESCE(transaction_type, 'crypto'), COALESCE(status, 'completed'), created_at
			FROM crypto_transactions
			WHERE user_id = $1
			ORDER BY created_at DESC
			LIMIT $2`,
	}
}

func NewMarketplaceSource(db DBTX) *LedgerSource {
	return &LedgerSource{
		source:       domain.SourceMarketplace,
		db:           db,
		balanceQuery: `SELECT COALESCE(SUM(total_amount), 0)::text FROM orders WHERE seller_id = $1 AND status = 'completed'`,
		historyQuery: `
			SELECT id::text, total_amount::text, 'Marketplace sale', status, created_at
			FROM orders
			WHERE seller_id = $1 AND status = 'completed'
			ORDER BY created_at DESC
			LIMIT $2`,
	}
}

func NewFreelanceSource(db DBTX) *LedgerSource {
	return &LedgerSource{
		source:       domain.SourceFreelance,
		db:           db,
		balanceQuery: `SELECT COALESCE(SUM(amount), 0)::text FROM freelance_payments WHERE payee_id = $1 AND status = 'completed'`,
		historyQuery: `
			SELECT id::text, amount::text, COALESCE(description, 'Freelance payment'), status, created_at
			FROM freelance_payments
			WHERE payee_id = $1 AND status = 'completed'
			ORDER BY created_at DESC
			LIMIT $2`,
	}
}

func NewRewardsSource(db DBTX) *LedgerSource {
	return &LedgerSource{
		source:       domain.SourceRewards,
		db:           db,
		balanceQuery: `SELECT COALESCE(SUM(amount), 0)::text FROM user_rewards WHERE user_id = $1`,
		historyQuery: `
			SELECT id::text, amount::text, COALESCE(reason, 'Activity reward'), 'completed', created_at
			FROM user_rewards
			WHERE user_id = $1
			ORDER BY created_at DESC
			LIMIT $2`,
	}
}

// NewReferralSource reads referral_events, which this service owns and stores in micros.
func NewReferralSource(db DBTX) *LedgerSource {
	return &LedgerSource{
		source:       domain.SourceReferral,
		db:           db,
		balanceQuery: `SELECT (COALESCE(SUM(reward_amount_micros), 0)::numeric / 1000000)::text FROM referral_events WHERE referrer_id = $1`,
		historyQuery: `
			SELECT id::text, (reward_amount_micros::numeric / 1000000)::text, 'Referral ' || event_type,
				CASE WHEN is_reward_claimed THEN 'claimed' ELSE 'pending' END, created_at
			FROM referral_events
			WHERE referrer_id = $1 AND reward_amount_micros > 0
			ORDER BY created_at DESC
			LIMIT $2`,
	}
}

// DefaultSources returns every ledger the unified balance folds over.
func DefaultSources(db DBTX) []*LedgerSource {
	return []*LedgerSource{
		NewCryptoSource(db),
		NewMarketplaceSource(db),
		NewFreelanceSource(db),
		NewRewardsSource(db),
		NewReferralSource(db),
	}
}
