package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ayo6706/value-core/internal/domain"
	"github.com/ayo6706/value-core/internal/models"
	"github.com/ayo6706/value-core/internal/observability"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BalanceSource is one read-only ledger contributing to the unified balance.
type BalanceSource interface {
	Source() domain.Source
	Balance(ctx context.Context, userID uuid.UUID) (int64, error)
	Transactions(ctx context.Context, userID uuid.UUID, limit int) ([]models.SourceTransaction, error)
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
)

// BalanceService folds the source ledgers into one view. It never writes.
type BalanceService struct {
	sources       []BalanceSource
	sourceTimeout time.Duration
	now           func() time.Time
}

func NewBalanceService(sources []BalanceSource, sourceTimeout time.Duration) *BalanceService {
	if sourceTimeout <= 0 {
		sourceTimeout = 2 * time.Second
	}
	return &BalanceService{sources: sources, sourceTimeout: sourceTimeout, now: time.Now}
}

type SourceBalance struct {
	Source       domain.Source `json:"source"`
	Label        string        `json:"label"`
	AmountMicros int64         `json:"amount_micros"`
	Amount       string        `json:"amount"`
	Available    bool          `json:"available"`
}

type UnifiedBalance struct {
	UserID      uuid.UUID       `json:"user_id"`
	Currency    string          `json:"currency"`
	TotalMicros int64           `json:"total_micros"`
	Total       string          `json:"total"`
	Sources     []SourceBalance `json:"sources"`
	Degraded    []domain.Source `json:"degraded,omitempty"`
	AsOf        time.Time       `json:"as_of"`
}

// GetBalances reads every source concurrently. A failing or slow source contributes zero and
// is listed in Degraded instead of failing the whole call.
func (s *BalanceService) GetBalances(ctx context.Context, userID uuid.UUID) (UnifiedBalance, error) {
	results := make([]SourceBalance, len(s.sources))
	failed := make([]bool, len(s.sources))

	var g errgroup.Group
	for i, src := range s.sources {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, s.sourceTimeout)
			defer cancel()

			name := src.Source()
			results[i] = SourceBalance{Source: name, Label: name.Label(), Available: true}
			amount, err := src.Balance(sctx, userID)
			if err != nil {
				failed[i] = true
				results[i].Available = false
				s.degrade(name, userID, err)
				amount = 0
			}
			results[i].AmountMicros = amount
			results[i].Amount = domain.FormatMicros(amount)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return UnifiedBalance{}, err
	}

	out := UnifiedBalance{
		UserID:   userID,
		Currency: domain.DefaultCurrency,
		Sources:  results,
		AsOf:     s.now().UTC(),
	}
	for i, r := range results {
		out.TotalMicros += r.AmountMicros
		if failed[i] {
			out.Degraded = append(out.Degraded, r.Source)
		}
	}
	out.Total = domain.FormatMicros(out.TotalMicros)
	return out, nil
}

func (s *BalanceService) degrade(source domain.Source, userID uuid.UUID, err error) {
	observability.IncrementBalanceSourceFailure(string(source))
	zap.L().Warn("balance source unavailable",
		zap.String("source", string(source)),
		zap.String("user_id", userID.String()),
		zap.Error(err),
	)
}

type TransactionHistory struct {
	Transactions []models.SourceTransaction `json:"transactions"`
	Limit        int                        `json:"limit"`
	Offset       int                        `json:"offset"`
	Degraded     []domain.Source            `json:"degraded,omitempty"`
}

// GetTransactionHistory merges the newest rows of every source and pages the merged list.
// Ordering is created_at descending, ties broken by source then id, so pages are stable.
func (s *BalanceService) GetTransactionHistory(ctx context.Context, userID uuid.UUID, limit, offset int) (TransactionHistory, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		return TransactionHistory{}, fmt.Errorf("offset must be non-negative: %d", offset)
	}
	fetch := limit + offset

	perSource := make([][]models.SourceTransaction, len(s.sources))
	failed := make([]bool, len(s.sources))

	var g errgroup.Group
	for i, src := range s.sources {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, s.sourceTimeout)
			defer cancel()

			rows, err := src.Transactions(sctx, userID, fetch)
			if err != nil {
				failed[i] = true
				s.degrade(src.Source(), userID, err)
				return nil
			}
			for j := range rows {
				rows[j].Source = src.Source()
			}
			perSource[i] = rows
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return TransactionHistory{}, err
	}

	var merged []models.SourceTransaction
	history := TransactionHistory{Limit: limit, Offset: offset}
	for i, rows := range perSource {
		merged = append(merged, rows...)
		if failed[i] {
			history.Degraded = append(history.Degraded, s.sources[i].Source())
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.ID < b.ID
	})

	if offset >= len(merged) {
		history.Transactions = []models.SourceTransaction{}
		return history, nil
	}
	end := offset + limit
	if end > len(merged) {
		end = len(merged)
	}
	history.Transactions = merged[offset:end]
	return history, nil
}

type BreakdownEntry struct {
	Source       domain.Source   `json:"source"`
	Label        string          `json:"label"`
	AmountMicros int64           `json:"amount_micros"`
	Amount       string          `json:"amount"`
	Percentage   decimal.Decimal `json:"percentage"`
}

type SourceBreakdown struct {
	TotalMicros int64            `json:"total_micros"`
	Total       string           `json:"total"`
	Entries     []BreakdownEntry `json:"entries"`
	Degraded    []domain.Source  `json:"degraded,omitempty"`
}

// GetSourceBreakdown reports each source's share of the unified total.
func (s *BalanceService) GetSourceBreakdown(ctx context.Context, userID uuid.UUID) (SourceBreakdown, error) {
	bal, err := s.GetBalances(ctx, userID)
	if err != nil {
		return SourceBreakdown{}, err
	}

	out := SourceBreakdown{
		TotalMicros: bal.TotalMicros,
		Total:       bal.Total,
		Degraded:    bal.Degraded,
		Entries:     make([]BreakdownEntry, 0, len(bal.Sources)),
	}
	total := decimal.NewFromInt(bal.TotalMicros)
	for _, src := range bal.Sources {
		pct := decimal.Zero
		if !total.IsZero() {
			pct = decimal.NewFromInt(src.AmountMicros).Mul(decimal.NewFromInt(100)).Div(total).Round(2)
		}
		out.Entries = append(out.Entries, BreakdownEntry{
			Source:       src.Source,
			Label:        src.Label,
			AmountMicros: src.AmountMicros,
			Amount:       src.Amount,
			Percentage:   pct,
		})
	}
	return out, nil
}
