package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/value-core/internal/domain"
	"github.com/ayo6706/value-core/internal/models"
	"github.com/ayo6706/value-core/internal/pricing"
	"github.com/ayo6706/value-core/internal/repository"
)

var ErrInvalidReportWindow = errors.New("report window start must be before its end")

// CommissionWindow bounds a commission report to [From, To). Nil ends are open.
type CommissionWindow struct {
	From *time.Time
	To   *time.Time
}

func (w CommissionWindow) validate() error {
	if w.From != nil && w.To != nil && !w.From.Before(*w.To) {
		return ErrInvalidReportWindow
	}
	return nil
}

type CommissionTotal struct {
	Transactions     int64 `json:"transactions"`
	CommissionMicros int64 `json:"commission_micros"`
}

type CommissionStats struct {
	From                  *time.Time                 `json:"from,omitempty"`
	To                    *time.Time                 `json:"to,omitempty"`
	TotalTransactions     int64                      `json:"total_transactions"`
	TotalCommissionMicros int64                      `json:"total_commission_micros"`
	TotalCommission       string                     `json:"total_commission"`
	Currency              string                     `json:"currency"`
	ByServiceType         map[string]CommissionTotal `json:"by_service_type"`
	ByCommissionType      map[string]CommissionTotal `json:"by_commission_type"`
}

// CommissionStats totals the commission earned on successful settlements in the window.
// Failed and in-flight spends earn nothing and are left out.
func (s *SettlementService) CommissionStats(ctx context.Context, window CommissionWindow) (CommissionStats, error) {
	if err := window.validate(); err != nil {
		return CommissionStats{}, err
	}
	buckets, err := s.store.Queries().GetCommissionBreakdown(ctx, repository.CommissionWindowParams{
		From: window.From,
		To:   window.To,
	})
	if err != nil {
		return CommissionStats{}, fmt.Errorf("get commission breakdown: %w", err)
	}

	stats := CommissionStats{
		From:             window.From,
		To:               window.To,
		Currency:         domain.DefaultCurrency,
		ByServiceType:    map[string]CommissionTotal{},
		ByCommissionType: map[string]CommissionTotal{},
	}
	for _, b := range buckets {
		stats.TotalTransactions += b.Transactions
		stats.TotalCommissionMicros += b.CommissionMicros
		stats.ByServiceType[b.ServiceType] = addCommission(stats.ByServiceType[b.ServiceType], b)
		stats.ByCommissionType[b.CommissionType] = addCommission(stats.ByCommissionType[b.CommissionType], b)
	}
	stats.TotalCommission = domain.FormatMicros(stats.TotalCommissionMicros)
	return stats, nil
}

func addCommission(t CommissionTotal, b repository.CommissionBucket) CommissionTotal {
	t.Transactions += b.Transactions
	t.CommissionMicros += b.CommissionMicros
	return t
}

type CommissionFilter struct {
	CommissionWindow
	ServiceType domain.ServiceType
	Limit       int32
	Offset      int32
}

// ListCommissionTransactions returns successful settlements with their commission, newest first.
func (s *SettlementService) ListCommissionTransactions(ctx context.Context, filter CommissionFilter) ([]models.SettlementRecord, error) {
	if err := filter.validate(); err != nil {
		return nil, err
	}
	arg := repository.ListCommissionSettlementsParams{
		From: filter.From,
		To:   filter.To,
	}
	if filter.ServiceType != "" {
		if !filter.ServiceType.Valid() {
			return nil, fmt.Errorf("%w: %q", pricing.ErrUnknownServiceType, filter.ServiceType)
		}
		st := string(filter.ServiceType)
		arg.ServiceType = &st
	}
	arg.Limit, arg.Offset = normalizePage(filter.Limit, filter.Offset, 50, 500)

	rows, err := s.store.Queries().ListCommissionSettlements(ctx, arg)
	if err != nil {
		return nil, fmt.Errorf("list commission settlements: %w", err)
	}
	return rows, nil
}
