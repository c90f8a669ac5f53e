package service

import (
	"context"
	"testing"
	"time"

	"github.com/ayo6706/value-core/internal/domain"
	"github.com/ayo6706/value-core/internal/pricing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedCommission rewrites a seeded settlement with the given outcome and commission.
func (f *settlementFixture) seedCommission(serviceType domain.ServiceType, commissionType string, micros int64, status SettlementStatus, age time.Duration) {
	rec := f.seedProcessing(age)
	rec.ServiceType = serviceType
	rec.CommissionType = commissionType
	rec.CommissionMicros = micros
	rec.Status = string(status)
	f.store.PutSettlement(rec)
}

func TestCommissionStatsCountsOnlySuccess(t *testing.T) {
	f := newSettlementFixture(t)
	f.seedCommission(domain.ServiceAirtime, domain.CommissionPercentage, 500_000, StatusSuccess, time.Hour)
	f.seedCommission(domain.ServiceAirtime, domain.CommissionFlat, 250_000, StatusSuccess, time.Hour)
	f.seedCommission(domain.ServiceGiftCard, domain.CommissionPercentage, 1_000_000, StatusSuccess, time.Hour)
	f.seedCommission(domain.ServiceData, domain.CommissionPercentage, 700_000, StatusFailed, time.Hour)
	f.seedCommission(domain.ServiceUtility, domain.CommissionFlat, 300_000, StatusProcessing, time.Hour)

	stats, err := f.svc.CommissionStats(context.Background(), CommissionWindow{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalTransactions)
	assert.Equal(t, int64(1_750_000), stats.TotalCommissionMicros)
	assert.Equal(t, "1.75", stats.TotalCommission)
	assert.Equal(t, "USD", stats.Currency)

	assert.Equal(t, CommissionTotal{Transactions: 2, CommissionMicros: 750_000}, stats.ByServiceType["airtime"])
	assert.Equal(t, CommissionTotal{Transactions: 1, CommissionMicros: 1_000_000}, stats.ByServiceType["giftcard"])
	assert.NotContains(t, stats.ByServiceType, "data")
	assert.NotContains(t, stats.ByServiceType, "utility")

	assert.Equal(t, CommissionTotal{Transactions: 2, CommissionMicros: 1_500_000}, stats.ByCommissionType[domain.CommissionPercentage])
	assert.Equal(t, CommissionTotal{Transactions: 1, CommissionMicros: 250_000}, stats.ByCommissionType[domain.CommissionFlat])
}

func TestCommissionStatsWindow(t *testing.T) {
	f := newSettlementFixture(t)
	f.seedCommission(domain.ServiceAirtime, domain.CommissionPercentage, 100_000, StatusSuccess, 48*time.Hour)
	f.seedCommission(domain.ServiceAirtime, domain.CommissionPercentage, 200_000, StatusSuccess, time.Hour)

	from := time.Now().Add(-24 * time.Hour)
	stats, err := f.svc.CommissionStats(context.Background(), CommissionWindow{From: &from})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalTransactions)
	assert.Equal(t, int64(200_000), stats.TotalCommissionMicros)

	empty, err := f.svc.CommissionStats(context.Background(), CommissionWindow{To: &from, From: ptrTime(from.Add(-time.Minute))})
	require.NoError(t, err)
	assert.Zero(t, empty.TotalTransactions)
	assert.Empty(t, empty.ByServiceType)
	assert.Equal(t, "0.00", empty.TotalCommission)

	_, err = f.svc.CommissionStats(context.Background(), CommissionWindow{From: &from, To: &from})
	require.ErrorIs(t, err, ErrInvalidReportWindow)
}

func TestListCommissionTransactions(t *testing.T) {
	f := newSettlementFixture(t)
	f.seedCommission(domain.ServiceAirtime, domain.CommissionPercentage, 100_000, StatusSuccess, 2*time.Hour)
	f.seedCommission(domain.ServiceData, domain.CommissionPercentage, 200_000, StatusSuccess, time.Hour)
	f.seedCommission(domain.ServiceData, domain.CommissionPercentage, 300_000, StatusFailed, time.Minute)
	ctx := context.Background()

	all, err := f.svc.ListCommissionTransactions(ctx, CommissionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(200_000), all[0].CommissionMicros)
	assert.Equal(t, int64(100_000), all[1].CommissionMicros)

	data, err := f.svc.ListCommissionTransactions(ctx, CommissionFilter{ServiceType: domain.ServiceData})
	require.NoError(t, err)
	require.Len(t, data, 1)
	assert.Equal(t, domain.ServiceData, data[0].ServiceType)

	_, err = f.svc.ListCommissionTransactions(ctx, CommissionFilter{ServiceType: "lottery"})
	require.ErrorIs(t, err, pricing.ErrUnknownServiceType)
}

func ptrTime(t time.Time) *time.Time { return &t }
