package pricing

import (
	"errors"
	"fmt"

	"github.com/ayo6706/value-core/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrUnknownOperator    = errors.New("unknown operator")
	ErrUnknownServiceType = errors.New("unknown service type")
)

var hundred = decimal.NewFromInt(100)

// PricedRequest is the calculator output for one spend. Amounts are micros.
type PricedRequest struct {
	ServiceType     domain.ServiceType `json:"service_type"`
	OperatorID      int64              `json:"operator_id"`
	OperatorName    string             `json:"operator_name"`
	Currency        string             `json:"currency"`
	OriginalAmount  int64              `json:"original_amount_micros"`
	ProviderAmount  int64              `json:"provider_amount_micros"`
	CommissionValue int64              `json:"commission_value_micros"`
	CommissionRate  decimal.Decimal    `json:"commission_rate"`
	CommissionType  string             `json:"commission_type"`
	Direction       string             `json:"direction"`
	FinalAmount     int64              `json:"final_amount_micros"`
}

// Calculator prices spends against an immutable schedule. It performs no I/O.
type Calculator struct {
	schedule *Schedule
}

func NewCalculator(schedule *Schedule) *Calculator {
	if schedule == nil {
		schedule = DefaultSchedule()
	}
	return &Calculator{schedule: schedule}
}

// Schedule exposes the underlying configuration for catalog listings.
func (c *Calculator) Schedule() *Schedule {
	return c.schedule
}

// Operators lists the catalog for a service type, ordered by id.
func (c *Calculator) Operators(serviceType domain.ServiceType) ([]Operator, error) {
	if _, ok := c.schedule.Categories[serviceType]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownServiceType, serviceType)
	}
	return c.schedule.Operators(serviceType), nil
}

// Calculate prices requestedMicros for the operator in the given service category.
func (c *Calculator) Calculate(serviceType domain.ServiceType, requestedMicros, operatorID int64) (PricedRequest, error) {
	if requestedMicros <= 0 {
		return PricedRequest{}, fmt.Errorf("%w: requested amount must be positive", ErrInvalidAmount)
	}
	cat, ok := c.schedule.Categories[serviceType]
	if !ok {
		return PricedRequest{}, fmt.Errorf("%w: %q", ErrUnknownServiceType, serviceType)
	}
	op, ok := cat.Operators[operatorID]
	if !ok {
		return PricedRequest{}, fmt.Errorf("%w: %d for %s", ErrUnknownOperator, operatorID, serviceType)
	}

	policy := cat.Fee
	if op.Fee != nil {
		policy = *op.Fee
	}

	requested := domain.MicrosToDecimal(requestedMicros)
	commission := policy.Commission(requested)
	commissionMicros := domain.FromDecimal(commission)

	out := PricedRequest{
		ServiceType:     serviceType,
		OperatorID:      op.ID,
		OperatorName:    op.Name,
		Currency:        c.schedule.Currency,
		OriginalAmount:  requestedMicros,
		CommissionValue: commissionMicros,
		CommissionRate:  commission.Div(requested).Mul(hundred).Round(4),
		CommissionType:  policy.Type,
		Direction:       policy.Direction,
	}

	switch policy.Direction {
	case domain.DirectionAddOnTop:
		out.FinalAmount = requestedMicros + commissionMicros
		out.ProviderAmount = requestedMicros
	case domain.DirectionAbsorb:
		out.FinalAmount = requestedMicros
		out.ProviderAmount = requestedMicros - commissionMicros
		if out.ProviderAmount <= 0 {
			return PricedRequest{}, fmt.Errorf("%w: commission %s consumes the whole amount", ErrInvalidAmount, commission.StringFixed(2))
		}
	default:
		return PricedRequest{}, fmt.Errorf("unsupported commission direction %q", policy.Direction)
	}
	return out, nil
}

// Commission computes the fee for amount, rounded half-up to cents and clamped to [MinFee, MaxFee].
func (p FeePolicy) Commission(amount decimal.Decimal) decimal.Decimal {
	var fee decimal.Decimal
	switch p.Type {
	case domain.CommissionFlat:
		fee = p.Value
	case domain.CommissionPercentage:
		fee = amount.Mul(p.Value).Div(hundred)
	}
	fee = fee.Round(2)
	if fee.LessThan(p.MinFee) {
		fee = p.MinFee
	}
	if p.MaxFee.IsPositive() && fee.GreaterThan(p.MaxFee) {
		fee = p.MaxFee
	}
	return fee
}
