package pricing

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ayo6706/value-core/internal/domain"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// FeePolicy decides how the platform commission is computed and applied for a category.
type FeePolicy struct {
	Type      string
	Value     decimal.Decimal
	MinFee    decimal.Decimal
	MaxFee    decimal.Decimal // zero means uncapped
	Direction string
}

// Operator is a fulfillment operator (or gift-card product) the provider can serve.
type Operator struct {
	ID   int64      `json:"id"`
	Name string     `json:"name"`
	Fee  *FeePolicy `json:"-"`
}

// Category holds the fee policy and operator catalog for one service type.
type Category struct {
	Fee       FeePolicy
	Operators map[int64]Operator
}

// Schedule is the full commission configuration. It is read-only once built.
type Schedule struct {
	Currency   string
	Categories map[domain.ServiceType]Category
}

type scheduleFile struct {
	Currency   string                  `yaml:"currency"`
	Categories map[string]categoryFile `yaml:"categories"`
}

type categoryFile struct {
	Fee       feeFile        `yaml:"fee"`
	Operators []operatorFile `yaml:"operators"`
}

type operatorFile struct {
	ID   int64    `yaml:"id"`
	Name string   `yaml:"name"`
	Fee  *feeFile `yaml:"fee"`
}

type feeFile struct {
	Type      string `yaml:"type"`
	Value     string `yaml:"value"`
	MinFee    string `yaml:"min_fee"`
	MaxFee    string `yaml:"max_fee"`
	Direction string `yaml:"direction"`
}

// LoadSchedule reads a YAML commission schedule from path.
func LoadSchedule(path string) (*Schedule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read commission schedule: %w", err)
	}
	return ParseSchedule(raw)
}

// ParseSchedule decodes and validates a YAML commission schedule.
func ParseSchedule(raw []byte) (*Schedule, error) {
	var f scheduleFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse commission schedule: %w", err)
	}
	if len(f.Categories) == 0 {
		return nil, fmt.Errorf("commission schedule has no categories")
	}

	s := &Schedule{
		Currency:   strings.ToUpper(strings.TrimSpace(f.Currency)),
		Categories: make(map[domain.ServiceType]Category, len(f.Categories)),
	}
	if s.Currency == "" {
		s.Currency = domain.DefaultCurrency
	}

	for name, cf := range f.Categories {
		st := domain.ServiceType(strings.ToLower(strings.TrimSpace(name)))
		if !st.Valid() {
			return nil, fmt.Errorf("category %q: unsupported service type", name)
		}
		fee, err := cf.Fee.policy()
		if err != nil {
			return nil, fmt.Errorf("category %s: %w", st, err)
		}
		cat := Category{Fee: fee, Operators: make(map[int64]Operator, len(cf.Operators))}
		for _, of := range cf.Operators {
			if of.ID <= 0 {
				return nil, fmt.Errorf("category %s: operator id must be positive", st)
			}
			if _, dup := cat.Operators[of.ID]; dup {
				return nil, fmt.Errorf("category %s: duplicate operator %d", st, of.ID)
			}
			op := Operator{ID: of.ID, Name: strings.TrimSpace(of.Name)}
			if of.Fee != nil {
				override, err := of.Fee.policy()
				if err != nil {
					return nil, fmt.Errorf("category %s operator %d: %w", st, of.ID, err)
				}
				op.Fee = &override
			}
			cat.Operators[of.ID] = op
		}
		s.Categories[st] = cat
	}
	return s, nil
}

func (f feeFile) policy() (FeePolicy, error) {
	p := FeePolicy{
		Type:      strings.ToLower(strings.TrimSpace(f.Type)),
		Direction: strings.ToLower(strings.TrimSpace(f.Direction)),
	}
	switch p.Type {
	case domain.CommissionFlat, domain.CommissionPercentage:
	default:
		return FeePolicy{}, fmt.Errorf("fee type must be %s or %s, got %q", domain.CommissionFlat, domain.CommissionPercentage, f.Type)
	}
	switch p.Direction {
	case domain.DirectionAddOnTop, domain.DirectionAbsorb:
	default:
		return FeePolicy{}, fmt.Errorf("fee direction must be %s or %s, got %q", domain.DirectionAddOnTop, domain.DirectionAbsorb, f.Direction)
	}

	var err error
	if p.Value, err = parseAmount("value", f.Value); err != nil {
		return FeePolicy{}, err
	}
	if p.MinFee, err = parseAmount("min_fee", f.MinFee); err != nil {
		return FeePolicy{}, err
	}
	if p.MaxFee, err = parseAmount("max_fee", f.MaxFee); err != nil {
		return FeePolicy{}, err
	}
	if p.MaxFee.IsPositive() && p.MinFee.GreaterThan(p.MaxFee) {
		return FeePolicy{}, fmt.Errorf("min_fee %s exceeds max_fee %s", p.MinFee, p.MaxFee)
	}
	return p, nil
}

func parseAmount(field, raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", field, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s must not be negative", field)
	}
	return d, nil
}

// Operators returns the catalog for a service type ordered by id.
func (s *Schedule) Operators(serviceType domain.ServiceType) []Operator {
	cat, ok := s.Categories[serviceType]
	if !ok {
		return nil
	}
	out := make([]Operator, 0, len(cat.Operators))
	for _, op := range cat.Operators {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DefaultSchedule is used when no schedule file is configured.
func DefaultSchedule() *Schedule {
	s, err := ParseSchedule([]byte(defaultScheduleYAML))
	if err != nil {
		panic(fmt.Sprintf("built-in commission schedule is invalid: %v", err))
	}
	return s
}

const defaultScheduleYAML = `
currency: USD
categories:
  airtime:
    fee: {type: percentage, value: "2", min_fee: "0.50", max_fee: "10", direction: add_on_top}
    operators:
      - {id: 341, name: MTN Nigeria}
      - {id: 342, name: Airtel Nigeria}
      - {id: 344, name: Glo Nigeria}
      - {id: 173, name: Safaricom Kenya}
      - {id: 150, name: Vodafone Ghana}
  data:
    fee: {type: percentage, value: "2", min_fee: "0.50", max_fee: "10", direction: add_on_top}
    operators:
      - {id: 645, name: MTN Nigeria Data}
      - {id: 646, name: Airtel Nigeria Data}
      - {id: 174, name: Safaricom Kenya Data}
  utility:
    fee: {type: flat, value: "1.00", direction: add_on_top}
    operators:
      - {id: 1, name: Ikeja Electric Prepaid}
      - {id: 2, name: Eko Electric Prepaid}
      - {id: 9, name: Kenya Power Prepaid}
  giftcard:
    fee: {type: percentage, value: "3", min_fee: "1.00", max_fee: "25", direction: absorb}
    operators:
      - {id: 5, name: Amazon US}
      - {id: 8, name: Google Play US}
      - {id: 18, name: Steam US}
`
