package domain

// DefaultCurrency is the settlement currency for provider spends and referral rewards.
const DefaultCurrency = "USD"

// ServiceType identifies the category of a third-party fulfilled spend.
type ServiceType string

const (
	ServiceAirtime  ServiceType = "airtime"
	ServiceData     ServiceType = "data"
	ServiceUtility  ServiceType = "utility"
	ServiceGiftCard ServiceType = "giftcard"
)

// Valid reports whether s is one of the supported service types.
func (s ServiceType) Valid() bool {
	switch s {
	case ServiceAirtime, ServiceData, ServiceUtility, ServiceGiftCard:
		return true
	default:
		return false
	}
}

// Commission types
const (
	CommissionFlat       = "flat"
	CommissionPercentage = "percentage"
)

// Commission directions
const (
	DirectionAddOnTop = "add_on_top"
	DirectionAbsorb   = "absorb"
)

// Source names one of the independently owned ledgers folded into the unified balance.
type Source string

const (
	SourceCrypto      Source = "crypto"
	SourceMarketplace Source = "marketplace"
	SourceFreelance   Source = "freelance"
	SourceRewards     Source = "rewards"
	SourceReferral    Source = "referral"
)

// Sources lists every balance source in display order.
var Sources = []Source{SourceCrypto, SourceMarketplace, SourceFreelance, SourceRewards, SourceReferral}

// Label returns the human readable name shown in balance breakdowns.
func (s Source) Label() string {
	switch s {
	case SourceCrypto:
		return "Cryptocurrency"
	case SourceMarketplace:
		return "Marketplace Sales"
	case SourceFreelance:
		return "Freelance Work"
	case SourceRewards:
		return "Rewards & Activity"
	case SourceReferral:
		return "Referral Earnings"
	default:
		return string(s)
	}
}

// Referral event types
const (
	ReferralEventClick  = "click"
	ReferralEventSignup = "signup"
)

// Referral link defaults
const (
	ReferralTypeGeneral = "general"
)
