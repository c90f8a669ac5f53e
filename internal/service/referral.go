package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ayo6706/value-core/internal/domain"
	"github.com/ayo6706/value-core/internal/models"
	"github.com/ayo6706/value-core/internal/observability"
	"github.com/ayo6706/value-core/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrLinkNotFound            = errors.New("referral link not found")
	ErrLinkExpired             = errors.New("referral link has expired")
	ErrLinkExhausted           = errors.New("referral link has reached its usage limit")
	ErrSelfReferral            = errors.New("users cannot refer themselves")
	ErrAlreadyAttributed       = errors.New("user is already attributed to this link")
	ErrDuplicateCode           = errors.New("referral code already in use")
	ErrInvalidCode             = errors.New("referral code must be 4-32 letters, digits, '-' or '_'")
	ErrInvalidLinkOptions      = errors.New("invalid referral link options")
	ErrCodeGenerationExhausted = errors.New("could not generate a unique referral code")
)

var customCodePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{4,32}$`)

const (
	codeAlphabet        = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeSuffixLength    = 4
	codeGenerationTries = 5
)

// ReferralConfig holds link defaults.
type ReferralConfig struct {
	BaseURL                     string
	CodePrefix                  string
	DefaultReferrerRewardMicros int64
	DefaultRefereeRewardMicros  int64
}

// ReferralService attributes clicks and signups to referral links.
type ReferralService struct {
	store        QueryStore
	cfg          ReferralConfig
	now          func() time.Time
	randomSuffix func() (string, error)
}

func NewReferralService(store QueryStore, cfg ReferralConfig) *ReferralService {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.CodePrefix == "" {
		cfg.CodePrefix = "REF"
	}
	if cfg.DefaultReferrerRewardMicros <= 0 {
		cfg.DefaultReferrerRewardMicros = 20_000_000
	}
	if cfg.DefaultRefereeRewardMicros <= 0 {
		cfg.DefaultRefereeRewardMicros = 35_000_000
	}
	return &ReferralService{
		store:        store,
		cfg:          cfg,
		now:          time.Now,
		randomSuffix: randomCodeSuffix,
	}
}

func randomCodeSuffix() (string, error) {
	buf := make([]byte, codeSuffixLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}

// LinkOptions customizes a new link. Zero values take the configured defaults.
type LinkOptions struct {
	CustomCode             string
	Type                   string
	CampaignID             *string
	ReferrerRewardMicros   int64
	RefereeRewardMicros    int64
	RevenueSharePercentage string
	MaxUses                *int64
	ExpiresAt              *time.Time
}

func (s *ReferralService) linkURL(code string) string {
	return s.cfg.BaseURL + "/join?ref=" + code
}

// GenerateLink creates a referral link for referrerID.
func (s *ReferralService) GenerateLink(ctx context.Context, referrerID uuid.UUID, opts LinkOptions) (models.ReferralLink, error) {
	now := s.now().UTC()
	if opts.MaxUses != nil && *opts.MaxUses <= 0 {
		return models.ReferralLink{}, fmt.Errorf("%w: max_uses must be positive", ErrInvalidLinkOptions)
	}
	if opts.ExpiresAt != nil && !opts.ExpiresAt.After(now) {
		return models.ReferralLink{}, fmt.Errorf("%w: expires_at must be in the future", ErrInvalidLinkOptions)
	}
	if opts.ReferrerRewardMicros < 0 || opts.RefereeRewardMicros < 0 {
		return models.ReferralLink{}, fmt.Errorf("%w: rewards must not be negative", ErrInvalidLinkOptions)
	}
	revenueShare := "0"
	if opts.RevenueSharePercentage != "" {
		pct, err := decimal.NewFromString(opts.RevenueSharePercentage)
		if err != nil || pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
			return models.ReferralLink{}, fmt.Errorf("%w: revenue_share_percentage must be between 0 and 100", ErrInvalidLinkOptions)
		}
		revenueShare = pct.StringFixed(2)
	}

	link := models.ReferralLink{
		ID:                     uuid.New(),
		ReferrerID:             referrerID,
		Type:                   opts.Type,
		CampaignID:             opts.CampaignID,
		ReferrerRewardMicros:   opts.ReferrerRewardMicros,
		RefereeRewardMicros:    opts.RefereeRewardMicros,
		RevenueSharePercentage: revenueShare,
		MaxUses:                opts.MaxUses,
		ExpiresAt:              opts.ExpiresAt,
		CreatedAt:              now,
	}
	if link.Type == "" {
		link.Type = domain.ReferralTypeGeneral
	}
	if link.ReferrerRewardMicros == 0 {
		link.ReferrerRewardMicros = s.cfg.DefaultReferrerRewardMicros
	}
	if link.RefereeRewardMicros == 0 {
		link.RefereeRewardMicros = s.cfg.DefaultRefereeRewardMicros
	}

	if custom := strings.TrimSpace(opts.CustomCode); custom != "" {
		if !customCodePattern.MatchString(custom) {
			return models.ReferralLink{}, ErrInvalidCode
		}
		exists, err := s.store.Queries().ReferralCodeExists(ctx, custom)
		if err != nil {
			return models.ReferralLink{}, fmt.Errorf("check referral code: %w", err)
		}
		if exists {
			return models.ReferralLink{}, ErrDuplicateCode
		}
		link.Code = custom
		link.URL = s.linkURL(custom)
		created, err := s.insertLink(ctx, link)
		if errors.Is(err, repository.ErrDuplicate) {
			return models.ReferralLink{}, ErrDuplicateCode
		}
		return created, err
	}

	stem := s.cfg.CodePrefix + strings.ToUpper(strings.ReplaceAll(referrerID.String(), "-", "")[:6])
	for attempt := 0; attempt < codeGenerationTries; attempt++ {
		suffix, err := s.randomSuffix()
		if err != nil {
			return models.ReferralLink{}, fmt.Errorf("generate referral code: %w", err)
		}
		code := stem + suffix
		exists, err := s.store.Queries().ReferralCodeExists(ctx, code)
		if err != nil {
			return models.ReferralLink{}, fmt.Errorf("check referral code: %w", err)
		}
		if exists {
			continue
		}
		link.Code = code
		link.URL = s.linkURL(code)
		created, err := s.insertLink(ctx, link)
		if errors.Is(err, repository.ErrDuplicate) {
			continue
		}
		return created, err
	}
	return models.ReferralLink{}, ErrCodeGenerationExhausted
}

func (s *ReferralService) insertLink(ctx context.Context, link models.ReferralLink) (models.ReferralLink, error) {
	var created models.ReferralLink
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		var err error
		created, err = q.InsertReferralLink(ctx, link)
		if err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return err
			}
			return fmt.Errorf("insert referral link: %w", err)
		}
		return writeAudit(ctx, q, auditEntry{
			Entity:   auditReferralLink,
			EntityID: created.ID,
			Actor:    &link.ReferrerID,
			Action:   "created",
			To:       "active",
		})
	})
	if err != nil {
		return models.ReferralLink{}, err
	}
	zap.L().Info("referral link created", zap.String("link_id", created.ID.String()), zap.String("code", created.Code))
	return created, nil
}

// checkUsable orders the link checks: missing or inactive, then expired, then capped.
func checkUsable(link models.ReferralLink, now time.Time) error {
	if !link.IsActive {
		return ErrLinkNotFound
	}
	if link.ExpiresAt != nil && !link.ExpiresAt.After(now) {
		return ErrLinkExpired
	}
	if link.MaxUses != nil && link.CurrentUses >= *link.MaxUses {
		return ErrLinkExhausted
	}
	return nil
}

func (s *ReferralService) loadUsableLink(ctx context.Context, q repository.Querier, code string, now time.Time) (models.ReferralLink, error) {
	link, err := q.GetReferralLinkByCode(ctx, strings.TrimSpace(code))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return models.ReferralLink{}, ErrLinkNotFound
		}
		return models.ReferralLink{}, fmt.Errorf("get referral link: %w", err)
	}
	return link, checkUsable(link, now)
}

// usageRejected explains a guarded usage increment that matched no row. The link changed
// after it was loaded, so it is read again to report the current reason.
func usageRejected(ctx context.Context, q repository.Querier, id uuid.UUID, now time.Time) error {
	link, err := q.GetReferralLink(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrLinkNotFound
		}
		return fmt.Errorf("reload referral link: %w", err)
	}
	if err := checkUsable(link, now); err != nil {
		return err
	}
	return ErrLinkExhausted
}

// ClientContext describes the visitor behind a click.
type ClientContext struct {
	IPAddress   string
	UserAgent   string
	ReferrerURL string
}

// TrackClick counts a click. The counter update is guarded by the same usability predicate, so
// concurrent clicks can never push a capped link past max_uses.
func (s *ReferralService) TrackClick(ctx context.Context, code string, client ClientContext) (models.ReferralEvent, error) {
	now := s.now().UTC()
	var ev models.ReferralEvent
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		link, err := s.loadUsableLink(ctx, q, code, now)
		if err != nil {
			return err
		}
		rows, err := q.IncrementLinkClick(ctx, repository.IncrementLinkUsageParams{ID: link.ID, Now: now})
		if err != nil {
			return fmt.Errorf("increment link clicks: %w", err)
		}
		if rows == 0 {
			return usageRejected(ctx, q, link.ID, now)
		}
		ev = models.ReferralEvent{
			ID:             uuid.New(),
			ReferralLinkID: link.ID,
			ReferrerID:     link.ReferrerID,
			EventType:      domain.ReferralEventClick,
			RewardCurrency: domain.DefaultCurrency,
			IPAddress:      optionalString(client.IPAddress),
			UserAgent:      optionalString(client.UserAgent),
			ReferrerURL:    optionalString(client.ReferrerURL),
			CreatedAt:      now,
		}
		if err := q.InsertReferralEvent(ctx, ev); err != nil {
			return fmt.Errorf("insert click event: %w", err)
		}
		return nil
	})
	observability.IncrementReferralEvent(domain.ReferralEventClick, referralOutcome(err))
	if err != nil {
		return models.ReferralEvent{}, err
	}
	return ev, nil
}

// RecordSignup attributes newUserID to the referrer's link and records the signup reward.
func (s *ReferralService) RecordSignup(ctx context.Context, code string, referrerID, newUserID uuid.UUID) (models.ReferralEvent, error) {
	now := s.now().UTC()
	var ev models.ReferralEvent
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		link, err := s.loadUsableLink(ctx, q, code, now)
		if errors.Is(err, ErrLinkNotFound) || (err == nil && link.ReferrerID != referrerID) {
			return ErrLinkNotFound
		}
		if err != nil {
			return err
		}
		if newUserID == link.ReferrerID {
			return ErrSelfReferral
		}
		exists, err := q.SignupExists(ctx, link.ID, newUserID)
		if err != nil {
			return fmt.Errorf("check existing signup: %w", err)
		}
		if exists {
			return ErrAlreadyAttributed
		}

		rows, err := q.IncrementLinkSignup(ctx, repository.IncrementLinkUsageParams{ID: link.ID, Now: now})
		if err != nil {
			return fmt.Errorf("increment link signups: %w", err)
		}
		if rows == 0 {
			return usageRejected(ctx, q, link.ID, now)
		}

		reward := link.RefereeRewardMicros
		if reward <= 0 {
			reward = s.cfg.DefaultRefereeRewardMicros
		}
		referee := newUserID
		ev = models.ReferralEvent{
			ID:             uuid.New(),
			ReferralLinkID: link.ID,
			ReferrerID:     link.ReferrerID,
			RefereeID:      &referee,
			EventType:      domain.ReferralEventSignup,
			RewardMicros:   reward,
			RewardCurrency: domain.DefaultCurrency,
			CreatedAt:      now,
		}
		if err := q.InsertReferralEvent(ctx, ev); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return ErrAlreadyAttributed
			}
			return fmt.Errorf("insert signup event: %w", err)
		}
		return writeAudit(ctx, q, auditEntry{
			Entity:   auditReferralLink,
			EntityID: link.ID,
			Actor:    &referee,
			Action:   "signup_attributed",
		})
	})
	observability.IncrementReferralEvent(domain.ReferralEventSignup, referralOutcome(err))
	if err != nil {
		return models.ReferralEvent{}, err
	}
	zap.L().Info("referral signup attributed",
		zap.String("link_id", ev.ReferralLinkID.String()),
		zap.String("referee_id", newUserID.String()),
		zap.Int64("reward_micros", ev.RewardMicros),
	)
	return ev, nil
}

func referralOutcome(err error) string {
	switch {
	case err == nil:
		return "recorded"
	case errors.Is(err, ErrLinkNotFound):
		return "not_found"
	case errors.Is(err, ErrLinkExpired):
		return "expired"
	case errors.Is(err, ErrLinkExhausted):
		return "exhausted"
	case errors.Is(err, ErrSelfReferral):
		return "self_referral"
	case errors.Is(err, ErrAlreadyAttributed):
		return "duplicate"
	default:
		return "error"
	}
}

type ReferralStats struct {
	TotalClicks             int64           `json:"total_clicks"`
	TotalSignups            int64           `json:"total_signups"`
	TotalConversions        int64           `json:"total_conversions"`
	ActiveLinks             int64           `json:"active_links"`
	ConversionRate          decimal.Decimal `json:"conversion_rate"`
	LifetimeEarningsMicros  int64           `json:"lifetime_earnings_micros"`
	ThisMonthEarningsMicros int64           `json:"this_month_earnings_micros"`
	PendingEarningsMicros   int64           `json:"pending_earnings_micros"`
	Currency                string          `json:"currency"`
}

// GetStats aggregates a referrer's links and earnings. The month boundary is UTC.
func (s *ReferralService) GetStats(ctx context.Context, referrerID uuid.UUID) (ReferralStats, error) {
	q := s.store.Queries()
	totals, err := q.GetReferralLinkTotals(ctx, referrerID)
	if err != nil {
		return ReferralStats{}, fmt.Errorf("get referral totals: %w", err)
	}
	now := s.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	earnings, err := q.GetReferralEarnings(ctx, repository.GetReferralEarningsParams{
		ReferrerID: referrerID,
		MonthStart: monthStart,
	})
	if err != nil {
		return ReferralStats{}, fmt.Errorf("get referral earnings: %w", err)
	}

	rate := decimal.Zero
	if totals.Clicks > 0 {
		rate = decimal.NewFromInt(totals.Signups).Mul(decimal.NewFromInt(100)).Div(decimal.NewFromInt(totals.Clicks)).Round(2)
	}
	return ReferralStats{
		TotalClicks:             totals.Clicks,
		TotalSignups:            totals.Signups,
		TotalConversions:        totals.Conversions,
		ActiveLinks:             totals.ActiveLinks,
		ConversionRate:          rate,
		LifetimeEarningsMicros:  earnings.LifetimeMicros,
		ThisMonthEarningsMicros: earnings.ThisMonthMicros,
		PendingEarningsMicros:   earnings.PendingMicros,
		Currency:                domain.DefaultCurrency,
	}, nil
}

func (s *ReferralService) ListLinks(ctx context.Context, referrerID uuid.UUID) ([]models.ReferralLink, error) {
	links, err := s.store.Queries().ListReferralLinksByReferrer(ctx, referrerID)
	if err != nil {
		return nil, fmt.Errorf("list referral links: %w", err)
	}
	return links, nil
}

// DeactivateLink disables a link. Deactivating an inactive link is a no-op.
func (s *ReferralService) DeactivateLink(ctx context.Context, linkID uuid.UUID, actorID *uuid.UUID) (models.ReferralLink, error) {
	var link models.ReferralLink
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		rows, err := q.DeactivateReferralLink(ctx, linkID)
		if err != nil {
			return fmt.Errorf("deactivate referral link: %w", err)
		}
		link, err = q.GetReferralLink(ctx, linkID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrLinkNotFound
			}
			return fmt.Errorf("get referral link: %w", err)
		}
		if rows == 0 {
			return nil
		}
		return writeAudit(ctx, q, auditEntry{
			Entity:   auditReferralLink,
			EntityID: linkID,
			Actor:    actorID,
			Action:   "deactivated",
			From:     "active",
			To:       "inactive",
		})
	})
	if err != nil {
		return models.ReferralLink{}, err
	}
	return link, nil
}
