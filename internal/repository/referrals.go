package repository

import (
	"context"
	"fmt"

	"github.com/ayo6706/value-core/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const referralLinkColumns = `id, referrer_id, code, url, type, campaign_id, click_count, signup_count,
	conversion_count, referrer_reward_micros, referee_reward_micros, revenue_share_percentage::text,
	is_active, max_uses, current_uses, expires_at, created_at, updated_at`

func scanReferralLink(row pgx.Row) (models.ReferralLink, error) {
	var (
		l         models.ReferralLink
		expiresAt pgtype.Timestamptz
	)
	err := row.Scan(
		&l.ID,
		&l.ReferrerID,
		&l.Code,
		&l.URL,
		&l.Type,
		&l.CampaignID,
		&l.ClickCount,
		&l.SignupCount,
		&l.ConversionCount,
		&l.ReferrerRewardMicros,
		&l.RefereeRewardMicros,
		&l.RevenueSharePercentage,
		&l.IsActive,
		&l.MaxUses,
		&l.CurrentUses,
		&expiresAt,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		return models.ReferralLink{}, translate(err)
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		l.ExpiresAt = &t
	}
	return l, nil
}

const insertReferralLink = `
INSERT INTO referral_links (
	id, referrer_id, code, url, type, campaign_id, referrer_reward_micros, referee_reward_micros,
	revenue_share_percentage, is_active, max_uses, expires_at, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, TRUE, $10, $11, $12, $12)
RETURNING ` + referralLinkColumns

func (q *Queries) InsertReferralLink(ctx context.Context, link models.ReferralLink) (models.ReferralLink, error) {
	var expiresAt pgtype.Timestamptz
	if link.ExpiresAt != nil {
		expiresAt = pgtype.Timestamptz{Time: *link.ExpiresAt, Valid: true}
	}
	share := link.RevenueSharePercentage
	if share == "" {
		share = "0"
	}
	return scanReferralLink(q.db.QueryRow(ctx, insertReferralLink,
		link.ID,
		link.ReferrerID,
		link.Code,
		link.URL,
		link.Type,
		link.CampaignID,
		link.ReferrerRewardMicros,
		link.RefereeRewardMicros,
		share,
		link.MaxUses,
		expiresAt,
		link.CreatedAt,
	))
}

func (q *Queries) GetReferralLink(ctx context.Context, id uuid.UUID) (models.ReferralLink, error) {
	return scanReferralLink(q.db.QueryRow(ctx, `SELECT `+referralLinkColumns+` FROM referral_links WHERE id = $1`, id))
}

func (q *Queries) GetReferralLinkByCode(ctx context.Context, code string) (models.ReferralLink, error) {
	return scanReferralLink(q.db.QueryRow(ctx, `SELECT `+referralLinkColumns+` FROM referral_links WHERE code = $1`, code))
}

func (q *Queries) ReferralCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	if err := q.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM referral_links WHERE code = $1)`, code).Scan(&exists); err != nil {
		return false, translate(err)
	}
	return exists, nil
}

func (q *Queries) ListReferralLinksByReferrer(ctx context.Context, referrerID uuid.UUID) ([]models.ReferralLink, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+referralLinkColumns+`
		FROM referral_links
		WHERE referrer_id = $1
		ORDER BY created_at DESC`, referrerID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var out []models.ReferralLink
	for rows.Next() {
		l, err := scanReferralLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan referral link: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// usableLinkPredicate guards counter updates so an inactive, expired or capped link is never incremented.
const usableLinkPredicate = `is_active
	AND (expires_at IS NULL OR expires_at > $2)
	AND (max_uses IS NULL OR current_uses < max_uses)`

func (q *Queries) IncrementLinkClick(ctx context.Context, arg IncrementLinkUsageParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE referral_links
		SET click_count = click_count + 1, current_uses = current_uses + 1, updated_at = $2
		WHERE id = $1 AND `+usableLinkPredicate, arg.ID, arg.Now)
	if err != nil {
		return 0, translate(err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) IncrementLinkSignup(ctx context.Context, arg IncrementLinkUsageParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE referral_links
		SET signup_count = signup_count + 1, current_uses = current_uses + 1, updated_at = $2
		WHERE id = $1 AND `+usableLinkPredicate, arg.ID, arg.Now)
	if err != nil {
		return 0, translate(err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) DeactivateReferralLink(ctx context.Context, id uuid.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, `UPDATE referral_links SET is_active = FALSE, updated_at = NOW() WHERE id = $1 AND is_active`, id)
	if err != nil {
		return 0, translate(err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) InsertReferralEvent(ctx context.Context, ev models.ReferralEvent) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO referral_events (
			id, referral_link_id, referrer_id, referee_id, event_type, reward_amount_micros,
			reward_currency, is_reward_claimed, ip_address, user_agent, referrer_url, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		ev.ID,
		ev.ReferralLinkID,
		ev.ReferrerID,
		optionalUUID(ev.RefereeID),
		ev.EventType,
		ev.RewardMicros,
		ev.RewardCurrency,
		ev.IsRewardClaimed,
		ev.IPAddress,
		ev.UserAgent,
		ev.ReferrerURL,
		ev.CreatedAt,
	)
	return translate(err)
}

func (q *Queries) SignupExists(ctx context.Context, linkID, refereeID uuid.UUID) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM referral_events
			WHERE referral_link_id = $1 AND referee_id = $2 AND event_type = 'signup'
		)`, linkID, refereeID).Scan(&exists)
	if err != nil {
		return false, translate(err)
	}
	return exists, nil
}

func (q *Queries) GetReferralLinkTotals(ctx context.Context, referrerID uuid.UUID) (ReferralLinkTotals, error) {
	var t ReferralLinkTotals
	err := q.db.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(click_count), 0)::bigint,
			COALESCE(SUM(signup_count), 0)::bigint,
			COALESCE(SUM(conversion_count), 0)::bigint,
			COUNT(*) FILTER (WHERE is_active)
		FROM referral_links
		WHERE referrer_id = $1`, referrerID).Scan(&t.Clicks, &t.Signups, &t.Conversions, &t.ActiveLinks)
	if err != nil {
		return ReferralLinkTotals{}, translate(err)
	}
	return t, nil
}

func (q *Queries) GetReferralEarnings(ctx context.Context, arg GetReferralEarningsParams) (ReferralEarnings, error) {
	var e ReferralEarnings
	err := q.db.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(reward_amount_micros), 0)::bigint,
			COALESCE(SUM(reward_amount_micros) FILTER (WHERE created_at >= $2), 0)::bigint,
			COALESCE(SUM(reward_amount_micros) FILTER (WHERE NOT is_reward_claimed), 0)::bigint
		FROM referral_events
		WHERE referrer_id = $1`, arg.ReferrerID, arg.MonthStart).Scan(&e.LifetimeMicros, &e.ThisMonthMicros, &e.PendingMicros)
	if err != nil {
		return ReferralEarnings{}, translate(err)
	}
	return e, nil
}
