// Package memstore is an in-memory repository.Querier for service and handler tests.
// Transactions are serialized and roll back on error, and the unique constraints of the
// Postgres schema (settlement id and idempotency key, referral code, one signup per
// link and referee) are enforced the same way.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ayo6706/value-core/internal/domain"
	"github.com/ayo6706/value-core/internal/models"
	"github.com/ayo6706/value-core/internal/repository"
	"github.com/google/uuid"
)

type state struct {
	settlements map[uuid.UUID]models.SettlementRecord
	links       map[uuid.UUID]models.ReferralLink
	events      []models.ReferralEvent
	audit       []repository.InsertAuditLogParams
}

func (s *state) clone() *state {
	out := &state{
		settlements: make(map[uuid.UUID]models.SettlementRecord, len(s.settlements)),
		links:       make(map[uuid.UUID]models.ReferralLink, len(s.links)),
		events:      append([]models.ReferralEvent(nil), s.events...),
		audit:       append([]repository.InsertAuditLogParams(nil), s.audit...),
	}
	for k, v := range s.settlements {
		out.settlements[k] = v
	}
	for k, v := range s.links {
		out.links[k] = v
	}
	return out
}

// Store satisfies the services' QueryStore contract.
type Store struct {
	mu       sync.Mutex
	st       *state
	failures map[string]error
}

func New() *Store {
	return &Store{
		st: &state{
			settlements: map[uuid.UUID]models.SettlementRecord{},
			links:       map[uuid.UUID]models.ReferralLink{},
		},
		failures: map[string]error{},
	}
}

func (s *Store) Queries() repository.Querier {
	return &querier{s: s}
}

func (s *Store) RunInTx(ctx context.Context, fn func(q repository.Querier) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(&querier{s: s, inTx: true}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// SetFailure makes every call to the named Querier method return err until cleared with a nil err.
func (s *Store) SetFailure(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

// PutSettlement stores rec as-is, for seeding fixtures such as stale records.
func (s *Store) PutSettlement(rec models.SettlementRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.settlements[rec.ID] = rec
}

// Settlement returns the stored record for id.
func (s *Store) Settlement(id uuid.UUID) (models.SettlementRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.st.settlements[id]
	return rec, ok
}

// Settlements returns every stored record.
func (s *Store) Settlements() []models.SettlementRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SettlementRecord, 0, len(s.st.settlements))
	for _, rec := range s.st.settlements {
		out = append(out, rec)
	}
	return out
}

// PutLink stores link as-is.
func (s *Store) PutLink(link models.ReferralLink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.links[link.ID] = link
}

// Link returns the stored referral link for id.
func (s *Store) Link(id uuid.UUID) (models.ReferralLink, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.st.links[id]
	return l, ok
}

// Events returns all referral events in insertion order.
func (s *Store) Events() []models.ReferralEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ReferralEvent(nil), s.st.events...)
}

// PutEvent appends ev without constraint checks.
func (s *Store) PutEvent(ev models.ReferralEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.events = append(s.st.events, ev)
}

// Audit returns all audit entries in insertion order.
func (s *Store) Audit() []repository.InsertAuditLogParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]repository.InsertAuditLogParams(nil), s.st.audit...)
}

type querier struct {
	s    *Store
	inTx bool
}

var _ repository.Querier = (*querier)(nil)

func (q *querier) lock() func() {
	if q.inTx {
		return func() {}
	}
	q.s.mu.Lock()
	return q.s.mu.Unlock
}

func (q *querier) fail(method string) error {
	return q.s.failures[method]
}

func (q *querier) InsertSettlement(_ context.Context, arg repository.InsertSettlementParams) (models.SettlementRecord, error) {
	defer q.lock()()
	if err := q.fail("InsertSettlement"); err != nil {
		return models.SettlementRecord{}, err
	}
	for id, rec := range q.s.st.settlements {
		if id == arg.ID || rec.IdempotencyKey == arg.IdempotencyKey {
			return models.SettlementRecord{}, repository.ErrDuplicate
		}
	}
	metadata := arg.Metadata
	if len(metadata) == 0 {
		metadata = []byte("{}")
	}
	rec := models.SettlementRecord{
		ID:                   arg.ID,
		UserID:               arg.UserID,
		ServiceType:          domain.ServiceType(arg.ServiceType),
		OperatorID:           arg.OperatorID,
		OperatorName:         arg.OperatorName,
		Recipient:            arg.Recipient,
		AmountMicros:         arg.AmountMicros,
		ProviderAmountMicros: arg.ProviderAmountMicros,
		CommissionMicros:     arg.CommissionMicros,
		CommissionRate:       arg.CommissionRate,
		CommissionType:       arg.CommissionType,
		Currency:             arg.Currency,
		Status:               "processing",
		IdempotencyKey:       arg.IdempotencyKey,
		Metadata:             metadata,
		CreatedAt:            arg.CreatedAt,
		UpdatedAt:            arg.CreatedAt,
	}
	q.s.st.settlements[rec.ID] = rec
	return rec, nil
}

func (q *querier) GetSettlement(_ context.Context, id uuid.UUID) (models.SettlementRecord, error) {
	defer q.lock()()
	if err := q.fail("GetSettlement"); err != nil {
		return models.SettlementRecord{}, err
	}
	rec, ok := q.s.st.settlements[id]
	if !ok {
		return models.SettlementRecord{}, repository.ErrNotFound
	}
	return rec, nil
}

func (q *querier) GetSettlementForUpdate(ctx context.Context, id uuid.UUID) (models.SettlementRecord, error) {
	return q.GetSettlement(ctx, id)
}

func (q *querier) GetSettlementByIdempotencyKey(_ context.Context, key string) (models.SettlementRecord, error) {
	defer q.lock()()
	for _, rec := range q.s.st.settlements {
		if rec.IdempotencyKey == key {
			return rec, nil
		}
	}
	return models.SettlementRecord{}, repository.ErrNotFound
}

func (q *querier) ListSettlementsByUser(_ context.Context, arg repository.ListSettlementsByUserParams) ([]models.SettlementRecord, error) {
	defer q.lock()()
	var out []models.SettlementRecord
	for _, rec := range q.s.st.settlements {
		if rec.UserID == arg.UserID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, arg.Limit, arg.Offset), nil
}

func (q *querier) CompleteSettlement(_ context.Context, arg repository.CompleteSettlementParams) (int64, error) {
	defer q.lock()()
	if err := q.fail("CompleteSettlement"); err != nil {
		return 0, err
	}
	rec, ok := q.s.st.settlements[arg.ID]
	if !ok || rec.Status != "processing" {
		return 0, nil
	}
	rec.Status = arg.Status
	if arg.ProviderTransactionID != nil {
		rec.ProviderTransactionID = arg.ProviderTransactionID
	}
	if arg.ProviderReferenceID != nil {
		rec.ProviderReferenceID = arg.ProviderReferenceID
	}
	rec.ErrorDetail = arg.ErrorDetail
	rec.NeedsReview = false
	rec.UpdatedAt = time.Now()
	q.s.st.settlements[arg.ID] = rec
	return 1, nil
}

func (q *querier) BackfillProviderIdentifiers(_ context.Context, arg repository.BackfillProviderIdentifiersParams) (int64, error) {
	defer q.lock()()
	rec, ok := q.s.st.settlements[arg.ID]
	if !ok || rec.Status != "success" || (rec.ProviderTransactionID != nil && rec.ProviderReferenceID != nil) {
		return 0, nil
	}
	if rec.ProviderTransactionID == nil {
		rec.ProviderTransactionID = arg.ProviderTransactionID
	}
	if rec.ProviderReferenceID == nil {
		rec.ProviderReferenceID = arg.ProviderReferenceID
	}
	rec.UpdatedAt = time.Now()
	q.s.st.settlements[arg.ID] = rec
	return 1, nil
}

func (q *querier) FlagSettlementForReview(_ context.Context, arg repository.FlagSettlementForReviewParams) (int64, error) {
	defer q.lock()()
	if err := q.fail("FlagSettlementForReview"); err != nil {
		return 0, err
	}
	rec, ok := q.s.st.settlements[arg.ID]
	if !ok {
		return 0, nil
	}
	reason := arg.Reason
	rec.NeedsReview = true
	rec.ReviewReason = &reason
	rec.UpdatedAt = time.Now()
	q.s.st.settlements[arg.ID] = rec
	return 1, nil
}

func (q *querier) ClearSettlementReview(_ context.Context, id uuid.UUID) (int64, error) {
	defer q.lock()()
	rec, ok := q.s.st.settlements[id]
	if !ok || !rec.NeedsReview {
		return 0, nil
	}
	rec.NeedsReview = false
	rec.UpdatedAt = time.Now()
	q.s.st.settlements[id] = rec
	return 1, nil
}

func (q *querier) IncrementReconcileAttempts(_ context.Context, id uuid.UUID) (int64, error) {
	defer q.lock()()
	rec, ok := q.s.st.settlements[id]
	if !ok || rec.Status != "processing" {
		return 0, nil
	}
	rec.ReconcileAttempts++
	rec.UpdatedAt = time.Now()
	q.s.st.settlements[id] = rec
	return 1, nil
}

func (q *querier) ListStaleProcessingSettlements(_ context.Context, arg repository.ListStaleProcessingSettlementsParams) ([]models.SettlementRecord, error) {
	defer q.lock()()
	if err := q.fail("ListStaleProcessingSettlements"); err != nil {
		return nil, err
	}
	var out []models.SettlementRecord
	for _, rec := range q.s.st.settlements {
		if rec.Status == "processing" && !rec.NeedsReview && rec.CreatedAt.Before(arg.CreatedBefore) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return page(out, arg.Limit, 0), nil
}

func (q *querier) ListSettlementsForReview(_ context.Context, arg repository.ListSettlementsForReviewParams) ([]models.SettlementRecord, error) {
	defer q.lock()()
	var out []models.SettlementRecord
	for _, rec := range q.s.st.settlements {
		if rec.NeedsReview {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return page(out, arg.Limit, arg.Offset), nil
}

func (q *querier) CountSettlementsForReview(_ context.Context) (int64, error) {
	defer q.lock()()
	var n int64
	for _, rec := range q.s.st.settlements {
		if rec.NeedsReview {
			n++
		}
	}
	return n, nil
}

func inWindow(t time.Time, from, to *time.Time) bool {
	if from != nil && t.Before(*from) {
		return false
	}
	return to == nil || t.Before(*to)
}

func (q *querier) GetCommissionBreakdown(_ context.Context, arg repository.CommissionWindowParams) ([]repository.CommissionBucket, error) {
	defer q.lock()()
	if err := q.fail("GetCommissionBreakdown"); err != nil {
		return nil, err
	}
	type bucketKey struct{ service, commission string }
	sums := map[bucketKey]*repository.CommissionBucket{}
	for _, rec := range q.s.st.settlements {
		if rec.Status != "success" || !inWindow(rec.CreatedAt, arg.From, arg.To) {
			continue
		}
		k := bucketKey{string(rec.ServiceType), rec.CommissionType}
		b, ok := sums[k]
		if !ok {
			b = &repository.CommissionBucket{ServiceType: k.service, CommissionType: k.commission}
			sums[k] = b
		}
		b.Transactions++
		b.CommissionMicros += rec.CommissionMicros
	}
	out := make([]repository.CommissionBucket, 0, len(sums))
	for _, b := range sums {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ServiceType != out[j].ServiceType {
			return out[i].ServiceType < out[j].ServiceType
		}
		return out[i].CommissionType < out[j].CommissionType
	})
	return out, nil
}

func (q *querier) ListCommissionSettlements(_ context.Context, arg repository.ListCommissionSettlementsParams) ([]models.SettlementRecord, error) {
	defer q.lock()()
	var out []models.SettlementRecord
	for _, rec := range q.s.st.settlements {
		if rec.Status != "success" || !inWindow(rec.CreatedAt, arg.From, arg.To) {
			continue
		}
		if arg.ServiceType != nil && string(rec.ServiceType) != *arg.ServiceType {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, arg.Limit, arg.Offset), nil
}

func (q *querier) InsertAuditLog(_ context.Context, arg repository.InsertAuditLogParams) error {
	defer q.lock()()
	if err := q.fail("InsertAuditLog"); err != nil {
		return err
	}
	q.s.st.audit = append(q.s.st.audit, arg)
	return nil
}

func (q *querier) InsertReferralLink(_ context.Context, link models.ReferralLink) (models.ReferralLink, error) {
	defer q.lock()()
	for id, existing := range q.s.st.links {
		if id == link.ID || existing.Code == link.Code {
			return models.ReferralLink{}, repository.ErrDuplicate
		}
	}
	link.IsActive = true
	link.ClickCount, link.SignupCount, link.ConversionCount, link.CurrentUses = 0, 0, 0, 0
	if link.RevenueSharePercentage == "" {
		link.RevenueSharePercentage = "0"
	}
	link.UpdatedAt = link.CreatedAt
	q.s.st.links[link.ID] = link
	return link, nil
}

func (q *querier) GetReferralLink(_ context.Context, id uuid.UUID) (models.ReferralLink, error) {
	defer q.lock()()
	l, ok := q.s.st.links[id]
	if !ok {
		return models.ReferralLink{}, repository.ErrNotFound
	}
	return l, nil
}

func (q *querier) GetReferralLinkByCode(_ context.Context, code string) (models.ReferralLink, error) {
	defer q.lock()()
	for _, l := range q.s.st.links {
		if l.Code == code {
			return l, nil
		}
	}
	return models.ReferralLink{}, repository.ErrNotFound
}

func (q *querier) ReferralCodeExists(_ context.Context, code string) (bool, error) {
	defer q.lock()()
	for _, l := range q.s.st.links {
		if l.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (q *querier) ListReferralLinksByReferrer(_ context.Context, referrerID uuid.UUID) ([]models.ReferralLink, error) {
	defer q.lock()()
	var out []models.ReferralLink
	for _, l := range q.s.st.links {
		if l.ReferrerID == referrerID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func usable(l models.ReferralLink, now time.Time) bool {
	if !l.IsActive {
		return false
	}
	if l.ExpiresAt != nil && !l.ExpiresAt.After(now) {
		return false
	}
	return l.MaxUses == nil || l.CurrentUses < *l.MaxUses
}

func (q *querier) IncrementLinkClick(_ context.Context, arg repository.IncrementLinkUsageParams) (int64, error) {
	defer q.lock()()
	l, ok := q.s.st.links[arg.ID]
	if !ok || !usable(l, arg.Now) {
		return 0, nil
	}
	l.ClickCount++
	l.CurrentUses++
	l.UpdatedAt = arg.Now
	q.s.st.links[arg.ID] = l
	return 1, nil
}

func (q *querier) IncrementLinkSignup(_ context.Context, arg repository.IncrementLinkUsageParams) (int64, error) {
	defer q.lock()()
	l, ok := q.s.st.links[arg.ID]
	if !ok || !usable(l, arg.Now) {
		return 0, nil
	}
	l.SignupCount++
	l.CurrentUses++
	l.UpdatedAt = arg.Now
	q.s.st.links[arg.ID] = l
	return 1, nil
}

func (q *querier) DeactivateReferralLink(_ context.Context, id uuid.UUID) (int64, error) {
	defer q.lock()()
	l, ok := q.s.st.links[id]
	if !ok || !l.IsActive {
		return 0, nil
	}
	l.IsActive = false
	l.UpdatedAt = time.Now()
	q.s.st.links[id] = l
	return 1, nil
}

func (q *querier) InsertReferralEvent(_ context.Context, ev models.ReferralEvent) error {
	defer q.lock()()
	if err := q.fail("InsertReferralEvent"); err != nil {
		return err
	}
	if ev.EventType == "signup" && ev.RefereeID != nil {
		for _, existing := range q.s.st.events {
			if existing.EventType == "signup" && existing.ReferralLinkID == ev.ReferralLinkID &&
				existing.RefereeID != nil && *existing.RefereeID == *ev.RefereeID {
				return repository.ErrDuplicate
			}
		}
	}
	q.s.st.events = append(q.s.st.events, ev)
	return nil
}

func (q *querier) SignupExists(_ context.Context, linkID, refereeID uuid.UUID) (bool, error) {
	defer q.lock()()
	for _, ev := range q.s.st.events {
		if ev.EventType == "signup" && ev.ReferralLinkID == linkID && ev.RefereeID != nil && *ev.RefereeID == refereeID {
			return true, nil
		}
	}
	return false, nil
}

func (q *querier) GetReferralLinkTotals(_ context.Context, referrerID uuid.UUID) (repository.ReferralLinkTotals, error) {
	defer q.lock()()
	var t repository.ReferralLinkTotals
	for _, l := range q.s.st.links {
		if l.ReferrerID != referrerID {
			continue
		}
		t.Clicks += l.ClickCount
		t.Signups += l.SignupCount
		t.Conversions += l.ConversionCount
		if l.IsActive {
			t.ActiveLinks++
		}
	}
	return t, nil
}

func (q *querier) GetReferralEarnings(_ context.Context, arg repository.GetReferralEarningsParams) (repository.ReferralEarnings, error) {
	defer q.lock()()
	var e repository.ReferralEarnings
	for _, ev := range q.s.st.events {
		if ev.ReferrerID != arg.ReferrerID {
			continue
		}
		e.LifetimeMicros += ev.RewardMicros
		if !ev.CreatedAt.Before(arg.MonthStart) {
			e.ThisMonthMicros += ev.RewardMicros
		}
		if !ev.IsRewardClaimed {
			e.PendingMicros += ev.RewardMicros
		}
	}
	return e, nil
}

func page[T any](rows []T, limit, offset int32) []T {
	if offset < 0 {
		offset = 0
	}
	if int(offset) >= len(rows) {
		return nil
	}
	rows = rows[offset:]
	if limit > 0 && int(limit) < len(rows) {
		rows = rows[:limit]
	}
	return rows
}
