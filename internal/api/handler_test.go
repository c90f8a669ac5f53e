package api_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ayo6706/value-core/internal/api"
	"github.com/ayo6706/value-core/internal/api/middleware"
	"github.com/ayo6706/value-core/internal/config"
	"github.com/ayo6706/value-core/internal/domain"
	"github.com/ayo6706/value-core/internal/events"
	"github.com/ayo6706/value-core/internal/gateway"
	"github.com/ayo6706/value-core/internal/idempotency"
	"github.com/ayo6706/value-core/internal/models"
	"github.com/ayo6706/value-core/internal/pricing"
	"github.com/ayo6706/value-core/internal/service"
	"github.com/ayo6706/value-core/internal/testutil/memstore"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testJWTSecret    = "test-secret-0123456789-test-secret"
	testJWTIssuer    = "value-core-test"
	testJWTAudience  = "value-core-api-test"
	testWebhookKey   = "test-webhook-key"
	testIdemTTL      = time.Hour
	problemTypeStart = "https://errors.value-core.dev/"
)

func TestMain(m *testing.M) {
	middleware.SetJWTSecret(testJWTSecret)
	middleware.SetJWTValidation(testJWTIssuer, testJWTAudience)
	os.Exit(m.Run())
}

type staticSource struct {
	source  domain.Source
	balance int64
	rows    []models.SourceTransaction
	err     error
}

func (s staticSource) Source() domain.Source { return s.source }

func (s staticSource) Balance(context.Context, uuid.UUID) (int64, error) {
	return s.balance, s.err
}

func (s staticSource) Transactions(_ context.Context, _ uuid.UUID, limit int) ([]models.SourceTransaction, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.rows) > limit {
		return s.rows[:limit], nil
	}
	return s.rows, nil
}

type testAPI struct {
	handler http.Handler
	store   *memstore.Store
	gateway *gateway.MockGateway
}

func setupAPI(t *testing.T, mutate ...func(*config.Config)) *testAPI {
	t.Helper()

	cfg := &config.Config{
		HTTPPort:           "0",
		JWTSecret:          testJWTSecret,
		JWTIssuer:          testJWTIssuer,
		JWTAudience:        testJWTAudience,
		PublicRateLimitRPS: 1000,
		AuthRateLimitRPS:   1000,
		IdempotencyTTL:     testIdemTTL,
	}
	for _, fn := range mutate {
		fn(cfg)
	}

	store := memstore.New()
	gw := gateway.NewMockGateway()
	gw.FailureRate = 0
	gw.MinDelay = 0
	gw.MaxDelay = 0

	settlements := service.NewSettlementService(store, pricing.NewCalculator(nil), gw, events.NoopPublisher{}, service.SettlementConfig{
		ProviderTimeout: time.Second,
		StaleAfter:      2 * time.Minute,
	})
	created := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	balances := service.NewBalanceService([]service.BalanceSource{
		staticSource{source: domain.SourceCrypto, balance: 25_000_000, rows: []models.SourceTransaction{
			{ID: "c-1", Source: domain.SourceCrypto, AmountMicros: 25_000_000, CreatedAt: created},
		}},
		staticSource{source: domain.SourceMarketplace, balance: 75_000_000, rows: []models.SourceTransaction{
			{ID: "m-1", Source: domain.SourceMarketplace, AmountMicros: 75_000_000, CreatedAt: created.Add(time.Hour)},
		}},
		staticSource{source: domain.SourceFreelance, err: errors.New("freelance ledger down")},
	}, time.Second)

	router := api.NewRouter(api.Deps{
		Config:      cfg,
		Idempotency: idempotency.NewStore(nil, memstore.NewKeys(), cfg.IdempotencyTTL),
		Settlements: settlements,
		Balances:    balances,
		Referrals:   service.NewReferralService(store, service.ReferralConfig{BaseURL: "https://value.test"}),
		Webhooks:    service.NewWebhookService(store, settlements, testWebhookKey, false),
		Catalog:     gw,
	})
	return &testAPI{handler: router.Routes(), store: store, gateway: gw}
}

func generateTestToken(userID string) string {
	return generateTokenWithRole(userID, middleware.RoleUser)
}

func generateTokenWithRole(userID, role string) string {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"role":    role,
		"iss":     testJWTIssuer,
		"aud":     testJWTAudience,
		"sub":     userID,
		"iat":     now.Unix(),
		"nbf":     now.Add(-30 * time.Second).Unix(),
		"exp":     now.Add(time.Hour).Unix(),
	})
	tokenString, _ := token.SignedString(middleware.JWTSecret())
	return tokenString
}

type call struct {
	method  string
	path    string
	body    any
	token   string
	headers map[string]string
}

func (a *testAPI) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := c.body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(c.method, c.path, reader)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func requireProblem(t *testing.T, w *httptest.ResponseRecorder, status int, slug string) map[string]any {
	t.Helper()
	require.Equal(t, status, w.Code, w.Body.String())
	require.Contains(t, w.Header().Get("Content-Type"), "application/problem+json")
	body := decodeBody[map[string]any](t, w)
	assert.Equal(t, problemTypeStart+slug, body["type"])
	return body
}

func TestRFC7807ProblemDetails(t *testing.T) {
	a := setupAPI(t)

	w := a.do(t, call{method: http.MethodGet, path: "/v1/wallet/balance"})
	body := requireProblem(t, w, http.StatusUnauthorized, "auth/authorization-header-required")
	assert.Equal(t, float64(http.StatusUnauthorized), body["status"])
	assert.NotEmpty(t, body["title"])
	assert.NotEmpty(t, body["detail"])
	assert.Equal(t, "/v1/wallet/balance", body["instance"])
	assert.Equal(t, w.Header().Get("X-Trace-ID"), body["trace_id"])
}

func TestAuthRejectsBadTokens(t *testing.T) {
	a := setupAPI(t)

	cases := []struct {
		name  string
		token string
		slug  string
	}{
		{name: "garbage", token: "not-a-jwt", slug: "auth/invalid-token"},
		{name: "non_uuid_subject", token: generateTestToken("alice"), slug: "auth/invalid-token-claims"},
		{name: "unknown_role", token: generateTokenWithRole(uuid.NewString(), "root"), slug: "auth/invalid-token-claims"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := a.do(t, call{method: http.MethodGet, path: "/v1/wallet/balance", token: tc.token})
			requireProblem(t, w, http.StatusUnauthorized, tc.slug)
		})
	}
}

func TestQuoteSpend(t *testing.T) {
	a := setupAPI(t)
	token := generateTestToken(uuid.NewString())

	w := a.do(t, call{method: http.MethodPost, path: "/v1/spends/quote", token: token, body: map[string]any{
		"service_type": "airtime",
		"operator_id":  341,
		"amount":       "5.00",
	}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	priced := decodeBody[pricing.PricedRequest](t, w)
	assert.Equal(t, int64(5_000_000), priced.ProviderAmount)
	assert.Equal(t, int64(500_000), priced.CommissionValue)
	assert.Equal(t, int64(5_500_000), priced.FinalAmount)
	assert.Empty(t, a.store.Settlements())

	w = a.do(t, call{method: http.MethodPost, path: "/v1/spends/quote", token: token, body: map[string]any{
		"service_type": "airtime",
		"operator_id":  999,
		"amount":       "5.00",
	}})
	requireProblem(t, w, http.StatusBadRequest, "spend/unknown-operator")
}

func TestSubmitSpendLifecycle(t *testing.T) {
	a := setupAPI(t)
	owner := uuid.New()
	token := generateTestToken(owner.String())
	body := map[string]any{
		"service_type": "airtime",
		"operator_id":  341,
		"amount":       "5.00",
		"recipient":    "+2348012345678",
	}
	key := map[string]string{"Idempotency-Key": uuid.NewString()}

	w := a.do(t, call{method: http.MethodPost, path: "/v1/spends", token: token, body: body, headers: key})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decodeBody[service.SpendResult](t, w)
	assert.Equal(t, string(service.StatusSuccess), res.Settlement.Status)
	assert.Equal(t, owner, res.Settlement.UserID)
	require.NotNil(t, res.Settlement.ProviderTransactionID)

	replay := a.do(t, call{method: http.MethodPost, path: "/v1/spends", token: token, body: body, headers: key})
	require.Equal(t, http.StatusCreated, replay.Code)
	assert.NotEmpty(t, replay.Header().Get("X-Idempotent-Replay"))
	assert.JSONEq(t, w.Body.String(), replay.Body.String())
	assert.Len(t, a.store.Settlements(), 1)

	path := "/v1/spends/" + res.Settlement.ID.String()
	got := a.do(t, call{method: http.MethodGet, path: path, token: token})
	require.Equal(t, http.StatusOK, got.Code)

	other := a.do(t, call{method: http.MethodGet, path: path, token: generateTestToken(uuid.NewString())})
	requireProblem(t, other, http.StatusForbidden, "auth/insufficient-permissions")

	admin := a.do(t, call{method: http.MethodGet, path: path, token: generateTokenWithRole(uuid.NewString(), middleware.RoleAdmin)})
	require.Equal(t, http.StatusOK, admin.Code)

	missing := a.do(t, call{method: http.MethodGet, path: "/v1/spends/" + uuid.NewString(), token: token})
	requireProblem(t, missing, http.StatusNotFound, "spend/not-found")

	list := a.do(t, call{method: http.MethodGet, path: "/v1/spends?limit=10", token: token})
	require.Equal(t, http.StatusOK, list.Code)
	page := decodeBody[struct {
		Items []models.SettlementRecord `json:"items"`
		Count int                       `json:"count"`
	}](t, list)
	require.Equal(t, 1, page.Count)
	assert.Equal(t, res.Settlement.ID, page.Items[0].ID)
}

func TestSubmitSpendResubmitReplaysTerminalRecord(t *testing.T) {
	a := setupAPI(t)
	token := generateTestToken(uuid.NewString())
	id := uuid.NewString()
	body := map[string]any{
		"settlement_id": id,
		"service_type":  "data",
		"operator_id":   645,
		"amount":        "10.00",
		"recipient":     "+2348012345678",
	}

	first := a.do(t, call{method: http.MethodPost, path: "/v1/spends", token: token, body: body, headers: map[string]string{"Idempotency-Key": "first"}})
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	second := a.do(t, call{method: http.MethodPost, path: "/v1/spends", token: token, body: body, headers: map[string]string{"Idempotency-Key": "second"}})
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())
	res := decodeBody[service.SpendResult](t, second)
	assert.Equal(t, id, res.Settlement.ID.String())
	assert.Len(t, a.store.Settlements(), 1)

	foreign := a.do(t, call{method: http.MethodPost, path: "/v1/spends", token: generateTestToken(uuid.NewString()), body: body, headers: map[string]string{"Idempotency-Key": "third"}})
	requireProblem(t, foreign, http.StatusConflict, "spend/duplicate-submission")
}

func TestSubmitSpendProviderFailure(t *testing.T) {
	a := setupAPI(t)
	a.gateway.FailureRate = 1

	w := a.do(t, call{
		method:  http.MethodPost,
		path:    "/v1/spends",
		token:   generateTestToken(uuid.NewString()),
		headers: map[string]string{"Idempotency-Key": uuid.NewString()},
		body: map[string]any{
			"service_type": "utility",
			"operator_id":  1,
			"amount":       "20.00",
			"recipient":    "04512345678",
		},
	})
	body := requireProblem(t, w, http.StatusBadGateway, "spend/provider-failed")
	assert.Equal(t, service.ProviderFailureMessage, body["detail"])

	recs := a.store.Settlements()
	require.Len(t, recs, 1)
	assert.Equal(t, string(service.StatusFailed), recs[0].Status)
}

func TestSubmitSpendPendingWhenOutcomeCannotBeRecorded(t *testing.T) {
	a := setupAPI(t)
	a.store.SetFailure("CompleteSettlement", errors.New("connection reset"))

	w := a.do(t, call{
		method:  http.MethodPost,
		path:    "/v1/spends",
		token:   generateTestToken(uuid.NewString()),
		headers: map[string]string{"Idempotency-Key": uuid.NewString()},
		body: map[string]any{
			"service_type": "giftcard",
			"operator_id":  5,
			"amount":       "50.00",
			"recipient":    "buyer@example.com",
		},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	res := decodeBody[service.SpendResult](t, w)
	assert.Equal(t, string(service.StatusProcessing), res.Settlement.Status)
	assert.Equal(t, service.PendingConfirmationMessage, res.Message)
}

func TestSubmitSpendValidation(t *testing.T) {
	a := setupAPI(t)
	token := generateTestToken(uuid.NewString())
	valid := map[string]any{
		"service_type": "airtime",
		"operator_id":  341,
		"amount":       "5.00",
		"recipient":    "+2348012345678",
	}
	with := func(k string, v any) map[string]any {
		out := map[string]any{}
		for key, val := range valid {
			out[key] = val
		}
		out[k] = v
		return out
	}

	missingKey := a.do(t, call{method: http.MethodPost, path: "/v1/spends", token: token, body: valid})
	requireProblem(t, missingKey, http.StatusBadRequest, "idempotency/missing-key")

	cases := []struct {
		name string
		body any
		slug string
	}{
		{name: "bad_amount", body: with("amount", "five"), slug: "request/invalid-amount"},
		{name: "negative_amount", body: with("amount", "-1"), slug: "request/invalid-amount"},
		{name: "unknown_service", body: with("service_type", "lottery"), slug: "spend/unknown-service-type"},
		{name: "blank_recipient", body: with("recipient", " "), slug: "spend/invalid-recipient"},
		{name: "bad_settlement_id", body: with("settlement_id", "nope"), slug: "request/invalid-settlement-id"},
		{name: "unknown_field", body: with("currency", "USD"), slug: "request/invalid-body"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := a.do(t, call{method: http.MethodPost, path: "/v1/spends", token: token, body: tc.body, headers: map[string]string{"Idempotency-Key": uuid.NewString()}})
			requireProblem(t, w, http.StatusBadRequest, tc.slug)
		})
	}
	assert.Empty(t, a.store.Settlements())
}

func TestOperatorsEndpoint(t *testing.T) {
	a := setupAPI(t)
	token := generateTestToken(uuid.NewString())

	w := a.do(t, call{method: http.MethodGet, path: "/v1/operators/GIFTCARD", token: token})
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody[struct {
		Operators []pricing.Operator `json:"operators"`
	}](t, w)
	require.Len(t, body.Operators, 3)
	assert.Equal(t, int64(5), body.Operators[0].ID)

	w = a.do(t, call{method: http.MethodGet, path: "/v1/operators/lottery", token: token})
	requireProblem(t, w, http.StatusBadRequest, "spend/unknown-service-type")
}

func TestManualReviewEndpoints(t *testing.T) {
	a := setupAPI(t)
	reason := "provider succeeded; terminal write failed"
	rec := models.SettlementRecord{
		ID:                   uuid.New(),
		UserID:               uuid.New(),
		ServiceType:          domain.ServiceAirtime,
		OperatorID:           341,
		OperatorName:         "MTN Nigeria",
		Recipient:            "+2348012345678",
		AmountMicros:         5_500_000,
		ProviderAmountMicros: 5_000_000,
		CommissionMicros:     500_000,
		Currency:             "USD",
		Status:               string(service.StatusProcessing),
		IdempotencyKey:       "VALUECORE-review",
		NeedsReview:          true,
		ReviewReason:         &reason,
		CreatedAt:            time.Now().Add(-time.Hour),
		UpdatedAt:            time.Now().Add(-time.Hour),
	}
	a.store.PutSettlement(rec)
	adminToken := generateTokenWithRole(uuid.NewString(), middleware.RoleAdmin)

	forbidden := a.do(t, call{method: http.MethodGet, path: "/v1/admin/settlements/review", token: generateTestToken(uuid.NewString())})
	requireProblem(t, forbidden, http.StatusForbidden, "auth/insufficient-permissions")

	list := a.do(t, call{method: http.MethodGet, path: "/v1/admin/settlements/review?limit=10&offset=0", token: adminToken})
	require.Equal(t, http.StatusOK, list.Code)
	page := decodeBody[struct {
		Items      []models.SettlementRecord `json:"items"`
		Count      int                       `json:"count"`
		TotalCount int64                     `json:"total_count"`
	}](t, list)
	require.Equal(t, 1, page.Count)
	assert.Equal(t, int64(1), page.TotalCount)
	assert.Equal(t, rec.ID, page.Items[0].ID)

	badLimit := a.do(t, call{method: http.MethodGet, path: "/v1/admin/settlements/review?limit=0", token: adminToken})
	requireProblem(t, badLimit, http.StatusBadRequest, "request/invalid-limit")

	resolvePath := "/v1/admin/settlements/" + rec.ID.String() + "/resolve"
	invalid := a.do(t, call{method: http.MethodPost, path: resolvePath, token: adminToken, body: map[string]string{
		"decision": "maybe",
		"reason":   "unclear",
	}})
	requireProblem(t, invalid, http.StatusBadRequest, "spend/invalid-decision")

	unknownAtProvider := a.do(t, call{method: http.MethodPost, path: resolvePath, token: adminToken, body: map[string]string{
		"decision":                "confirm_success",
		"reason":                  "operator typo",
		"provider_transaction_id": "9999",
	}})
	requireProblem(t, unknownAtProvider, http.StatusConflict, "spend/provider-mismatch")

	a.gateway.Remember(gateway.Result{
		Success:               true,
		Status:                gateway.StatusSuccessful,
		ProviderTransactionID: "4521",
		CustomIdentifier:      rec.IdempotencyKey,
	})
	resolved := a.do(t, call{method: http.MethodPost, path: resolvePath, token: adminToken, body: map[string]string{
		"decision":                "confirm_success",
		"reason":                  "confirmed with provider report",
		"provider_transaction_id": "4521",
	}})
	require.Equal(t, http.StatusOK, resolved.Code, resolved.Body.String())
	out := decodeBody[models.SettlementRecord](t, resolved)
	assert.Equal(t, string(service.StatusSuccess), out.Status)
	assert.False(t, out.NeedsReview)

	again := a.do(t, call{method: http.MethodPost, path: resolvePath, token: adminToken, body: map[string]string{
		"decision": "confirm_success",
		"reason":   "twice",
	}})
	requireProblem(t, again, http.StatusConflict, "spend/not-in-manual-review")
}

func TestWalletEndpoints(t *testing.T) {
	a := setupAPI(t)
	token := generateTestToken(uuid.NewString())

	w := a.do(t, call{method: http.MethodGet, path: "/v1/wallet/balance", token: token})
	require.Equal(t, http.StatusOK, w.Code)
	bal := decodeBody[service.UnifiedBalance](t, w)
	assert.Equal(t, int64(100_000_000), bal.TotalMicros)
	assert.Equal(t, []domain.Source{domain.SourceFreelance}, bal.Degraded)

	w = a.do(t, call{method: http.MethodGet, path: "/v1/wallet/transactions?limit=1", token: token})
	require.Equal(t, http.StatusOK, w.Code)
	history := decodeBody[service.TransactionHistory](t, w)
	require.Len(t, history.Transactions, 1)
	assert.Equal(t, "m-1", history.Transactions[0].ID)

	w = a.do(t, call{method: http.MethodGet, path: "/v1/wallet/transactions?offset=-1", token: token})
	requireProblem(t, w, http.StatusBadRequest, "request/invalid-offset")

	w = a.do(t, call{method: http.MethodGet, path: "/v1/wallet/sources", token: token})
	require.Equal(t, http.StatusOK, w.Code)
	breakdown := decodeBody[service.SourceBreakdown](t, w)
	require.Len(t, breakdown.Entries, 3)
	assert.Equal(t, "25", breakdown.Entries[0].Percentage.String())
	assert.Equal(t, "75", breakdown.Entries[1].Percentage.String())
}

func TestReferralFlow(t *testing.T) {
	a := setupAPI(t)
	referrer := uuid.New()
	referrerToken := generateTestToken(referrer.String())

	w := a.do(t, call{
		method:  http.MethodPost,
		path:    "/v1/referrals/links",
		token:   referrerToken,
		headers: map[string]string{"Idempotency-Key": uuid.NewString()},
		body:    map[string]any{"custom_code": "SUMMER-26", "max_uses": 5},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	link := decodeBody[models.ReferralLink](t, w)
	assert.Equal(t, "SUMMER-26", link.Code)
	assert.Equal(t, "https://value.test/join?ref=SUMMER-26", link.URL)

	dup := a.do(t, call{
		method:  http.MethodPost,
		path:    "/v1/referrals/links",
		token:   generateTestToken(uuid.NewString()),
		headers: map[string]string{"Idempotency-Key": uuid.NewString()},
		body:    map[string]any{"custom_code": "SUMMER-26"},
	})
	requireProblem(t, dup, http.StatusConflict, "referral/duplicate-code")

	list := a.do(t, call{method: http.MethodGet, path: "/v1/referrals/links", token: referrerToken})
	require.Equal(t, http.StatusOK, list.Code)
	assert.Equal(t, float64(1), decodeBody[map[string]any](t, list)["count"])

	click := a.do(t, call{method: http.MethodPost, path: "/v1/referrals/clicks", body: map[string]string{"code": "SUMMER-26"}, headers: map[string]string{"User-Agent": "test-agent"}})
	require.Equal(t, http.StatusCreated, click.Code, click.Body.String())
	ev := decodeBody[models.ReferralEvent](t, click)
	assert.Equal(t, domain.ReferralEventClick, ev.EventType)

	unknown := a.do(t, call{method: http.MethodPost, path: "/v1/referrals/clicks", body: map[string]string{"code": "NOPE-0000"}})
	requireProblem(t, unknown, http.StatusNotFound, "referral/link-not-found")

	newUser := uuid.New()
	signupBody := map[string]string{"code": "SUMMER-26", "referrer_id": referrer.String()}
	signup := a.do(t, call{method: http.MethodPost, path: "/v1/referrals/signups", token: generateTestToken(newUser.String()), body: signupBody})
	require.Equal(t, http.StatusCreated, signup.Code, signup.Body.String())
	signupEv := decodeBody[models.ReferralEvent](t, signup)
	require.NotNil(t, signupEv.RefereeID)
	assert.Equal(t, newUser, *signupEv.RefereeID)
	assert.Equal(t, int64(35_000_000), signupEv.RewardMicros)

	again := a.do(t, call{method: http.MethodPost, path: "/v1/referrals/signups", token: generateTestToken(newUser.String()), body: signupBody})
	requireProblem(t, again, http.StatusConflict, "referral/already-attributed")

	self := a.do(t, call{method: http.MethodPost, path: "/v1/referrals/signups", token: referrerToken, body: signupBody})
	requireProblem(t, self, http.StatusBadRequest, "referral/self-referral")

	onBehalf := a.do(t, call{method: http.MethodPost, path: "/v1/referrals/signups", token: generateTestToken(uuid.NewString()), body: map[string]string{
		"code":        "SUMMER-26",
		"referrer_id": referrer.String(),
		"new_user_id": uuid.NewString(),
	}})
	requireProblem(t, onBehalf, http.StatusForbidden, "auth/insufficient-permissions")

	stats := a.do(t, call{method: http.MethodGet, path: "/v1/referrals/stats", token: referrerToken})
	require.Equal(t, http.StatusOK, stats.Code)
	got := decodeBody[service.ReferralStats](t, stats)
	assert.Equal(t, int64(1), got.TotalClicks)
	assert.Equal(t, int64(1), got.TotalSignups)
	assert.Equal(t, "100", got.ConversionRate.String())

	deactivatePath := "/v1/admin/referrals/links/" + link.ID.String() + "/deactivate"
	forbidden := a.do(t, call{method: http.MethodPost, path: deactivatePath, token: referrerToken})
	requireProblem(t, forbidden, http.StatusForbidden, "auth/insufficient-permissions")

	deactivated := a.do(t, call{method: http.MethodPost, path: deactivatePath, token: generateTokenWithRole(uuid.NewString(), middleware.RoleAdmin)})
	require.Equal(t, http.StatusOK, deactivated.Code, deactivated.Body.String())
	assert.False(t, decodeBody[models.ReferralLink](t, deactivated).IsActive)

	afterDeactivate := a.do(t, call{method: http.MethodPost, path: "/v1/referrals/clicks", body: map[string]string{"code": "SUMMER-26"}})
	requireProblem(t, afterDeactivate, http.StatusNotFound, "referral/link-not-found")
}

func computeHMAC(payload []byte, key string) string {
	h := hmac.New(sha256.New, []byte(key))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

func TestProviderWebhook(t *testing.T) {
	a := setupAPI(t)
	rec := models.SettlementRecord{
		ID:             uuid.New(),
		UserID:         uuid.New(),
		ServiceType:    domain.ServiceAirtime,
		OperatorID:     341,
		Recipient:      "+2348012345678",
		AmountMicros:   5_500_000,
		Currency:       "USD",
		Status:         string(service.StatusProcessing),
		IdempotencyKey: "VALUECORE-webhook",
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	a.store.PutSettlement(rec)

	payload := []byte(`{"custom_identifier":"VALUECORE-webhook","transaction_id":"991","status":"SUCCESSFUL"}`)

	cases := []struct {
		name      string
		payload   []byte
		signature string
		status    int
	}{
		{name: "missing_signature", payload: payload, status: http.StatusUnauthorized},
		{name: "bad_signature", payload: payload, signature: "sha256=bad", status: http.StatusUnauthorized},
		{name: "first_delivery", payload: payload, signature: computeHMAC(payload, testWebhookKey), status: http.StatusOK},
		{name: "idempotent_redelivery", payload: payload, signature: computeHMAC(payload, testWebhookKey), status: http.StatusOK},
		{
			name:      "unknown_settlement",
			payload:   []byte(`{"custom_identifier":"VALUECORE-unknown","status":"SUCCESSFUL"}`),
			signature: computeHMAC([]byte(`{"custom_identifier":"VALUECORE-unknown","status":"SUCCESSFUL"}`), testWebhookKey),
			status:    http.StatusNotFound,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			headers := map[string]string{}
			if tc.signature != "" {
				headers["X-Webhook-Signature"] = tc.signature
			}
			w := a.do(t, call{method: http.MethodPost, path: "/v1/webhooks/provider", body: tc.payload, headers: headers})
			assert.Equal(t, tc.status, w.Code, w.Body.String())
		})
	}

	stored, ok := a.store.Settlement(rec.ID)
	require.True(t, ok)
	assert.Equal(t, string(service.StatusSuccess), stored.Status)
	require.NotNil(t, stored.ProviderTransactionID)
	assert.Equal(t, "991", *stored.ProviderTransactionID)
}

func TestAdminProviderEndpoints(t *testing.T) {
	a := setupAPI(t)
	adminToken := generateTokenWithRole(uuid.NewString(), middleware.RoleAdmin)

	cases := []struct {
		name   string
		path   string
		status int
	}{
		{name: "balance", path: "/v1/admin/provider/balance", status: http.StatusOK},
		{name: "operators", path: "/v1/admin/provider/operators?country=ng", status: http.StatusOK},
		{name: "operators_bad_country", path: "/v1/admin/provider/operators?country=nigeria", status: http.StatusBadRequest},
		{name: "operator", path: "/v1/admin/provider/operators/341", status: http.StatusOK},
		{name: "operator_bad_id", path: "/v1/admin/provider/operators/x", status: http.StatusBadRequest},
		{name: "giftcards", path: "/v1/admin/provider/giftcards", status: http.StatusOK},
		{name: "transaction_unknown", path: "/v1/admin/provider/transactions/12345", status: http.StatusNotFound},
		{name: "transaction_bad_id", path: "/v1/admin/provider/transactions/abc", status: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := a.do(t, call{method: http.MethodGet, path: tc.path, token: adminToken})
			assert.Equal(t, tc.status, w.Code, w.Body.String())
		})
	}
}

func TestAdminProviderTransactionMatchesSpend(t *testing.T) {
	a := setupAPI(t)
	owner := uuid.NewString()

	w := a.do(t, call{
		method:  http.MethodPost,
		path:    "/v1/spends",
		token:   generateTestToken(owner),
		headers: map[string]string{"Idempotency-Key": uuid.NewString()},
		body: map[string]any{
			"service_type": "airtime",
			"operator_id":  341,
			"amount":       "5.00",
			"recipient":    "+2348012345678",
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	spend := decodeBody[service.SpendResult](t, w)
	require.NotNil(t, spend.Settlement.ProviderTransactionID)

	path := "/v1/admin/provider/transactions/" + *spend.Settlement.ProviderTransactionID
	forbidden := a.do(t, call{method: http.MethodGet, path: path, token: generateTestToken(owner)})
	requireProblem(t, forbidden, http.StatusForbidden, "auth/insufficient-permissions")

	got := a.do(t, call{method: http.MethodGet, path: path, token: generateTokenWithRole(uuid.NewString(), middleware.RoleAdmin)})
	require.Equal(t, http.StatusOK, got.Code, got.Body.String())
	res := decodeBody[gateway.Result](t, got)
	assert.True(t, res.Success)
	assert.Equal(t, *spend.Settlement.ProviderTransactionID, res.ProviderTransactionID)
	assert.Equal(t, spend.Settlement.IdempotencyKey, res.CustomIdentifier)
}

func TestAdminCommissionEndpoints(t *testing.T) {
	a := setupAPI(t)
	adminToken := generateTokenWithRole(uuid.NewString(), middleware.RoleAdmin)
	created := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	for i, st := range []struct {
		serviceType domain.ServiceType
		status      service.SettlementStatus
		micros      int64
	}{
		{domain.ServiceAirtime, service.StatusSuccess, 500_000},
		{domain.ServiceData, service.StatusSuccess, 250_000},
		{domain.ServiceData, service.StatusFailed, 900_000},
	} {
		id := uuid.New()
		a.store.PutSettlement(models.SettlementRecord{
			ID:               id,
			UserID:           uuid.New(),
			ServiceType:      st.serviceType,
			OperatorID:       341,
			Recipient:        "+2348012345678",
			CommissionMicros: st.micros,
			CommissionType:   domain.CommissionPercentage,
			Currency:         "USD",
			Status:           string(st.status),
			IdempotencyKey:   "VALUECORE-" + id.String(),
			CreatedAt:        created.Add(time.Duration(i) * time.Minute),
			UpdatedAt:        created,
		})
	}

	forbidden := a.do(t, call{method: http.MethodGet, path: "/v1/admin/commission/stats", token: generateTestToken(uuid.NewString())})
	requireProblem(t, forbidden, http.StatusForbidden, "auth/insufficient-permissions")

	w := a.do(t, call{method: http.MethodGet, path: "/v1/admin/commission/stats?from=2026-06-01T00:00:00Z&to=2026-06-02T00:00:00Z", token: adminToken})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	stats := decodeBody[service.CommissionStats](t, w)
	assert.Equal(t, int64(2), stats.TotalTransactions)
	assert.Equal(t, int64(750_000), stats.TotalCommissionMicros)
	assert.Equal(t, "0.75", stats.TotalCommission)
	assert.Equal(t, int64(250_000), stats.ByServiceType["data"].CommissionMicros)

	outside := a.do(t, call{method: http.MethodGet, path: "/v1/admin/commission/stats?from=2026-07-01T00:00:00Z", token: adminToken})
	require.Equal(t, http.StatusOK, outside.Code)
	assert.Zero(t, decodeBody[service.CommissionStats](t, outside).TotalTransactions)

	badTime := a.do(t, call{method: http.MethodGet, path: "/v1/admin/commission/stats?from=yesterday", token: adminToken})
	requireProblem(t, badTime, http.StatusBadRequest, "request/invalid-window")

	reversed := a.do(t, call{method: http.MethodGet, path: "/v1/admin/commission/stats?from=2026-06-02T00:00:00Z&to=2026-06-01T00:00:00Z", token: adminToken})
	requireProblem(t, reversed, http.StatusBadRequest, "request/invalid-window")

	list := a.do(t, call{method: http.MethodGet, path: "/v1/admin/commission/transactions?service_type=data", token: adminToken})
	require.Equal(t, http.StatusOK, list.Code, list.Body.String())
	page := decodeBody[struct {
		Items []models.SettlementRecord `json:"items"`
		Count int                       `json:"count"`
	}](t, list)
	require.Equal(t, 1, page.Count)
	assert.Equal(t, int64(250_000), page.Items[0].CommissionMicros)

	unknown := a.do(t, call{method: http.MethodGet, path: "/v1/admin/commission/transactions?service_type=lottery", token: adminToken})
	requireProblem(t, unknown, http.StatusBadRequest, "spend/unknown-service-type")
}

func TestDevTokenEndpoint(t *testing.T) {
	disabled := setupAPI(t)
	w := disabled.do(t, call{method: http.MethodPost, path: "/v1/auth/token", body: map[string]string{"user_id": uuid.NewString()}})
	requireProblem(t, w, http.StatusNotFound, "route/not-found")

	a := setupAPI(t, func(cfg *config.Config) { cfg.DevTokens = true })
	w = a.do(t, call{method: http.MethodPost, path: "/v1/auth/token", body: map[string]string{"user_id": uuid.NewString(), "role": "admin"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	token, _ := decodeBody[map[string]any](t, w)["token"].(string)
	require.NotEmpty(t, token)

	review := a.do(t, call{method: http.MethodGet, path: "/v1/admin/settlements/review", token: token})
	assert.Equal(t, http.StatusOK, review.Code)

	bad := a.do(t, call{method: http.MethodPost, path: "/v1/auth/token", body: map[string]string{"user_id": uuid.NewString(), "role": "root"}})
	requireProblem(t, bad, http.StatusBadRequest, "request/invalid-role")
}

func TestHealthAndMetrics(t *testing.T) {
	a := setupAPI(t)

	cases := []struct {
		name string
		path string
	}{
		{name: "live", path: "/health/live"},
		{name: "ready", path: "/health/ready"},
		{name: "metrics", path: "/metrics"},
		{name: "openapi", path: "/openapi.yaml"},
		{name: "swagger", path: "/swagger/index.html"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := a.do(t, call{method: http.MethodGet, path: tc.path})
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}

	w := a.do(t, call{method: http.MethodGet, path: "/openapi.yaml"})
	assert.True(t, strings.HasPrefix(w.Body.String(), "openapi: 3.0.3"))
}
