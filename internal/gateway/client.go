package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ayo6706/value-core/internal/observability"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	acceptTopUps    = "application/com.reloadly.topups-v1+json"
	acceptGiftCards = "application/com.reloadly.giftcards-v1+json"

	tokenRefreshSkew = 60 * time.Second
	maxResponseBytes = 1 << 20
)

// Config holds provider credentials and endpoints.
type Config struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TopUpsURL    string
	GiftCardsURL string
	// Timeout bounds every HTTP round trip, including token fetches.
	Timeout time.Duration
}

// Client is the live provider gateway. Tokens are obtained with the OAuth2 client-credentials
// grant, one per sub-API audience.
type Client struct {
	cfg    Config
	http   *http.Client
	tokens TokenCache
	authMu sync.Mutex
}

var (
	_ Gateway = (*Client)(nil)
	_ Catalog = (*Client)(nil)
)

// NewClient builds a live client. A nil cache falls back to an in-memory cache.
func NewClient(cfg Config, tokens TokenCache, httpClient *http.Client) *Client {
	if tokens == nil {
		tokens = NewMemoryTokenCache()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	cfg.TopUpsURL = strings.TrimRight(cfg.TopUpsURL, "/")
	cfg.GiftCardsURL = strings.TrimRight(cfg.GiftCardsURL, "/")
	return &Client{cfg: cfg, http: httpClient, tokens: tokens}
}

type tokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	GrantType    string `json:"grant_type"`
	Audience     string `json:"audience"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (c *Client) token(ctx context.Context, audience string, refresh bool) (string, error) {
	if !refresh {
		if tok, ok := c.cachedToken(ctx, audience); ok {
			return tok, nil
		}
	}

	c.authMu.Lock()
	defer c.authMu.Unlock()

	if !refresh {
		if tok, ok := c.cachedToken(ctx, audience); ok {
			return tok, nil
		}
	}

	payload, err := json.Marshal(tokenRequest{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		GrantType:    "client_credentials",
		Audience:     audience,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AuthURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &ProviderError{Op: OpAuth, Err: err}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &ProviderError{Op: OpAuth, StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return "", &ProviderError{Op: OpAuth, StatusCode: resp.StatusCode, Body: string(raw), Err: fmt.Errorf("decode token: %w", err)}
	}
	if tr.AccessToken == "" {
		return "", &ProviderError{Op: OpAuth, StatusCode: resp.StatusCode, Body: string(raw), Err: errors.New("empty access token")}
	}

	if ttl := time.Duration(tr.ExpiresIn)*time.Second - tokenRefreshSkew; ttl > 0 {
		if err := c.tokens.Set(ctx, audience, tr.AccessToken, ttl); err != nil {
			zap.L().Warn("provider token cache write failed", zap.String("audience", audience), zap.Error(err))
		}
	}
	return tr.AccessToken, nil
}

func (c *Client) cachedToken(ctx context.Context, audience string) (string, bool) {
	tok, ok, err := c.tokens.Get(ctx, audience)
	if err != nil {
		zap.L().Warn("provider token cache read failed", zap.String("audience", audience), zap.Error(err))
		return "", false
	}
	return tok, ok
}

// do sends one request. A 401 invalidates the cached token and re-sends once with a fresh
// token; that is an auth refresh, not an operation retry.
func (c *Client) do(ctx context.Context, op Operation, method, base, path, accept string, body, out any) error {
	start := time.Now()
	err := c.send(ctx, op, method, base, path, accept, body, out)
	outcome := "success"
	if err != nil {
		outcome = "error"
		var pe *ProviderError
		if errors.As(err, &pe) && pe.Timeout() {
			outcome = "timeout"
		}
	}
	observability.ObserveProviderCall(string(op), outcome, time.Since(start))
	return err
}

func (c *Client) send(ctx context.Context, op Operation, method, base, path, accept string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return &ProviderError{Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
	}

	for attempt := 0; ; attempt++ {
		tok, err := c.token(ctx, base, attempt > 0)
		if err != nil {
			var pe *ProviderError
			if errors.As(err, &pe) {
				return err
			}
			return &ProviderError{Op: op, Err: err}
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, base+path, reader)
		if err != nil {
			return &ProviderError{Op: op, Err: err}
		}
		req.Header.Set("Authorization", "Bearer "+tok)
		req.Header.Set("Accept", accept)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = fmt.Errorf("%w: %v", ctxErr, err)
			}
			return &ProviderError{Op: op, Err: err}
		}
		raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			if err := c.tokens.Delete(ctx, base); err != nil {
				zap.L().Warn("provider token cache delete failed", zap.String("audience", base), zap.Error(err))
			}
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &ProviderError{Op: op, StatusCode: resp.StatusCode, Body: string(raw)}
		}
		if readErr != nil {
			return &ProviderError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", readErr)}
		}
		if out != nil && len(raw) > 0 {
			if err := json.Unmarshal(raw, out); err != nil {
				return &ProviderError{Op: op, StatusCode: resp.StatusCode, Body: string(raw), Err: fmt.Errorf("decode response: %w", err)}
			}
		}
		return nil
	}
}

// flexString accepts identifiers the provider encodes as either numbers or strings.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

type topUpRequest struct {
	OperatorID       int64       `json:"operatorId"`
	Amount           json.Number `json:"amount"`
	RecipientPhone   string      `json:"recipientPhone"`
	CustomIdentifier string      `json:"customIdentifier"`
}

type giftCardRequest struct {
	ProductID        int64       `json:"productId"`
	Amount           json.Number `json:"amount"`
	Email            string      `json:"email"`
	CustomIdentifier string      `json:"customIdentifier"`
}

type transactionResponse struct {
	TransactionID    flexString      `json:"transactionId"`
	Status           string          `json:"status"`
	ReferenceID      flexString      `json:"referenceId"`
	CustomIdentifier string          `json:"customIdentifier"`
	OperatorName     string          `json:"operatorName"`
	ProductName      string          `json:"productName"`
	Amount           decimal.Decimal `json:"amount"`
	RequestedAmount  decimal.Decimal `json:"requestedAmount"`
	Fee              decimal.Decimal `json:"fee"`
	ErrorMessage     string          `json:"errorMessage"`
}

func (t transactionResponse) result() Result {
	status := strings.ToUpper(t.Status)
	name := t.OperatorName
	if name == "" {
		name = t.ProductName
	}
	amount := t.Amount
	if amount.IsZero() {
		amount = t.RequestedAmount
	}
	r := Result{
		ProviderTransactionID: string(t.TransactionID),
		ProviderReferenceID:   string(t.ReferenceID),
		CustomIdentifier:      t.CustomIdentifier,
		Status:                status,
		OperatorName:          name,
		Amount:                amount,
		Fee:                   t.Fee,
		Error:                 t.ErrorMessage,
	}
	r.Success = status == StatusSuccessful
	return r
}

// submissionResult treats any 2xx fulfillment response as success unless the provider
// explicitly reports a failed or refunded status.
func submissionResult(t transactionResponse) Result {
	r := t.result()
	if r.Status == "" {
		r.Status = StatusSuccessful
	}
	r.Success = !r.Failed()
	return r
}

func amountNumber(amount decimal.Decimal) json.Number {
	return json.Number(amount.StringFixed(2))
}

func (c *Client) submitTopUp(ctx context.Context, op Operation, operatorID int64, amount decimal.Decimal, recipient, key string) (Result, error) {
	var resp transactionResponse
	err := c.do(ctx, op, http.MethodPost, c.cfg.TopUpsURL, "/topups", acceptTopUps, topUpRequest{
		OperatorID:       operatorID,
		Amount:           amountNumber(amount),
		RecipientPhone:   strings.TrimPrefix(recipient, "+"),
		CustomIdentifier: key,
	}, &resp)
	if err != nil {
		return Result{Status: StatusFailed, Error: err.Error()}, err
	}
	return submissionResult(resp), nil
}

func (c *Client) SubmitTopUp(ctx context.Context, operatorID int64, amount decimal.Decimal, recipient, key string) (Result, error) {
	return c.submitTopUp(ctx, OpTopUp, operatorID, amount, recipient, key)
}

// SubmitDataBundle uses the top-up endpoint; data operators are distinguished by operator id.
func (c *Client) SubmitDataBundle(ctx context.Context, operatorID int64, amount decimal.Decimal, recipient, key string) (Result, error) {
	return c.submitTopUp(ctx, OpDataBundle, operatorID, amount, recipient, key)
}

// PayBill uses the top-up endpoint with the biller's operator id and the account number as recipient.
func (c *Client) PayBill(ctx context.Context, operatorID int64, amount decimal.Decimal, recipient, key string) (Result, error) {
	return c.submitTopUp(ctx, OpBillPayment, operatorID, amount, recipient, key)
}

func (c *Client) PurchaseGiftCard(ctx context.Context, productID int64, amount decimal.Decimal, recipient, key string) (Result, error) {
	var resp transactionResponse
	err := c.do(ctx, OpGiftCard, http.MethodPost, c.cfg.GiftCardsURL, "/gift-cards", acceptGiftCards, giftCardRequest{
		ProductID:        productID,
		Amount:           amountNumber(amount),
		Email:            recipient,
		CustomIdentifier: key,
	}, &resp)
	if err != nil {
		return Result{Status: StatusFailed, Error: err.Error()}, err
	}
	return submissionResult(resp), nil
}

type transactionPage struct {
	Content []transactionResponse `json:"content"`
}

// LookupByCustomIdentifier searches top-up reports first and gift-card reports second.
// It returns ErrTransactionNotFound when neither knows the identifier.
func (c *Client) LookupByCustomIdentifier(ctx context.Context, key string) (Result, error) {
	query := "?customIdentifier=" + url.QueryEscape(key)
	sources := []struct {
		base, path, accept string
	}{
		{c.cfg.TopUpsURL, "/topups/reports/transactions" + query, acceptTopUps},
		{c.cfg.GiftCardsURL, "/reports/transactions" + query, acceptGiftCards},
	}

	for _, src := range sources {
		if src.base == "" {
			continue
		}
		var page transactionPage
		err := c.do(ctx, OpLookup, http.MethodGet, src.base, src.path, src.accept, nil, &page)
		if err != nil {
			var pe *ProviderError
			if errors.As(err, &pe) && pe.StatusCode == http.StatusNotFound {
				continue
			}
			return Result{}, err
		}
		for _, tx := range page.Content {
			if tx.CustomIdentifier == key {
				r := tx.result()
				r.CustomIdentifier = key
				return r, nil
			}
		}
	}
	return Result{}, &ProviderError{Op: OpLookup, StatusCode: http.StatusNotFound, Err: ErrTransactionNotFound}
}

func (c *Client) GetTransaction(ctx context.Context, providerTransactionID string) (Result, error) {
	var resp transactionResponse
	path := "/topups/transactions/" + url.PathEscape(providerTransactionID)
	if err := c.do(ctx, OpGetTransaction, http.MethodGet, c.cfg.TopUpsURL, path, acceptTopUps, nil, &resp); err != nil {
		var pe *ProviderError
		if errors.As(err, &pe) && pe.StatusCode == http.StatusNotFound {
			pe.Err = ErrTransactionNotFound
		}
		return Result{}, err
	}
	return resp.result(), nil
}

// Operator is a provider catalog entry for airtime, data or utility fulfillment.
type Operator struct {
	ID                      int64             `json:"operatorId"`
	Name                    string            `json:"name"`
	Country                 OperatorCountry   `json:"country"`
	DenominationType        string            `json:"denominationType"`
	SenderCurrencyCode      string            `json:"senderCurrencyCode"`
	DestinationCurrencyCode string            `json:"destinationCurrencyCode"`
	MinAmount               *decimal.Decimal  `json:"minAmount,omitempty"`
	MaxAmount               *decimal.Decimal  `json:"maxAmount,omitempty"`
	FixedAmounts            []decimal.Decimal `json:"fixedAmounts,omitempty"`
	Commission              decimal.Decimal   `json:"commission"`
}

type OperatorCountry struct {
	ISOName string `json:"isoName"`
	Name    string `json:"name"`
}

// GiftCardProduct is a provider gift-card catalog entry.
type GiftCardProduct struct {
	ProductID                int64            `json:"productId"`
	ProductName              string           `json:"productName"`
	RecipientCurrencyCode    string           `json:"recipientCurrencyCode"`
	MinRecipientDenomination *decimal.Decimal `json:"minRecipientDenomination,omitempty"`
	MaxRecipientDenomination *decimal.Decimal `json:"maxRecipientDenomination,omitempty"`
}

// AccountBalance is the provider-side prepaid float.
type AccountBalance struct {
	Balance      decimal.Decimal `json:"balance"`
	CurrencyCode string          `json:"currencyCode"`
	CurrencyName string          `json:"currencyName"`
}

func (c *Client) GetOperator(ctx context.Context, operatorID int64) (Operator, error) {
	var op Operator
	path := "/operators/" + strconv.FormatInt(operatorID, 10)
	err := c.do(ctx, OpCatalog, http.MethodGet, c.cfg.TopUpsURL, path, acceptTopUps, nil, &op)
	return op, err
}

func (c *Client) ListOperatorsByCountry(ctx context.Context, countryCode string) ([]Operator, error) {
	var ops []Operator
	path := "/operators/countries/" + url.PathEscape(strings.ToUpper(countryCode))
	err := c.do(ctx, OpCatalog, http.MethodGet, c.cfg.TopUpsURL, path, acceptTopUps, nil, &ops)
	return ops, err
}

func (c *Client) ListGiftCardProducts(ctx context.Context) ([]GiftCardProduct, error) {
	var products []GiftCardProduct
	err := c.do(ctx, OpCatalog, http.MethodGet, c.cfg.GiftCardsURL, "/products", acceptGiftCards, nil, &products)
	return products, err
}

func (c *Client) AccountBalance(ctx context.Context) (AccountBalance, error) {
	var bal AccountBalance
	err := c.do(ctx, OpBalance, http.MethodGet, c.cfg.TopUpsURL, "/accounts/balance", acceptTopUps, nil, &bal)
	return bal, err
}
