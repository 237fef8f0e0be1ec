// Package billing forwards credit and balance requests to the gateway backend.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/router-for-me/gatewayconsole/internal/errs"
	log "github.com/sirupsen/logrus"
)

const maxResponseBytes = 4 << 20

// Billing modes the backend accepts.
var validModes = map[string]struct{}{"token": {}, "count": {}, "hybrid": {}}

// UpstreamError is a non-2xx answer from the backend. Its status and body are
// relayed to the caller unchanged.
type UpstreamError struct {
	StatusCode int
	Status     string // Status line, e.g. "403 Forbidden".
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("Backend API error: %d %s", e.StatusCode, e.Body)
}

// HTTPStatus returns the backend's status code.
func (e *UpstreamError) HTTPStatus() int { return e.StatusCode }

// Unwrap lets errors.Is match errs.ErrUpstream.
func (e *UpstreamError) Unwrap() error { return errs.ErrUpstream }

// Client talks to the backend at baseURL.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient constructs a Client. No client-wide timeout is set; callers bound
// requests through their contexts.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"), http: httpClient}
}

// BaseURL returns the backend root.
func (c *Client) BaseURL() string { return c.baseURL }

// AddCredits adds amount to the token credits of paidKey.
func (c *Client) AddCredits(ctx context.Context, bearer, paidKey string, amount float64) (any, error) {
	if errValidate := validateTopUp(paidKey, amount); errValidate != nil {
		return nil, errValidate
	}
	return c.do(ctx, http.MethodPost, "/v1/add_credits", bearer, url.Values{
		"paid_key": {paidKey},
		"amount":   {formatAmount(amount)},
	})
}

// AddCountCredits adds amount to the per-request credits of paidKey.
func (c *Client) AddCountCredits(ctx context.Context, bearer, paidKey string, amount float64) (any, error) {
	if errValidate := validateTopUp(paidKey, amount); errValidate != nil {
		return nil, errValidate
	}
	return c.do(ctx, http.MethodPost, "/v1/add_count_credits", bearer, url.Values{
		"paid_key": {paidKey},
		"amount":   {formatAmount(amount)},
	})
}

// SetBillingMode switches paidKey between token, count and hybrid billing.
func (c *Client) SetBillingMode(ctx context.Context, bearer, paidKey, mode string) (any, error) {
	paidKey = strings.TrimSpace(paidKey)
	mode = strings.TrimSpace(mode)
	var problems []string
	if paidKey == "" {
		problems = append(problems, "paid_key is required")
	}
	if _, ok := validModes[mode]; !ok {
		problems = append(problems, "billing_mode must be one of token, count, hybrid")
	}
	if len(problems) > 0 {
		return nil, errs.NewValidation(problems...)
	}
	return c.do(ctx, http.MethodPost, "/v1/set_billing_mode", bearer, url.Values{
		"paid_key":     {paidKey},
		"billing_mode": {mode},
	})
}

// States returns the backend's per-key balance states.
func (c *Client) States(ctx context.Context, bearer string) (any, error) {
	return c.do(ctx, http.MethodGet, "/v1/api_keys_states", bearer, nil)
}

// QueryDetails is the billing snapshot of one key. Fields the backend omits stay nil.
type QueryDetails struct {
	BillingMode   *string  `json:"billing_mode"`
	Credits       *float64 `json:"credits"`
	CountCredits  *float64 `json:"count_credits"`
	TotalCost     *float64 `json:"total_cost"`
	TotalRequests *int64   `json:"total_requests"`
	Balance       *float64 `json:"balance"`
	CountBalance  *float64 `json:"count_balance"`
}

// TokenUsage fetches the billing snapshot of apiKey, authenticating as apiKey.
func (c *Client) TokenUsage(ctx context.Context, apiKey string) (QueryDetails, error) {
	raw, errDo := c.doRaw(ctx, http.MethodGet, "/v1/token_usage", apiKey, url.Values{"api_key_param": {apiKey}})
	if errDo != nil {
		return QueryDetails{}, errDo
	}
	var payload struct {
		QueryDetails QueryDetails `json:"query_details"`
	}
	if errUnmarshal := json.Unmarshal(raw, &payload); errUnmarshal != nil {
		return QueryDetails{}, fmt.Errorf("%w: decode token usage: %v", errs.ErrUpstream, errUnmarshal)
	}
	return payload.QueryDetails, nil
}

func (c *Client) do(ctx context.Context, method, path, bearer string, query url.Values) (any, error) {
	raw, errDo := c.doRaw(ctx, method, path, bearer, query)
	if errDo != nil {
		return nil, errDo
	}
	var decoded any
	if len(strings.TrimSpace(string(raw))) == 0 {
		return map[string]any{}, nil
	}
	if errUnmarshal := json.Unmarshal(raw, &decoded); errUnmarshal != nil {
		return nil, fmt.Errorf("%w: decode %s response: %v", errs.ErrUpstream, path, errUnmarshal)
	}
	return decoded, nil
}

func (c *Client) doRaw(ctx context.Context, method, path, bearer string, query url.Values) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, errReq := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if errReq != nil {
		return nil, fmt.Errorf("%w: build request: %v", errs.ErrUpstream, errReq)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Content-Type", "application/json")

	resp, errDo := c.http.Do(req)
	if errDo != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", errs.ErrUpstream, method, path, errDo)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.WithError(errClose).Warn("billing: close response body failed")
		}
	}()

	body, errRead := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if errRead != nil {
		return nil, fmt.Errorf("%w: read %s response: %v", errs.ErrUpstream, path, errRead)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			Status:     strconv.Itoa(resp.StatusCode) + " " + http.StatusText(resp.StatusCode),
			Body:       string(body),
		}
	}
	return body, nil
}

func validateTopUp(paidKey string, amount float64) error {
	var problems []string
	if strings.TrimSpace(paidKey) == "" {
		problems = append(problems, "paid_key is required")
	}
	if !(amount > 0) {
		problems = append(problems, "amount must be greater than zero")
	}
	if len(problems) > 0 {
		return errs.NewValidation(problems...)
	}
	return nil
}

func formatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}

// IsUpstream reports whether err came from the backend rather than local validation.
func IsUpstream(err error) bool {
	return errors.Is(err, errs.ErrUpstream)
}
