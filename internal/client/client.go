// Package client is a signed HTTP client for a remote settlement engine. It
// lets a standalone keeper drive upkeep and resolution over the REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/conviction/internal/claim"
	"github.com/alanyoungcy/conviction/internal/crypto"
	"github.com/alanyoungcy/conviction/internal/domain"
)

// Client is the REST client for the engine API. Every request is signed
// with the configured key so the server can recover the caller.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	clock      func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithClock overrides the time source used for request timestamps.
func WithClock(clock func() time.Time) Option {
	return func(c *Client) { c.clock = clock }
}

// New creates a client for the engine API rooted at baseURL, e.g.
// "http://engine:8080".
func New(baseURL string, signer *crypto.Signer, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer: signer,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Address returns the caller identity requests are signed as.
func (c *Client) Address() string { return c.signer.Address().Hex() }

// APIError is a non-2xx response. It unwraps to the domain sentinel named by
// the response code when one is known.
type APIError struct {
	Status      int
	Code        string
	Kind        string
	Message     string
	ClaimFailed bool
	sentinel    error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("engine api: HTTP %d %s: %s", e.Status, e.Code, e.Message)
}

// Unwrap returns the matching domain sentinel, if any.
func (e *APIError) Unwrap() error { return e.sentinel }

// CheckExpired returns the ids of markets expired and unresolved.
func (c *Client) CheckExpired(ctx context.Context) ([]uint64, error) {
	var out struct {
		MarketIDs []uint64 `json:"market_ids"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/markets/expired", nil, &out); err != nil {
		return nil, fmt.Errorf("client: check expired: %w", err)
	}
	return out.MarketIDs, nil
}

// PerformUpkeep asks the engine to emit expiration markers for ids.
func (c *Client) PerformUpkeep(ctx context.Context, ids []uint64) ([]uint64, error) {
	var out struct {
		MarketIDs []uint64 `json:"market_ids"`
	}
	body := map[string][]uint64{"market_ids": ids}
	if err := c.do(ctx, http.MethodPost, "/api/upkeep", body, &out); err != nil {
		return nil, fmt.Errorf("client: perform upkeep: %w", err)
	}
	return out.MarketIDs, nil
}

// ResolveMarket resolves marketID from its registered price feed.
func (c *Client) ResolveMarket(ctx context.Context, marketID uint64) (domain.Resolution, error) {
	var res domain.Resolution
	path := "/api/markets/" + strconv.FormatUint(marketID, 10) + "/resolve"
	if err := c.do(ctx, http.MethodPost, path, nil, &res); err != nil {
		return domain.Resolution{}, fmt.Errorf("client: resolve market %d: %w", marketID, err)
	}
	return res, nil
}

// Market returns a single market.
func (c *Client) Market(ctx context.Context, marketID uint64) (domain.Market, error) {
	var m domain.Market
	if err := c.do(ctx, http.MethodGet, "/api/markets/"+strconv.FormatUint(marketID, 10), nil, &m); err != nil {
		return domain.Market{}, fmt.Errorf("client: market %d: %w", marketID, err)
	}
	return m, nil
}

// ClaimReward claims tokenID for its holder. Failures reported as claim
// failures by the server are returned as *claim.ClaimError.
func (c *Client) ClaimReward(ctx context.Context, tokenID uint64) (domain.ClaimReceipt, error) {
	var receipt domain.ClaimReceipt
	path := "/api/positions/" + strconv.FormatUint(tokenID, 10) + "/claim"
	if err := c.do(ctx, http.MethodPost, path, nil, &receipt); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.ClaimFailed {
			return domain.ClaimReceipt{}, &claim.ClaimError{TokenID: tokenID, Cause: apiErr}
		}
		return domain.ClaimReceipt{}, fmt.Errorf("client: claim %d: %w", tokenID, err)
	}
	return receipt, nil
}

// Health checks that the engine API is reachable.
func (c *Client) Health(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, nil); err != nil {
		return fmt.Errorf("client: health: %w", err)
	}
	return nil
}

// do builds, signs, sends, and decodes one request. out may be nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	headers, err := c.signer.SignRequest(method, path, raw, c.clock())
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, respBody)
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeError maps an error response to an *APIError carrying the domain
// sentinel for its code, falling back to the HTTP status.
func decodeError(status int, body []byte) error {
	var payload struct {
		Error       string `json:"error"`
		Kind        string `json:"kind"`
		Code        string `json:"code"`
		ClaimFailed bool   `json:"claim_failed"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error == "" {
		payload.Error = strings.TrimSpace(string(body))
	}

	apiErr := &APIError{
		Status:      status,
		Code:        payload.Code,
		Kind:        payload.Kind,
		Message:     payload.Error,
		ClaimFailed: payload.ClaimFailed,
		sentinel:    domain.ErrorForCode(payload.Code),
	}
	if apiErr.sentinel == nil {
		switch status {
		case http.StatusNotFound:
			apiErr.sentinel = domain.ErrNotFound
		case http.StatusUnauthorized, http.StatusForbidden:
			apiErr.sentinel = domain.ErrUnauthorized
		case http.StatusTooManyRequests:
			apiErr.sentinel = domain.ErrRateLimited
		}
	}
	return apiErr
}
