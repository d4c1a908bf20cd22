// Package quoteapi is an HTTP client for the market data provider's REST API.
// It handles session login (password + TOTP second factor), token headers,
// request plumbing, and the quote/candle endpoints the assistant consumes.
//
// Usage example:
//
//	qc := quoteapi.New(quoteapi.Config{RootURL: "https://api.broker.example", APIKey: "key"})
//	if err := qc.GenerateSession(ctx, "CLIENTID", "PASSWORD", totpCode); err != nil { log.Fatal(err) }
//	q, err := qc.Quote(ctx, "ACME")
package quoteapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Config configures the API client.
type Config struct {
	RootURL     string        // base URL of the provider API, no trailing slash
	APIKey      string        // per-application key sent on every request
	AccessToken string        // optional pre-issued session token
	Timeout     time.Duration // default: 7s
}

// Client is a thread-safe-for-reads HTTP client for the provider API.
// GenerateSession must complete before concurrent use.
type Client struct {
	rootURL     string
	apiKey      string
	accessToken string
	feedToken   string
	httpClient  *http.Client
}

var routes = map[string]string{
	"api.login":   "/rest/auth/v1/loginByPassword",
	"api.logout":  "/rest/secure/v1/logout",
	"api.quote":   "/rest/secure/marketdata/v1/quote",
	"api.candles": "/rest/secure/marketdata/v1/getCandleData",
}

// New creates a Client. RootURL and APIKey are required.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 7 * time.Second
	}
	return &Client{
		rootURL:     cfg.RootURL,
		apiKey:      cfg.APIKey,
		accessToken: cfg.AccessToken,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx or status=error response from the provider.
type APIError struct {
	HTTPStatus int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("quoteapi: %s (%s, http %d)", e.Message, e.Code, e.HTTPStatus)
}

// envelope is the provider's common response wrapper.
type envelope struct {
	Status    bool            `json:"status"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorcode"`
	Data      json.RawMessage `json:"data"`
}

func (c *Client) request(ctx context.Context, method, route string, params url.Values, body any, out any) error {
	u := c.rootURL + routes[route]
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("quoteapi: marshal body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("quoteapi: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("quoteapi: %s %s: %w", method, route, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("quoteapi: read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &APIError{HTTPStatus: resp.StatusCode, Code: "BAD_RESPONSE", Message: "malformed provider response"}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.Status {
		return &APIError{HTTPStatus: resp.StatusCode, Code: env.ErrorCode, Message: env.Message}
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("quoteapi: decode %s data: %w", route, err)
		}
	}
	return nil
}

// sessionData is the login response payload.
type sessionData struct {
	AccessToken string `json:"access_token"`
	FeedToken   string `json:"feed_token"`
}

// GenerateSession logs in with client code, password, and a TOTP code, and
// stores the issued access token on the client.
func (c *Client) GenerateSession(ctx context.Context, clientCode, password, totp string) error {
	var data sessionData
	err := c.request(ctx, http.MethodPost, "api.login", nil, map[string]string{
		"clientcode": clientCode,
		"password":   password,
		"totp":       totp,
	}, &data)
	if err != nil {
		return err
	}
	c.accessToken = data.AccessToken
	c.feedToken = data.FeedToken
	return nil
}

// FeedToken returns the streaming feed token issued at login.
func (c *Client) FeedToken() string { return c.feedToken }

// QuoteData is the provider's latest-quote payload for one symbol.
type QuoteData struct {
	Symbol string    `json:"symbol"`
	Name   string    `json:"name"`
	Price  string    `json:"ltp"` // decimal string
	Size   int64     `json:"last_traded_qty"`
	TS     time.Time `json:"exchange_ts"`
}

// Quote fetches the latest quote for a symbol.
func (c *Client) Quote(ctx context.Context, symbol string) (QuoteData, error) {
	params := url.Values{"symbol": {symbol}}
	var data QuoteData
	if err := c.request(ctx, http.MethodGet, "api.quote", params, nil, &data); err != nil {
		return QuoteData{}, err
	}
	return data, nil
}

// CandleData is one historical bar from the provider.
type CandleData struct {
	TS     time.Time `json:"ts"`
	Open   string    `json:"open"`
	High   string    `json:"high"`
	Low    string    `json:"low"`
	Close  string    `json:"close"`
	Volume int64     `json:"volume"`
}

// Candles fetches historical bars for a symbol in [from, to].
func (c *Client) Candles(ctx context.Context, symbol string, from, to time.Time) ([]CandleData, error) {
	params := url.Values{
		"symbol": {symbol},
		"from":   {from.UTC().Format(time.RFC3339)},
		"to":     {to.UTC().Format(time.RFC3339)},
	}
	var data []CandleData
	if err := c.request(ctx, http.MethodGet, "api.candles", params, nil, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// Logout invalidates the current session token.
func (c *Client) Logout(ctx context.Context, clientCode string) error {
	return c.request(ctx, http.MethodPost, "api.logout", nil, map[string]string{
		"clientcode": clientCode,
	}, nil)
}
