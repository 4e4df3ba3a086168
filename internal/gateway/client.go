package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Client is a plain JSON REST adapter for the exchange contract. Signing and
// venue-specific quirks live in whatever sits behind the base URL.
type Client struct {
	host       string
	httpClient *http.Client
}

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange API error (%d): %s", e.Status, e.Body)
}

func NewClient(httpClient *http.Client, host string) *Client {
	host = strings.TrimRight(host, "/")
	return &Client{
		host:       host,
		httpClient: httpClient,
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	fullURL := c.host + path
	if len(query) > 0 {
		fullURL = fullURL + "?" + query.Encode()
	}
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Status: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if req.Ticker == "" {
		return nil, fmt.Errorf("ticker is required")
	}
	raw, err := c.do(ctx, http.MethodPost, "/orders", nil, req)
	if err != nil {
		return nil, err
	}
	var out OrderResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to parse order response: %w", err)
	}
	if out.ExchangeOrderID == "" {
		return nil, fmt.Errorf("exchange returned no order id")
	}
	return &out, nil
}

func (c *Client) CancelOrder(ctx context.Context, exchangeOrderID string) error {
	if exchangeOrderID == "" {
		return fmt.Errorf("exchange order id is required")
	}
	_, err := c.do(ctx, http.MethodDelete, "/orders/"+url.PathEscape(exchangeOrderID), nil, nil)
	return err
}

func (c *Client) GetOrder(ctx context.Context, exchangeOrderID string) (*OrderResult, error) {
	if exchangeOrderID == "" {
		return nil, fmt.Errorf("exchange order id is required")
	}
	raw, err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(exchangeOrderID), nil, nil)
	if err != nil {
		return nil, err
	}
	var out OrderResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to parse order response: %w", err)
	}
	return &out, nil
}

type marketsPage struct {
	Markets []MarketQuote `json:"markets"`
	Cursor  string        `json:"cursor"`
}

func (c *Client) ListOpenMarkets(ctx context.Context, cursor string, limit int) ([]MarketQuote, string, error) {
	query := url.Values{}
	query.Set("status", "open")
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	raw, err := c.do(ctx, http.MethodGet, "/markets", query, nil)
	if err != nil {
		return nil, "", err
	}
	var page marketsPage
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, "", fmt.Errorf("failed to parse markets response: %w", err)
	}
	return page.Markets, page.Cursor, nil
}
