package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is the REST client for the Binance spot market-data API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a REST client.
//
// baseURL is the API root, e.g. "https://api.binance.com".
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Depth fetches an order book snapshot of up to limit levels per side.
func (c *Client) Depth(ctx context.Context, symbol string, limit int) (DepthSnapshot, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v3/depth?"+params.Encode(), nil)
	if err != nil {
		return DepthSnapshot{}, fmt.Errorf("binance: build depth request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return DepthSnapshot{}, fmt.Errorf("binance: get depth %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return DepthSnapshot{}, fmt.Errorf("binance: read depth body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Msg != "" {
			return DepthSnapshot{}, fmt.Errorf("binance: get depth %s: status %d: code %d: %s", symbol, resp.StatusCode, apiErr.Code, apiErr.Msg)
		}
		return DepthSnapshot{}, fmt.Errorf("binance: get depth %s: status %d", symbol, resp.StatusCode)
	}

	var snap DepthSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return DepthSnapshot{}, fmt.Errorf("binance: decode depth: %w", err)
	}
	return snap, nil
}
