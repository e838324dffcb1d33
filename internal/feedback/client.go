package feedback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client requests reports from a server running [Handler].
type Client struct {
	url  string
	http *http.Client
}

var _ Reporter = (*Client)(nil)

// NewClient returns a Client for the server at baseURL. A nil hc selects a
// client with a two minute timeout.
func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Client{url: strings.TrimRight(baseURL, "/") + Endpoint, http: hc}
}

// Generate posts req and decodes the report. A server-side quota failure
// wraps [ErrQuota]; endpoint throttling wraps [ErrRateLimited].
func (c *Client) Generate(ctx context.Context, req Request) (*Report, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("feedback: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("feedback: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("feedback: request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("feedback: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		switch {
		case eb.Error == msgQuota:
			return nil, ErrQuota
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, fmt.Errorf("%w: %s", ErrRateLimited, eb.Error)
		case eb.Error != "":
			return nil, fmt.Errorf("feedback: server error (status %d): %s", resp.StatusCode, eb.Error)
		}
		return nil, fmt.Errorf("feedback: server error (status %d)", resp.StatusCode)
	}

	var report Report
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("feedback: decode report: %w", err)
	}
	return &report, nil
}
