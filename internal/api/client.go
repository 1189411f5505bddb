package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Veraticus/iago/internal/common"
	"github.com/Veraticus/iago/internal/engine"
	"github.com/Veraticus/iago/internal/service"
)

var _ engine.Extractor = (*Client)(nil)

// Client talks to an engine served by another iago instance.
type Client struct {
	httpClient *http.Client
	baseURL    string
	retry      service.RetryOptions
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		retry: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2,
		},
	}
}

// Learn sends corrected values to the remote engine.
func (c *Client) Learn(ctx context.Context, text string, fieldValues map[string]string) (int, error) {
	var resp LearnResponse
	err := c.post(ctx, "/api/iago/learn", LearnRequest{FullText: text, CurrentData: fieldValues}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.LearnedCount, nil
}

// Analyze asks the remote engine for field suggestions.
func (c *Client) Analyze(ctx context.Context, text string) (map[string]string, error) {
	values := map[string]string{}
	if err := c.post(ctx, "/api/iago/analyze", AnalyzeRequest{FullText: text}, &values); err != nil {
		return nil, err
	}
	return values, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	return common.WithRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return &common.RetryableError{Err: fmt.Errorf("failed to build request: %w", err), Retryable: false}
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to call %s: %w", path, err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			err := fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
			switch {
			case resp.StatusCode == http.StatusTooManyRequests:
				return fmt.Errorf("%w: %w", common.ErrRateLimit, err)
			case resp.StatusCode < 500:
				return &common.RetryableError{Err: err, Retryable: false}
			}
			return err
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &common.RetryableError{Err: fmt.Errorf("failed to decode %s response: %w", path, err), Retryable: false}
		}
		return nil
	}, c.retry)
}
