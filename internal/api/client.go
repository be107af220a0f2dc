package api

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
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/oklog/ulid/v2"

	"github.com/colthorp/tempo-cli-go/internal/core"
)

// Client is the HTTP wrapper around the Tempo REST API.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	verbose     bool
	maxAttempts uint
	backOff     func() backoff.BackOff
}

// NewClient creates a new API client. An empty baseURL uses core.APIBaseURL.
func NewClient(baseURL string, timeout time.Duration, verbose bool) *Client {
	if baseURL == "" {
		baseURL = core.APIBaseURL
	}
	if timeout <= 0 {
		timeout = core.DefaultRequestTimeout
	}
	return &Client{
		baseURL: fmt.Sprintf("%s/%s", strings.TrimRight(baseURL, "/"), core.APIVersion),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		verbose:     verbose,
		maxAttempts: core.DefaultMaxHTTPAttempts,
		backOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.Multiplier = 2
			return b
		},
	}
}

// log writes a message to stderr if verbose mode is enabled.
func (c *Client) log(msg string) {
	core.Eprint(fmt.Sprintf("[API] %s", msg), c.verbose)
}

// Request performs the call and returns the raw response body.
// Retries automatically on connection errors, HTTP 5xx, and 429 responses with
// exponential back-off; a 429 Retry-After header overrides the delay.
func (c *Client) Request(ctx context.Context, r Request) ([]byte, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	urlStr := fmt.Sprintf("%s/%s", c.baseURL, strings.TrimLeft(r.Endpoint, "/"))
	if len(r.Params) > 0 {
		q := url.Values{}
		for k, v := range r.Params {
			q.Set(k, v)
		}
		urlStr = fmt.Sprintf("%s?%s", urlStr, q.Encode())
	}

	var payload []byte
	if r.Body != nil {
		var err error
		if payload, err = json.Marshal(r.Body); err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	requestID := ulid.Make().String()
	c.log(fmt.Sprintf("%s %s (request %s)", method, urlStr, requestID))

	attempt := 0
	body, err := backoff.Retry(ctx, func() ([]byte, error) {
		attempt++
		return c.do(ctx, method, urlStr, requestID, r.Token, payload)
	},
		backoff.WithBackOff(c.backOff()),
		backoff.WithMaxTries(c.maxAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.log(fmt.Sprintf("Attempt %d failed (%v); retrying in %v...", attempt, err, wait))
		}),
	)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// do performs a single attempt. Non-retryable failures are wrapped with
// backoff.Permanent.
func (c *Client) do(ctx context.Context, method, urlStr, requestID, token string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, urlStr, reader)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("User-Agent", "tempo-cli/"+core.Version)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := newAPIError(resp.StatusCode, body)
		if !apiErr.Retryable() {
			return nil, backoff.Permanent(apiErr)
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, err := strconv.Atoi(ra); err == nil {
					return nil, fmt.Errorf("%w; %w", apiErr, backoff.RetryAfter(secs))
				}
			}
		}
		return nil, apiErr
	}

	c.log(fmt.Sprintf("Response: HTTP %d, %d bytes", resp.StatusCode, len(body)))
	return body, nil
}
