// Package fetch provides the HTTP client used to retrieve playlists and
// media segments.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "anhelo/1.0"

	// Segment retry policy. Playlist fetches are never retried here; a
	// playlist failure is fatal to the streaming loop by contract.
	segmentRetries      = 2
	segmentRetryBackoff = 500 * time.Millisecond
)

// ErrStatus is returned (wrapped) when the server answers with a non-2xx
// status code. Callers treat it the same as a transport failure.
var ErrStatus = fmt.Errorf("unexpected HTTP status")

// Client fetches URLs with a bounded timeout and a fixed User-Agent.
// The core does not distinguish network failures from HTTP-status failures;
// both surface as opaque errors.
type Client struct {
	httpClient *http.Client
	userAgent  string
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the default 10s request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithUserAgent overrides the default User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient creates a fetch client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		userAgent: defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch retrieves the full body of url. It performs exactly one attempt.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: %w: %d", url, ErrStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body %s: %w", url, err)
	}
	return body, nil
}

// FetchWithRetry retrieves url, retrying transient failures a bounded number
// of times with a constant backoff. Used for media segments, where the loop
// would otherwise skip the segment outright; still bounded so that a
// persistently broken segment cannot stall the stream.
func (c *Client) FetchWithRetry(ctx context.Context, url string) ([]byte, error) {
	var body []byte

	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		var err error
		body, err = c.Fetch(ctx, url)
		return err
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(segmentRetryBackoff), segmentRetries),
		ctx,
	)
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	return body, nil
}
