// Package aggregator talks to the received-count aggregation endpoint and
// serves it.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Hannibat/pumpmybag/internal/address"
	"github.com/Hannibat/pumpmybag/internal/logging"
	"github.com/sugawarayuuta/sonnet"
)

// ErrUnavailable marks any failure of the primary source. Callers recover by
// falling back to a log scan.
var ErrUnavailable = errors.New("aggregation service unavailable")

const (
	DefaultTimeout = 8 * time.Second
	DefaultBackoff = 200 * time.Millisecond

	maxBody = 64 << 10
)

// Response is the wire payload of the endpoint. Exactly one of Count or
// Error is set.
type Response struct {
	Count *uint64 `json:"count,omitempty"`
	Error string  `json:"error,omitempty"`
}

// Options tune the client. Zero values select the defaults.
type Options struct {
	Timeout time.Duration
	// Retries is how many extra attempts a transport error, 429 or 5xx gets
	// before the call fails. 0 falls back immediately.
	Retries int
	Backoff time.Duration
	Logger  *slog.Logger
}

// Client fetches authoritative received counts.
type Client struct {
	endpoint string
	http     *http.Client
	retries  int
	backoff  time.Duration
	log      *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewClient builds a client for endpoint, e.g. https://host/api/fetch-gms.
func NewClient(endpoint string, opts Options) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid aggregator url %q", endpoint)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: opts.Timeout},
		retries:  opts.Retries,
		backoff:  opts.Backoff,
		log:      opts.Logger,
		sleep:    sleepCtx,
	}, nil
}

// FetchCount returns the received count for addr. Every failure wraps
// ErrUnavailable; a message from the service body is included.
func (c *Client) FetchCount(ctx context.Context, addr address.Key) (uint64, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			wait := c.backoff * time.Duration(1<<(attempt-1))
			c.log.Debug("retrying aggregation fetch", "address", addr, "attempt", attempt, "wait", wait)
			if err := c.sleep(ctx, wait); err != nil {
				return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
		}
		n, retry, err := c.fetch(ctx, addr)
		if err == nil {
			return n, nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			break
		}
	}
	return 0, lastErr
}

func (c *Client) fetch(ctx context.Context, addr address.Key) (uint64, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(addr), nil)
	if err != nil {
		return 0, false, fmt.Errorf("%w: new request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, true, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return 0, true, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500

	var payload Response
	decodeErr := sonnet.Unmarshal(body, &payload)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && payload.Error != "" {
			return 0, retry, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, payload.Error)
		}
		return 0, retry, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if decodeErr != nil {
		return 0, false, fmt.Errorf("%w: decode: %v", ErrUnavailable, decodeErr)
	}
	if payload.Error != "" {
		return 0, false, fmt.Errorf("%w: %s", ErrUnavailable, payload.Error)
	}
	if payload.Count == nil {
		return 0, false, fmt.Errorf("%w: response has no count", ErrUnavailable)
	}
	return *payload.Count, false, nil
}

func (c *Client) requestURL(addr address.Key) string {
	sep := "?"
	if strings.Contains(c.endpoint, "?") {
		sep = "&"
	}
	return c.endpoint + sep + "address=" + url.QueryEscape(addr.String())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
