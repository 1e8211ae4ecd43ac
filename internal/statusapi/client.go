package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/cheese-relay/pkg/chessdto"
)

// Client reads the status API; the CLI's status role uses it.
type Client struct {
	baseURL string
	http    *fasthttp.Client

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// WithDial replaces the network dialer, e.g. with an in-memory listener in tests.
func WithDial(dial func(addr string) (net.Conn, error)) Option {
	return func(c *Client) { c.http.Dial = dial }
}

func NewClient(baseURL string, opts ...Option) *Client {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 4},
		defaultTimeout: 5 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health returns nil when the relay answers /healthz.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.get(ctx, "/healthz", nil)
	return err
}

func (c *Client) Current(ctx context.Context) (*chessdto.GameSnapshot, error) {
	var g chessdto.GameSnapshot
	if _, err := c.get(ctx, "/games/current", &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (c *Client) Game(ctx context.Context, id string) (*chessdto.GameSnapshot, error) {
	var g chessdto.GameSnapshot
	if _, err := c.get(ctx, "/games/"+url.PathEscape(id), &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (c *Client) Recent(ctx context.Context, limit int) ([]*chessdto.GameSnapshot, error) {
	path := "/games"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var list []*chessdto.GameSnapshot
	if _, err := c.get(ctx, path, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) PGN(ctx context.Context, id string) (string, error) {
	body, err := c.get(ctx, "/games/"+url.PathEscape(id)+"/pgn", nil)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// get issues a GET and decodes JSON into out when it is non-nil. Non-2xx
// answers come back as chessdto.DomainError; retryable ones are retried.
func (c *Client) get(ctx context.Context, path string, out any) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()
	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(c.baseURL + path)

	attempts := max(c.retryMax, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx)); err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
		} else if status := resp.StatusCode(); status < 200 || status >= 300 {
			var de chessdto.DomainError
			if jerr := json.Unmarshal(resp.Body(), &de); jerr != nil || de.Code == "" {
				de = chessdto.DomainError{Code: "http_" + strconv.Itoa(status), Message: truncate(string(resp.Body()), 256)}
			}
			if !de.Retryable && !shouldRetryStatus(status) {
				return nil, de
			}
			lastErr = de
		} else {
			body := append([]byte(nil), resp.Body()...)
			if out != nil {
				if err := json.Unmarshal(body, out); err != nil {
					return nil, fmt.Errorf("decode response: %w", err)
				}
			}
			return body, nil
		}
		if attempt < attempts {
			if err := sleepWithContext(ctx, backoffDuration(attempt)); err != nil {
				return nil, lastErr
			}
		}
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return nil, lastErr
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	attempt = min(max(attempt, 1), 6)
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
