package rest

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

	"go.uber.org/zap"
)

// Client talks to the venue's REST API. One Client per credential set;
// public endpoints work with empty credentials.
type Client struct {
	baseURL    string
	http       *http.Client
	apiKey     string
	apiSecret  string
	recvWindow int64
	maxRetries int
	retryDelay time.Duration
	log        *zap.Logger
	now        func() time.Time
}

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	APIKey     string
	APISecret  string
	RecvWindow int64
	MaxRetries int
	RetryDelay time.Duration
}

func New(opts Options, log *zap.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://fapi.asterdex.com"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RecvWindow == 0 {
		opts.RecvWindow = 5000
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		http:       &http.Client{Timeout: opts.Timeout},
		apiKey:     opts.APIKey,
		apiSecret:  opts.APISecret,
		recvWindow: opts.RecvWindow,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		log:        log,
		now:        time.Now,
	}
}

// BaseURL returns the endpoint the client was built for.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type authLevel int

const (
	authNone authLevel = iota
	authKey
	authSigned
)

// do executes one API call. Signed requests get timestamp, recvWindow
// and an HMAC signature appended last; mutating verbs carry the query
// as a form body. Transport failures and 5xx responses are retried
// with doubling delays; 4xx responses are returned as *APIError
// without retry.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, auth authLevel) ([]byte, error) {
	var lastErr error
	delay := c.retryDelay
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		body, err := c.doOnce(ctx, method, path, params, auth)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable(err) {
			return nil, err
		}
		if c.log != nil {
			c.log.Warn("venue request retry",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
		}
	}
	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, method, path string, params url.Values, auth authLevel) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	query := params.Encode()
	if auth == authSigned {
		// The signature covers timestamp and recvWindow, so they are
		// stamped fresh on every attempt.
		signed := url.Values{}
		for k, vs := range params {
			signed[k] = vs
		}
		signed.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
		signed.Set("recvWindow", strconv.FormatInt(c.recvWindow, 10))
		query = signedQuery(signed, c.apiSecret)
	}

	reqURL := c.baseURL + path
	var reqBody io.Reader
	if method == http.MethodGet || method == http.MethodDelete {
		if query != "" {
			reqURL += "?" + query
		}
	} else if query != "" {
		reqBody = strings.NewReader(query)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if auth != authNone {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseAPIError(resp.StatusCode, body)
	}
	return body, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, auth authLevel, out any) error {
	body, err := c.do(ctx, http.MethodGet, path, params, auth)
	if err != nil {
		return err
	}
	return decode(body, out)
}

func decode(body []byte, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode venue response: %w", err)
	}
	return nil
}
