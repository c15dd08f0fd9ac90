// Package transport implements the authenticated JSON requester every
// API package of the SDK goes through. It attaches credentials and
// client headers, enforces a client-side rate limit, records request
// metrics, and classifies failures so callers can tell a timeout from
// an expired token without inspecting raw HTTP state.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Kind classifies a transport failure.
type Kind int

const (
	KindNetwork Kind = iota
	KindTimeout
	KindAuthExpired
	KindRateLimited
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindAuthExpired:
		return "auth_expired"
	case KindRateLimited:
		return "rate_limited"
	case KindServer:
		return "server_error"
	default:
		return "network_error"
	}
}

// Error is a classified transport failure. The SDK core never retries
// these; they surface to the caller-level retry policy.
type Error struct {
	Kind   Kind
	Status int
	URL    string
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.Status, e.URL)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// APIError is a service-level rejection (4xx with an error body), kept
// separate from transport failures so callers can inspect the service's
// error code.
type APIError struct {
	Status    int
	Code      string
	Message   string
	InnerCode string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %s (status %d): %s", e.Code, e.Status, e.Message)
}

// TokenSource yields a ready-to-use Authorization header value.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client executes authenticated JSON requests against the service.
type Client struct {
	http    *http.Client
	tokens  TokenSource
	appName string
	limiter *rate.Limiter
	metrics *Metrics
	log     logrus.FieldLogger
}

// Config carries the knobs a Client needs; zero values get sensible
// defaults.
type Config struct {
	ApplicationName string
	Timeout         time.Duration
	RateLimit       float64 // requests per second, 0 disables limiting
	RateBurst       int
	Metrics         *Metrics
}

func NewClient(tokens TokenSource, cfg Config, log logrus.FieldLogger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		tokens:  tokens,
		appName: cfg.ApplicationName,
		limiter: limiter,
		metrics: cfg.Metrics,
		log:     log,
	}
}

// Execute sends one JSON request and returns the raw response body.
// body may be nil; hdr carries extra headers such as continuation
// tokens. Failures come back as *Error or *APIError.
func (c *Client) Execute(ctx context.Context, method, rawURL string, body interface{}, hdr http.Header) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, classifyDialError(rawURL, err)
		}
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, &Error{Kind: KindAuthExpired, URL: rawURL, Err: err}
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-ms-client-application-name", c.appName)
	req.Header.Set("x-ms-client-request-id", uuid.NewString())
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(req, 0, start)
		return nil, classifyDialError(rawURL, err)
	}
	defer resp.Body.Close()
	c.observe(req, resp.StatusCode, start)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Status: resp.StatusCode, URL: rawURL, Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return raw, nil
	}

	c.log.WithFields(logrus.Fields{
		"method": method,
		"url":    rawURL,
		"status": resp.StatusCode,
	}).Warn("request rejected")

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &Error{Kind: KindAuthExpired, Status: resp.StatusCode, URL: rawURL}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{Kind: KindRateLimited, Status: resp.StatusCode, URL: rawURL}
	case resp.StatusCode >= 500:
		return nil, &Error{Kind: KindServer, Status: resp.StatusCode, URL: rawURL}
	default:
		return nil, decodeAPIError(resp.StatusCode, raw)
	}
}

func (c *Client) observe(req *http.Request, status int, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.Observe(req.URL.Path, status, time.Since(start))
}

func classifyDialError(rawURL string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Kind: KindTimeout, URL: rawURL, Err: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return &Error{Kind: KindTimeout, URL: rawURL, Err: err}
	}
	return &Error{Kind: KindNetwork, URL: rawURL, Err: err}
}

// decodeAPIError extracts the service error envelope from a 4xx body.
func decodeAPIError(status int, raw []byte) error {
	var envelope struct {
		Error struct {
			Code       string `json:"code"`
			Message    string `json:"message"`
			InnerError struct {
				Code string `json:"code"`
			} `json:"innerError"`
		} `json:"error"`
	}
	apiErr := &APIError{Status: status}
	if err := json.Unmarshal(raw, &envelope); err == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		apiErr.InnerCode = envelope.Error.InnerError.Code
	}
	return apiErr
}
