package dataverse

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"

	"github.com/lifecockpit/dispatch/internal/auth"
)

const apiPathPrefix = "/api/data/v9.2"

// Response is a decoded-enough Dataverse reply: status, headers and the raw
// body for the caller to unmarshal.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON unmarshals the response body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// CallOptions adjust a single Dataverse call.
type CallOptions struct {
	// Impersonate attributes the call to another user via MSCRMCallerID.
	// Each distinct identity gets its own pooled connection set.
	Impersonate string
	// Timeout overrides the client default, e.g. for bulk metadata pulls.
	Timeout time.Duration
	// Accept overrides the Accept header (metadata is served as XML).
	Accept string
}

// CallOption is a functional option threaded down from the repository layer.
type CallOption func(*CallOptions)

// WithImpersonation attributes the call to the given system user id.
func WithImpersonation(userID string) CallOption {
	return func(o *CallOptions) { o.Impersonate = userID }
}

func withTimeout(d time.Duration) CallOption {
	return func(o *CallOptions) { o.Timeout = d }
}

func withAccept(accept string) CallOption {
	return func(o *CallOptions) { o.Accept = accept }
}

// ClientConfig carries the resilience tuning for a Client.
type ClientConfig struct {
	// BaseURL is the environment root, e.g. https://org.crm.dynamics.com.
	BaseURL string
	// Retry applies around each call; zero value means defaults.
	Retry RetryPolicy
	// BreakerFailureThreshold consecutive failures open the circuit.
	BreakerFailureThreshold int
	// BreakerRecoveryTimeout is the open-state cooldown before one probe.
	BreakerRecoveryTimeout time.Duration
	// Timeout bounds a normal call; MetadataTimeout bounds bulk metadata.
	Timeout         time.Duration
	MetadataTimeout time.Duration
}

func (c *ClientConfig) applyDefaults() {
	if c.Retry.MaxAttempts == 0 {
		c.Retry = DefaultRetryPolicy()
	}
	if c.BreakerFailureThreshold <= 0 {
		c.BreakerFailureThreshold = 5
	}
	if c.BreakerRecoveryTimeout <= 0 {
		c.BreakerRecoveryTimeout = 30 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.MetadataTimeout <= 0 {
		c.MetadataTimeout = 60 * time.Second
	}
}

// Client performs authenticated HTTP calls against the Dataverse OData
// surface with bounded retry, a shared circuit breaker and pooled
// connections. One breaker guards all calls: an outage is an outage
// regardless of endpoint.
type Client struct {
	apiURL     string
	tokenScope string
	tokens     auth.TokenProvider
	retry      RetryPolicy
	breaker    *gobreaker.CircuitBreaker[*Response]
	timeout    time.Duration
	metaWait   time.Duration
	logger     *slog.Logger

	mu   sync.Mutex
	pool map[string]*http.Client
}

func NewClient(cfg ClientConfig, tokens auth.TokenProvider, logger *slog.Logger) *Client {
	cfg.applyDefaults()
	base := strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		apiURL:     base + apiPathPrefix,
		tokenScope: base + "/.default",
		tokens:     tokens,
		retry:      cfg.Retry,
		timeout:    cfg.Timeout,
		metaWait:   cfg.MetadataTimeout,
		logger:     logger.With("component", "dataverse"),
		pool:       make(map[string]*http.Client),
	}

	threshold := uint32(cfg.BreakerFailureThreshold)
	c.breaker = gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        "dataverse",
		MaxRequests: 1,
		Timeout:     cfg.BreakerRecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return c
}

// Do executes one logical call: breaker around retry around HTTP. The body,
// when non-nil, is JSON-encoded. Breaker-open failures surface as
// ErrCircuitOpen without touching the network.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body any, opts ...CallOption) (*Response, error) {
	var callOpts CallOptions
	for _, opt := range opts {
		opt(&callOpts)
	}

	start := time.Now()
	resp, err := c.breaker.Execute(func() (*Response, error) {
		var out *Response
		retryErr := c.retry.Execute(ctx, c.logger, func() error {
			r, callErr := c.doOnce(ctx, method, path, query, body, callOpts)
			if callErr != nil {
				return callErr
			}
			out = r
			return nil
		})
		return out, retryErr
	})
	callDurationHist.WithLabelValues(method).Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			callsTotalCounter.WithLabelValues(method, "circuit_open").Inc()
			return nil, fmt.Errorf("%w: %s %s", ErrCircuitOpen, method, path)
		}
		callsTotalCounter.WithLabelValues(method, "error").Inc()
		return nil, err
	}
	callsTotalCounter.WithLabelValues(method, "success").Inc()
	return resp, nil
}

// BreakerState exposes the breaker for health reporting.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

func (c *Client) doOnce(ctx context.Context, method, path string, query url.Values, body any, opts CallOptions) (*Response, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tok, err := c.tokens.Token(callCtx, c.tokenScope)
	if err != nil {
		return nil, fmt.Errorf("acquire dataverse token: %w", err)
	}

	reqURL := c.apiURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		raw, marshalErr := json.Marshal(body)
		if marshalErr != nil {
			return nil, fmt.Errorf("encode dataverse payload: %w", marshalErr)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(callCtx, method, reqURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build dataverse request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok.Value)
	req.Header.Set("OData-MaxVersion", "4.0")
	req.Header.Set("OData-Version", "4.0")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Prefer", `return=representation,odata.include-annotations="*"`)
	if opts.Accept != "" {
		req.Header.Set("Accept", opts.Accept)
	}
	if opts.Impersonate != "" {
		req.Header.Set("MSCRMCallerID", opts.Impersonate)
	}

	httpResp, err := c.pooledClient(opts.Impersonate).Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	if httpResp.StatusCode >= 400 {
		return nil, &StatusError{StatusCode: httpResp.StatusCode, Body: truncate(string(respBody), 500)}
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       respBody,
	}, nil
}

// pooledClient returns the long-lived http.Client for an impersonation
// identity, creating it on first use. The default identity shares one pool.
func (c *Client) pooledClient(impersonate string) *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	client, ok := c.pool[impersonate]
	if !ok {
		client = &http.Client{
			Transport: &http.Transport{
				MaxConnsPerHost:     10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		}
		c.pool[impersonate] = client
	}
	return client
}

// Close drops all pooled connections. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, client := range c.pool {
		client.CloseIdleConnections()
	}
	c.pool = make(map[string]*http.Client)
}

// MetadataTimeout is the per-call budget for bulk metadata requests.
func (c *Client) MetadataTimeout() time.Duration { return c.metaWait }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
