// Package amp is a minimal client for the AMP (Application Management Panel) REST API.
package amp

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// ErrAPIUnavailable is returned when the AMP API could not be reached or returned an unexpected response.
var ErrAPIUnavailable = errors.New("AMP API unavailable")

const (
	instancesEndpoint    = "/API/Core/GetInstances"
	playerCountsEndpoint = "/API/Core/GetPlayerCounts"

	DefaultTimeout = 10 * time.Second
	DefaultRetries = 3
	DefaultBackoff = 500 * time.Millisecond
)

var retryableStatusCodes = []int{
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// An Instance is a game server managed by AMP.
type Instance struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Client calls the AMP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *retryablehttp.Client
}

type options struct {
	transport          http.RoundTripper
	middleware         []func(http.RoundTripper) http.RoundTripper
	insecureSkipVerify bool
	timeout            time.Duration
	retries            int
	backoff            time.Duration
	logger             *slog.Logger
}

// Option configures a Client.
type Option func(*options)

// WithTransport sets the transport used to reach the API. The default is a clone of http.DefaultTransport.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithMiddleware wraps the transport, e.g. to instrument the requests.
func WithMiddleware(mw func(http.RoundTripper) http.RoundTripper) Option {
	return func(o *options) { o.middleware = append(o.middleware, mw) }
}

// WithInsecureSkipVerify disables TLS certificate verification. It only applies to *http.Transport transports.
func WithInsecureSkipVerify(skip bool) Option {
	return func(o *options) { o.insecureSkipVerify = skip }
}

// WithTimeout sets the timeout of a single request.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) { o.timeout = timeout }
}

// WithRetries sets how many times a failed request is retried and the initial backoff between attempts.
// The backoff doubles after each attempt.
func WithRetries(retries int, backoff time.Duration) Option {
	return func(o *options) {
		o.retries = max(0, retries)
		o.backoff = backoff
	}
}

// WithLogger logs each attempt and retry of a request.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New returns a Client for the AMP instance at baseURL.
func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("amp: base URL is required")
	}

	o := options{timeout: DefaultTimeout, retries: DefaultRetries, backoff: DefaultBackoff}
	for _, opt := range opts {
		opt(&o)
	}

	rt := o.transport
	if rt == nil {
		rt = http.DefaultTransport.(*http.Transport).Clone()
	}
	if t, ok := rt.(*http.Transport); ok && o.insecureSkipVerify {
		t = t.Clone()
		if t.TLSClientConfig == nil {
			t.TLSClientConfig = &tls.Config{}
		}
		t.TLSClientConfig.InsecureSkipVerify = true
		rt = t
	}
	for _, mw := range o.middleware {
		rt = mw(rt)
	}

	httpClient := retryablehttp.NewClient()
	httpClient.HTTPClient = &http.Client{Transport: rt, Timeout: o.timeout}
	httpClient.RetryMax = o.retries
	httpClient.RetryWaitMin = o.backoff
	httpClient.RetryWaitMax = o.backoff << o.retries
	httpClient.CheckRetry = retryPolicy
	httpClient.Logger = nil
	if o.logger != nil {
		httpClient.Logger = o.logger
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: httpClient,
	}, nil
}

// CloseIdleConnections closes the idle connections of the underlying transport.
func (c *Client) CloseIdleConnections() {
	c.httpClient.HTTPClient.CloseIdleConnections()
}

// ListInstances returns all instances known to AMP.
func (c *Client) ListInstances(ctx context.Context) ([]Instance, error) {
	body, err := c.call(ctx, http.MethodGet, instancesEndpoint, nil)
	if err != nil {
		return nil, err
	}
	return parseInstances(body)
}

// GetPlayerCounts returns the number of players of each requested instance. Instances that AMP didn't report,
// or reported with an unreadable count, have zero players.
func (c *Client) GetPlayerCounts(ctx context.Context, instanceIDs []string) (map[string]int, error) {
	if len(instanceIDs) == 0 {
		return map[string]int{}, nil
	}
	request, err := json.Marshal(struct {
		Instances []string `json:"instances"`
	}{Instances: instanceIDs})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	body, err := c.call(ctx, http.MethodPost, playerCountsEndpoint, request)
	if err != nil {
		return nil, err
	}
	return parsePlayerCounts(body, instanceIDs)
}

func (c *Client) call(ctx context.Context, method, path string, request []byte) ([]byte, error) {
	body, err := c.do(ctx, method, path, request)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrAPIUnavailable, method, path, err)
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, method, path string, request []byte) ([]byte, error) {
	var reqBody any
	if request != nil {
		reqBody = request
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if request != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "AMP "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// retryPolicy retries transport errors and the server errors in retryableStatusCodes. Other responses are
// returned to the caller as-is.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err != nil || ctx.Err() != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	return slices.Contains(retryableStatusCodes, resp.StatusCode), nil
}
