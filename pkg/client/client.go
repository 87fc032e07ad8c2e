// Package client provides the core API client: a concurrency-bounded
// dispatcher with fault-classified retries, aggregate statistics, a global
// circuit breaker, and optional micropayment authentication.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/zytedata/zyte-api-go/pkg/logging"
	"github.com/zytedata/zyte-api-go/pkg/payment"
	"github.com/zytedata/zyte-api-go/pkg/retry"
	"github.com/zytedata/zyte-api-go/pkg/stats"
)

// Prometheus metrics for API requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zyte_api_requests_total",
		Help: "Total API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "zyte_api_request_duration_seconds",
		Help:    "API request duration in seconds by endpoint",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zyte_api_errors_total",
		Help: "Total API errors by fault class",
	}, []string{"fault_class"})
)

// Default configuration values.
const (
	// DefaultAPIURL is the base URL used with API key authentication.
	DefaultAPIURL = "https://api.zyte.com/v1/"

	// DefaultPaymentAPIURL is the base URL used with payment (private
	// key) authentication.
	DefaultPaymentAPIURL = "https://api-x402.zyte.com/v1/"

	// DefaultEndpoint is the endpoint path appended to the base URL.
	DefaultEndpoint = "extract"

	// DefaultNConn is the default bound on concurrent network calls.
	DefaultNConn = 15

	// Environment variables consulted when Config carries no credential.
	APIKeyEnvVar = "ZYTE_API_KEY"
	EthKeyEnvVar = "ZYTE_API_ETH_KEY"
)

// The server gives up after roughly 200s; the client timeout is larger so
// that the server-side error, not a local timeout, is what surfaces.
const requestTimeout = 320 * time.Second

// AuthType identifies the credential mode of a client.
type AuthType string

const (
	// AuthTypeAPIKey authenticates with HTTP basic auth (key as
	// username, empty password).
	AuthTypeAPIKey AuthType = "zyte"

	// AuthTypeEth authenticates per request through the x402 payment
	// protocol using a secp256k1 private key.
	AuthTypeEth AuthType = "eth"
)

// Auth describes the resolved credential of a client.
type Auth struct {
	Type AuthType
	Key  string
}

// Config holds the client configuration.
type Config struct {
	// APIKey is the API key. Falls back to ZYTE_API_KEY.
	APIKey string

	// EthKey is a hex-encoded secp256k1 private key enabling payment
	// authentication. Falls back to ZYTE_API_ETH_KEY. Used only when no
	// API key is available.
	EthKey string

	// APIURL overrides the base URL. The default depends on the
	// credential mode.
	APIURL string

	// NConn bounds concurrent in-flight network calls (default 15).
	// Backoff sleeps hold no slot.
	NConn int

	// UserAgent overrides the User-Agent header.
	UserAgent string

	// Policy is the default retry policy (retry.DefaultPolicy when nil).
	Policy *retry.Policy

	// HTTPClient overrides the underlying HTTP client.
	HTTPClient *http.Client

	// PaymentStore overrides the payment requirement store (default
	// in-memory). Only used in payment mode.
	PaymentStore payment.Store

	// DisablePaymentCache forces a payment challenge per request.
	DisablePaymentCache bool
}

// Client is the API client. One instance is safe for concurrent use; its
// aggregate statistics, payment cache, and circuit breaker are shared by
// all requests made through it.
type Client struct {
	httpClient *http.Client
	apiURL     string
	userAgent  string
	auth       Auth
	apiKey     string
	payment    *payment.Handler
	policy     *retry.Policy
	sem        chan struct{}
	agg        *stats.AggStats
	breaker    *breaker
	logger     zerolog.Logger
}

// New creates a client. The credential is resolved as: explicit APIKey,
// explicit EthKey, ZYTE_API_KEY, ZYTE_API_ETH_KEY; with none of them it
// fails with ErrNoCredentials.
func New(cfg Config) (*Client, error) {
	nconn := cfg.NConn
	if nconn <= 0 {
		nconn = DefaultNConn
	}
	policy := cfg.Policy
	if policy == nil {
		policy = retry.DefaultPolicy()
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}

	c := &Client{
		httpClient: httpClient,
		userAgent:  userAgent,
		policy:     policy,
		sem:        make(chan struct{}, nconn),
		agg:        stats.New(),
		breaker:    &breaker{},
		logger:     logging.NewLogger("client"),
	}

	apiKey, ethKey := cfg.APIKey, cfg.EthKey
	if apiKey == "" && ethKey == "" {
		apiKey = os.Getenv(APIKeyEnvVar)
	}
	if apiKey == "" && ethKey == "" {
		ethKey = os.Getenv(EthKeyEnvVar)
	}

	switch {
	case apiKey != "":
		c.auth = Auth{Type: AuthTypeAPIKey, Key: apiKey}
		c.apiKey = apiKey
	case ethKey != "":
		handler, err := payment.NewHandler(payment.HandlerConfig{
			Key:          ethKey,
			Store:        cfg.PaymentStore,
			DisableCache: cfg.DisablePaymentCache,
			Stats:        c.agg,
			Post:         c.challengePost,
			Logger:       logging.NewLogger("payment"),
		})
		if err != nil {
			return nil, err
		}
		c.payment = handler
		c.auth = Auth{Type: AuthTypeEth, Key: handler.KeyHex()}
	default:
		return nil, ErrNoCredentials
	}

	c.apiURL = cfg.APIURL
	if c.apiURL == "" {
		if c.auth.Type == AuthTypeEth {
			c.apiURL = DefaultPaymentAPIURL
		} else {
			c.apiURL = DefaultAPIURL
		}
	}
	if !strings.HasSuffix(c.apiURL, "/") {
		c.apiURL += "/"
	}

	c.logger.Info().
		Str("auth_type", string(c.auth.Type)).
		Str("api_url", c.apiURL).
		Int("n_conn", nconn).
		Msg("Client initialized")

	return c, nil
}

// Auth returns the resolved credential mode and key.
func (c *Client) Auth() Auth { return c.auth }

// AggStats returns the aggregate statistics shared by all requests of
// this client.
func (c *Client) AggStats() *stats.AggStats { return c.agg }

// Payment returns the payment handler, or nil outside payment mode.
func (c *Client) Payment() *payment.Handler { return c.payment }

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Get performs one logical request end to end, including retries, and
// returns the decoded response body.
func (c *Client) Get(ctx context.Context, query map[string]any, opts ...RequestOption) (map[string]any, error) {
	o := c.newRequestOptions(opts)
	result, err := c.do(ctx, query, o)
	if err != nil {
		c.agg.RecordFatalError()
		return nil, err
	}
	c.agg.RecordSuccess()
	return result, nil
}

func (c *Client) do(ctx context.Context, query map[string]any, o requestOptions) (map[string]any, error) {
	if !c.breaker.allow() {
		return nil, ErrCircuitBroken
	}

	query, err := normalizeQuery(query)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	reqURL := c.apiURL + o.endpoint
	logger := c.logger.With().
		Str("endpoint", o.endpoint).
		Str("request_id", uuid.NewString()).
		Logger()

	// Extra headers beyond the session defaults. In payment mode the
	// handler fills them in, possibly after a challenge round-trip, and
	// refreshes them in place when a 402 reports a stale price.
	var extra map[string]string
	if c.payment != nil {
		extra, err = c.payment.Headers(ctx, reqURL, query)
		if err != nil {
			return nil, wrapChallengeError(err, query)
		}
	}

	var result map[string]any
	attempt := func(ctx context.Context) error {
		out, err := c.attempt(ctx, reqURL, o.endpoint, query, body, extra, &logger)
		if err != nil {
			// A 402 on a request that carried a payment header means the
			// accepted price went stale. Refresh from the response body so
			// the next attempt pays the current one.
			if c.payment != nil && extra["X-Payment"] != "" {
				var reqErr *RequestError
				if errors.As(err, &reqErr) && reqErr.Status == 402 {
					refreshed, refreshErr := c.payment.Refresh(ctx, query, reqErr.Body)
					if refreshErr != nil {
						logger.Warn().Err(refreshErr).Msg("Payment header refresh failed")
					} else {
						extra = refreshed
					}
				}
			}
			return err
		}
		result = out
		return nil
	}

	if o.handleRetries {
		err = retry.Run(ctx, o.policy, logger, attempt)
	} else {
		err = attempt(ctx)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// attempt performs a single network call: POST, classify, decode.
func (c *Client) attempt(ctx context.Context, reqURL, endpoint string, query map[string]any, body []byte, extra map[string]string, logger *zerolog.Logger) (map[string]any, error) {
	c.agg.RecordAttempt()
	start := time.Now()

	resp, err := c.post(ctx, reqURL, body, extra)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.agg.RecordException(retry.KindNetwork.String())
		c.breaker.record(false)
		errorsTotal.WithLabelValues(retry.KindNetwork.String()).Inc()
		requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		logger.Warn().Err(err).Msg("Request failed")
		return nil, &NetworkError{Err: err}
	}

	c.agg.RecordConnect(resp.status, resp.connect.Seconds())
	requestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.status)).Inc()
	requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

	if resp.status >= 400 {
		reqErr := &RequestError{
			Status:    resp.status,
			Headers:   resp.header,
			Body:      resp.body,
			Query:     query,
			RequestID: resp.header.Get("request-id"),
		}
		kind := retry.ClassifyStatus(resp.status)
		c.agg.RecordRequestError(resp.status, reqErr.Parsed().APIErrorType())
		c.breaker.record(kind == retry.KindUndocumented)
		errorsTotal.WithLabelValues(kind.String()).Inc()
		logger.Warn().
			Int("status", resp.status).
			Str("fault_class", kind.String()).
			Msg("Request error")
		return nil, reqErr
	}

	var result map[string]any
	if err := json.Unmarshal(resp.body, &result); err != nil {
		c.agg.RecordException("decode")
		c.breaker.record(false)
		return nil, fmt.Errorf("decode response body: %w", err)
	}
	c.agg.RecordRead(time.Since(start).Seconds())
	c.breaker.record(false)
	return result, nil
}

type postResult struct {
	status  int
	header  http.Header
	body    []byte
	connect time.Duration
}

// post issues one POST while holding a semaphore slot; the slot is
// released as soon as the response is fully read, never across a backoff
// sleep.
func (c *Client) post(ctx context.Context, reqURL string, body []byte, extra map[string]string) (*postResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Encoding", "br")
	for k, v := range extra {
		req.Header.Set(k, v)
	}
	if c.apiKey != "" {
		req.SetBasicAuth(c.apiKey, "")
	}

	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-c.sem }()

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	connect := time.Since(start)
	defer resp.Body.Close()

	raw, err := readBody(resp)
	if err != nil {
		return nil, err
	}
	return &postResult{
		status:  resp.StatusCode,
		header:  resp.Header,
		body:    raw,
		connect: connect,
	}, nil
}

// challengePost is the PostFunc handed to the payment handler: challenge
// requests share the session, default headers, and the concurrency
// semaphore, but not the attempt statistics.
func (c *Client) challengePost(ctx context.Context, reqURL string, body []byte, headers map[string]string) (int, []byte, error) {
	resp, err := c.post(ctx, reqURL, body, headers)
	if err != nil {
		return 0, nil, err
	}
	return resp.status, resp.body, nil
}

// wrapChallengeError converts a failed challenge into the caller-visible
// fault type, preserving the response context.
func wrapChallengeError(err error, query map[string]any) error {
	var challengeErr *payment.ChallengeError
	if errors.As(err, &challengeErr) {
		return &RequestError{
			Status: challengeErr.Status,
			Body:   challengeErr.Body,
			Query:  query,
		}
	}
	return err
}

// readBody reads a response body, decoding brotli when the server used it.
func readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "br") {
		reader = brotli.NewReader(resp.Body)
	}
	return io.ReadAll(reader)
}
