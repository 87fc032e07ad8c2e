// Package testutil provides testing utilities for the API client.
package testutil

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
)

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockAPI is a configurable mock extraction API server for testing. The
// behavior of the default handler is driven by the domain of the "url"
// field of the posted query, so tests pick faults by picking URLs.
type MockAPI struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Payment mode configuration. With RequirePayment set, requests
	// carrying neither basic auth nor an X-Payment header get a 402
	// challenge; the payment value must match the current price.
	RequirePayment  bool
	AcceptBasicAuth bool
	price           string

	// Tracking
	RequestCount      int
	ChallengeCount    int
	PaymentCount      int
	LastRequestHeader http.Header
}

// NewMockAPI creates a new mock extraction API server.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
		price:    "10000",
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		if r.Header.Get("X-Payment") != "" {
			mock.PaymentCount++
		}
		mock.mu.Unlock()

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL with a trailing slash, suitable as a
// client base URL.
func (m *MockAPI) URL() string {
	return m.server.URL + "/"
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.ChallengeCount = 0
	m.PaymentCount = 0
	m.LastRequestHeader = nil
}

// SetPrice changes the amount the server expects for paid requests.
// Payments built against the previous price are rejected with a fresh 402.
func (m *MockAPI) SetPrice(price string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.price = price
}

// SetHandler sets a custom handler for a specific path.
func (m *MockAPI) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockAPI) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockAPI) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetChallengeCount returns the number of 402 challenges issued to
// requests that carried no payment.
func (m *MockAPI) GetChallengeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ChallengeCount
}

// GetPaymentCount returns the number of requests that carried an
// X-Payment header.
func (m *MockAPI) GetPaymentCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.PaymentCount
}

// defaultHandler decodes the query and picks the response from the domain
// of the requested URL.
func (m *MockAPI) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeAPIError(w, 400, "/request/bad-request", "unreadable body")
		return
	}
	var query map[string]any
	if err := json.Unmarshal(raw, &query); err != nil {
		writeAPIError(w, 400, "/request/bad-request", "invalid JSON")
		return
	}
	target, _ := query["url"].(string)

	if m.RequirePayment {
		if done := m.handlePayment(w, r); done {
			return
		}
	}

	switch {
	case strings.Contains(target, "e429."):
		writeAPIError(w, 429, "/limits/over-user-limit", "Rate limit exceeded")
	case strings.Contains(target, "e500."):
		writeAPIError(w, 500, "/internal-error", "Internal error")
	case strings.Contains(target, "e503."):
		writeAPIError(w, 503, "/unavailable", "Service unavailable")
	case strings.Contains(target, "e520."):
		writeAPIError(w, 520, "/download/temporary-error", "Temporary download error")
	case strings.Contains(target, "e521."):
		writeAPIError(w, 521, "/download/permanent-error", "Permanent download error")
	case strings.Contains(target, "e401."):
		writeAPIError(w, 401, "/auth/key-not-found", "Authentication key not found")
	case strings.Contains(target, "empty-body."):
		w.WriteHeader(http.StatusOK)
	case strings.Contains(target, "nonjson."):
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("foo"))
	case strings.Contains(target, "array."):
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("[]"))
	default:
		body, _ := json.Marshal(map[string]any{
			"url":              target,
			"httpResponseBody": base64.StdEncoding.EncodeToString([]byte("<html><body>Hello</body></html>")),
		})
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}
}

// handlePayment enforces the payment protocol; it reports true when it has
// written a response and the request should not be served.
func (m *MockAPI) handlePayment(w http.ResponseWriter, r *http.Request) bool {
	if m.AcceptBasicAuth {
		if _, _, ok := r.BasicAuth(); ok {
			return false
		}
	}

	m.mu.RLock()
	price := m.price
	m.mu.RUnlock()

	header := r.Header.Get("X-Payment")
	if header == "" {
		m.writeChallenge(w, price, "X-Payment header is required")
		return true
	}

	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		m.writeChallenge(w, price, "Invalid X-Payment header")
		return true
	}
	var payload struct {
		Payload struct {
			Authorization struct {
				Value string `json:"value"`
			} `json:"authorization"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		m.writeChallenge(w, price, "Invalid X-Payment header")
		return true
	}
	if payload.Payload.Authorization.Value != price {
		m.writeChallenge(w, price, "Stale price")
		return true
	}
	return false
}

func (m *MockAPI) writeChallenge(w http.ResponseWriter, price, msg string) {
	m.mu.Lock()
	m.ChallengeCount++
	m.mu.Unlock()

	body, _ := json.Marshal(map[string]any{
		"x402Version": 1,
		"accepts": []map[string]any{
			{
				"scheme":            "exact",
				"network":           "base-sepolia",
				"maxAmountRequired": price,
				"resource":          "https://example.com/extract",
				"description":       "Structured extraction",
				"mimeType":          "application/json",
				"payTo":             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
				"maxTimeoutSeconds": 300,
				"asset":             "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
			},
		},
		"error": msg,
	})
	w.WriteHeader(http.StatusPaymentRequired)
	w.Write(body)
}

func writeAPIError(w http.ResponseWriter, status int, errType, title string) {
	body, _ := json.Marshal(map[string]any{
		"status": status,
		"type":   errType,
		"title":  title,
		"detail": title,
	})
	w.WriteHeader(status)
	w.Write(body)
}

// NewSuccessResponse creates a standard 200 OK extraction response for the
// given URL.
func NewSuccessResponse(url string) MockResponse {
	body, _ := json.Marshal(map[string]any{
		"url":              url,
		"httpResponseBody": base64.StdEncoding.EncodeToString([]byte("<html><body>Hello</body></html>")),
	})
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"status": 429, "type": "/limits/over-user-limit", "title": "Rate limit exceeded"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"status": 500, "type": "/internal-error", "title": "Internal error"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewBrotliHandler creates a handler serving the given body compressed
// with brotli.
func NewBrotliHandler(status int, body string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Encoding", "br")
		w.WriteHeader(status)
		bw := brotli.NewWriter(w)
		fmt.Fprint(bw, body)
		bw.Close()
	}
}
