package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/zytedata/zyte-api-go/pkg/retry"
)

// Common errors returned by the client.
var (
	// ErrNoCredentials is returned by New when neither an API key nor an
	// Ethereum private key is available.
	ErrNoCredentials = errors.New(
		"no credentials: provide an API key or an Ethereum private key, " +
			"or set ZYTE_API_KEY or ZYTE_API_ETH_KEY")

	// ErrCircuitBroken is returned once the client has seen too many
	// undocumented errors. The condition is permanent for the life of the
	// client instance.
	ErrCircuitBroken = errors.New(
		"circuit broken: too many undocumented errors, no further requests will be sent")
)

// ParseErrorReason explains why an error body could not be parsed into a
// JSON object.
type ParseErrorReason string

const (
	// ParseErrorBadJSON means the body is not valid JSON.
	ParseErrorBadJSON ParseErrorReason = "bad_json"

	// ParseErrorBadFormat means the body is valid JSON but not an object.
	ParseErrorBadFormat ParseErrorReason = "bad_format"
)

// ParsedError is the parsed view of an error response body.
type ParsedError struct {
	// ResponseBody is the raw response body.
	ResponseBody []byte

	// Data is the JSON-decoded body. Nil if the body is empty or not a
	// JSON object; ParseError then indicates the reason.
	Data map[string]any

	// ParseError is empty when Data is set, or the reason it is not.
	ParseError ParseErrorReason
}

// ParseErrorBody builds a ParsedError out of an error response body.
func ParseErrorBody(body []byte) ParsedError {
	parsed := ParsedError{ResponseBody: body}
	if len(body) == 0 {
		return parsed
	}
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		parsed.ParseError = ParseErrorBadJSON
		return parsed
	}
	obj, ok := data.(map[string]any)
	if !ok {
		parsed.ParseError = ParseErrorBadFormat
		return parsed
	}
	parsed.Data = obj
	return parsed
}

// Type returns the API error type, e.g. "/limits/over-user-limit", or "".
func (p ParsedError) Type() string {
	t, _ := p.Data["type"].(string)
	return t
}

// maxSlugSource bounds the length of non-standard error strings that get
// turned into a derived error-type slug. Longer strings are free-form
// messages, not identifiers.
const maxSlugSource = 32

// APIErrorType returns the value for the error-type histogram: the type
// field when present, a slug derived from the payment protocol's
// non-standard short error strings otherwise, or "".
func (p ParsedError) APIErrorType() string {
	if t := p.Type(); t != "" {
		return t
	}
	msg, _ := p.Data["error"].(string)
	if msg == "" || len(msg) > maxSlugSource {
		return ""
	}
	return "/x402/" + slugify(msg)
}

func slugify(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// RequestError is returned upon receiving a rate-limiting or otherwise
// unsuccessful (status >= 400) response from the API.
type RequestError struct {
	// Status is the HTTP status code.
	Status int

	// Headers are the response headers.
	Headers http.Header

	// Body is the raw response body.
	Body []byte

	// Query is the query that was sent, after normalization. It may
	// differ slightly from the caller's input.
	Query map[string]any

	// RequestID is the server-assigned request identifier, if present.
	RequestID string

	parseOnce sync.Once
	parsed    ParsedError
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	return fmt.Sprintf("request error: status %d, body %q, request_id %q",
		e.Status, truncate(e.Body, 512), e.RequestID)
}

// Parsed returns the response body as a ParsedError, parsing it on first
// use.
func (e *RequestError) Parsed() ParsedError {
	e.parseOnce.Do(func() { e.parsed = ParseErrorBody(e.Body) })
	return e.parsed
}

// Fault classifies the error for the retry engine.
func (e *RequestError) Fault() retry.Fault {
	return retry.Fault{Kind: retry.ClassifyStatus(e.Status), Status: e.Status, Err: e}
}

// NetworkError wraps a transport-level failure: connection, timeout, TLS,
// or response body read.
type NetworkError struct {
	Err error
}

// Error implements the error interface.
func (e *NetworkError) Error() string { return fmt.Sprintf("network error: %v", e.Err) }

// Unwrap implements error unwrapping for errors.Is/As.
func (e *NetworkError) Unwrap() error { return e.Err }

// Fault classifies the error for the retry engine.
func (e *NetworkError) Fault() retry.Fault {
	return retry.Fault{Kind: retry.KindNetwork, Err: e.Err}
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
