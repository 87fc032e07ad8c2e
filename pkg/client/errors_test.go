package client

import (
	"errors"
	"fmt"
	"testing"

	"github.com/zytedata/zyte-api-go/pkg/retry"
)

func TestParseErrorBody(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantData   bool
		wantReason ParseErrorReason
	}{
		{name: "empty", body: "", wantData: false, wantReason: ""},
		{name: "object", body: `{"status": 429, "type": "/limits/over-user-limit"}`, wantData: true},
		{name: "invalid_json", body: "foo", wantReason: ParseErrorBadJSON},
		{name: "array", body: "[]", wantReason: ParseErrorBadFormat},
		{name: "string", body: `"foo"`, wantReason: ParseErrorBadFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed := ParseErrorBody([]byte(tt.body))
			if (parsed.Data != nil) != tt.wantData {
				t.Errorf("Data set = %v, want %v", parsed.Data != nil, tt.wantData)
			}
			if parsed.ParseError != tt.wantReason {
				t.Errorf("ParseError = %q, want %q", parsed.ParseError, tt.wantReason)
			}
			if string(parsed.ResponseBody) != tt.body {
				t.Errorf("ResponseBody = %q, want %q", parsed.ResponseBody, tt.body)
			}
		})
	}
}

func TestAPIErrorType(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "documented_type",
			body: `{"status": 429, "type": "/limits/over-user-limit"}`,
			want: "/limits/over-user-limit",
		},
		{
			name: "short_error_string_becomes_slug",
			body: `{"error": "Use basic auth or x402"}`,
			want: "/x402/use-basic-auth-or-x402",
		},
		{
			name: "long_error_string_is_unparsed",
			body: `{"error": "this free-form message is far too long to be an identifier"}`,
			want: "",
		},
		{name: "no_type_no_error", body: `{"status": 500}`, want: ""},
		{name: "unparseable", body: "foo", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseErrorBody([]byte(tt.body)).APIErrorType(); got != tt.want {
				t.Errorf("APIErrorType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Use basic auth or x402", "use-basic-auth-or-x402"},
		{"Stale price", "stale-price"},
		{"  spaced  out  ", "spaced-out"},
		{"UPPER", "upper"},
	}
	for _, tt := range tests {
		if got := slugify(tt.in); got != tt.want {
			t.Errorf("slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRequestErrorFault(t *testing.T) {
	tests := []struct {
		status int
		kind   retry.Kind
	}{
		{429, retry.KindThrottling},
		{503, retry.KindThrottling},
		{520, retry.KindTemporaryDownload},
		{521, retry.KindPermanentDownload},
		{402, retry.KindPaymentRequired},
		{500, retry.KindUndocumented},
		{404, retry.KindClient},
	}

	for _, tt := range tests {
		err := &RequestError{Status: tt.status}
		fault := err.Fault()
		if fault.Kind != tt.kind {
			t.Errorf("status %d: Kind = %v, want %v", tt.status, fault.Kind, tt.kind)
		}
		if fault.Status != tt.status {
			t.Errorf("status %d: Fault carries status %d", tt.status, fault.Status)
		}
	}
}

func TestRequestErrorParsedIsLazyAndCached(t *testing.T) {
	err := &RequestError{Status: 429, Body: []byte(`{"type": "/limits/over-user-limit"}`)}
	first := err.Parsed()
	second := err.Parsed()
	if first.Type() != "/limits/over-user-limit" || second.Type() != first.Type() {
		t.Errorf("Parsed() = %+v / %+v", first, second)
	}
}

func TestNetworkError(t *testing.T) {
	inner := errors.New("connection refused")
	err := &NetworkError{Err: inner}

	if !errors.Is(err, inner) {
		t.Error("NetworkError should unwrap to the transport error")
	}
	if fault := err.Fault(); fault.Kind != retry.KindNetwork || fault.Status != 0 {
		t.Errorf("Fault() = %+v", fault)
	}

	var faulter retry.Faulter
	if !errors.As(fmt.Errorf("wrapped: %w", err), &faulter) {
		t.Error("wrapped NetworkError should still expose its Fault")
	}
}
