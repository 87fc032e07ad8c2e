// Package retry implements the fault-classification-driven retry policy
// engine: a closed fault taxonomy, per-logical-request retry state, and
// pluggable per-class wait/stop strategies.
package retry

import "fmt"

// Kind classifies a failed attempt. The taxonomy is closed: every failure an
// attempt can produce maps to exactly one Kind.
type Kind int

const (
	// KindThrottling represents a rate-limiting response (429 or 503).
	KindThrottling Kind = iota

	// KindNetwork represents a transport-level failure (connection,
	// timeout, TLS, body read).
	KindNetwork

	// KindTemporaryDownload represents a temporary download error (520).
	KindTemporaryDownload

	// KindPermanentDownload represents a permanent download error (521).
	KindPermanentDownload

	// KindUndocumented represents a 5xx status not covered by a documented
	// fault class.
	KindUndocumented

	// KindPaymentRequired represents a 402 payment challenge response.
	KindPaymentRequired

	// KindClient represents any other 4xx response. Never retried.
	KindClient
)

// String returns the canonical label used in logs, metrics and stats.
func (k Kind) String() string {
	switch k {
	case KindThrottling:
		return "throttling"
	case KindNetwork:
		return "network"
	case KindTemporaryDownload:
		return "temporary_download"
	case KindPermanentDownload:
		return "permanent_download"
	case KindUndocumented:
		return "undocumented"
	case KindPaymentRequired:
		return "payment_required"
	case KindClient:
		return "client"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// IsDownload reports whether k is one of the two download error subtypes.
func (k Kind) IsDownload() bool {
	return k == KindTemporaryDownload || k == KindPermanentDownload
}

// ClassifyStatus maps an HTTP status >= 400 to its fault kind.
func ClassifyStatus(status int) Kind {
	switch {
	case status == 429 || status == 503:
		return KindThrottling
	case status == 520:
		return KindTemporaryDownload
	case status == 521:
		return KindPermanentDownload
	case status == 402:
		return KindPaymentRequired
	case status >= 500:
		return KindUndocumented
	default:
		return KindClient
	}
}

// Fault is a classified failure outcome of a single attempt.
type Fault struct {
	Kind   Kind
	Status int // 0 for network faults
	Err    error
}

// Faulter is implemented by errors that carry their own fault
// classification, such as the client's RequestError.
type Faulter interface {
	Fault() Fault
}
