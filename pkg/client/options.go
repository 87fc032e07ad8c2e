package client

import "github.com/zytedata/zyte-api-go/pkg/retry"

// requestOptions are per-call settings for Get and Iter.
type requestOptions struct {
	endpoint      string
	policy        *retry.Policy
	handleRetries bool
}

// RequestOption customizes a single Get or Iter call.
type RequestOption func(*requestOptions)

// WithEndpoint overrides the endpoint path relative to the client's base
// URL (default "extract").
func WithEndpoint(endpoint string) RequestOption {
	return func(o *requestOptions) { o.endpoint = endpoint }
}

// WithPolicy overrides the retry policy for this call only.
func WithPolicy(policy *retry.Policy) RequestOption {
	return func(o *requestOptions) { o.policy = policy }
}

// WithoutRetries disables retry handling for this call: the first fault is
// surfaced immediately.
func WithoutRetries() RequestOption {
	return func(o *requestOptions) { o.handleRetries = false }
}

func (c *Client) newRequestOptions(opts []RequestOption) requestOptions {
	o := requestOptions{
		endpoint:      DefaultEndpoint,
		policy:        c.policy,
		handleRetries: true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
