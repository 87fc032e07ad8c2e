package client

import (
	"fmt"
	"strings"
)

// safeURLBytes are the bytes allowed verbatim in a request URL per RFC
// 3986: unreserved characters, gen-delims, sub-delims, and "%" so that
// pre-encoded sequences survive untouched.
const safeURLBytes = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789" +
	"-._~:/?#[]@!$&'()*+,;=%"

// safeURLString percent-encodes every byte of s that is not URL-safe.
func safeURLString(s string) string {
	if !strings.ContainsFunc(s, func(r rune) bool {
		return r > 0x7f || !strings.ContainsRune(safeURLBytes, r)
	}) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x80 && strings.IndexByte(safeURLBytes, c) >= 0 {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// normalizeQuery returns a functionally equivalent query whose URL is safe
// for the API, percent-encoding unsafe bytes. The input is never mutated:
// when a change is needed a shallow copy is returned.
func normalizeQuery(query map[string]any) (map[string]any, error) {
	raw, ok := query["url"]
	if !ok {
		return query, nil
	}
	u, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("expected a string url parameter, got %T", raw)
	}
	safe := safeURLString(u)
	if safe == u {
		return query, nil
	}
	normalized := make(map[string]any, len(query))
	for k, v := range query {
		normalized[k] = v
	}
	normalized["url"] = safe
	return normalized, nil
}
