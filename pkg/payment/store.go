// Package payment implements the x402 micropayment protocol handler:
// cost fingerprinting, authorization-requirement caching, and payment
// header construction for clients that authenticate with a private key
// instead of an API key.
package payment

import (
	"context"
	"errors"
	"sync"
)

// ErrStoreMiss indicates no requirements are cached for a fingerprint.
var ErrStoreMiss = errors.New("payment store miss")

// Requirements describes one payment option accepted by the server, as
// advertised in a 402 challenge response.
type Requirements struct {
	Scheme            string         `json:"scheme"`
	Network           string         `json:"network"`
	MaxAmountRequired string         `json:"maxAmountRequired"`
	Resource          string         `json:"resource"`
	Description       string         `json:"description"`
	MimeType          string         `json:"mimeType"`
	PayTo             string         `json:"payTo"`
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds"`
	Asset             string         `json:"asset"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// Challenge is the body of a 402 response.
type Challenge struct {
	X402Version int            `json:"x402Version"`
	Accepts     []Requirements `json:"accepts"`
	Error       string         `json:"error,omitempty"`
}

// Entry is a cached authorization requirement set for one cost
// fingerprint.
type Entry struct {
	Version      int          `json:"version"`
	Requirements Requirements `json:"requirements"`
}

// Store caches authorization requirements by cost fingerprint. A cache hit
// skips the out-of-band challenge round-trip entirely.
type Store interface {
	// Get returns the cached entry for fp, or ErrStoreMiss.
	Get(ctx context.Context, fp Fingerprint) (*Entry, error)

	// Set stores or replaces the entry for fp.
	Set(ctx context.Context, fp Fingerprint, entry *Entry) error

	// Clear drops all entries.
	Clear(ctx context.Context) error
}

// MemoryStore is the default in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[Fingerprint]*Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[Fingerprint]*Entry)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, fp Fingerprint) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[fp]
	if !ok {
		return nil, ErrStoreMiss
	}
	return entry, nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, fp Fingerprint, entry *Entry) error {
	s.mu.Lock()
	s.entries[fp] = entry
	s.mu.Unlock()
	return nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.entries = make(map[Fingerprint]*Entry)
	s.mu.Unlock()
	return nil
}

// Len returns the number of cached entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
