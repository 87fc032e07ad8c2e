package payment

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/zytedata/zyte-api-go/pkg/stats"
)

// Prometheus metrics for payment protocol operations.
var (
	challengesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zyte_api_payment_challenges_total",
		Help: "Total number of out-of-band payment challenge requests",
	})

	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zyte_api_payment_cache_hits_total",
		Help: "Total number of payment requirement cache hits",
	})

	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zyte_api_payment_cache_misses_total",
		Help: "Total number of payment requirement cache misses",
	})
)

// PostFunc sends one POST to the API and returns the status and the fully
// read body. The client injects it so that challenge requests share the
// client's session, headers, and concurrency semaphore.
type PostFunc func(ctx context.Context, url string, body []byte, headers map[string]string) (int, []byte, error)

// ChallengeError is returned when a challenge request fails with an
// unexpected status.
type ChallengeError struct {
	Status int
	Body   []byte
}

// Error implements the error interface.
func (e *ChallengeError) Error() string {
	return fmt.Sprintf("payment challenge failed: status %d", e.Status)
}

// HandlerConfig configures a payment Handler.
type HandlerConfig struct {
	// Key is the hex-encoded secp256k1 private key, with or without a 0x
	// prefix. Must decode to exactly 32 bytes.
	Key string

	// Store caches authorization requirements by cost fingerprint.
	// Defaults to an in-memory store.
	Store Store

	// DisableCache forces a fresh challenge round-trip per request,
	// trading latency for always-current pricing.
	DisableCache bool

	// Stats receives the payment-challenge counter updates.
	Stats *stats.AggStats

	// Post performs challenge POSTs.
	Post PostFunc

	Logger zerolog.Logger
}

// Handler implements the client side of the x402 payment protocol.
type Handler struct {
	key          *ecdsa.PrivateKey
	keyHex       string
	store        Store
	disableCache bool
	stats        *stats.AggStats
	post         PostFunc
	flight       singleflight.Group
	logger       zerolog.Logger
}

// NewHandler creates a payment handler from a hex-encoded private key.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	key, err := parseKey(cfg.Key)
	if err != nil {
		return nil, err
	}
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	if cfg.Stats == nil {
		cfg.Stats = stats.New()
	}
	return &Handler{
		key:          key,
		keyHex:       hex.EncodeToString(crypto.FromECDSA(key)),
		store:        store,
		disableCache: cfg.DisableCache,
		stats:        cfg.Stats,
		post:         cfg.Post,
		logger:       cfg.Logger,
	}, nil
}

// KeyHex returns the private key as a bare hex string.
func (h *Handler) KeyHex() string { return h.keyHex }

// Address returns the payer address derived from the key.
func (h *Handler) Address() string {
	return crypto.PubkeyToAddress(h.key.PublicKey).Hex()
}

// Store returns the requirement store, e.g. for an explicit Clear.
func (h *Handler) Store() Store { return h.store }

// Headers returns the payment headers for a query, performing a challenge
// round-trip on a fingerprint cache miss.
func (h *Handler) Headers(ctx context.Context, url string, query map[string]any) (map[string]string, error) {
	fp := ComputeFingerprint(query)

	var entry *Entry
	if !h.disableCache {
		cached, err := h.store.Get(ctx, fp)
		switch {
		case err == nil:
			cacheHitsTotal.Inc()
			entry = cached
		case err != ErrStoreMiss:
			h.logger.Warn().Err(err).Msg("Payment store get failed")
		}
	}

	if entry == nil {
		cacheMissesTotal.Inc()
		if h.disableCache {
			fresh, err := h.challenge(ctx, url, query)
			if err != nil {
				return nil, err
			}
			entry = fresh
		} else {
			// Concurrent misses on the same fingerprint collapse into a
			// single challenge round-trip; late callers re-check the store
			// in case the winning flight already populated it.
			v, err, _ := h.flight.Do(string(fp), func() (any, error) {
				if cached, err := h.store.Get(ctx, fp); err == nil {
					return cached, nil
				}
				fresh, err := h.challenge(ctx, url, query)
				if err != nil {
					return nil, err
				}
				if err := h.store.Set(ctx, fp, fresh); err != nil {
					h.logger.Warn().Err(err).Msg("Payment store set failed")
				}
				return fresh, nil
			})
			if err != nil {
				return nil, err
			}
			entry = v.(*Entry)
		}
	}

	return h.buildHeaders(entry)
}

// Refresh handles a 402 received on a real request that already carried a
// payment header: the cached price is stale. It parses the new
// requirements out of the response body, updates the store entry in place,
// and returns rebuilt headers for the next attempt.
func (h *Handler) Refresh(ctx context.Context, query map[string]any, body []byte) (map[string]string, error) {
	entry, err := parseChallenge(body)
	if err != nil {
		return nil, err
	}
	if !h.disableCache {
		if err := h.store.Set(ctx, ComputeFingerprint(query), entry); err != nil {
			h.logger.Warn().Err(err).Msg("Payment store update failed")
		}
	}
	h.logger.Debug().
		Str("network", entry.Requirements.Network).
		Str("amount", entry.Requirements.MaxAmountRequired).
		Msg("Refreshed payment requirements from stale 402")
	return h.buildHeaders(entry)
}

// challenge performs the out-of-band challenge request: a bare POST of the
// query, expecting a 402 with the authorization requirements. It uses a
// restricted retry policy of its own: a 5xx response is retried once, any
// other unexpected status is terminal.
func (h *Handler) challenge(ctx context.Context, url string, query map[string]any) (*Entry, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("marshal challenge query: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		h.stats.RecordChallenge()
		challengesTotal.Inc()

		status, respBody, err := h.post(ctx, url, body, nil)
		if err != nil {
			return nil, fmt.Errorf("payment challenge: %w", err)
		}
		if status == 402 {
			return parseChallenge(respBody)
		}
		if status < 400 {
			return nil, fmt.Errorf("expected 402 for payment challenge, got %d", status)
		}
		lastErr = &ChallengeError{Status: status, Body: respBody}
		if status < 500 {
			return nil, lastErr
		}
		h.logger.Warn().Int("status", status).Msg("Payment challenge got server error, retrying once")
	}
	return nil, lastErr
}

func (h *Handler) buildHeaders(entry *Entry) (map[string]string, error) {
	header, err := buildHeader(h.key, entry)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"X-Payment":                     header,
		"Access-Control-Expose-Headers": "X-Payment-Response",
	}, nil
}

func parseChallenge(body []byte) (*Entry, error) {
	var challenge Challenge
	if err := json.Unmarshal(body, &challenge); err != nil {
		return nil, fmt.Errorf("parse 402 challenge body: %w", err)
	}
	if len(challenge.Accepts) == 0 {
		return nil, fmt.Errorf("402 challenge body carries no payment requirements")
	}
	return &Entry{
		Version:      challenge.X402Version,
		Requirements: challenge.Accepts[0],
	}, nil
}
