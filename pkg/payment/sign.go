package payment

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

// authorization is the transfer authorization carried in the payment
// header, signed with the payer's key.
type authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

type payloadBody struct {
	Signature     string        `json:"signature"`
	Authorization authorization `json:"authorization"`
}

// headerPayload is the JSON document that, base64-encoded, becomes the
// X-Payment header value.
type headerPayload struct {
	X402Version int         `json:"x402Version"`
	Scheme      string      `json:"scheme"`
	Network     string      `json:"network"`
	Payload     payloadBody `json:"payload"`
}

// parseKey decodes a hex-encoded secp256k1 private key, with or without a
// 0x prefix.
func parseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

// buildHeader constructs a fresh X-Payment header value for the cached
// requirements: a signed transfer authorization for the full advertised
// amount, valid for the server's advertised timeout window.
func buildHeader(key *ecdsa.PrivateKey, entry *Entry) (string, error) {
	req := entry.Requirements

	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	timeout := req.MaxTimeoutSeconds
	if timeout <= 0 {
		timeout = 300
	}
	now := time.Now().Unix()
	auth := authorization{
		From:        crypto.PubkeyToAddress(key.PublicKey).Hex(),
		To:          req.PayTo,
		Value:       req.MaxAmountRequired,
		ValidAfter:  strconv.FormatInt(now-60, 10),
		ValidBefore: strconv.FormatInt(now+int64(timeout), 10),
		Nonce:       "0x" + hex.EncodeToString(nonce),
	}

	digest := crypto.Keccak256([]byte(strings.Join([]string{
		req.Network,
		req.Asset,
		auth.From,
		auth.To,
		auth.Value,
		auth.ValidAfter,
		auth.ValidBefore,
		auth.Nonce,
	}, "|")))
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return "", fmt.Errorf("sign authorization: %w", err)
	}

	payload := headerPayload{
		X402Version: entry.Version,
		Scheme:      req.Scheme,
		Network:     req.Network,
		Payload: payloadBody{
			Signature:     "0x" + hex.EncodeToString(sig),
			Authorization: auth,
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
