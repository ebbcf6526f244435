package admission

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// MaxClientKeyLen caps client-supplied Idempotency-Key header values.
const MaxClientKeyLen = 128

// DerivedKey is the result of key derivation. FullKey is the internal storage key;
// DisplaySuffix is the short fragment echoed back to the client so it can correlate
// retries without learning the internal scoping.
type DerivedKey struct {
	FullKey       string
	DisplaySuffix string
}

// DeriveKey builds the deterministic idempotency key for one logical operation:
// "action:scope" or "action:scope:clientKey" when the caller supplied its own key.
// An empty action or scope is rejected (an ambiguous key is worse than a failed
// request: it would dedupe unrelated operations against each other).
func DeriveKey(action, scope, clientKey string) (DerivedKey, error) {
	action = strings.TrimSpace(action)
	scope = strings.TrimSpace(scope)
	clientKey = strings.TrimSpace(clientKey)

	if action == "" || scope == "" {
		return DerivedKey{}, ErrAmbiguousKey
	}
	if len(clientKey) > MaxClientKeyLen {
		return DerivedKey{}, ErrClientKeyTooLong
	}

	full := action + ":" + scope
	if clientKey != "" {
		full += ":" + clientKey
	}

	sum := sha256.Sum256([]byte(full))
	digest := hex.EncodeToString(sum[:])

	return DerivedKey{
		FullKey:       full,
		DisplaySuffix: digest[len(digest)-8:],
	}, nil
}
