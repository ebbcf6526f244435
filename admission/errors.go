package admission

import "errors"

var (
	// ErrAmbiguousKey means key derivation was attempted without an action or scope.
	// Proceeding with a partial key would dedupe unrelated requests against each other,
	// so the request is rejected instead.
	ErrAmbiguousKey = errors.New("idempotency key requires a non-empty action and scope")

	// ErrClientKeyTooLong rejects oversized client-supplied Idempotency-Key values.
	ErrClientKeyTooLong = errors.New("client idempotency key exceeds maximum length")

	// ErrClaimInProgress is returned when another execution holds the claim for a key
	// and it did not complete within the wait timeout. Retryable: the caller should
	// back off and retry; the wrapped operation was NOT executed on their behalf.
	ErrClaimInProgress = errors.New("an execution for this idempotency key is still in progress")

	// ErrStoreUnavailable wraps any storage-level failure. Both the coordinator and
	// the rate limiter fail closed on it: a mutating request is rejected rather than
	// executed without dedup/abuse protection.
	ErrStoreUnavailable = errors.New("admission store unavailable")
)
