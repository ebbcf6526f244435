package admission

import (
	"context"
	"time"
)

// Record states. A pending record blocks new claims until it completes or its
// expiry passes; a completed record is immutable and replayable until expiry.
const (
	StatePending   = "pending"
	StateCompleted = "completed"
)

// CachedResponse is the HTTP-shaped result cached for replay.
type CachedResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
}

// Record is the store-level view of one idempotency key.
type Record struct {
	Key         string
	State       string
	Response    *CachedResponse
	ClaimedAt   time.Time
	CompletedAt time.Time
	// ExpiresAt is the claim deadline while pending (bounds a crashed executor)
	// and the replay TTL once completed.
	ExpiresAt time.Time
}

// ClaimOutcome reports what the atomic claim attempt observed.
type ClaimOutcome int

const (
	// ClaimAcquired: no unexpired record existed; the caller now owns the key and
	// must run the operation, then CompleteKey or ReleaseKey.
	ClaimAcquired ClaimOutcome = iota
	// ClaimCompleted: an unexpired completed record exists; Response carries it.
	ClaimCompleted
	// ClaimPending: another execution is in flight; the caller should poll.
	ClaimPending
)

type ClaimResult struct {
	Outcome  ClaimOutcome
	Response *CachedResponse
}

// Store is the shared synchronization point for admission control. The serving
// processes are stateless, so every mutation here must be a single atomic
// operation at the storage layer; callers never compose read-then-write.
//
// All methods return errors wrapping ErrStoreUnavailable on storage failure.
type Store interface {
	// ClaimKey atomically inserts a pending record for key if and only if no
	// unexpired record exists. maxExecution bounds how long the pending claim
	// blocks others if the claimant never completes.
	ClaimKey(ctx context.Context, key string, maxExecution time.Duration) (ClaimResult, error)

	// CompleteKey transitions the pending record to completed, attaching the
	// response and setting expiry to now+ttl.
	CompleteKey(ctx context.Context, key string, resp CachedResponse, ttl time.Duration) error

	// ReleaseKey abandons a pending claim after the operation failed, so the next
	// retry can claim fresh. Releasing an already-completed key is a no-op.
	ReleaseKey(ctx context.Context, key string) error

	// GetRecord reads the current record, or nil if absent or expired.
	GetRecord(ctx context.Context, key string) (*Record, error)

	// IncrementCounter atomically increments the fixed-window counter for
	// (id.Type, id.Value, windowStart) and returns the post-increment count.
	IncrementCounter(ctx context.Context, id Identifier, windowStart time.Time, window time.Duration) (int64, error)
}
