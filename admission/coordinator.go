package admission

import (
	"context"
	"log"
	"time"
)

// Coordinator defaults. MaxExecution bounds how long a crashed claimant can block
// a key and is deliberately a tunable, not a constant carried from anywhere.
const (
	DefaultTTL          = time.Hour
	DefaultMaxExecution = 30 * time.Second
	DefaultWaitTimeout  = 10 * time.Second
	DefaultPollInterval = 50 * time.Millisecond

	maxPollInterval = 500 * time.Millisecond
)

// Operation is the wrapped mutating operation. It returns the HTTP-shaped result
// to cache on success; a returned error means the attempt failed and must leave
// no trace (the claim is released so a retry executes cleanly).
type Operation func() (CachedResponse, error)

// Coordinator serializes executions of one logical operation across stateless API
// instances, using the Store's atomic claim as the only synchronization point.
// For a fixed key the wrapped operation runs at most once per TTL window.
type Coordinator struct {
	Store Store

	// TTL is how long a completed result stays replayable.
	TTL time.Duration
	// MaxExecution bounds a pending claim whose owner never completes.
	MaxExecution time.Duration
	// WaitTimeout bounds how long a caller waits on someone else's in-flight claim.
	WaitTimeout time.Duration
	// PollInterval is the initial wait-poll interval; it doubles up to a cap.
	PollInterval time.Duration
}

func NewCoordinator(store Store) *Coordinator {
	return &Coordinator{
		Store:        store,
		TTL:          DefaultTTL,
		MaxExecution: DefaultMaxExecution,
		WaitTimeout:  DefaultWaitTimeout,
		PollInterval: DefaultPollInterval,
	}
}

// Do runs op under the idempotency key. The returned bool is true when the
// response was replayed from cache rather than produced by this call; the
// response itself is identical either way.
//
// Outcomes: a fresh claim executes op; an unexpired completed record replays;
// a pending record is polled with backoff until it completes, is abandoned
// (then this caller claims fresh), or WaitTimeout elapses (ErrClaimInProgress —
// never a silent re-execution). Store failures reject the call (fail closed).
func (co *Coordinator) Do(ctx context.Context, key string, op Operation) (CachedResponse, bool, error) {
	if key == "" {
		return CachedResponse{}, false, ErrAmbiguousKey
	}

	ttl := co.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	maxExec := co.MaxExecution
	if maxExec <= 0 {
		maxExec = DefaultMaxExecution
	}
	waitTimeout := co.WaitTimeout
	if waitTimeout <= 0 {
		waitTimeout = DefaultWaitTimeout
	}
	interval := co.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	deadline := time.Now().Add(waitTimeout)

	for {
		claim, err := co.Store.ClaimKey(ctx, key, maxExec)
		if err != nil {
			return CachedResponse{}, false, err
		}

		switch claim.Outcome {
		case ClaimAcquired:
			resp, err := co.execute(ctx, key, op, ttl)
			return resp, false, err
		case ClaimCompleted:
			if claim.Response == nil {
				return CachedResponse{}, true, nil
			}
			return *claim.Response, true, nil
		}

		// ClaimPending: another execution is in flight. Poll until it completes,
		// is abandoned, or the deadline passes.
		rec, err := co.waitForCompletion(ctx, key, deadline, interval)
		if err != nil {
			return CachedResponse{}, false, err
		}
		if rec != nil {
			if rec.Response == nil {
				return CachedResponse{}, true, nil
			}
			return *rec.Response, true, nil
		}
		// The claim was abandoned (operation failed) or expired; claim fresh.
	}
}

// waitForCompletion polls the record with doubling backoff. It returns the
// completed record, nil when the claim disappeared (caller should re-claim), or
// ErrClaimInProgress when the deadline passes first.
func (co *Coordinator) waitForCompletion(ctx context.Context, key string, deadline time.Time, interval time.Duration) (*Record, error) {
	for {
		if !time.Now().Before(deadline) {
			return nil, ErrClaimInProgress
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}

		rec, err := co.Store.GetRecord(ctx, key)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, nil
		}
		if rec.State == StateCompleted {
			return rec, nil
		}

		if interval *= 2; interval > maxPollInterval {
			interval = maxPollInterval
		}
	}
}

func (co *Coordinator) execute(ctx context.Context, key string, op Operation, ttl time.Duration) (CachedResponse, error) {
	resp, err := op()
	if err != nil {
		co.release(ctx, key)
		return CachedResponse{}, err
	}
	if resp.Status < 200 || resp.Status >= 300 {
		// Business failure: report it as-is but never cache it, so a retry
		// can claim fresh and re-execute.
		co.release(ctx, key)
		return resp, nil
	}

	if cerr := co.Store.CompleteKey(ctx, key, resp, ttl); cerr != nil {
		// The side effect already happened. Keep the pending claim and let it
		// expire on its own; releasing here would invite an immediate duplicate.
		log.Printf("idempotency: caching result for key failed: %v", cerr)
	}
	return resp, nil
}

func (co *Coordinator) release(ctx context.Context, key string) {
	if err := co.Store.ReleaseKey(ctx, key); err != nil {
		log.Printf("idempotency: releasing claim failed: %v", err)
	}
}
