package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCoordinator(store Store) *Coordinator {
	co := NewCoordinator(store)
	co.WaitTimeout = 2 * time.Second
	co.PollInterval = 10 * time.Millisecond
	return co
}

func okResponse(body string) CachedResponse {
	return CachedResponse{
		Status:  201,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    []byte(body),
	}
}

func TestCoordinatorAtMostOnce(t *testing.T) {
	co := testCoordinator(NewMemoryStore())
	ctx := context.Background()

	var executions int32
	op := func() (CachedResponse, error) {
		n := atomic.AddInt32(&executions, 1)
		time.Sleep(30 * time.Millisecond) // keep the claim held while others arrive
		return okResponse(fmt.Sprintf(`{"org":"acme","attempt":%d}`, n)), nil
	}

	const callers = 25
	results := make([]CachedResponse, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = co.Do(ctx, "create_org:acme", op)
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&executions), "operation must run exactly once")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i], "caller %d", i)
		assert.Equal(t, results[0].Status, results[i].Status, "caller %d", i)
		assert.Equal(t, string(results[0].Body), string(results[i].Body), "caller %d", i)
	}
}

func TestCoordinatorReplaysCompletedResult(t *testing.T) {
	co := testCoordinator(NewMemoryStore())
	ctx := context.Background()

	var executions int32
	op := func() (CachedResponse, error) {
		atomic.AddInt32(&executions, 1)
		return okResponse(`{"org":"acme"}`), nil
	}

	first, replayed, err := co.Do(ctx, "create_org:acme", op)
	require.NoError(t, err)
	assert.False(t, replayed)

	second, replayed, err := co.Do(ctx, "create_org:acme", op)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, string(first.Body), string(second.Body))
	assert.Equal(t, first.Headers, second.Headers)
	assert.EqualValues(t, 1, executions)
}

func TestCoordinatorTTLExpiry(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	co := testCoordinator(store)
	co.TTL = time.Hour
	ctx := context.Background()

	var executions int32
	op := func() (CachedResponse, error) {
		atomic.AddInt32(&executions, 1)
		return okResponse(`{}`), nil
	}

	_, _, err := co.Do(ctx, "create_org:acme", op)
	require.NoError(t, err)

	// Still inside the TTL: replay, no second execution.
	now = now.Add(59 * time.Minute)
	_, replayed, err := co.Do(ctx, "create_org:acme", op)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.EqualValues(t, 1, executions)

	// Past the TTL: the key is eligible for a brand-new claim.
	now = now.Add(2 * time.Minute)
	_, replayed, err = co.Do(ctx, "create_org:acme", op)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.EqualValues(t, 2, executions)
}

func TestCoordinatorReleasesClaimOnFailure(t *testing.T) {
	co := testCoordinator(NewMemoryStore())
	ctx := context.Background()

	boom := errors.New("db down")
	_, _, err := co.Do(ctx, "create_org:acme", func() (CachedResponse, error) {
		return CachedResponse{}, boom
	})
	require.ErrorIs(t, err, boom)

	// No permanent lock: an immediate retry claims and executes.
	var executions int32
	resp, replayed, err := co.Do(ctx, "create_org:acme", func() (CachedResponse, error) {
		atomic.AddInt32(&executions, 1)
		return okResponse(`{}`), nil
	})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, 201, resp.Status)
	assert.EqualValues(t, 1, executions)
}

func TestCoordinatorDoesNotCacheBusinessFailure(t *testing.T) {
	co := testCoordinator(NewMemoryStore())
	ctx := context.Background()

	resp, replayed, err := co.Do(ctx, "create_org:acme", func() (CachedResponse, error) {
		return CachedResponse{Status: 422, Body: []byte(`{"message":"validation failed"}`)}, nil
	})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, 422, resp.Status, "failure is reported as-is")

	// The failed attempt was not cached; the retry executes fresh.
	resp, replayed, err = co.Do(ctx, "create_org:acme", func() (CachedResponse, error) {
		return okResponse(`{}`), nil
	})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, 201, resp.Status)
}

func TestCoordinatorWaitTimeout(t *testing.T) {
	store := NewMemoryStore()
	co := testCoordinator(store)
	co.WaitTimeout = 150 * time.Millisecond
	ctx := context.Background()

	// Simulate another instance holding the claim and never finishing (yet).
	claim, err := store.ClaimKey(ctx, "create_org:acme", time.Minute)
	require.NoError(t, err)
	require.Equal(t, ClaimAcquired, claim.Outcome)

	var executions int32
	_, _, err = co.Do(ctx, "create_org:acme", func() (CachedResponse, error) {
		atomic.AddInt32(&executions, 1)
		return okResponse(`{}`), nil
	})
	assert.ErrorIs(t, err, ErrClaimInProgress)
	assert.EqualValues(t, 0, executions, "a wait timeout must never re-execute")
}

func TestCoordinatorWaitsForInflightCompletion(t *testing.T) {
	store := NewMemoryStore()
	co := testCoordinator(store)
	ctx := context.Background()

	claim, err := store.ClaimKey(ctx, "create_org:acme", time.Minute)
	require.NoError(t, err)
	require.Equal(t, ClaimAcquired, claim.Outcome)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = store.CompleteKey(ctx, "create_org:acme", okResponse(`{"org":"acme"}`), time.Hour)
	}()

	resp, replayed, err := co.Do(ctx, "create_org:acme", func() (CachedResponse, error) {
		t.Error("waiter must not execute")
		return CachedResponse{}, nil
	})
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, `{"org":"acme"}`, string(resp.Body))
}

func TestCoordinatorReclaimsCrashedClaim(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	co := testCoordinator(store)
	co.MaxExecution = 30 * time.Second
	ctx := context.Background()

	// A claimant that crashed: pending record, never completed.
	claim, err := store.ClaimKey(ctx, "create_org:acme", co.MaxExecution)
	require.NoError(t, err)
	require.Equal(t, ClaimAcquired, claim.Outcome)

	// Past the max-execution bound the stale pending no longer blocks anyone.
	now = now.Add(31 * time.Second)

	var executions int32
	resp, replayed, err := co.Do(ctx, "create_org:acme", func() (CachedResponse, error) {
		atomic.AddInt32(&executions, 1)
		return okResponse(`{}`), nil
	})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, 201, resp.Status)
	assert.EqualValues(t, 1, executions)
}

func TestCoordinatorEmptyKeyRejected(t *testing.T) {
	co := testCoordinator(NewMemoryStore())
	_, _, err := co.Do(context.Background(), "", func() (CachedResponse, error) {
		return okResponse(`{}`), nil
	})
	assert.ErrorIs(t, err, ErrAmbiguousKey)
}

// failingStore rejects everything, standing in for an unreachable backend.
type failingStore struct{}

func (failingStore) ClaimKey(context.Context, string, time.Duration) (ClaimResult, error) {
	return ClaimResult{}, storeErr("claim", errors.New("connection refused"))
}
func (failingStore) CompleteKey(context.Context, string, CachedResponse, time.Duration) error {
	return storeErr("complete", errors.New("connection refused"))
}
func (failingStore) ReleaseKey(context.Context, string) error {
	return storeErr("release", errors.New("connection refused"))
}
func (failingStore) GetRecord(context.Context, string) (*Record, error) {
	return nil, storeErr("get", errors.New("connection refused"))
}
func (failingStore) IncrementCounter(context.Context, Identifier, time.Time, time.Duration) (int64, error) {
	return 0, storeErr("incr", errors.New("connection refused"))
}

func TestCoordinatorFailsClosedOnStoreOutage(t *testing.T) {
	co := testCoordinator(failingStore{})

	var executions int32
	_, _, err := co.Do(context.Background(), "create_org:acme", func() (CachedResponse, error) {
		atomic.AddInt32(&executions, 1)
		return okResponse(`{}`), nil
	})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.EqualValues(t, 0, executions, "must not execute without dedup protection")
}

func TestLimiterFailsClosedOnStoreOutage(t *testing.T) {
	l := NewLimiter(failingStore{})
	_, err := l.Check(context.Background(), IPIdentifier("1.2.3.4"), 5, time.Hour)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}
