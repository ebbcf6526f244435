package admission

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis. SETNX is the atomic claim, INCR the atomic
// counter increment; record and counter expiry ride on native key TTLs, so no
// sweeper is needed for this backend.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "admission"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

type redisRecord struct {
	State       string          `json:"state"`
	Response    *CachedResponse `json:"response,omitempty"`
	ClaimedAt   time.Time       `json:"claimed_at"`
	CompletedAt time.Time       `json:"completed_at,omitempty"`
}

func (s *RedisStore) recordKey(key string) string {
	return s.prefix + ":idem:" + key
}

func (s *RedisStore) counterKey(id Identifier, windowStart time.Time) string {
	return fmt.Sprintf("%s:rl:%s:%s:%d", s.prefix, id.Type, id.Value, windowStart.UnixMilli())
}

func (s *RedisStore) ClaimKey(ctx context.Context, key string, maxExecution time.Duration) (ClaimResult, error) {
	now := time.Now().UTC()
	blob, err := json.Marshal(redisRecord{State: StatePending, ClaimedAt: now})
	if err != nil {
		return ClaimResult{}, fmt.Errorf("claim %q: marshal: %w", key, err)
	}

	// Two attempts cover the race where the key expires between SETNX and GET.
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := s.rdb.SetNX(ctx, s.recordKey(key), blob, maxExecution).Result()
		if err != nil {
			return ClaimResult{}, storeErr("claim setnx", err)
		}
		if ok {
			return ClaimResult{Outcome: ClaimAcquired}, nil
		}

		raw, err := s.rdb.Get(ctx, s.recordKey(key)).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return ClaimResult{}, storeErr("claim get", err)
		}

		var rec redisRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return ClaimResult{}, fmt.Errorf("claim %q: unmarshal: %w", key, err)
		}
		if rec.State == StateCompleted {
			return ClaimResult{Outcome: ClaimCompleted, Response: rec.Response}, nil
		}
		return ClaimResult{Outcome: ClaimPending}, nil
	}

	return ClaimResult{Outcome: ClaimPending}, nil
}

func (s *RedisStore) CompleteKey(ctx context.Context, key string, resp CachedResponse, ttl time.Duration) error {
	// Only the claimant completes, so a plain SET over the pending value is safe.
	now := time.Now().UTC()
	blob, err := json.Marshal(redisRecord{
		State:       StateCompleted,
		Response:    &resp,
		ClaimedAt:   now,
		CompletedAt: now,
	})
	if err != nil {
		return fmt.Errorf("complete %q: marshal: %w", key, err)
	}
	if err := s.rdb.Set(ctx, s.recordKey(key), blob, ttl).Err(); err != nil {
		return storeErr("complete", err)
	}
	return nil
}

func (s *RedisStore) ReleaseKey(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.recordKey(key)).Err(); err != nil {
		return storeErr("release", err)
	}
	return nil
}

func (s *RedisStore) GetRecord(ctx context.Context, key string) (*Record, error) {
	pipe := s.rdb.Pipeline()
	getCmd := pipe.Get(ctx, s.recordKey(key))
	ttlCmd := pipe.PTTL(ctx, s.recordKey(key))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, storeErr("get", err)
	}

	raw, err := getCmd.Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get", err)
	}

	var rec redisRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("record %q: unmarshal: %w", key, err)
	}

	out := &Record{
		Key:         key,
		State:       rec.State,
		Response:    rec.Response,
		ClaimedAt:   rec.ClaimedAt,
		CompletedAt: rec.CompletedAt,
	}
	if ttl, err := ttlCmd.Result(); err == nil && ttl > 0 {
		out.ExpiresAt = time.Now().UTC().Add(ttl)
	}
	return out, nil
}

func (s *RedisStore) IncrementCounter(ctx context.Context, id Identifier, windowStart time.Time, window time.Duration) (int64, error) {
	k := s.counterKey(id, windowStart)

	pipe := s.rdb.Pipeline()
	incr := pipe.Incr(ctx, k)
	// Keep the counter one extra window past reset for inspection, then let Redis drop it.
	pipe.PExpireAt(ctx, k, windowStart.Add(2*window))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, storeErr("increment counter", err)
	}
	return incr.Val(), nil
}
