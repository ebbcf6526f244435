package admission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"controlplane-backend/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PostgresStore implements Store on the shared Postgres database. The unique index
// on idempotency_records.key makes the conflict-ignoring insert the atomic claim;
// counters use an upsert increment. No read-modify-write happens in Go.
type PostgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

func (s *PostgresStore) ClaimKey(ctx context.Context, key string, maxExecution time.Duration) (ClaimResult, error) {
	// Two attempts: the second runs only after an expired row was cleared below.
	for attempt := 0; attempt < 2; attempt++ {
		now := time.Now().UTC()
		rec := models.IdempotencyRecord{
			Key:       key,
			State:     StatePending,
			ClaimedAt: now,
			ExpiresAt: now.Add(maxExecution),
		}
		res := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "key"}}, DoNothing: true}).
			Create(&rec)
		if res.Error != nil {
			return ClaimResult{}, storeErr("claim insert", res.Error)
		}
		if res.RowsAffected == 1 {
			return ClaimResult{Outcome: ClaimAcquired}, nil
		}

		var existing models.IdempotencyRecord
		err := s.db.WithContext(ctx).Where("key = ?", key).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Row vanished between insert and read (released or swept); retry.
			continue
		}
		if err != nil {
			return ClaimResult{}, storeErr("claim lookup", err)
		}

		if existing.ExpiresAt.After(now) {
			if existing.State == StateCompleted {
				resp, err := rowResponse(&existing)
				if err != nil {
					return ClaimResult{}, err
				}
				return ClaimResult{Outcome: ClaimCompleted, Response: resp}, nil
			}
			return ClaimResult{Outcome: ClaimPending}, nil
		}

		// Expired row: clear it and claim fresh. The expires_at guard keeps this
		// safe against a concurrent claimant that already replaced the row.
		del := s.db.WithContext(ctx).
			Where("key = ? AND expires_at <= ?", key, now).
			Delete(&models.IdempotencyRecord{})
		if del.Error != nil {
			return ClaimResult{}, storeErr("claim expiry delete", del.Error)
		}
	}

	// Lost the insert race twice; whoever won now holds a fresh pending claim.
	return ClaimResult{Outcome: ClaimPending}, nil
}

func (s *PostgresStore) CompleteKey(ctx context.Context, key string, resp CachedResponse, ttl time.Duration) error {
	hdrs, err := json.Marshal(resp.Headers)
	if err != nil {
		return fmt.Errorf("complete %q: marshal headers: %w", key, err)
	}

	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&models.IdempotencyRecord{}).
		Where("key = ? AND state = ?", key, StatePending).
		Updates(map[string]any{
			"state":            StateCompleted,
			"response_status":  resp.Status,
			"response_headers": datatypes.JSON(hdrs),
			"response_body":    resp.Body,
			"completed_at":     &now,
			"expires_at":       now.Add(ttl),
		})
	if res.Error != nil {
		return storeErr("complete", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("complete %q: no pending claim", key)
	}
	return nil
}

func (s *PostgresStore) ReleaseKey(ctx context.Context, key string) error {
	err := s.db.WithContext(ctx).
		Where("key = ? AND state = ?", key, StatePending).
		Delete(&models.IdempotencyRecord{}).Error
	if err != nil {
		return storeErr("release", err)
	}
	return nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, key string) (*Record, error) {
	var row models.IdempotencyRecord
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get", err)
	}
	if !row.ExpiresAt.After(time.Now().UTC()) {
		return nil, nil
	}

	rec := &Record{
		Key:       row.Key,
		State:     row.State,
		ClaimedAt: row.ClaimedAt,
		ExpiresAt: row.ExpiresAt,
	}
	if row.CompletedAt != nil {
		rec.CompletedAt = *row.CompletedAt
	}
	if row.State == StateCompleted {
		resp, err := rowResponse(&row)
		if err != nil {
			return nil, err
		}
		rec.Response = resp
	}
	return rec, nil
}

func (s *PostgresStore) IncrementCounter(ctx context.Context, id Identifier, windowStart time.Time, window time.Duration) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Raw(`
		INSERT INTO rate_limit_counters (identifier_type, identifier_value, window_start, count, reset_at, created_at)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT (identifier_type, identifier_value, window_start)
		DO UPDATE SET count = rate_limit_counters.count + 1
		RETURNING count`,
		string(id.Type), id.Value, windowStart.UTC(), windowStart.Add(window).UTC(), time.Now().UTC(),
	).Scan(&count).Error
	if err != nil {
		return 0, storeErr("increment counter", err)
	}
	return count, nil
}

func rowResponse(row *models.IdempotencyRecord) (*CachedResponse, error) {
	resp := &CachedResponse{
		Status: row.ResponseStatus,
		Body:   row.ResponseBody,
	}
	if len(row.ResponseHeaders) > 0 {
		if err := json.Unmarshal(row.ResponseHeaders, &resp.Headers); err != nil {
			return nil, fmt.Errorf("record %q: unmarshal headers: %w", row.Key, err)
		}
	}
	return resp, nil
}
