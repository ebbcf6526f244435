package models

import (
	"time"

	"gorm.io/datatypes"
)

// IdempotencyRecord is one claimed idempotency key. At most one row exists per key
// (unique index); the atomic insert against that index is the serialization point
// for concurrent claims.
//
// ExpiresAt does double duty: while State is "pending" it is the claim deadline
// (bounds a crashed executor), once "completed" it is the replay TTL. A row past
// ExpiresAt is treated as absent and eligible for a brand-new claim.
type IdempotencyRecord struct {
	ID              uint           `json:"id" gorm:"primaryKey"`
	Key             string         `json:"key" gorm:"size:512;uniqueIndex"`
	State           string         `json:"state" gorm:"size:16;not null"`
	ResponseStatus  int            `json:"response_status"`
	ResponseHeaders datatypes.JSON `json:"-"`
	ResponseBody    []byte         `json:"-" gorm:"type:bytea"`
	ClaimedAt       time.Time      `json:"claimed_at"`
	CompletedAt     *time.Time     `json:"completed_at"`
	ExpiresAt       time.Time      `json:"expires_at" gorm:"index"`
	CreatedAt       time.Time      `json:"created_at"`
}
