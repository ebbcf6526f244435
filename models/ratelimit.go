package models

import "time"

// RateLimitCounter is one fixed-window counter. Identity is the composite
// (identifier_type, identifier_value, window_start); a rolled-over window gets a
// new row rather than reusing the old one, and counts only ever go up within a
// row (atomic upsert increment, never read-modify-write).
type RateLimitCounter struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	IdentifierType  string    `json:"identifier_type" gorm:"size:16;not null;uniqueIndex:idx_rate_limit_window"`
	IdentifierValue string    `json:"identifier_value" gorm:"size:190;not null;uniqueIndex:idx_rate_limit_window"`
	WindowStart     time.Time `json:"window_start" gorm:"not null;uniqueIndex:idx_rate_limit_window"`
	Count           int64     `json:"count" gorm:"not null;default:0"`
	ResetAt         time.Time `json:"reset_at" gorm:"index"`
	CreatedAt       time.Time `json:"created_at"`
}
