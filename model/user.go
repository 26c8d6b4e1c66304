package model

import "time"

// UsageCounter tracks how many free messages a user has sent today. The count
// only ever grows until the scheduled daily reset sets it back to zero.
type UsageCounter struct {
	UserID       int64 `bson:"user_id" json:"user_id"`
	MessageCount int64 `bson:"message_count" json:"message_count"`
}

// AccessGrant remembers which access key a user activated and until when. The
// static demo-key table stays the source of truth for key validity; this
// record only mirrors the activation.
type AccessGrant struct {
	UserID     int64     `bson:"user_id" json:"user_id"`
	Key        string    `bson:"key" json:"key"`
	ValidUntil time.Time `bson:"valid_until" json:"valid_until"`
}
