package model

import "time"

// PlaceholderTitle is the title a conversation carries until the first real
// exchange replaces it.
const PlaceholderTitle = "New chat"

// ConversationMeta describes one conversation owned by a user, independent of
// its message content.
type ConversationMeta struct {
	UserID    int64     `bson:"user_id" json:"user_id"`
	ID        string    `bson:"id" json:"id"`
	Title     string    `bson:"title" json:"title"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}
