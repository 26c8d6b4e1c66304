package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one stored conversation turn.
type Message struct {
	Role      string    `bson:"role" json:"role"`
	Content   string    `bson:"content" json:"content"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// HistoryRecord holds the rolling message log for one (user, conversation) pair.
// Legacy records written before conversations existed have no conversation_id field.
type HistoryRecord struct {
	UserID         int64        `bson:"user_id" json:"user_id"`
	ConversationID string       `bson:"conversation_id,omitempty" json:"conversation_id,omitempty"`
	Messages       []RawMessage `bson:"conversation_history" json:"conversation_history"`
}

// RawMessage is the on-disk shape of a message. The timestamp is kept untyped
// because legacy documents stored it as an ISO string rather than a bson datetime.
type RawMessage struct {
	Role      string      `bson:"role" json:"role"`
	Content   string      `bson:"content" json:"content"`
	Timestamp interface{} `bson:"timestamp" json:"timestamp"`
}

// Normalize converts a raw message into a Message with a timezone-aware
// timestamp. Unparseable or missing timestamps fall back to now: staying
// available beats preserving a value nobody can interpret.
func (m RawMessage) Normalize(now time.Time) Message {
	role := m.Role
	if role == "" {
		role = RoleUser
	}
	return Message{
		Role:      role,
		Content:   m.Content,
		Timestamp: normalizeTimestamp(m.Timestamp, now),
	}
}

func normalizeTimestamp(v interface{}, now time.Time) time.Time {
	switch ts := v.(type) {
	case time.Time:
		return ts.UTC()
	case primitive.DateTime:
		return ts.Time().UTC()
	case string:
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			return t.UTC()
		}
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			return t.UTC()
		}
		return now
	default:
		return now
	}
}

// Raw converts a normalized message back to its storable shape.
func (m Message) Raw() RawMessage {
	return RawMessage{Role: m.Role, Content: m.Content, Timestamp: m.Timestamp}
}
