package model

import (
	"encoding/json"
	"time"
)

// Message represents a published message in a topic.
// Messages are immutable once inserted, except for deletion by explicit
// removal or retention trimming. The id is a time-ordered identifier and is
// the canonical total order for messages within a topic.
type Message struct {
	ID        string          `json:"id" db:"id"`
	TopicID   string          `json:"topicID" db:"topic_id"`
	Payload   json.RawMessage `json:"payload" db:"payload"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
	DeliverAt *time.Time      `json:"deliverAt,omitempty" db:"deliver_at"`
	Priority  *int32          `json:"priority,omitempty" db:"priority"`
}

// TableName returns the storage relation name for Message.
func (m Message) TableName() string {
	return "messages"
}
