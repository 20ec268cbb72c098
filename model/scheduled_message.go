package model

import (
	"encoding/json"
	"time"
)

// ScheduledMessage represents a cron-driven schedule that materializes a
// concrete Message into its topic when its next occurrence is due.
// Uniquely keyed by (TopicID, Name); upserting the same key updates the
// schedule but never resets RepeatsMade.
type ScheduledMessage struct {
	TopicID          string          `json:"topicID" db:"topic_id"`
	Name             string          `json:"name" db:"name"`
	Payload          json.RawMessage `json:"payload" db:"payload"`
	Cron             string          `json:"cron" db:"cron"`
	NextOccurrenceAt time.Time       `json:"nextOccurrenceAt" db:"next_occurrence_at"`
	DeliverInMs      *int64          `json:"deliverInMs,omitempty" db:"deliver_in_ms"`
	DeliverAt        *time.Time      `json:"deliverAt,omitempty" db:"deliver_at"`
	Priority         *int32          `json:"priority,omitempty" db:"priority"`
	Repeats          *int64          `json:"repeats,omitempty" db:"repeats"`
	RepeatsMade      int64           `json:"repeatsMade" db:"repeats_made"`
}

// TableName returns the storage relation name for ScheduledMessage.
func (s ScheduledMessage) TableName() string {
	return "scheduled_messages"
}

// Exhausted reports whether the schedule has already fired its configured
// number of occurrences and will never fire again.
func (s ScheduledMessage) Exhausted() bool {
	return s.Repeats != nil && s.RepeatsMade >= *s.Repeats
}
