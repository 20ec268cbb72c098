package model

import (
	"encoding/json"
	"time"
)

// MessageStatus is the lifecycle state of one (subscription, message) pair.
type MessageStatus string

const (
	StatusWaiting    MessageStatus = "waiting"
	StatusProcessing MessageStatus = "processing"
	StatusCompleted  MessageStatus = "completed"
	StatusFailed     MessageStatus = "failed"
)

// SubscriptionMessage is the per-subscription delivery record for a message:
// one row per (subscription_id, message_id), carrying everything the
// reservation engine and stale detector need to decide what happens next.
type SubscriptionMessage struct {
	SubscriptionID  string          `json:"subscriptionID" db:"subscription_id"`
	MessageID       string          `json:"messageID" db:"message_id"`
	Status          MessageStatus   `json:"status" db:"status"`
	Attempts        int             `json:"attempts" db:"attempts"`
	AvailableAt     *time.Time      `json:"availableAt,omitempty" db:"available_at"`
	ErrorStack      *string         `json:"errorStack,omitempty" db:"error_stack"`
	LastHeartbeatAt *time.Time      `json:"lastHeartbeatAt,omitempty" db:"last_heartbeat_at"`
	Progress        json.RawMessage `json:"progress,omitempty" db:"progress"`
	StaleCount      int             `json:"staleCount" db:"stale_count"`
}

// TableName returns the storage relation name for SubscriptionMessage.
func (s SubscriptionMessage) TableName() string {
	return "subscription_messages"
}

// ReservedMessage is the row shape returned by the reservation engine: a
// subscription_messages row joined back to its immutable messages row, which
// is everything a consumer's handler needs to act on a delivery.
type ReservedMessage struct {
	SubscriptionID string          `json:"subscriptionID" db:"subscription_id"`
	MessageID      string          `json:"messageID" db:"message_id"`
	TopicID        string          `json:"topicID" db:"topic_id"`
	Payload        json.RawMessage `json:"payload" db:"payload"`
	Attempts       int             `json:"attempts" db:"attempts"`
	Priority       *int32          `json:"priority,omitempty" db:"priority"`
	CreatedAt      time.Time       `json:"createdAt" db:"created_at"`
}
