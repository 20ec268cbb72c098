package model

import "time"

// DeadLetter is a denormalized, append-only record written purely for
// operator visibility whenever a subscription-message reaches failed.
// It does not participate in delivery semantics: the subscription_messages
// row remains the sole authority on what happens next for that message.
type DeadLetter struct {
	ID             string    `json:"id" db:"id"`
	SubscriptionID string    `json:"subscriptionID" db:"subscription_id"`
	MessageID      string    `json:"messageID" db:"message_id"`
	Attempts       int       `json:"attempts" db:"attempts"`
	Reason         string    `json:"reason" db:"reason"`
	ErrorStack     *string   `json:"errorStack,omitempty" db:"error_stack"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
}

// TableName returns the storage relation name for DeadLetter.
func (d DeadLetter) TableName() string {
	return "dead_letters"
}

// DeadLetterStats is the aggregate view surfaced to operators, mirroring the
// teacher's DLQRepository.GetStats shape but keyed by subscription rather
// than by queue.
type DeadLetterStats struct {
	SubscriptionID string     `json:"subscriptionID"`
	Total          int64      `json:"total"`
	OldestAt       *time.Time `json:"oldestAt,omitempty"`
	NewestAt       *time.Time `json:"newestAt,omitempty"`
}
