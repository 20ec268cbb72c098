package model

import "time"

// ConsumptionMode controls whether a subscription delivers messages to
// exactly one in-flight handler at a time (Sequential) or up to its
// consumer's concurrency budget at once (Parallel).
type ConsumptionMode string

const (
	// Sequential enforces at most one in-flight message per subscription,
	// across all consumer processes, via the sequential gate (see
	// Subscription.Processing).
	Sequential ConsumptionMode = "sequential"

	// Parallel allows up to the consumer's concurrency budget of messages
	// in flight at once.
	Parallel ConsumptionMode = "parallel"
)

// StartPosition controls which messages a newly created subscription is
// backfilled with.
type StartPosition string

const (
	// Earliest backfills every message already present in the topic at
	// subscription-creation time.
	Earliest StartPosition = "earliest"

	// Latest delivers only messages inserted after the subscription exists.
	Latest StartPosition = "latest"
)

// RetryStrategy selects the backoff formula fail() uses to compute the next
// AvailableAt when a handler invocation fails and attempts remain.
type RetryStrategy string

const (
	// LinearRetry delays retries by a constant RetryDelayMs.
	LinearRetry RetryStrategy = "linear"

	// ExponentialRetry delays retries by RetryDelayMs * 2^(attempts-1).
	ExponentialRetry RetryStrategy = "exponential"
)

// Subscription represents one consumer's durable view of a topic.
// Config is immutable after the first insert; Subscribe on an existing
// (topic_id, name) pair with divergent options surfaces a conflict but
// returns the stored row unchanged.
type Subscription struct {
	ID              string          `json:"id" db:"id"`
	TopicID         string          `json:"topicID" db:"topic_id"`
	Name            string          `json:"name" db:"name"`
	ConsumptionMode ConsumptionMode `json:"consumptionMode" db:"consumption_mode"`
	StartPosition   StartPosition   `json:"startPosition" db:"start_position"`
	MaxAttempts     int             `json:"maxAttempts" db:"max_attempts"`
	RetryStrategy   RetryStrategy   `json:"retryStrategy" db:"retry_strategy"`
	RetryDelayMs    int64           `json:"retryDelayMs" db:"retry_delay_ms"`
	Processing      bool            `json:"processing" db:"processing"`
	CreatedAt       time.Time       `json:"createdAt" db:"created_at"`
}

// TableName returns the storage relation name for Subscription.
func (s Subscription) TableName() string {
	return "subscriptions"
}

// Matches reports whether other describes the same immutable configuration
// as s. Used to detect a conflicting re-subscribe.
func (s Subscription) Matches(other Subscription) bool {
	return s.ConsumptionMode == other.ConsumptionMode &&
		s.StartPosition == other.StartPosition &&
		s.MaxAttempts == other.MaxAttempts &&
		s.RetryStrategy == other.RetryStrategy &&
		s.RetryDelayMs == other.RetryDelayMs
}
