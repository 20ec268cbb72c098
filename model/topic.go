// Package model contains the domain types shared by the broker engine, the
// store adapters, and the embedding application: topics, messages, scheduled
// messages, subscriptions, and the per-subscription delivery state.
package model

import "time"

// Unbounded marks a topic's retention policy as unlimited: the retention
// trimmer treats it as a permanent no-op for that topic.
const Unbounded int64 = -1

// Topic represents a message category in the broker.
// Topics are created lazily on first reference and are immutable after
// creation except for destruction by explicit cascade.
type Topic struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	MaxRetention int64     `json:"maxRetention" db:"max_retention"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}

// TableName returns the storage relation name for Topic.
func (t Topic) TableName() string {
	return "topics"
}

// NewTopic creates a new topic with the given retention policy.
// A maxRetention of Unbounded disables the retention trimmer for this topic.
func NewTopic(id, name string, maxRetention int64) Topic {
	return Topic{
		ID:           id,
		Name:         name,
		MaxRetention: maxRetention,
		CreatedAt:    time.Now(),
	}
}
