package broker

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coregx/broker/internal/store"
	"github.com/coregx/broker/model"
)

func isConflictError(err error, target **store.ConflictError) bool {
	return errors.As(err, target)
}

// Topic is a handle to one topic's messages, schedules, and subscriptions.
type Topic struct {
	broker *Broker
	info   model.Topic
}

// ID returns the topic's time-ordered id.
func (t *Topic) ID() string { return t.info.ID }

// Name returns the topic's name.
func (t *Topic) Name() string { return t.info.Name }

// Subscribe creates the named subscription on this topic if it does not
// already exist, or returns the existing one. A second call with options
// that diverge from the stored configuration returns the existing
// subscription alongside a *broker.Error carrying ErrCodeConflict; the
// subscription itself remains usable under its stored configuration.
func (t *Topic) Subscribe(name string, opts ...SubscriptionOption) (*Subscription, error) {
	cfg := store.SubscriptionConfig{
		ConsumptionMode: model.Sequential,
		StartPosition:   model.Latest,
		MaxAttempts:     1,
		RetryStrategy:   model.LinearRetry,
		RetryDelayMs:    0,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	sub, err := t.broker.store.EnsureSubscription(t.broker.ctx, t.info.ID, name, cfg)
	if err != nil {
		var conflict *store.ConflictError
		if isConflictError(err, &conflict) {
			return &Subscription{broker: t.broker, topic: t, info: sub},
				NewErrorWithCause(ErrCodeConflict, conflict.Error(), err)
		}
		return nil, NewErrorWithCause(ErrCodeDatabase, fmt.Sprintf("failed to subscribe %q", name), err)
	}
	return &Subscription{broker: t.broker, topic: t, info: sub}, nil
}

// Send inserts one message with payload and fans it out to every current
// subscription of the topic in one transaction.
func (t *Topic) Send(payload json.RawMessage, opts ...WriteOption) (model.Message, error) {
	messages, err := t.SendBulk([]json.RawMessage{payload}, opts...)
	if err != nil {
		return model.Message{}, err
	}
	return messages[0], nil
}

// SendBulk inserts one message per payload, preserving array order via
// strictly increasing ids, and fans every one out to every current
// subscription of the topic in one transaction.
func (t *Topic) SendBulk(payloads []json.RawMessage, opts ...WriteOption) ([]model.Message, error) {
	var wopts store.WriteOptions
	for _, opt := range opts {
		opt(&wopts)
	}

	messages, err := t.broker.store.InsertMessages(t.broker.ctx, t.info.ID, payloads, wopts)
	if err != nil {
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to send messages", err)
	}
	return messages, nil
}

// Schedule creates or updates a named cron schedule on this topic. Updating
// an existing schedule's cron expression or payload never resets how many
// times it has already fired.
func (t *Topic) Schedule(name, cron string, payload json.RawMessage, opts ...ScheduleOption) (model.ScheduledMessage, error) {
	cfg := store.ScheduleConfig{Cron: cron}
	for _, opt := range opts {
		opt(&cfg)
	}

	sched, err := t.broker.store.UpsertSchedule(t.broker.ctx, t.info.ID, name, payload, cfg)
	if err != nil {
		return model.ScheduledMessage{}, NewErrorWithCause(ErrCodeSchedule, fmt.Sprintf("failed to schedule %q", name), err)
	}
	return sched, nil
}

// Clear deletes every message currently in the topic.
func (t *Topic) Clear() error {
	if err := t.broker.store.ClearTopic(t.broker.ctx, t.info.ID); err != nil {
		return NewErrorWithCause(ErrCodeDatabase, "failed to clear topic", err)
	}
	return nil
}

// GetMessages returns every message in the topic, ordered by id.
func (t *Topic) GetMessages() ([]model.Message, error) {
	messages, err := t.broker.store.GetMessages(t.broker.ctx, t.info.ID)
	if err != nil {
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to get messages", err)
	}
	return messages, nil
}

// GetScheduledMessages returns every scheduled message on the topic.
func (t *Topic) GetScheduledMessages() ([]model.ScheduledMessage, error) {
	schedules, err := t.broker.store.GetScheduledMessages(t.broker.ctx, t.info.ID)
	if err != nil {
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to get scheduled messages", err)
	}
	return schedules, nil
}

// WriteOption configures a single send or sendBulk call.
type WriteOption func(*store.WriteOptions)

// WithDeliverAt delays visibility of the message until an absolute time.
func WithDeliverAt(at time.Time) WriteOption {
	return func(o *store.WriteOptions) { o.DeliverAt = &at }
}

// WithPriority sets the message's reservation priority; lower values are
// reserved first, nil sorts last.
func WithPriority(p int32) WriteOption {
	return func(o *store.WriteOptions) { o.Priority = &p }
}

// WithDeliverInMs delays visibility of the message by a relative offset in
// milliseconds from the time it is sent.
func WithDeliverInMs(ms int64) WriteOption {
	return func(o *store.WriteOptions) { o.DeliverInMs = &ms }
}

// ScheduleOption configures a schedule call.
type ScheduleOption func(*store.ScheduleConfig)

// WithRepeats caps how many times a schedule fires before it stops being
// due. Unset means it repeats indefinitely.
func WithRepeats(n int64) ScheduleOption {
	return func(c *store.ScheduleConfig) { c.Repeats = &n }
}

// WithScheduledPriority sets the reservation priority materialized messages
// get each time the schedule fires.
func WithScheduledPriority(p int32) ScheduleOption {
	return func(c *store.ScheduleConfig) { c.Write.Priority = &p }
}
