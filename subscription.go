package broker

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/coregx/broker/internal/store"
	"github.com/coregx/broker/model"
	"github.com/coregx/broker/retry"
)

// Subscription is a handle to one named subscription on a topic: a cached
// copy of its immutable configuration plus the id used to drive the
// reservation engine.
type Subscription struct {
	broker *Broker
	topic  *Topic
	info   model.Subscription
}

// ID returns the subscription's id.
func (s *Subscription) ID() string { return s.info.ID }

// Name returns the subscription's name.
func (s *Subscription) Name() string { return s.info.Name }

// sequential reports whether this subscription enforces the sequential
// gate, i.e. whether reservation and completion must serialize.
func (s *Subscription) sequential() bool {
	return s.info.ConsumptionMode == model.Sequential
}

// Consume attaches a Consumer to this subscription and starts polling
// unless WithAutostart(false) is given.
func (s *Subscription) Consume(handler Handler, opts ...ConsumerOption) (*Consumer, error) {
	return newConsumer(s, handler, opts...)
}

// GetMessages returns the delivery state rows for this subscription,
// optionally filtered to the given statuses. No statuses returns every row.
func (s *Subscription) GetMessages(statuses ...model.MessageStatus) ([]model.SubscriptionMessage, error) {
	rows, err := s.broker.store.GetSubscriptionMessages(s.broker.ctx, s.info.ID, statuses)
	if err != nil {
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to get subscription messages", err)
	}
	return rows, nil
}

// Remove deletes the subscription and every one of its delivery state
// rows.
func (s *Subscription) Remove() error {
	if err := s.broker.store.RemoveSubscription(s.broker.ctx, s.info.ID); err != nil {
		return NewErrorWithCause(ErrCodeDatabase, "failed to remove subscription", err)
	}
	return nil
}

// reserveNext reserves up to n messages for this subscription.
func (s *Subscription) reserveNext(n int) ([]model.ReservedMessage, error) {
	ctx, span := s.broker.tracer.Start(s.broker.ctx, "broker.reserve")
	defer span.End()
	return s.broker.store.ReserveNext(ctx, s.info.ID, n)
}

// complete marks a reserved message completed.
func (s *Subscription) complete(messageID string) error {
	return s.broker.store.Complete(s.broker.ctx, s.info.ID, messageID, s.sequential())
}

// fail computes the retry-or-terminal decision from the subscription's
// cached immutable policy and applies it. This is the one place the
// reservation engine's fail() primitive (which only applies an
// already-decided outcome) meets the subscription's model.RetryStrategy
// configuration.
func (s *Subscription) fail(messageID string, attempts int, cause error) error {
	errStack := cause.Error()

	if retry.Exhausted(attempts, s.info.MaxAttempts) {
		outcome := store.FailureOutcome{
			Terminal:         true,
			ErrorStack:       &errStack,
			DeadLetterReason: fmt.Sprintf("attempts exhausted (%d/%d): %s", attempts, s.info.MaxAttempts, cause),
		}
		if err := s.broker.store.Fail(s.broker.ctx, s.info.ID, messageID, outcome, s.sequential()); err != nil {
			return err
		}
		return s.notifyDeadLettered(messageID, attempts, errStack)
	}

	availableAt := retry.NextAvailableAt(s.broker.now(), s.info.RetryStrategy, s.info.RetryDelayMs, attempts)
	outcome := store.FailureOutcome{
		AvailableAt: &availableAt,
		ErrorStack:  &errStack,
	}
	return s.broker.store.Fail(s.broker.ctx, s.info.ID, messageID, outcome, s.sequential())
}

func (s *Subscription) notifyDeadLettered(messageID string, attempts int, errStack string) error {
	letter := model.DeadLetter{
		SubscriptionID: s.info.ID,
		MessageID:      messageID,
		Attempts:       attempts,
		Reason:         "attempts exhausted",
		ErrorStack:     &errStack,
	}
	if err := s.broker.notifier.NotifyDeadLettered(s.broker.ctx, letter); err != nil {
		s.broker.logger.Warnf("dead-letter notification failed: %v", err)
	}
	return nil
}

// RetryMessage forces a failed message back to waiting without touching
// its attempts, per the documented manual-retry semantics: a row retried
// this way that fails again compares its unchanged attempts to
// max_attempts as-is, so it can return straight to failed after a single
// further attempt.
func (s *Subscription) RetryMessage(messageID string) error {
	if err := s.broker.store.Retry(s.broker.ctx, s.info.ID, messageID); err != nil {
		return NewErrorWithCause(ErrCodeDatabase, "failed to retry message", err)
	}
	return nil
}

func (s *Subscription) updateProgress(messageID string, progress json.RawMessage) error {
	return s.broker.store.UpdateProgress(s.broker.ctx, s.info.ID, messageID, progress)
}

func (s *Subscription) heartbeat(messageID string) error {
	return s.broker.store.Heartbeat(s.broker.ctx, s.info.ID, messageID)
}

// DeadLetterStats aggregates the dead-letter records for this subscription,
// for operator dashboards.
func (s *Subscription) DeadLetterStats() (model.DeadLetterStats, error) {
	stats, err := s.broker.store.GetDeadLetterStats(s.broker.ctx, s.info.ID)
	if err != nil {
		return model.DeadLetterStats{}, NewErrorWithCause(ErrCodeDatabase, "failed to get dead letter stats", err)
	}
	return stats, nil
}

// DeadLetters returns up to limit dead-letter records for this
// subscription, newest first.
func (s *Subscription) DeadLetters(limit int) ([]model.DeadLetter, error) {
	letters, err := s.broker.store.ListDeadLetters(s.broker.ctx, s.info.ID, limit)
	if err != nil {
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to list dead letters", err)
	}
	return letters, nil
}

func (b *Broker) now() time.Time { return time.Now().UTC() }
