package broker

import (
	"context"

	"github.com/coregx/broker/model"
)

// NotificationService receives callbacks for events an operator usually
// wants to alert on: a handler failure, a message moving to its terminal
// failed state and being written to the dead-letter record, and a stale
// reservation being reclaimed. Implementations typically forward these to
// an alerting system (email, Slack, PagerDuty); failures to notify are
// logged and otherwise ignored by the caller.
type NotificationService interface {
	// NotifyHandlerFailure is called every time a handler invocation fails,
	// whether or not the message is exhausted.
	NotifyHandlerFailure(ctx context.Context, subscriptionID, messageID string, attempts int, cause error) error

	// NotifyDeadLettered is called when a handler failure exhausts the
	// subscription's max_attempts and a dead-letter record is written. A
	// message failed by a second stale lapse also gets a dead-letter record,
	// but is reported only through NotifyStaleRecovered with newStatus
	// failed.
	NotifyDeadLettered(ctx context.Context, letter model.DeadLetter) error

	// NotifyStaleRecovered is called when the stale detector reclaims a
	// reservation whose heartbeat lapsed.
	NotifyStaleRecovered(ctx context.Context, subscriptionID, messageID string, newStatus model.MessageStatus) error
}

// NoOpNotificationService discards every event. It is the default
// notification service for a Broker that does not configure one.
type NoOpNotificationService struct{}

func (NoOpNotificationService) NotifyHandlerFailure(context.Context, string, string, int, error) error {
	return nil
}

func (NoOpNotificationService) NotifyDeadLettered(context.Context, model.DeadLetter) error {
	return nil
}

func (NoOpNotificationService) NotifyStaleRecovered(context.Context, string, string, model.MessageStatus) error {
	return nil
}

// LoggingNotificationService logs every event at the appropriate level
// through a Logger instead of forwarding to an external alerting system.
// Useful during development or when the embedding application wants
// notifications in its own log stream rather than a dedicated channel.
type LoggingNotificationService struct {
	Logger Logger
}

func (s LoggingNotificationService) NotifyHandlerFailure(_ context.Context, subscriptionID, messageID string, attempts int, cause error) error {
	s.Logger.Warnf("handler failed: subscription=%s message=%s attempts=%d cause=%v", subscriptionID, messageID, attempts, cause)
	return nil
}

func (s LoggingNotificationService) NotifyDeadLettered(_ context.Context, letter model.DeadLetter) error {
	s.Logger.Errorf("message dead-lettered: subscription=%s message=%s attempts=%d reason=%s", letter.SubscriptionID, letter.MessageID, letter.Attempts, letter.Reason)
	return nil
}

func (s LoggingNotificationService) NotifyStaleRecovered(_ context.Context, subscriptionID, messageID string, newStatus model.MessageStatus) error {
	s.Logger.Warnf("stale reservation recovered: subscription=%s message=%s new_status=%s", subscriptionID, messageID, newStatus)
	return nil
}
