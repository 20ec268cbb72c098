package broker

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/coregx/broker/internal/store"
	"github.com/coregx/broker/model"
)

// BrokerOption configures a Broker at construction time. Used with the
// Options Pattern for flexible service construction.
type BrokerOption func(*Broker) error

// WithLogger sets the logger instance used for every background loop and
// consumer spawned from this broker. Defaults to NoopLogger.
func WithLogger(logger Logger) BrokerOption {
	return func(b *Broker) error {
		if logger == nil {
			return NewError(ErrCodeConfiguration, "logger cannot be nil")
		}
		b.logger = logger
		return nil
	}
}

// WithNotifications sets the notification service notified of stale
// recoveries, handler failures, and dead-letter writes. Defaults to
// NoOpNotificationService.
func WithNotifications(service NotificationService) BrokerOption {
	return func(b *Broker) error {
		if service == nil {
			return NewError(ErrCodeConfiguration, "notification service cannot be nil")
		}
		b.notifier = service
		return nil
	}
}

// WithTrimInterval overrides how often the retention trimmer sweeps every
// topic. Default 60s.
func WithTrimInterval(d time.Duration) BrokerOption {
	return func(b *Broker) error { b.trimInterval = d; return nil }
}

// WithStaleTimeout overrides the heartbeat lapse threshold the stale
// detector uses to reclaim abandoned reservations. Default 60s.
func WithStaleTimeout(d time.Duration) BrokerOption {
	return func(b *Broker) error { b.staleTimeout = d; return nil }
}

// WithResetStaleInterval overrides how often the stale detector sweeps.
// Default 60s.
func WithResetStaleInterval(d time.Duration) BrokerOption {
	return func(b *Broker) error { b.resetStaleInterval = d; return nil }
}

// WithScheduledInterval overrides how often due schedules are materialized.
// Default 5s.
func WithScheduledInterval(d time.Duration) BrokerOption {
	return func(b *Broker) error { b.scheduledInterval = d; return nil }
}

// WithTracer sets the tracer used for the reservation engine's spans and
// the consumer's handler-dispatch spans. Defaults to a tracer from a
// private no-op tracer provider (not the global one), so tracing is inert
// unless a tracer from a real provider is passed here.
func WithTracer(tracer trace.Tracer) BrokerOption {
	return func(b *Broker) error {
		if tracer == nil {
			return NewError(ErrCodeConfiguration, "tracer cannot be nil")
		}
		b.tracer = tracer
		return nil
	}
}

// TopicOption configures a topic at first reference.
type TopicOption func(*topicConfig)

type topicConfig struct {
	maxRetention int64
}

// WithMaxRetention sets how many acknowledged messages a topic keeps beyond
// the earliest unacknowledged one. model.Unbounded disables trimming.
// Ignored if the topic already exists: topic configuration is immutable
// after creation.
func WithMaxRetention(n int64) TopicOption {
	return func(c *topicConfig) { c.maxRetention = n }
}

// SubscriptionOption configures a subscription at first creation. Ignored
// (with a conflict error surfaced to the caller) if a subscription by that
// name already exists with different configuration.
type SubscriptionOption func(*store.SubscriptionConfig)

// WithConsumptionMode sets sequential or parallel delivery. Default
// sequential.
func WithConsumptionMode(mode model.ConsumptionMode) SubscriptionOption {
	return func(c *store.SubscriptionConfig) { c.ConsumptionMode = mode }
}

// WithStartPosition sets whether a new subscription backfills every
// existing message (earliest) or only sees messages sent after it is
// created (latest). Default latest.
func WithStartPosition(pos model.StartPosition) SubscriptionOption {
	return func(c *store.SubscriptionConfig) { c.StartPosition = pos }
}

// WithMaxAttempts sets how many reservation attempts a message gets before
// it becomes terminally failed. Default 1.
func WithMaxAttempts(n int) SubscriptionOption {
	return func(c *store.SubscriptionConfig) { c.MaxAttempts = n }
}

// WithRetryStrategy sets linear or exponential backoff between attempts.
// Default linear.
func WithRetryStrategy(strategy model.RetryStrategy) SubscriptionOption {
	return func(c *store.SubscriptionConfig) { c.RetryStrategy = strategy }
}

// WithRetryDelayMs sets the base retry delay in milliseconds. Default 0.
func WithRetryDelayMs(ms int64) SubscriptionOption {
	return func(c *store.SubscriptionConfig) { c.RetryDelayMs = ms }
}

// ConsumerOption configures a Consumer at construction time.
type ConsumerOption func(*consumerConfig)

// WithConcurrency sets how many messages the consumer dispatches at once.
// Forced to 1 for sequential subscriptions regardless of this setting.
// Default 1.
func WithConcurrency(n int) ConsumerOption {
	return func(c *consumerConfig) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithPollingInterval sets how often the consumer's poll loop triggers a
// drain. Default 1s.
func WithPollingInterval(d time.Duration) ConsumerOption {
	return func(c *consumerConfig) { c.pollingInterval = d }
}

// WithHeartbeatInterval sets how often an in-flight message's heartbeat is
// refreshed. Default 10s.
func WithHeartbeatInterval(d time.Duration) ConsumerOption {
	return func(c *consumerConfig) { c.heartbeatInterval = d }
}

// WithAutostart starts the poll loop immediately on construction. Default
// true.
func WithAutostart(autostart bool) ConsumerOption {
	return func(c *consumerConfig) { c.autostart = autostart }
}
