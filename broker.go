package broker

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel/trace"

	"github.com/coregx/broker/internal/store"
)

// Broker is the embedding entry point: it owns the database pool, bootstraps
// the schema, and runs the background loops that trim retention, reclaim
// stale reservations, and materialize due schedules. Every Topic and
// Subscription obtained from a Broker shares its pool and its background
// loops; closing the Broker stops them and releases the pool.
type Broker struct {
	db    *sql.DB
	store *store.Postgres

	logger   Logger
	notifier NotificationService
	tracer   trace.Tracer

	trimInterval       time.Duration
	staleTimeout       time.Duration
	resetStaleInterval time.Duration
	scheduledInterval  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	consumers []*Consumer
}

// Open connects to the database at dsn, bootstraps the schema, and starts
// the background loops. dsn is any connection string accepted by pgx.
func Open(dsn string, opts ...BrokerOption) (*Broker, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to open database", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Broker{
		db:                 db,
		logger:             &NoopLogger{},
		notifier:           NoOpNotificationService{},
		tracer:             trace.NewNoopTracerProvider().Tracer("github.com/coregx/broker"),
		trimInterval:       60 * time.Second,
		staleTimeout:       60 * time.Second,
		resetStaleInterval: 60 * time.Second,
		scheduledInterval:  5 * time.Second,
		ctx:                ctx,
		cancel:             cancel,
	}

	for _, opt := range opts {
		if err := opt(b); err != nil {
			cancel()
			_ = db.Close()
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply option", err)
		}
	}
	b.store = store.New(db)

	if err := b.store.EnsureSchema(ctx); err != nil {
		cancel()
		_ = db.Close()
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to bootstrap schema", err)
	}

	b.runLoop("trim", b.trimInterval, func(ctx context.Context) error { return b.Trim(ctx) })
	b.runLoop("reset-stale", b.resetStaleInterval, func(ctx context.Context) error { return b.ResetStale(ctx) })
	b.runLoop("scheduled", b.scheduledInterval, func(ctx context.Context) error {
		_, err := b.ProcessScheduled(ctx)
		return err
	})

	return b, nil
}

// runLoop drives fn every interval on its own goroutine until the broker is
// closed. Each loop is isolated: a failing tick is logged and the next tick
// still fires, per the documented propagation policy (a failing trim does
// not stop stale detection).
func (b *Broker) runLoop(name string, interval time.Duration, fn func(context.Context) error) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-b.ctx.Done():
				return
			case <-ticker.C:
				if err := fn(b.ctx); err != nil {
					b.logger.Errorf("%s loop error: %v", name, err)
				}
			}
		}
	}()
}

// isClosed reports whether Close has already been called.
func (b *Broker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// registerConsumer tracks a spawned Consumer so Close can await its drain
// before releasing the database pool.
func (b *Broker) registerConsumer(c *Consumer) {
	b.mu.Lock()
	b.consumers = append(b.consumers, c)
	b.mu.Unlock()
}

// Topic returns the named topic, creating it lazily on first reference.
// Topic configuration (currently just max_retention) is immutable after
// creation; subsequent calls with different options return the stored
// topic unchanged.
func (b *Broker) Topic(name string, opts ...TopicOption) (*Topic, error) {
	if b.isClosed() {
		return nil, ErrClosed
	}

	cfg := topicConfig{maxRetention: 0}
	for _, opt := range opts {
		opt(&cfg)
	}

	t, err := b.store.EnsureTopic(b.ctx, name, cfg.maxRetention)
	if err != nil {
		return nil, NewErrorWithCause(ErrCodeDatabase, fmt.Sprintf("failed to ensure topic %q", name), err)
	}
	return &Topic{broker: b, info: t}, nil
}

// Trim sweeps every topic's retention policy once.
func (b *Broker) Trim(ctx context.Context) error {
	if b.isClosed() {
		return ErrClosed
	}

	topics, err := b.store.ListTopics(ctx)
	if err != nil {
		return fmt.Errorf("list topics for trim: %w", err)
	}
	for _, t := range topics {
		if _, err := b.store.Trim(ctx, t.ID, t.MaxRetention); err != nil {
			return fmt.Errorf("trim topic %s: %w", t.Name, err)
		}
	}
	return nil
}

// ResetStale reclaims every reservation whose heartbeat has lapsed past the
// broker's stale_timeout, notifying the configured NotificationService for
// each one.
func (b *Broker) ResetStale(ctx context.Context) error {
	if b.isClosed() {
		return ErrClosed
	}

	events, err := b.store.ResetStale(ctx, b.staleTimeout)
	if err != nil {
		return fmt.Errorf("reset stale reservations: %w", err)
	}
	for _, ev := range events {
		if err := b.notifier.NotifyStaleRecovered(ctx, ev.SubscriptionID, ev.MessageID, ev.NewStatus); err != nil {
			b.logger.Warnf("stale notification failed: %v", err)
		}
	}
	return nil
}

// ProcessScheduled materializes every due scheduled message once, returning
// how many fired.
func (b *Broker) ProcessScheduled(ctx context.Context) (int, error) {
	if b.isClosed() {
		return 0, ErrClosed
	}

	fired, err := b.store.ProcessScheduled(ctx)
	if err != nil {
		return 0, fmt.Errorf("process scheduled messages: %w", err)
	}
	return fired, nil
}

// Close stops every background loop, awaits every spawned Consumer's drain
// to resolve, then releases the database pool. It is idempotent: a second
// call is a no-op.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	consumers := b.consumers
	b.mu.Unlock()

	for _, c := range consumers {
		c.Stop()
	}

	b.cancel()
	b.wg.Wait()
	return b.db.Close()
}
