package broker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coregx/broker/model"
)

// Handler processes one reserved message. A nil return completes the
// message; a non-nil return fails it, subject to the subscription's retry
// policy.
type Handler func(ctx context.Context, msg model.ReservedMessage) error

// EventType names the events a Consumer emits to its listeners.
type EventType string

const (
	EventProcess   EventType = "process"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventProgress  EventType = "progress"
	EventIdle      EventType = "idle"
	EventConsume   EventType = "consume"
)

// Event is one observation emitted by a Consumer. Listener delivery is
// fire-and-forget and in-process only; events are never persisted.
type Event struct {
	Type      EventType
	MessageID string
	Err       error
	Progress  json.RawMessage
}

type consumerConfig struct {
	concurrency       int
	pollingInterval   time.Duration
	heartbeatInterval time.Duration
	autostart         bool
}

// Consumer binds a Handler to a Subscription and manages its own
// concurrency budget, polling, heartbeats, and drain coalescing.
type Consumer struct {
	sub     *Subscription
	handler Handler
	cfg     consumerConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	cond      *sync.Cond
	inFlight  int
	draining  bool
	drainDone chan struct{}
	started   bool
	stopped   bool

	listenersMu sync.Mutex
	listeners   map[EventType][]func(Event)
}

func newConsumer(sub *Subscription, handler Handler, opts ...ConsumerOption) (*Consumer, error) {
	if handler == nil {
		return nil, NewError(ErrCodeConfiguration, "handler is required")
	}

	cfg := consumerConfig{
		concurrency:       1,
		pollingInterval:   time.Second,
		heartbeatInterval: 10 * time.Second,
		autostart:         true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if sub.sequential() {
		cfg.concurrency = 1
	}

	ctx, cancel := context.WithCancel(sub.broker.ctx)
	c := &Consumer{
		sub:       sub,
		handler:   handler,
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[EventType][]func(Event)),
	}
	c.cond = sync.NewCond(&c.mu)

	sub.broker.registerConsumer(c)

	if cfg.autostart {
		c.Start()
	}
	return c, nil
}

// On registers a listener for an event type. Listeners are invoked
// synchronously from the goroutine that emits the event; a slow listener
// delays that goroutine, so listeners should not block.
func (c *Consumer) On(event EventType, fn func(Event)) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners[event] = append(c.listeners[event], fn)
}

func (c *Consumer) emit(ev Event) {
	c.listenersMu.Lock()
	fns := append([]func(Event){}, c.listeners[ev.Type]...)
	c.listenersMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Start begins the poll loop. It is safe to call on an already-started
// consumer (that call is a no-op).
func (c *Consumer) Start() {
	c.mu.Lock()
	if c.stopped || c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.pollingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.ctx.Done():
				return
			case <-ticker.C:
				c.Consume()
			}
		}
	}()
}

// Stop cancels the poll loop and awaits the current drain to idle.
func (c *Consumer) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	c.WaitIdle(context.Background())
}

// Consume runs one explicit drain. It is idempotent and coalescing: a call
// made while a drain is already in progress joins that drain instead of
// starting a new one.
func (c *Consumer) Consume() {
	c.emit(Event{Type: EventConsume})

	c.mu.Lock()
	if c.draining {
		done := c.drainDone
		c.mu.Unlock()
		<-done
		return
	}
	c.draining = true
	c.drainDone = make(chan struct{})
	c.mu.Unlock()

	c.drain()

	c.mu.Lock()
	close(c.drainDone)
	c.draining = false
	c.cond.Broadcast()
	c.mu.Unlock()
}

// drain reserves and dispatches messages while free slots remain. It
// returns when no slot is free, when a reservation fails, or when a
// reservation comes back empty; in the last case it emits EventIdle if no
// message is still in flight. Each finished dispatch calls Consume again,
// so a freed slot starts a new drain.
func (c *Consumer) drain() {
	for {
		c.mu.Lock()
		free := c.cfg.concurrency - c.inFlight
		c.mu.Unlock()
		if free <= 0 {
			return
		}

		reserved, err := c.sub.reserveNext(free)
		if err != nil {
			c.sub.broker.logger.Errorf("reserve failed for subscription %s: %v", c.sub.info.ID, err)
			return
		}
		if len(reserved) == 0 {
			c.mu.Lock()
			idle := c.inFlight == 0
			c.mu.Unlock()
			if idle {
				c.emit(Event{Type: EventIdle})
			}
			return
		}

		c.mu.Lock()
		c.inFlight += len(reserved)
		c.mu.Unlock()

		for _, msg := range reserved {
			c.wg.Add(1)
			go c.dispatch(msg)
		}
	}
}

// dispatch runs one reserved message end to end: heartbeat loop, handler
// invocation, completion or failure, then re-enters drain so a freed slot
// is used immediately rather than waiting for the next poll tick.
func (c *Consumer) dispatch(msg model.ReservedMessage) {
	defer c.wg.Done()

	c.emit(Event{Type: EventProcess, MessageID: msg.MessageID})

	hbCtx, hbCancel := context.WithCancel(c.ctx)
	var hbWg sync.WaitGroup
	hbWg.Add(1)
	go func() {
		defer hbWg.Done()
		ticker := time.NewTicker(c.cfg.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := c.sub.heartbeat(msg.MessageID); err != nil {
					c.sub.broker.logger.Warnf("heartbeat failed for message %s: %v", msg.MessageID, err)
				}
			}
		}
	}()

	dispatchCtx, span := c.sub.broker.tracer.Start(c.ctx, "broker.dispatch")
	err := c.handler(dispatchCtx, msg)
	span.End()

	hbCancel()
	hbWg.Wait()

	if err != nil {
		if failErr := c.sub.fail(msg.MessageID, msg.Attempts, err); failErr != nil {
			c.sub.broker.logger.Errorf("failed to record failure for message %s: %v", msg.MessageID, failErr)
		}
		if notifyErr := c.sub.broker.notifier.NotifyHandlerFailure(c.ctx, c.sub.info.ID, msg.MessageID, msg.Attempts, err); notifyErr != nil {
			c.sub.broker.logger.Warnf("handler failure notification failed: %v", notifyErr)
		}
		c.emit(Event{Type: EventFailed, MessageID: msg.MessageID, Err: err})
	} else {
		if completeErr := c.sub.complete(msg.MessageID); completeErr != nil {
			c.sub.broker.logger.Errorf("failed to mark message %s completed: %v", msg.MessageID, completeErr)
		}
		c.emit(Event{Type: EventCompleted, MessageID: msg.MessageID})
	}

	c.mu.Lock()
	c.inFlight--
	c.cond.Broadcast()
	c.mu.Unlock()

	select {
	case <-c.ctx.Done():
	default:
		go c.Consume()
	}
}

// UpdateProgress writes an in-flight progress payload for a message this
// consumer currently holds and emits a progress event to listeners.
func (c *Consumer) UpdateProgress(messageID string, progress json.RawMessage) error {
	if err := c.sub.updateProgress(messageID, progress); err != nil {
		return NewErrorWithCause(ErrCodeDatabase, "failed to update progress", err)
	}
	c.emit(Event{Type: EventProgress, MessageID: messageID, Progress: progress})
	return nil
}

// WaitIdle blocks until the consumer has no in-flight messages and no
// drain in progress, or ctx is done.
func (c *Consumer) WaitIdle(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.mu.Lock()
		for c.inFlight > 0 || c.draining {
			c.cond.Wait()
		}
		c.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitInit resolves once the consumer is ready to accept calls. Consumer
// construction is entirely synchronous, so this always returns
// immediately; it exists so callers written against the asynchronous
// embedding API have a call to make without special-casing this
// implementation.
func (c *Consumer) WaitInit(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
