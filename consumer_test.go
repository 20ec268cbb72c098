package broker

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coregx/broker/model"
)

func TestConsumer_Consume_CoalescesConcurrentCalls(t *testing.T) {
	b := testBroker(t)

	topic, err := b.Topic("coalesce-topic")
	require.NoError(t, err)

	sub, err := topic.Subscribe("worker", WithConsumptionMode(model.Parallel))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := topic.Send(json.RawMessage(`{}`))
		require.NoError(t, err)
	}

	var processed int32
	handler := func(ctx context.Context, msg model.ReservedMessage) error {
		atomic.AddInt32(&processed, 1)
		time.Sleep(10 * time.Millisecond)
		return nil
	}

	c, err := sub.Consume(handler, WithAutostart(false), WithConcurrency(3))
	require.NoError(t, err)
	defer c.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Consume()
		}()
	}
	wg.Wait()

	require.NoError(t, c.WaitIdle(context.Background()))
	require.Equal(t, int32(3), atomic.LoadInt32(&processed))
}

func TestConsumer_Events_FireOnCompletionAndFailure(t *testing.T) {
	b := testBroker(t)

	topic, err := b.Topic("events-topic")
	require.NoError(t, err)

	sub, err := topic.Subscribe("worker",
		WithConsumptionMode(model.Parallel),
		WithMaxAttempts(1),
	)
	require.NoError(t, err)

	okPayload, _ := json.Marshal(map[string]string{"kind": "ok"})
	failPayload, _ := json.Marshal(map[string]string{"kind": "fail"})
	_, err = topic.Send(okPayload)
	require.NoError(t, err)
	_, err = topic.Send(failPayload)
	require.NoError(t, err)

	handler := func(ctx context.Context, msg model.ReservedMessage) error {
		var body struct {
			Kind string `json:"kind"`
		}
		if err := json.Unmarshal(msg.Payload, &body); err != nil {
			return err
		}
		if body.Kind == "fail" {
			return context.DeadlineExceeded
		}
		return nil
	}

	c, err := sub.Consume(handler, WithAutostart(false), WithConcurrency(2))
	require.NoError(t, err)
	defer c.Stop()

	var completed, failed int32
	c.On(EventCompleted, func(ev Event) { atomic.AddInt32(&completed, 1) })
	c.On(EventFailed, func(ev Event) { atomic.AddInt32(&failed, 1) })

	c.Consume()
	require.NoError(t, c.WaitIdle(context.Background()))

	require.Equal(t, int32(1), atomic.LoadInt32(&completed))
	require.Equal(t, int32(1), atomic.LoadInt32(&failed))
}

func TestBroker_Close_AwaitsConsumerDrainBeforeClosingPool(t *testing.T) {
	dsn := os.Getenv("BROKER_TEST_DSN")
	b := testBroker(t)

	topic, err := b.Topic("close-drain-topic")
	require.NoError(t, err)

	sub, err := topic.Subscribe("worker", WithConsumptionMode(model.Parallel))
	require.NoError(t, err)

	_, err = topic.Send(json.RawMessage(`{}`))
	require.NoError(t, err)

	handlerStarted := make(chan struct{})
	handler := func(ctx context.Context, msg model.ReservedMessage) error {
		close(handlerStarted)
		time.Sleep(50 * time.Millisecond)
		return nil
	}

	_, err = sub.Consume(handler, WithPollingInterval(5*time.Millisecond))
	require.NoError(t, err)

	<-handlerStarted

	// Close must block on the in-flight handler's dispatch goroutine before
	// the pool closes underneath it; if it didn't, the handler's subsequent
	// write through the store would race a closed *sql.DB.
	require.NoError(t, b.Close())

	admin, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	defer admin.Close()

	var status string
	require.NoError(t, admin.QueryRow(
		"SELECT status FROM subscription_messages WHERE subscription_id = $1", sub.ID(),
	).Scan(&status))
	require.Equal(t, string(model.StatusCompleted), status)
}
