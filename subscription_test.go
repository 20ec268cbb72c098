package broker

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coregx/broker/model"
)

func TestSubscription_Sequential_SerializesAcrossTwoConsumers(t *testing.T) {
	b := testBroker(t)

	topic, err := b.Topic("sequential-orders")
	require.NoError(t, err)

	sub, err := topic.Subscribe("worker", WithConsumptionMode(model.Sequential))
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := topic.Send(json.RawMessage(`{}`))
		require.NoError(t, err)
	}

	var inFlight, maxInFlight int32
	handler := func(ctx context.Context, msg model.ReservedMessage) error {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			max := atomic.LoadInt32(&maxInFlight)
			if cur <= max || atomic.CompareAndSwapInt32(&maxInFlight, max, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil
	}

	c1, err := sub.Consume(handler, WithPollingInterval(5*time.Millisecond))
	require.NoError(t, err)
	defer c1.Stop()

	c2, err := sub.Consume(handler, WithPollingInterval(5*time.Millisecond))
	require.NoError(t, err)
	defer c2.Stop()

	require.NoError(t, c1.WaitIdle(context.Background()))
	require.NoError(t, c2.WaitIdle(context.Background()))

	require.LessOrEqual(t, atomic.LoadInt32(&maxInFlight), int32(1))
}

func TestSubscription_RetryMessage_DoesNotResetAttempts(t *testing.T) {
	b := testBroker(t)

	topic, err := b.Topic("retry-orders")
	require.NoError(t, err)

	sub, err := topic.Subscribe("worker",
		WithConsumptionMode(model.Parallel),
		WithMaxAttempts(1),
	)
	require.NoError(t, err)

	_, err = topic.Send(json.RawMessage(`{}`))
	require.NoError(t, err)

	var attempts int32
	failing := func(ctx context.Context, msg model.ReservedMessage) error {
		atomic.AddInt32(&attempts, 1)
		return context.DeadlineExceeded
	}

	c, err := sub.Consume(failing, WithPollingInterval(5*time.Millisecond))
	require.NoError(t, err)
	defer c.Stop()
	require.NoError(t, c.WaitIdle(context.Background()))

	rows, err := sub.GetMessages(model.StatusFailed)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 1, rows[0].Attempts)

	require.NoError(t, sub.RetryMessage(rows[0].MessageID))

	rows, err = sub.GetMessages(model.StatusWaiting)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 1, rows[0].Attempts)
}
