package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"

	"github.com/coregx/broker/model"
)

// testStore opens a Postgres store against BROKER_TEST_DSN, bootstraps the
// schema, and truncates every table so each test starts from a clean slate.
// Tests are skipped when the environment variable is unset: the reservation
// engine relies on advisory locks, SKIP LOCKED, and a real enum type that
// have no portable equivalent, so there is no in-process fallback database
// for this package.
func testStore(t *testing.T) (*Postgres, *sql.DB) {
	t.Helper()

	dsn := os.Getenv("BROKER_TEST_DSN")
	if dsn == "" {
		t.Skip("BROKER_TEST_DSN not set, skipping Postgres-backed engine test")
	}

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := New(db)
	require.NoError(t, s.EnsureSchema(context.Background()))

	for _, table := range []string{"dead_letters", "subscription_messages", "subscriptions", "scheduled_messages", "messages", "topics"} {
		_, err := db.Exec("DELETE FROM " + table)
		require.NoError(t, err)
	}
	return s, db
}

func mustTopic(t *testing.T, s *Postgres, name string, maxRetention int64) model.Topic {
	t.Helper()
	topic, err := s.EnsureTopic(context.Background(), name, maxRetention)
	require.NoError(t, err)
	return topic
}

func mustSubscription(t *testing.T, s *Postgres, topicID, name string, cfg SubscriptionConfig) model.Subscription {
	t.Helper()
	sub, err := s.EnsureSubscription(context.Background(), topicID, name, cfg)
	require.NoError(t, err)
	return sub
}

func TestEnsureSchema_Idempotent(t *testing.T) {
	s, _ := testStore(t)
	require.NoError(t, s.EnsureSchema(context.Background()))
}

func TestEnsureTopic_CreatesOnce(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	first := mustTopic(t, s, "orders", 100)
	second, err := s.EnsureTopic(ctx, "orders", 999)
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.Equal(t, int64(100), second.MaxRetention)
}

func TestInsertMessages_FansOutToExistingSubscriptions(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	topic := mustTopic(t, s, "events", model.Unbounded)
	sub := mustSubscription(t, s, topic.ID, "consumer-a", SubscriptionConfig{
		ConsumptionMode: model.Parallel,
		StartPosition:   model.Latest,
		MaxAttempts:     1,
		RetryStrategy:   model.LinearRetry,
	})

	messages, err := s.InsertMessages(ctx, topic.ID, []json.RawMessage{
		json.RawMessage(`{"n":1}`),
		json.RawMessage(`{"n":2}`),
	}, WriteOptions{})
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Less(t, messages[0].ID, messages[1].ID)

	rows, err := s.GetSubscriptionMessages(ctx, sub.ID, nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestReserveNext_ParallelOrdersByPriorityThenID(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	topic := mustTopic(t, s, "priority-topic", model.Unbounded)
	sub := mustSubscription(t, s, topic.ID, "consumer", SubscriptionConfig{
		ConsumptionMode: model.Parallel,
		StartPosition:   model.Latest,
		MaxAttempts:     1,
		RetryStrategy:   model.LinearRetry,
	})

	_, err := s.InsertMessages(ctx, topic.ID, []json.RawMessage{json.RawMessage(`{"who":"A"}`)}, WriteOptions{})
	require.NoError(t, err)
	priority := int32(1)
	_, err = s.InsertMessages(ctx, topic.ID, []json.RawMessage{json.RawMessage(`{"who":"B"}`)}, WriteOptions{Priority: &priority})
	require.NoError(t, err)

	reserved, err := s.ReserveNext(ctx, sub.ID, 10)
	require.NoError(t, err)
	require.Len(t, reserved, 2)

	var who string
	require.NoError(t, json.Unmarshal(reserved[0].Payload, &struct {
		Who *string `json:"who"`
	}{Who: &who}))
	require.JSONEq(t, `{"who":"B"}`, string(reserved[0].Payload))
	require.JSONEq(t, `{"who":"A"}`, string(reserved[1].Payload))
}

func TestReserveNext_SequentialGateBlocksSecondReservation(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	topic := mustTopic(t, s, "sequential-topic", model.Unbounded)
	sub := mustSubscription(t, s, topic.ID, "consumer", SubscriptionConfig{
		ConsumptionMode: model.Sequential,
		StartPosition:   model.Latest,
		MaxAttempts:     1,
		RetryStrategy:   model.LinearRetry,
	})

	_, err := s.InsertMessages(ctx, topic.ID, []json.RawMessage{
		json.RawMessage(`{"n":1}`),
		json.RawMessage(`{"n":2}`),
	}, WriteOptions{})
	require.NoError(t, err)

	first, err := s.ReserveNext(ctx, sub.ID, 10)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := s.ReserveNext(ctx, sub.ID, 10)
	require.NoError(t, err)
	require.Empty(t, second)

	require.NoError(t, s.Complete(ctx, sub.ID, first[0].MessageID, true))

	third, err := s.ReserveNext(ctx, sub.ID, 10)
	require.NoError(t, err)
	require.Len(t, third, 1)
}

func TestFail_ExhaustedBecomesTerminal(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	topic := mustTopic(t, s, "retry-topic", model.Unbounded)
	sub := mustSubscription(t, s, topic.ID, "consumer", SubscriptionConfig{
		ConsumptionMode: model.Parallel,
		StartPosition:   model.Latest,
		MaxAttempts:     1,
		RetryStrategy:   model.LinearRetry,
	})

	_, err := s.InsertMessages(ctx, topic.ID, []json.RawMessage{json.RawMessage(`{}`)}, WriteOptions{})
	require.NoError(t, err)

	reserved, err := s.ReserveNext(ctx, sub.ID, 1)
	require.NoError(t, err)
	require.Len(t, reserved, 1)

	errStack := "boom"
	require.NoError(t, s.Fail(ctx, sub.ID, reserved[0].MessageID, FailureOutcome{
		Terminal:         true,
		ErrorStack:       &errStack,
		DeadLetterReason: "attempts exhausted",
	}, false))

	rows, err := s.GetSubscriptionMessages(ctx, sub.ID, []model.MessageStatus{model.StatusFailed})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	stats, err := s.GetDeadLetterStats(ctx, sub.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Total)
}

func TestResetStale_FirstLapseReopensSecondFails(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	topic := mustTopic(t, s, "stale-topic", model.Unbounded)
	sub := mustSubscription(t, s, topic.ID, "consumer", SubscriptionConfig{
		ConsumptionMode: model.Parallel,
		StartPosition:   model.Latest,
		MaxAttempts:     5,
		RetryStrategy:   model.LinearRetry,
	})

	_, err := s.InsertMessages(ctx, topic.ID, []json.RawMessage{json.RawMessage(`{}`)}, WriteOptions{})
	require.NoError(t, err)

	reserved, err := s.ReserveNext(ctx, sub.ID, 1)
	require.NoError(t, err)
	require.Len(t, reserved, 1)

	events, err := s.ResetStale(ctx, -time.Second) // negative timeout: everything in flight is "stale"
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, model.StatusWaiting, events[0].NewStatus)

	reserved, err = s.ReserveNext(ctx, sub.ID, 1)
	require.NoError(t, err)
	require.Len(t, reserved, 1)

	events, err = s.ResetStale(ctx, -time.Second)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, model.StatusFailed, events[0].NewStatus)
}

func TestTrim_PreservesUnacknowledgedAndRetentionFloor(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	topic := mustTopic(t, s, "trim-topic", 1)
	sub := mustSubscription(t, s, topic.ID, "consumer", SubscriptionConfig{
		ConsumptionMode: model.Parallel,
		StartPosition:   model.Latest,
		MaxAttempts:     1,
		RetryStrategy:   model.LinearRetry,
	})

	_, err := s.InsertMessages(ctx, topic.ID, []json.RawMessage{json.RawMessage(`{"n":1}`)}, WriteOptions{})
	require.NoError(t, err)
	_, err = s.InsertMessages(ctx, topic.ID, []json.RawMessage{json.RawMessage(`{"n":2}`)}, WriteOptions{})
	require.NoError(t, err)

	reserved, err := s.ReserveNext(ctx, sub.ID, 10)
	require.NoError(t, err)
	for _, r := range reserved {
		require.NoError(t, s.Complete(ctx, sub.ID, r.MessageID, false))
	}

	_, err = s.InsertMessages(ctx, topic.ID, []json.RawMessage{json.RawMessage(`{"n":3}`)}, WriteOptions{})
	require.NoError(t, err)

	deleted, err := s.Trim(ctx, topic.ID, topic.MaxRetention)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	remaining, err := s.GetMessages(ctx, topic.ID)
	require.NoError(t, err)
	require.Len(t, remaining, 2)
}

func TestUpsertSchedule_PreservesRepeatsMadeAcrossUpdate(t *testing.T) {
	s, db := testStore(t)
	ctx := context.Background()

	topic := mustTopic(t, s, "sched-topic", model.Unbounded)

	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clocked := New(db, WithNowFunc(func() time.Time { return clock }))

	_, err := clocked.UpsertSchedule(ctx, topic.ID, "nightly", json.RawMessage(`{}`), ScheduleConfig{Cron: "0 0 * * *"})
	require.NoError(t, err)

	clock = time.Date(2026, 1, 2, 0, 0, 1, 0, time.UTC) // just past the first midnight occurrence
	fired, err := clocked.ProcessScheduled(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, fired)

	updated, err := clocked.UpsertSchedule(ctx, topic.ID, "nightly", json.RawMessage(`{"v":2}`), ScheduleConfig{Cron: "0 0 * * *"})
	require.NoError(t, err)
	require.Equal(t, int64(1), updated.RepeatsMade)
}
