package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/coregx/broker/model"
)

// WriteOptions carries the per-message knobs the writer and the scheduler
// both need: an absolute or relative delivery delay, and a reservation
// priority (lower sorts first, nil sorts last).
type WriteOptions struct {
	DeliverAt   *time.Time
	DeliverInMs *int64
	Priority    *int32
}

func (o WriteOptions) resolveDeliverAt(now time.Time) *time.Time {
	if o.DeliverAt != nil {
		return o.DeliverAt
	}
	if o.DeliverInMs != nil {
		at := now.Add(time.Duration(*o.DeliverInMs) * time.Millisecond)
		return &at
	}
	return nil
}

// InsertMessages inserts one row per payload into topicID and fans each one
// out to every subscription currently on that topic, inside a single
// transaction: a consumer can never observe a message visible to some
// subscriptions of a topic but not others.
func (p *Postgres) InsertMessages(ctx context.Context, topicID string, payloads []json.RawMessage, opts WriteOptions) ([]model.Message, error) {
	if len(payloads) == 0 {
		return nil, nil
	}

	var messages []model.Message
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		messages, err = p.insertMessagesTx(ctx, tx, topicID, payloads, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// insertMessagesTx performs the writer's insert-and-fan-out within a
// caller-supplied transaction, so the scheduler can share one transaction
// across every due schedule it materializes in a single sweep.
func (p *Postgres) insertMessagesTx(ctx context.Context, tx *sql.Tx, topicID string, payloads []json.RawMessage, opts WriteOptions) ([]model.Message, error) {
	now := p.now()
	deliverAt := opts.resolveDeliverAt(now)

	messages := make([]model.Message, len(payloads))
	for i, payload := range payloads {
		id, err := p.ids.Next()
		if err != nil {
			return nil, fmt.Errorf("generate message id: %w", err)
		}
		messages[i] = model.Message{
			ID:        id,
			TopicID:   topicID,
			Payload:   payload,
			CreatedAt: now,
			DeliverAt: deliverAt,
			Priority:  opts.Priority,
		}
	}

	insert := p.sb.Insert("messages").
		Columns("id", "topic_id", "payload", "created_at", "deliver_at", "priority")
	for _, m := range messages {
		insert = insert.Values(m.ID, m.TopicID, []byte(m.Payload), m.CreatedAt, m.DeliverAt, m.Priority)
	}
	query, args, err := insert.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build message insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("insert messages: %w", err)
	}

	subscriptionIDs, err := p.subscriptionIDsForTopicTx(ctx, tx, topicID)
	if err != nil {
		return nil, fmt.Errorf("list topic subscriptions: %w", err)
	}
	if len(subscriptionIDs) == 0 {
		return messages, nil
	}

	fanOut := p.sb.Insert("subscription_messages").
		Columns("subscription_id", "message_id", "status", "attempts", "available_at", "stale_count")
	for _, subscriptionID := range subscriptionIDs {
		for _, m := range messages {
			fanOut = fanOut.Values(subscriptionID, m.ID, model.StatusWaiting, 0, m.DeliverAt, 0)
		}
	}
	query, args, err = fanOut.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build fan-out insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("fan out messages: %w", err)
	}
	return messages, nil
}

func (p *Postgres) subscriptionIDsForTopicTx(ctx context.Context, tx *sql.Tx, topicID string) ([]string, error) {
	query, args, err := p.sb.Select("id").From("subscriptions").Where(sq.Eq{"topic_id": topicID}).ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetMessages returns every message in a topic ordered by id, i.e. by
// creation order.
func (p *Postgres) GetMessages(ctx context.Context, topicID string) ([]model.Message, error) {
	query, args, err := p.sb.
		Select("id", "topic_id", "payload", "created_at", "deliver_at", "priority").
		From("messages").
		Where(sq.Eq{"topic_id": topicID}).
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get messages: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		var m model.Message
		var payload []byte
		if err := rows.Scan(&m.ID, &m.TopicID, &payload, &m.CreatedAt, &m.DeliverAt, &m.Priority); err != nil {
			return nil, err
		}
		m.Payload = json.RawMessage(payload)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
