package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/coregx/broker/model"
)

// SubscriptionConfig is the caller-supplied configuration for a new
// subscription. It mirrors model.Subscription's immutable fields.
type SubscriptionConfig struct {
	ConsumptionMode model.ConsumptionMode
	StartPosition   model.StartPosition
	MaxAttempts     int
	RetryStrategy   model.RetryStrategy
	RetryDelayMs    int64
}

// EnsureSubscription creates the (topicID, name) subscription with cfg if it
// does not exist yet, backfilling subscription_messages for every message
// already in the topic when cfg.StartPosition is earliest. If a subscription
// already exists under that key, the stored row is returned unchanged along
// with a conflict error when cfg diverges from it — config is immutable
// after first insert.
func (p *Postgres) EnsureSubscription(ctx context.Context, topicID, name string, cfg SubscriptionConfig) (model.Subscription, error) {
	var (
		sub       model.Subscription
		conflict  bool
	)

	err := p.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := p.getSubscriptionByNameTx(ctx, tx, topicID, name)
		if err == nil {
			sub = existing
			conflict = !existing.Matches(model.Subscription{
				ConsumptionMode: cfg.ConsumptionMode,
				StartPosition:   cfg.StartPosition,
				MaxAttempts:     cfg.MaxAttempts,
				RetryStrategy:   cfg.RetryStrategy,
				RetryDelayMs:    cfg.RetryDelayMs,
			})
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		id, err := p.ids.Next()
		if err != nil {
			return fmt.Errorf("generate subscription id: %w", err)
		}
		sub = model.Subscription{
			ID:              id,
			TopicID:         topicID,
			Name:            name,
			ConsumptionMode: cfg.ConsumptionMode,
			StartPosition:   cfg.StartPosition,
			MaxAttempts:     cfg.MaxAttempts,
			RetryStrategy:   cfg.RetryStrategy,
			RetryDelayMs:    cfg.RetryDelayMs,
			Processing:      false,
			CreatedAt:       p.now(),
		}

		query, args, err := p.sb.Insert("subscriptions").
			Columns("id", "topic_id", "name", "consumption_mode", "start_position",
				"max_attempts", "retry_strategy", "retry_delay_ms", "processing", "created_at").
			Values(sub.ID, sub.TopicID, sub.Name, sub.ConsumptionMode, sub.StartPosition,
				sub.MaxAttempts, sub.RetryStrategy, sub.RetryDelayMs, sub.Processing, sub.CreatedAt).
			ToSql()
		if err != nil {
			return fmt.Errorf("build subscription insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert subscription: %w", err)
		}

		if cfg.StartPosition == model.Earliest {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO subscription_messages (subscription_id, message_id, status, attempts, available_at, stale_count)
SELECT $1, id, 'waiting', 0, deliver_at, 0
FROM messages
WHERE topic_id = $2
`, sub.ID, topicID); err != nil {
				return fmt.Errorf("backfill subscription messages: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return model.Subscription{}, err
	}
	if conflict {
		return sub, NewConflictError("subscription %q already exists with a different configuration", name)
	}
	return sub, nil
}

func (p *Postgres) getSubscriptionByNameTx(ctx context.Context, tx *sql.Tx, topicID, name string) (model.Subscription, error) {
	query, args, err := p.sb.
		Select("id", "topic_id", "name", "consumption_mode", "start_position",
			"max_attempts", "retry_strategy", "retry_delay_ms", "processing", "created_at").
		From("subscriptions").
		Where(sq.Eq{"topic_id": topicID, "name": name}).
		ToSql()
	if err != nil {
		return model.Subscription{}, fmt.Errorf("build subscription select: %w", err)
	}

	var sub model.Subscription
	row := tx.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&sub.ID, &sub.TopicID, &sub.Name, &sub.ConsumptionMode, &sub.StartPosition,
		&sub.MaxAttempts, &sub.RetryStrategy, &sub.RetryDelayMs, &sub.Processing, &sub.CreatedAt); err != nil {
		return model.Subscription{}, err
	}
	return sub, nil
}

// RemoveSubscription deletes a subscription; cascading foreign keys remove
// its subscription_messages rows.
func (p *Postgres) RemoveSubscription(ctx context.Context, subscriptionID string) error {
	query, args, err := p.sb.Delete("subscriptions").Where(sq.Eq{"id": subscriptionID}).ToSql()
	if err != nil {
		return fmt.Errorf("build subscription delete: %w", err)
	}
	_, err = p.db.ExecContext(ctx, query, args...)
	return err
}

// GetSubscriptionMessages returns the delivery state rows for a subscription,
// optionally filtered to a set of statuses. An empty statuses slice returns
// every row.
func (p *Postgres) GetSubscriptionMessages(ctx context.Context, subscriptionID string, statuses []model.MessageStatus) ([]model.SubscriptionMessage, error) {
	builder := p.sb.
		Select("subscription_id", "message_id", "status", "attempts", "available_at",
			"error_stack", "last_heartbeat_at", "progress", "stale_count").
		From("subscription_messages").
		Where(sq.Eq{"subscription_id": subscriptionID})
	if len(statuses) > 0 {
		builder = builder.Where(sq.Eq{"status": statuses})
	}

	query, args, err := builder.OrderBy("message_id ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get subscription messages: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SubscriptionMessage
	for rows.Next() {
		var sm model.SubscriptionMessage
		var progress []byte
		if err := rows.Scan(&sm.SubscriptionID, &sm.MessageID, &sm.Status, &sm.Attempts, &sm.AvailableAt,
			&sm.ErrorStack, &sm.LastHeartbeatAt, &progress, &sm.StaleCount); err != nil {
			return nil, err
		}
		if progress != nil {
			sm.Progress = progress
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}
