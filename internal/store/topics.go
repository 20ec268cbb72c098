package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/coregx/broker/model"
)

// EnsureTopic returns the topic named name, creating it with maxRetention if
// it does not already exist. Topics are immutable once created, so a
// second call with a different maxRetention is ignored and the stored row
// is returned unchanged — topic creation is lazy-on-first-reference, not a
// place to renegotiate configuration.
func (p *Postgres) EnsureTopic(ctx context.Context, name string, maxRetention int64) (model.Topic, error) {
	var topic model.Topic
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := p.getTopicByNameTx(ctx, tx, name)
		if err == nil {
			topic = existing
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		id, err := p.ids.Next()
		if err != nil {
			return fmt.Errorf("generate topic id: %w", err)
		}
		topic = model.NewTopic(id, name, maxRetention)

		query, args, err := p.sb.Insert("topics").
			Columns("id", "name", "max_retention", "created_at").
			Values(topic.ID, topic.Name, topic.MaxRetention, topic.CreatedAt).
			ToSql()
		if err != nil {
			return fmt.Errorf("build topic insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert topic: %w", err)
		}
		return nil
	})
	return topic, err
}

func (p *Postgres) getTopicByNameTx(ctx context.Context, tx *sql.Tx, name string) (model.Topic, error) {
	query, args, err := p.sb.
		Select("id", "name", "max_retention", "created_at").
		From("topics").
		Where(sq.Eq{"name": name}).
		ToSql()
	if err != nil {
		return model.Topic{}, fmt.Errorf("build topic select: %w", err)
	}

	var topic model.Topic
	row := tx.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&topic.ID, &topic.Name, &topic.MaxRetention, &topic.CreatedAt); err != nil {
		return model.Topic{}, err
	}
	return topic, nil
}

// ListTopics returns every topic, for the background trim sweep.
func (p *Postgres) ListTopics(ctx context.Context) ([]model.Topic, error) {
	query, args, err := p.sb.
		Select("id", "name", "max_retention", "created_at").
		From("topics").
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list topics: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var topics []model.Topic
	for rows.Next() {
		var t model.Topic
		if err := rows.Scan(&t.ID, &t.Name, &t.MaxRetention, &t.CreatedAt); err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// ClearTopic deletes every message in the topic. Cascading foreign keys
// remove the dependent subscription_messages rows in the same statement.
func (p *Postgres) ClearTopic(ctx context.Context, topicID string) error {
	query, args, err := p.sb.Delete("messages").Where(sq.Eq{"topic_id": topicID}).ToSql()
	if err != nil {
		return fmt.Errorf("build clear topic: %w", err)
	}
	_, err = p.db.ExecContext(ctx, query, args...)
	return err
}
