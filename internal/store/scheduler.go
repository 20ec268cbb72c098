package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/coregx/broker/internal/cronutil"
	"github.com/coregx/broker/model"
)

// ScheduleConfig is the caller-supplied configuration for a scheduled
// message, mirroring model.ScheduledMessage's mutable fields.
type ScheduleConfig struct {
	Cron    string
	Repeats *int64
	Write   WriteOptions
}

// UpsertSchedule creates or updates the (topicID, name) scheduled message.
// The next occurrence is computed from cfg.Cron relative to now. Upserting
// an existing key updates its cron expression, payload, and write options
// but never resets repeats_made, matching the documented upsert semantics.
func (p *Postgres) UpsertSchedule(ctx context.Context, topicID, name string, payload json.RawMessage, cfg ScheduleConfig) (model.ScheduledMessage, error) {
	next, err := cronutil.Next(cfg.Cron, p.now())
	if err != nil {
		return model.ScheduledMessage{}, fmt.Errorf("compute next occurrence: %w", err)
	}

	sched := model.ScheduledMessage{
		TopicID:          topicID,
		Name:             name,
		Payload:          payload,
		Cron:             cfg.Cron,
		NextOccurrenceAt: next,
		DeliverInMs:      cfg.Write.DeliverInMs,
		DeliverAt:        cfg.Write.DeliverAt,
		Priority:         cfg.Write.Priority,
		Repeats:          cfg.Repeats,
	}

	err = p.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO scheduled_messages
    (topic_id, name, payload, cron, next_occurrence_at, deliver_in_ms, deliver_at, priority, repeats, repeats_made)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0)
ON CONFLICT (topic_id, name) DO UPDATE SET
    payload = excluded.payload,
    cron = excluded.cron,
    next_occurrence_at = excluded.next_occurrence_at,
    deliver_in_ms = excluded.deliver_in_ms,
    deliver_at = excluded.deliver_at,
    priority = excluded.priority,
    repeats = excluded.repeats
`, topicID, name, []byte(payload), cfg.Cron, next, sched.DeliverInMs, sched.DeliverAt, sched.Priority, sched.Repeats)
		if err != nil {
			return fmt.Errorf("upsert schedule: %w", err)
		}

		row := tx.QueryRowContext(ctx, `
SELECT repeats_made FROM scheduled_messages WHERE topic_id = $1 AND name = $2
`, topicID, name)
		return row.Scan(&sched.RepeatsMade)
	})
	if err != nil {
		return model.ScheduledMessage{}, err
	}
	return sched, nil
}

// GetScheduledMessages returns every scheduled message in a topic.
func (p *Postgres) GetScheduledMessages(ctx context.Context, topicID string) ([]model.ScheduledMessage, error) {
	rows, err := p.db.QueryContext(ctx, `
SELECT topic_id, name, payload, cron, next_occurrence_at, deliver_in_ms, deliver_at, priority, repeats, repeats_made
FROM scheduled_messages
WHERE topic_id = $1
ORDER BY name ASC
`, topicID)
	if err != nil {
		return nil, fmt.Errorf("select scheduled messages: %w", err)
	}
	defer rows.Close()

	var out []model.ScheduledMessage
	for rows.Next() {
		var (
			s       model.ScheduledMessage
			payload []byte
		)
		if err := rows.Scan(&s.TopicID, &s.Name, &payload, &s.Cron, &s.NextOccurrenceAt,
			&s.DeliverInMs, &s.DeliverAt, &s.Priority, &s.Repeats, &s.RepeatsMade); err != nil {
			return nil, err
		}
		s.Payload = json.RawMessage(payload)
		out = append(out, s)
	}
	return out, rows.Err()
}

// ProcessScheduled materializes every due schedule into a concrete message
// in one transaction: each row is locked with SKIP LOCKED so a sweep never
// double-fires a schedule that another process is already handling, its
// next occurrence advances from its pre-update value, and repeats_made
// increments. A rollback leaves a row due again, so firing is at-least-once
// per occurrence.
func (p *Postgres) ProcessScheduled(ctx context.Context) (int, error) {
	var fired int

	err := p.withTx(ctx, func(tx *sql.Tx) error {
		now := p.now()
		rows, err := tx.QueryContext(ctx, `
SELECT topic_id, name, payload, cron, next_occurrence_at, deliver_in_ms, deliver_at, priority, repeats, repeats_made
FROM scheduled_messages
WHERE next_occurrence_at <= $1 AND (repeats IS NULL OR repeats_made < repeats)
FOR UPDATE SKIP LOCKED
`, now)
		if err != nil {
			return fmt.Errorf("select due schedules: %w", err)
		}

		var due []model.ScheduledMessage
		for rows.Next() {
			var (
				s       model.ScheduledMessage
				payload []byte
			)
			if err := rows.Scan(&s.TopicID, &s.Name, &payload, &s.Cron, &s.NextOccurrenceAt,
				&s.DeliverInMs, &s.DeliverAt, &s.Priority, &s.Repeats, &s.RepeatsMade); err != nil {
				rows.Close()
				return fmt.Errorf("scan due schedule: %w", err)
			}
			s.Payload = json.RawMessage(payload)
			due = append(due, s)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for _, s := range due {
			opts := WriteOptions{DeliverAt: s.DeliverAt, DeliverInMs: s.DeliverInMs, Priority: s.Priority}
			if _, err := p.insertMessagesTx(ctx, tx, s.TopicID, []json.RawMessage{s.Payload}, opts); err != nil {
				return fmt.Errorf("materialize schedule %s/%s: %w", s.TopicID, s.Name, err)
			}

			next, err := cronutil.Next(s.Cron, s.NextOccurrenceAt)
			if err != nil {
				return fmt.Errorf("advance schedule %s/%s: %w", s.TopicID, s.Name, err)
			}

			if _, err := tx.ExecContext(ctx, `
UPDATE scheduled_messages
SET next_occurrence_at = $3, repeats_made = repeats_made + 1
WHERE topic_id = $1 AND name = $2
`, s.TopicID, s.Name, next); err != nil {
				return fmt.Errorf("update schedule %s/%s: %w", s.TopicID, s.Name, err)
			}
			fired++
		}
		return nil
	})
	return fired, err
}
