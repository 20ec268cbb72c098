package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coregx/broker/model"
)

// ReserveNext runs the subscription reservation protocol in one
// transaction: lock the subscription row, check the sequential gate if the
// subscription is sequential, select up to limit eligible rows with
// SKIP LOCKED ordered by (priority, id), and transition them to processing.
// requested is clamped to 1 for sequential subscriptions regardless of what
// the caller asks for.
func (p *Postgres) ReserveNext(ctx context.Context, subscriptionID string, requested int) ([]model.ReservedMessage, error) {
	var reserved []model.ReservedMessage

	err := p.withTx(ctx, func(tx *sql.Tx) error {
		mode, processing, err := p.lockSubscriptionTx(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}

		sequential := mode == model.Sequential
		limit := requested
		if sequential {
			if processing {
				return nil
			}
			limit = 1
		}
		if limit <= 0 {
			return nil
		}

		candidates, err := p.selectCandidatesTx(ctx, tx, subscriptionID, limit)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			return nil
		}

		if sequential {
			if _, err := tx.ExecContext(ctx,
				`UPDATE subscriptions SET processing = true WHERE id = $1`, subscriptionID); err != nil {
				return fmt.Errorf("raise sequential gate: %w", err)
			}
		}

		now := p.now()
		for i := range candidates {
			if _, err := tx.ExecContext(ctx, `
UPDATE subscription_messages
SET status = 'processing', attempts = attempts + 1, last_heartbeat_at = $3, progress = NULL
WHERE subscription_id = $1 AND message_id = $2
`, subscriptionID, candidates[i].MessageID, now); err != nil {
				return fmt.Errorf("reserve message %s: %w", candidates[i].MessageID, err)
			}
			candidates[i].Attempts++
		}
		reserved = candidates
		return nil
	})
	return reserved, err
}

func (p *Postgres) lockSubscriptionTx(ctx context.Context, tx *sql.Tx, subscriptionID string) (model.ConsumptionMode, bool, error) {
	var (
		mode       model.ConsumptionMode
		processing bool
	)
	row := tx.QueryRowContext(ctx,
		`SELECT consumption_mode, processing FROM subscriptions WHERE id = $1 FOR UPDATE`, subscriptionID)
	if err := row.Scan(&mode, &processing); err != nil {
		return "", false, err
	}
	return mode, processing, nil
}

func (p *Postgres) selectCandidatesTx(ctx context.Context, tx *sql.Tx, subscriptionID string, limit int) ([]model.ReservedMessage, error) {
	now := p.now()
	rows, err := tx.QueryContext(ctx, `
SELECT sm.subscription_id, sm.message_id, sm.attempts, m.topic_id, m.payload, m.priority, m.created_at
FROM subscription_messages sm
JOIN messages m ON m.id = sm.message_id
WHERE sm.subscription_id = $1
  AND sm.status = 'waiting'
  AND (sm.available_at IS NULL OR sm.available_at <= $2)
ORDER BY m.priority ASC NULLS LAST, m.id ASC
LIMIT $3
FOR UPDATE OF sm SKIP LOCKED
`, subscriptionID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("select reservation candidates: %w", err)
	}
	defer rows.Close()

	var candidates []model.ReservedMessage
	for rows.Next() {
		var (
			rm      model.ReservedMessage
			payload []byte
		)
		if err := rows.Scan(&rm.SubscriptionID, &rm.MessageID, &rm.Attempts, &rm.TopicID, &payload, &rm.Priority, &rm.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reservation candidate: %w", err)
		}
		rm.Payload = json.RawMessage(payload)
		candidates = append(candidates, rm)
	}
	return candidates, rows.Err()
}

// Complete marks a subscription-message as completed and, for sequential
// subscriptions, lowers the sequential gate in the same transaction.
func (p *Postgres) Complete(ctx context.Context, subscriptionID, messageID string, sequential bool) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
UPDATE subscription_messages
SET status = 'completed'
WHERE subscription_id = $1 AND message_id = $2 AND status = 'processing'
`, subscriptionID, messageID); err != nil {
			return fmt.Errorf("mark completed: %w", err)
		}
		return p.lowerGateIfSequential(ctx, tx, subscriptionID, sequential)
	})
}

// FailureOutcome describes the result of a fail() decision already computed
// by the caller (which holds the subscription's retry policy): either the
// row returns to waiting after a delay, or it becomes terminally failed.
type FailureOutcome struct {
	Terminal         bool
	AvailableAt      *time.Time
	ErrorStack       *string
	DeadLetterReason string
}

// Fail applies a FailureOutcome to a subscription-message and, for
// sequential subscriptions, lowers the sequential gate in the same
// transaction. When the outcome is terminal, it also writes a dead-letter
// visibility record.
func (p *Postgres) Fail(ctx context.Context, subscriptionID, messageID string, outcome FailureOutcome, sequential bool) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		if outcome.Terminal {
			var attempts int
			row := tx.QueryRowContext(ctx, `
UPDATE subscription_messages
SET status = 'failed', available_at = NULL, error_stack = $3
WHERE subscription_id = $1 AND message_id = $2
RETURNING attempts
`, subscriptionID, messageID, outcome.ErrorStack)
			if err := row.Scan(&attempts); err != nil {
				return fmt.Errorf("mark failed: %w", err)
			}
			if err := p.insertDeadLetterTx(ctx, tx, subscriptionID, messageID, attempts, outcome.DeadLetterReason, outcome.ErrorStack); err != nil {
				return err
			}
		} else {
			if _, err := tx.ExecContext(ctx, `
UPDATE subscription_messages
SET status = 'waiting', available_at = $3, error_stack = $4
WHERE subscription_id = $1 AND message_id = $2
`, subscriptionID, messageID, outcome.AvailableAt, outcome.ErrorStack); err != nil {
				return fmt.Errorf("reschedule failure: %w", err)
			}
		}
		return p.lowerGateIfSequential(ctx, tx, subscriptionID, sequential)
	})
}

func (p *Postgres) lowerGateIfSequential(ctx context.Context, tx *sql.Tx, subscriptionID string, sequential bool) error {
	if !sequential {
		return nil
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE subscriptions SET processing = false WHERE id = $1`, subscriptionID); err != nil {
		return fmt.Errorf("lower sequential gate: %w", err)
	}
	return nil
}

func (p *Postgres) insertDeadLetterTx(ctx context.Context, tx *sql.Tx, subscriptionID, messageID string, attempts int, reason string, errStack *string) error {
	id, err := p.ids.Next()
	if err != nil {
		return fmt.Errorf("generate dead letter id: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO dead_letters (id, subscription_id, message_id, attempts, reason, error_stack, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, id, subscriptionID, messageID, attempts, reason, errStack, p.now()); err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

// Retry forces a failed subscription-message back to waiting without
// touching attempts, per the documented manual-retry semantics: a row that
// fails again compares its unchanged attempts against max_attempts as-is.
func (p *Postgres) Retry(ctx context.Context, subscriptionID, messageID string) error {
	_, err := p.db.ExecContext(ctx, `
UPDATE subscription_messages
SET status = 'waiting', available_at = NULL, error_stack = NULL
WHERE subscription_id = $1 AND message_id = $2 AND status = 'failed'
`, subscriptionID, messageID)
	return err
}

// UpdateProgress writes an in-flight progress payload for a reserved
// message. It is cleared automatically on the next reservation.
func (p *Postgres) UpdateProgress(ctx context.Context, subscriptionID, messageID string, progress json.RawMessage) error {
	_, err := p.db.ExecContext(ctx, `
UPDATE subscription_messages
SET progress = $3
WHERE subscription_id = $1 AND message_id = $2 AND status = 'processing'
`, subscriptionID, messageID, []byte(progress))
	return err
}

// Heartbeat refreshes last_heartbeat_at for a message currently in
// processing, keeping it out of the stale detector's reach.
func (p *Postgres) Heartbeat(ctx context.Context, subscriptionID, messageID string) error {
	_, err := p.db.ExecContext(ctx, `
UPDATE subscription_messages
SET last_heartbeat_at = $3
WHERE subscription_id = $1 AND message_id = $2 AND status = 'processing'
`, subscriptionID, messageID, p.now())
	return err
}
