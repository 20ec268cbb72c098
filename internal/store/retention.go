package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/coregx/broker/model"
)

// Trim deletes acknowledged messages past maxRetention for one topic while
// never deleting a message that some subscription has not yet completed. It
// is a no-op when maxRetention is model.Unbounded.
//
// The cutoff is computed as a single statement: the earliest unacknowledged
// message id (NULL if the topic has no subscriptions, meaning everything is
// trivially acknowledged) bounds the eligible set, and the
// (maxRetention+1)-th largest eligible id is the highest id to delete.
// Cascading foreign keys remove the corresponding subscription_messages
// rows.
func (p *Postgres) Trim(ctx context.Context, topicID string, maxRetention int64) (int, error) {
	if maxRetention == model.Unbounded {
		return 0, nil
	}

	var deleted int
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
WITH earliest_unacked AS (
    SELECT MIN(sm.message_id) AS id
    FROM subscription_messages sm
    JOIN subscriptions s ON s.id = sm.subscription_id
    WHERE s.topic_id = $1 AND sm.status != 'completed'
),
cutoff AS (
    SELECT m.id
    FROM messages m, earliest_unacked e
    WHERE m.topic_id = $1
      AND (e.id IS NULL OR m.id < e.id)
    ORDER BY m.id DESC
    OFFSET $2
    LIMIT 1
)
DELETE FROM messages
WHERE topic_id = $1 AND id <= (SELECT id FROM cutoff)
`, topicID, maxRetention)
		if err != nil {
			return fmt.Errorf("trim topic %s: %w", topicID, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		deleted = int(affected)
		return nil
	})
	return deleted, err
}
