package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/coregx/broker/model"
)

// StaleEvent reports one subscription-message that the stale detector
// transitioned because its heartbeat lapsed.
type StaleEvent struct {
	SubscriptionID string
	MessageID      string
	NewStatus      model.MessageStatus
}

// ResetStale reopens or fails every processing row whose heartbeat has not
// been refreshed within staleTimeout: a first lapse returns the row to
// waiting with stale_count incremented to 1, a second lapse fails it. Every
// affected row's subscription has its sequential gate cleared, whether or
// not it was actually sequential.
func (p *Postgres) ResetStale(ctx context.Context, staleTimeout time.Duration) ([]StaleEvent, error) {
	var events []StaleEvent

	err := p.withTx(ctx, func(tx *sql.Tx) error {
		threshold := p.now().Add(-staleTimeout)

		rows, err := tx.QueryContext(ctx, `
SELECT subscription_id, message_id, stale_count
FROM subscription_messages
WHERE status = 'processing' AND last_heartbeat_at <= $1
FOR UPDATE SKIP LOCKED
`, threshold)
		if err != nil {
			return fmt.Errorf("select stale candidates: %w", err)
		}

		type candidate struct {
			subscriptionID string
			messageID      string
			staleCount     int
		}
		var candidates []candidate
		for rows.Next() {
			var c candidate
			if err := rows.Scan(&c.subscriptionID, &c.messageID, &c.staleCount); err != nil {
				rows.Close()
				return fmt.Errorf("scan stale candidate: %w", err)
			}
			candidates = append(candidates, c)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		if len(candidates) == 0 {
			return nil
		}

		affectedSubscriptions := make(map[string]bool, len(candidates))
		for _, c := range candidates {
			newStatus := model.StatusWaiting
			if c.staleCount > 0 {
				newStatus = model.StatusFailed
			}

			if _, err := tx.ExecContext(ctx, `
UPDATE subscription_messages
SET status = $3, stale_count = stale_count + 1, last_heartbeat_at = NULL, available_at = NULL
WHERE subscription_id = $1 AND message_id = $2
`, c.subscriptionID, c.messageID, newStatus); err != nil {
				return fmt.Errorf("transition stale message %s: %w", c.messageID, err)
			}

			if newStatus == model.StatusFailed {
				if err := p.insertDeadLetterTx(ctx, tx, c.subscriptionID, c.messageID, c.staleCount+1, "stale", nil); err != nil {
					return err
				}
			}

			events = append(events, StaleEvent{SubscriptionID: c.subscriptionID, MessageID: c.messageID, NewStatus: newStatus})
			affectedSubscriptions[c.subscriptionID] = true
		}

		ids := make([]string, 0, len(affectedSubscriptions))
		for id := range affectedSubscriptions {
			ids = append(ids, id)
		}
		query, args, err := p.sb.Update("subscriptions").
			Set("processing", false).
			Where(sq.Eq{"id": ids}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build gate clear: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("clear sequential gates: %w", err)
		}
		return nil
	})
	return events, err
}
