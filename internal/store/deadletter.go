package store

import (
	"context"
	"fmt"

	"github.com/coregx/broker/model"
)

// GetDeadLetterStats aggregates the dead-letter visibility records for a
// subscription, for operator dashboards.
func (p *Postgres) GetDeadLetterStats(ctx context.Context, subscriptionID string) (model.DeadLetterStats, error) {
	stats := model.DeadLetterStats{SubscriptionID: subscriptionID}

	row := p.db.QueryRowContext(ctx, `
SELECT COUNT(*), MIN(created_at), MAX(created_at)
FROM dead_letters
WHERE subscription_id = $1
`, subscriptionID)
	if err := row.Scan(&stats.Total, &stats.OldestAt, &stats.NewestAt); err != nil {
		return model.DeadLetterStats{}, fmt.Errorf("aggregate dead letter stats: %w", err)
	}
	return stats, nil
}

// ListDeadLetters returns the dead-letter records for a subscription,
// newest first, for operator inspection.
func (p *Postgres) ListDeadLetters(ctx context.Context, subscriptionID string, limit int) ([]model.DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
SELECT id, subscription_id, message_id, attempts, reason, error_stack, created_at
FROM dead_letters
WHERE subscription_id = $1
ORDER BY created_at DESC
LIMIT $2
`, subscriptionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var out []model.DeadLetter
	for rows.Next() {
		var d model.DeadLetter
		if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.MessageID, &d.Attempts, &d.Reason, &d.ErrorStack, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
