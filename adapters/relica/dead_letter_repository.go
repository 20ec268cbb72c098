package relica

import (
	"context"
	"database/sql"
	"errors"

	"github.com/coregx/broker/model"
	"github.com/coregx/relica"
)

// DeadLetterRepository provides read-only access to dead-letter records via
// Relica, for the admin dashboard's inspection views.
type DeadLetterRepository struct {
	db *relica.DB
}

// NewDeadLetterRepository wraps an already-open *sql.DB for the given
// driver.
func NewDeadLetterRepository(sqlDB *sql.DB, driverName string) *DeadLetterRepository {
	return &DeadLetterRepository{db: relica.WrapDB(sqlDB, driverName)}
}

// ListBySubscription returns every dead-letter record for a subscription,
// newest first.
func (r *DeadLetterRepository) ListBySubscription(ctx context.Context, subscriptionID string) ([]model.DeadLetter, error) {
	var letters []model.DeadLetter
	err := r.db.WithContext(ctx).
		Select("*").
		From(model.DeadLetter{}.TableName()).
		Where("subscription_id = ?", subscriptionID).
		OrderBy("created_at DESC").
		All(&letters)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return letters, nil
}
