package relica

import (
	"context"
	"database/sql"
	"errors"

	"github.com/coregx/broker/model"
	"github.com/coregx/relica"
)

// SubscriptionRepository provides read-only access to subscriptions via
// Relica, for admin listing endpoints that do not need the reservation
// engine's locking.
type SubscriptionRepository struct {
	db *relica.DB
}

// NewSubscriptionRepository wraps an already-open *sql.DB for the given
// driver.
func NewSubscriptionRepository(sqlDB *sql.DB, driverName string) *SubscriptionRepository {
	return &SubscriptionRepository{db: relica.WrapDB(sqlDB, driverName)}
}

// GetByID retrieves one subscription by id. Returns sql.ErrNoRows if none
// exists.
func (r *SubscriptionRepository) GetByID(ctx context.Context, id string) (model.Subscription, error) {
	var sub model.Subscription
	err := r.db.WithContext(ctx).Select("*").From(model.Subscription{}.TableName()).Where("id = ?", id).One(&sub)
	if err != nil {
		return model.Subscription{}, err
	}
	return sub, nil
}

// ListByTopic returns every subscription on a topic, ordered by name.
func (r *SubscriptionRepository) ListByTopic(ctx context.Context, topicID string) ([]model.Subscription, error) {
	var subs []model.Subscription
	err := r.db.WithContext(ctx).
		Select("*").
		From(model.Subscription{}.TableName()).
		Where("topic_id = ?", topicID).
		OrderBy("name ASC").
		All(&subs)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return subs, nil
}
