package relica

import (
	"context"
	"database/sql"
	"errors"

	"github.com/coregx/broker/model"
	"github.com/coregx/relica"
)

// TopicRepository provides read-only access to topics via Relica.
type TopicRepository struct {
	db *relica.DB
}

// NewTopicRepository wraps an already-open *sql.DB for the given driver.
func NewTopicRepository(sqlDB *sql.DB, driverName string) *TopicRepository {
	return &TopicRepository{db: relica.WrapDB(sqlDB, driverName)}
}

// GetByName retrieves a topic by its unique name. Returns sql.ErrNoRows if
// none exists.
func (r *TopicRepository) GetByName(ctx context.Context, name string) (model.Topic, error) {
	var topic model.Topic
	err := r.db.WithContext(ctx).Select("*").From(model.Topic{}.TableName()).Where("name = ?", name).One(&topic)
	if err != nil {
		return model.Topic{}, err
	}
	return topic, nil
}

// List returns every topic, ordered by creation order.
func (r *TopicRepository) List(ctx context.Context) ([]model.Topic, error) {
	var topics []model.Topic
	err := r.db.WithContext(ctx).Select("*").From(model.Topic{}.TableName()).OrderBy("id ASC").All(&topics)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return topics, nil
}
