package relica

import "database/sql"

// Repositories bundles every read repository this package provides, for
// callers that want one construction call instead of wiring each
// repository individually.
type Repositories struct {
	Topic        *TopicRepository
	Subscription *SubscriptionRepository
	DeadLetter   *DeadLetterRepository
}

// NewRepositories constructs every repository against the same pool and
// driver.
func NewRepositories(db *sql.DB, driverName string) *Repositories {
	return &Repositories{
		Topic:        NewTopicRepository(db, driverName),
		Subscription: NewSubscriptionRepository(db, driverName),
		DeadLetter:   NewDeadLetterRepository(db, driverName),
	}
}
