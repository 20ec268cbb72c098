// Package store is the transactional SQL engine behind the broker: schema
// bootstrap, message fan-out, the subscription reservation protocol, the
// stale detector, the retention trimmer, and the scheduler. Every operation
// that needs more than one statement to stay consistent runs inside a single
// *sql.Tx, following the same begin/defer-rollback/commit shape used for
// row-locked dequeue in the queue package this engine is modeled on.
package store

import (
	"context"
	"database/sql"
	"embed"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/coregx/broker/internal/idgen"
)

//go:embed migrations/*.sql
var MigrationFiles embed.FS

// Postgres is the production storage engine. It speaks database/sql over
// the pgx stdlib driver, builds SQL with squirrel's Dollar placeholder
// style, and generates message ids with a per-process monotonic
// idgen.Generator.
type Postgres struct {
	db    *sql.DB
	sb    sq.StatementBuilderType
	ids   *idgen.Generator
	nowFn func() time.Time
}

// Option configures a Postgres store at construction time.
type Option func(*Postgres)

// WithNowFunc overrides the clock the engine uses for "now" comparisons.
// Tests use this to simulate stale timeouts and scheduled-message occurrences
// without sleeping.
func WithNowFunc(now func() time.Time) Option {
	return func(p *Postgres) {
		if now != nil {
			p.nowFn = now
		}
	}
}

// WithIDGenerator overrides the id generator, mainly for tests that want
// deterministic or injectable ids.
func WithIDGenerator(g *idgen.Generator) Option {
	return func(p *Postgres) {
		if g != nil {
			p.ids = g
		}
	}
}

// New wraps an already-open *sql.DB. The caller owns the pool's lifetime;
// the store never closes db itself (mirrors the pool-ownership split the
// embedding application expects for any Options-Pattern service).
func New(db *sql.DB, opts ...Option) *Postgres {
	p := &Postgres{
		db:    db,
		sb:    sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		ids:   idgen.New(),
		nowFn: time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Postgres) now() time.Time {
	return p.nowFn().UTC()
}

// withTx runs fn inside a transaction, committing on a nil return and
// rolling back otherwise. Mirrors the committed-flag/defer-rollback idiom
// used throughout this engine's grounding source.
func (p *Postgres) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}
