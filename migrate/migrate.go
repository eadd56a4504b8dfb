// Package migrate applies versioned schema changes to a shard.
//
// Each shard records the id of the last migration applied to it.
// RunAll applies, in order, every migration with a higher id,
// each in its own transaction together with the update of that record.
// A migration that fails leaves the record where it was,
// so the next RunAll retries it.
package migrate

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bobg/docstore/shard"
)

// Migration is one versioned schema change.
type Migration struct {
	// ID orders migrations. It must be positive and unique within a list.
	ID int

	Description string

	// Statements are executed in order, in one transaction.
	Statements []string
}

// Runner applies a list of migrations to a shard.
type Runner struct {
	sh         shard.Shard
	migrations []Migration
	log        *zap.Logger
}

// New produces a new Runner.
// The migrations must be listed in strictly ascending id order.
// A nil logger discards log output.
func New(sh shard.Shard, migrations []Migration, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{sh: sh, migrations: migrations, log: log}
}

const stateSchema = `
CREATE TABLE IF NOT EXISTS schema_state (
  id INTEGER PRIMARY KEY NOT NULL CHECK (id = 1),
  version BIGINT NOT NULL
)`

const stateTable = "schema_state"

// Version is the id of the last migration applied,
// or zero if none has been.
// It only reads.
func (r *Runner) Version(ctx context.Context) (int, error) {
	ok, err := r.sh.HasTable(ctx, stateTable)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return version(ctx, r.sh.DB())
}

type queryRower interface {
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func version(ctx context.Context, q queryRower) (int, error) {
	const query = `SELECT version FROM schema_state WHERE id = 1`

	var v int
	err := q.QueryRowContext(ctx, query).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return v, errors.Wrap(err, "querying schema version")
}

// RunAll applies every migration newer than the database's current version.
// It reports how many it applied.
// When the database is already current it applies none and writes nothing.
func (r *Runner) RunAll(ctx context.Context) (int, error) {
	if err := r.check(); err != nil {
		return 0, err
	}

	current, err := r.Version(ctx)
	if err != nil {
		return 0, err
	}

	var pending []Migration
	for _, m := range r.migrations {
		if m.ID > current {
			pending = append(pending, m)
		}
	}
	if len(pending) == 0 {
		return 0, nil
	}

	r.log.Info("Bringing up schema migrations", zap.Int("current", current), zap.Int("migration_count", len(pending)))

	for i, m := range pending {
		r.log.Debug("Executing schema migration", zap.Int("id", m.ID), zap.String("description", m.Description))
		if err = r.apply(ctx, m); err != nil {
			return i, errors.Wrapf(err, "applying migration %d (%s)", m.ID, m.Description)
		}
	}
	return len(pending), nil
}

func (r *Runner) apply(ctx context.Context, m Migration) error {
	return shard.Tx(ctx, r.sh.DB(), func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, stateSchema); err != nil {
			return errors.Wrap(err, "creating schema_state")
		}

		// Re-read inside the transaction,
		// so a migration is never applied on top of a newer one.
		v, err := version(ctx, tx)
		if err != nil {
			return err
		}
		if v >= m.ID {
			return nil
		}

		for i, stmt := range m.Statements {
			if _, err = tx.ExecContext(ctx, stmt); err != nil {
				return errors.Wrapf(err, "executing statement %d", i+1)
			}
		}

		const q = `INSERT INTO schema_state (id, version) VALUES (1, $1)
			ON CONFLICT (id) DO UPDATE SET version = excluded.version`
		_, err = tx.ExecContext(ctx, q, m.ID)
		return errors.Wrap(err, "recording schema version")
	})
}

func (r *Runner) check() error {
	var last int
	for _, m := range r.migrations {
		if m.ID <= last {
			return errors.Errorf("migration %d (%s) out of order", m.ID, m.Description)
		}
		last = m.ID
	}
	return nil
}
