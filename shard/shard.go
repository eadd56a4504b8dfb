// Package shard defines the private transactional store owned by a single actor.
package shard

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// Kind is the kind of actor a shard belongs to.
type Kind string

const (
	Tenant   Kind = "tenant"
	Document Kind = "document"
)

// Key identifies a shard.
type Key struct {
	Kind Kind
	ID   string
}

func (k Key) String() string {
	return string(k.Kind) + "/" + k.ID
}

// Shard is the storage of one actor.
// Nothing but that actor ever reads or writes it,
// so a transaction on a shard never spans two actors.
type Shard interface {
	// DB is the shard's database.
	// Tables in it are private to the shard.
	DB() *sql.DB

	// HasTable tells whether the shard has a table with the given name.
	HasTable(ctx context.Context, name string) (bool, error)

	// Wipe removes every table in the shard,
	// including migration state.
	Wipe(context.Context) error

	// Close releases the shard's resources.
	// Its data remains and can be reopened.
	Close() error
}

// Opener opens shards.
type Opener interface {
	// Open opens the shard with the given key.
	// If its storage does not exist,
	// Open creates it when create is true
	// and otherwise returns an error wrapping ErrNotExist.
	Open(ctx context.Context, key Key, create bool) (Shard, error)
}

// ErrNotExist is the error returned when opening a shard that has no storage.
var ErrNotExist = errors.New("shard does not exist")

// Tx runs fn inside a single transaction on db.
// The transaction is committed if fn returns nil
// and rolled back otherwise.
func Tx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}
