// Package mem implements in-memory shards,
// each one a private in-memory Sqlite database.
package mem

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/bobg/docstore/shard"
	"github.com/bobg/docstore/shard/sqlite3"
)

var _ shard.Opener = &Opener{}

// Opener is a memory-based shard opener.
// Shard contents live as long as the Opener does:
// closing a shard leaves its data in place for the next Open.
type Opener struct {
	prefix string

	mu  sync.Mutex
	dbs map[shard.Key]*sql.DB
}

// New produces a new Opener.
// Its databases are invisible to every other Opener.
func New() *Opener {
	return &Opener{
		prefix: uuid.NewString(),
		dbs:    make(map[shard.Key]*sql.DB),
	}
}

// Open implements shard.Opener.
func (o *Opener) Open(ctx context.Context, key shard.Key, create bool) (shard.Shard, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if db, ok := o.dbs[key]; ok {
		return &memShard{db: db}, nil
	}
	if !create {
		return nil, errors.Wrapf(shard.ErrNotExist, "no in-memory db for %s", key)
	}

	name := url.PathEscape(fmt.Sprintf("%s-%s-%s", o.prefix, key.Kind, key.ID))
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		return nil, errors.Wrapf(err, "opening in-memory db for %s", key)
	}

	// The database disappears when its last connection closes,
	// so keep exactly one open for the life of the Opener.
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if _, err = sqlite3.Wrap(ctx, db); err != nil {
		return nil, err
	}
	o.dbs[key] = db
	return &memShard{db: db}, nil
}

// Close discards every shard.
func (o *Opener) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for key, db := range o.dbs {
		if err := db.Close(); err != nil {
			return errors.Wrapf(err, "closing %s", key)
		}
		delete(o.dbs, key)
	}
	return nil
}

type memShard struct {
	db *sql.DB
}

func (s *memShard) DB() *sql.DB {
	return s.db
}

func (s *memShard) HasTable(ctx context.Context, name string) (bool, error) {
	return sqlite3.HasTable(ctx, s.db, name)
}

func (s *memShard) Wipe(ctx context.Context) error {
	return sqlite3.DropTables(ctx, s.db)
}

// Close is a no-op; the data stays with the Opener.
func (s *memShard) Close() error {
	return nil
}

func init() {
	shard.Register("mem", func(context.Context, map[string]interface{}) (shard.Opener, error) {
		return New(), nil
	})
}
