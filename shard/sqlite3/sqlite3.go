// Package sqlite3 implements shards as Sqlite database files,
// one file per shard.
package sqlite3

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/bobg/sqlutil"
	_ "github.com/mattn/go-sqlite3" // register the sqlite3 type for sql.Open
	"github.com/pkg/errors"

	"github.com/bobg/docstore/shard"
)

var (
	_ shard.Opener = &Opener{}
	_ shard.Shard  = &Shard{}
)

// Opener opens Sqlite-based shards beneath a root directory.
// Tenant shards live in <root>/tenants and document shards in <root>/documents.
type Opener struct {
	root string
}

// New produces a new Opener storing shards beneath `root`.
func New(root string) *Opener {
	return &Opener{root: root}
}

// Path is the database file for the shard with the given key.
func (o *Opener) Path(key shard.Key) string {
	return filepath.Join(o.root, string(key.Kind)+"s", fileName(key.ID)+".db")
}

var plainID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Ids that are not safe as file names (or in a Sqlite URI) are hex-encoded.
// Encoded names contain a dot and plain ones never do,
// so no two ids share a file.
func fileName(id string) string {
	if plainID.MatchString(id) {
		return id
	}
	return "x." + hex.EncodeToString([]byte(id))
}

// Open implements shard.Opener.
func (o *Opener) Open(ctx context.Context, key shard.Key, create bool) (shard.Shard, error) {
	if key.ID == "" {
		return nil, errors.New("empty shard id")
	}
	path := o.Path(key)
	if !create {
		_, err := os.Stat(path)
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(shard.ErrNotExist, "no file for %s", key)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "statting %s", path)
		}
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "ensuring path %s exists", dir)
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path))
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	return Wrap(ctx, db)
}

// Shard is a shard stored in a Sqlite database.
type Shard struct {
	db *sql.DB
}

// Wrap produces a Shard from an open Sqlite database.
// The shard's owner is its only user,
// so the database is limited to a single connection.
func Wrap(ctx context.Context, db *sql.DB) (*Shard, error) {
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "pinging db")
	}
	return &Shard{db: db}, nil
}

// DB implements shard.Shard.
func (s *Shard) DB() *sql.DB {
	return s.db
}

// HasTable implements shard.Shard.
func (s *Shard) HasTable(ctx context.Context, name string) (bool, error) {
	return HasTable(ctx, s.db, name)
}

// HasTable tells whether a Sqlite database has a table with the given name.
func HasTable(ctx context.Context, db *sql.DB, name string) (bool, error) {
	const q = `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = $1`

	var n int
	err := db.QueryRowContext(ctx, q, name).Scan(&n)
	return n > 0, errors.Wrapf(err, "looking up table %s", name)
}

// Wipe implements shard.Shard.
func (s *Shard) Wipe(ctx context.Context) error {
	return DropTables(ctx, s.db)
}

// Close implements shard.Shard.
func (s *Shard) Close() error {
	return s.db.Close()
}

// DropTables drops every table in a Sqlite database in a single transaction.
func DropTables(ctx context.Context, db *sql.DB) error {
	return shard.Tx(ctx, db, func(tx *sql.Tx) error {
		const q = `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`

		var tables []string
		err := sqlutil.ForQueryRows(ctx, tx, q, func(name string) {
			tables = append(tables, name)
		})
		if err != nil {
			return errors.Wrap(err, "listing tables")
		}
		for _, table := range tables {
			if _, err = tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS "%s"`, table)); err != nil {
				return errors.Wrapf(err, "dropping table %s", table)
			}
		}
		return nil
	})
}

func init() {
	shard.Register("sqlite3", func(ctx context.Context, conf map[string]interface{}) (shard.Opener, error) {
		dir, ok := conf["dir"].(string)
		if !ok || dir == "" {
			return nil, errors.New(`missing "dir" parameter`)
		}
		return New(dir), nil
	})
}
