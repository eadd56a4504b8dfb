// Package pg implements shards as Postgresql schemas,
// one schema per shard.
package pg

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/bobg/docstore/shard"
)

var _ shard.Opener = &Opener{}

// Opener opens Postgresql-based shards.
// Each shard gets its own schema,
// and its connections resolve unqualified table names in that schema only.
type Opener struct {
	conn  string
	admin *sql.DB
}

// New produces a new Opener using the database at `conn`,
// which may be a URL or a key=value connection string.
func New(ctx context.Context, conn string) (*Opener, error) {
	db, err := sql.Open("postgres", conn)
	if err != nil {
		return nil, errors.Wrap(err, "opening db")
	}
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "pinging db")
	}
	return &Opener{conn: conn, admin: db}, nil
}

// Schema is the name of the schema holding the shard with the given key.
func Schema(key shard.Key) string {
	h := sha256.Sum256([]byte(key.ID))
	return string(key.Kind) + "_" + hex.EncodeToString(h[:16])
}

// Open implements shard.Opener.
func (o *Opener) Open(ctx context.Context, key shard.Key, create bool) (shard.Shard, error) {
	schema := Schema(key)
	if create {
		if _, err := o.admin.ExecContext(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, schema)); err != nil {
			return nil, errors.Wrapf(err, "creating schema %s", schema)
		}
	} else {
		const q = `SELECT COUNT(*) FROM information_schema.schemata WHERE schema_name = $1`
		var n int
		if err := o.admin.QueryRowContext(ctx, q, schema).Scan(&n); err != nil {
			return nil, errors.Wrapf(err, "looking up schema %s", schema)
		}
		if n == 0 {
			return nil, errors.Wrapf(shard.ErrNotExist, "no schema for %s", key)
		}
	}

	conn, err := withSearchPath(o.conn, schema)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("postgres", conn)
	if err != nil {
		return nil, errors.Wrapf(err, "opening db for %s", key)
	}
	db.SetMaxOpenConns(1)
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "pinging db for %s", key)
	}
	return &Shard{db: db, admin: o.admin, schema: schema}, nil
}

// Close closes the Opener's administrative connection.
func (o *Opener) Close() error {
	return o.admin.Close()
}

func withSearchPath(conn, schema string) (string, error) {
	if strings.HasPrefix(conn, "postgres://") || strings.HasPrefix(conn, "postgresql://") {
		u, err := url.Parse(conn)
		if err != nil {
			return "", errors.Wrap(err, "parsing connection url")
		}
		q := u.Query()
		q.Set("search_path", schema)
		u.RawQuery = q.Encode()
		return u.String(), nil
	}
	return strings.TrimSpace(conn) + " search_path=" + schema, nil
}

// Shard is a shard stored in a Postgresql schema.
type Shard struct {
	db     *sql.DB
	admin  *sql.DB
	schema string
}

// DB implements shard.Shard.
func (s *Shard) DB() *sql.DB {
	return s.db
}

// HasTable implements shard.Shard.
func (s *Shard) HasTable(ctx context.Context, name string) (bool, error) {
	const q = `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2`

	var n int
	err := s.db.QueryRowContext(ctx, q, s.schema, name).Scan(&n)
	return n > 0, errors.Wrapf(err, "looking up table %s", name)
}

// Wipe implements shard.Shard.
// It drops and recreates the shard's schema.
func (s *Shard) Wipe(ctx context.Context) error {
	return shard.Tx(ctx, s.admin, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP SCHEMA IF EXISTS %s CASCADE`, s.schema)); err != nil {
			return errors.Wrapf(err, "dropping schema %s", s.schema)
		}
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`CREATE SCHEMA %s`, s.schema))
		return errors.Wrapf(err, "recreating schema %s", s.schema)
	})
}

// Close implements shard.Shard.
func (s *Shard) Close() error {
	return s.db.Close()
}

func init() {
	shard.Register("pg", func(ctx context.Context, conf map[string]interface{}) (shard.Opener, error) {
		conn, ok := conf["conn"].(string)
		if !ok || conn == "" {
			return nil, errors.New(`missing "conn" parameter`)
		}
		return New(ctx, conn)
	})
}
