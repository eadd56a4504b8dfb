package version

import (
	"context"
	"database/sql"
	stderrs "errors"

	"github.com/bobg/sqlutil"
	"github.com/pkg/errors"

	"github.com/bobg/docstore"
	"github.com/bobg/docstore/chunk"
	"github.com/bobg/docstore/shard"
)

var _ Store = &DB{}

// DB is a chunk store in a SQL database,
// normally the database of a document actor's shard.
// The document_versions table must exist (see Schema).
type DB struct {
	db *sql.DB
}

// New produces a new DB using `db` for storage.
func New(db *sql.DB) *DB {
	return &DB{db: db}
}

const completeCond = `chunks_total IS NOT NULL AND chunk_index = chunks_total`

// Latest implements Getter.Latest.
func (s *DB) Latest(ctx context.Context, docID string) (int64, error) {
	const q = `SELECT ts_ms FROM document_versions
		WHERE document_id = $1 AND ` + completeCond + `
		ORDER BY ts_ms DESC LIMIT 1`

	var ts int64
	err := s.db.QueryRowContext(ctx, q, docID).Scan(&ts)
	if stderrs.Is(err, sql.ErrNoRows) {
		return 0, errors.Wrapf(docstore.ErrNotFound, "no complete version of %s", docID)
	}
	return ts, errors.Wrap(err, "querying latest version")
}

// Versions implements Getter.Versions.
func (s *DB) Versions(ctx context.Context, docID string, limit int) ([]int64, error) {
	return versions(ctx, s.db, docID, limit)
}

type queryer interface {
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func versions(ctx context.Context, db queryer, docID string, limit int) ([]int64, error) {
	const q = `SELECT ts_ms FROM document_versions
		WHERE document_id = $1 AND ` + completeCond + `
		ORDER BY ts_ms DESC LIMIT $2`

	var result []int64
	err := sqlutil.ForQueryRows(ctx, db, q, docID, limit, func(ts int64) {
		result = append(result, ts)
	})
	return result, errors.Wrap(err, "querying versions")
}

// LastTimestamp implements Getter.LastTimestamp.
func (s *DB) LastTimestamp(ctx context.Context, docID string) (int64, error) {
	const q = `SELECT COALESCE(MAX(ts_ms), 0) FROM document_versions WHERE document_id = $1`

	var ts int64
	err := s.db.QueryRowContext(ctx, q, docID).Scan(&ts)
	return ts, errors.Wrap(err, "querying last timestamp")
}

// Size implements Getter.Size.
func (s *DB) Size(ctx context.Context, docID string, ts int64) (int64, int, error) {
	const q = `SELECT COALESCE(SUM(LENGTH(payload)), 0), COALESCE(MAX(chunks_total), 0)
		FROM document_versions WHERE document_id = $1 AND ts_ms = $2`

	var (
		size  int64
		total int
	)
	if err := s.db.QueryRowContext(ctx, q, docID, ts).Scan(&size, &total); err != nil {
		return 0, 0, errors.Wrapf(err, "measuring version %d", ts)
	}
	if total == 0 {
		return 0, 0, errors.Wrapf(docstore.ErrNotFound, "version %d of %s is not complete", ts, docID)
	}
	return size, total, nil
}

// Chunk implements Getter.Chunk.
func (s *DB) Chunk(ctx context.Context, docID string, ts int64, index int) ([]byte, error) {
	const q = `SELECT payload FROM document_versions WHERE document_id = $1 AND ts_ms = $2 AND chunk_index = $3`

	var payload []byte
	err := s.db.QueryRowContext(ctx, q, docID, ts, index).Scan(&payload)
	if stderrs.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(docstore.ErrNotFound, "chunk %d of version %d", index, ts)
	}
	return payload, errors.Wrapf(err, "getting chunk %d of version %d", index, ts)
}

// Chunks implements Getter.Chunks.
// The callback must not use the store:
// the query holds the shard's only connection until Chunks returns.
func (s *DB) Chunks(ctx context.Context, docID string, ts int64, f func(int, []byte) error) error {
	const q = `SELECT chunk_index, payload FROM document_versions
		WHERE document_id = $1 AND ts_ms = $2
		ORDER BY chunk_index`

	return sqlutil.ForQueryRows(ctx, s.db, q, docID, ts, func(index int, payload []byte) error {
		return f(index, payload)
	})
}

// WriteAll implements Store.WriteAll.
func (s *DB) WriteAll(ctx context.Context, docID string, ts int64, buf []byte) (int, error) {
	chunks := chunk.Split(buf, chunk.MaxSize)
	err := shard.Tx(ctx, s.db, func(tx *sql.Tx) error {
		for i, c := range chunks {
			index := i + 1
			var total interface{}
			if index == len(chunks) {
				total = index
			}
			if err := insert(ctx, tx, docID, ts, index, c, total); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// WriteChunk implements Store.WriteChunk.
func (s *DB) WriteChunk(ctx context.Context, docID string, ts int64, index int, payload []byte) error {
	return insert(ctx, s.db, docID, ts, index, payload, nil)
}

// WriteTerminal implements Store.WriteTerminal.
func (s *DB) WriteTerminal(ctx context.Context, docID string, ts int64, index int) error {
	return insert(ctx, s.db, docID, ts, index, []byte{}, index)
}

type execer interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
}

func insert(ctx context.Context, db execer, docID string, ts int64, index int, payload []byte, total interface{}) error {
	const q = `INSERT INTO document_versions (document_id, ts_ms, payload, chunk_index, chunks_total)
		VALUES ($1, $2, $3, $4, $5)`

	if payload == nil {
		payload = []byte{}
	}
	_, err := db.ExecContext(ctx, q, docID, ts, payload, index, total)
	return errors.Wrapf(err, "inserting chunk %d of version %d", index, ts)
}

// Retain implements Store.Retain.
func (s *DB) Retain(ctx context.Context, docID string, keep int) (int64, error) {
	if keep <= 0 {
		return 0, errors.Errorf("cannot retain %d versions", keep)
	}

	var deleted int64
	err := shard.Tx(ctx, s.db, func(tx *sql.Tx) error {
		recent, err := versions(ctx, tx, docID, keep)
		if err != nil {
			return err
		}
		if len(recent) < keep {
			return nil
		}

		const q = `DELETE FROM document_versions WHERE document_id = $1 AND ts_ms < $2`
		res, err := tx.ExecContext(ctx, q, docID, recent[keep-1])
		if err != nil {
			return errors.Wrap(err, "deleting old versions")
		}
		deleted, err = res.RowsAffected()
		return errors.Wrap(err, "counting affected rows")
	})
	return deleted, err
}
