// Package version stores document versions as rows of bounded-size chunks.
//
// A version is a full snapshot of a document,
// named by its ingestion timestamp in milliseconds.
// Its bytes are stored as chunk rows numbered from 1.
// The last row of a complete version also records the number of chunks in the version
// (chunks_total, equal to that row's own chunk_index).
// That row is the version's completeness marker:
// readers only ever see versions that have one.
// Rows of an incomplete version are never read,
// and are eventually deleted by retention.
package version

import (
	"context"

	"github.com/bobg/docstore/migrate"
)

const (
	// Threshold is the content size below which a version is handled in memory as a whole:
	// ingested in one transaction, and read back into a single cached buffer.
	// Larger versions are streamed chunk by chunk in both directions.
	Threshold = 5_000_000

	// Keep is the number of complete versions retained per document.
	Keep = 10
)

// Schema creates the chunk table.
// Rows with a non-NULL chunks_total are completeness markers.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS document_versions (
  document_id TEXT NOT NULL,
  ts_ms BIGINT NOT NULL,
  payload BYTEA NOT NULL,
  chunk_index BIGINT NOT NULL,
  chunks_total BIGINT,
  PRIMARY KEY (document_id, ts_ms, chunk_index)
)`,
	`CREATE INDEX IF NOT EXISTS document_versions_complete ON document_versions (document_id, chunks_total, ts_ms)`,
}

// Migration is the migration that creates the chunk table,
// for inclusion in an actor's migration list under the given id.
func Migration(id int) migrate.Migration {
	return migrate.Migration{
		ID:          id,
		Description: "create document_versions",
		Statements:  Schema,
	}
}

// Getter is the read side of a chunk store.
type Getter interface {
	// Latest is the timestamp of the document's most recent complete version.
	// It returns docstore.ErrNotFound if there is none.
	Latest(ctx context.Context, docID string) (int64, error)

	// Versions lists the timestamps of up to limit of the document's most recent complete versions,
	// newest first.
	Versions(ctx context.Context, docID string, limit int) ([]int64, error)

	// LastTimestamp is the highest timestamp of any chunk row for the document,
	// complete or not,
	// or zero if there are none.
	LastTimestamp(ctx context.Context, docID string) (int64, error)

	// Size reports the total payload size of a version and its number of chunks
	// according to its completeness marker.
	// It returns docstore.ErrNotFound if the version is not complete.
	Size(ctx context.Context, docID string, ts int64) (size int64, chunks int, err error)

	// Chunk gets one chunk of a version.
	Chunk(ctx context.Context, docID string, ts int64, index int) ([]byte, error)

	// Chunks calls f with each chunk of a version in order.
	Chunks(ctx context.Context, docID string, ts int64, f func(index int, payload []byte) error) error
}

// Store is a chunk store.
type Store interface {
	Getter

	// WriteAll splits buf into chunks and writes all of them,
	// completeness marker included,
	// in a single transaction.
	WriteAll(ctx context.Context, docID string, ts int64, buf []byte) (chunks int, err error)

	// WriteChunk writes one chunk row with no completeness marker.
	WriteChunk(ctx context.Context, docID string, ts int64, index int, payload []byte) error

	// WriteTerminal writes an empty chunk row at the given index
	// that marks the version complete with index chunks.
	WriteTerminal(ctx context.Context, docID string, ts int64, index int) error

	// Retain deletes every chunk row of the document older than its keep-th most recent complete version.
	// It does nothing if there are fewer than keep complete versions.
	// It reports the number of rows deleted.
	Retain(ctx context.Context, docID string, keep int) (int64, error)
}
