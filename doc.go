// Package docstore hosts large opaque documents on behalf of many tenants.
//
// Every document is a byte blob,
// typically several megabytes long,
// that is overwritten in full on each save
// and served back byte-for-byte.
// Each save produces a new _version_ of the document,
// named by its ingestion timestamp in milliseconds.
//
// State is partitioned into _shards_,
// one per tenant and one per document.
// Each shard is owned by exactly one _actor_,
// which serializes every operation on that shard,
// so no two operations on the same tenant or the same document ever interleave.
// Operations on different shards proceed independently.
//
// A tenant actor (package tenant) keeps the index of that tenant's documents.
// A document actor (package document) keeps one document's identity
// and its versions.
// Versions are stored as chunks of at most 1.5MB each (package chunk),
// in a per-document table of chunk rows (package version).
// The last chunk row of a version carries the version's chunk count;
// until that row exists,
// the version is invisible to readers.
// A save that dies halfway therefore never exposes a truncated document.
//
// Only the ten most recent complete versions of each document are retained.
//
// The service package ties these together behind plain operations:
// create, list, and delete documents,
// and read and write their content.
package docstore
