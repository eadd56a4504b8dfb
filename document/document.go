// Package document implements the document actor,
// which owns the storage of a single document.
//
// An actor starts Unbound.
// It becomes Bound when Create succeeds,
// or when it opens a shard in which a document was previously created.
// DeleteAll returns it to Unbound.
// Only Create allocates a shard for a document that has none.
// Upsert and Content require the actor to be Bound to the requested document.
package document

import (
	"bytes"
	"context"
	"database/sql"
	stderrs "errors"
	"io"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bobg/docstore"
	"github.com/bobg/docstore/metrics"
	"github.com/bobg/docstore/migrate"
	"github.com/bobg/docstore/shard"
	"github.com/bobg/docstore/template"
	"github.com/bobg/docstore/version"
	"github.com/bobg/docstore/version/logging"
)

// Migrations are the schema changes of a document actor's shard.
var Migrations = []migrate.Migration{
	{
		ID:          1,
		Description: "create document_info",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS document_info (
  document_id TEXT PRIMARY KEY NOT NULL,
  tenant_id TEXT NOT NULL,
  name TEXT NOT NULL,
  type TEXT NOT NULL
)`,
		},
	},
	version.Migration(2),
	{
		ID:          3,
		Description: "add document_info.created_at_ms",
		Statements: []string{
			`ALTER TABLE document_info ADD COLUMN created_at_ms BIGINT NOT NULL DEFAULT 0`,
		},
	},
}

// Config is the configuration of a document actor.
type Config struct {
	// Templates supplies the initial content of new documents.
	// The default is template.Builtin.
	Templates template.Source

	Logger *zap.Logger

	// Clock is the source of version timestamps.
	// The default is time.Now.
	Clock func() time.Time

	// URL maps a document id to the location returned by Create.
	// The default is the id itself.
	URL func(docID string) string
}

// Actor is a document actor.
// Its methods must not be called concurrently
// (see the actor package).
type Actor struct {
	o     shard.Opener
	key   shard.Key
	sh    shard.Shard // nil until the document's storage exists
	conf  Config
	log   *zap.Logger
	store version.Store

	migrated bool
	doc      *docstore.Document

	// The latest version, when it is small enough to hold in memory.
	cached *snapshot
}

type snapshot struct {
	ts  int64
	buf []byte
}

// Open produces the actor for the document with the given id,
// migrating its shard and loading its identity if it has one.
// A document with no shard yet gets none until Create.
func Open(ctx context.Context, o shard.Opener, docID string, conf Config) (*Actor, error) {
	if conf.Templates == nil {
		conf.Templates = template.Builtin{}
	}
	if conf.Logger == nil {
		conf.Logger = zap.NewNop()
	}
	if conf.Clock == nil {
		conf.Clock = time.Now
	}
	if conf.URL == nil {
		conf.URL = func(id string) string { return id }
	}
	a := &Actor{
		o:    o,
		key:  shard.Key{Kind: shard.Document, ID: docID},
		conf: conf,
		log:  conf.Logger,
	}
	if err := a.ensure(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Actor) attach(ctx context.Context, create bool) error {
	if a.sh != nil {
		return nil
	}
	sh, err := a.o.Open(ctx, a.key, create)
	if stderrs.Is(err, shard.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "opening shard for %s", a.key.ID)
	}
	a.sh = sh
	a.store = logging.New(version.New(sh.DB()), a.log.Named("versions"))
	return nil
}

func (a *Actor) ensure(ctx context.Context) error {
	if a.migrated {
		return nil
	}
	if err := a.attach(ctx, false); err != nil {
		return err
	}
	if a.sh == nil {
		return nil
	}
	if _, err := migrate.New(a.sh, Migrations, a.log).RunAll(ctx); err != nil {
		return errors.Wrap(err, "migrating document shard")
	}
	a.migrated = true

	const q = `SELECT document_id, tenant_id, name, type, created_at_ms FROM document_info LIMIT 1`

	var (
		doc docstore.Document
		ms  int64
	)
	err := a.sh.DB().QueryRowContext(ctx, q).Scan(&doc.ID, &doc.TenantID, &doc.Name, &doc.Type, &ms)
	if stderrs.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "loading document identity")
	}
	doc.CreatedAt = docstore.FromMillis(ms)
	a.doc = &doc
	return nil
}

// Document is the identity the actor is bound to,
// or nil if it is unbound.
func (a *Actor) Document() *docstore.Document {
	if a.doc == nil {
		return nil
	}
	doc := *a.doc
	return &doc
}

func (a *Actor) check(docID string) error {
	if a.doc == nil {
		return errors.Wrapf(docstore.ErrUnbound, "document %s was never created", docID)
	}
	if a.doc.ID != docID {
		return errors.Wrapf(docstore.ErrUnbound, "actor for %s asked about %s", a.doc.ID, docID)
	}
	return nil
}

// The timestamp for a new version.
// It is the clock's reading unless that is not after every existing one.
func (a *Actor) nextTimestamp(ctx context.Context, docID string) (int64, error) {
	ts := docstore.Millis(a.conf.Clock())
	last, err := a.store.LastTimestamp(ctx, docID)
	if err != nil {
		return 0, err
	}
	if ts <= last {
		ts = last + 1
	}
	return ts, nil
}

// CreateParams are the parameters of Create.
type CreateParams struct {
	TenantID   string
	DocumentID string
	Name       string
	Type       docstore.Type
}

// Created is the result of Create.
type Created struct {
	RedirectURL string
	CreatedAt   time.Time
}

// Create initializes the document from the template for its type
// and binds the actor to it.
// Creating a document the actor is already bound to does nothing
// and reports the original creation.
func (a *Actor) Create(ctx context.Context, p CreateParams) (Created, error) {
	if !p.Type.Known() {
		return Created{}, errors.Wrapf(docstore.ErrUnknownType, "creating document of type %q", p.Type)
	}
	if p.DocumentID == "" || p.TenantID == "" {
		return Created{}, errors.Wrap(docstore.ErrInvalid, "creating document with blank id")
	}
	if p.DocumentID != a.key.ID {
		return Created{}, errors.Wrapf(docstore.ErrUnbound, "actor for %s asked to create %s", a.key.ID, p.DocumentID)
	}
	if err := a.ensure(ctx); err != nil {
		return Created{}, err
	}
	if a.doc != nil {
		if a.doc.ID == p.DocumentID && a.doc.TenantID == p.TenantID {
			return Created{RedirectURL: a.conf.URL(a.doc.ID), CreatedAt: a.doc.CreatedAt}, nil
		}
		return Created{}, errors.Wrapf(docstore.ErrUnbound, "actor for %s asked to create %s", a.doc.ID, p.DocumentID)
	}

	buf, err := a.conf.Templates.Fetch(ctx, p.Type)
	if err != nil {
		return Created{}, errors.Wrapf(err, "fetching template for %s", p.Type)
	}

	if err = a.attach(ctx, true); err != nil {
		return Created{}, err
	}
	if err = a.ensure(ctx); err != nil {
		return Created{}, err
	}

	ts, err := a.nextTimestamp(ctx, p.DocumentID)
	if err != nil {
		return Created{}, err
	}
	if _, err = a.store.WriteAll(ctx, p.DocumentID, ts, buf); err != nil {
		return Created{}, errors.Wrap(err, "writing initial version")
	}

	const q = `INSERT INTO document_info (document_id, tenant_id, name, type, created_at_ms) VALUES ($1, $2, $3, $4, $5)`
	if _, err = a.sh.DB().ExecContext(ctx, q, p.DocumentID, p.TenantID, p.Name, string(p.Type), ts); err != nil {
		return Created{}, errors.Wrap(err, "recording document identity")
	}

	a.doc = &docstore.Document{
		ID:        p.DocumentID,
		TenantID:  p.TenantID,
		Name:      p.Name,
		Type:      p.Type,
		CreatedAt: docstore.FromMillis(ts),
	}
	a.cached = &snapshot{ts: ts, buf: buf}

	metrics.IngestedBytes.WithLabelValues(metrics.Buffered).Add(float64(len(buf)))
	metrics.VersionsWritten.WithLabelValues(metrics.Buffered).Inc()
	a.log.Info("Created document", zap.String("document", p.DocumentID), zap.String("tenant", p.TenantID), zap.String("type", string(p.Type)))

	return Created{RedirectURL: a.conf.URL(p.DocumentID), CreatedAt: a.doc.CreatedAt}, nil
}

// Upsert stores the content of r as the document's newest version,
// then deletes versions beyond the most recent version.Keep.
// The hint is the declared length of the content,
// or a negative number if it is unknown.
//
// On error, the document's latest complete version is unchanged,
// though rows of the failed version may remain in storage until retention removes them.
func (a *Actor) Upsert(ctx context.Context, docID string, r io.Reader, hint int64) error {
	if err := a.ensure(ctx); err != nil {
		return err
	}
	if err := a.check(docID); err != nil {
		return err
	}

	ts, err := a.nextTimestamp(ctx, docID)
	if err != nil {
		return err
	}
	a.cached = nil
	res, err := version.Ingest(ctx, a.store, docID, ts, r, hint)
	if err != nil {
		return errors.Wrapf(err, "saving %s", docID)
	}

	path := metrics.Buffered
	if res.Streamed {
		path = metrics.Streaming
	} else {
		a.cached = &snapshot{ts: ts, buf: res.Buffer}
	}
	metrics.IngestedBytes.WithLabelValues(path).Add(float64(res.Size))
	metrics.VersionsWritten.WithLabelValues(path).Inc()
	a.log.Debug("Saved version", zap.String("document", docID), zap.Int64("ts", ts), zap.Int64("size", res.Size), zap.Int("chunks", res.Chunks), zap.String("path", path))

	_, err = a.prune(ctx, docID)
	return err
}

// Prune deletes versions of the bound document beyond the most recent version.Keep,
// reporting the number of chunk rows removed.
// An unbound actor has nothing to prune.
func (a *Actor) Prune(ctx context.Context) (int64, error) {
	if err := a.ensure(ctx); err != nil {
		return 0, err
	}
	if a.doc == nil {
		return 0, nil
	}
	return a.prune(ctx, a.doc.ID)
}

func (a *Actor) prune(ctx context.Context, docID string) (int64, error) {
	deleted, err := a.store.Retain(ctx, docID, version.Keep)
	if err != nil {
		return 0, errors.Wrapf(err, "pruning %s", docID)
	}
	metrics.PrunedRows.Add(float64(deleted))
	return deleted, nil
}

// Content is the content of a document version.
type Content struct {
	Version int64
	Size    int64

	// Body produces the content.
	// The caller must close it.
	Body io.ReadCloser
}

// Content produces the latest complete version of the document.
// Versions smaller than version.Threshold are read into memory
// (or served from the actor's cache).
// Larger ones are streamed a chunk at a time as Body is read;
// canceling ctx stops the stream.
func (a *Actor) Content(ctx context.Context, docID string) (*Content, error) {
	if err := a.ensure(ctx); err != nil {
		return nil, err
	}
	if err := a.check(docID); err != nil {
		return nil, err
	}

	latest, err := a.store.Latest(ctx, docID)
	if err != nil {
		return nil, err
	}
	if a.cached != nil && a.cached.ts == latest {
		metrics.ContentReads.WithLabelValues(metrics.Cache).Inc()
		return inMemory(latest, a.cached.buf), nil
	}

	size, chunks, err := a.store.Size(ctx, docID, latest)
	if err != nil {
		return nil, err
	}
	if size < version.Threshold {
		buf, err := version.ReadAll(ctx, a.store, docID, latest)
		if err != nil {
			return nil, err
		}
		a.cached = &snapshot{ts: latest, buf: buf}
		metrics.ContentReads.WithLabelValues(metrics.Memory).Inc()
		return inMemory(latest, buf), nil
	}

	metrics.ContentReads.WithLabelValues(metrics.Streamed).Inc()
	return &Content{
		Version: latest,
		Size:    size,
		Body:    version.NewReader(ctx, a.store, docID, latest, chunks),
	}, nil
}

func inMemory(ts int64, buf []byte) *Content {
	return &Content{
		Version: ts,
		Size:    int64(len(buf)),
		Body:    io.NopCloser(bytes.NewReader(buf)),
	}
}

// Info describes a document and its retained versions.
type Info struct {
	docstore.Document

	// Versions are the timestamps of the complete versions, newest first.
	Versions []int64
}

// Info describes the document the actor is bound to.
func (a *Actor) Info(ctx context.Context, docID string) (*Info, error) {
	if err := a.ensure(ctx); err != nil {
		return nil, err
	}
	if err := a.check(docID); err != nil {
		return nil, err
	}
	vv, err := a.store.Versions(ctx, docID, 2*version.Keep)
	if err != nil {
		return nil, err
	}
	return &Info{Document: *a.doc, Versions: vv}, nil
}

// DeleteAll removes the document and all its versions,
// leaving the actor unbound.
// The shard is wiped entirely, including its migration state,
// so it can be reused from scratch.
func (a *Actor) DeleteAll(ctx context.Context) error {
	a.cached = nil
	a.doc = nil
	a.migrated = false
	if a.sh == nil {
		return nil
	}
	if err := a.sh.Wipe(ctx); err != nil {
		return errors.Wrap(err, "wiping document shard")
	}
	return nil
}

// Close releases the actor's storage.
func (a *Actor) Close() error {
	a.cached = nil
	if a.sh == nil {
		return nil
	}
	return a.sh.Close()
}
