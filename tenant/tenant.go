// Package tenant implements the tenant coordinator actor,
// which keeps the index of one tenant's documents
// and creates and deletes those documents through their own actors.
//
// A coordinator is claimed by the first tenant id it sees
// and refuses every other one thereafter.
// Its shard is allocated when it is claimed.
package tenant

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrs "errors"
	"strings"
	"time"

	"github.com/bobg/sqlutil"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bobg/docstore"
	"github.com/bobg/docstore/document"
	"github.com/bobg/docstore/migrate"
	"github.com/bobg/docstore/shard"
)

// Migrations are the schema changes of a tenant coordinator's shard.
var Migrations = []migrate.Migration{
	{
		ID:          1,
		Description: "create tenant_info",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS tenant_info (
  tenant_id TEXT PRIMARY KEY NOT NULL,
  data_json TEXT NOT NULL
)`,
		},
	},
	{
		ID:          2,
		Description: "create documents_index",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS documents_index (
  document_id TEXT PRIMARY KEY NOT NULL,
  tenant_id TEXT NOT NULL,
  name TEXT NOT NULL,
  type TEXT NOT NULL,
  created_at_ms BIGINT NOT NULL
)`,
			`CREATE INDEX IF NOT EXISTS documents_index_tenant ON documents_index (tenant_id, created_at_ms)`,
		},
	},
}

// Documents gives access to document actors.
type Documents interface {
	// Do calls fn with the actor for the given document id,
	// serialized with every other call on that actor.
	Do(ctx context.Context, docID string, fn func(*document.Actor) error) error
}

// Config is the configuration of a tenant coordinator.
type Config struct {
	Logger *zap.Logger

	// NewID allocates document ids.
	// The default is uuid.NewString.
	NewID func() string

	// URL maps a document to the location shown in listings.
	// The default is the document id.
	URL func(tenantID, docID string) string

	// Clock is used for the tenant's claim time.
	// The default is time.Now.
	Clock func() time.Time
}

// Coordinator is a tenant coordinator actor.
// Its methods must not be called concurrently
// (see the actor package).
type Coordinator struct {
	o    shard.Opener
	key  shard.Key
	sh   shard.Shard // nil until claimed
	docs Documents
	conf Config
	log  *zap.Logger

	migrated bool
	tenantID string // empty until claimed
}

type tenantData struct {
	ClaimedAtMs int64 `json:"claimed_at_ms"`
}

// Open produces the coordinator for the given tenant id,
// migrating its shard and loading its claim if it has one.
func Open(ctx context.Context, o shard.Opener, tenantID string, docs Documents, conf Config) (*Coordinator, error) {
	if conf.Logger == nil {
		conf.Logger = zap.NewNop()
	}
	if conf.NewID == nil {
		conf.NewID = uuid.NewString
	}
	if conf.URL == nil {
		conf.URL = func(_, docID string) string { return docID }
	}
	if conf.Clock == nil {
		conf.Clock = time.Now
	}
	c := &Coordinator{
		o:    o,
		key:  shard.Key{Kind: shard.Tenant, ID: tenantID},
		docs: docs,
		conf: conf,
		log:  conf.Logger,
	}
	if err := c.ensure(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Coordinator) attach(ctx context.Context, create bool) error {
	if c.sh != nil {
		return nil
	}
	sh, err := c.o.Open(ctx, c.key, create)
	if stderrs.Is(err, shard.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "opening shard for %s", c.key.ID)
	}
	c.sh = sh
	return nil
}

func (c *Coordinator) ensure(ctx context.Context) error {
	if c.migrated {
		return nil
	}
	if err := c.attach(ctx, false); err != nil {
		return err
	}
	if c.sh == nil {
		return nil
	}
	if _, err := migrate.New(c.sh, Migrations, c.log).RunAll(ctx); err != nil {
		return errors.Wrap(err, "migrating tenant shard")
	}
	c.migrated = true

	const q = `SELECT tenant_id FROM tenant_info LIMIT 1`
	err := c.sh.DB().QueryRowContext(ctx, q).Scan(&c.tenantID)
	if stderrs.Is(err, sql.ErrNoRows) {
		return nil
	}
	return errors.Wrap(err, "loading tenant claim")
}

// TenantID is the id that claimed the coordinator,
// or the empty string if it is unclaimed.
func (c *Coordinator) TenantID() string {
	return c.tenantID
}

// Claims the coordinator for tenantID if it is unclaimed.
func (c *Coordinator) claim(ctx context.Context, tenantID string) error {
	if err := c.check(tenantID); err != nil {
		return err
	}
	if c.tenantID != "" {
		return nil
	}
	if err := c.attach(ctx, true); err != nil {
		return err
	}
	if err := c.ensure(ctx); err != nil {
		return err
	}

	data, err := json.Marshal(tenantData{ClaimedAtMs: docstore.Millis(c.conf.Clock())})
	if err != nil {
		return errors.Wrap(err, "encoding tenant data")
	}
	const q = `INSERT INTO tenant_info (tenant_id, data_json) VALUES ($1, $2)`
	if _, err = c.sh.DB().ExecContext(ctx, q, tenantID, string(data)); err != nil {
		return errors.Wrapf(err, "claiming tenant %s", tenantID)
	}
	c.tenantID = tenantID
	c.log.Info("Claimed tenant", zap.String("tenant", tenantID))
	return nil
}

func (c *Coordinator) check(tenantID string) error {
	if c.tenantID != "" && c.tenantID != tenantID {
		return errors.Wrapf(docstore.ErrTenantConflict, "coordinator of %s asked about %s", c.tenantID, tenantID)
	}
	return nil
}

// Created is the result of CreateDocument.
type Created struct {
	DocumentID  string
	RedirectURL string
}

// CreateDocument creates a new document for the tenant
// and adds it to the tenant's index.
// If the document cannot be created,
// nothing is added to the index.
func (c *Coordinator) CreateDocument(ctx context.Context, tenantID, name string, typ docstore.Type) (Created, error) {
	if strings.TrimSpace(tenantID) == "" {
		return Created{}, errors.Wrap(docstore.ErrInvalid, "blank tenant id")
	}
	if strings.TrimSpace(name) == "" {
		return Created{}, errors.Wrap(docstore.ErrInvalid, "blank document name")
	}
	if !typ.Known() {
		return Created{}, errors.Wrapf(docstore.ErrUnknownType, "creating document of type %q", typ)
	}
	if err := c.ensure(ctx); err != nil {
		return Created{}, err
	}
	if err := c.claim(ctx, tenantID); err != nil {
		return Created{}, err
	}

	var (
		docID   = c.conf.NewID()
		created document.Created
	)
	err := c.docs.Do(ctx, docID, func(a *document.Actor) error {
		var err error
		created, err = a.Create(ctx, document.CreateParams{
			TenantID:   tenantID,
			DocumentID: docID,
			Name:       name,
			Type:       typ,
		})
		return err
	})
	if err != nil {
		return Created{}, errors.Wrapf(err, "creating document %s", docID)
	}

	err = shard.Tx(ctx, c.sh.DB(), func(tx *sql.Tx) error {
		const q = `INSERT INTO documents_index (document_id, tenant_id, name, type, created_at_ms)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (document_id) DO UPDATE SET tenant_id = excluded.tenant_id, name = excluded.name, type = excluded.type, created_at_ms = excluded.created_at_ms`
		_, err := tx.ExecContext(ctx, q, docID, tenantID, name, string(typ), docstore.Millis(created.CreatedAt))
		return errors.Wrapf(err, "indexing document %s", docID)
	})
	if err != nil {
		return Created{}, err
	}

	c.log.Info("Created document", zap.String("tenant", tenantID), zap.String("document", docID), zap.String("name", name))
	return Created{DocumentID: docID, RedirectURL: created.RedirectURL}, nil
}

// DeleteDocument deletes one of the tenant's documents
// and removes it from the index,
// then lists the tenant's remaining documents.
// A document not in this tenant's index is not touched,
// and produces docstore.ErrNotFound.
func (c *Coordinator) DeleteDocument(ctx context.Context, tenantID, docID string) ([]docstore.Entry, error) {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(docID) == "" {
		return nil, errors.Wrap(docstore.ErrInvalid, "blank id")
	}
	if err := c.ensure(ctx); err != nil {
		return nil, err
	}
	if err := c.check(tenantID); err != nil {
		return nil, err
	}
	if c.sh == nil {
		return nil, errors.Wrapf(docstore.ErrNotFound, "document %s of tenant %s", docID, tenantID)
	}

	const q1 = `SELECT COUNT(*) FROM documents_index WHERE document_id = $1 AND tenant_id = $2`
	var n int
	if err := c.sh.DB().QueryRowContext(ctx, q1, docID, tenantID).Scan(&n); err != nil {
		return nil, errors.Wrap(err, "looking up document")
	}
	if n == 0 {
		return nil, errors.Wrapf(docstore.ErrNotFound, "document %s of tenant %s", docID, tenantID)
	}

	err := c.docs.Do(ctx, docID, func(a *document.Actor) error {
		return a.DeleteAll(ctx)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "deleting document %s", docID)
	}

	err = shard.Tx(ctx, c.sh.DB(), func(tx *sql.Tx) error {
		const q2 = `DELETE FROM documents_index WHERE document_id = $1 AND tenant_id = $2`
		_, err := tx.ExecContext(ctx, q2, docID, tenantID)
		return errors.Wrapf(err, "unindexing document %s", docID)
	})
	if err != nil {
		return nil, err
	}

	c.log.Info("Deleted document", zap.String("tenant", tenantID), zap.String("document", docID))
	return c.List(ctx, tenantID)
}

// List lists the tenant's documents, oldest first.
// The list is empty if the coordinator was never claimed.
func (c *Coordinator) List(ctx context.Context, tenantID string) ([]docstore.Entry, error) {
	if err := c.ensure(ctx); err != nil {
		return nil, err
	}
	if err := c.check(tenantID); err != nil {
		return nil, err
	}
	entries := []docstore.Entry{}
	if c.tenantID == "" {
		return entries, nil
	}

	const q = `SELECT document_id, name, type, created_at_ms FROM documents_index
		WHERE tenant_id = $1
		ORDER BY created_at_ms, document_id`

	err := sqlutil.ForQueryRows(ctx, c.sh.DB(), q, tenantID, func(docID, name string, typ docstore.Type, ms int64) {
		entries = append(entries, docstore.Entry{
			DocumentID: docID,
			Name:       name,
			Type:       typ,
			URL:        c.conf.URL(tenantID, docID),
			CreatedAt:  docstore.FromMillis(ms),
		})
	})
	return entries, errors.Wrap(err, "listing documents")
}

// Close releases the coordinator's storage.
func (c *Coordinator) Close() error {
	if c.sh == nil {
		return nil
	}
	return c.sh.Close()
}
