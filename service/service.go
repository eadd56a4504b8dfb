// Package service is the entry point of the document store.
// It routes each operation to the tenant coordinator or document actor that owns it.
package service

import (
	"context"
	"io"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bobg/docstore"
	"github.com/bobg/docstore/actor"
	"github.com/bobg/docstore/document"
	"github.com/bobg/docstore/shard"
	"github.com/bobg/docstore/template"
	"github.com/bobg/docstore/tenant"
)

// Options configure a Service.
type Options struct {
	// Templates supplies the initial content of new documents.
	// The default is template.Builtin.
	Templates template.Source

	Logger *zap.Logger

	// Clock is the source of version timestamps.
	// The default is time.Now.
	Clock func() time.Time

	// NewID allocates document ids.
	// The default is uuid.NewString.
	NewID func() string

	// BaseURL prefixes document locations.
	BaseURL string

	// CacheSize is the number of actors of each kind kept live.
	// The default is 128.
	CacheSize int

	// SweepConcurrency is the number of documents Sweep prunes at once.
	// The default is 4.
	SweepConcurrency int
}

// Service is a multi-tenant document store.
type Service struct {
	opener  shard.Opener
	tenants *actor.Registry[*tenant.Coordinator]
	docs    *actor.Registry[*document.Actor]
	opts    Options
	log     *zap.Logger
}

// New produces a Service keeping actor storage in shards from opener.
func New(opener shard.Opener, opts Options) (*Service, error) {
	if opts.Templates == nil {
		opts.Templates = template.Builtin{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 128
	}
	if opts.SweepConcurrency <= 0 {
		opts.SweepConcurrency = 4
	}
	opts.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")

	s := &Service{opener: opener, opts: opts, log: opts.Logger}

	docConf := document.Config{
		Templates: opts.Templates,
		Logger:    opts.Logger.Named("document"),
		Clock:     opts.Clock,
		URL:       s.documentURL,
	}
	docs, err := actor.New("document", opts.CacheSize,
		func(ctx context.Context, docID string) (*document.Actor, error) {
			return document.Open(ctx, opener, docID, docConf)
		},
		(*document.Actor).Close,
		opts.Logger.Named("actors"),
	)
	if err != nil {
		return nil, err
	}
	s.docs = docs

	tenantConf := tenant.Config{
		Logger: opts.Logger.Named("tenant"),
		NewID:  opts.NewID,
		URL:    func(_, docID string) string { return s.documentURL(docID) },
		Clock:  opts.Clock,
	}
	tenants, err := actor.New("tenant", opts.CacheSize,
		func(ctx context.Context, tenantID string) (*tenant.Coordinator, error) {
			return tenant.Open(ctx, opener, tenantID, docs, tenantConf)
		},
		(*tenant.Coordinator).Close,
		opts.Logger.Named("actors"),
	)
	if err != nil {
		return nil, err
	}
	s.tenants = tenants

	return s, nil
}

func (s *Service) documentURL(docID string) string {
	return s.opts.BaseURL + "/d/" + url.PathEscape(docID)
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// CreateDocument creates a document of the given type and name for the tenant.
func (s *Service) CreateDocument(ctx context.Context, tenantID, name, typ string) (tenant.Created, error) {
	if blank(tenantID) {
		return tenant.Created{}, errors.Wrap(docstore.ErrInvalid, "blank tenant id")
	}
	if blank(name) {
		return tenant.Created{}, errors.Wrap(docstore.ErrInvalid, "blank document name")
	}
	t, err := docstore.ParseType(typ)
	if err != nil {
		return tenant.Created{}, errors.Wrapf(err, "document type %q", typ)
	}

	var created tenant.Created
	err = s.tenants.Do(ctx, tenantID, func(c *tenant.Coordinator) error {
		var err error
		created, err = c.CreateDocument(ctx, tenantID, name, t)
		return err
	})
	return created, err
}

// ListDocuments lists the tenant's documents.
func (s *Service) ListDocuments(ctx context.Context, tenantID string) ([]docstore.Entry, error) {
	if blank(tenantID) {
		return nil, errors.Wrap(docstore.ErrInvalid, "blank tenant id")
	}
	var entries []docstore.Entry
	err := s.tenants.Do(ctx, tenantID, func(c *tenant.Coordinator) error {
		var err error
		entries, err = c.List(ctx, tenantID)
		return err
	})
	return entries, err
}

// DeleteDocument deletes one of the tenant's documents
// and lists the tenant's remaining ones.
func (s *Service) DeleteDocument(ctx context.Context, tenantID, docID string) ([]docstore.Entry, error) {
	if blank(tenantID) || blank(docID) {
		return nil, errors.Wrap(docstore.ErrInvalid, "blank id")
	}
	var entries []docstore.Entry
	err := s.tenants.Do(ctx, tenantID, func(c *tenant.Coordinator) error {
		var err error
		entries, err = c.DeleteDocument(ctx, tenantID, docID)
		return err
	})
	return entries, err
}

// DocumentContent produces the latest content of a document,
// whose media type is docstore.ContentType.
// The caller must close the Body of the result.
// Canceling ctx stops the delivery of a large document.
func (s *Service) DocumentContent(ctx context.Context, docID string) (*document.Content, error) {
	if blank(docID) {
		return nil, errors.Wrap(docstore.ErrInvalid, "blank document id")
	}
	var content *document.Content
	release, err := s.docs.Hold(ctx, docID, func(a *document.Actor) error {
		var err error
		content, err = a.Content(ctx, docID)
		return err
	})
	if err != nil {
		return nil, err
	}
	content.Body = &releaser{ReadCloser: content.Body, release: release}
	return content, nil
}

type releaser struct {
	io.ReadCloser
	release func()
}

func (r *releaser) Close() error {
	err := r.ReadCloser.Close()
	r.release()
	return err
}

// UpsertDocumentContent saves the content of r as the newest version of a document.
// The hint is the declared length of the content,
// or a negative number if it is unknown.
// On error the content must be considered not saved;
// it is safe to try again.
func (s *Service) UpsertDocumentContent(ctx context.Context, docID string, r io.Reader, hint int64) error {
	if blank(docID) {
		return errors.Wrap(docstore.ErrInvalid, "blank document id")
	}
	return s.docs.Do(ctx, docID, func(a *document.Actor) error {
		return a.Upsert(ctx, docID, r, hint)
	})
}

// DocumentInfo describes a document and its retained versions.
func (s *Service) DocumentInfo(ctx context.Context, docID string) (*document.Info, error) {
	if blank(docID) {
		return nil, errors.Wrap(docstore.ErrInvalid, "blank document id")
	}
	var info *document.Info
	err := s.docs.Do(ctx, docID, func(a *document.Actor) error {
		var err error
		info, err = a.Info(ctx, docID)
		return err
	})
	return info, err
}

// Sweep applies retention to every document of the tenant,
// reporting the number of chunk rows removed.
// Upserts already do this for the document they touch;
// Sweep reclaims the space of failed ingests in documents that are no longer being written.
func (s *Service) Sweep(ctx context.Context, tenantID string) (int64, error) {
	entries, err := s.ListDocuments(ctx, tenantID)
	if err != nil {
		return 0, err
	}

	var (
		deleted int64
		eg, ctx2 = errgroup.WithContext(ctx)
	)
	eg.SetLimit(s.opts.SweepConcurrency)
	for _, e := range entries {
		docID := e.DocumentID
		eg.Go(func() error {
			return s.docs.Do(ctx2, docID, func(a *document.Actor) error {
				n, err := a.Prune(ctx2)
				if err != nil {
					return errors.Wrapf(err, "sweeping %s", docID)
				}
				atomic.AddInt64(&deleted, n)
				return nil
			})
		})
	}
	err = eg.Wait()

	s.log.Info("Swept tenant", zap.String("tenant", tenantID), zap.Int("documents", len(entries)), zap.Int64("deleted", deleted))
	return deleted, err
}

// Close closes every actor,
// and the shard opener if it is an io.Closer.
func (s *Service) Close() error {
	err1 := s.tenants.Close()
	err2 := s.docs.Close()
	var err3 error
	if c, ok := s.opener.(io.Closer); ok {
		err3 = c.Close()
	}
	for _, err := range []error{err1, err2, err3} {
		if err != nil {
			return err
		}
	}
	return nil
}
