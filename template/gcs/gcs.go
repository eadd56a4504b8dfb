// Package gcs implements a template source on Google Cloud Storage.
package gcs

import (
	"context"
	stderrs "errors"
	"io"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/option"

	"github.com/bobg/docstore"
	"github.com/bobg/docstore/template"
)

var _ template.Source = &Source{}

// Source reads the template for type T from the object <prefix>T.html in a bucket.
type Source struct {
	bucket *storage.BucketHandle
	prefix string
}

// New produces a new Source.
func New(bucket *storage.BucketHandle, prefix string) *Source {
	return &Source{bucket: bucket, prefix: prefix}
}

// Fetch implements template.Source.
func (s *Source) Fetch(ctx context.Context, t docstore.Type) ([]byte, error) {
	name := template.ObjectName(s.prefix, t)
	r, err := s.bucket.Object(name).NewReader(ctx)
	if stderrs.Is(err, storage.ErrObjectNotExist) {
		return nil, errors.Wrapf(template.ErrNoTemplate, "no template object %s", name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading info of object %s", name)
	}
	defer r.Close()

	b := make([]byte, r.Attrs.Size)
	_, err = io.ReadFull(r, b)
	return b, errors.Wrapf(err, "reading contents of object %s", name)
}

func init() {
	template.Register("gcs", func(ctx context.Context, conf map[string]interface{}) (template.Source, error) {
		var options []option.ClientOption
		if creds, ok := conf["creds"].(string); ok && creds != "" {
			options = append(options, option.WithCredentialsFile(creds))
		}
		bucketName, ok := conf["bucket"].(string)
		if !ok || bucketName == "" {
			return nil, errors.New(`missing "bucket" parameter`)
		}
		prefix, _ := conf["prefix"].(string)
		c, err := storage.NewClient(ctx, options...)
		if err != nil {
			return nil, errors.Wrap(err, "creating cloud storage client")
		}
		return New(c.Bucket(bucketName), prefix), nil
	})
}
