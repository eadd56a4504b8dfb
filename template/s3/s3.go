// Package s3 implements a template source on S3-compatible object storage,
// such as MinIO.
package s3

import (
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"

	"github.com/bobg/docstore"
	"github.com/bobg/docstore/template"
)

var _ template.Source = &Source{}

// Source reads the template for type T from the object <prefix>T.html in a bucket.
type Source struct {
	client *minio.Client
	bucket string
	prefix string
}

// New produces a new Source.
func New(client *minio.Client, bucket, prefix string) *Source {
	return &Source{client: client, bucket: bucket, prefix: prefix}
}

// Fetch implements template.Source.
func (s *Source) Fetch(ctx context.Context, t docstore.Type) ([]byte, error) {
	name := template.ObjectName(s.prefix, t)
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrapf(err, "getting object %s", name)
	}
	defer obj.Close()

	b, err := io.ReadAll(obj)
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return nil, errors.Wrapf(template.ErrNoTemplate, "no template object %s", name)
	}
	return b, errors.Wrapf(err, "reading contents of object %s", name)
}

func init() {
	template.Register("s3", func(ctx context.Context, conf map[string]interface{}) (template.Source, error) {
		endpoint, ok := conf["endpoint"].(string)
		if !ok || endpoint == "" {
			return nil, errors.New(`missing "endpoint" parameter`)
		}
		bucket, ok := conf["bucket"].(string)
		if !ok || bucket == "" {
			return nil, errors.New(`missing "bucket" parameter`)
		}
		var (
			accessKey, _ = conf["access_key"].(string)
			secretKey, _ = conf["secret_key"].(string)
			prefix, _    = conf["prefix"].(string)
			useSSL, _    = conf["ssl"].(bool)
		)
		client, err := minio.New(endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
			Secure: useSSL,
		})
		if err != nil {
			return nil, errors.Wrap(err, "creating s3 client")
		}
		return New(client, bucket, prefix), nil
	})
}
