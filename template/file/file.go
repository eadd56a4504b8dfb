// Package file implements a template source reading templates from a directory.
package file

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/bobg/docstore"
	"github.com/bobg/docstore/template"
)

var _ template.Source = &Source{}

// Source reads the template for type T from the file <dir>/T.html.
type Source struct {
	dir string
}

// New produces a new Source reading beneath `dir`.
func New(dir string) *Source {
	return &Source{dir: dir}
}

// Fetch implements template.Source.
func (s *Source) Fetch(_ context.Context, t docstore.Type) ([]byte, error) {
	path := filepath.Join(s.dir, template.ObjectName("", t))
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(template.ErrNoTemplate, "no template at %s", path)
	}
	return b, errors.Wrapf(err, "reading %s", path)
}

func init() {
	template.Register("file", func(_ context.Context, conf map[string]interface{}) (template.Source, error) {
		dir, ok := conf["dir"].(string)
		if !ok || dir == "" {
			return nil, errors.New(`missing "dir" parameter`)
		}
		return New(dir), nil
	})
}
