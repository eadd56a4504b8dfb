// Package template supplies the initial content of newly created documents.
package template

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/pkg/errors"

	"github.com/bobg/docstore"
)

// Source fetches the initial content for documents of a given type.
// A type with no template produces an error wrapping ErrNoTemplate.
type Source interface {
	Fetch(context.Context, docstore.Type) ([]byte, error)
}

// ErrNoTemplate is the error produced by a Source lacking the template for a type.
// Types are checked before any template is fetched,
// so this is a fault of the deployment, not of the caller.
var ErrNoTemplate = errors.New("no template")

// Factory creates a Source from a configuration map.
type Factory func(context.Context, map[string]interface{}) (Source, error)

var registry = make(map[string]Factory)

// Register makes a Source implementation available to Create under the given key.
func Register(key string, f Factory) {
	registry[key] = f
}

// Create produces a Source of the type registered under key.
func Create(ctx context.Context, key string, conf map[string]interface{}) (Source, error) {
	f, ok := registry[key]
	if !ok {
		return nil, fmt.Errorf("key %s not found in registry", key)
	}
	return f(ctx, conf)
}

// ObjectName is the name under which file- and bucket-based sources
// look for the template of type t.
func ObjectName(prefix string, t docstore.Type) string {
	return prefix + string(t) + ".html"
}

//go:embed tw5.html
var tw5 []byte

// Builtin is a Source of templates compiled into the program.
type Builtin struct{}

// Fetch implements Source.
func (Builtin) Fetch(_ context.Context, t docstore.Type) ([]byte, error) {
	if t != docstore.TW5 {
		return nil, errors.Wrapf(ErrNoTemplate, "no builtin template for %s", t)
	}
	out := make([]byte, len(tw5))
	copy(out, tw5)
	return out, nil
}

// Func adapts a function to the Source interface.
type Func func(context.Context, docstore.Type) ([]byte, error)

// Fetch implements Source.
func (f Func) Fetch(ctx context.Context, t docstore.Type) ([]byte, error) {
	return f(ctx, t)
}

func init() {
	Register("builtin", func(context.Context, map[string]interface{}) (Source, error) {
		return Builtin{}, nil
	})
}
