package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"

	"github.com/bobg/docstore"
	"github.com/bobg/docstore/template"
)

func TestSource(t *testing.T) {
	dir := t.TempDir()
	want := []byte("<html>custom</html>")
	if err := os.WriteFile(filepath.Join(dir, "tw5.html"), want, 0644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	s := New(dir)

	got, err := s.Fetch(ctx, docstore.TW5)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(want) {
		t.Errorf("got %q, want %q", got, want)
	}

	_, err = s.Fetch(ctx, "other")
	if !errors.Is(err, template.ErrNoTemplate) {
		t.Errorf("got %v, want ErrNoTemplate", err)
	}
	if docstore.IsClientFault(err) {
		t.Errorf("missing template reported as a client fault: %v", err)
	}
}
