package document

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"go.uber.org/zap/zaptest"

	"github.com/bobg/docstore"
	"github.com/bobg/docstore/chunk"
	"github.com/bobg/docstore/shard"
	"github.com/bobg/docstore/shard/mem"
	"github.com/bobg/docstore/template"
	"github.com/bobg/docstore/template/file"
	"github.com/bobg/docstore/testutil"
	"github.com/bobg/docstore/version"
)

const docID = "doc1"

func testConfig(t *testing.T) Config {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return Config{
		Logger: zaptest.NewLogger(t),
		Clock:  func() time.Time { return now }, // frozen, so timestamps must be bumped
		URL:    func(id string) string { return "https://docs.example/d/" + id },
	}
}

func withActor(t *testing.T, f func(context.Context, shard.Opener, *Actor)) {
	ctx := context.Background()
	o := mem.New()
	defer o.Close()

	a, err := Open(ctx, o, docID, testConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	f(ctx, o, a)
}

func create(ctx context.Context, t *testing.T, a *Actor) Created {
	t.Helper()
	c, err := a.Create(ctx, CreateParams{TenantID: "T1", DocumentID: docID, Name: "Notes", Type: docstore.TW5})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func content(ctx context.Context, t *testing.T, a *Actor) []byte {
	t.Helper()
	c, err := a.Content(ctx, docID)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Body.Close()
	b, err := io.ReadAll(c.Body)
	if err != nil {
		t.Fatal(err)
	}
	if int64(len(b)) != c.Size {
		t.Errorf("read %d bytes, size is %d", len(b), c.Size)
	}
	return b
}

func TestCreate(t *testing.T) {
	withActor(t, func(ctx context.Context, o shard.Opener, a *Actor) {
		if a.Document() != nil {
			t.Fatal("new actor is bound")
		}
		c := create(ctx, t, a)
		if c.RedirectURL != "https://docs.example/d/"+docID {
			t.Errorf("got redirect URL %s", c.RedirectURL)
		}

		tmpl, err := template.Builtin{}.Fetch(ctx, docstore.TW5)
		if err != nil {
			t.Fatal(err)
		}
		if got := content(ctx, t, a); !bytes.Equal(got, tmpl) {
			t.Error("content of new document is not the template")
		}

		// Creating again is a no-op.
		c2 := create(ctx, t, a)
		if diff := cmp.Diff(c, c2); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}

		_, err = a.Create(ctx, CreateParams{TenantID: "T1", DocumentID: "other", Name: "x", Type: docstore.TW5})
		if !errors.Is(err, docstore.ErrUnbound) {
			t.Errorf("got %v, want ErrUnbound", err)
		}

		// A fresh actor on the same shard discovers the identity.
		a2, err := Open(ctx, o, docID, testConfig(t))
		if err != nil {
			t.Fatal(err)
		}
		want := &docstore.Document{ID: docID, TenantID: "T1", Name: "Notes", Type: docstore.TW5, CreatedAt: c.CreatedAt}
		if diff := cmp.Diff(want, a2.Document()); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
		if got := content(ctx, t, a2); !bytes.Equal(got, tmpl) {
			t.Error("content after reopen is not the template")
		}
	})
}

func TestCreateFailures(t *testing.T) {
	withActor(t, func(ctx context.Context, _ shard.Opener, a *Actor) {
		_, err := a.Create(ctx, CreateParams{TenantID: "T1", DocumentID: docID, Name: "Notes", Type: "tw4"})
		if !errors.Is(err, docstore.ErrUnknownType) {
			t.Errorf("got %v, want ErrUnknownType", err)
		}

		boom := errors.New("template service down")
		a.conf.Templates = template.Func(func(context.Context, docstore.Type) ([]byte, error) {
			return nil, boom
		})
		_, err = a.Create(ctx, CreateParams{TenantID: "T1", DocumentID: docID, Name: "Notes", Type: docstore.TW5})
		if !errors.Is(err, boom) {
			t.Errorf("got %v, want %v", err, boom)
		}
		if a.Document() != nil {
			t.Error("actor bound after failed create")
		}
		if a.sh != nil {
			t.Error("failed create allocated a shard")
		}

		_, err = a.Create(ctx, CreateParams{TenantID: "T1", DocumentID: "other", Name: "Notes", Type: docstore.TW5})
		if !errors.Is(err, docstore.ErrUnbound) {
			t.Errorf("got %v creating a different id, want ErrUnbound", err)
		}
	})
}

func TestCreateMissingTemplate(t *testing.T) {
	withActor(t, func(ctx context.Context, _ shard.Opener, a *Actor) {
		a.conf.Templates = file.New(t.TempDir())
		_, err := a.Create(ctx, CreateParams{TenantID: "T1", DocumentID: docID, Name: "Notes", Type: docstore.TW5})
		if !errors.Is(err, template.ErrNoTemplate) {
			t.Fatalf("got %v, want ErrNoTemplate", err)
		}
		if docstore.IsClientFault(err) {
			t.Errorf("missing template reported as a client fault: %v", err)
		}
	})
}

func TestUnbound(t *testing.T) {
	withActor(t, func(ctx context.Context, o shard.Opener, a *Actor) {
		_, err := a.Content(ctx, docID)
		if !errors.Is(err, docstore.ErrUnbound) || !docstore.IsClientFault(err) {
			t.Errorf("got %v, want client-fault ErrUnbound", err)
		}
		if err = a.Upsert(ctx, docID, bytes.NewReader([]byte("x")), 1); !errors.Is(err, docstore.ErrUnbound) {
			t.Errorf("got %v, want ErrUnbound", err)
		}
		if _, err = a.Info(ctx, docID); !errors.Is(err, docstore.ErrUnbound) {
			t.Errorf("got %v, want ErrUnbound", err)
		}
		if _, err = a.Prune(ctx); err != nil {
			t.Error(err)
		}
		if err = a.DeleteAll(ctx); err != nil {
			t.Error(err)
		}

		// None of that allocated storage.
		key := shard.Key{Kind: shard.Document, ID: docID}
		if _, err = o.Open(ctx, key, false); !errors.Is(err, shard.ErrNotExist) {
			t.Errorf("got %v opening the shard of an uncreated document, want ErrNotExist", err)
		}

		create(ctx, t, a)
		if _, err = a.Content(ctx, "doc2"); !errors.Is(err, docstore.ErrUnbound) {
			t.Errorf("got %v for mismatched id, want ErrUnbound", err)
		}
	})
}

func TestRoundTrip(t *testing.T) {
	sizes := []int{0, 1, chunk.MaxSize, 15_000_000}
	withActor(t, func(ctx context.Context, o shard.Opener, a *Actor) {
		create(ctx, t, a)
		for _, size := range sizes {
			data := testutil.Data(size, int64(size))
			for _, hint := range []int64{int64(size), -1} {
				t.Run(fmt.Sprintf("size_%d_hint_%d", size, hint), func(t *testing.T) {
					if err := a.Upsert(ctx, docID, bytes.NewReader(data), hint); err != nil {
						t.Fatal(err)
					}
					if got := content(ctx, t, a); !bytes.Equal(got, data) {
						t.Error("content mismatch")
					}

					// Again with no cache.
					a2, err := Open(ctx, o, docID, testConfig(t))
					if err != nil {
						t.Fatal(err)
					}
					if got := content(ctx, t, a2); !bytes.Equal(got, data) {
						t.Error("content mismatch after reopen")
					}
				})
			}
		}
	})
}

func TestRetention(t *testing.T) {
	withActor(t, func(ctx context.Context, o shard.Opener, a *Actor) {
		create(ctx, t, a)
		for i := 0; i < 15; i++ {
			data := testutil.Data(1000+i, int64(i))
			if err := a.Upsert(ctx, docID, bytes.NewReader(data), -1); err != nil {
				t.Fatal(err)
			}
		}

		info, err := a.Info(ctx, docID)
		if err != nil {
			t.Fatal(err)
		}
		if len(info.Versions) != version.Keep {
			t.Fatalf("got %d versions, want %d", len(info.Versions), version.Keep)
		}

		var stale int
		const q = `SELECT COUNT(*) FROM document_versions WHERE ts_ms < $1`
		if err = a.sh.DB().QueryRowContext(ctx, q, info.Versions[len(info.Versions)-1]).Scan(&stale); err != nil {
			t.Fatal(err)
		}
		if stale != 0 {
			t.Errorf("%d chunk rows remain for pruned versions", stale)
		}

		deleted, err := a.Prune(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if deleted != 0 {
			t.Errorf("second prune deleted %d rows", deleted)
		}
	})
}

func TestInterrupted(t *testing.T) {
	withActor(t, func(ctx context.Context, o shard.Opener, a *Actor) {
		create(ctx, t, a)

		good := testutil.Data(2_000_000, 1)
		if err := a.Upsert(ctx, docID, bytes.NewReader(good), int64(len(good))); err != nil {
			t.Fatal(err)
		}

		bad := testutil.FailAfter(bytes.NewReader(testutil.Data(9_000_000, 2)), 4_000_000)
		if err := a.Upsert(ctx, docID, bad, -1); !errors.Is(err, testutil.ErrInterrupted) {
			t.Fatalf("got %v, want ErrInterrupted", err)
		}
		if a.cached != nil {
			t.Error("cache survived a failed upsert")
		}

		if got := content(ctx, t, a); !bytes.Equal(got, good) {
			t.Error("content after interrupted upsert is not the previous version")
		}

		a2, err := Open(ctx, o, docID, testConfig(t))
		if err != nil {
			t.Fatal(err)
		}
		if got := content(ctx, t, a2); !bytes.Equal(got, good) {
			t.Error("content after reopen is not the previous version")
		}
	})
}

func TestStreamedContent(t *testing.T) {
	withActor(t, func(ctx context.Context, _ shard.Opener, a *Actor) {
		create(ctx, t, a)

		data := testutil.Data(6_000_000, 1)
		if err := a.Upsert(ctx, docID, bytes.NewReader(data), int64(len(data))); err != nil {
			t.Fatal(err)
		}

		ctx2, cancel := context.WithCancel(ctx)
		defer cancel()

		c, err := a.Content(ctx2, docID)
		if err != nil {
			t.Fatal(err)
		}
		defer c.Body.Close()
		if _, ok := c.Body.(*version.Reader); !ok {
			t.Fatalf("got body of type %T, want a streaming reader", c.Body)
		}

		buf := make([]byte, chunk.MaxSize)
		if _, err = io.ReadFull(c.Body, buf); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(buf, data[:chunk.MaxSize]) {
			t.Error("first chunk mismatch")
		}

		cancel()
		if _, err = io.ReadFull(c.Body, buf); !errors.Is(err, context.Canceled) {
			t.Errorf("got %v after cancel, want context.Canceled", err)
		}
	})
}

func TestDeleteAll(t *testing.T) {
	withActor(t, func(ctx context.Context, o shard.Opener, a *Actor) {
		create(ctx, t, a)
		if err := a.DeleteAll(ctx); err != nil {
			t.Fatal(err)
		}
		if a.Document() != nil {
			t.Error("actor still bound after DeleteAll")
		}
		if _, err := a.Content(ctx, docID); !errors.Is(err, docstore.ErrUnbound) {
			t.Errorf("got %v, want ErrUnbound", err)
		}

		a2, err := Open(ctx, o, docID, testConfig(t))
		if err != nil {
			t.Fatal(err)
		}
		if a2.Document() != nil {
			t.Error("reopened actor bound after DeleteAll")
		}

		var n int
		if err = a2.sh.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM document_versions`).Scan(&n); err != nil {
			t.Fatal(err)
		}
		if n != 0 {
			t.Errorf("%d chunk rows remain after DeleteAll", n)
		}

		// The shard is reusable.
		create(ctx, t, a)
	})
}
