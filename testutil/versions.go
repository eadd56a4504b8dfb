package testutil

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/docstore/migrate"
	"github.com/bobg/docstore/shard"
	"github.com/bobg/docstore/version"
)

// Data produces n bytes of reproducible pseudo-random data.
func Data(n int, seed int64) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

// Versions prepares the chunk table in a shard and produces a store using it.
func Versions(ctx context.Context, t *testing.T, s shard.Shard) *version.DB {
	r := migrate.New(s, []migrate.Migration{version.Migration(1)}, nil)
	if _, err := r.RunAll(ctx); err != nil {
		t.Fatal(err)
	}
	return version.New(s.DB())
}

// RoundTrip ingests data as version ts of a document,
// then reads the latest version back out to make sure it's the same.
// A negative hint means the content length is unknown.
func RoundTrip(ctx context.Context, t *testing.T, s version.Store, docID string, ts int64, data []byte, hint int64) {
	t1 := time.Now()
	res, err := version.Ingest(ctx, s, docID, ts, bytes.NewReader(data), hint)
	if err != nil {
		t.Fatal(err)
	}
	t.Logf("wrote %d bytes in %d chunks (streamed: %v) in %s", res.Size, res.Chunks, res.Streamed, time.Since(t1))

	if res.Size != int64(len(data)) {
		t.Errorf("ingested %d bytes, want %d", res.Size, len(data))
	}

	latest, err := s.Latest(ctx, docID)
	if err != nil {
		t.Fatal(err)
	}
	if latest != ts {
		t.Errorf("latest version is %d, want %d", latest, ts)
	}

	t2 := time.Now()
	got, err := version.ReadAll(ctx, s, docID, ts)
	if err != nil {
		t.Fatal(err)
	}
	t.Logf("read %d bytes in %s", len(got), time.Since(t2))

	if len(got) != len(data) {
		t.Errorf("got length %d, want %d", len(got), len(data))
	} else {
		for i := 0; i < len(got); i++ {
			if got[i] != data[i] {
				t.Fatalf("mismatch at position %d (of %d)", i, len(got))
			}
		}
	}
}

// ErrInterrupted is the error produced by a FailAfter reader.
var ErrInterrupted = errors.New("connection reset")

type failingReader struct {
	r     io.Reader
	limit int
}

// FailAfter produces a reader that yields the first n bytes of r
// and then fails with ErrInterrupted.
func FailAfter(r io.Reader, n int) io.Reader {
	return &failingReader{r: r, limit: n}
}

func (f *failingReader) Read(p []byte) (int, error) {
	if f.limit <= 0 {
		return 0, ErrInterrupted
	}
	if len(p) > f.limit {
		p = p[:f.limit]
	}
	n, err := f.r.Read(p)
	f.limit -= n
	return n, err
}
