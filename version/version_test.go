package version_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"github.com/bobg/docstore"
	"github.com/bobg/docstore/chunk"
	"github.com/bobg/docstore/shard"
	"github.com/bobg/docstore/shard/sqlite3"
	"github.com/bobg/docstore/testutil"
	. "github.com/bobg/docstore/version"
)

func withStore(t *testing.T, f func(context.Context, shard.Shard, *DB)) {
	ctx := context.Background()
	sh, err := sqlite3.New(t.TempDir()).Open(ctx, shard.Key{Kind: shard.Document, ID: "doc"}, true)
	if err != nil {
		t.Fatal(err)
	}
	defer sh.Close()
	f(ctx, sh, testutil.Versions(ctx, t, sh))
}

func TestRoundTrip(t *testing.T) {
	sizes := []int{0, 1, chunk.MaxSize, 15_000_000}
	withStore(t, func(ctx context.Context, _ shard.Shard, s *DB) {
		for _, size := range sizes {
			data := testutil.Data(size, int64(size))
			for _, hint := range []int64{int64(size), -1} {
				t.Run(fmt.Sprintf("size_%d_hint_%d", size, hint), func(t *testing.T) {
					testutil.RoundTrip(ctx, t, s, fmt.Sprintf("doc-%d-%d", size, hint), 1000, data, hint)
				})
			}
		}
	})
}

func TestPaths(t *testing.T) {
	withStore(t, func(ctx context.Context, _ shard.Shard, s *DB) {
		cases := []struct {
			size         int
			hint         int64
			wantStreamed bool
			wantChunks   int
		}{
			{size: 100, hint: 100, wantStreamed: false, wantChunks: 1},
			{size: 0, hint: 0, wantStreamed: false, wantChunks: 1},
			{size: 3_000_000, hint: 3_000_000, wantStreamed: false, wantChunks: 2},
			{size: 3_000_000, hint: -1, wantStreamed: true, wantChunks: 3},
			{size: 0, hint: -1, wantStreamed: true, wantChunks: 1},
			{size: Threshold, hint: Threshold, wantStreamed: true, wantChunks: 5},

			// The hint understates the size.
			{size: 6_000_000, hint: 10, wantStreamed: true, wantChunks: 5},
		}
		for i, c := range cases {
			docID := fmt.Sprintf("doc%d", i)
			data := testutil.Data(c.size, int64(i))
			res, err := Ingest(ctx, s, docID, 1, bytes.NewReader(data), c.hint)
			if err != nil {
				t.Fatal(err)
			}
			if res.Streamed != c.wantStreamed {
				t.Errorf("case %d: streamed %v, want %v", i, res.Streamed, c.wantStreamed)
			}
			if res.Chunks != c.wantChunks {
				t.Errorf("case %d: %d chunks, want %d", i, res.Chunks, c.wantChunks)
			}
			if c.wantStreamed != (res.Buffer == nil) {
				t.Errorf("case %d: buffer presence %v on streamed=%v", i, res.Buffer != nil, res.Streamed)
			}
			got, err := ReadAll(ctx, s, docID, 1)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, data) {
				t.Errorf("case %d: content mismatch", i)
			}
		}
	})
}

func TestIncompleteInvisible(t *testing.T) {
	withStore(t, func(ctx context.Context, sh shard.Shard, s *DB) {
		// No version yet: an interrupted ingest leaves nothing readable.
		_, err := Ingest(ctx, s, "doc", 1, testutil.FailAfter(bytes.NewReader(testutil.Data(4_000_000, 1)), 3_500_000), -1)
		if err == nil {
			t.Fatal("got no error from failing ingest")
		}
		if _, err = s.Latest(ctx, "doc"); !errors.Is(err, docstore.ErrNotFound) {
			t.Errorf("got %v, want ErrNotFound", err)
		}

		first := testutil.Data(2_000_000, 2)
		if _, err = Ingest(ctx, s, "doc", 2, bytes.NewReader(first), -1); err != nil {
			t.Fatal(err)
		}

		// Interrupted after two full chunks were written.
		_, err = Ingest(ctx, s, "doc", 3, testutil.FailAfter(bytes.NewReader(testutil.Data(8_000_000, 3)), 3_200_000), -1)
		if err == nil {
			t.Fatal("got no error from failing ingest")
		}

		var partial int
		if err = sh.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM document_versions WHERE ts_ms = 3`).Scan(&partial); err != nil {
			t.Fatal(err)
		}
		if partial != 2 {
			t.Errorf("got %d rows left by the failed ingest, want 2", partial)
		}

		latest, err := s.Latest(ctx, "doc")
		if err != nil {
			t.Fatal(err)
		}
		if latest != 2 {
			t.Errorf("latest version is %d, want 2", latest)
		}
		if _, _, err = s.Size(ctx, "doc", 3); !errors.Is(err, docstore.ErrNotFound) {
			t.Errorf("got %v for size of incomplete version, want ErrNotFound", err)
		}
		got, err := ReadAll(ctx, s, "doc", latest)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, first) {
			t.Error("latest content is not the last complete version")
		}

		last, err := s.LastTimestamp(ctx, "doc")
		if err != nil {
			t.Fatal(err)
		}
		if last != 3 {
			t.Errorf("last timestamp is %d, want 3", last)
		}
	})
}

func TestRetain(t *testing.T) {
	withStore(t, func(ctx context.Context, sh shard.Shard, s *DB) {
		for ts := int64(1); ts <= 15; ts++ {
			data := testutil.Data(100*int(ts), ts)
			if _, err := Ingest(ctx, s, "doc", ts, bytes.NewReader(data), int64(len(data))); err != nil {
				t.Fatal(err)
			}
			deleted, err := s.Retain(ctx, "doc", Keep)
			if err != nil {
				t.Fatal(err)
			}
			if ts <= Keep && deleted != 0 {
				t.Errorf("after %d versions, deleted %d rows", ts, deleted)
			}
		}

		got, err := s.Versions(ctx, "doc", 100)
		if err != nil {
			t.Fatal(err)
		}
		want := []int64{15, 14, 13, 12, 11, 10, 9, 8, 7, 6}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}

		var old int
		if err = sh.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM document_versions WHERE ts_ms < 6`).Scan(&old); err != nil {
			t.Fatal(err)
		}
		if old != 0 {
			t.Errorf("%d rows remain for pruned versions", old)
		}
	})
}

func TestRetainPartials(t *testing.T) {
	withStore(t, func(ctx context.Context, sh shard.Shard, s *DB) {
		// Leftovers of failed ingests, one older and one newer than the cutoff.
		if err := s.WriteChunk(ctx, "doc", 1, 1, []byte("stale")); err != nil {
			t.Fatal(err)
		}
		if err := s.WriteChunk(ctx, "doc", 100, 1, []byte("recent")); err != nil {
			t.Fatal(err)
		}
		for ts := int64(2); ts < 2+Keep; ts++ {
			if _, err := s.WriteAll(ctx, "doc", ts, []byte("x")); err != nil {
				t.Fatal(err)
			}
		}

		deleted, err := s.Retain(ctx, "doc", Keep)
		if err != nil {
			t.Fatal(err)
		}
		if deleted != 1 {
			t.Errorf("deleted %d rows, want 1", deleted)
		}

		var n int
		if err = sh.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM document_versions WHERE ts_ms = 100`).Scan(&n); err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Error("partial rows newer than the cutoff were deleted")
		}
	})
}

func TestRetainOtherDocuments(t *testing.T) {
	withStore(t, func(ctx context.Context, _ shard.Shard, s *DB) {
		if _, err := s.WriteAll(ctx, "other", 1, []byte("keep me")); err != nil {
			t.Fatal(err)
		}
		for ts := int64(2); ts < 2+2*Keep; ts++ {
			if _, err := s.WriteAll(ctx, "doc", ts, []byte("x")); err != nil {
				t.Fatal(err)
			}
		}
		if _, err := s.Retain(ctx, "doc", Keep); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Latest(ctx, "other"); err != nil {
			t.Errorf("retention on one document affected another: %s", err)
		}
	})
}

func TestReader(t *testing.T) {
	withStore(t, func(ctx context.Context, _ shard.Shard, s *DB) {
		data := testutil.Data(7_000_000, 7)
		if _, err := Ingest(ctx, s, "doc", 1, bytes.NewReader(data), -1); err != nil {
			t.Fatal(err)
		}
		size, total, err := s.Size(ctx, "doc", 1)
		if err != nil {
			t.Fatal(err)
		}
		if size != int64(len(data)) {
			t.Errorf("size is %d, want %d", size, len(data))
		}
		if total != 6 {
			t.Errorf("version has %d chunks, want 6", total)
		}

		var closed bool
		r := NewReader(ctx, s, "doc", 1, total)
		r.OnClose(func() { closed = true })

		got, err := io.ReadAll(r)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, data) {
			t.Error("streamed content mismatch")
		}
		if err = r.Close(); err != nil {
			t.Fatal(err)
		}
		if !closed {
			t.Error("close callback not called")
		}
		if _, err = r.Next(); err != ErrClosed {
			t.Errorf("got %v from closed reader, want ErrClosed", err)
		}
	})
}

func TestReaderCancel(t *testing.T) {
	withStore(t, func(ctx context.Context, _ shard.Shard, s *DB) {
		data := testutil.Data(6_000_000, 6)
		if _, err := Ingest(ctx, s, "doc", 1, bytes.NewReader(data), -1); err != nil {
			t.Fatal(err)
		}
		_, total, err := s.Size(ctx, "doc", 1)
		if err != nil {
			t.Fatal(err)
		}

		rctx, cancel := context.WithCancel(ctx)
		r := NewReader(rctx, s, "doc", 1, total)
		if _, err = r.Next(); err != nil {
			t.Fatal(err)
		}
		cancel()
		if _, err = r.Next(); !errors.Is(err, context.Canceled) {
			t.Errorf("got %v after cancel, want context.Canceled", err)
		}

		// The version is untouched.
		got, err := ReadAll(ctx, s, "doc", 1)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, data) {
			t.Error("content changed after canceled read")
		}
	})
}
