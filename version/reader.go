package version

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/bobg/docstore"
	"github.com/bobg/docstore/chunk"
)

// ReadAll reads a complete version into a single buffer.
func ReadAll(ctx context.Context, g Getter, docID string, ts int64) ([]byte, error) {
	_, total, err := g.Size(ctx, docID, ts)
	if err != nil {
		return nil, err
	}

	chunks := make([][]byte, 0, total)
	err = g.Chunks(ctx, docID, ts, func(index int, payload []byte) error {
		if index != len(chunks)+1 {
			return errors.Errorf("version %d: got chunk %d, want %d", ts, index, len(chunks)+1)
		}
		chunks = append(chunks, payload)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "reading version %d", ts)
	}
	if len(chunks) != total {
		return nil, errors.Errorf("version %d has %d chunks, want %d", ts, len(chunks), total)
	}
	return chunk.Merge(chunks), nil
}

// Reader produces the content of a version one chunk at a time,
// fetching each chunk only when it is needed.
// It never writes.
//
// The context object is stored in the Reader and used in subsequent calls to Next and Read,
// which is acceptable for an object adhering to the context-free io.Reader interface.
// Canceling it stops the Reader at the next chunk boundary.
type Reader struct {
	Ctx context.Context

	g       Getter
	docID   string
	ts      int64
	total   int
	next    int
	cur     []byte
	closed  bool
	onClose func()
}

// NewReader produces a Reader for version ts of the document,
// which has the given number of chunks
// (see Getter.Size).
func NewReader(ctx context.Context, g Getter, docID string, ts int64, chunks int) *Reader {
	return &Reader{
		Ctx:   ctx,
		g:     g,
		docID: docID,
		ts:    ts,
		total: chunks,
		next:  1,
	}
}

// OnClose arranges for f to be called (once) when the Reader is closed.
func (r *Reader) OnClose(f func()) {
	r.onClose = f
}

// ErrClosed is the error returned by a closed Reader.
var ErrClosed = errors.New("reader closed")

// Next produces the next chunk.
// It returns io.EOF after the last one.
func (r *Reader) Next() ([]byte, error) {
	if r.closed {
		return nil, ErrClosed
	}
	if r.next > r.total {
		return nil, io.EOF
	}
	if err := r.Ctx.Err(); err != nil {
		return nil, err
	}
	b, err := r.g.Chunk(r.Ctx, r.docID, r.ts, r.next)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, errors.Errorf("version %d of %s disappeared during read", r.ts, r.docID)
	}
	if err != nil {
		return nil, err
	}
	r.next++
	return b, nil
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for len(r.cur) == 0 {
		b, err := r.Next()
		if err != nil {
			return 0, err
		}
		r.cur = b
	}
	n := copy(p, r.cur)
	r.cur = r.cur[n:]
	return n, nil
}

// Close implements io.Closer.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.cur = nil
	if r.onClose != nil {
		r.onClose()
	}
	return nil
}
