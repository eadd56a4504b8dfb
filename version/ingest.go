package version

import (
	"bytes"
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/bobg/docstore/chunk"
)

// Result describes an ingested version.
type Result struct {
	Timestamp int64
	Size      int64
	Chunks    int // including the completeness marker

	// Streamed tells whether the content went through the streaming path.
	Streamed bool

	// Buffer holds the whole content when it did not.
	Buffer []byte
}

// Ingest reads r to the end and stores its content as version ts of the document.
//
// The hint is the declared content length,
// or a negative number if it is unknown.
// When it is known and below Threshold,
// the content is read into memory and written in a single transaction.
// Otherwise it is streamed:
// each full chunk is written as soon as it has been read,
// with no completeness marker,
// and an empty marker row follows the last of them.
// Memory use on that path is about one chunk regardless of content size.
//
// If Ingest fails partway,
// the rows it has written stay behind,
// invisible to readers for lack of a marker.
func Ingest(ctx context.Context, s Store, docID string, ts int64, r io.Reader, hint int64) (Result, error) {
	if hint >= 0 && hint < Threshold {
		buf, err := io.ReadAll(io.LimitReader(r, Threshold))
		if err != nil {
			return Result{Timestamp: ts}, errors.Wrap(err, "reading content")
		}
		if len(buf) < Threshold {
			n, err := s.WriteAll(ctx, docID, ts, buf)
			if err != nil {
				return Result{Timestamp: ts}, errors.Wrapf(err, "writing version %d", ts)
			}
			return Result{
				Timestamp: ts,
				Size:      int64(len(buf)),
				Chunks:    n,
				Buffer:    buf,
			}, nil
		}

		// The hint was wrong. Stream what was read, then the rest.
		r = io.MultiReader(bytes.NewReader(buf), r)
	}
	return stream(ctx, s, docID, ts, r)
}

func stream(ctx context.Context, s Store, docID string, ts int64, r io.Reader) (Result, error) {
	var (
		res = Result{Timestamp: ts, Streamed: true}
		acc = chunk.NewAccumulator(r, chunk.MaxSize)
	)
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		b, err := acc.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, errors.Wrapf(err, "streaming version %d", ts)
		}
		res.Chunks++
		if err = s.WriteChunk(ctx, docID, ts, res.Chunks, b); err != nil {
			return res, err
		}
		res.Size += int64(len(b))
	}

	res.Chunks++
	err := s.WriteTerminal(ctx, docID, ts, res.Chunks)
	return res, errors.Wrapf(err, "completing version %d", ts)
}
