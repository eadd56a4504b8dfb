// Package chunk splits byte sequences into bounded-size chunks and reassembles them.
package chunk

import (
	"io"

	"github.com/pkg/errors"
)

// MaxSize is the largest chunk written to storage,
// chosen to stay below the row-size ceiling of the underlying stores.
const MaxSize = 1_500_000

// Split divides b into consecutive chunks of size bytes each,
// except possibly the last, which may be shorter.
// The chunks share b's underlying array.
// An empty b produces a single empty chunk,
// so that an empty document still has a chunk to mark complete.
// A size of zero or less means MaxSize.
func Split(b []byte, size int) [][]byte {
	if size <= 0 {
		size = MaxSize
	}
	if len(b) == 0 {
		return [][]byte{{}}
	}
	out := make([][]byte, 0, (len(b)+size-1)/size)
	for len(b) > size {
		out = append(out, b[:size:size])
		b = b[size:]
	}
	return append(out, b)
}

// Merge concatenates chunks into a single newly allocated buffer.
func Merge(chunks [][]byte) []byte {
	var n int
	for _, c := range chunks {
		n += len(c)
	}
	out := make([]byte, 0, n)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

// Accumulator reads an input stream in chunk-sized pieces,
// holding no more than one chunk in memory at a time.
type Accumulator struct {
	r    io.Reader
	buf  []byte
	done bool
}

// NewAccumulator produces an Accumulator reading from r
// and producing chunks of size bytes
// (MaxSize if size is zero or less).
func NewAccumulator(r io.Reader, size int) *Accumulator {
	if size <= 0 {
		size = MaxSize
	}
	return &Accumulator{r: r, buf: make([]byte, size)}
}

// Next produces the next chunk from the input.
// Every chunk is full-size except possibly the last.
// When the input is exhausted it returns io.EOF.
// The returned slice is only valid until the next call to Next.
func (a *Accumulator) Next() ([]byte, error) {
	if a.done {
		return nil, io.EOF
	}
	n, err := io.ReadFull(a.r, a.buf)
	switch {
	case err == io.EOF:
		a.done = true
		return nil, io.EOF

	case err == io.ErrUnexpectedEOF:
		a.done = true
		return a.buf[:n], nil

	case err != nil:
		return nil, errors.Wrap(err, "reading input")
	}
	return a.buf, nil
}
