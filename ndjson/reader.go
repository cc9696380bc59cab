package ndjson

import (
	"bytes"
	"errors"
	"io"

	"github.com/pithecene-io/tributary/types"
)

// ReaderOptions configures a Reader.
type ReaderOptions struct {
	// ChunkSize is the read buffer size. Zero uses DefaultChunkSize.
	ChunkSize int
	// MaxLineSize bounds a single buffered line. Zero uses DefaultMaxLineSize.
	MaxLineSize int
}

// Reader pulls typed events from an NDJSON stream.
// It is not safe for concurrent use.
type Reader struct {
	src     io.Reader
	dec     *LineDecoder
	chunk   []byte
	pending [][]byte
	eof     bool
	err     error
	bytes   int64
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader, opts ReaderOptions) *Reader {
	size := opts.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &Reader{
		src:   r,
		dec:   NewLineDecoder(opts.MaxLineSize),
		chunk: make([]byte, size),
	}
}

// Next returns the next event in wire order.
//
// Errors:
//   - io.EOF: stream ended cleanly
//   - non-fatal *LineError: the line was skipped; call Next again
//   - fatal *LineError: a line exceeded the size limit
//   - any other error: the underlying read failed
//
// At end of stream, a non-empty unterminated tail is classified as a final
// line. If it does not parse it is discarded and Next returns io.EOF.
func (r *Reader) Next() (types.Event, error) {
	for {
		if len(r.pending) > 0 {
			line := r.pending[0]
			r.pending = r.pending[1:]
			ev, err := Classify(line)
			if ev == nil && err == nil {
				continue
			}
			return ev, err
		}

		if r.err != nil {
			return nil, r.err
		}

		if r.eof {
			r.err = io.EOF
			tail := r.dec.Flush()
			if len(bytes.TrimSpace(tail)) == 0 {
				continue
			}
			ev, err := Classify(tail)
			if err != nil || ev == nil {
				continue
			}
			return ev, nil
		}

		n, err := r.src.Read(r.chunk)
		if n > 0 {
			r.bytes += int64(n)
			lines, decErr := r.dec.Write(r.chunk[:n])
			r.pending = append(r.pending, lines...)
			if decErr != nil {
				r.err = decErr
				continue
			}
		}
		if errors.Is(err, io.EOF) {
			r.eof = true
		} else if err != nil {
			r.err = err
		}
	}
}

// BytesRead returns the number of bytes consumed from the source.
func (r *Reader) BytesRead() int64 {
	return r.bytes
}
