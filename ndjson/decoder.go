// Package ndjson decodes newline-delimited JSON orchestration streams.
//
// Decoding is split in two stages: LineDecoder turns arbitrary byte chunks
// into complete lines, and Classify turns one line into a typed event.
// Reader combines both over an io.Reader.
package ndjson

import (
	"bytes"
	"errors"
	"fmt"
)

// Size limits.
const (
	// DefaultMaxLineSize is the largest line the decoder will buffer (16 MiB).
	DefaultMaxLineSize = 16 * 1024 * 1024
	// DefaultChunkSize is the read buffer size used by Reader.
	DefaultChunkSize = 32 * 1024
)

// LineErrorKind classifies line decoding errors.
type LineErrorKind int

const (
	// LineErrorSyntax indicates the line is not valid JSON.
	LineErrorSyntax LineErrorKind = iota
	// LineErrorNotObject indicates valid JSON that is not an object.
	LineErrorNotObject
	// LineErrorShape indicates an object whose type field is not a string.
	LineErrorShape
	// LineErrorTooLarge indicates a line exceeding the maximum buffered size.
	LineErrorTooLarge
)

func (k LineErrorKind) String() string {
	switch k {
	case LineErrorSyntax:
		return "syntax"
	case LineErrorNotObject:
		return "not_object"
	case LineErrorShape:
		return "shape"
	case LineErrorTooLarge:
		return "too_large"
	default:
		return fmt.Sprintf("LineErrorKind(%d)", int(k))
	}
}

// LineError represents a line that could not be decoded.
type LineError struct {
	Kind LineErrorKind
	Msg  string
	Err  error
	// Line is the offending line, when one was complete.
	Line []byte
}

func (e *LineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if the error ends the stream.
// Only oversized lines are fatal; a malformed line is skipped.
func (e *LineError) IsFatal() bool {
	return e.Kind == LineErrorTooLarge
}

// IsFatalLineError returns true if the error is a fatal line error.
func IsFatalLineError(err error) bool {
	var lineErr *LineError
	if errors.As(err, &lineErr) {
		return lineErr.IsFatal()
	}
	return false
}

// IsParseError returns true if the error is a non-fatal line error.
func IsParseError(err error) bool {
	var lineErr *LineError
	if errors.As(err, &lineErr) {
		return !lineErr.IsFatal()
	}
	return false
}

// LineDecoder splits a chunked byte stream into newline-terminated lines.
// Bytes after the last newline are carried over to the next Write.
// Splitting on '\n' never cuts a UTF-8 sequence, so multi-byte characters
// split across chunks are reassembled intact.
//
// A LineDecoder is not safe for concurrent use.
type LineDecoder struct {
	buf     []byte
	scanned int // leading bytes of buf known to hold no newline
	maxLine int
}

// NewLineDecoder creates a decoder. A maxLine of 0 uses DefaultMaxLineSize.
func NewLineDecoder(maxLine int) *LineDecoder {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineSize
	}
	return &LineDecoder{maxLine: maxLine}
}

// Write appends a chunk and returns every line it completed, without the
// trailing newline. Returned slices are owned by the caller.
//
// If the carried-over partial line grows past the maximum line size,
// Write returns the completed lines and a fatal *LineError.
func (d *LineDecoder) Write(chunk []byte) ([][]byte, error) {
	d.buf = append(d.buf, chunk...)

	var lines [][]byte
	start, from := 0, d.scanned
	for {
		i := bytes.IndexByte(d.buf[from:], '\n')
		if i < 0 {
			break
		}
		end := from + i
		line := make([]byte, end-start)
		copy(line, d.buf[start:end])
		lines = append(lines, line)
		start = end + 1
		from = start
	}

	remaining := len(d.buf) - start
	if start > 0 {
		copy(d.buf, d.buf[start:])
		d.buf = d.buf[:remaining]
	}
	d.scanned = remaining

	if remaining > d.maxLine {
		d.buf = d.buf[:0]
		d.scanned = 0
		return lines, &LineError{
			Kind: LineErrorTooLarge,
			Msg:  fmt.Sprintf("line exceeds maximum size %d", d.maxLine),
		}
	}
	return lines, nil
}

// Flush returns the carried-over bytes and resets the decoder.
// It is called once at end of stream; the result may be empty.
func (d *LineDecoder) Flush() []byte {
	if len(d.buf) == 0 {
		return nil
	}
	rest := make([]byte, len(d.buf))
	copy(rest, d.buf)
	d.buf = d.buf[:0]
	d.scanned = 0
	return rest
}

// Buffered returns the number of carried-over bytes.
func (d *LineDecoder) Buffered() int {
	return len(d.buf)
}
