package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/pithecene-io/tributary/log"
	"github.com/pithecene-io/tributary/metrics"
	"github.com/pithecene-io/tributary/ndjson"
	"github.com/pithecene-io/tributary/types"
)

// ErrIdleTimeout is the cancellation cause of a run that received no bytes
// within the configured idle window.
var ErrIdleTimeout = errors.New("stream idle timeout")

// StreamErrorKind classifies fatal stream errors.
type StreamErrorKind int

const (
	// StreamErrorTransport indicates the stream could not be established.
	StreamErrorTransport StreamErrorKind = iota
	// StreamErrorRead indicates a failure while reading an established stream.
	StreamErrorRead
	// StreamErrorIdle indicates the idle timeout elapsed.
	StreamErrorIdle
)

func (k StreamErrorKind) String() string {
	switch k {
	case StreamErrorTransport:
		return "transport"
	case StreamErrorRead:
		return "read"
	case StreamErrorIdle:
		return "idle_timeout"
	default:
		return fmt.Sprintf("StreamErrorKind(%d)", int(k))
	}
}

// StreamError is a fatal run error. It is recorded in RunState and never
// returned to the caller of Run.
type StreamError struct {
	Kind StreamErrorKind
	Err  error
}

func (e *StreamError) Error() string {
	switch e.Kind {
	case StreamErrorTransport:
		return "transport error: " + e.Err.Error()
	case StreamErrorIdle:
		return "idle: " + e.Err.Error()
	default:
		return "stream read error: " + e.Err.Error()
	}
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

func isStreamErrorKind(err error, kind StreamErrorKind) bool {
	var streamErr *StreamError
	if errors.As(err, &streamErr) {
		return streamErr.Kind == kind
	}
	return false
}

// IsTransportError returns true if the error is a transport error.
func IsTransportError(err error) bool { return isStreamErrorKind(err, StreamErrorTransport) }

// IsReadError returns true if the error is a read error.
func IsReadError(err error) bool { return isStreamErrorKind(err, StreamErrorRead) }

// IsIdleTimeout returns true if the error is an idle timeout.
func IsIdleTimeout(err error) bool { return isStreamErrorKind(err, StreamErrorIdle) }

// Sink receives the output of an IngestionEngine.
type Sink interface {
	// Fold applies one event. Returning false stops ingestion with ErrAborted.
	Fold(ev types.Event) bool
	// ParseError records a skipped line.
	ParseError(err error)
}

// IngestionEngine drives the read loop for one stream:
//   - Lines are classified in wire order and handed to the sink one at a time
//   - Malformed lines are skipped and reported; they never end the run
//   - A read failure or an oversized line ends the run
//   - End of stream is a clean finish
type IngestionEngine struct {
	reader    *ndjson.Reader
	sink      Sink
	logger    *log.Logger
	collector *metrics.Collector
}

// NewIngestionEngine creates an ingestion engine over r.
func NewIngestionEngine(
	r io.Reader,
	opts ndjson.ReaderOptions,
	sink Sink,
	logger *log.Logger,
	collector *metrics.Collector,
) *IngestionEngine {
	if logger == nil {
		logger = log.NewNop()
	}
	return &IngestionEngine{
		reader:    ndjson.NewReader(r, opts),
		sink:      sink,
		logger:    logger,
		collector: collector,
	}
}

// Run runs the ingestion loop until end of stream or a fatal error.
// Returns:
//   - nil: stream ended cleanly
//   - ErrAborted: the sink refused an event
//   - *StreamError with Kind=StreamErrorRead: read failure or oversized line
func (e *IngestionEngine) Run(ctx context.Context) error {
	defer func() { e.collector.AddBytes(e.reader.BytesRead()) }()

	for {
		if ctx.Err() != nil {
			return &StreamError{Kind: StreamErrorRead, Err: context.Cause(ctx)}
		}

		ev, err := e.reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ndjson.IsParseError(err) {
				e.logger.Warn("skipping malformed line", map[string]any{
					"error": err.Error(),
				})
				e.collector.IncParseError()
				e.sink.ParseError(err)
				continue
			}
			return &StreamError{Kind: StreamErrorRead, Err: err}
		}

		if !e.sink.Fold(ev) {
			return ErrAborted
		}
		e.collector.IncEvent(string(ev.Header().Type))
	}
}

// BytesRead returns the number of bytes consumed so far.
func (e *IngestionEngine) BytesRead() int64 {
	return e.reader.BytesRead()
}
