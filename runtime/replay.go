package runtime

import (
	"context"
	"io"
	"time"

	"github.com/pithecene-io/tributary/log"
	"github.com/pithecene-io/tributary/metrics"
	"github.com/pithecene-io/tributary/ndjson"
	"github.com/pithecene-io/tributary/types"
)

// foldSink folds into a private state with no locking or observers.
type foldSink struct {
	st      *RunState
	onEvent func(types.Event)
}

func (s *foldSink) Fold(ev types.Event) bool {
	if s.st.RequestID == "" {
		s.st.RequestID = ev.Header().RequestID
	}
	s.st.Apply(ev)
	if s.onEvent != nil {
		s.onEvent(ev)
	}
	return true
}

func (s *foldSink) ParseError(err error) {
	s.st.RecordParseError(err)
}

// ReplayOptions configures Replay.
type ReplayOptions struct {
	// Reader controls chunking and line limits.
	Reader ndjson.ReaderOptions
	// OnEvent is called after each event is folded (optional).
	OnEvent func(types.Event)
	// Logger receives parse diagnostics (optional).
	Logger *log.Logger
	// Collector receives metrics (optional).
	Collector *metrics.Collector
}

// Replay folds a recorded NDJSON stream through the same decoder,
// classifier and aggregator used for live runs. The request id is taken
// from the first event. A read failure ends the replay in the failed phase.
func Replay(ctx context.Context, r io.Reader, opts ReplayOptions) *RunState {
	st := NewRunState("", time.Now())
	sink := &foldSink{st: st, onEvent: opts.OnEvent}

	engine := NewIngestionEngine(r, opts.Reader, sink, opts.Logger, opts.Collector)
	if err := engine.Run(ctx); err != nil {
		st.markFailed(err, time.Now())
		return st
	}
	st.markFinished(time.Now())
	return st
}
