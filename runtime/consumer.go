// Package runtime implements the streaming run consumer: the run-state fold,
// the cancellation controller, the ingestion loop and the consumer that
// wires them to the stream-events endpoint.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/tributary/adapter"
	"github.com/pithecene-io/tributary/iox"
	"github.com/pithecene-io/tributary/log"
	"github.com/pithecene-io/tributary/metrics"
	"github.com/pithecene-io/tributary/ndjson"
	"github.com/pithecene-io/tributary/types"
)

// ErrConsumerClosed is returned by Run after Close.
var ErrConsumerClosed = errors.New("consumer is closed")

// DefaultPublishTimeout bounds one run-finished notification, retries included.
const DefaultPublishTimeout = 30 * time.Second

// Config configures a Consumer.
type Config struct {
	// Endpoint is the stream-events URL (required).
	Endpoint string
	// ServiceToken is an optional service credential sent with every run.
	ServiceToken string
	// HTTPClient issues the stream request. It must not set a total Timeout,
	// which would cut long streams; defaults to a client without one.
	HTTPClient *http.Client
	// IdleTimeout ends a run that receives no bytes for this long.
	// Zero disables it. Receiving graph_completed does not end the run.
	IdleTimeout time.Duration
	// ChunkSize is the read buffer size (default ndjson.DefaultChunkSize).
	ChunkSize int
	// MaxLineSize bounds one buffered line (default ndjson.DefaultMaxLineSize).
	MaxLineSize int
	// Logger receives structured logs (default: discard).
	Logger *log.Logger
	// Collector receives metrics (optional, nil-safe).
	Collector *metrics.Collector
	// Observer is notified after every state change (optional).
	Observer Observer
	// Adapter receives one run-finished notification per run (optional).
	Adapter adapter.Adapter
	// PublishTimeout bounds one adapter publish (default 30s).
	PublishTimeout time.Duration
	// NewRequestID generates request ids (default: random UUID). Tests inject this.
	NewRequestID func() string
	// Now is the clock (default time.Now). Tests inject this.
	Now func() time.Time
}

type observerEntry struct {
	id  int
	obs Observer
}

// Consumer runs one stream at a time against the orchestration backend.
//
// Run starts a run asynchronously, superseding any active one. State returns
// a snapshot of the current run. All methods are safe for concurrent use.
type Consumer struct {
	cfg  Config
	ctrl Controller

	mu      sync.Mutex
	state   *RunState
	current *Token
	closed  bool

	obsMu     sync.RWMutex
	observers []observerEntry
	nextObsID int

	publishes sync.WaitGroup
}

// NewConsumer validates cfg and creates a consumer.
func NewConsumer(cfg Config) (*Consumer, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("consumer requires an endpoint")
	}
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid endpoint %q: scheme must be http or https", cfg.Endpoint)
	}
	if cfg.IdleTimeout < 0 {
		return nil, fmt.Errorf("idle timeout must be >= 0, got %s", cfg.IdleTimeout)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	if cfg.NewRequestID == nil {
		cfg.NewRequestID = uuid.NewString
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	c := &Consumer{cfg: cfg}
	if cfg.Observer != nil {
		c.Subscribe(cfg.Observer)
	}
	return c, nil
}

// Subscribe adds an observer and returns a function that removes it.
func (c *Consumer) Subscribe(o Observer) (unsubscribe func()) {
	c.obsMu.Lock()
	id := c.nextObsID
	c.nextObsID++
	next := make([]observerEntry, len(c.observers), len(c.observers)+1)
	copy(next, c.observers)
	c.observers = append(next, observerEntry{id: id, obs: o})
	c.obsMu.Unlock()

	return func() {
		c.obsMu.Lock()
		defer c.obsMu.Unlock()
		next := make([]observerEntry, 0, len(c.observers))
		for _, e := range c.observers {
			if e.id != id {
				next = append(next, e)
			}
		}
		c.observers = next
	}
}

func (c *Consumer) hasObservers() bool {
	c.obsMu.RLock()
	defer c.obsMu.RUnlock()
	return len(c.observers) > 0
}

func (c *Consumer) notify(snap *RunState) {
	c.obsMu.RLock()
	observers := c.observers
	c.obsMu.RUnlock()
	for _, e := range observers {
		e.obs.OnState(snap)
	}
}

// Run starts a run and returns its request id without waiting for it.
//
// Any active run is aborted first and its state discarded. ctx bounds the
// whole run: cancelling it aborts the run. Run only returns an error for
// invalid parameters or a closed consumer; stream failures are recorded in
// the run state.
func (c *Consumer) Run(ctx context.Context, params types.RunParams) (string, error) {
	if err := params.Validate(); err != nil {
		return "", err
	}
	requestID := c.cfg.NewRequestID()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrConsumerClosed
	}

	now := c.cfg.Now()
	if c.state != nil && c.state.IsStreaming {
		c.state.markAborted(now)
	}
	st := NewRunState(requestID, now)
	c.state = st
	c.current = c.ctrl.Start(ctx, func(tok *Token) {
		c.execute(tok, st, params)
	})

	c.cfg.Collector.IncRunStarted()
	c.cfg.Logger.Info("run started", map[string]any{
		"request_id":         requestID,
		"tenant_id":          params.TenantID,
		"business_agent_key": params.BusinessAgentKey,
	})
	return requestID, nil
}

// Abort stops the active run. The folded events are kept, IsStreaming becomes
// false and Error stays unset. It returns false when no run is streaming.
func (c *Consumer) Abort() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil || !c.state.IsStreaming {
		return false
	}
	c.ctrl.Abort()
	c.state.markAborted(c.cfg.Now())
	return true
}

// State returns a snapshot of the current run, or nil before the first run.
func (c *Consumer) State() *RunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return nil
	}
	return c.state.Snapshot()
}

// Wait blocks until the most recently started run has ended or ctx ends.
func (c *Consumer) Wait(ctx context.Context) error {
	return c.ctrl.Wait(ctx)
}

// Close aborts the active run, discards its state and waits for pending
// run-finished notifications. Later calls to Run return ErrConsumerClosed.
func (c *Consumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.state != nil && c.state.IsStreaming {
		c.ctrl.Abort()
		c.state.markAborted(c.cfg.Now())
	}
	c.state = nil
	tok := c.current
	c.mu.Unlock()

	if tok != nil {
		<-tok.Done()
	}
	c.publishes.Wait()

	if c.cfg.Adapter != nil {
		return c.cfg.Adapter.Close()
	}
	return nil
}

// execute is the body of one run. It runs on the controller's goroutine.
func (c *Consumer) execute(tok *Token, st *RunState, params types.RunParams) {
	logger := c.cfg.Logger.With(map[string]any{"request_id": st.RequestID})

	if tok.Aborted() {
		c.finish(tok, st, params, ErrAborted, logger)
		return
	}
	c.notifyIfCurrent(tok, st)

	runCtx, cancel := context.WithCancelCause(tok.Context())
	defer cancel(nil)

	var idle *idleWatch
	if c.cfg.IdleTimeout > 0 {
		window := c.cfg.IdleTimeout
		idle = startIdleWatch(window, func() {
			cancel(fmt.Errorf("no data received for %s: %w", window, ErrIdleTimeout))
		})
		defer idle.stop()
	}

	body, err := openStream(runCtx, c.cfg.HTTPClient, c.cfg.Endpoint, c.cfg.ServiceToken, st.RequestID, params)
	if err == nil {
		var src io.Reader = body
		if idle != nil {
			idle.touch()
			src = idle.wrap(body)
		}
		logger.Debug("stream opened", map[string]any{"endpoint": c.cfg.Endpoint})

		sink := &runSink{c: c, tok: tok, st: st, logger: logger}
		engine := NewIngestionEngine(src, ndjson.ReaderOptions{
			ChunkSize:   c.cfg.ChunkSize,
			MaxLineSize: c.cfg.MaxLineSize,
		}, sink, logger, c.cfg.Collector)
		err = engine.Run(runCtx)
		iox.DiscardClose(body)
	}

	c.finish(tok, st, params, classifyRunError(err, tok, runCtx), logger)
}

// classifyRunError maps the raw loop result to nil, ErrAborted or a *StreamError.
func classifyRunError(err error, tok *Token, runCtx context.Context) error {
	if err == nil {
		return nil
	}
	if tok.Aborted() || errors.Is(err, ErrAborted) {
		return ErrAborted
	}
	if cause := context.Cause(runCtx); errors.Is(cause, ErrIdleTimeout) {
		return &StreamError{Kind: StreamErrorIdle, Err: cause}
	}
	if tok.Context().Err() != nil {
		// The caller's context ended; treat it like an abort.
		return ErrAborted
	}
	return err
}

func (c *Consumer) notifyIfCurrent(tok *Token, st *RunState) {
	c.mu.Lock()
	if c.current != tok || !c.hasObservers() {
		c.mu.Unlock()
		return
	}
	snap := st.Snapshot()
	c.mu.Unlock()
	c.notify(snap)
}

// finish moves the run to its terminal phase, if an abort has not already,
// then notifies observers and the adapter.
func (c *Consumer) finish(tok *Token, st *RunState, params types.RunParams, err error, logger *log.Logger) {
	c.mu.Lock()
	if st.IsStreaming {
		now := c.cfg.Now()
		switch {
		case err == nil:
			st.markFinished(now)
		case errors.Is(err, ErrAborted):
			st.markAborted(now)
		default:
			st.markFailed(err, now)
		}
	}
	snap := st.Snapshot()
	current := c.current == tok
	c.mu.Unlock()

	fields := map[string]any{
		"events":       len(snap.Events),
		"skills":       len(snap.SkillsExecuted),
		"parse_errors": snap.ParseErrors,
	}
	switch snap.Phase {
	case types.RunPhaseFinished:
		c.cfg.Collector.IncRunFinished()
		logger.Info("run finished", fields)
	case types.RunPhaseAborted:
		c.cfg.Collector.IncRunAborted()
		logger.Info("run aborted", fields)
	case types.RunPhaseFailed:
		c.cfg.Collector.IncRunFailed()
		switch {
		case IsTransportError(snap.Err()):
			c.cfg.Collector.IncTransportError()
		case IsIdleTimeout(snap.Err()):
			c.cfg.Collector.IncIdleTimeout()
		default:
			c.cfg.Collector.IncReadError()
		}
		fields["error"] = snap.Error
		logger.Error("run failed", fields)
	}

	if current {
		c.notify(snap)
	}
	c.publish(snap, params, logger)
}

func (c *Consumer) publish(snap *RunState, params types.RunParams, logger *log.Logger) {
	if c.cfg.Adapter == nil {
		return
	}
	event := BuildRunFinishedEvent(snap, params)

	c.publishes.Add(1)
	go func() {
		defer c.publishes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PublishTimeout)
		defer cancel()

		if err := c.cfg.Adapter.Publish(ctx, event); err != nil {
			c.cfg.Collector.IncAdapterPublishFailure()
			logger.Warn("run-finished notification failed", map[string]any{"error": err.Error()})
			return
		}
		c.cfg.Collector.IncAdapterPublishSuccess()
	}()
}

// runSink folds events for one run under the consumer lock.
type runSink struct {
	c      *Consumer
	tok    *Token
	st     *RunState
	logger *log.Logger
}

// Fold implements Sink. Events arriving after an abort are rejected.
func (s *runSink) Fold(ev types.Event) bool {
	c := s.c
	c.mu.Lock()
	if s.tok.Aborted() || !s.st.IsStreaming {
		c.mu.Unlock()
		return false
	}
	effect := s.st.Apply(ev)
	var snap *RunState
	if c.current == s.tok && c.hasObservers() {
		snap = s.st.Snapshot()
	}
	c.mu.Unlock()

	if effect == EffectDuplicateTerminal {
		s.logger.Warn("duplicate terminal event ignored", map[string]any{
			"type":         string(ev.Header().Type),
			"execution_id": ev.Header().ExecutionID,
		})
	}
	if snap != nil {
		c.notify(snap)
	}
	return true
}

// ParseError implements Sink.
func (s *runSink) ParseError(err error) {
	c := s.c
	c.mu.Lock()
	if s.tok.Aborted() || !s.st.IsStreaming {
		c.mu.Unlock()
		return
	}
	s.st.RecordParseError(err)
	var snap *RunState
	if c.current == s.tok && c.hasObservers() {
		snap = s.st.Snapshot()
	}
	c.mu.Unlock()

	if snap != nil {
		c.notify(snap)
	}
}

// Verify runSink implements Sink.
var _ Sink = (*runSink)(nil)
