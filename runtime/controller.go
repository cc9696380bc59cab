package runtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrAborted is the cancellation cause of an aborted or superseded run.
var ErrAborted = errors.New("run aborted")

// Token is the cancellation handle of one run.
// Abort state is inspectable: Aborted reports whether an abort was signaled,
// Done is closed once the run's goroutine has returned.
type Token struct {
	ctx     context.Context
	cancel  context.CancelCauseFunc
	done    chan struct{}
	aborted atomic.Bool
}

func newToken(parent context.Context) *Token {
	ctx, cancel := context.WithCancelCause(parent)
	return &Token{ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

// Context returns the run context. It is canceled on abort with cause ErrAborted.
func (t *Token) Context() context.Context { return t.ctx }

// Aborted returns true once abort has been signaled.
func (t *Token) Aborted() bool { return t.aborted.Load() }

// Done is closed when the run goroutine has exited.
func (t *Token) Done() <-chan struct{} { return t.done }

// Finished returns true once the run goroutine has exited.
func (t *Token) Finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *Token) abort() {
	t.aborted.Store(true)
	t.cancel(ErrAborted)
}

// Controller owns the lifecycle of the single active run.
//
// Start supersedes the previous run: the previous token is aborted, and the
// new run's function only begins once the previous goroutine has exited, so
// a new run never overlaps a draining connection. Start itself never blocks
// on that wait.
type Controller struct {
	mu     sync.Mutex
	active *Token
}

// Start aborts any active run and launches fn for a new one.
// fn always runs, after the previous run has exited, and may find its token
// already aborted. It should return promptly once the token is aborted.
func (c *Controller) Start(parent context.Context, fn func(*Token)) *Token {
	tok := newToken(parent)

	c.mu.Lock()
	prev := c.active
	c.active = tok
	c.mu.Unlock()

	if prev != nil {
		prev.abort()
	}

	go func() {
		defer close(tok.done)
		defer tok.cancel(nil)
		if prev != nil {
			<-prev.done
		}
		fn(tok)
	}()

	return tok
}

// Abort signals the active run to stop. It returns false, and does nothing,
// when no run is active.
func (c *Controller) Abort() bool {
	c.mu.Lock()
	tok := c.active
	c.mu.Unlock()

	if tok == nil || tok.Finished() || tok.Aborted() {
		return false
	}
	tok.abort()
	return true
}

// Active returns the token of the most recently started run, or nil.
// The run may already have finished.
func (c *Controller) Active() *Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Wait blocks until the most recently started run has exited or ctx ends.
func (c *Controller) Wait(ctx context.Context) error {
	tok := c.Active()
	if tok == nil {
		return nil
	}
	select {
	case <-tok.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
