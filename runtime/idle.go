package runtime

import (
	"io"
	"time"
)

// idleWatch cancels a run when no bytes arrive within the window.
// The timer starts before the request is sent, so it also bounds the wait
// for response headers.
type idleWatch struct {
	window time.Duration
	timer  *time.Timer
}

func startIdleWatch(window time.Duration, onIdle func()) *idleWatch {
	return &idleWatch{window: window, timer: time.AfterFunc(window, onIdle)}
}

func (w *idleWatch) touch() {
	w.timer.Reset(w.window)
}

func (w *idleWatch) stop() {
	w.timer.Stop()
}

// wrap returns a reader that resets the idle timer on every non-empty read.
func (w *idleWatch) wrap(r io.Reader) io.Reader {
	return &idleReader{r: r, w: w}
}

type idleReader struct {
	r io.Reader
	w *idleWatch
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.w.touch()
	}
	return n, err
}
