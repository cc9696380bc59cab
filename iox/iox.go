// Package iox provides I/O helpers for resource cleanup and bounded reads.
package iox

import "io"

// DiscardClose closes c and discards the error.
// Use in defer statements where close errors are unactionable:
//
//	defer iox.DiscardClose(resp.Body)
func DiscardClose(c io.Closer) { _ = c.Close() }

// CloseFunc returns a cleanup function that closes c.
// Designed for t.Cleanup registration:
//
//	t.Cleanup(iox.CloseFunc(client))
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// DiscardErr calls fn and discards the returned error.
//
//	defer iox.DiscardErr(logger.Sync)
func DiscardErr(fn func() error) { _ = fn() }

// DrainClose reads at most limit bytes from rc, closes it, and returns what was read.
// Used to capture the head of an error response body without reading an
// unbounded stream.
func DrainClose(rc io.ReadCloser, limit int64) string {
	defer DiscardClose(rc)
	data, _ := io.ReadAll(io.LimitReader(rc, limit))
	return string(data)
}
