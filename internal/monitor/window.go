// Package monitor runs the live half of the system: a sliding window over
// the decoded stream, per-pass matching against the fingerprint index, and
// debounced detection events.
package monitor

import "aircheck/internal/dsp"

// StreamWindow is a ring buffer holding the most recent capacity samples of
// the stream. It has exactly one writer: the monitor goroutine driving
// Advance. A window is fully written before analysis snapshots it.
type StreamWindow struct {
	buf   []float64
	head  int   // next write position
	count int   // valid samples, up to len(buf)
	total int64 // absolute samples written since start/reset
}

func NewStreamWindow(capacity int) *StreamWindow {
	return &StreamWindow{buf: make([]float64, capacity)}
}

// Write appends a decoded chunk, overwriting the oldest samples once full.
func (w *StreamWindow) Write(chunk []float64) {
	w.total += int64(len(chunk))
	if len(chunk) >= len(w.buf) {
		copy(w.buf, chunk[len(chunk)-len(w.buf):])
		w.head = 0
		w.count = len(w.buf)
		return
	}
	n := copy(w.buf[w.head:], chunk)
	if n < len(chunk) {
		copy(w.buf, chunk[n:])
	}
	w.head = (w.head + len(chunk)) % len(w.buf)
	if w.count < len(w.buf) {
		w.count += len(chunk)
		if w.count > len(w.buf) {
			w.count = len(w.buf)
		}
	}
}

// Filled reports whether a full window of samples has arrived.
func (w *StreamWindow) Filled() bool { return w.count == len(w.buf) }

// Total returns the absolute number of samples written.
func (w *StreamWindow) Total() int64 { return w.total }

// Duration returns the stream time, in seconds, at the window's trailing
// (most recent) edge.
func (w *StreamWindow) Duration() float64 {
	return float64(w.total) / float64(dsp.SampleRate)
}

// Snapshot copies the window contents, oldest first, into dst (which must
// have the window's capacity) and returns the absolute sample index of
// dst[0]. Only valid once Filled.
func (w *StreamWindow) Snapshot(dst []float64) int64 {
	n := copy(dst, w.buf[w.head:])
	copy(dst[n:], w.buf[:w.head])
	return w.total - int64(len(w.buf))
}

// Reset discards the buffer after a stream discontinuity; fingerprinting a
// spliced window would vote for impossible alignments.
func (w *StreamWindow) Reset() {
	w.head = 0
	w.count = 0
	w.total = 0
}
