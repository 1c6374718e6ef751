package relay

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
)

// ErrWriterClosed is returned by Write after Close.
var ErrWriterClosed = errors.New("relay writer closed")

// SetSSEHeaders sets the event-stream response headers.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// Writer is the only component that writes frames. It writes Done at most
// once and closes the underlying writer (when it is an io.Closer) exactly once.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
	logger  *slog.Logger

	mu     sync.Mutex
	once   sync.Once
	closed bool
	done   bool
	frames int
}

func NewWriter(w io.Writer, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	flusher, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: flusher, logger: logger}
}

// Serve drains run into the underlying writer. A write failure stops the
// run, which closes every vendor stream it has open.
func (w *Writer) Serve(run *Run) error {
	defer w.Close()
	defer run.Close()

	if rw, ok := w.w.(http.ResponseWriter); ok {
		SetSSEHeaders(rw)
		rw.WriteHeader(http.StatusOK)
		w.flush()
	}

	for ev := range run.Events() {
		if err := w.Write(ev); err != nil {
			w.logger.Debug("relay write failed", "frames", w.Frames(), "error", err)
			return err
		}
	}
	return nil
}

// Write renders and flushes one frame.
func (w *Writer) Write(ev Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	if ev.Kind == KindDone {
		if w.done {
			return nil
		}
		w.done = true
	}
	frame, err := ev.MarshalFrame()
	if err != nil {
		return err
	}
	if _, err := w.w.Write(frame); err != nil {
		return err
	}
	w.frames++
	w.flush()
	return nil
}

func (w *Writer) flush() {
	if w.flusher != nil {
		w.flusher.Flush()
	}
}

// Frames returns how many frames have been written.
func (w *Writer) Frames() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}

// Close is idempotent.
func (w *Writer) Close() error {
	var err error
	w.once.Do(func() {
		w.mu.Lock()
		w.closed = true
		frames, done := w.frames, w.done
		w.mu.Unlock()
		if c, ok := w.w.(io.Closer); ok {
			err = c.Close()
		}
		w.logger.Debug("relay stream closed", "frames", frames, "done", done)
	})
	return err
}
