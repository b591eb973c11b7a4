package redaction

import (
	"io"
	"sync"
)

// Writer scrubs every write before passing it on. Each Write is scrubbed on
// its own, which matches slog handlers that write one record per call.
type Writer struct {
	mu       sync.Mutex
	w        io.Writer
	redactor *Redactor
}

// NewWriter wraps w. A nil redactor passes data through.
func NewWriter(w io.Writer, redactor *Redactor) *Writer {
	return &Writer{w: w, redactor: redactor}
}

// Write implements io.Writer. It reports len(p) on success so callers do not
// see the length change caused by redaction.
func (w *Writer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	out := p
	if w.redactor != nil {
		out = []byte(w.redactor.ScrubString(string(p)))
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}
