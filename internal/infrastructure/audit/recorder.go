// Package audit implements the append-only audit sink fed by the hostcall
// dispatcher.
package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/reglet-dev/extsandbox/internal/application/ports"
)

// DefaultBuffer is the channel capacity used when none is configured.
const DefaultBuffer = 1024

// Scrubber removes secrets from audit messages.
type Scrubber interface {
	ScrubString(s string) string
}

// Recorder is a ports.AuditSink. Record never blocks: records are queued on
// a bounded channel and dropped when it is full. A single drain goroutine
// keeps the most recent records in memory and streams every record as a JSON
// line to an optional writer.
type Recorder struct {
	queue    chan ports.AuditRecord
	scrubber Scrubber
	out      io.Writer
	retain   int

	closeMu sync.RWMutex
	closed  bool
	done    chan struct{}

	dropped atomic.Uint64

	mu      sync.Mutex
	records []ports.AuditRecord
	next    int
	full    bool
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithScrubber scrubs record messages before they are stored.
func WithScrubber(s Scrubber) Option {
	return func(r *Recorder) { r.scrubber = s }
}

// WithOutput streams records to w as JSON lines.
func WithOutput(w io.Writer) Option {
	return func(r *Recorder) { r.out = w }
}

// WithRetain sets how many recent records are kept in memory.
func WithRetain(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.retain = n
		}
	}
}

// NewRecorder creates a recorder and starts its drain goroutine.
func NewRecorder(buffer int, opts ...Option) *Recorder {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	r := &Recorder{
		queue:  make(chan ports.AuditRecord, buffer),
		retain: buffer,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.records = make([]ports.AuditRecord, r.retain)
	go r.drain()
	return r
}

// Record implements ports.AuditSink.
func (r *Recorder) Record(rec ports.AuditRecord) {
	r.closeMu.RLock()
	defer r.closeMu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}
	select {
	case r.queue <- rec:
	default:
		r.dropped.Add(1)
	}
}

// Dropped returns how many records were lost to backpressure or arrived
// after Close.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Records returns the retained records, oldest first.
func (r *Recorder) Records() []ports.AuditRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]ports.AuditRecord(nil), r.records[:r.next]...)
	}
	out := make([]ports.AuditRecord, 0, len(r.records))
	out = append(out, r.records[r.next:]...)
	return append(out, r.records[:r.next]...)
}

// Close stops accepting records and waits until queued ones are drained or
// ctx ends.
func (r *Recorder) Close(ctx context.Context) error {
	r.closeMu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.closeMu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit drain interrupted: %w", ctx.Err())
	}
}

func (r *Recorder) drain() {
	defer close(r.done)

	var enc *json.Encoder
	var buf *bufio.Writer
	if r.out != nil {
		buf = bufio.NewWriter(r.out)
		enc = json.NewEncoder(buf)
	}

	for rec := range r.queue {
		if r.scrubber != nil && rec.Message != "" {
			rec.Message = r.scrubber.ScrubString(rec.Message)
		}
		r.keep(rec)
		if enc == nil {
			continue
		}
		if err := enc.Encode(rec); err != nil {
			slog.Warn("failed to write audit record", "error", err)
			continue
		}
		// Flush when idle so a crash loses little.
		if len(r.queue) == 0 {
			if err := buf.Flush(); err != nil {
				slog.Warn("failed to flush audit output", "error", err)
			}
		}
	}
	if buf != nil {
		if err := buf.Flush(); err != nil {
			slog.Warn("failed to flush audit output", "error", err)
		}
	}
}

func (r *Recorder) keep(rec ports.AuditRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[r.next] = rec
	r.next++
	if r.next == len(r.records) {
		r.next = 0
		r.full = true
	}
}

// ReadJSONLines parses a JSON-lines audit stream. Blank lines are skipped.
func ReadJSONLines(in io.Reader) ([]ports.AuditRecord, error) {
	var out []ports.AuditRecord
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		var rec ports.AuditRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("audit line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading audit stream: %w", err)
	}
	return out, nil
}
