package audit

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/extsandbox/internal/application/ports"
)

type replacer struct{}

func (replacer) ScrubString(s string) string {
	return strings.ReplaceAll(s, "hunter2", "[REDACTED]")
}

func record(i int) ports.AuditRecord {
	return ports.AuditRecord{
		ExtensionID: "ext",
		Op:          "fs.read",
		OutcomeCode: "denied",
		ElapsedMS:   int64(i),
		Timestamp:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Message:     fmt.Sprintf("call %d", i),
	}
}

func TestRecorder_StreamsAndRetains(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	r := NewRecorder(16, WithOutput(&out), WithScrubber(replacer{}))

	rec := record(1)
	rec.Message = "password hunter2 rejected"
	r.Record(rec)
	r.Record(record(2))
	require.NoError(t, r.Close(context.Background()))

	got := r.Records()
	require.Len(t, got, 2)
	assert.Equal(t, "password [REDACTED] rejected", got[0].Message)
	assert.Equal(t, int64(2), got[1].ElapsedMS)

	parsed, err := ReadJSONLines(&out)
	require.NoError(t, err)
	assert.Equal(t, got, parsed)
	assert.Zero(t, r.Dropped())
}

func TestRecorder_RetainsMostRecent(t *testing.T) {
	t.Parallel()

	r := NewRecorder(64, WithRetain(3))
	for i := 0; i < 5; i++ {
		r.Record(record(i))
	}
	require.NoError(t, r.Close(context.Background()))

	got := r.Records()
	require.Len(t, got, 3)
	assert.Equal(t, []int64{2, 3, 4}, []int64{got[0].ElapsedMS, got[1].ElapsedMS, got[2].ElapsedMS})
}

// blockingWriter stalls the drain goroutine until released.
type blockingWriter struct {
	release chan struct{}
	once    sync.Once
}

func (w *blockingWriter) Write(p []byte) (int, error) {
	w.once.Do(func() { <-w.release })
	return len(p), nil
}

func TestRecorder_NeverBlocks(t *testing.T) {
	t.Parallel()

	w := &blockingWriter{release: make(chan struct{})}
	r := NewRecorder(2, WithOutput(w))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			r.Record(record(i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a stalled sink")
	}
	assert.Positive(t, r.Dropped())

	close(w.release)
	require.NoError(t, r.Close(context.Background()))
}

func TestRecorder_ConcurrentWriters(t *testing.T) {
	t.Parallel()

	r := NewRecorder(10_000)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				r.Record(record(i))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, r.Close(context.Background()))

	assert.Equal(t, 4000, len(r.Records())+int(r.Dropped()))
}

func TestRecorder_RecordAfterCloseIsDropped(t *testing.T) {
	t.Parallel()

	r := NewRecorder(4)
	require.NoError(t, r.Close(context.Background()))
	require.NoError(t, r.Close(context.Background()), "Close is idempotent")

	r.Record(record(1))
	assert.Equal(t, uint64(1), r.Dropped())
	assert.Empty(t, r.Records())
}

func TestReadJSONLines(t *testing.T) {
	t.Parallel()

	in := strings.NewReader(`{"extension_id":"a","op":"exec","outcome_code":"denied","elapsed_ms":1,"timestamp":"2026-01-02T03:04:05Z"}

{"extension_id":"b","op":"fs.read","outcome_code":"io","elapsed_ms":2,"timestamp":"2026-01-02T03:04:05Z","message":"ENOENT"}
`)
	recs, err := ReadJSONLines(in)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "ENOENT", recs[1].Message)

	_, err = ReadJSONLines(strings.NewReader("{broken\n"))
	assert.ErrorContains(t, err, "audit line 1")
}
