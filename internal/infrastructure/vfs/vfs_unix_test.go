//go:build unix

package vfs

import (
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFS_RejectsIrregularFiles(t *testing.T) {
	t.Parallel()

	fsys, root := newTestFS(t, Options{HostFallback: true})
	require.NoError(t, syscall.Mkfifo(filepath.Join(root, "pipe"), 0o600))

	_, err := fsys.Stat("pipe")
	assert.ErrorIs(t, err, ErrIrregular)

	// A FIFO with no writer must not block the read.
	done := make(chan error, 1)
	go func() {
		_, err := fsys.Read("pipe")
		done <- err
	}()
	select {
	case err = <-done:
		assert.ErrorIs(t, err, ErrIrregular)
	case <-time.After(2 * time.Second):
		t.Fatal("read of a FIFO blocked")
	}

	err = fsys.Append("pipe", []byte("x"))
	assert.ErrorIs(t, err, ErrIrregular)
}
