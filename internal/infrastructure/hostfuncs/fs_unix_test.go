//go:build unix

package hostfuncs

import (
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/extsandbox/internal/domain/hostcall"
)

func TestFS_FIFOReadIsDenied(t *testing.T) {
	t.Parallel()
	s := newSandbox(t, Dependencies{})
	require.NoError(t, syscall.Mkfifo(filepath.Join(s.scope.Root, "pipe"), 0o600))

	start := time.Now()
	out := s.call(t, hostcall.OpFSRead, PathArgs{Path: "pipe"})
	requireCode(t, out, hostcall.CodeDenied)
	assert.Less(t, time.Since(start), time.Second)
}
