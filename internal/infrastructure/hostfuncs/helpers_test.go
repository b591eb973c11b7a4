package hostfuncs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/extsandbox/internal/application/ports"
	"github.com/reglet-dev/extsandbox/internal/domain/hostcall"
	"github.com/reglet-dev/extsandbox/internal/infrastructure/vfs"
)

var callSeq atomic.Int64

// sandbox is a dispatcher with every op allowed over a fresh VFS.
type sandbox struct {
	d     *Dispatcher
	scope *ports.CallScope
	fs    *vfs.FS
}

func newSandbox(t *testing.T, deps Dependencies) *sandbox {
	t.Helper()
	fsys, err := vfs.New(t.TempDir(), vfs.Options{HostFallback: true})
	require.NoError(t, err)
	return &sandbox{
		d: NewDispatcher(&stubAuthorizer{}, DefaultRegistry(deps)),
		scope: &ports.CallScope{
			ExtensionID: "ext",
			Root:        fsys.Root(),
			Budget:      hostcall.NewBudget(time.Minute),
			FS:          fsys,
		},
		fs: fsys,
	}
}

func (s *sandbox) call(t *testing.T, op string, args any) hostcall.Outcome {
	t.Helper()
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	return s.d.Dispatch(context.Background(), s.scope, hostcall.Request{
		ExtensionID: s.scope.ExtensionID,
		CallID:      fmt.Sprintf("call-%d", callSeq.Add(1)),
		Op:          op,
		Args:        raw,
	})
}

func (s *sandbox) ok(t *testing.T, op string, args, into any) {
	t.Helper()
	out := s.call(t, op, args)
	require.True(t, out.OK, "%s failed: %v", op, out.Error)
	if into != nil {
		require.NoError(t, out.Decode(into))
	}
}

func requireCode(t *testing.T, out hostcall.Outcome, code hostcall.Code) {
	t.Helper()
	require.False(t, out.OK, "expected %s, got success %s", code, out.Value)
	require.Equal(t, code, out.Error.Code, out.Error.Message)
}
