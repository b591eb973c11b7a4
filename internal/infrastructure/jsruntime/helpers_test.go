package jsruntime

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/extsandbox/internal/application/ports"
	"github.com/reglet-dev/extsandbox/internal/domain/capabilities"
	"github.com/reglet-dev/extsandbox/internal/domain/hostcall"
	"github.com/reglet-dev/extsandbox/internal/domain/values"
	"github.com/reglet-dev/extsandbox/internal/infrastructure/hostfuncs"
	"github.com/reglet-dev/extsandbox/internal/infrastructure/vfs"
)

type allowAll struct{}

func (allowAll) Authorize(_ context.Context, _ string, c capabilities.Capability, _ string) capabilities.Check {
	return capabilities.Check{Capability: c, Decision: capabilities.Allow, Reason: capabilities.ReasonDefaultCaps}
}

// recordingHost dispatches through the real dispatcher and remembers the
// order in which requests arrived.
type recordingHost struct {
	d     *hostfuncs.Dispatcher
	scope *ports.CallScope

	mu       sync.Mutex
	requests []hostcall.Request
}

func (h *recordingHost) Dispatch(ctx context.Context, req hostcall.Request) hostcall.Outcome {
	h.mu.Lock()
	h.requests = append(h.requests, req)
	h.mu.Unlock()
	return h.d.Dispatch(ctx, h.scope, req)
}

func (h *recordingHost) ops() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.requests))
	for i, r := range h.requests {
		out[i] = r.Op
	}
	return out
}

type testHandle struct {
	host   *recordingHost
	closed atomic.Bool
}

func (h *testHandle) Resolve() (ports.Host, bool) {
	if h.closed.Load() {
		return nil, false
	}
	return h.host, true
}

type fixture struct {
	root   string
	fs     *vfs.FS
	host   *recordingHost
	handle *testHandle
}

// newFixture writes files under a fresh root. The entry is index.js.
func newFixture(t *testing.T, files map[string]string) *fixture {
	t.Helper()
	root := t.TempDir()
	for name, src := range files {
		p := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(src), 0o600))
	}
	fsys, err := vfs.New(root, vfs.Options{HostFallback: true})
	require.NoError(t, err)

	host := &recordingHost{
		d: hostfuncs.NewDispatcher(allowAll{}, hostfuncs.DefaultRegistry(hostfuncs.Dependencies{})),
		scope: &ports.CallScope{
			ExtensionID: "fixture",
			Root:        fsys.Root(),
			Budget:      hostcall.NewBudget(time.Minute),
			FS:          fsys,
		},
	}
	return &fixture{root: root, fs: fsys, host: host, handle: &testHandle{host: host}}
}

func (f *fixture) runtime(t *testing.T) *Runtime {
	t.Helper()
	rt, err := New(ports.LoadSpec{
		ID:        values.MustNewExtensionID("fixture"),
		EntryPath: filepath.Join(f.root, "index.js"),
		Root:      f.root,
	}, f.handle, Options{Cache: NewProgramCache()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

// started creates a runtime and waits for its registration.
func (f *fixture) started(t *testing.T) (*Runtime, json.RawMessage) {
	t.Helper()
	rt := f.runtime(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	raw, err := rt.Start(ctx)
	require.NoError(t, err)
	return rt, raw
}

func tool(t *testing.T, rt *Runtime, name string, input string) json.RawMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := rt.InvokeTool(ctx, name, json.RawMessage(input))
	require.NoError(t, err)
	return out
}

func drain(t *testing.T, rt *Runtime) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rt.Drain(ctx))
}
