package shims

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/extsandbox/internal/application/ports"
	"github.com/reglet-dev/extsandbox/internal/domain/capabilities"
	"github.com/reglet-dev/extsandbox/internal/domain/hostcall"
	"github.com/reglet-dev/extsandbox/internal/infrastructure/hostfuncs"
	"github.com/reglet-dev/extsandbox/internal/infrastructure/vfs"
)

type allowAll struct {
	deny map[capabilities.Capability]bool
}

func (a *allowAll) Authorize(_ context.Context, _ string, c capabilities.Capability, _ string) capabilities.Check {
	if a.deny[c] {
		return capabilities.Check{Capability: c, Decision: capabilities.Deny, Reason: capabilities.ReasonExtensionDeny}
	}
	return capabilities.Check{Capability: c, Decision: capabilities.Allow, Reason: capabilities.ReasonDefaultCaps}
}

type recordedCall struct {
	Op   string
	Args json.RawMessage
}

// testHost runs shims against the real dispatcher and a fresh VFS. Async
// completions are held until drain.
type testHost struct {
	t        *testing.T
	vm       *goja.Runtime
	fs       *vfs.FS
	auth     *allowAll
	d        *hostfuncs.Dispatcher
	scope    *ports.CallScope
	modules  map[string]goja.Value
	pending  []func()
	calls    []recordedCall
	env      map[string]string
	override map[string]func(json.RawMessage) hostcall.Outcome
	seq      int
}

func newTestHost(t *testing.T) *testHost {
	t.Helper()
	fsys, err := vfs.New(t.TempDir(), vfs.Options{HostFallback: true})
	require.NoError(t, err)

	h := &testHost{
		t:        t,
		vm:       goja.New(),
		fs:       fsys,
		auth:     &allowAll{deny: map[capabilities.Capability]bool{}},
		modules:  make(map[string]goja.Value),
		env:      map[string]string{"HOME": "/home/test", "OPENAI_API_KEY": "sk-secret"},
		override: make(map[string]func(json.RawMessage) hostcall.Outcome),
	}
	h.vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	h.d = hostfuncs.NewDispatcher(h.auth, hostfuncs.DefaultRegistry(hostfuncs.Dependencies{
		LookupEnv: func(name string) (string, bool) {
			v, ok := h.env[name]
			return v, ok
		},
	}))
	h.scope = &ports.CallScope{
		ExtensionID: "test-ext",
		Root:        fsys.Root(),
		Budget:      hostcall.NewBudget(time.Minute),
		FS:          fsys,
	}
	_ = h.vm.Set("require", requireFunc(h))
	require.NoError(t, InstallGlobals(h))
	return h
}

func (h *testHost) VM() *goja.Runtime   { return h.vm }
func (h *testHost) ExtensionID() string { return h.scope.ExtensionID }
func (h *testHost) Root() string        { return h.fs.Root() }
func (h *testHost) EntryPath() string   { return h.fs.Root() + "/index.js" }

func (h *testHost) Require(specifier string) (goja.Value, error) {
	m, ok := Lookup(specifier)
	if !ok {
		return nil, fmt.Errorf("cannot find module '%s'", specifier)
	}
	if v, ok := h.modules[m.Name]; ok {
		return v, nil
	}
	v, err := m.New(h)
	if err != nil {
		return nil, err
	}
	h.modules[m.Name] = v
	return v, nil
}

func (h *testHost) Compile(name, src string) (*goja.Program, error) {
	return goja.Compile(name, src, false)
}

func (h *testHost) dispatch(op string, args any) hostcall.Outcome {
	raw, err := json.Marshal(args)
	require.NoError(h.t, err)
	h.calls = append(h.calls, recordedCall{Op: op, Args: raw})
	if fn, ok := h.override[op]; ok {
		return fn(raw)
	}
	h.seq++
	return h.d.Dispatch(context.Background(), h.scope, hostcall.Request{
		ExtensionID: h.scope.ExtensionID,
		CallID:      fmt.Sprintf("call-%d", h.seq),
		Op:          op,
		Args:        raw,
	})
}

func (h *testHost) CallSync(op string, args any) hostcall.Outcome {
	return h.dispatch(op, args)
}

func (h *testHost) CallAsync(op string, args any, done func(hostcall.Outcome)) {
	out := h.dispatch(op, args)
	if done == nil {
		return
	}
	h.pending = append(h.pending, func() { done(out) })
}

// drain delivers held completions inside a VM call so promise jobs run.
func (h *testHost) drain() {
	h.t.Helper()
	for len(h.pending) > 0 {
		next := h.pending[0]
		h.pending = h.pending[1:]
		fn, ok := goja.AssertFunction(h.vm.ToValue(func(goja.FunctionCall) goja.Value {
			next()
			return goja.Undefined()
		}))
		require.True(h.t, ok)
		_, err := fn(goja.Undefined())
		require.NoError(h.t, err)
	}
}

func (h *testHost) run(src string) goja.Value {
	h.t.Helper()
	v, err := h.vm.RunString(src)
	require.NoError(h.t, err)
	return v
}

// opsCalled lists the ops in issue order.
func (h *testHost) opsCalled() []string {
	ops := make([]string, len(h.calls))
	for i, c := range h.calls {
		ops[i] = c.Op
	}
	return ops
}
