package services

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/extsandbox/internal/application/ports"
	"github.com/reglet-dev/extsandbox/internal/domain/capabilities"
	"github.com/reglet-dev/extsandbox/internal/domain/entities"
	"github.com/reglet-dev/extsandbox/internal/domain/hostcall"
	"github.com/reglet-dev/extsandbox/internal/domain/values"
	"github.com/reglet-dev/extsandbox/internal/infrastructure/hostfuncs"
	"github.com/reglet-dev/extsandbox/internal/infrastructure/jsruntime"
	"github.com/reglet-dev/extsandbox/internal/infrastructure/session"
	"github.com/reglet-dev/extsandbox/internal/infrastructure/validation"
	"github.com/reglet-dev/extsandbox/internal/infrastructure/vfs"
)

type permitAll struct{}

func (permitAll) Authorize(_ context.Context, _ string, c capabilities.Capability, _ string) capabilities.Check {
	return capabilities.Check{Capability: c, Decision: capabilities.Allow, Reason: capabilities.ReasonDefaultCaps}
}

// sleepyTools is a host tool that takes as long as its input says.
type sleepyTools struct {
	mu        sync.Mutex
	cancelled []string
}

func (s *sleepyTools) Invoke(ctx context.Context, _ string, input json.RawMessage) (json.RawMessage, error) {
	var in struct {
		MS int `json:"ms"`
	}
	_ = json.Unmarshal(input, &in)
	select {
	case <-time.After(time.Duration(in.MS) * time.Millisecond):
		return json.RawMessage(`"done"`), nil
	case <-ctx.Done():
		s.mu.Lock()
		s.cancelled = append(s.cancelled, ctx.Err().Error())
		s.mu.Unlock()
		return nil, ctx.Err()
	}
}

// outcomeLog wraps a dispatcher and remembers every outcome per extension.
type outcomeLog struct {
	inner ports.Dispatcher

	mu       sync.Mutex
	outcomes map[string][]string
}

func (o *outcomeLog) Dispatch(ctx context.Context, scope *ports.CallScope, req hostcall.Request) hostcall.Outcome {
	out := o.inner.Dispatch(ctx, scope, req)
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = make(map[string][]string)
	}
	o.outcomes[scope.ExtensionID] = append(o.outcomes[scope.ExtensionID], req.Op+":"+out.Code())
	return out
}

func (o *outcomeLog) of(id string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.outcomes[id]...)
}

const slowExtension = `
let last = null;
pi.register({
  name: 'slow', version: '1.0.0', apiVersion: '1.0',
  tools: [
    { name: 'start', description: 'starts a host tool without waiting',
      execute: (id, params) => { pi.tool('sleepy', { ms: params.ms }).then((v) => { last = v; }, (e) => { last = e.code; }); return 'started'; } },
    { name: 'note', description: 'appends a session entry',
      execute: async (id, params) => (await pi.session.appendEntry('note', params)) },
  ],
});
`

func newIntegrationManager(t *testing.T, grace time.Duration) (*ExtensionManager, *outcomeLog, *sleepyTools) {
	t.Helper()
	tools := &sleepyTools{}
	dispatcher := &outcomeLog{inner: hostfuncs.NewDispatcher(permitAll{},
		hostfuncs.DefaultRegistry(hostfuncs.Dependencies{Tools: tools}))}
	validator, err := validation.NewDeclarationValidator("")
	require.NoError(t, err)

	m := NewExtensionManager(
		jsruntime.NewFactory(jsruntime.Options{Cache: jsruntime.NewProgramCache()}),
		dispatcher,
		validator,
		vfs.Factory(vfs.Options{HostFallback: true}),
		WithGracePeriod(grace),
		WithLoadTimeout(5*time.Second),
	)
	return m, dispatcher, tools
}

func writeExtension(t *testing.T, id, src string) ports.LoadSpec {
	t.Helper()
	dir := filepath.Join(t.TempDir(), id)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.js"), []byte(src), 0o600))
	return ports.LoadSpec{ID: values.MustNewExtensionID(id), EntryPath: dir}
}

func TestExtensionManager_ShutdownDrainsFastEffects(t *testing.T) {
	t.Parallel()
	m, log, tools := newIntegrationManager(t, 2*time.Second)
	ctx := context.Background()

	_, err := m.Load(ctx, writeExtension(t, "quick", slowExtension))
	require.NoError(t, err)
	require.NoError(t, m.Attach("quick", session.NewMemory()))

	_, err = m.InvokeTool(ctx, "quick", "start", json.RawMessage(`{"ms":50}`))
	require.NoError(t, err)
	require.NoError(t, m.Shutdown(ctx, "quick"))

	assert.Equal(t, []string{"tool:ok"}, log.of("quick"))
	assert.Empty(t, tools.cancelled)
}

func TestExtensionManager_ShutdownCancelsSlowEffectsAtGraceDeadline(t *testing.T) {
	t.Parallel()
	grace := 200 * time.Millisecond
	m, log, tools := newIntegrationManager(t, grace)
	ctx := context.Background()

	_, err := m.Load(ctx, writeExtension(t, "stuck", slowExtension))
	require.NoError(t, err)
	require.NoError(t, m.Attach("stuck", session.NewMemory()))

	_, err = m.InvokeTool(ctx, "stuck", "start", json.RawMessage(`{"ms":10000}`))
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, m.Shutdown(ctx, "stuck"))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, grace)
	assert.Less(t, elapsed, 2*time.Second)
	ext, _ := m.Get("stuck")
	assert.Equal(t, entities.StateShutdown, ext.State())
	assert.Equal(t, []string{"tool:timeout"}, log.of("stuck"))

	assert.Eventually(t, func() bool {
		tools.mu.Lock()
		defer tools.mu.Unlock()
		return len(tools.cancelled) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestExtensionManager_SessionOpsNeedAttach(t *testing.T) {
	t.Parallel()
	m, log, _ := newIntegrationManager(t, time.Second)
	ctx := context.Background()

	_, err := m.Load(ctx, writeExtension(t, "notes", slowExtension))
	require.NoError(t, err)

	_, err = m.InvokeTool(ctx, "notes", "note", json.RawMessage(`{"text":"early"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(hostcall.CodeInvalidRequest))

	mem := session.NewMemory()
	require.NoError(t, m.Attach("notes", mem))
	out, err := m.InvokeTool(ctx, "notes", "note", json.RawMessage(`{"text":"late"}`))
	require.NoError(t, err)

	entries := mem.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "note", entries[0].CustomType)
	assert.JSONEq(t, `{"text":"late"}`, string(entries[0].Data))
	assert.Contains(t, string(out), entries[0].ID)

	assert.Equal(t, []string{"session.append_entry:invalid_request", "session.append_entry:ok"}, log.of("notes"))
	require.NoError(t, m.ShutdownAll(ctx))
}
