package container

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/extsandbox/internal/application/ports"
	"github.com/reglet-dev/extsandbox/internal/domain/capabilities"
	"github.com/reglet-dev/extsandbox/internal/domain/entities"
	"github.com/reglet-dev/extsandbox/internal/domain/values"
	"github.com/reglet-dev/extsandbox/internal/infrastructure/audit"
)

const probeExtension = `
const fs = require('fs');
pi.register({
  name: 'probe', version: '1.0.0', apiVersion: '1.0',
  tools: [{ name: 'shell', description: 'runs a shell command',
    execute: () => require('child_process').execSync('true').toString() }],
  eventHooks: [{ event: 'startup', handler: () => { fs.writeFileSync('/tmp/started', 'yes'); } }],
});
`

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestContainer_WiresManagerThroughPolicy(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "permissions_path: "+filepath.Join(dir, "permissions.json")+"\npolicy:\n  profile: standard\n")

	extDir := filepath.Join(dir, "probe")
	require.NoError(t, os.MkdirAll(extDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(extDir, "index.js"), []byte(probeExtension), 0o600))

	var auditOut bytes.Buffer
	c, err := New(Options{SystemConfigPath: cfgPath, AuditOut: &auditOut})
	require.NoError(t, err)
	ctx := context.Background()

	assert.Equal(t, capabilities.ProfileStandard, c.Policy().Profile().Name)
	assert.Equal(t, capabilities.Deny, c.Gatekeeper().Explain("probe", capabilities.Exec).Decision)

	m := c.Manager()
	_, err = m.Load(ctx, ports.LoadSpec{ID: values.MustNewExtensionID("probe"), EntryPath: extDir})
	require.NoError(t, err)
	require.NoError(t, m.Attach("probe", c.Session()))

	out, err := m.Emit(ctx, entities.EventStartup, json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Empty(t, out.Errors)

	_, err = m.InvokeTool(ctx, "probe", "shell", nil)
	require.Error(t, err, "exec is denied under the standard profile")
	assert.Contains(t, err.Error(), "denied")

	require.NoError(t, c.Close(ctx))

	records, err := audit.ReadJSONLines(&auditOut)
	require.NoError(t, err)
	require.NotEmpty(t, records)
	assert.Equal(t, "probe", records[0].ExtensionID)
	assert.Equal(t, "exec", records[0].Op)
	assert.Equal(t, "denied", records[0].OutcomeCode)

	families, err := c.Metrics().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestContainer_ProfileOverride(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "permissions_path: "+filepath.Join(dir, "permissions.json")+"\n")

	c, err := New(Options{SystemConfigPath: cfgPath, Profile: "permissive"})
	require.NoError(t, err)
	assert.Equal(t, capabilities.Allow, c.Gatekeeper().Explain("anyone", capabilities.Exec).Decision)
	require.NoError(t, c.Close(context.Background()))
}

func TestContainer_CorruptPermissionsDegradeToMemory(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	permPath := filepath.Join(dir, "permissions.json")
	require.NoError(t, os.WriteFile(permPath, []byte("{not json"), 0o600))
	cfgPath := writeConfig(t, dir, "permissions_path: "+permPath+"\n")

	c, err := New(Options{SystemConfigPath: cfgPath})
	require.NoError(t, err)
	assert.Empty(t, c.Permissions().ConfigPath())
	require.NoError(t, c.Close(context.Background()))
}
