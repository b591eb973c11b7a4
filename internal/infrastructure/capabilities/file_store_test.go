package capabilities

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/extsandbox/internal/application/ports"
	"github.com/reglet-dev/extsandbox/internal/domain/capabilities"
)

func TestFileStore_RecordAndReload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "dir", "permissions.json")
	store := NewFileStore(path)

	require.NoError(t, store.Load())
	assert.Empty(t, store.List())

	require.NoError(t, store.Record("Git-Logger", capabilities.Exec, ports.AllowAlways))
	require.NoError(t, store.Record("git-logger", capabilities.Env, ports.DenyAlways))

	info, err := os.Stat(path)
	require.NoError(t, err)
	if runtime.GOOS != "windows" {
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}

	reloaded := NewFileStore(path)
	require.NoError(t, reloaded.Load())

	d, ok := reloaded.Lookup("GIT-LOGGER", capabilities.Exec)
	require.True(t, ok)
	assert.Equal(t, ports.AllowAlways, d)

	assert.Equal(t, []ports.PermissionRecord{
		{ExtensionID: "git-logger", Capability: capabilities.Env, Decision: ports.DenyAlways},
		{ExtensionID: "git-logger", Capability: capabilities.Exec, Decision: ports.AllowAlways},
	}, reloaded.List())
}

func TestFileStore_LoadTolerantJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "permissions.json")
	content := `{
  // written by hand
  "version": 1,
  "decisions": {
    "demo": {"read": "allow_always",},
  },
}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	store := NewFileStore(path)
	require.NoError(t, store.Load())
	_, ok := store.Lookup("demo", capabilities.Read)
	assert.True(t, ok)
}

func TestFileStore_LoadRejectsCorruptFiles(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"empty":            "",
		"garbage":          "{not json",
		"unknown decision": `{"version":1,"decisions":{"demo":{"read":"sometimes"}}}`,
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "permissions.json")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
			assert.Error(t, NewFileStore(path).Load())
		})
	}
}

func TestFileStore_CorruptFileDegradesToMemory(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "permissions.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o600))

	store := NewFileStore(path)
	_, ok := store.Lookup("demo", capabilities.Read)
	assert.False(t, ok)

	err := store.Record("demo", capabilities.Read, ports.AllowAlways)
	assert.Error(t, err)

	d, ok := store.Lookup("demo", capabilities.Read)
	require.True(t, ok)
	assert.Equal(t, ports.AllowAlways, d)

	content, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, "{broken", string(content))
}

func TestFileStore_RevokeAndReset(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "permissions.json")
	store := NewFileStore(path)
	require.NoError(t, store.Record("a", capabilities.Read, ports.AllowAlways))
	require.NoError(t, store.Record("b", capabilities.Read, ports.AllowAlways))

	require.NoError(t, store.RevokeExtension("A"))
	_, ok := store.Lookup("a", capabilities.Read)
	assert.False(t, ok)
	assert.Len(t, store.List(), 1)

	require.NoError(t, store.Reset())
	assert.Empty(t, NewFileStore(path).List())
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	require.NoError(t, store.Record("demo", capabilities.HTTP, ports.AllowAlways))
	_, ok := store.Lookup("demo", capabilities.HTTP)
	assert.True(t, ok)
	assert.Empty(t, store.ConfigPath())
}
