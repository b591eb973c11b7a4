package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-yaml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/extsandbox/internal/domain/capabilities"
	"github.com/reglet-dev/extsandbox/internal/infrastructure/system"
)

func writePolicy(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadPolicyFile(t *testing.T) {
	t.Parallel()

	path := writePolicy(t, t.TempDir(), `
profile: safe
allow_dangerous: false
deny_caps: [exec, http]
per_extension:
  Git-Logger:
    mode: prompt
    allow: [exec]
    deny: [write]
`)

	pc, err := LoadPolicyFile(path)
	require.NoError(t, err)
	assert.Equal(t, "safe", pc.Profile)
	assert.Equal(t, []string{"exec", "http"}, pc.DenyCaps)
	assert.Nil(t, pc.DefaultCaps)

	policy, err := BuildPolicy(pc, "")
	require.NoError(t, err)
	assert.Equal(t, capabilities.ReasonExtensionDeny, policy.Evaluate("git-logger", capabilities.Write).Reason)
	assert.Equal(t, capabilities.ReasonDenyCaps, policy.Evaluate("git-logger", capabilities.Exec).Reason)
	assert.Equal(t, capabilities.ReasonModePrompt, policy.Evaluate("git-logger", capabilities.UI).Reason)
	assert.Equal(t, capabilities.ReasonModeStrict, policy.Evaluate("other", capabilities.UI).Reason)
}

func TestLoadPolicyFile_Missing(t *testing.T) {
	t.Parallel()

	_, err := LoadPolicyFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestBuildPolicy_ProfileOverrideAndValidation(t *testing.T) {
	t.Parallel()

	policy, err := BuildPolicy(system.PolicyConfig{Profile: "safe"}, "permissive")
	require.NoError(t, err)
	assert.Equal(t, capabilities.ProfilePermissive, policy.Profile().Name)

	_, err = BuildPolicy(system.PolicyConfig{
		PerExtension: map[string]system.ExtensionPolicyConfig{"demo": {Mode: "maybe"}},
	}, "")
	assert.Error(t, err)
}

func TestResolvePolicy_PrefersPolicyFile(t *testing.T) {
	t.Parallel()

	path := writePolicy(t, t.TempDir(), "profile: permissive\n")
	cfg := system.DefaultConfig()
	cfg.Policy.Profile = "safe"

	policy, err := ResolvePolicy(cfg, "")
	require.NoError(t, err)
	assert.Equal(t, capabilities.ProfileSafe, policy.Profile().Name)

	cfg.PolicyFile = path
	policy, err = ResolvePolicy(cfg, "")
	require.NoError(t, err)
	assert.Equal(t, capabilities.ProfilePermissive, policy.Profile().Name)
}

func TestWritePolicy_RoundTrip(t *testing.T) {
	t.Parallel()

	pc, err := DefaultPolicy("standard")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WritePolicy(&buf, pc))
	assert.Contains(t, buf.String(), "# extsandbox capability policy")

	var decoded system.PolicyConfig
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, pc.Profile, decoded.Profile)
	assert.Equal(t, []string{"env", "exec"}, decoded.DenyCaps)

	path := writePolicy(t, t.TempDir(), buf.String())
	loaded, err := LoadPolicyFile(path)
	require.NoError(t, err)
	_, err = BuildPolicy(loaded, "")
	require.NoError(t, err)

	_, err = DefaultPolicy("unknown")
	assert.Error(t, err)
}
