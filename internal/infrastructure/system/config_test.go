package system

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/extsandbox/internal/domain/capabilities"
)

func TestConfigLoader_Load_FileNotExists(t *testing.T) {
	t.Parallel()

	cfg, err := NewConfigLoader().Load("/nonexistent/config.yaml")

	require.NoError(t, err)
	assert.Equal(t, capabilities.ProfileStandard, cfg.Policy.Profile)
	assert.True(t, cfg.Runtime.HostFallback)
	assert.Equal(t, DefaultGracePeriod, cfg.Runtime.GracePeriod)
}

func TestConfigLoader_Load_ValidConfig(t *testing.T) {
	t.Parallel()

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `
policy:
  profile: safe
  allow_dangerous: true
  per_extension:
    git-logger:
      mode: prompt
      allow: [exec]
runtime:
  load_timeout: 3s
  budget: 2m
  host_fallback: false
  op_timeouts:
    exec: 45s
redaction:
  patterns:
    - "password\\s*=\\s*\\S+"
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o600))

	cfg, err := NewConfigLoader().Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "safe", cfg.Policy.Profile)
	assert.True(t, cfg.Policy.AllowDangerous)
	assert.Equal(t, []string{"exec"}, cfg.Policy.PerExtension["git-logger"].Allow)
	assert.Equal(t, 3*time.Second, cfg.Runtime.LoadTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Runtime.Budget)
	assert.Equal(t, DefaultGracePeriod, cfg.Runtime.GracePeriod)
	assert.False(t, cfg.Runtime.HostFallback)
	assert.Equal(t, 45*time.Second, cfg.Runtime.OpTimeout("exec", time.Second))
	assert.Equal(t, time.Second, cfg.Runtime.OpTimeout("fs.read", time.Second))
	assert.Len(t, cfg.Redaction.Patterns, 1)
}

func TestConfigLoader_Load_Invalid(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"bad mode":        "policy:\n  per_extension:\n    demo:\n      mode: sometimes\n",
		"blank cap":       "policy:\n  deny_caps: [\"\"]\n",
		"negative budget": "runtime:\n  max_read_bytes: -1\n",
		"not yaml":        "policy: [\n",
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
			_, err := NewConfigLoader().Load(path)
			assert.Error(t, err)
		})
	}
}

func TestPolicyConfig_Settings(t *testing.T) {
	t.Parallel()

	p := PolicyConfig{
		Profile:  "permissive",
		DenyCaps: []string{"http"},
		PerExtension: map[string]ExtensionPolicyConfig{
			"Demo": {Mode: "strict", Deny: []string{"read"}},
		},
	}

	policy, warnings := capabilities.Build(p.Settings())
	assert.Empty(t, warnings)

	assert.Equal(t, capabilities.ReasonDenyCaps, policy.Evaluate("other", capabilities.HTTP).Reason)
	assert.Equal(t, capabilities.ReasonModePermissive, policy.Evaluate("other", capabilities.UI).Reason)
	assert.Equal(t, capabilities.ReasonExtensionDeny, policy.Evaluate("demo", capabilities.Read).Reason)
	assert.Equal(t, capabilities.ReasonModeStrict, policy.Evaluate("demo", capabilities.UI).Reason)
}
