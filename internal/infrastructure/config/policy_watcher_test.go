package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/extsandbox/internal/domain/capabilities"
)

func TestPolicyHolder_Swap(t *testing.T) {
	t.Parallel()

	first, _ := capabilities.Build(capabilities.Settings{Profile: "safe"})
	second, _ := capabilities.Build(capabilities.Settings{Profile: "permissive"})

	h := NewPolicyHolder(first)
	assert.Same(t, first, h.Current())
	h.Swap(second)
	assert.Same(t, second, h.Current())
}

func TestPolicyWatcher_ReloadKeepsPreviousOnError(t *testing.T) {
	t.Parallel()

	path := writePolicy(t, t.TempDir(), "profile: safe\n")
	initial, _ := capabilities.Build(capabilities.Settings{Profile: "standard"})
	holder := NewPolicyHolder(initial)
	w := NewPolicyWatcher(path, "", holder)

	reloads := 0
	w.OnReload(func(*capabilities.Policy) { reloads++ })

	require.NoError(t, w.Reload())
	assert.Equal(t, capabilities.ProfileSafe, holder.Current().Profile().Name)
	assert.Equal(t, 1, reloads)

	require.NoError(t, os.WriteFile(path, []byte("per_extension:\n  x:\n    mode: nope\n"), 0o600))
	assert.Error(t, w.Reload())
	assert.Equal(t, capabilities.ProfileSafe, holder.Current().Profile().Name)
	assert.Equal(t, 1, reloads)
}

func TestPolicyWatcher_RunPicksUpChanges(t *testing.T) {
	t.Parallel()

	path := writePolicy(t, t.TempDir(), "profile: safe\n")
	initial, _ := capabilities.Build(capabilities.Settings{Profile: "safe"})
	holder := NewPolicyHolder(initial)
	w := NewPolicyWatcher(path, "", holder)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("profile: permissive\n"), 0o600))

	assert.Eventually(t, func() bool {
		return holder.Current().Profile().Name == capabilities.ProfilePermissive
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
