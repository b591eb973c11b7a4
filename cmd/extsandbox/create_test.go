package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_validateExtensionName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		wantErr bool
		errMsg  string
	}{
		{name: "valid simple name", input: "notes"},
		{name: "valid with hyphen", input: "git-guard"},
		{name: "valid single letter", input: "a"},
		{name: "empty name", input: "", wantErr: true, errMsg: "extension name is required"},
		{name: "starts with number", input: "2notes", wantErr: true, errMsg: "must be lowercase alphanumeric"},
		{name: "uppercase letters", input: "GitGuard", wantErr: true, errMsg: "must be lowercase"},
		{name: "ends with hyphen", input: "notes-", wantErr: true, errMsg: "must be lowercase"},
		{name: "consecutive hyphens", input: "git--guard", wantErr: true, errMsg: "consecutive hyphens"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := validateExtensionName(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func Test_parseCapabilities(t *testing.T) {
	t.Parallel()

	caps, err := parseCapabilities([]string{" Read", "UI"})
	require.NoError(t, err)
	assert.Equal(t, []string{"read", "ui"}, caps)

	_, err = parseCapabilities([]string{"teleport"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown capability")

	_, err = parseCapabilities([]string{" "})
	require.Error(t, err)
}

func Test_toTitleCase(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Git Guard", toTitleCase("git-guard"))
	assert.Equal(t, "A", toTitleCase("a"))
}

func TestRunCreateExtension(t *testing.T) {
	t.Parallel()

	out := filepath.Join(t.TempDir(), "git-guard")
	var msg bytes.Buffer
	opts := &CreateExtensionOptions{name: "git-guard", output: out, capabilities: []string{"read"}, withPackage: true}
	require.NoError(t, runCreateExtension(&msg, opts))

	for _, f := range []string{"index.js", "README.md", "package.json"} {
		_, err := os.Stat(filepath.Join(out, f))
		assert.NoError(t, err, f)
	}
	src, err := os.ReadFile(filepath.Join(out, "index.js"))
	require.NoError(t, err)
	assert.Contains(t, string(src), "apiVersion: '1.0'")
	assert.Contains(t, string(src), "capabilities: ['read']")
	assert.Contains(t, msg.String(), "--tool git_guard")

	err = runCreateExtension(&msg, &CreateExtensionOptions{name: "git-guard", output: out})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	require.NoError(t, runCreateExtension(&msg, &CreateExtensionOptions{name: "git-guard", output: out, force: true}))
}
