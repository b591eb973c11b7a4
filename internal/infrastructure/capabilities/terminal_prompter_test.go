package capabilities

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reglet-dev/extsandbox/internal/application/ports"
	"github.com/reglet-dev/extsandbox/internal/domain/capabilities"
)

func TestTerminalPrompter_IsInteractive(t *testing.T) {
	// Not t.Parallel() because it interacts with os.Stdin
	prompter := NewTerminalPrompter()
	assert.IsType(t, true, prompter.IsInteractive())

	piped := &TerminalPrompter{in: strings.NewReader("")}
	assert.False(t, piped.IsInteractive())
}

// The interactive form itself is driven by huh and is not exercised here.

func TestPromptOptions_Order(t *testing.T) {
	t.Parallel()

	opts := promptOptions()
	var keys []string
	for _, o := range opts {
		keys = append(keys, o.Key)
	}
	assert.Equal(t, []string{"Allow Once", "Allow Always", "Deny Once", "Deny Always"}, keys)
	assert.Equal(t, ports.PromptDenyAlways, opts[3].Value)
}

func TestDescribeCapability(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Allows the extension to make outbound network requests.", describeCapability(capabilities.HTTP))
	assert.Contains(t, describeCapability(capabilities.Exec), "Risk: high")
}

func TestPromptTitle(t *testing.T) {
	t.Parallel()

	title := promptTitle(ports.PromptRequest{ExtensionID: "demo", Capability: capabilities.UI, Op: "ui.notify"})
	assert.Equal(t, `Extension "demo" requests capability "ui" for ui.notify`, title)
}

func TestFormatNonInteractiveError(t *testing.T) {
	t.Parallel()

	err := FormatNonInteractiveError("demo", capabilities.Set{capabilities.Exec, capabilities.Env}, "~/.extsandbox/permissions.json")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "extension demo requires permissions")
	assert.Contains(t, err.Error(), "  - exec: run arbitrary processes on the host")
	assert.Contains(t, err.Error(), "  - env: read host environment variables")
	assert.Contains(t, err.Error(), "1. Run interactively")
	assert.Contains(t, err.Error(), "3. Manually edit: ~/.extsandbox/permissions.json")
}
