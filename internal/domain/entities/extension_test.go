package entities

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/extsandbox/internal/domain/values"
)

func newTestExtension() *Extension {
	return NewExtension(values.MustNewExtensionID("demo"), "/ext/demo/index.js", "/ext/demo")
}

func TestExtension_HappyPath(t *testing.T) {
	t.Parallel()

	ext := newTestExtension()
	require.Equal(t, StateUnloaded, ext.State())

	require.NoError(t, ext.Transition(StateLoading))
	require.NoError(t, ext.Register(Declaration{Name: "demo", Capabilities: []string{"read", "EXEC"}}))
	require.NoError(t, ext.Transition(StateActive))
	require.NoError(t, ext.Transition(StateShuttingDown))
	require.NoError(t, ext.Transition(StateShutdown))

	assert.True(t, ext.State().IsTerminal())
	_, ok := ext.ChangedAt(StateActive)
	assert.True(t, ok)
	assert.Equal(t, []string{"exec", "read"}, ext.DeclaredCapabilities().Strings())
}

func TestExtension_InvalidTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup []State
		to    State
	}{
		{"skip loading", nil, StateActive},
		{"activate while loading", []State{StateLoading}, StateActive},
		{"leave failed", []State{StateLoading, StateFailed}, StateLoading},
		{"leave shutdown", []State{StateLoading, StateRegistered, StateShuttingDown, StateShutdown}, StateActive},
		{"shutdown without draining", []State{StateLoading, StateRegistered, StateActive}, StateShutdown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ext := newTestExtension()
			for _, s := range tt.setup {
				require.NoError(t, ext.Transition(s))
			}
			err := ext.Transition(tt.to)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidTransition))
		})
	}
}

func TestExtension_RegisterOnlyOnce(t *testing.T) {
	t.Parallel()

	ext := newTestExtension()
	assert.Error(t, ext.Register(Declaration{Name: "early"}))

	require.NoError(t, ext.Transition(StateLoading))
	require.NoError(t, ext.Register(Declaration{Name: "demo"}))
	assert.Error(t, ext.Register(Declaration{Name: "again"}))

	decl, ok := ext.Declaration()
	require.True(t, ok)
	assert.Equal(t, "demo", decl.Name)
}

func TestExtension_Fail(t *testing.T) {
	t.Parallel()

	ext := newTestExtension()
	require.NoError(t, ext.Transition(StateLoading))
	cause := errors.New("module not found: leftpad")
	require.NoError(t, ext.Fail(cause))

	assert.Equal(t, StateFailed, ext.State())
	assert.Equal(t, cause, ext.Failure())
	assert.Error(t, ext.Fail(cause))
}

func TestDeclaration_Validate(t *testing.T) {
	t.Parallel()

	valid := Declaration{
		Name:         "demo",
		Capabilities: []string{"read"},
		Tools:        []ToolSpec{{Name: "a", Description: "A"}, {Name: "b", Description: "B"}},
		Commands:     []CommandSpec{{Name: "a"}},
		EventHooks:   []HookSpec{{Event: EventToolCall}, {Event: EventToolCall}},
	}
	require.NoError(t, valid.Validate())

	invalid := Declaration{
		Name:         " ",
		Capabilities: []string{"read", "  "},
		Tools:        []ToolSpec{{Name: "a"}, {Name: "a"}},
		EventHooks:   []HookSpec{{Event: "on_lunch"}},
	}
	err := invalid.Validate()
	var declErr *DeclarationError
	require.ErrorAs(t, err, &declErr)
	assert.Len(t, declErr.Problems, 4)
	assert.Contains(t, err.Error(), `duplicate tool "a"`)
	assert.Contains(t, err.Error(), `unknown event "on_lunch"`)
}

func TestDeclaration_Lookups(t *testing.T) {
	t.Parallel()

	decl := Declaration{
		Tools:      []ToolSpec{{Name: "git_log"}},
		Commands:   []CommandSpec{{Name: "stats"}},
		EventHooks: []HookSpec{{Event: EventInput}, {Event: EventToolCall, Filter: "tool == 'bash'"}},
	}

	_, ok := decl.Tool("git_log")
	assert.True(t, ok)
	_, ok = decl.Command("missing")
	assert.False(t, ok)
	assert.Len(t, decl.Hooks(EventToolCall), 1)
	assert.Len(t, decl.Entries(), 4)
	assert.True(t, EventToolCall.Blockable())
	assert.False(t, EventTurnEnd.Blockable())
}
