package values

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewExtensionID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"git-logger", "git-logger", false},
		{"  Git-Logger ", "git-logger", false},
		{"@scope/ext.v2", "@scope/ext.v2", false},
		{"", "", true},
		{"   ", "", true},
		{"bad name", "", true},
		{"../escape", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			id, err := NewExtensionID(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, id.String())
		})
	}
}

func TestExtensionID_JSON(t *testing.T) {
	t.Parallel()

	var out struct {
		ID ExtensionID `json:"id"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"id":"Demo"}`), &out))
	assert.Equal(t, "demo", out.ID.String())

	assert.Error(t, json.Unmarshal([]byte(`{"id":""}`), &out))
}

func TestShortIDAndCallIDs(t *testing.T) {
	t.Parallel()

	assert.Len(t, ShortID(), 8)
	assert.NotEqual(t, ShortID(), ShortID())

	var ids CallIDs
	assert.Equal(t, "call-1", ids.Next())
	assert.Equal(t, "call-2", ids.Next())

	inst := NewInstanceID()
	parsed, err := ParseInstanceID(inst.String())
	require.NoError(t, err)
	assert.Equal(t, inst, parsed)
	assert.False(t, parsed.IsZero())
}
