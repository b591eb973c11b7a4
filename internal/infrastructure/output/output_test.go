package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/extsandbox/internal/application/ports"
)

// createTestReport creates a sample report for testing.
func createTestReport() *Report {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &Report{
		Version:   "1.2.3",
		StartTime: start,
		EndTime:   start.Add(1500 * time.Millisecond),
		Extensions: []ExtensionStatus{
			{
				ID:       "greeter",
				Entry:    "extensions/greeter/index.js",
				State:    "active",
				Tools:    []string{"greet"},
				Commands: []string{"hello"},
				Hooks:    []string{"tool_call"},
			},
			{
				ID:          "broken",
				Entry:       "extensions/broken/index.js",
				State:       "failed",
				FailureKind: "syntax",
				Error:       "SyntaxError: Unexpected token",
			},
		},
		Audit: []ports.AuditRecord{
			{ExtensionID: "greeter", Op: "exec", OutcomeCode: "denied", ElapsedMS: 0, Timestamp: start, Message: "capability 'exec' denied (deny_caps)"},
			{ExtensionID: "greeter", Op: "fs.read", OutcomeCode: "io", ElapsedMS: 2, Timestamp: start, Message: "ENOENT: no such file or directory, open '/x'"},
			{ExtensionID: "greeter", Op: "exec", OutcomeCode: "denied", ElapsedMS: 1, Timestamp: start},
		},
		DroppedAudit: 4,
	}
}

func TestTableFormatter_Format(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	f := NewTableFormatter(&buf)
	f.EnableColor = false
	require.NoError(t, f.Format(createTestReport()))

	out := buf.String()
	assert.Contains(t, out, "extsandbox 1.2.3")
	assert.Contains(t, out, "Duration: 1.5s")
	assert.Contains(t, out, "✓ greeter [active]")
	assert.Contains(t, out, "Tools: greet")
	assert.Contains(t, out, "✗ broken [failed]")
	assert.Contains(t, out, "Failure: syntax")
	assert.Contains(t, out, "Summary: 1 loaded, 1 failed")
	assert.Contains(t, out, "Audit: denied=2 io=1 dropped=4")
	assert.NotContains(t, out, "\033[")
}

func TestTableFormatter_EmptyReport(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, NewTableFormatter(&buf).Format(&Report{Version: "dev"}))
	assert.Contains(t, buf.String(), "No extensions loaded.")
	assert.NotContains(t, buf.String(), "Audit:")
}

func TestTableFormatter_Colors(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, NewTableFormatter(&buf).Format(createTestReport()))
	assert.Contains(t, buf.String(), colorRed+"✗"+colorReset)
	assert.Contains(t, buf.String(), colorGreen+"✓"+colorReset)
}

func TestJSONFormatter(t *testing.T) {
	t.Parallel()

	for _, indent := range []bool{true, false} {
		var buf bytes.Buffer
		require.NoError(t, NewJSONFormatter(&buf, indent).Format(createTestReport()))
		assert.Equal(t, indent, strings.Contains(buf.String(), "\n  "))

		var back Report
		require.NoError(t, json.Unmarshal(buf.Bytes(), &back))
		assert.Equal(t, createTestReport().Extensions, back.Extensions)
		assert.Len(t, back.Audit, 3)
		assert.Equal(t, uint64(4), back.DroppedAudit)
	}
}

func TestJSONLinesFormatter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, NewJSONLinesFormatter(&buf).Format(createTestReport()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	var rec ports.AuditRecord
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &rec))
	assert.Equal(t, "fs.read", rec.Op)
}

func TestYAMLFormatter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, NewYAMLFormatter(&buf).Format(createTestReport()))

	var back map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, "1.2.3", back["version"])
	exts, ok := back["extensions"].([]any)
	require.True(t, ok)
	assert.Len(t, exts, 2)
}

func TestReport_Summarize(t *testing.T) {
	t.Parallel()

	s := createTestReport().Summarize()
	assert.Equal(t, 1, s.Loaded)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, map[string]int{"denied": 2, "io": 1}, s.Outcomes)
}

func TestFormatterFactory_Create(t *testing.T) {
	t.Parallel()

	factory := NewFormatterFactory()
	for _, format := range factory.SupportedFormats() {
		var buf bytes.Buffer
		f, err := factory.Create(format, &buf)
		require.NoError(t, err, format)
		require.NoError(t, f.Format(createTestReport()), format)
		assert.NotEmpty(t, buf.String(), format)
	}

	_, err := factory.Create("junit", &bytes.Buffer{})
	assert.ErrorContains(t, err, "unknown format: junit")
}
