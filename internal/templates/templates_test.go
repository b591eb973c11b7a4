package templates

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSTemplates_Load(t *testing.T) {
	t.Parallel()

	tmpl, err := JSTemplates()

	require.NoError(t, err)
	assert.NotNil(t, tmpl)

	for _, name := range TemplateFiles(true) {
		assert.NotNil(t, tmpl.Lookup(name), "template %s should be loaded", name)
	}
}

func TestTemplateFiles(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"index.js", "README.md"}, TemplateFiles(false))
	assert.Contains(t, TemplateFiles(true), "package.json")
}

func TestJSTemplates_Render(t *testing.T) {
	t.Parallel()

	tmpl, err := JSTemplates()
	require.NoError(t, err)

	data := ExtensionData{
		Name:         "git-guard",
		Title:        "Git Guard",
		ToolName:     "git_guard",
		APIVersion:   "1.0",
		Capabilities: []string{"read", "ui"},
	}

	buf := new(strings.Builder)
	require.NoError(t, tmpl.ExecuteTemplate(buf, "index.js", data))
	content := buf.String()
	assert.Contains(t, content, "name: 'git-guard'")
	assert.Contains(t, content, "apiVersion: '1.0'")
	assert.Contains(t, content, "capabilities: ['read', 'ui']")
	assert.Contains(t, content, "name: 'git_guard'")

	buf.Reset()
	require.NoError(t, tmpl.ExecuteTemplate(buf, "README.md", ExtensionData{Name: "x", Title: "X", ToolName: "x"}))
	assert.Contains(t, buf.String(), "None declared")
}

func TestJSTemplates_QuoteEscapes(t *testing.T) {
	t.Parallel()

	tmpl, err := JSTemplates()
	require.NoError(t, err)

	buf := new(strings.Builder)
	require.NoError(t, tmpl.ExecuteTemplate(buf, "index.js", ExtensionData{Name: "a", Title: "Bob's", ToolName: "a", APIVersion: "1.0"}))
	assert.Contains(t, buf.String(), `description: 'Bob\'s'`)
}
