// Package templates provides embedded templates for extension scaffolding.
package templates

import (
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"text/template"
)

//go:embed js/*.tmpl
var jsTemplates embed.FS

// ExtensionData contains the data used to render extension templates.
type ExtensionData struct {
	// Name is the kebab-case extension name (e.g., "git-guard")
	Name string
	// Title is the title case name (e.g., "Git Guard")
	Title string
	// ToolName is the snake_case name of the sample tool (e.g., "git_guard")
	ToolName string
	// APIVersion is the host API version the extension targets.
	APIVersion string
	// Capabilities is the list of declared capabilities.
	Capabilities []string
}

// JSTemplates returns the parsed extension templates.
func JSTemplates() (*template.Template, error) {
	tmpl := template.New("").Funcs(template.FuncMap{
		"quote": func(s string) string { return "'" + strings.ReplaceAll(s, "'", "\\'") + "'" },
	})

	err := fs.WalkDir(jsTemplates, "js", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".tmpl") {
			return nil
		}

		content, err := jsTemplates.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading template %s: %w", path, err)
		}

		// Use filename without .tmpl as template name
		name := strings.TrimPrefix(path, "js/")
		name = strings.TrimSuffix(name, ".tmpl")

		_, err = tmpl.New(name).Parse(string(content))
		if err != nil {
			return fmt.Errorf("parsing template %s: %w", path, err)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}

	return tmpl, nil
}

// TemplateFiles returns the list of files generated for an extension.
func TemplateFiles(withPackage bool) []string {
	files := []string{"index.js", "README.md"}
	if withPackage {
		files = append(files, "package.json")
	}
	return files
}
