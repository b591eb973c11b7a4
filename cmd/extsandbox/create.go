package main

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/reglet-dev/extsandbox/internal/domain/capabilities"
	"github.com/reglet-dev/extsandbox/internal/infrastructure/validation"
	"github.com/reglet-dev/extsandbox/internal/templates"
)

var validExtensionName = regexp.MustCompile(`^[a-z][a-z0-9-]*[a-z0-9]$|^[a-z]$`)

// CreateExtensionOptions holds options for the create extension command.
type CreateExtensionOptions struct {
	name         string
	output       string
	capabilities []string
	withPackage  bool
	force        bool
}

func init() {
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create new resources",
		Long:  `Create new extensions or other extsandbox resources.`,
	}
	createCmd.AddCommand(newCreateExtensionCmd())
	rootCmd.AddCommand(createCmd)
}

func newCreateExtensionCmd() *cobra.Command {
	opts := &CreateExtensionOptions{}

	cmd := &cobra.Command{
		Use:   "extension",
		Short: "Create a new extension scaffold",
		Long: `Generate a new extension with a sample tool, command and event hook.

Examples:
  # Create a basic extension
  extsandbox create extension --name git-guard

  # Declare capabilities up front
  extsandbox create extension --name notes --capabilities read,write,session

  # Create a package directory in a specific place
  extsandbox create extension --name notes --package --output ./extensions/notes`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCreateExtension(cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.name, "name", "n", "", "Extension name (required, e.g., 'git-guard')")
	cmd.Flags().StringSliceVarP(&opts.capabilities, "capabilities", "c", nil, "Comma-separated capabilities (e.g., 'read,ui')")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output directory (default: ./<name>)")
	cmd.Flags().BoolVar(&opts.withPackage, "package", false, "Also write a package.json")
	cmd.Flags().BoolVarP(&opts.force, "force", "f", false, "Overwrite existing files")

	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func runCreateExtension(w io.Writer, opts *CreateExtensionOptions) error {
	if err := validateExtensionName(opts.name); err != nil {
		return err
	}

	caps, err := parseCapabilities(opts.capabilities)
	if err != nil {
		return fmt.Errorf("invalid capabilities: %w", err)
	}

	if opts.output == "" {
		opts.output = "./" + opts.name
	}

	data := templates.ExtensionData{
		Name:         opts.name,
		Title:        toTitleCase(opts.name),
		ToolName:     strings.ReplaceAll(opts.name, "-", "_"),
		APIVersion:   strings.TrimPrefix(validation.DefaultAPIConstraint, "^"),
		Capabilities: caps,
	}

	outputDir, err := filepath.Abs(opts.output)
	if err != nil {
		return fmt.Errorf("resolving output path: %w", err)
	}

	if err := os.MkdirAll(outputDir, 0o750); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	tmpl, err := templates.JSTemplates()
	if err != nil {
		return fmt.Errorf("loading templates: %w", err)
	}

	for _, file := range templates.TemplateFiles(opts.withPackage) {
		outputPath := filepath.Join(outputDir, file)

		if !opts.force {
			if _, err := os.Stat(outputPath); err == nil {
				return fmt.Errorf("file already exists: %s (use --force to overwrite)", outputPath)
			}
		}

		var buf bytes.Buffer
		if err := tmpl.ExecuteTemplate(&buf, file, data); err != nil {
			return fmt.Errorf("rendering %s: %w", file, err)
		}

		//nolint:gosec // G306: User-created extension files need reasonable permissions
		if err := os.WriteFile(outputPath, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", outputPath, err)
		}

		slog.Debug("created file", "path", outputPath)
	}

	_, err = fmt.Fprintf(w, "✓ Created extension '%s' in %s\n\nNext steps:\n  1. Edit %s\n  2. Run 'extsandbox run %s --tool %s'\n",
		opts.name, outputDir, filepath.Join(opts.output, "index.js"), opts.output, data.ToolName)
	return err
}

// validateExtensionName checks that the extension name is valid.
func validateExtensionName(name string) error {
	if name == "" {
		return fmt.Errorf("extension name is required")
	}

	// Must be lowercase, alphanumeric, hyphens allowed
	if !validExtensionName.MatchString(name) {
		return fmt.Errorf("invalid extension name '%s': must be lowercase alphanumeric with hyphens, starting with a letter", name)
	}

	// No consecutive hyphens
	if strings.Contains(name, "--") {
		return fmt.Errorf("invalid extension name '%s': consecutive hyphens not allowed", name)
	}

	return nil
}

// parseCapabilities normalizes capability names and rejects unknown ones.
func parseCapabilities(raw []string) ([]string, error) {
	result := make([]string, 0, len(raw))
	for _, r := range raw {
		c := capabilities.Parse(r)
		if c.IsEmpty() {
			return nil, fmt.Errorf("empty capability")
		}
		if !c.IsKnown() {
			return nil, fmt.Errorf("unknown capability %q (known: %v)", r, capabilities.Known())
		}
		result = append(result, c.String())
	}
	return result, nil
}

// toTitleCase converts "my-extension" to "My Extension".
func toTitleCase(s string) string {
	words := strings.Split(s, "-")
	for i, word := range words {
		if len(word) > 0 {
			words[i] = strings.ToUpper(string(word[0])) + word[1:]
		}
	}
	return strings.Join(words, " ")
}
