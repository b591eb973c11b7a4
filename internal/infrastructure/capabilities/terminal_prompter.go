package capabilities

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/reglet-dev/extsandbox/internal/application/ports"
	"github.com/reglet-dev/extsandbox/internal/domain/capabilities"
)

// TerminalPrompter asks the operator to resolve capability prompts on the
// terminal.
type TerminalPrompter struct {
	in         io.Reader
	out        io.Writer
	accessible bool
}

// NewTerminalPrompter creates a new TerminalPrompter reading from stdin.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{in: os.Stdin, out: os.Stderr}
}

// WithAccessibleMode switches to plain line-based prompts.
func (p *TerminalPrompter) WithAccessibleMode(on bool) *TerminalPrompter {
	p.accessible = on
	return p
}

// IsInteractive checks if we're running in an interactive terminal.
func (p *TerminalPrompter) IsInteractive() bool {
	f, ok := p.in.(*os.File)
	if !ok {
		return false
	}
	fileInfo, err := f.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// Prompt implements ports.Prompter. An aborted form is a Deny Once.
func (p *TerminalPrompter) Prompt(ctx context.Context, req ports.PromptRequest) (ports.PromptChoice, error) {
	choice := ports.PromptDenyOnce

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[ports.PromptChoice]().
				Title(promptTitle(req)).
				Description(describeCapability(req.Capability)).
				Options(promptOptions()...).
				Value(&choice),
		),
	).
		WithInput(p.in).
		WithOutput(p.out).
		WithAccessible(p.accessible)

	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return ports.PromptDenyOnce, nil
		}
		return ports.PromptDenyOnce, fmt.Errorf("capability prompt failed: %w", err)
	}
	return choice, nil
}

func promptOptions() []huh.Option[ports.PromptChoice] {
	choices := []ports.PromptChoice{ports.PromptAllowOnce, ports.PromptAllowAlways, ports.PromptDenyOnce, ports.PromptDenyAlways}
	opts := make([]huh.Option[ports.PromptChoice], 0, len(choices))
	for _, c := range choices {
		opts = append(opts, huh.NewOption(c.String(), c))
	}
	return opts
}

func promptTitle(req ports.PromptRequest) string {
	if req.Op == "" {
		return fmt.Sprintf("Extension %q requests capability %q", req.ExtensionID, req.Capability)
	}
	return fmt.Sprintf("Extension %q requests capability %q for %s", req.ExtensionID, req.Capability, req.Op)
}

// describeCapability returns a human-readable description of a capability.
func describeCapability(c capabilities.Capability) string {
	desc := fmt.Sprintf("Allows the extension to %s.", c.RiskDescription())
	if c.IsDangerous() {
		desc += fmt.Sprintf(" Risk: %s.", c.Risk())
	}
	return desc
}

// FormatNonInteractiveError creates a helpful error message for capabilities
// that needed a prompt while no terminal was available.
func FormatNonInteractiveError(extensionID string, missing capabilities.Set, permissionsPath string) error {
	var msg strings.Builder
	fmt.Fprintf(&msg, "extension %s requires permissions that need confirmation (running in non-interactive mode)\n\n", extensionID)
	msg.WriteString("Required permissions:\n")
	for _, c := range missing {
		fmt.Fprintf(&msg, "  - %s: %s\n", c, c.RiskDescription())
	}
	msg.WriteString("\nTo grant these permissions:\n")
	msg.WriteString("  1. Run interactively and approve when prompted\n")
	msg.WriteString("  2. Add them to the extension's allow list in the policy file\n")
	fmt.Fprintf(&msg, "  3. Manually edit: %s\n", permissionsPath)
	return errors.New(msg.String())
}
