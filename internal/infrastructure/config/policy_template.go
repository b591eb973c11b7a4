package config

import (
	"fmt"
	"io"

	"github.com/goccy/go-yaml"

	"github.com/reglet-dev/extsandbox/internal/domain/capabilities"
	"github.com/reglet-dev/extsandbox/internal/infrastructure/system"
)

const policyHeader = `# extsandbox capability policy
#
# Evaluation order (first match wins):
#   per_extension.<id>.deny, deny_caps, per_extension.<id>.allow,
#   default_caps, then the profile mode (strict | prompt | permissive).
#
# Capabilities: read write http events session ui exec env tool log
`

// DefaultPolicy returns the policy block of a built-in profile with its
// lists spelled out.
func DefaultPolicy(profileName string) (system.PolicyConfig, error) {
	profile, ok := capabilities.ProfileByName(profileName)
	if !ok {
		return system.PolicyConfig{}, fmt.Errorf("unknown profile %q", profileName)
	}
	return system.PolicyConfig{
		Profile:     profile.Name,
		DefaultCaps: profile.DefaultCaps.Strings(),
		DenyCaps:    append([]string{}, profile.DenyCaps.Strings()...),
		PerExtension: map[string]system.ExtensionPolicyConfig{
			"example-extension": {Mode: string(capabilities.ModePrompt), Allow: []string{string(capabilities.UI)}},
		},
	}, nil
}

// WritePolicy renders a policy block as commented YAML.
func WritePolicy(w io.Writer, pc system.PolicyConfig) error {
	data, err := yaml.Marshal(pc)
	if err != nil {
		return fmt.Errorf("failed to marshal policy: %w", err)
	}
	if _, err := io.WriteString(w, policyHeader); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
