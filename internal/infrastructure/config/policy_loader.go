// Package config provides infrastructure for loading capability policy
// files, rendering default ones, and hot-reloading them.
package config

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/viper"

	apperrors "github.com/reglet-dev/extsandbox/internal/application/errors"
	"github.com/reglet-dev/extsandbox/internal/domain/capabilities"
	"github.com/reglet-dev/extsandbox/internal/infrastructure/system"
)

// LoadPolicyFile reads a standalone policy file. The format is inferred from
// the extension; YAML is assumed when there is none.
func LoadPolicyFile(path string) (system.PolicyConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		return system.PolicyConfig{}, apperrors.NewConfigurationError("policy", "failed to read "+path, err)
	}

	var pc system.PolicyConfig
	if err := v.Unmarshal(&pc); err != nil {
		return system.PolicyConfig{}, apperrors.NewConfigurationError("policy", "failed to decode "+path, err)
	}
	return pc, nil
}

// BuildPolicy validates a policy block and resolves it into a snapshot.
// A non-empty profileOverride replaces the configured profile.
func BuildPolicy(pc system.PolicyConfig, profileOverride string) (*capabilities.Policy, error) {
	if profileOverride != "" {
		pc.Profile = profileOverride
	}
	if err := pc.Validate(); err != nil {
		return nil, apperrors.NewConfigurationError("policy", "validation failed", err)
	}

	policy, warnings := capabilities.Build(pc.Settings())
	for _, w := range warnings {
		slog.Warn("policy configuration", "warning", w)
	}
	return policy, nil
}

// ResolvePolicy builds the policy from the standalone policy file when one
// is configured, otherwise from the inline block.
func ResolvePolicy(cfg *system.Config, profileOverride string) (*capabilities.Policy, error) {
	pc := cfg.Policy
	if cfg.PolicyFile != "" {
		loaded, err := LoadPolicyFile(cfg.PolicyFile)
		if err != nil {
			return nil, err
		}
		pc = loaded
	}
	policy, err := BuildPolicy(pc, profileOverride)
	if err != nil {
		return nil, fmt.Errorf("failed to build policy: %w", err)
	}
	return policy, nil
}
