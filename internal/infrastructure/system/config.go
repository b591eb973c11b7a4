// Package system provides infrastructure for system-level configuration.
// This includes loading the runtime config file (~/.extsandbox/config.yaml)
// and the inline capability policy it may carry.
package system

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"

	"github.com/reglet-dev/extsandbox/internal/domain/capabilities"
)

// Runtime defaults.
const (
	DefaultLoadTimeout  = 10 * time.Second
	DefaultGracePeriod  = 5 * time.Second
	DefaultBudget       = 30 * time.Minute
	DefaultMaxReadBytes = 10 * 1024 * 1024
	DefaultAuditBuffer  = 1024
	DefaultOpTimeout    = 10 * time.Second
)

// Config represents the global configuration file (~/.extsandbox/config.yaml).
type Config struct {
	Policy PolicyConfig `yaml:"policy" mapstructure:"policy"`
	// PolicyFile points at a standalone policy file that is watched for
	// changes. It replaces the inline policy when set.
	PolicyFile      string          `yaml:"policy_file" mapstructure:"policy_file"`
	PermissionsPath string          `yaml:"permissions_path" mapstructure:"permissions_path"`
	Runtime         RuntimeConfig   `yaml:"runtime" mapstructure:"runtime"`
	Redaction       RedactionConfig `yaml:"redaction" mapstructure:"redaction"`
}

// PolicyConfig is the operator-facing capability policy.
type PolicyConfig struct {
	Profile        string `yaml:"profile" mapstructure:"profile"`
	AllowDangerous bool   `yaml:"allow_dangerous" mapstructure:"allow_dangerous"`
	// DefaultCaps and DenyCaps replace the profile lists when present.
	DefaultCaps  []string                           `yaml:"default_caps,omitempty" mapstructure:"default_caps" validate:"omitempty,dive,required"`
	DenyCaps     []string                           `yaml:"deny_caps,omitempty" mapstructure:"deny_caps" validate:"omitempty,dive,required"`
	PerExtension map[string]ExtensionPolicyConfig `yaml:"per_extension,omitempty" mapstructure:"per_extension" validate:"omitempty,dive,keys,required,endkeys"`
}

// ExtensionPolicyConfig is one per-extension override.
type ExtensionPolicyConfig struct {
	Mode  string   `yaml:"mode,omitempty" mapstructure:"mode" validate:"omitempty,policymode"`
	Allow []string `yaml:"allow,omitempty" mapstructure:"allow" validate:"omitempty,dive,required"`
	Deny  []string `yaml:"deny,omitempty" mapstructure:"deny" validate:"omitempty,dive,required"`
}

// RuntimeConfig tunes the extension runtimes.
type RuntimeConfig struct {
	LoadTimeout time.Duration `yaml:"load_timeout" mapstructure:"load_timeout" validate:"gte=0"`
	GracePeriod time.Duration `yaml:"grace_period" mapstructure:"grace_period" validate:"gte=0"`
	Budget      time.Duration `yaml:"budget" mapstructure:"budget" validate:"gte=0"`
	// OpTimeouts overrides the intrinsic timeout of individual ops.
	OpTimeouts          map[string]time.Duration `yaml:"op_timeouts" mapstructure:"op_timeouts" validate:"omitempty,dive,gt=0"`
	HostFallback        bool                     `yaml:"host_fallback" mapstructure:"host_fallback"`
	AllowPrivateNetwork bool                     `yaml:"allow_private_network" mapstructure:"allow_private_network"`
	MaxReadBytes        int64                    `yaml:"max_read_bytes" mapstructure:"max_read_bytes" validate:"gte=0"`
	AuditBuffer         int                      `yaml:"audit_buffer" mapstructure:"audit_buffer" validate:"gte=0"`
}

// RedactionConfig configures how sensitive data is sanitized.
type RedactionConfig struct {
	Patterns        []string `yaml:"patterns" mapstructure:"patterns"`
	DisableGitleaks bool     `yaml:"disable_gitleaks" mapstructure:"disable_gitleaks"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("policymode", func(fl validator.FieldLevel) bool {
		_, err := capabilities.ParseMode(fl.Field().String())
		return err == nil
	})
	return v
}

// DefaultConfig returns a Config with safe defaults for all fields.
// This is used when no system config file exists.
func DefaultConfig() *Config {
	return &Config{
		Policy: PolicyConfig{Profile: capabilities.ProfileStandard},
		Runtime: RuntimeConfig{
			LoadTimeout:  DefaultLoadTimeout,
			GracePeriod:  DefaultGracePeriod,
			Budget:       DefaultBudget,
			OpTimeouts:   map[string]time.Duration{},
			HostFallback: true,
			MaxReadBytes: DefaultMaxReadBytes,
			AuditBuffer:  DefaultAuditBuffer,
		},
	}
}

// DefaultConfigPath returns ~/.extsandbox/config.yaml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to find home directory: %w", err)
	}
	return filepath.Join(home, ".extsandbox", "config.yaml"), nil
}

// ConfigLoader loads system configuration from disk.
type ConfigLoader struct{}

// NewConfigLoader creates a new system config loader.
func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

// Load loads the system configuration from the specified path. Keys absent
// from the file keep their defaults. A missing file yields DefaultConfig().
func (l *ConfigLoader) Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	//nolint:gosec // G304: path is the operator's config file
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read system config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse system config: %w", err)
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults applies defaults for zero values.
func (c *Config) ApplyDefaults() {
	r := &c.Runtime
	if r.LoadTimeout == 0 {
		r.LoadTimeout = DefaultLoadTimeout
	}
	if r.GracePeriod == 0 {
		r.GracePeriod = DefaultGracePeriod
	}
	if r.Budget == 0 {
		r.Budget = DefaultBudget
	}
	if r.MaxReadBytes == 0 {
		r.MaxReadBytes = DefaultMaxReadBytes
	}
	if r.AuditBuffer == 0 {
		r.AuditBuffer = DefaultAuditBuffer
	}
	if r.OpTimeouts == nil {
		r.OpTimeouts = map[string]time.Duration{}
	}
}

// Validate checks the config with struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid system config: %w", err)
	}
	return nil
}

// Validate checks one policy block.
func (p PolicyConfig) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid policy config: %w", err)
	}
	return nil
}

// Settings converts the policy block into domain settings.
func (p PolicyConfig) Settings() capabilities.Settings {
	s := capabilities.Settings{
		Profile:        p.Profile,
		AllowDangerous: p.AllowDangerous,
		DefaultCaps:    p.DefaultCaps,
		DenyCaps:       p.DenyCaps,
	}
	if len(p.PerExtension) > 0 {
		s.PerExtension = make(map[string]capabilities.ExtensionSettings, len(p.PerExtension))
		for id, ov := range p.PerExtension {
			s.PerExtension[id] = capabilities.ExtensionSettings{Mode: ov.Mode, Allow: ov.Allow, Deny: ov.Deny}
		}
	}
	return s
}

// OpTimeout returns the configured timeout for op, or fallback.
func (r RuntimeConfig) OpTimeout(op string, fallback time.Duration) time.Duration {
	if d, ok := r.OpTimeouts[op]; ok && d > 0 {
		return d
	}
	return fallback
}
