package capabilities

import (
	"fmt"
	"strings"
)

// Mode is the fallback behavior of a profile when no explicit layer matches.
type Mode string

const (
	// ModeStrict denies anything not explicitly allowed.
	ModeStrict Mode = "strict"
	// ModePrompt asks the operator.
	ModePrompt Mode = "prompt"
	// ModePermissive allows anything not explicitly denied.
	ModePermissive Mode = "permissive"
)

// ParseMode parses a mode name case-insensitively. "deny" and "allow" are
// accepted as aliases for strict and permissive.
func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "strict", "deny":
		return ModeStrict, nil
	case "prompt":
		return ModePrompt, nil
	case "permissive", "allow":
		return ModePermissive, nil
	default:
		return "", fmt.Errorf("unknown policy mode %q", raw)
	}
}

// Decision is the outcome of a policy evaluation.
type Decision int

const (
	// Deny refuses the request.
	Deny Decision = iota
	// Allow permits the request.
	Allow
	// Prompt defers to an interactive confirmation.
	Prompt
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	case Prompt:
		return "prompt"
	default:
		return "unknown"
	}
}

// Reason tags the layer that produced a decision.
type Reason string

// Reasons produced by Policy.Evaluate.
const (
	ReasonEmptyCapability Reason = "empty_capability"
	ReasonExtensionDeny   Reason = "extension_deny"
	ReasonDenyCaps        Reason = "deny_caps"
	ReasonExtensionAllow  Reason = "extension_allow"
	ReasonDefaultCaps     Reason = "default_caps"
	ReasonModeStrict      Reason = "mode_strict"
	ReasonModePrompt      Reason = "mode_prompt"
	ReasonModePermissive  Reason = "mode_permissive"
)

// Reasons produced above the pure policy, by the authorizer and runtime host.
const (
	ReasonPermissionStore   Reason = "permission_store"
	ReasonSessionCache      Reason = "session_cache"
	ReasonPromptAllow       Reason = "prompt_allow"
	ReasonPromptDeny        Reason = "prompt_deny"
	ReasonPromptUnavailable Reason = "prompt_unavailable"
	ReasonShutdown          Reason = "shutdown"
)

// Check is the decision record for a single capability request.
type Check struct {
	Capability Capability
	Decision   Decision
	Reason     Reason
}

// Allowed reports whether the check permits the request.
func (c Check) Allowed() bool {
	return c.Decision == Allow
}

func (c Check) String() string {
	return fmt.Sprintf("%s %s (%s)", c.Decision, c.Capability, c.Reason)
}

// Overrides are the per-extension policy entries.
type Overrides struct {
	// Mode replaces the profile mode for this extension when set.
	Mode  Mode
	Allow Set
	Deny  Set
}

// Policy is an immutable policy snapshot. It is safe for concurrent readers;
// a reload builds a new Policy rather than mutating this one.
type Policy struct {
	profile      Profile
	denyCaps     Set
	perExtension map[string]Overrides
}

// NewPolicy builds a snapshot from a profile, a global deny list, and
// per-extension overrides. Inputs are copied.
func NewPolicy(profile Profile, denyCaps Set, perExtension map[string]Overrides) *Policy {
	p := &Policy{
		profile:      profile.clone(),
		denyCaps:     denyCaps.Clone(),
		perExtension: make(map[string]Overrides, len(perExtension)),
	}
	for id, ov := range perExtension {
		p.perExtension[normalizeID(id)] = Overrides{
			Mode:  ov.Mode,
			Allow: ov.Allow.Clone(),
			Deny:  ov.Deny.Clone(),
		}
	}
	return p
}

// Profile returns the active profile.
func (p *Policy) Profile() Profile {
	return p.profile.clone()
}

// DenyCaps returns the global deny list.
func (p *Policy) DenyCaps() Set {
	return p.denyCaps.Clone()
}

// OverridesFor returns the overrides registered for an extension.
func (p *Policy) OverridesFor(extensionID string) (Overrides, bool) {
	ov, ok := p.perExtension[normalizeID(extensionID)]
	return ov, ok
}

// Evaluate resolves a capability request. The first matching layer wins:
// extension deny, global deny_caps, extension allow, profile default_caps,
// then the mode fallback. Evaluation has no side effects.
func (p *Policy) Evaluate(extensionID string, capability Capability) Check {
	capability = Parse(string(capability))
	if capability.IsEmpty() {
		return Check{Capability: capability, Decision: Deny, Reason: ReasonEmptyCapability}
	}

	ov, hasOverrides := p.perExtension[normalizeID(extensionID)]

	if hasOverrides && ov.Deny.Contains(capability) {
		return Check{Capability: capability, Decision: Deny, Reason: ReasonExtensionDeny}
	}
	if p.denyCaps.Contains(capability) {
		return Check{Capability: capability, Decision: Deny, Reason: ReasonDenyCaps}
	}
	if hasOverrides && ov.Allow.Contains(capability) {
		return Check{Capability: capability, Decision: Allow, Reason: ReasonExtensionAllow}
	}
	if p.profile.DefaultCaps.Contains(capability) {
		return Check{Capability: capability, Decision: Allow, Reason: ReasonDefaultCaps}
	}

	mode := p.profile.Mode
	if hasOverrides && ov.Mode != "" {
		mode = ov.Mode
	}
	switch mode {
	case ModePermissive:
		return Check{Capability: capability, Decision: Allow, Reason: ReasonModePermissive}
	case ModePrompt:
		return Check{Capability: capability, Decision: Prompt, Reason: ReasonModePrompt}
	default:
		return Check{Capability: capability, Decision: Deny, Reason: ReasonModeStrict}
	}
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
