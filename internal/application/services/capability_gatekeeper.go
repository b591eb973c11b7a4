package services

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/reglet-dev/extsandbox/internal/application/ports"
	"github.com/reglet-dev/extsandbox/internal/domain/capabilities"
)

// CapabilityGatekeeper resolves hostcall capability requests. It layers the
// persisted permission store, the session decision cache, and interactive
// prompting on top of the pure policy snapshot.
type CapabilityGatekeeper struct {
	policy   ports.PolicySource
	store    ports.PermissionStore
	prompter ports.Prompter

	mu       sync.Mutex
	sessions map[decisionKey]bool

	// promptMu keeps at most one prompt on screen at a time.
	promptMu sync.Mutex
}

type decisionKey struct {
	extension  string
	capability capabilities.Capability
}

// GatekeeperOption configures a CapabilityGatekeeper.
type GatekeeperOption func(*CapabilityGatekeeper)

// WithPermissionStore enables persisted decisions.
func WithPermissionStore(store ports.PermissionStore) GatekeeperOption {
	return func(g *CapabilityGatekeeper) { g.store = store }
}

// WithPrompter enables interactive resolution of Prompt decisions.
func WithPrompter(p ports.Prompter) GatekeeperOption {
	return func(g *CapabilityGatekeeper) { g.prompter = p }
}

// NewCapabilityGatekeeper creates a new capability gatekeeper.
func NewCapabilityGatekeeper(policy ports.PolicySource, opts ...GatekeeperOption) *CapabilityGatekeeper {
	g := &CapabilityGatekeeper{
		policy:   policy,
		sessions: make(map[decisionKey]bool),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authorize implements ports.Authorizer.
//
// Order:
//   - blank capability and a live extension deny are final
//   - a persisted decision short-circuits the remaining layers
//   - the policy decides; a Prompt consults the session cache, then the operator
func (g *CapabilityGatekeeper) Authorize(ctx context.Context, extensionID string, capability capabilities.Capability, op string) capabilities.Check {
	check := g.policy.Current().Evaluate(extensionID, capability)
	if check.Reason == capabilities.ReasonEmptyCapability || check.Reason == capabilities.ReasonExtensionDeny {
		return check
	}

	if g.store != nil {
		if decision, ok := g.store.Lookup(extensionID, check.Capability); ok {
			return persistedCheck(check.Capability, decision)
		}
	}

	if check.Decision != capabilities.Prompt {
		return check
	}

	key := decisionKey{extension: strings.ToLower(extensionID), capability: check.Capability}
	if allowed, ok := g.cached(key); ok {
		return sessionCheck(check.Capability, allowed)
	}

	return g.prompt(ctx, extensionID, key, op)
}

// Explain evaluates without prompting, for operator tooling.
func (g *CapabilityGatekeeper) Explain(extensionID string, capability capabilities.Capability) capabilities.Check {
	check := g.policy.Current().Evaluate(extensionID, capability)
	if check.Reason == capabilities.ReasonEmptyCapability || check.Reason == capabilities.ReasonExtensionDeny {
		return check
	}
	if g.store != nil {
		if decision, ok := g.store.Lookup(extensionID, check.Capability); ok {
			return persistedCheck(check.Capability, decision)
		}
	}
	return check
}

// ForgetExtension drops session decisions of one extension.
func (g *CapabilityGatekeeper) ForgetExtension(extensionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := strings.ToLower(extensionID)
	for k := range g.sessions {
		if k.extension == id {
			delete(g.sessions, k)
		}
	}
}

func (g *CapabilityGatekeeper) prompt(ctx context.Context, extensionID string, key decisionKey, op string) capabilities.Check {
	if g.prompter == nil || !g.prompter.IsInteractive() {
		slog.DebugContext(ctx, "prompt required but no interactive prompter",
			"extension", extensionID, "capability", key.capability)
		return capabilities.Check{Capability: key.capability, Decision: capabilities.Deny, Reason: capabilities.ReasonPromptUnavailable}
	}

	g.promptMu.Lock()
	defer g.promptMu.Unlock()

	// Another caller may have answered while we waited for the prompt slot.
	if allowed, ok := g.cached(key); ok {
		return sessionCheck(key.capability, allowed)
	}

	choice, err := g.prompter.Prompt(ctx, ports.PromptRequest{ExtensionID: extensionID, Capability: key.capability, Op: op})
	if err != nil {
		slog.WarnContext(ctx, "capability prompt failed", "extension", extensionID, "capability", key.capability, "error", err)
		return capabilities.Check{Capability: key.capability, Decision: capabilities.Deny, Reason: capabilities.ReasonPromptUnavailable}
	}

	g.remember(key, choice.Allowed())

	if choice.Persistent() && g.store != nil {
		decision := ports.DenyAlways
		if choice.Allowed() {
			decision = ports.AllowAlways
		}
		if err := g.store.Record(extensionID, key.capability, decision); err != nil {
			// The decision stays in session memory.
			slog.WarnContext(ctx, "failed to persist capability decision",
				"extension", extensionID, "capability", key.capability, "decision", decision, "error", err)
		}
	}

	reason := capabilities.ReasonPromptDeny
	decision := capabilities.Deny
	if choice.Allowed() {
		reason = capabilities.ReasonPromptAllow
		decision = capabilities.Allow
	}
	slog.InfoContext(ctx, "capability prompt answered",
		"extension", extensionID, "capability", key.capability, "choice", choice.String())
	return capabilities.Check{Capability: key.capability, Decision: decision, Reason: reason}
}

func (g *CapabilityGatekeeper) cached(key decisionKey) (bool, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	allowed, ok := g.sessions[key]
	return allowed, ok
}

func (g *CapabilityGatekeeper) remember(key decisionKey, allowed bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[key] = allowed
}

func persistedCheck(c capabilities.Capability, decision ports.PermissionDecision) capabilities.Check {
	if decision == ports.AllowAlways {
		return capabilities.Check{Capability: c, Decision: capabilities.Allow, Reason: capabilities.ReasonPermissionStore}
	}
	return capabilities.Check{Capability: c, Decision: capabilities.Deny, Reason: capabilities.ReasonPermissionStore}
}

func sessionCheck(c capabilities.Capability, allowed bool) capabilities.Check {
	if allowed {
		return capabilities.Check{Capability: c, Decision: capabilities.Allow, Reason: capabilities.ReasonSessionCache}
	}
	return capabilities.Check{Capability: c, Decision: capabilities.Deny, Reason: capabilities.ReasonSessionCache}
}

// StaticPolicy is a PolicySource over a fixed snapshot.
type StaticPolicy struct {
	policy *capabilities.Policy
}

// NewStaticPolicy wraps a snapshot.
func NewStaticPolicy(p *capabilities.Policy) StaticPolicy {
	return StaticPolicy{policy: p}
}

// Current implements ports.PolicySource.
func (s StaticPolicy) Current() *capabilities.Policy {
	return s.policy
}
