// Package capabilities defines the capability vocabulary and the pure policy
// evaluation that gates every hostcall issued by an extension.
package capabilities

import (
	"sort"
	"strings"
)

// Capability names a class of host-mediated effect. Capabilities are flat:
// there is no hierarchy and matching is by exact string after normalization.
type Capability string

// Known capabilities.
const (
	Read    Capability = "read"
	Write   Capability = "write"
	HTTP    Capability = "http"
	Events  Capability = "events"
	Session Capability = "session"
	UI      Capability = "ui"
	Exec    Capability = "exec"
	Env     Capability = "env"
	Tool    Capability = "tool"
	Log     Capability = "log"
)

var known = []Capability{Read, Write, HTTP, Events, Session, UI, Exec, Env, Tool, Log}

// Dangerous lists the capabilities that are denied by default unless the
// operator opts in with allow_dangerous.
var Dangerous = []Capability{Exec, Env}

// RiskLevel represents the security risk level of a capability.
type RiskLevel int

const (
	// RiskLevelLow covers effects confined to the sandbox or the session.
	RiskLevelLow RiskLevel = iota
	// RiskLevelMedium covers effects that reach the network or real files.
	RiskLevelMedium
	// RiskLevelHigh covers arbitrary code execution and secret exposure.
	RiskLevelHigh
)

// String returns a human-readable representation of the risk level.
func (r RiskLevel) String() string {
	switch r {
	case RiskLevelLow:
		return "low"
	case RiskLevelMedium:
		return "medium"
	case RiskLevelHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Parse normalizes a raw capability string. Parsing never fails; an empty
// result is reported by IsEmpty and denied by the policy.
func Parse(raw string) Capability {
	return Capability(strings.ToLower(strings.TrimSpace(raw)))
}

// Known returns every capability the host understands, sorted.
func Known() []Capability {
	out := make([]Capability, len(known))
	copy(out, known)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// String returns the capability name.
func (c Capability) String() string {
	return string(c)
}

// IsEmpty reports whether the capability is blank after normalization.
func (c Capability) IsEmpty() bool {
	return strings.TrimSpace(string(c)) == ""
}

// IsKnown reports whether the host recognizes the capability.
func (c Capability) IsKnown() bool {
	for _, k := range known {
		if k == c {
			return true
		}
	}
	return false
}

// IsDangerous reports whether the capability is in the dangerous set.
func (c Capability) IsDangerous() bool {
	for _, d := range Dangerous {
		if d == c {
			return true
		}
	}
	return false
}

// Risk classifies the capability.
func (c Capability) Risk() RiskLevel {
	switch c {
	case Exec, Env:
		return RiskLevelHigh
	case HTTP, Read, Tool:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

// RiskDescription explains what granting the capability exposes.
func (c Capability) RiskDescription() string {
	switch c {
	case Exec:
		return "run arbitrary processes on the host"
	case Env:
		return "read host environment variables"
	case HTTP:
		return "make outbound network requests"
	case Read:
		return "read files inside the extension root"
	case Write:
		return "write files in the in-memory sandbox filesystem"
	case Tool:
		return "invoke host tools"
	case Session:
		return "read and annotate the conversation session"
	case Events:
		return "emit events to the host"
	case UI:
		return "show notifications and confirmations"
	case Log:
		return "write to the host log"
	default:
		return "unrecognized capability"
	}
}
