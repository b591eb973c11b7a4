// Package ports defines interfaces for infrastructure dependencies.
// These are the "ports" in hexagonal architecture - abstractions that
// the application layer depends on but doesn't implement.
package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/reglet-dev/extsandbox/internal/domain/capabilities"
	"github.com/reglet-dev/extsandbox/internal/domain/entities"
	"github.com/reglet-dev/extsandbox/internal/domain/hostcall"
	"github.com/reglet-dev/extsandbox/internal/domain/values"
)

// PolicySource hands out the current immutable policy snapshot.
type PolicySource interface {
	Current() *capabilities.Policy
}

// Authorizer resolves a capability request for one hostcall, including the
// permission store and interactive prompting layered above the pure policy.
type Authorizer interface {
	Authorize(ctx context.Context, extensionID string, capability capabilities.Capability, op string) capabilities.Check
}

// Dispatcher is the single hostcall boundary.
type Dispatcher interface {
	Dispatch(ctx context.Context, scope *CallScope, req hostcall.Request) hostcall.Outcome
}

// CallScope carries the per-extension state a hostcall operates on.
type CallScope struct {
	ExtensionID string
	Root        string
	Budget      *hostcall.Budget
	FS          FileSystem
	// Session resolves the attached session, if the extension is Active.
	Session func() (Session, bool)
}

// FileInfo describes a file or directory seen through the sandbox filesystem.
type FileInfo struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	IsDir   bool      `json:"isDirectory"`
	ModTime time.Time `json:"mtime"`
	// Source is "vfs" for in-memory nodes and "host" for fallback reads.
	Source string `json:"source"`
}

// FileSystem is the sandbox filesystem of one extension runtime.
type FileSystem interface {
	Read(path string) ([]byte, error)
	Write(path string, data []byte) error
	Append(path string, data []byte) error
	Mkdir(path string, recursive bool) error
	Remove(path string, recursive bool) error
	List(path string) ([]FileInfo, error)
	Stat(path string) (FileInfo, error)
}

// FileSystemFactory creates a fresh sandbox filesystem rooted at a directory.
type FileSystemFactory func(root string) (FileSystem, error)

// PermissionDecision is a persisted operator answer.
type PermissionDecision string

const (
	AllowAlways PermissionDecision = "allow_always"
	DenyAlways  PermissionDecision = "deny_always"
)

// PermissionRecord is one persisted decision.
type PermissionRecord struct {
	ExtensionID string                  `json:"extension_id"`
	Capability  capabilities.Capability `json:"capability"`
	Decision    PermissionDecision      `json:"decision"`
}

// PermissionStore persists decisions keyed by (extension, capability).
type PermissionStore interface {
	Lookup(extensionID string, capability capabilities.Capability) (PermissionDecision, bool)
	Record(extensionID string, capability capabilities.Capability, decision PermissionDecision) error
	RevokeExtension(extensionID string) error
	Reset() error
	List() []PermissionRecord
}

// PromptChoice is the operator's answer to a capability prompt.
type PromptChoice int

const (
	PromptDenyOnce PromptChoice = iota
	PromptAllowOnce
	PromptAllowAlways
	PromptDenyAlways
)

func (c PromptChoice) String() string {
	switch c {
	case PromptAllowOnce:
		return "Allow Once"
	case PromptAllowAlways:
		return "Allow Always"
	case PromptDenyOnce:
		return "Deny Once"
	case PromptDenyAlways:
		return "Deny Always"
	default:
		return "unknown"
	}
}

// Allowed reports whether the choice grants the capability.
func (c PromptChoice) Allowed() bool {
	return c == PromptAllowOnce || c == PromptAllowAlways
}

// Persistent reports whether the choice should be stored.
func (c PromptChoice) Persistent() bool {
	return c == PromptAllowAlways || c == PromptDenyAlways
}

// PromptRequest describes what the operator is asked to approve.
type PromptRequest struct {
	ExtensionID string
	Capability  capabilities.Capability
	Op          string
}

// Prompter asks the operator to resolve a Prompt decision.
type Prompter interface {
	IsInteractive() bool
	Prompt(ctx context.Context, req PromptRequest) (PromptChoice, error)
}

// SessionEntry is one entry of the conversation session.
type SessionEntry struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Timestamp  time.Time       `json:"timestamp"`
	Role       string          `json:"role,omitempty"`
	Content    string          `json:"content,omitempty"`
	TargetID   string          `json:"targetId,omitempty"`
	Label      string          `json:"label,omitempty"`
	CustomType string          `json:"customType,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Session is the conversation collaborator. Implementations serialize their
// own mutations.
type Session interface {
	Entries() []SessionEntry
	// AddLabel returns false when the target entry does not exist.
	AddLabel(targetID, label string) bool
	AppendCustomEntry(customType string, data json.RawMessage) (string, error)
}

// UI is the interactive surface extensions may reach through ui.* ops.
type UI interface {
	Notify(ctx context.Context, extensionID, message, level string) error
	Confirm(ctx context.Context, extensionID, title, message string) (bool, error)
}

// EventSink receives events emitted by extensions.
type EventSink interface {
	Publish(ctx context.Context, extensionID, name string, data json.RawMessage) error
}

// ToolHost runs host tools that are not served by the sandbox itself.
type ToolHost interface {
	Invoke(ctx context.Context, name string, input json.RawMessage) (json.RawMessage, error)
}

// AuditRecord is one entry of the append-only audit stream.
type AuditRecord struct {
	ExtensionID string    `json:"extension_id"`
	Op          string    `json:"op"`
	OutcomeCode string    `json:"outcome_code"`
	ElapsedMS   int64     `json:"elapsed_ms"`
	Timestamp   time.Time `json:"timestamp"`
	Message     string    `json:"message,omitempty"`
}

// AuditSink accepts audit records. Record must never block.
type AuditSink interface {
	Record(rec AuditRecord)
}

// DeclarationValidator checks a raw registration payload.
type DeclarationValidator interface {
	ValidateDeclaration(raw json.RawMessage) (entities.Declaration, error)
}

// LoadSpec identifies the guest code to load.
type LoadSpec struct {
	ID        values.ExtensionID
	EntryPath string
	Root      string
}

// Host is what a runtime reaches through its handle.
type Host interface {
	Dispatch(ctx context.Context, req hostcall.Request) hostcall.Outcome
}

// HostHandle is a non-owning reference from a runtime to its manager.
// Resolve fails once the extension has shut down.
type HostHandle interface {
	Resolve() (Host, bool)
}

// GuestRuntime is one sandboxed engine instance.
type GuestRuntime interface {
	// Start evaluates the entry module and returns the raw registration
	// payload once the guest registers.
	Start(ctx context.Context) (json.RawMessage, error)
	InvokeTool(ctx context.Context, name string, input json.RawMessage) (json.RawMessage, error)
	RunCommand(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error)
	// InvokeHook calls the handler of the index-th declared event hook.
	InvokeHook(ctx context.Context, index int, event entities.EventName, payload json.RawMessage) (*entities.HookResult, error)
	// Drain waits until no hostcalls or timers are outstanding.
	Drain(ctx context.Context) error
	Close() error
}

// RuntimeFactory creates guest runtimes.
type RuntimeFactory interface {
	NewRuntime(spec LoadSpec, handle HostHandle) (GuestRuntime, error)
}
