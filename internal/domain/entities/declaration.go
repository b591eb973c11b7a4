package entities

import (
	"fmt"
	"sort"
	"strings"

	"github.com/reglet-dev/extsandbox/internal/domain/capabilities"
)

// Declaration is what guest code passes to the registration call. Function
// valued members (tool executors, command and hook handlers) stay in the
// runtime; only their descriptive halves live here.
type Declaration struct {
	Name         string         `json:"name" jsonschema:"minLength=1"`
	Version      string         `json:"version" jsonschema:"minLength=1"`
	APIVersion   string         `json:"apiVersion" jsonschema:"minLength=1"`
	Description  string         `json:"description,omitempty"`
	Capabilities []string       `json:"capabilities,omitempty"`
	Tools        []ToolSpec     `json:"tools,omitempty"`
	Commands     []CommandSpec  `json:"commands,omitempty"`
	EventHooks   []HookSpec     `json:"eventHooks,omitempty"`
	Providers    []ProviderSpec `json:"providers,omitempty"`
}

// ToolSpec describes a tool the extension offers to the agent.
type ToolSpec struct {
	Name        string         `json:"name" jsonschema:"minLength=1,pattern=^[A-Za-z0-9_.-]+$"`
	Label       string         `json:"label,omitempty"`
	Description string         `json:"description" jsonschema:"minLength=1"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// CommandSpec describes a slash command.
type CommandSpec struct {
	Name        string `json:"name" jsonschema:"minLength=1,pattern=^[A-Za-z0-9_.:-]+$"`
	Description string `json:"description,omitempty"`
}

// HookSpec subscribes the extension to a host event. Filter is an optional
// expression evaluated against the event payload.
type HookSpec struct {
	Event  EventName `json:"event" jsonschema:"minLength=1"`
	Filter string    `json:"filter,omitempty"`
}

// ProviderSpec describes a model provider contributed by the extension.
type ProviderSpec struct {
	Name    string      `json:"name" jsonschema:"minLength=1"`
	BaseURL string      `json:"baseUrl,omitempty"`
	API     string      `json:"api,omitempty"`
	Models  []ModelSpec `json:"models,omitempty"`
}

// ModelSpec is one model offered by a provider.
type ModelSpec struct {
	ID            string `json:"id" jsonschema:"minLength=1"`
	Name          string `json:"name,omitempty"`
	ContextWindow int    `json:"contextWindow,omitempty" jsonschema:"minimum=0"`
	MaxTokens     int    `json:"maxTokens,omitempty" jsonschema:"minimum=0"`
}

// EntryKind tags a registry entry.
type EntryKind string

const (
	KindTool     EntryKind = "tool"
	KindCommand  EntryKind = "command"
	KindHook     EntryKind = "hook"
	KindProvider EntryKind = "provider"
)

// Entry is one tagged member of an extension's registry.
type Entry struct {
	Kind EntryKind
	Name string
}

func (e Entry) key() string {
	return string(e.Kind) + ":" + e.Name
}

// Validate checks the invariants a JSON schema cannot express: unique names
// per kind, known events and non-blank capabilities.
func (d Declaration) Validate() error {
	var problems []string

	seen := make(map[string]bool)
	for _, e := range d.Entries() {
		if e.Kind == KindHook {
			continue
		}
		if seen[e.key()] {
			problems = append(problems, fmt.Sprintf("duplicate %s %q", e.Kind, e.Name))
		}
		seen[e.key()] = true
	}

	for i, h := range d.EventHooks {
		if !h.Event.IsKnown() {
			problems = append(problems, fmt.Sprintf("eventHooks[%d]: unknown event %q", i, h.Event))
		}
	}

	for i, c := range d.Capabilities {
		if capabilities.Parse(c).IsEmpty() {
			problems = append(problems, fmt.Sprintf("capabilities[%d]: empty capability", i))
		}
	}

	if strings.TrimSpace(d.Name) == "" {
		problems = append(problems, "name is required")
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return &DeclarationError{Problems: problems}
	}
	return nil
}

// Entries returns the tagged registry view of the declaration.
func (d Declaration) Entries() []Entry {
	entries := make([]Entry, 0, len(d.Tools)+len(d.Commands)+len(d.EventHooks)+len(d.Providers))
	for _, t := range d.Tools {
		entries = append(entries, Entry{Kind: KindTool, Name: t.Name})
	}
	for _, c := range d.Commands {
		entries = append(entries, Entry{Kind: KindCommand, Name: c.Name})
	}
	for _, h := range d.EventHooks {
		entries = append(entries, Entry{Kind: KindHook, Name: string(h.Event)})
	}
	for _, p := range d.Providers {
		entries = append(entries, Entry{Kind: KindProvider, Name: p.Name})
	}
	return entries
}

// Tool looks up a tool by name.
func (d Declaration) Tool(name string) (ToolSpec, bool) {
	for _, t := range d.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return ToolSpec{}, false
}

// Command looks up a command by name.
func (d Declaration) Command(name string) (CommandSpec, bool) {
	for _, c := range d.Commands {
		if c.Name == name {
			return c, true
		}
	}
	return CommandSpec{}, false
}

// Hooks returns the hooks subscribed to an event, in declaration order.
func (d Declaration) Hooks(event EventName) []HookSpec {
	var out []HookSpec
	for _, h := range d.EventHooks {
		if h.Event == event {
			out = append(out, h)
		}
	}
	return out
}
