package entities

// EventName identifies a host lifecycle event delivered to extension hooks.
type EventName string

// Host events.
const (
	EventStartup             EventName = "startup"
	EventAgentStart          EventName = "agent_start"
	EventAgentEnd            EventName = "agent_end"
	EventTurnStart           EventName = "turn_start"
	EventTurnEnd             EventName = "turn_end"
	EventToolCall            EventName = "tool_call"
	EventToolResult          EventName = "tool_result"
	EventSessionBeforeSwitch EventName = "session_before_switch"
	EventSessionBeforeFork   EventName = "session_before_fork"
	EventInput               EventName = "input"
	EventShutdown            EventName = "shutdown"
)

var knownEvents = map[EventName]bool{
	EventStartup: true, EventAgentStart: true, EventAgentEnd: true,
	EventTurnStart: true, EventTurnEnd: true,
	EventToolCall: true, EventToolResult: true,
	EventSessionBeforeSwitch: true, EventSessionBeforeFork: true,
	EventInput: true, EventShutdown: true,
}

// IsKnown reports whether the host emits this event.
func (e EventName) IsKnown() bool {
	return knownEvents[e]
}

// Blockable reports whether a hook result may veto the event.
func (e EventName) Blockable() bool {
	switch e {
	case EventToolCall, EventInput, EventSessionBeforeSwitch, EventSessionBeforeFork:
		return true
	}
	return false
}

// HookResult is what a hook handler may return. Content is honoured only
// for input events, where it replaces the user's text.
type HookResult struct {
	Block   bool    `json:"block,omitempty"`
	Reason  string  `json:"reason,omitempty"`
	Content *string `json:"content,omitempty"`
}

// EventOutcome aggregates the hook results of one emitted event.
type EventOutcome struct {
	Event     EventName `json:"event"`
	Blocked   bool      `json:"blocked"`
	BlockedBy string    `json:"blocked_by,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Content   *string   `json:"content,omitempty"`
	// Errors maps extension id to the hook error it raised.
	Errors map[string]string `json:"errors,omitempty"`
}
