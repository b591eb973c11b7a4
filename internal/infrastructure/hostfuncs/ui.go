package hostfuncs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/reglet-dev/extsandbox/internal/application/ports"
	"github.com/reglet-dev/extsandbox/internal/domain/capabilities"
	"github.com/reglet-dev/extsandbox/internal/domain/hostcall"
)

// NotifyArgs shows a notification.
type NotifyArgs struct {
	Message string `json:"message" validate:"required"`
	Level   string `json:"level,omitempty" validate:"omitempty,oneof=info warning error success"`
}

// ConfirmArgs asks a yes/no question.
type ConfirmArgs struct {
	Title   string `json:"title" validate:"required"`
	Message string `json:"message,omitempty"`
}

// EmitArgs publishes an event.
type EmitArgs struct {
	Name string          `json:"name" validate:"required"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Collaborators are the host-side surfaces reached by ui.* and events.*.
// Missing collaborators degrade to logging.
type Collaborators struct {
	UI     ports.UI
	Events ports.EventSink
}

// Operations returns the ui and events ops.
func (c Collaborators) Operations(timeout, confirmTimeout time.Duration) []Operation {
	return []Operation{
		NewOperation(hostcall.OpUINotify, timeout, Requires[NotifyArgs](capabilities.UI), c.notify),
		NewOperation(hostcall.OpUIConfirm, confirmTimeout, Requires[ConfirmArgs](capabilities.UI), c.confirm),
		NewOperation(hostcall.OpEventsEmit, timeout, Requires[EmitArgs](capabilities.Events), c.emit),
	}
}

func (c Collaborators) notify(ctx context.Context, scope *ports.CallScope, args NotifyArgs) (any, error) {
	level := args.Level
	if level == "" {
		level = "info"
	}
	if c.UI == nil {
		slog.InfoContext(ctx, "extension notification", "extension", scope.ExtensionID, "level", level, "message", args.Message)
		return nil, nil
	}
	if err := c.UI.Notify(ctx, scope.ExtensionID, args.Message, level); err != nil {
		return nil, err
	}
	return nil, nil
}

func (c Collaborators) confirm(ctx context.Context, scope *ports.CallScope, args ConfirmArgs) (any, error) {
	if c.UI == nil {
		return map[string]bool{"confirmed": false}, nil
	}
	ok, err := c.UI.Confirm(ctx, scope.ExtensionID, args.Title, args.Message)
	if err != nil {
		return nil, err
	}
	return map[string]bool{"confirmed": ok}, nil
}

func (c Collaborators) emit(ctx context.Context, scope *ports.CallScope, args EmitArgs) (any, error) {
	if c.Events == nil {
		slog.DebugContext(ctx, "extension event", "extension", scope.ExtensionID, "name", args.Name)
		return nil, nil
	}
	if err := c.Events.Publish(ctx, scope.ExtensionID, args.Name, args.Data); err != nil {
		return nil, err
	}
	return nil, nil
}
