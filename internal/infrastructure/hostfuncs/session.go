package hostfuncs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/reglet-dev/extsandbox/internal/application/ports"
	"github.com/reglet-dev/extsandbox/internal/domain/capabilities"
	"github.com/reglet-dev/extsandbox/internal/domain/hostcall"
)

// SessionEntriesArgs lists entries.
type SessionEntriesArgs struct {
	Type string `json:"type,omitempty"`
}

// AddLabelArgs labels an existing entry.
type AddLabelArgs struct {
	TargetID string `json:"target_id" validate:"required"`
	Label    string `json:"label"`
}

// AppendEntryArgs appends a custom entry.
type AppendEntryArgs struct {
	CustomType string          `json:"custom_type" validate:"required"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// SessionOperations returns the session ops.
func SessionOperations(timeout time.Duration) []Operation {
	return []Operation{
		NewOperation(hostcall.OpSessionList, timeout, Requires[SessionEntriesArgs](capabilities.Session), sessionEntries),
		NewOperation(hostcall.OpSessionLabel, timeout, Requires[AddLabelArgs](capabilities.Session), sessionAddLabel),
		NewOperation(hostcall.OpSessionAppend, timeout, Requires[AppendEntryArgs](capabilities.Session), sessionAppend),
	}
}

// attachedSession returns the session of an Active extension.
func attachedSession(scope *ports.CallScope) (ports.Session, error) {
	if scope.Session != nil {
		if s, ok := scope.Session(); ok && s != nil {
			return s, nil
		}
	}
	return nil, hostcall.Errorf(hostcall.CodeInvalidRequest, "no session attached to extension %s", scope.ExtensionID)
}

func sessionEntries(_ context.Context, scope *ports.CallScope, args SessionEntriesArgs) (any, error) {
	s, err := attachedSession(scope)
	if err != nil {
		return nil, err
	}
	entries := s.Entries()
	out := make([]ports.SessionEntry, 0, len(entries))
	for _, e := range entries {
		if args.Type == "" || e.Type == args.Type {
			out = append(out, e)
		}
	}
	return out, nil
}

func sessionAddLabel(_ context.Context, scope *ports.CallScope, args AddLabelArgs) (any, error) {
	s, err := attachedSession(scope)
	if err != nil {
		return nil, err
	}
	if !s.AddLabel(args.TargetID, args.Label) {
		return nil, hostcall.Errorf(hostcall.CodeInvalidRequest, "session entry %s not found", args.TargetID)
	}
	return map[string]bool{"labeled": true}, nil
}

func sessionAppend(_ context.Context, scope *ports.CallScope, args AppendEntryArgs) (any, error) {
	s, err := attachedSession(scope)
	if err != nil {
		return nil, err
	}
	id, err := s.AppendCustomEntry(args.CustomType, args.Data)
	if err != nil {
		return nil, hostcall.Errorf(hostcall.CodeIO, "append session entry: %v", err)
	}
	return map[string]string{"id": id}, nil
}
