package hostfuncs

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/reglet-dev/extsandbox/internal/application/ports"
	"github.com/reglet-dev/extsandbox/internal/domain/capabilities"
	"github.com/reglet-dev/extsandbox/internal/domain/hostcall"
)

// ToolArgs invokes a host tool by name.
type ToolArgs struct {
	Name  string          `json:"name" validate:"required"`
	Input json.RawMessage `json:"input,omitempty"`
}

type toolPathInput struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	OldText string `json:"oldText"`
	NewText string `json:"newText"`
}

type toolBashInput struct {
	Command string `json:"command"`
}

// Tools serves the tool op. read, ls, write and edit run against the sandbox
// filesystem and bash runs through the executor; every other name goes to
// the host.
type Tools struct {
	Executor *Executor
	Host     ports.ToolHost
}

// Operation returns the tool op.
func (t *Tools) Operation(timeout time.Duration) Operation {
	return NewOperation(hostcall.OpTool, timeout, func(a ToolArgs) capabilities.Capability {
		return hostcall.ToolCapability(a.Name)
	}, t.run)
}

func (t *Tools) run(ctx context.Context, scope *ports.CallScope, args ToolArgs) (any, error) {
	name := strings.ToLower(strings.TrimSpace(args.Name))
	switch name {
	case "read", "ls", "write", "edit":
		var in toolPathInput
		if err := decodeArgs(args.Input, &in); err != nil {
			return nil, err
		}
		return t.fileTool(scope, name, in)
	case "bash":
		var in toolBashInput
		if err := decodeArgs(args.Input, &in); err != nil {
			return nil, err
		}
		if strings.TrimSpace(in.Command) == "" {
			return nil, hostcall.Errorf(hostcall.CodeInvalidRequest, "bash: command is required")
		}
		exe := t.Executor
		if exe == nil {
			exe = &Executor{}
		}
		return exe.Run(ctx, scope.ExtensionID, scope.Root, ExecArgs{Command: in.Command, Shell: true})
	}

	if t.Host == nil {
		return nil, hostcall.Errorf(hostcall.CodeInvalidRequest, "tool %q is not available", args.Name)
	}
	input := args.Input
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	out, err := t.Host.Invoke(ctx, args.Name, input)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (t *Tools) fileTool(scope *ports.CallScope, name string, in toolPathInput) (any, error) {
	fsys, err := scopeFS(scope)
	if err != nil {
		return nil, err
	}
	if in.Path == "" {
		if name != "ls" {
			return nil, hostcall.Errorf(hostcall.CodeInvalidRequest, "%s: path is required", name)
		}
		in.Path = "."
	}

	switch name {
	case "read":
		data, err := fsys.Read(in.Path)
		if err != nil {
			return nil, fsError(err)
		}
		return map[string]string{"content": string(data)}, nil
	case "ls":
		entries, err := fsys.List(in.Path)
		if err != nil {
			return nil, fsError(err)
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.IsDir {
				names = append(names, e.Name+"/")
			} else {
				names = append(names, e.Name)
			}
		}
		return map[string][]string{"entries": names}, nil
	case "write":
		if err := fsys.Write(in.Path, []byte(in.Content)); err != nil {
			return nil, fsError(err)
		}
		return map[string]int{"bytes": len(in.Content)}, nil
	default: // edit
		data, err := fsys.Read(in.Path)
		if err != nil {
			return nil, fsError(err)
		}
		content := string(data)
		switch n := strings.Count(content, in.OldText); {
		case in.OldText == "":
			return nil, hostcall.Errorf(hostcall.CodeInvalidRequest, "edit: oldText is required")
		case n == 0:
			return nil, hostcall.Errorf(hostcall.CodeInvalidRequest, "edit: oldText not found in %s", in.Path)
		case n > 1:
			return nil, hostcall.Errorf(hostcall.CodeInvalidRequest, "edit: oldText matches %d times in %s", n, in.Path)
		}
		updated := strings.Replace(content, in.OldText, in.NewText, 1)
		if err := fsys.Write(in.Path, []byte(updated)); err != nil {
			return nil, fsError(err)
		}
		return map[string]int{"replacements": 1}, nil
	}
}
