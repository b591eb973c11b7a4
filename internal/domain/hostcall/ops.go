package hostcall

import (
	"strings"

	"github.com/reglet-dev/extsandbox/internal/domain/capabilities"
)

// Operation names understood by the dispatcher.
const (
	OpFSRead        = "fs.read"
	OpFSStat        = "fs.stat"
	OpFSList        = "fs.list"
	OpFSExists      = "fs.exists"
	OpFSWrite       = "fs.write"
	OpFSAppend      = "fs.append"
	OpFSMkdir       = "fs.mkdir"
	OpFSRemove      = "fs.remove"
	OpExec          = "exec"
	OpHTTPRequest   = "http.request"
	OpEnvGet        = "env.get"
	OpSessionList   = "session.entries"
	OpSessionLabel  = "session.add_label"
	OpSessionAppend = "session.append_entry"
	OpUINotify      = "ui.notify"
	OpUIConfirm     = "ui.confirm"
	OpEventsEmit    = "events.emit"
	OpLog           = "log"
	OpTool          = "tool"
)

// ToolCapability maps a host tool name onto the capability it needs.
func ToolCapability(name string) capabilities.Capability {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "read", "grep", "find", "ls":
		return capabilities.Read
	case "write", "edit":
		return capabilities.Write
	case "bash":
		return capabilities.Exec
	default:
		return capabilities.Tool
	}
}
