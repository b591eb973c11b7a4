package hostfuncs

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/reglet-dev/extsandbox/internal/application/ports"
	"github.com/reglet-dev/extsandbox/internal/domain/capabilities"
	"github.com/reglet-dev/extsandbox/internal/domain/hostcall"
)

// DefaultMaxOutputSize bounds captured stdout and stderr.
const DefaultMaxOutputSize = 10 * 1024 * 1024

// waitDelay bounds how long Wait blocks on I/O after the process is killed.
const waitDelay = 2 * time.Second

// ExecArgs runs one process.
type ExecArgs struct {
	Command string            `json:"command" validate:"required"`
	Args    []string          `json:"args,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Input   string            `json:"input,omitempty"`
	// Shell runs Command through /bin/sh -c.
	Shell bool `json:"shell,omitempty"`
}

// ExecResult is the value of a finished process. A non-zero exit is a
// result, not an error.
type ExecResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	Code       int    `json:"code"`
	Truncated  bool   `json:"truncated,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Executor runs processes for the exec op.
type Executor struct {
	MaxOutputSize int
}

// Operation returns the exec op.
func (e *Executor) Operation(timeout time.Duration) Operation {
	return NewOperation(hostcall.OpExec, timeout, Requires[ExecArgs](capabilities.Exec), e.run)
}

func (e *Executor) run(ctx context.Context, scope *ports.CallScope, args ExecArgs) (any, error) {
	return e.Run(ctx, scope.ExtensionID, scope.Root, args)
}

// Run executes a process with an explicit, empty-by-default environment in
// its own process group. On cancellation the whole group is killed and the
// process is reaped before Run returns.
func (e *Executor) Run(ctx context.Context, extensionID, root string, args ExecArgs) (*ExecResult, error) {
	command, argv := args.Command, args.Args
	if args.Shell {
		command, argv = "/bin/sh", []string{"-c", joinShell(args.Command, args.Args)}
	}

	dir, err := execDir(root, args.Cwd)
	if err != nil {
		return nil, err
	}

	if kind := detectExecutionType(command, argv); kind != execTypeSafe {
		slog.WarnContext(ctx, "elevated execution requested",
			"extension", extensionID, "command", command, "type", string(kind))
	}

	//nolint:gosec // G204: the exec capability gates this call; no implicit shell
	cmd := exec.CommandContext(ctx, command, argv...)
	cmd.Dir = dir
	// SECURITY: Always set cmd.Env explicitly to prevent host environment leakage
	cmd.Env = envList(args.Env)
	if args.Input != "" {
		cmd.Stdin = strings.NewReader(args.Input)
	}
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = waitDelay

	limit := e.MaxOutputSize
	if limit <= 0 {
		limit = DefaultMaxOutputSize
	}
	stdout := NewBoundedBuffer(limit)
	stderr := NewBoundedBuffer(limit)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	if ctx.Err() != nil {
		return nil, hostcall.Errorf(hostcall.CodeTimeout, "exec %s: killed after %s: %v", command, duration.Round(time.Millisecond), ctx.Err())
	}

	result := &ExecResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		Truncated:  stdout.Truncated() || stderr.Truncated(),
		DurationMs: duration.Milliseconds(),
	}
	if result.Truncated {
		slog.WarnContext(ctx, "command output truncated", "extension", extensionID, "command", command)
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, hostcall.Errorf(hostcall.CodeIO, "exec %s: %v", command, runErr)
		}
		result.Code = exitErr.ExitCode()
	}

	slog.DebugContext(ctx, "executed command",
		"extension", extensionID, "command", command, "exit_code", result.Code, "duration", duration)
	return result, nil
}

// execDir resolves the working directory. It must stay inside the root.
func execDir(root, cwd string) (string, error) {
	if cwd == "" {
		return root, nil
	}
	dir := cwd
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	dir = filepath.Clean(dir)
	if !underRoot(root, dir) {
		return "", hostcall.Errorf(hostcall.CodeDenied, "cwd %s is outside the extension root", cwd)
	}

	// Symlinks inside the root may still point out of it.
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "", hostcall.Errorf(hostcall.CodeIO, "cwd %s: %v", cwd, err)
	}
	canonicalRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		canonicalRoot = root
	}
	if !underRoot(canonicalRoot, resolved) {
		return "", hostcall.Errorf(hostcall.CodeDenied, "cwd %s is outside the extension root", cwd)
	}
	return resolved, nil
}

func underRoot(root, dir string) bool {
	rel, err := filepath.Rel(root, dir)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func joinShell(command string, args []string) string {
	if len(args) == 0 {
		return command
	}
	quoted := make([]string, 0, len(args)+1)
	quoted = append(quoted, command)
	for _, a := range args {
		quoted = append(quoted, "'"+strings.ReplaceAll(a, "'", `'\''`)+"'")
	}
	return strings.Join(quoted, " ")
}

// BoundedBuffer is a bytes.Buffer wrapper that limits the size of written
// data. It is safe for concurrent writes.
type BoundedBuffer struct {
	mu        sync.Mutex
	buffer    bytes.Buffer
	limit     int
	truncated bool
}

// NewBoundedBuffer creates a new BoundedBuffer with the specified limit.
func NewBoundedBuffer(limit int) *BoundedBuffer {
	return &BoundedBuffer{limit: limit}
}

// Write implements io.Writer. It never reports a short write.
func (b *BoundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	remaining := b.limit - b.buffer.Len()
	if remaining <= 0 {
		if len(p) > 0 {
			b.truncated = true
		}
		return len(p), nil
	}
	if len(p) > remaining {
		b.truncated = true
		_, _ = b.buffer.Write(p[:remaining])
		return len(p), nil
	}
	return b.buffer.Write(p)
}

// String returns the buffer contents as a string.
func (b *BoundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffer.String()
}

// Truncated reports whether data was dropped.
func (b *BoundedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

// executionType represents the type of command execution.
type executionType string

const (
	execTypeSafe        executionType = "safe"
	execTypeShell       executionType = "shell"
	execTypeInterpreter executionType = "interpreter code execution"
)

var shells = map[string]bool{"sh": true, "bash": true, "dash": true, "zsh": true, "ksh": true, "csh": true, "tcsh": true, "fish": true}

// interpreterEvalFlags lists the flags that make an interpreter run inline code.
var interpreterEvalFlags = map[string][]string{
	"python": {"-c"}, "python3": {"-c"},
	"perl": {"-e", "-E"},
	"ruby": {"-e"},
	"node": {"-e", "--eval"}, "nodejs": {"-e", "--eval"},
	"php": {"-r"},
	"lua": {"-e"},
}

// detectExecutionType determines if the command runs arbitrary code.
func detectExecutionType(command string, args []string) executionType {
	base := filepath.Base(command)
	if shells[base] && len(args) > 0 {
		return execTypeShell
	}
	for _, arg := range args {
		for _, flag := range interpreterEvalFlags[base] {
			if arg == flag || strings.HasPrefix(arg, flag+"=") {
				return execTypeInterpreter
			}
		}
	}
	return execTypeSafe
}
