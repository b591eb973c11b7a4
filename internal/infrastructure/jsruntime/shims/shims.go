// Package shims implements the Node.js module subset offered to extensions.
// Pure-computation modules run in process; every resource module goes
// through the hostcall boundary of its Host.
package shims

import (
	"embed"
	"fmt"
	"sort"
	"strings"

	"github.com/dop251/goja"

	"github.com/reglet-dev/extsandbox/internal/domain/hostcall"
)

//go:embed js/*.js
var jsSources embed.FS

// Level describes how much of a Node module a shim covers.
type Level string

const (
	LevelFull    Level = "full"
	LevelPartial Level = "partial"
	LevelStub    Level = "stub"
)

// Host is the runtime surface shims are built on. Every method must be
// called on the loop goroutine that owns VM.
type Host interface {
	VM() *goja.Runtime
	ExtensionID() string
	// Root is the extension root, reported as the working directory.
	Root() string
	// EntryPath is the absolute path of the entry module.
	EntryPath() string
	// Require resolves a module the way guest code would.
	Require(specifier string) (goja.Value, error)
	// Compile returns a cached program for src.
	Compile(name, src string) (*goja.Program, error)
	// CallSync issues a hostcall and blocks the loop until it completes.
	CallSync(op string, args any) hostcall.Outcome
	// CallAsync issues a hostcall. done runs on the loop after completion.
	CallAsync(op string, args any, done func(hostcall.Outcome))
}

// Module is one built-in module.
type Module struct {
	Name  string
	Level Level
	New   func(h Host) (goja.Value, error)
}

var builtins = map[string]Module{
	"path":           {Name: "path", Level: LevelFull, New: newPath},
	"url":            {Name: "url", Level: LevelFull, New: newURL},
	"events":         {Name: "events", Level: LevelFull, New: jsModule("events")},
	"buffer":         {Name: "buffer", Level: LevelPartial, New: newBuffer},
	"util":           {Name: "util", Level: LevelPartial, New: jsModule("util")},
	"fs":             {Name: "fs", Level: LevelPartial, New: newFS},
	"fs/promises":    {Name: "fs/promises", Level: LevelPartial, New: newFSPromises},
	"child_process":  {Name: "child_process", Level: LevelPartial, New: newChildProcess},
	"http":           {Name: "http", Level: LevelPartial, New: newHTTP("http:")},
	"https":          {Name: "https", Level: LevelPartial, New: newHTTP("https:")},
	"os":             {Name: "os", Level: LevelPartial, New: newOS},
	"process":        {Name: "process", Level: LevelPartial, New: newProcess},
	"crypto":         {Name: "crypto", Level: LevelPartial, New: newCrypto},
	"stream":         {Name: "stream", Level: LevelStub, New: jsModule("stream")},
	"readline":       {Name: "readline", Level: LevelStub, New: newStub("readline")},
	"net":            {Name: "net", Level: LevelStub, New: newStub("net")},
	"tls":            {Name: "tls", Level: LevelStub, New: newStub("tls")},
	"zlib":           {Name: "zlib", Level: LevelStub, New: newStub("zlib")},
	"worker_threads": {Name: "worker_threads", Level: LevelStub, New: newStub("worker_threads")},
}

// Lookup finds a built-in module. The "node:" prefix is accepted.
func Lookup(specifier string) (Module, bool) {
	m, ok := builtins[strings.TrimPrefix(specifier, "node:")]
	return m, ok
}

// Builtins lists every built-in module by name.
func Builtins() []Module {
	out := make([]Module, 0, len(builtins))
	for _, m := range builtins {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// jsModule evaluates an embedded CommonJS source as a module. The source
// sees exports, module, require and binding.
func jsModule(name string) func(Host) (goja.Value, error) {
	return func(h Host) (goja.Value, error) {
		return evalJS(h, name, nil)
	}
}

func evalJS(h Host, name string, binding *goja.Object) (goja.Value, error) {
	src, err := jsSources.ReadFile("js/" + name + ".js")
	if err != nil {
		return nil, fmt.Errorf("shim %s: %w", name, err)
	}

	wrapped := "(function (exports, module, require, binding) {" + string(src) + "\n})"
	prog, err := h.Compile("node:"+name, wrapped)
	if err != nil {
		return nil, fmt.Errorf("shim %s: %w", name, err)
	}

	vm := h.VM()
	fnValue, err := vm.RunProgram(prog)
	if err != nil {
		return nil, fmt.Errorf("shim %s: %w", name, err)
	}
	fn, ok := goja.AssertFunction(fnValue)
	if !ok {
		return nil, fmt.Errorf("shim %s: wrapper is not a function", name)
	}

	module := vm.NewObject()
	exports := vm.NewObject()
	_ = module.Set("exports", exports)

	var bindingValue goja.Value = goja.Undefined()
	if binding != nil {
		bindingValue = binding
	}
	if _, err := fn(goja.Undefined(), exports, module, requireFunc(h), bindingValue); err != nil {
		return nil, fmt.Errorf("shim %s: %w", name, err)
	}
	return module.Get("exports"), nil
}

func requireFunc(h Host) goja.Value {
	vm := h.VM()
	return vm.ToValue(func(call goja.FunctionCall) goja.Value {
		v, err := h.Require(call.Argument(0).String())
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return v
	})
}
