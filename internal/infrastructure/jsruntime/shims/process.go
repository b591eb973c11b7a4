package shims

import (
	"encoding/json"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/reglet-dev/extsandbox/internal/domain/hostcall"
)

// NodeVersion is the Node.js version extensions observe.
const NodeVersion = "v20.11.0"

// ExitCode is the error code thrown by process.exit.
const ExitCode = "ERR_PROCESS_EXIT"

type envArgs struct {
	Name string `json:"name"`
}

type logArgs struct {
	Level   string         `json:"level,omitempty"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

type emitArgs struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data,omitempty"`
}

// envObject backs process.env. Reads go through env.get; writes and
// deletes are accepted and dropped.
type envObject struct {
	h Host
}

func (e *envObject) Get(key string) goja.Value {
	out := e.h.CallSync(hostcall.OpEnvGet, envArgs{Name: key})
	if !out.OK {
		return goja.Undefined()
	}
	var v struct {
		Value *string `json:"value"`
	}
	if err := out.Decode(&v); err != nil || v.Value == nil {
		return goja.Undefined()
	}
	return e.h.VM().ToValue(*v.Value)
}

func (e *envObject) Set(string, goja.Value) bool { return true }

func (e *envObject) Has(key string) bool {
	return !goja.IsUndefined(e.Get(key))
}

func (e *envObject) Delete(string) bool { return true }

// Keys is empty: variables are only readable by name, so the host
// environment cannot be enumerated.
func (e *envObject) Keys() []string {
	return []string{}
}

func newProcess(h Host) (goja.Value, error) {
	vm := h.VM()
	start := time.Now()
	binding := vm.NewObject()

	_ = binding.Set("env", vm.NewDynamicObject(&envObject{h: h}))
	_ = binding.Set("cwd", h.Root())
	_ = binding.Set("entry", h.EntryPath())
	_ = binding.Set("arch", nodeArch(runtime.GOARCH))
	_ = binding.Set("version", NodeVersion)
	_ = binding.Set("extension", h.ExtensionID())

	// write(stream, text) forwards stdout/stderr output to the log op.
	_ = binding.Set("write", func(stream, text string) {
		level := "info"
		if stream == "stderr" {
			level = "warn"
		}
		text = strings.TrimSuffix(text, "\n")
		if text == "" {
			return
		}
		h.CallAsync(hostcall.OpLog, logArgs{Level: level, Message: text, Attrs: map[string]any{"stream": stream}}, nil)
	})
	_ = binding.Set("emitExit", func(code int) {
		data, _ := json.Marshal(map[string]int{"code": code})
		h.CallAsync(hostcall.OpEventsEmit, emitArgs{Name: "exit", Data: data}, nil)
	})
	_ = binding.Set("exitError", func(code int) *goja.Object {
		err := NewCodedError(vm, ExitCode, "process.exit("+strconv.Itoa(code)+") called")
		_ = err.Set("exitCode", code)
		return err
	})
	_ = binding.Set("notSupported", func(name string) *goja.Object {
		err := NewCodedError(vm, "ENOSYS", "ENOSYS: function not implemented, "+name)
		_ = err.Set("errno", "ENOSYS")
		return err
	})
	_ = binding.Set("hrtime", func() []int64 {
		d := time.Since(start)
		return []int64{int64(d / time.Second), int64(d % time.Second)}
	})
	_ = binding.Set("uptime", func() float64 {
		return time.Since(start).Seconds()
	})
	_ = binding.Set("memoryUsage", func() map[string]uint64 {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		return map[string]uint64{"rss": m.Sys, "heapTotal": m.HeapSys, "heapUsed": m.HeapAlloc, "external": 0}
	})

	return evalJS(h, "process", binding)
}
