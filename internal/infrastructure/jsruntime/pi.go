package jsruntime

import (
	"fmt"
	"strconv"

	"github.com/dop251/goja"

	apperrors "github.com/reglet-dev/extsandbox/internal/application/errors"
	"github.com/reglet-dev/extsandbox/internal/domain/hostcall"
	"github.com/reglet-dev/extsandbox/internal/infrastructure/jsruntime/shims"
)

// handlers holds the function-valued halves of a registration, keyed the
// same way as the declaration.
type handlers struct {
	tools    map[string]goja.Callable
	commands map[string]goja.Callable
	hooks    []goja.Callable
}

func (h *handlers) tool(name string) (goja.Callable, bool) {
	fn, ok := h.tools[name]
	return fn, ok
}

func (h *handlers) command(name string) (goja.Callable, bool) {
	fn, ok := h.commands[name]
	return fn, ok
}

func (h *handlers) hook(index int) (goja.Callable, bool) {
	if index < 0 || index >= len(h.hooks) {
		return nil, false
	}
	return h.hooks[index], true
}

// collectHandlers extracts and checks the functions of a declaration.
func collectHandlers(vm *goja.Runtime, decl *goja.Object) (*handlers, []string) {
	h := &handlers{
		tools:    make(map[string]goja.Callable),
		commands: make(map[string]goja.Callable),
	}
	var problems []string

	each(vm, decl.Get("tools"), func(i int, item *goja.Object) {
		fn, ok := goja.AssertFunction(item.Get("execute"))
		if !ok {
			problems = append(problems, fmt.Sprintf("tools[%d].execute must be a function", i))
			return
		}
		h.tools[item.Get("name").String()] = fn
	})
	each(vm, decl.Get("commands"), func(i int, item *goja.Object) {
		fn, ok := goja.AssertFunction(item.Get("handler"))
		if !ok {
			problems = append(problems, fmt.Sprintf("commands[%d].handler must be a function", i))
			return
		}
		h.commands[item.Get("name").String()] = fn
	})
	each(vm, decl.Get("eventHooks"), func(i int, item *goja.Object) {
		fn, ok := goja.AssertFunction(item.Get("handler"))
		if !ok {
			problems = append(problems, fmt.Sprintf("eventHooks[%d].handler must be a function", i))
		}
		h.hooks = append(h.hooks, fn)
	})
	return h, problems
}

// each visits the object members of an array-like value.
func each(vm *goja.Runtime, v goja.Value, fn func(int, *goja.Object)) {
	if !shims.IsObject(v) {
		return
	}
	arr := v.ToObject(vm)
	n := int(arr.Get("length").ToInteger())
	for i := 0; i < n; i++ {
		if item, ok := arr.Get(strconv.Itoa(i)).(*goja.Object); ok {
			fn(i, item)
		}
	}
}

type toolCallArgs struct {
	Name  string `json:"name"`
	Input any    `json:"input,omitempty"`
}

type execCallArgs struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Input   string            `json:"input,omitempty"`
	Shell   bool              `json:"shell,omitempty"`
}

type sessionEntriesArgs struct {
	Type string `json:"type,omitempty"`
}

type addLabelArgs struct {
	TargetID string `json:"target_id"`
	Label    string `json:"label"`
}

type appendEntryArgs struct {
	CustomType string `json:"custom_type"`
	Data       any    `json:"data,omitempty"`
}

type notifyArgs struct {
	Message string `json:"message"`
	Level   string `json:"level,omitempty"`
}

type confirmArgs struct {
	Title   string `json:"title"`
	Message string `json:"message,omitempty"`
}

type emitArgs struct {
	Name string `json:"name"`
	Data any    `json:"data,omitempty"`
}

type logArgs struct {
	Level   string         `json:"level,omitempty"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// newPI builds the pi global. Every call that leaves the VM returns a
// promise; failures reject with a HostcallError carrying code and message.
func newPI(r *Runtime) (*goja.Object, error) {
	vm := r.vm
	pi := vm.NewObject()

	call := func(op string, args any) goja.Value {
		return shims.Promise(r, op, args, nil)
	}

	_ = pi.Set("version", "1.0.0")
	_ = pi.Set("register", func(c goja.FunctionCall) goja.Value {
		r.register(c.Argument(0))
		return goja.Undefined()
	})

	_ = pi.Set("tool", func(c goja.FunctionCall) goja.Value {
		return call(hostcall.OpTool, toolCallArgs{Name: c.Argument(0).String(), Input: export(c.Argument(1))})
	})
	_ = pi.Set("exec", func(c goja.FunctionCall) goja.Value {
		args := execCallArgs{Command: c.Argument(0).String(), Args: stringList(vm, c.Argument(1))}
		if opts := c.Argument(2); shims.IsObject(opts) {
			obj := opts.ToObject(vm)
			args.Cwd = shims.OptionString(vm, opts, "cwd")
			args.Input = shims.OptionString(vm, opts, "input")
			args.Shell = shims.OptionBool(vm, opts, "shell")
			if env := obj.Get("env"); shims.IsObject(env) {
				args.Env = make(map[string]string)
				envObj := env.ToObject(vm)
				for _, k := range envObj.Keys() {
					args.Env[k] = envObj.Get(k).String()
				}
			}
		}
		if args.Cwd != "" {
			args.Cwd = shims.PathResolve(r.Root(), args.Cwd)
		}
		return call(hostcall.OpExec, args)
	})
	_ = pi.Set("http", func(c goja.FunctionCall) goja.Value {
		return call(hostcall.OpHTTPRequest, export(c.Argument(0)))
	})

	session := vm.NewObject()
	_ = session.Set("entries", func(c goja.FunctionCall) goja.Value {
		return call(hostcall.OpSessionList, sessionEntriesArgs{Type: shims.OptionString(vm, c.Argument(0), "type")})
	})
	_ = session.Set("addLabel", func(c goja.FunctionCall) goja.Value {
		return call(hostcall.OpSessionLabel, addLabelArgs{TargetID: c.Argument(0).String(), Label: c.Argument(1).String()})
	})
	_ = session.Set("appendEntry", func(c goja.FunctionCall) goja.Value {
		return call(hostcall.OpSessionAppend, appendEntryArgs{CustomType: c.Argument(0).String(), Data: export(c.Argument(1))})
	})
	_ = pi.Set("session", session)

	ui := vm.NewObject()
	_ = ui.Set("notify", func(c goja.FunctionCall) goja.Value {
		return call(hostcall.OpUINotify, notifyArgs{Message: c.Argument(0).String(), Level: optString(c.Argument(1))})
	})
	_ = ui.Set("confirm", func(c goja.FunctionCall) goja.Value {
		return call(hostcall.OpUIConfirm, confirmArgs{Title: c.Argument(0).String(), Message: optString(c.Argument(1))})
	})
	_ = pi.Set("ui", ui)

	events := vm.NewObject()
	_ = events.Set("emit", func(c goja.FunctionCall) goja.Value {
		return call(hostcall.OpEventsEmit, emitArgs{Name: c.Argument(0).String(), Data: export(c.Argument(1))})
	})
	_ = pi.Set("events", events)

	_ = pi.Set("log", func(c goja.FunctionCall) goja.Value {
		args := logArgs{Level: c.Argument(0).String(), Message: c.Argument(1).String()}
		if attrs, ok := export(c.Argument(2)).(map[string]any); ok {
			args.Attrs = attrs
		}
		return call(hostcall.OpLog, args)
	})
	return pi, nil
}

// register records the declaration and hands its JSON form to Start.
func (r *Runtime) register(v goja.Value) {
	vm := r.vm
	if r.handlers != nil {
		panic(shims.NewCodedError(vm, "ERR_ALREADY_REGISTERED", "pi.register may only be called once"))
	}
	decl, ok := v.(*goja.Object)
	if !ok {
		r.sendRegistration(registration{err: r.loadError(apperrors.LoadRegistration, "pi.register expects an object", nil)})
		panic(vm.NewTypeError("pi.register expects an object"))
	}

	h, problems := collectHandlers(vm, decl)
	if len(problems) > 0 {
		err := r.loadError(apperrors.LoadRegistration, "invalid registration", &registrationProblems{problems: problems})
		r.sendRegistration(registration{err: err})
		panic(vm.NewTypeError(err.Error()))
	}

	raw, err := shims.ToJSON(vm, decl)
	if err != nil {
		r.sendRegistration(registration{err: r.loadError(apperrors.LoadRegistration, "registration is not serializable", err)})
		panic(vm.NewTypeError("registration is not serializable: " + err.Error()))
	}
	r.handlers = h
	r.sendRegistration(registration{raw: raw})
}

func (r *Runtime) sendRegistration(reg registration) {
	select {
	case r.registered <- reg:
	default:
	}
}

type registrationProblems struct {
	problems []string
}

func (e *registrationProblems) Error() string {
	return fmt.Sprint(e.problems)
}

func export(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return v.Export()
}

func optString(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}

func stringList(vm *goja.Runtime, v goja.Value) []string {
	var out []string
	if !shims.IsObject(v) {
		return out
	}
	arr := v.ToObject(vm)
	n := int(arr.Get("length").ToInteger())
	for i := 0; i < n; i++ {
		out = append(out, arr.Get(strconv.Itoa(i)).String())
	}
	return out
}
