package shims

import (
	"strconv"
	"strings"

	"github.com/dop251/goja"

	"github.com/reglet-dev/extsandbox/internal/domain/hostcall"
)

type execArgs struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Input   string            `json:"input,omitempty"`
	Shell   bool              `json:"shell,omitempty"`
}

type execResult struct {
	Stdout string
	Stderr string
	Code   int
}

func newChildProcess(h Host) (goja.Value, error) {
	vm := h.VM()
	mod := vm.NewObject()

	_ = mod.Set("execSync", func(call goja.FunctionCall) goja.Value {
		opts := call.Argument(1)
		args := execOptions(vm, opts, execArgs{Command: call.Argument(0).String(), Shell: true})
		res := execResultOf(vm, Value(vm, h.CallSync(hostcall.OpExec, args)))
		if res.Code != 0 {
			panic(execFailure(h, args, res, OptionString(vm, opts, "encoding")))
		}
		return execOutput(h, res.Stdout, OptionString(vm, opts, "encoding"))
	})

	_ = mod.Set("execFileSync", func(call goja.FunctionCall) goja.Value {
		argv, opts := fileArgs(vm, call.Arguments)
		args := execOptions(vm, opts, execArgs{Command: call.Argument(0).String(), Args: argv})
		res := execResultOf(vm, Value(vm, h.CallSync(hostcall.OpExec, args)))
		if res.Code != 0 {
			panic(execFailure(h, args, res, OptionString(vm, opts, "encoding")))
		}
		return execOutput(h, res.Stdout, OptionString(vm, opts, "encoding"))
	})

	_ = mod.Set("spawnSync", func(call goja.FunctionCall) goja.Value {
		argv, opts := fileArgs(vm, call.Arguments)
		args := execOptions(vm, opts, execArgs{
			Command: call.Argument(0).String(),
			Args:    argv,
			Shell:   OptionBool(vm, opts, "shell"),
		})
		encoding := OptionString(vm, opts, "encoding")

		result := vm.NewObject()
		_ = result.Set("pid", 0)
		_ = result.Set("signal", goja.Null())
		out := h.CallSync(hostcall.OpExec, args)
		if !out.OK {
			_ = result.Set("status", goja.Null())
			_ = result.Set("stdout", execOutput(h, "", encoding))
			_ = result.Set("stderr", execOutput(h, "", encoding))
			_ = result.Set("error", NewHostcallError(vm, out.Error))
			return result
		}
		res := execResultOf(vm, FromJSON(vm, out.Value))
		stdout := execOutput(h, res.Stdout, encoding)
		stderr := execOutput(h, res.Stderr, encoding)
		_ = result.Set("status", res.Code)
		_ = result.Set("stdout", stdout)
		_ = result.Set("stderr", stderr)
		_ = result.Set("output", vm.NewArray(goja.Null(), stdout, stderr))
		return result
	})

	_ = mod.Set("exec", func(call goja.FunctionCall) goja.Value {
		cb, n := LastFunction(call)
		var opts goja.Value = goja.Undefined()
		if n > 1 {
			opts = call.Argument(1)
		}
		args := execOptions(vm, opts, execArgs{Command: call.Argument(0).String(), Shell: true})
		return execAsync(h, args, OptionString(vm, opts, "encoding"), cb)
	})

	_ = mod.Set("execFile", func(call goja.FunctionCall) goja.Value {
		cb, n := LastFunction(call)
		argv, opts := fileArgs(vm, call.Arguments[:n])
		args := execOptions(vm, opts, execArgs{Command: call.Argument(0).String(), Args: argv})
		return execAsync(h, args, OptionString(vm, opts, "encoding"), cb)
	})

	_ = mod.Set("spawn", notSupported(vm, "child_process.spawn"))
	_ = mod.Set("fork", notSupported(vm, "child_process.fork"))
	return mod, nil
}

// execAsync returns a ChildProcess-like emitter and reports to cb with
// (err, stdout, stderr). Output is a string unless encoding is "buffer".
func execAsync(h Host, args execArgs, encoding string, cb goja.Callable) goja.Value {
	vm := h.VM()
	if encoding == "" {
		encoding = "utf8"
	}
	child := newEmitter(h)
	_ = child.Set("pid", 0)
	_ = child.Set("exitCode", goja.Null())

	h.CallAsync(hostcall.OpExec, args, func(out hostcall.Outcome) {
		if !out.OK {
			err := NewHostcallError(vm, out.Error)
			emit(vm, child, "error", err)
			if cb != nil {
				_, _ = cb(goja.Undefined(), err, execOutput(h, "", encoding), execOutput(h, "", encoding))
			}
			return
		}
		res := execResultOf(vm, FromJSON(vm, out.Value))
		stdout := execOutput(h, res.Stdout, encoding)
		stderr := execOutput(h, res.Stderr, encoding)
		var errValue goja.Value = goja.Null()
		if res.Code != 0 {
			errValue = execFailure(h, args, res, encoding)
		}
		_ = child.Set("exitCode", res.Code)
		emit(vm, child, "exit", vm.ToValue(res.Code), goja.Null())
		emit(vm, child, "close", vm.ToValue(res.Code), goja.Null())
		if cb != nil {
			_, _ = cb(goja.Undefined(), errValue, stdout, stderr)
		}
	})
	return child
}

func execOptions(vm *goja.Runtime, opts goja.Value, args execArgs) execArgs {
	if !IsObject(opts) {
		return args
	}
	obj := opts.ToObject(vm)
	args.Cwd = OptionString(vm, opts, "cwd")
	if input := obj.Get("input"); input != nil && !goja.IsUndefined(input) {
		if b, ok := Bytes(vm, input); ok {
			args.Input = string(b)
		} else {
			args.Input = input.String()
		}
	}
	if env := obj.Get("env"); IsObject(env) {
		envObj := env.ToObject(vm)
		args.Env = make(map[string]string)
		for _, k := range envObj.Keys() {
			v := envObj.Get(k)
			if v == nil || goja.IsUndefined(v) {
				continue
			}
			args.Env[k] = v.String()
		}
	}
	if shell := obj.Get("shell"); shell != nil && !goja.IsUndefined(shell) {
		args.Shell = shell.ToBoolean()
	}
	return args
}

// fileArgs splits execFile/spawnSync arguments into argv and options.
func fileArgs(vm *goja.Runtime, args []goja.Value) ([]string, goja.Value) {
	var argv []string
	var opts goja.Value = goja.Undefined()
	rest := args
	if len(rest) > 0 {
		rest = rest[1:]
	}
	if len(rest) > 0 {
		if arr, ok := rest[0].(*goja.Object); ok && arr.ClassName() == "Array" {
			n := int(arr.Get("length").ToInteger())
			for i := 0; i < n; i++ {
				argv = append(argv, arr.Get(strconv.Itoa(i)).String())
			}
			rest = rest[1:]
		}
	}
	if len(rest) > 0 {
		opts = rest[0]
	}
	return argv, opts
}

func execResultOf(vm *goja.Runtime, v goja.Value) execResult {
	if !IsObject(v) {
		return execResult{}
	}
	obj := v.ToObject(vm)
	return execResult{
		Stdout: OptionString(vm, v, "stdout"),
		Stderr: OptionString(vm, v, "stderr"),
		Code:   int(obj.Get("code").ToInteger()),
	}
}

func execOutput(h Host, s, encoding string) goja.Value {
	if encoding == "" || encoding == "buffer" {
		return NewBuffer(h, []byte(s))
	}
	return h.VM().ToValue(s)
}

// execFailure is the error for a non-zero exit: status, stdout and stderr
// ride along the way Node reports them.
func execFailure(h Host, args execArgs, res execResult, encoding string) *goja.Object {
	vm := h.VM()
	cmd := args.Command
	if len(args.Args) > 0 {
		cmd += " " + strings.Join(args.Args, " ")
	}
	msg := "Command failed: " + cmd
	if res.Stderr != "" {
		msg += "\n" + res.Stderr
	}
	err := newError(vm, msg)
	_ = err.Set("status", res.Code)
	_ = err.Set("code", res.Code)
	_ = err.Set("cmd", cmd)
	_ = err.Set("stdout", execOutput(h, res.Stdout, encoding))
	_ = err.Set("stderr", execOutput(h, res.Stderr, encoding))
	return err
}

// newEmitter constructs an EventEmitter from the events module.
func newEmitter(h Host) *goja.Object {
	vm := h.VM()
	ctor, err := h.Require("events")
	if err != nil {
		panic(vm.NewGoError(err))
	}
	obj, err := vm.New(ctor)
	if err != nil {
		panic(err)
	}
	return obj
}

func emit(vm *goja.Runtime, target *goja.Object, name string, args ...goja.Value) {
	fn, ok := goja.AssertFunction(target.Get("emit"))
	if !ok {
		return
	}
	if name == "error" {
		count, ok := goja.AssertFunction(target.Get("listenerCount"))
		if ok {
			n, err := count(target, vm.ToValue(name))
			if err == nil && n.ToInteger() == 0 {
				return
			}
		}
	}
	_, _ = fn(target, append([]goja.Value{vm.ToValue(name)}, args...)...)
}
