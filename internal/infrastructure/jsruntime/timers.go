package jsruntime

import (
	"strconv"
	"time"

	"github.com/dop251/goja"
)

// installTimers defines the timer globals on the runtime's loop.
func installTimers(r *Runtime) error {
	vm := r.vm

	schedule := func(call goja.FunctionCall, repeat bool, delayArg bool) goja.Value {
		cb, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(vm.NewTypeError("The \"callback\" argument must be of type function"))
		}
		var delay time.Duration
		rest := call.Arguments
		if len(rest) > 0 {
			rest = rest[1:]
		}
		if delayArg {
			if ms := call.Argument(1).ToFloat(); ms > 0 {
				delay = time.Duration(ms * float64(time.Millisecond))
			}
			if len(rest) > 0 {
				rest = rest[1:]
			}
		}
		args := append([]goja.Value(nil), rest...)
		id := r.loop.addTimer(delay, repeat, func() {
			if _, err := cb(goja.Undefined(), args...); err != nil {
				r.uncaught(err)
			}
		})
		return newTimeout(r, id)
	}
	clearFn := func(call goja.FunctionCall) goja.Value {
		if id, ok := timerID(call.Argument(0)); ok {
			r.loop.clearTimer(id)
		}
		return goja.Undefined()
	}

	for name, fn := range map[string]func(goja.FunctionCall) goja.Value{
		"setTimeout":     func(c goja.FunctionCall) goja.Value { return schedule(c, false, true) },
		"setInterval":    func(c goja.FunctionCall) goja.Value { return schedule(c, true, true) },
		"setImmediate":   func(c goja.FunctionCall) goja.Value { return schedule(c, false, false) },
		"clearTimeout":   clearFn,
		"clearInterval":  clearFn,
		"clearImmediate": clearFn,
	} {
		if err := vm.Set(name, fn); err != nil {
			return err
		}
	}

	_, err := vm.RunString(`globalThis.queueMicrotask = function queueMicrotask(fn) {
  if (typeof fn !== 'function') throw new TypeError('The "callback" argument must be of type function');
  Promise.resolve().then(function () { fn(); });
};`)
	return err
}

// newTimeout is the handle returned by the timer functions. It converts to
// its numeric id so handles can be stored and compared like in Node.
func newTimeout(r *Runtime, id int64) goja.Value {
	vm := r.vm
	t := vm.NewObject()
	_ = t.Set("_id", id)
	_ = t.Set("ref", func(goja.FunctionCall) goja.Value {
		r.loop.setRef(id, true)
		return t
	})
	_ = t.Set("unref", func(goja.FunctionCall) goja.Value {
		r.loop.setRef(id, false)
		return t
	})
	_ = t.Set("hasRef", func() bool {
		return r.loop.hasRef(id)
	})
	_ = t.Set("valueOf", func() int64 { return id })
	_ = t.Set("toString", func() string { return strconv.FormatInt(id, 10) })
	return t
}

func timerID(v goja.Value) (int64, bool) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return 0, false
	}
	if obj, ok := v.(*goja.Object); ok {
		if id := obj.Get("_id"); id != nil && !goja.IsUndefined(id) {
			return id.ToInteger(), true
		}
		return 0, false
	}
	return v.ToInteger(), true
}
