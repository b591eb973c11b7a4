package shims

import (
	"encoding/json"
	"errors"
	"regexp"

	"github.com/dop251/goja"

	"github.com/reglet-dev/extsandbox/internal/domain/hostcall"
)

// ErrorName is the name of errors raised for failed hostcalls.
const ErrorName = "HostcallError"

var errnoPrefix = regexp.MustCompile(`^(E[A-Z]+): `)

var errNoJSON = errors.New("JSON builtin is unavailable")

// NewHostcallError builds the JS error for a failed outcome. code carries the
// taxonomy code; errno carries a POSIX name when the message starts with one.
func NewHostcallError(vm *goja.Runtime, e *hostcall.Error) *goja.Object {
	if e == nil {
		e = &hostcall.Error{Code: hostcall.CodeInternal, Message: "unknown failure"}
	}
	obj := newError(vm, e.Message)
	_ = obj.Set("name", ErrorName)
	_ = obj.Set("code", string(e.Code))
	if m := errnoPrefix.FindStringSubmatch(e.Message); m != nil {
		_ = obj.Set("errno", m[1])
	}
	return obj
}

// NewCodedError builds a plain Error with a Node-style code.
func NewCodedError(vm *goja.Runtime, code, message string) *goja.Object {
	obj := newError(vm, message)
	_ = obj.Set("code", code)
	return obj
}

func newError(vm *goja.Runtime, message string) *goja.Object {
	obj, err := vm.New(vm.Get("Error"), vm.ToValue(message))
	if err != nil {
		return vm.NewGoError(err)
	}
	return obj
}

// Throw raises a failed outcome as a JS exception.
func Throw(vm *goja.Runtime, e *hostcall.Error) {
	panic(NewHostcallError(vm, e))
}

// FromJSON converts raw JSON into a JS value. Empty input is undefined.
func FromJSON(vm *goja.Runtime, raw json.RawMessage) goja.Value {
	if len(raw) == 0 {
		return goja.Undefined()
	}
	parse, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("parse"))
	if !ok {
		return goja.Undefined()
	}
	v, err := parse(goja.Undefined(), vm.ToValue(string(raw)))
	if err != nil {
		return goja.Undefined()
	}
	return v
}

// ToJSON serializes a JS value with JSON.stringify. Functions and undefined
// members are dropped; undefined itself becomes null.
func ToJSON(vm *goja.Runtime, v goja.Value) (json.RawMessage, error) {
	if v == nil || goja.IsUndefined(v) {
		return json.RawMessage("null"), nil
	}
	stringify, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("stringify"))
	if !ok {
		return nil, errNoJSON
	}
	out, err := stringify(goja.Undefined(), v)
	if err != nil {
		return nil, err
	}
	if goja.IsUndefined(out) {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(out.String()), nil
}

// Value returns the decoded success value of out or throws.
func Value(vm *goja.Runtime, out hostcall.Outcome) goja.Value {
	if !out.OK {
		Throw(vm, out.Error)
	}
	return FromJSON(vm, out.Value)
}

// Promise issues an async hostcall and returns a promise of its value,
// optionally transformed on the loop before resolution.
func Promise(h Host, op string, args any, transform func(goja.Value) goja.Value) goja.Value {
	vm := h.VM()
	promise, resolve, reject := vm.NewPromise()
	h.CallAsync(op, args, func(out hostcall.Outcome) {
		if !out.OK {
			reject(NewHostcallError(vm, out.Error))
			return
		}
		settle(vm, FromJSON(vm, out.Value), transform, resolve, reject)
	})
	return vm.ToValue(promise)
}

// Callback issues an async hostcall and reports to a Node-style callback.
func Callback(h Host, op string, args any, cb goja.Callable, transform func(goja.Value) goja.Value) {
	vm := h.VM()
	h.CallAsync(op, args, func(out hostcall.Outcome) {
		if cb == nil {
			return
		}
		if !out.OK {
			_, _ = cb(goja.Undefined(), NewHostcallError(vm, out.Error))
			return
		}
		settle(vm, FromJSON(vm, out.Value), transform,
			func(v any) { _, _ = cb(goja.Undefined(), goja.Null(), vm.ToValue(v)) },
			func(reason any) { _, _ = cb(goja.Undefined(), vm.ToValue(reason)) })
	})
}

// settle applies transform, turning a thrown JS exception into a rejection.
func settle(vm *goja.Runtime, v goja.Value, transform func(goja.Value) goja.Value, resolve, reject func(any)) {
	if transform == nil {
		resolve(v)
		return
	}
	var result goja.Value
	if err := catch(vm, func() { result = transform(v) }); err != nil {
		reject(err)
		return
	}
	resolve(result)
}

// catch runs fn and converts a JS panic into the thrown value.
func catch(vm *goja.Runtime, fn func()) (thrown goja.Value) {
	defer func() {
		if r := recover(); r != nil {
			switch x := r.(type) {
			case *goja.Object:
				thrown = x
			case goja.Value:
				thrown = x
			case *goja.Exception:
				thrown = x.Value()
			case error:
				thrown = vm.NewGoError(x)
			default:
				panic(r)
			}
		}
	}()
	fn()
	return nil
}

// LastFunction returns the final argument when it is a function.
func LastFunction(call goja.FunctionCall) (goja.Callable, int) {
	n := len(call.Arguments)
	if n == 0 {
		return nil, 0
	}
	if fn, ok := goja.AssertFunction(call.Arguments[n-1]); ok {
		return fn, n - 1
	}
	return nil, n
}

// OptionString reads a string member of an options object, or the argument
// itself when it is a string.
func OptionString(vm *goja.Runtime, v goja.Value, key string) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	if _, ok := v.Export().(string); ok {
		return v.String()
	}
	obj := v.ToObject(vm)
	member := obj.Get(key)
	if member == nil || goja.IsUndefined(member) || goja.IsNull(member) {
		return ""
	}
	return member.String()
}

// OptionBool reads a boolean member of an options object.
func OptionBool(vm *goja.Runtime, v goja.Value, key string) bool {
	if !IsObject(v) {
		return false
	}
	member := v.ToObject(vm).Get(key)
	return member != nil && member.ToBoolean()
}

// IsObject reports whether v is a non-null object that is not a function.
func IsObject(v goja.Value) bool {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return false
	}
	if _, ok := goja.AssertFunction(v); ok {
		return false
	}
	_, ok := v.(*goja.Object)
	return ok
}
