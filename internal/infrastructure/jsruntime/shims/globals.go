package shims

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/reglet-dev/extsandbox/internal/domain/hostcall"
)

// InstallGlobals defines the Node-style globals every extension sees:
// console, process, Buffer, URL, URLSearchParams, TextEncoder, TextDecoder,
// atob, btoa, structuredClone and global/globalThis aliases. Timers and
// require are installed by the runtime.
func InstallGlobals(h Host) error {
	vm := h.VM()
	global := vm.GlobalObject()
	_ = global.Set("global", global)

	process, err := h.Require("process")
	if err != nil {
		return fmt.Errorf("install process: %w", err)
	}
	_ = global.Set("process", process)

	bufferMod, err := h.Require("buffer")
	if err != nil {
		return fmt.Errorf("install Buffer: %w", err)
	}
	_ = global.Set("Buffer", bufferMod.ToObject(vm).Get("Buffer"))

	urlMod, err := h.Require("url")
	if err != nil {
		return fmt.Errorf("install URL: %w", err)
	}
	_ = global.Set("URL", urlMod.ToObject(vm).Get("URL"))
	_ = global.Set("URLSearchParams", urlMod.ToObject(vm).Get("URLSearchParams"))

	binding := vm.NewObject()
	_ = binding.Set("log", func(level, message string) {
		h.CallAsync(hostcall.OpLog, logArgs{Level: level, Message: message}, nil)
	})
	_ = binding.Set("btoa", func(call goja.FunctionCall) goja.Value {
		s, err := Decode([]byte(mustLatin1(vm, call.Argument(0).String())), "base64")
		if err != nil {
			panic(vm.NewTypeError(err.Error()))
		}
		return vm.ToValue(s)
	})
	_ = binding.Set("atob", func(call goja.FunctionCall) goja.Value {
		b, err := Encode(call.Argument(0).String(), "base64")
		if err != nil {
			panic(NewCodedError(vm, "ERR_INVALID_CHARACTER", "Invalid character"))
		}
		s, _ := Decode(b, "latin1")
		return vm.ToValue(s)
	})

	if _, err := evalJS(h, "globals", binding); err != nil {
		return err
	}
	return nil
}

// mustLatin1 throws when s has characters outside Latin-1, as btoa does.
func mustLatin1(vm *goja.Runtime, s string) string {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xff {
			panic(NewCodedError(vm, "ERR_INVALID_CHARACTER", "Invalid character"))
		}
		out = append(out, byte(r))
	}
	return string(out)
}
