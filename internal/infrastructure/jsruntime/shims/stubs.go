package shims

import (
	"net/netip"

	"github.com/dop251/goja"
)

// stubMembers lists the functions each inert module exposes. Calling any
// of them throws ERR_NOT_SUPPORTED.
var stubMembers = map[string][]string{
	"readline":       {"createInterface", "clearLine", "cursorTo", "emitKeypressEvents"},
	"net":            {"createServer", "createConnection", "connect", "Socket", "Server"},
	"tls":            {"createServer", "connect", "createSecureContext", "TLSSocket"},
	"zlib":           {"gzip", "gunzip", "gzipSync", "gunzipSync", "deflate", "inflate", "deflateSync", "inflateSync", "createGzip", "createGunzip"},
	"worker_threads": {"Worker", "MessageChannel", "MessagePort"},
}

func newStub(name string) func(Host) (goja.Value, error) {
	return func(h Host) (goja.Value, error) {
		vm := h.VM()
		mod := vm.NewObject()
		for _, member := range stubMembers[name] {
			_ = mod.Set(member, notSupported(vm, name+"."+member))
		}
		switch name {
		case "net":
			_ = mod.Set("isIP", func(call goja.FunctionCall) goja.Value {
				return vm.ToValue(ipVersion(call.Argument(0).String()))
			})
			_ = mod.Set("isIPv4", func(call goja.FunctionCall) goja.Value {
				return vm.ToValue(ipVersion(call.Argument(0).String()) == 4)
			})
			_ = mod.Set("isIPv6", func(call goja.FunctionCall) goja.Value {
				return vm.ToValue(ipVersion(call.Argument(0).String()) == 6)
			})
		case "worker_threads":
			_ = mod.Set("isMainThread", true)
			_ = mod.Set("parentPort", goja.Null())
			_ = mod.Set("workerData", goja.Null())
			_ = mod.Set("threadId", 0)
		case "zlib":
			_ = mod.Set("constants", vm.NewObject())
		}
		return mod, nil
	}
}

// ipVersion returns 4 or 6 for a literal address, 0 otherwise.
func ipVersion(s string) int {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return 0
	}
	if addr.Is4() {
		return 4
	}
	return 6
}
