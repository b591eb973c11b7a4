package shims

import (
	"runtime"

	"github.com/dop251/goja"

	"github.com/reglet-dev/extsandbox/internal/infrastructure/vfs"
)

// Static identity reported to extensions. Nothing here reflects the real host.
const (
	osHostname = "extsandbox"
	osUser     = "extension"
	osRelease  = "6.0.0-extsandbox"
)

func newOS(h Host) (goja.Value, error) {
	vm := h.VM()
	mod := vm.NewObject()

	constant := func(v any) func() any { return func() any { return v } }

	_ = mod.Set("EOL", "\n")
	_ = mod.Set("devNull", "/dev/null")
	_ = mod.Set("homedir", constant(vfs.HomeDir))
	_ = mod.Set("tmpdir", constant(vfs.TempDir))
	_ = mod.Set("hostname", constant(osHostname))
	_ = mod.Set("platform", constant("linux"))
	_ = mod.Set("type", constant("Linux"))
	_ = mod.Set("release", constant(osRelease))
	_ = mod.Set("version", constant("#1 SMP"))
	_ = mod.Set("machine", constant(nodeArch(runtime.GOARCH)))
	_ = mod.Set("arch", constant(nodeArch(runtime.GOARCH)))
	_ = mod.Set("endianness", constant("LE"))
	_ = mod.Set("uptime", constant(0))
	_ = mod.Set("loadavg", func() goja.Value { return vm.NewArray(0, 0, 0) })
	_ = mod.Set("totalmem", constant(0))
	_ = mod.Set("freemem", constant(0))
	_ = mod.Set("availableParallelism", constant(1))
	_ = mod.Set("cpus", func() goja.Value { return vm.NewArray() })
	_ = mod.Set("networkInterfaces", func() goja.Value { return vm.NewObject() })
	_ = mod.Set("userInfo", func() goja.Value {
		info := vm.NewObject()
		_ = info.Set("uid", -1)
		_ = info.Set("gid", -1)
		_ = info.Set("username", osUser)
		_ = info.Set("homedir", vfs.HomeDir)
		_ = info.Set("shell", goja.Null())
		return info
	})

	constants := vm.NewObject()
	signals := vm.NewObject()
	for name, n := range map[string]int{"SIGHUP": 1, "SIGINT": 2, "SIGKILL": 9, "SIGTERM": 15} {
		_ = signals.Set(name, n)
	}
	_ = constants.Set("signals", signals)
	_ = mod.Set("constants", constants)
	return mod, nil
}

func nodeArch(goarch string) string {
	switch goarch {
	case "amd64":
		return "x64"
	case "386":
		return "ia32"
	default:
		return goarch
	}
}
