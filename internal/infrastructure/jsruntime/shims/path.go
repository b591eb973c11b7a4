package shims

import (
	"path"
	"strconv"
	"strings"

	"github.com/dop251/goja"
)

// POSIX path semantics, resolved against the extension root.

// PathJoin joins segments and normalizes the result; an empty result is ".".
func PathJoin(parts ...string) string {
	var nonEmpty []string
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	if len(nonEmpty) == 0 {
		return "."
	}
	return PathNormalize(strings.Join(nonEmpty, "/"))
}

// PathNormalize cleans p, keeping a trailing slash the way Node does.
func PathNormalize(p string) string {
	if p == "" {
		return "."
	}
	trailing := strings.HasSuffix(p, "/")
	clean := path.Clean(p)
	if trailing && clean != "/" {
		clean += "/"
	}
	return clean
}

// PathResolve resolves segments right to left until an absolute path is
// formed, falling back to cwd.
func PathResolve(cwd string, parts ...string) string {
	resolved := ""
	for i := len(parts) - 1; i >= 0; i-- {
		p := parts[i]
		if p == "" {
			continue
		}
		if resolved == "" {
			resolved = p
		} else {
			resolved = p + "/" + resolved
		}
		if strings.HasPrefix(p, "/") {
			return path.Clean(resolved)
		}
	}
	if resolved == "" {
		return path.Clean(cwd)
	}
	return path.Clean(cwd + "/" + resolved)
}

// PathRelative returns the relative path from "from" to "to".
func PathRelative(cwd, from, to string) string {
	from = PathResolve(cwd, from)
	to = PathResolve(cwd, to)
	if from == to {
		return ""
	}
	fromParts := splitPath(from)
	toParts := splitPath(to)

	common := 0
	for common < len(fromParts) && common < len(toParts) && fromParts[common] == toParts[common] {
		common++
	}

	var out []string
	for range fromParts[common:] {
		out = append(out, "..")
	}
	out = append(out, toParts[common:]...)
	return strings.Join(out, "/")
}

func splitPath(p string) []string {
	var parts []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}

// PathDirname mirrors path.dirname.
func PathDirname(p string) string {
	if p == "" {
		return "."
	}
	trimmed := strings.TrimRight(p, "/")
	if trimmed == "" {
		return "/"
	}
	idx := strings.LastIndex(trimmed, "/")
	switch {
	case idx < 0:
		return "."
	case idx == 0:
		return "/"
	default:
		return strings.TrimRight(trimmed[:idx], "/")
	}
}

// PathBasename mirrors path.basename, stripping ext when it matches.
func PathBasename(p, ext string) string {
	trimmed := strings.TrimRight(p, "/")
	if trimmed == "" {
		return ""
	}
	base := trimmed[strings.LastIndex(trimmed, "/")+1:]
	if ext != "" && ext != base && strings.HasSuffix(base, ext) {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

// PathExtname mirrors path.extname: dotfiles have no extension.
func PathExtname(p string) string {
	base := PathBasename(p, "")
	idx := strings.LastIndex(base, ".")
	if idx <= 0 {
		return ""
	}
	return base[idx:]
}

func newPath(h Host) (goja.Value, error) {
	vm := h.VM()
	mod := vm.NewObject()

	strArgs := func(call goja.FunctionCall) []string {
		out := make([]string, 0, len(call.Arguments))
		for i, a := range call.Arguments {
			if _, ok := a.Export().(string); !ok {
				panic(NewCodedError(vm, "ERR_INVALID_ARG_TYPE",
					"The \"paths["+strconv.Itoa(i)+"]\" argument must be of type string"))
			}
			out = append(out, a.String())
		}
		return out
	}
	str := func(call goja.FunctionCall, i int) string {
		a := call.Argument(i)
		if _, ok := a.Export().(string); !ok {
			panic(NewCodedError(vm, "ERR_INVALID_ARG_TYPE", "The \"path\" argument must be of type string"))
		}
		return a.String()
	}

	_ = mod.Set("sep", "/")
	_ = mod.Set("delimiter", ":")
	_ = mod.Set("join", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(PathJoin(strArgs(call)...))
	})
	_ = mod.Set("resolve", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(PathResolve(h.Root(), strArgs(call)...))
	})
	_ = mod.Set("normalize", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(PathNormalize(str(call, 0)))
	})
	_ = mod.Set("isAbsolute", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(strings.HasPrefix(str(call, 0), "/"))
	})
	_ = mod.Set("dirname", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(PathDirname(str(call, 0)))
	})
	_ = mod.Set("basename", func(call goja.FunctionCall) goja.Value {
		ext := ""
		if a := call.Argument(1); !goja.IsUndefined(a) {
			ext = a.String()
		}
		return vm.ToValue(PathBasename(str(call, 0), ext))
	})
	_ = mod.Set("extname", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(PathExtname(str(call, 0)))
	})
	_ = mod.Set("relative", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(PathRelative(h.Root(), str(call, 0), str(call, 1)))
	})
	_ = mod.Set("toNamespacedPath", func(call goja.FunctionCall) goja.Value {
		return call.Argument(0)
	})
	_ = mod.Set("parse", func(call goja.FunctionCall) goja.Value {
		p := str(call, 0)
		root := ""
		if strings.HasPrefix(p, "/") {
			root = "/"
		}
		base := PathBasename(p, "")
		ext := PathExtname(p)
		dir := PathDirname(p)
		if dir == "." && !strings.Contains(strings.TrimRight(p, "/"), "/") {
			dir = ""
		}
		out := vm.NewObject()
		_ = out.Set("root", root)
		_ = out.Set("dir", dir)
		_ = out.Set("base", base)
		_ = out.Set("ext", ext)
		_ = out.Set("name", strings.TrimSuffix(base, ext))
		return out
	})
	_ = mod.Set("format", func(call goja.FunctionCall) goja.Value {
		obj := call.Argument(0)
		dir := OptionString(vm, obj, "dir")
		if dir == "" {
			dir = OptionString(vm, obj, "root")
		}
		base := OptionString(vm, obj, "base")
		if base == "" {
			ext := OptionString(vm, obj, "ext")
			if ext != "" && !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			base = OptionString(vm, obj, "name") + ext
		}
		switch {
		case dir == "":
			return vm.ToValue(base)
		case dir == OptionString(vm, obj, "root"):
			return vm.ToValue(dir + base)
		default:
			return vm.ToValue(dir + "/" + base)
		}
	})

	_ = mod.Set("posix", mod)
	_ = mod.Set("win32", mod)
	return mod, nil
}
