package shims

import (
	"encoding/base64"
	"strconv"

	"github.com/dop251/goja"

	"github.com/reglet-dev/extsandbox/internal/domain/hostcall"
)

// fsMethod describes one fs function. build converts guest arguments,
// callback excluded, into hostcall args and an optional result transform.
type fsMethod struct {
	name  string
	op    string
	build func(h Host, args []goja.Value) (any, func(goja.Value) goja.Value)
}

type fsPathArgs struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive,omitempty"`
	Encoding  string `json:"encoding,omitempty"`
}

type fsWriteArgs struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Encoding string `json:"encoding,omitempty"`
}

// fs constants as Node reports them.
var fsConstants = map[string]int{
	"F_OK": 0, "R_OK": 4, "W_OK": 2, "X_OK": 1,
	"O_RDONLY": 0, "O_WRONLY": 1, "O_RDWR": 2, "O_CREAT": 64, "O_EXCL": 128, "O_TRUNC": 512, "O_APPEND": 1024,
	"S_IFMT": 61440, "S_IFREG": 32768, "S_IFDIR": 16384,
}

func fsMethods() []fsMethod {
	return []fsMethod{
		{name: "readFile", op: hostcall.OpFSRead, build: buildReadFile},
		{name: "writeFile", op: hostcall.OpFSWrite, build: buildWrite},
		{name: "appendFile", op: hostcall.OpFSAppend, build: buildWrite},
		{name: "stat", op: hostcall.OpFSStat, build: buildStat},
		{name: "lstat", op: hostcall.OpFSStat, build: buildStat},
		{name: "readdir", op: hostcall.OpFSList, build: buildReaddir},
		{name: "mkdir", op: hostcall.OpFSMkdir, build: buildMkdir},
		{name: "rm", op: hostcall.OpFSRemove, build: buildRemove},
		{name: "rmdir", op: hostcall.OpFSRemove, build: buildRemove},
		{name: "unlink", op: hostcall.OpFSRemove, build: buildRemove},
		{name: "access", op: hostcall.OpFSExists, build: buildAccess},
	}
}

func newFS(h Host) (goja.Value, error) {
	vm := h.VM()
	mod := vm.NewObject()

	for _, m := range fsMethods() {
		m := m
		_ = mod.Set(m.name+"Sync", func(call goja.FunctionCall) goja.Value {
			args, transform := m.build(h, call.Arguments)
			v := Value(vm, h.CallSync(m.op, args))
			if transform != nil {
				v = transform(v)
			}
			return v
		})
		_ = mod.Set(m.name, func(call goja.FunctionCall) goja.Value {
			cb, n := LastFunction(call)
			if cb == nil {
				panic(NewCodedError(vm, "ERR_INVALID_ARG_TYPE", "The \"cb\" argument must be of type function"))
			}
			args, transform := m.build(h, call.Arguments[:n])
			Callback(h, m.op, args, cb, transform)
			return goja.Undefined()
		})
	}

	_ = mod.Set("existsSync", func(call goja.FunctionCall) goja.Value {
		out := h.CallSync(hostcall.OpFSExists, fsPathArgs{Path: fsPath(h, call.Argument(0))})
		if !out.OK {
			return vm.ToValue(false)
		}
		return vm.ToValue(existsValue(vm, FromJSON(vm, out.Value)))
	})
	_ = mod.Set("exists", func(call goja.FunctionCall) goja.Value {
		cb, _ := LastFunction(call)
		h.CallAsync(hostcall.OpFSExists, fsPathArgs{Path: fsPath(h, call.Argument(0))}, func(out hostcall.Outcome) {
			if cb == nil {
				return
			}
			_, _ = cb(goja.Undefined(), vm.ToValue(out.OK && existsValue(vm, FromJSON(vm, out.Value))))
		})
		return goja.Undefined()
	})
	_ = mod.Set("realpathSync", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(fsPath(h, call.Argument(0)))
	})
	_ = mod.Set("createReadStream", notSupported(vm, "fs.createReadStream"))
	_ = mod.Set("createWriteStream", notSupported(vm, "fs.createWriteStream"))
	_ = mod.Set("watch", notSupported(vm, "fs.watch"))

	constants := vm.NewObject()
	for k, v := range fsConstants {
		_ = constants.Set(k, v)
		_ = mod.Set(k, v)
	}
	_ = mod.Set("constants", constants)

	promises, err := newFSPromises(h)
	if err != nil {
		return nil, err
	}
	_ = mod.Set("promises", promises)
	return mod, nil
}

func newFSPromises(h Host) (goja.Value, error) {
	vm := h.VM()
	mod := vm.NewObject()
	for _, m := range fsMethods() {
		m := m
		_ = mod.Set(m.name, func(call goja.FunctionCall) goja.Value {
			args, transform := m.build(h, call.Arguments)
			return Promise(h, m.op, args, transform)
		})
	}
	constants := vm.NewObject()
	for k, v := range fsConstants {
		_ = constants.Set(k, v)
	}
	_ = mod.Set("constants", constants)
	return mod, nil
}

// fsPath accepts strings, Buffers and file: URLs, resolving relative paths
// against the extension root.
func fsPath(h Host, v goja.Value) string {
	vm := h.VM()
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		panic(NewCodedError(vm, "ERR_INVALID_ARG_TYPE", "The \"path\" argument must be of type string or an instance of Buffer or URL"))
	}
	if b, ok := Bytes(vm, v); ok {
		return PathResolve(h.Root(), string(b))
	}
	if obj, ok := v.(*goja.Object); ok {
		if href := obj.Get("href"); href != nil && !goja.IsUndefined(href) {
			p, err := FileURLToPath(href.String())
			if err != nil {
				panic(NewCodedError(vm, "ERR_INVALID_URL_SCHEME", err.Error()))
			}
			return p
		}
	}
	return PathResolve(h.Root(), v.String())
}

func argAt(args []goja.Value, i int) goja.Value {
	if i < len(args) {
		return args[i]
	}
	return goja.Undefined()
}

func buildReadFile(h Host, args []goja.Value) (any, func(goja.Value) goja.Value) {
	vm := h.VM()
	encoding := OptionString(vm, argAt(args, 1), "encoding")
	if encoding != "" && NormalizeEncoding(encoding) == "" {
		panic(NewCodedError(vm, "ERR_INVALID_ARG_VALUE", "Unknown encoding: "+encoding))
	}
	return fsPathArgs{Path: fsPath(h, argAt(args, 0)), Encoding: "base64"}, func(v goja.Value) goja.Value {
		data, err := base64.StdEncoding.DecodeString(OptionString(vm, v, "content"))
		if err != nil {
			panic(vm.NewGoError(err))
		}
		if encoding == "" {
			return NewBuffer(h, data)
		}
		s, err := Decode(data, encoding)
		if err != nil {
			panic(vm.NewTypeError(err.Error()))
		}
		return vm.ToValue(s)
	}
}

func buildWrite(h Host, args []goja.Value) (any, func(goja.Value) goja.Value) {
	vm := h.VM()
	content, encoding, err := ContentArgs(vm, argAt(args, 1), OptionString(vm, argAt(args, 2), "encoding"))
	if err != nil {
		panic(NewCodedError(vm, "ERR_INVALID_ARG_VALUE", err.Error()))
	}
	return fsWriteArgs{Path: fsPath(h, argAt(args, 0)), Content: content, Encoding: encoding}, undefinedResult
}

func buildStat(h Host, args []goja.Value) (any, func(goja.Value) goja.Value) {
	return fsPathArgs{Path: fsPath(h, argAt(args, 0))}, func(v goja.Value) goja.Value {
		return newStats(h.VM(), v)
	}
}

func buildReaddir(h Host, args []goja.Value) (any, func(goja.Value) goja.Value) {
	vm := h.VM()
	withTypes := OptionBool(vm, argAt(args, 1), "withFileTypes")
	return fsPathArgs{Path: fsPath(h, argAt(args, 0))}, func(v goja.Value) goja.Value {
		entries := v.ToObject(vm)
		n := int(entries.Get("length").ToInteger())
		out := make([]any, 0, n)
		for i := 0; i < n; i++ {
			entry := entries.Get(strconv.Itoa(i))
			if withTypes {
				out = append(out, newDirent(vm, entry))
			} else {
				out = append(out, OptionString(vm, entry, "name"))
			}
		}
		return vm.NewArray(out...)
	}
}

func buildMkdir(h Host, args []goja.Value) (any, func(goja.Value) goja.Value) {
	vm := h.VM()
	return fsPathArgs{Path: fsPath(h, argAt(args, 0)), Recursive: OptionBool(vm, argAt(args, 1), "recursive")}, undefinedResult
}

func buildRemove(h Host, args []goja.Value) (any, func(goja.Value) goja.Value) {
	vm := h.VM()
	return fsPathArgs{Path: fsPath(h, argAt(args, 0)), Recursive: OptionBool(vm, argAt(args, 1), "recursive")}, undefinedResult
}

// buildAccess turns a missing path into an ENOENT io failure.
func buildAccess(h Host, args []goja.Value) (any, func(goja.Value) goja.Value) {
	vm := h.VM()
	p := fsPath(h, argAt(args, 0))
	return fsPathArgs{Path: p}, func(v goja.Value) goja.Value {
		if !existsValue(vm, v) {
			Throw(vm, &hostcall.Error{
				Code:    hostcall.CodeIO,
				Message: "ENOENT: no such file or directory, access '" + p + "'",
			})
		}
		return goja.Undefined()
	}
}

func undefinedResult(goja.Value) goja.Value { return goja.Undefined() }

func existsValue(vm *goja.Runtime, v goja.Value) bool {
	return OptionBool(vm, v, "exists")
}

func newStats(vm *goja.Runtime, info goja.Value) goja.Value {
	src := info.ToObject(vm)
	isDir := src.Get("isDirectory").ToBoolean()
	mtime, err := vm.New(vm.Get("Date"), src.Get("mtime"))
	if err != nil {
		panic(err)
	}
	mode := 0o100644
	if isDir {
		mode = 0o40755
	}

	stats := vm.NewObject()
	_ = stats.Set("size", src.Get("size"))
	_ = stats.Set("mode", mode)
	_ = stats.Set("mtime", mtime)
	if getTime, ok := goja.AssertFunction(mtime.Get("getTime")); ok {
		if ms, err := getTime(mtime); err == nil {
			_ = stats.Set("mtimeMs", ms)
		}
	}
	_ = stats.Set("isFile", func() bool { return !isDir })
	_ = stats.Set("isDirectory", func() bool { return isDir })
	_ = stats.Set("isSymbolicLink", func() bool { return false })
	return stats
}

func newDirent(vm *goja.Runtime, entry goja.Value) goja.Value {
	src := entry.ToObject(vm)
	isDir := src.Get("isDirectory").ToBoolean()
	d := vm.NewObject()
	_ = d.Set("name", src.Get("name"))
	_ = d.Set("path", PathDirname(src.Get("path").String()))
	_ = d.Set("isFile", func() bool { return !isDir })
	_ = d.Set("isDirectory", func() bool { return isDir })
	_ = d.Set("isSymbolicLink", func() bool { return false })
	return d
}

func notSupported(vm *goja.Runtime, name string) func(goja.FunctionCall) goja.Value {
	return func(goja.FunctionCall) goja.Value {
		panic(NewCodedError(vm, "ERR_NOT_SUPPORTED", name+" is not supported in the extension sandbox"))
	}
}
