package jsruntime

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/dop251/goja"

	apperrors "github.com/reglet-dev/extsandbox/internal/application/errors"
	"github.com/reglet-dev/extsandbox/internal/infrastructure/jsruntime/shims"
	"github.com/reglet-dev/extsandbox/internal/infrastructure/vfs"
)

// ModuleNotFoundError is raised when a specifier resolves to nothing
// loadable inside the extension root.
type ModuleNotFoundError struct {
	Specifier string
	From      string
	Reason    string
}

func (e *ModuleNotFoundError) Error() string {
	msg := fmt.Sprintf("Cannot find module '%s'", e.Specifier)
	if e.From != "" {
		msg += " from '" + e.From + "'"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// moduleExtensions are tried in order for extensionless specifiers.
var moduleExtensions = []string{"", ".js", ".cjs", ".json"}

// loader resolves and evaluates CommonJS modules from the extension root.
// Every method runs on the loop goroutine.
type loader struct {
	rt       *Runtime
	files    *vfs.FS
	modules  map[string]*goja.Object
	builtins map[string]goja.Value
}

func newLoader(rt *Runtime, files *vfs.FS) *loader {
	return &loader{
		rt:       rt,
		files:    files,
		modules:  make(map[string]*goja.Object),
		builtins: make(map[string]goja.Value),
	}
}

// require resolves specifier relative to dir.
func (l *loader) require(dir, specifier string) (goja.Value, error) {
	if m, ok := shims.Lookup(specifier); ok {
		return l.builtin(m)
	}
	if strings.HasPrefix(specifier, "node:") {
		return nil, &ModuleNotFoundError{Specifier: specifier, From: dir, Reason: "no such built-in module"}
	}
	if !isPathSpecifier(specifier) {
		return nil, &ModuleNotFoundError{Specifier: specifier, From: dir, Reason: "only built-in and relative modules are available"}
	}

	file, err := l.resolve(dir, specifier)
	if err != nil {
		return nil, err
	}
	if mod, ok := l.modules[file]; ok {
		return mod.Get("exports"), nil
	}
	return l.load(file)
}

func (l *loader) builtin(m shims.Module) (goja.Value, error) {
	if v, ok := l.builtins[m.Name]; ok {
		return v, nil
	}
	v, err := m.New(l.rt)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize module %s: %w", m.Name, err)
	}
	l.builtins[m.Name] = v
	return v, nil
}

func isPathSpecifier(s string) bool {
	return strings.HasPrefix(s, "./") || strings.HasPrefix(s, "../") ||
		s == "." || s == ".." || strings.HasPrefix(s, "/")
}

// resolve maps a path specifier to a file inside the root.
func (l *loader) resolve(dir, specifier string) (string, error) {
	root := l.files.Root()
	target := specifier
	if !path.IsAbs(target) {
		target = path.Join(dir, target)
	}
	target = path.Clean(target)
	if target != root && !strings.HasPrefix(target, root+"/") {
		return "", &ModuleNotFoundError{Specifier: specifier, From: dir, Reason: "resolves outside the extension root"}
	}

	for _, ext := range moduleExtensions {
		if l.isFile(target + ext) {
			return target + ext, nil
		}
	}
	if main := l.packageMain(target); main != "" {
		return main, nil
	}
	if index := path.Join(target, "index.js"); l.isFile(index) {
		return index, nil
	}
	return "", &ModuleNotFoundError{Specifier: specifier, From: dir}
}

func (l *loader) isFile(p string) bool {
	info, err := l.files.Stat(p)
	return err == nil && !info.IsDir
}

// packageMain honours the "main" field of a directory's package.json.
func (l *loader) packageMain(dir string) string {
	data, err := l.files.Read(path.Join(dir, "package.json"))
	if err != nil {
		return ""
	}
	var pkg struct {
		Main string `json:"main"`
	}
	if json.Unmarshal(data, &pkg) != nil || pkg.Main == "" {
		return ""
	}
	main := path.Clean(path.Join(dir, pkg.Main))
	for _, ext := range moduleExtensions {
		if l.isFile(main + ext) {
			return main + ext
		}
	}
	if index := path.Join(main, "index.js"); l.isFile(index) {
		return index
	}
	return ""
}

// load evaluates file as a CommonJS module. The module is cached before it
// runs so cyclic requires see its partial exports.
func (l *loader) load(file string) (goja.Value, error) {
	vm := l.rt.vm
	data, err := l.files.Read(file)
	if err != nil {
		return nil, &ModuleNotFoundError{Specifier: file, Reason: err.Error()}
	}

	module := vm.NewObject()
	exports := vm.NewObject()
	_ = module.Set("exports", exports)
	_ = module.Set("id", file)
	_ = module.Set("filename", file)
	_ = module.Set("loaded", false)
	l.modules[file] = module

	if strings.HasSuffix(file, ".json") {
		var parsed any
		if err := json.Unmarshal(data, &parsed); err != nil {
			delete(l.modules, file)
			return nil, &syntaxError{file: file, cause: err}
		}
		_ = module.Set("exports", vm.ToValue(parsed))
		_ = module.Set("loaded", true)
		return module.Get("exports"), nil
	}

	src := "(function (exports, require, module, __filename, __dirname) {" +
		stripShebang(string(data)) + "\n})"
	prog, err := l.rt.Compile(file, src)
	if err != nil {
		delete(l.modules, file)
		return nil, &syntaxError{file: file, cause: err}
	}
	wrapper, err := vm.RunProgram(prog)
	if err != nil {
		delete(l.modules, file)
		return nil, err
	}
	fn, ok := goja.AssertFunction(wrapper)
	if !ok {
		delete(l.modules, file)
		return nil, fmt.Errorf("module %s: wrapper is not a function", file)
	}

	dir := path.Dir(file)
	if _, err := fn(exports, exports, l.requireFunc(dir), module, vm.ToValue(file), vm.ToValue(dir)); err != nil {
		delete(l.modules, file)
		return nil, err
	}
	_ = module.Set("loaded", true)
	return module.Get("exports"), nil
}

// requireFunc is the require given to modules in dir. Failures throw into
// the guest and are remembered as the load failure.
func (l *loader) requireFunc(dir string) goja.Value {
	vm := l.rt.vm
	fn := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		v, err := l.require(dir, call.Argument(0).String())
		if err != nil {
			l.rt.noteLoadFailure(err)
			panic(moduleThrowable(vm, err))
		}
		return v
	})
	obj := fn.ToObject(vm)
	_ = obj.Set("resolve", func(call goja.FunctionCall) goja.Value {
		spec := call.Argument(0).String()
		if m, ok := shims.Lookup(spec); ok {
			return vm.ToValue(m.Name)
		}
		file, err := l.resolve(dir, spec)
		if err != nil {
			panic(moduleThrowable(vm, err))
		}
		return vm.ToValue(file)
	})
	return obj
}

func moduleThrowable(vm *goja.Runtime, err error) *goja.Object {
	var nf *ModuleNotFoundError
	if errors.As(err, &nf) {
		return shims.NewCodedError(vm, "MODULE_NOT_FOUND", nf.Error())
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		if obj, ok := ex.Value().(*goja.Object); ok {
			return obj
		}
	}
	return vm.NewGoError(err)
}

func stripShebang(src string) string {
	if strings.HasPrefix(src, "#!") {
		if i := strings.IndexByte(src, '\n'); i >= 0 {
			return "//" + src[2:i] + src[i:]
		}
		return ""
	}
	return src
}

type syntaxError struct {
	file  string
	cause error
}

func (e *syntaxError) Error() string {
	return fmt.Sprintf("syntax error in %s: %v", e.file, e.cause)
}

func (e *syntaxError) Unwrap() error { return e.cause }

// classifyLoadError maps a boot failure to its load failure kind.
func classifyLoadError(err error) apperrors.LoadErrorKind {
	var nf *ModuleNotFoundError
	var se *syntaxError
	var cse *goja.CompilerSyntaxError
	var interrupted *goja.InterruptedError
	switch {
	case errors.As(err, &nf):
		return apperrors.LoadModuleNotFound
	case errors.As(err, &se), errors.As(err, &cse):
		return apperrors.LoadSyntax
	case errors.As(err, &interrupted):
		return apperrors.LoadTimeout
	}
	return apperrors.LoadRuntime
}
