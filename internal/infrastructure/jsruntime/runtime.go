// Package jsruntime hosts extension code in goja. Each runtime owns one VM
// driven by a single loop goroutine; all side effects leave the VM as
// hostcalls through a per-runtime FIFO worker.
package jsruntime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"

	apperrors "github.com/reglet-dev/extsandbox/internal/application/errors"
	"github.com/reglet-dev/extsandbox/internal/application/ports"
	"github.com/reglet-dev/extsandbox/internal/domain/entities"
	"github.com/reglet-dev/extsandbox/internal/domain/hostcall"
	"github.com/reglet-dev/extsandbox/internal/infrastructure/jsruntime/shims"
	"github.com/reglet-dev/extsandbox/internal/infrastructure/vfs"
)

// ErrClosed is returned for calls into a runtime after Close.
var ErrClosed = errors.New("runtime is closed")

// Options configure the runtimes a Factory creates.
type Options struct {
	// MaxSourceBytes bounds the size of a module file read from the root.
	MaxSourceBytes int64
	Logger         *slog.Logger
	Cache          *ProgramCache
}

// Factory creates goja runtimes. It implements ports.RuntimeFactory.
type Factory struct {
	opts Options
}

// NewFactory creates a runtime factory.
func NewFactory(opts Options) *Factory {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Cache == nil {
		opts.Cache = globalCache
	}
	return &Factory{opts: opts}
}

// NewRuntime implements ports.RuntimeFactory.
func (f *Factory) NewRuntime(spec ports.LoadSpec, handle ports.HostHandle) (ports.GuestRuntime, error) {
	return New(spec, handle, f.opts)
}

// registration is what pi.register hands to Start.
type registration struct {
	raw json.RawMessage
	err error
}

// Runtime is one sandboxed goja instance.
type Runtime struct {
	id        string
	entryPath string
	vm        *goja.Runtime
	loop      *loop
	calls     *caller
	loader    *loader
	cache     *ProgramCache
	logger    *slog.Logger

	registered chan registration
	handlers   *handlers

	// loop goroutine only
	loadFailure error
	rejections  map[*goja.Promise]goja.Value

	interrupted atomic.Bool
	closeOnce   sync.Once
}

var _ ports.GuestRuntime = (*Runtime)(nil)
var _ shims.Host = (*Runtime)(nil)

// New creates a runtime for spec. The loop starts immediately; guest code
// runs only once Start is called.
func New(spec ports.LoadSpec, handle ports.HostHandle, opts Options) (*Runtime, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Cache == nil {
		opts.Cache = globalCache
	}
	files, err := vfs.New(spec.Root, vfs.Options{HostFallback: true, MaxReadBytes: opts.MaxSourceBytes})
	if err != nil {
		return nil, fmt.Errorf("failed to open extension root: %w", err)
	}

	entry := spec.EntryPath
	if rel, err := filepath.Rel(spec.Root, spec.EntryPath); err == nil && !strings.HasPrefix(rel, "..") {
		entry = filepath.Join(files.Root(), rel)
	}

	r := &Runtime{
		id:         spec.ID.String(),
		entryPath:  entry,
		vm:         goja.New(),
		cache:      opts.Cache,
		logger:     opts.Logger.With("extension", spec.ID.String()),
		registered: make(chan registration, 1),
		rejections: make(map[*goja.Promise]goja.Value),
	}
	r.vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	r.vm.SetPromiseRejectionTracker(r.trackRejection)
	r.loader = newLoader(r, files)
	r.calls = newCaller(r.id, handle, r.logger)
	r.loop = newLoop(r.exec)
	go r.loop.run()
	return r, nil
}

// VM implements shims.Host.
func (r *Runtime) VM() *goja.Runtime { return r.vm }

// ExtensionID implements shims.Host.
func (r *Runtime) ExtensionID() string { return r.id }

// Root implements shims.Host.
func (r *Runtime) Root() string { return r.loader.files.Root() }

// EntryPath implements shims.Host.
func (r *Runtime) EntryPath() string { return r.entryPath }

// Require implements shims.Host. Path specifiers resolve against the
// directory of the entry module.
func (r *Runtime) Require(specifier string) (goja.Value, error) {
	return r.loader.require(path.Dir(r.entryPath), specifier)
}

// Compile implements shims.Host.
func (r *Runtime) Compile(name, src string) (*goja.Program, error) {
	return r.cache.Compile(name, src)
}

// CallSync implements shims.Host.
func (r *Runtime) CallSync(op string, args any) hostcall.Outcome {
	return r.calls.call(op, args)
}

// CallAsync implements shims.Host.
func (r *Runtime) CallAsync(op string, args any, done func(hostcall.Outcome)) {
	r.loop.inflight++
	r.calls.callAsync(op, args, func(out hostcall.Outcome) {
		if done == nil {
			r.loop.complete(nil)
			return
		}
		r.loop.complete(func() { done(out) })
	})
}

// exec runs fn inside a VM call so promise jobs queued by fn run before
// the next task.
func (r *Runtime) exec(fn func()) {
	if r.interrupted.Swap(false) {
		r.vm.ClearInterrupt()
	}
	task, _ := goja.AssertFunction(r.vm.ToValue(func(goja.FunctionCall) goja.Value {
		fn()
		return goja.Undefined()
	}))
	if _, err := task(goja.Undefined()); err != nil {
		r.uncaught(err)
	}
	r.reportRejections()
}

func (r *Runtime) interrupt(reason any) {
	r.vm.Interrupt(reason)
	r.interrupted.Store(true)
}

func (r *Runtime) uncaught(err error) {
	if code, ok := exitCode(err); ok {
		r.logger.Debug("extension called process.exit", "code", code)
		return
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		r.logger.Debug("extension task interrupted", "reason", interrupted.Value())
		return
	}
	r.logger.Warn("uncaught exception in extension", "error", err.Error())
}

func (r *Runtime) trackRejection(p *goja.Promise, op goja.PromiseRejectionOperation) {
	switch op {
	case goja.PromiseRejectionReject:
		r.rejections[p] = p.Result()
	case goja.PromiseRejectionHandle:
		delete(r.rejections, p)
	}
}

func (r *Runtime) reportRejections() {
	for p, reason := range r.rejections {
		r.logger.Warn("unhandled promise rejection in extension", "reason", describe(reason))
		delete(r.rejections, p)
	}
}

func describe(v goja.Value) string {
	if v == nil {
		return "undefined"
	}
	if obj, ok := v.(*goja.Object); ok {
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
			return msg.String()
		}
	}
	return v.String()
}

func (r *Runtime) noteLoadFailure(err error) {
	if r.loadFailure == nil {
		r.loadFailure = err
	}
}

// Start evaluates the entry module and waits for pi.register.
func (r *Runtime) Start(ctx context.Context) (json.RawMessage, error) {
	booted := make(chan error, 1)
	if !r.loop.submit(func() {
		if err := r.boot(); err != nil {
			booted <- r.bootFailure(err)
			return
		}
		booted <- nil
	}) {
		return nil, r.loadError(apperrors.LoadRuntime, "runtime closed before start", ErrClosed)
	}

	select {
	case err := <-booted:
		if err != nil {
			select {
			case reg := <-r.registered:
				if reg.err != nil {
					return nil, reg.err
				}
			default:
			}
			return nil, err
		}
	case <-ctx.Done():
		r.interrupt(ctx.Err())
		return nil, r.loadError(apperrors.LoadTimeout, "entry module did not finish evaluating", ctx.Err())
	}

	select {
	case reg := <-r.registered:
		return reg.raw, reg.err
	default:
	}

	idle, ok := r.loop.whenIdle()
	if !ok {
		return nil, r.loadError(apperrors.LoadRuntime, "runtime closed during start", ErrClosed)
	}
	select {
	case reg := <-r.registered:
		return reg.raw, reg.err
	case <-idle:
		select {
		case reg := <-r.registered:
			return reg.raw, reg.err
		default:
		}
		return nil, r.loadError(apperrors.LoadRegistration, "extension finished loading without calling pi.register", nil)
	case <-ctx.Done():
		r.interrupt(ctx.Err())
		return nil, r.loadError(apperrors.LoadTimeout, "extension did not register in time", ctx.Err())
	}
}

// boot installs the globals and evaluates the entry module. A module that
// exports a function is called with pi.
func (r *Runtime) boot() error {
	vm := r.vm
	if err := vm.Set("require", r.loader.requireFunc(path.Dir(r.entryPath))); err != nil {
		return err
	}
	if err := shims.InstallGlobals(r); err != nil {
		return err
	}
	if err := installTimers(r); err != nil {
		return err
	}
	pi, err := newPI(r)
	if err != nil {
		return err
	}
	if err := vm.Set("pi", pi); err != nil {
		return err
	}

	exports, err := r.loader.load(r.entryPath)
	if err != nil {
		return err
	}
	if factory, ok := goja.AssertFunction(exports); ok {
		result, err := factory(goja.Undefined(), pi)
		if err != nil {
			return err
		}
		r.watchFactory(result)
	}
	return nil
}

// watchFactory reports a rejected async factory as a load failure.
func (r *Runtime) watchFactory(result goja.Value) {
	then, obj := thenOf(r.vm, result)
	if then == nil {
		return
	}
	onReject := r.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		err := guestError(r.id, call.Argument(0))
		select {
		case r.registered <- registration{err: r.loadError(apperrors.LoadRuntime, "extension factory rejected", err)}:
		default:
		}
		return goja.Undefined()
	})
	_, _ = then(obj, goja.Undefined(), onReject)
}

// bootFailure classifies a boot error. It runs on the loop goroutine.
func (r *Runtime) bootFailure(err error) error {
	var le *apperrors.LoadError
	if errors.As(err, &le) {
		return le
	}
	if r.loadFailure != nil {
		err = r.loadFailure
	}
	if code, ok := exitCode(err); ok {
		return r.loadError(apperrors.LoadRuntime, fmt.Sprintf("extension exited with code %d while loading", code), err)
	}
	return r.loadError(classifyLoadError(err), "failed to evaluate entry module", err)
}

func (r *Runtime) loadError(kind apperrors.LoadErrorKind, msg string, cause error) *apperrors.LoadError {
	return apperrors.NewLoadError(r.id, kind, msg, cause)
}

// InvokeTool calls the execute function of a registered tool.
func (r *Runtime) InvokeTool(ctx context.Context, name string, input json.RawMessage) (json.RawMessage, error) {
	return r.invoke(ctx, "tool "+name, func(vm *goja.Runtime) (goja.Value, error) {
		fn, ok := r.handlers.tool(name)
		if !ok {
			return nil, fmt.Errorf("extension %s has no tool %q", r.id, name)
		}
		callID := r.calls.ids.Next()
		return fn(goja.Undefined(), vm.ToValue(callID), shims.FromJSON(vm, input), r.invocationContext())
	})
}

// RunCommand calls the handler of a registered command.
func (r *Runtime) RunCommand(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	return r.invoke(ctx, "command "+name, func(vm *goja.Runtime) (goja.Value, error) {
		fn, ok := r.handlers.command(name)
		if !ok {
			return nil, fmt.Errorf("extension %s has no command %q", r.id, name)
		}
		return fn(goja.Undefined(), shims.FromJSON(vm, args), r.invocationContext())
	})
}

// InvokeHook calls the index-th declared event hook with the event payload.
func (r *Runtime) InvokeHook(ctx context.Context, index int, event entities.EventName, payload json.RawMessage) (*entities.HookResult, error) {
	raw, err := r.invoke(ctx, "hook "+string(event), func(vm *goja.Runtime) (goja.Value, error) {
		fn, ok := r.handlers.hook(index)
		if !ok {
			return nil, fmt.Errorf("extension %s has no event hook #%d", r.id, index)
		}
		ev := vm.NewObject()
		if data, ok := shims.FromJSON(vm, payload).(*goja.Object); ok {
			for _, k := range data.Keys() {
				_ = ev.Set(k, data.Get(k))
			}
		}
		_ = ev.Set("type", string(event))
		return fn(goja.Undefined(), ev, r.invocationContext())
	})
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var res entities.HookResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, nil
	}
	return &res, nil
}

func (r *Runtime) invocationContext() *goja.Object {
	ctx := r.vm.NewObject()
	_ = ctx.Set("extensionId", r.id)
	_ = ctx.Set("cwd", r.Root())
	_ = ctx.Set("hasUI", false)
	return ctx
}

type invokeResult struct {
	raw json.RawMessage
	err error
}

// invoke runs call on the loop and waits for its value, following a
// returned promise until it settles.
func (r *Runtime) invoke(ctx context.Context, what string, call func(vm *goja.Runtime) (goja.Value, error)) (json.RawMessage, error) {
	done := make(chan invokeResult, 1)
	settle := func(res invokeResult) {
		select {
		case done <- res:
		default:
		}
	}

	ok := r.loop.submit(func() {
		vm := r.vm
		if r.handlers == nil {
			settle(invokeResult{err: apperrors.ErrNotActive})
			return
		}
		v, err := call(vm)
		if err != nil {
			var ex *goja.Exception
			if errors.As(err, &ex) {
				err = guestError(r.id, ex.Value())
			}
			settle(invokeResult{err: err})
			return
		}
		then, obj := thenOf(vm, v)
		if then == nil {
			settle(r.encode(v))
			return
		}
		onFulfilled := vm.ToValue(func(c goja.FunctionCall) goja.Value {
			settle(r.encode(c.Argument(0)))
			return goja.Undefined()
		})
		onRejected := vm.ToValue(func(c goja.FunctionCall) goja.Value {
			settle(invokeResult{err: guestError(r.id, c.Argument(0))})
			return goja.Undefined()
		})
		if _, err := then(obj, onFulfilled, onRejected); err != nil {
			settle(invokeResult{err: err})
		}
	})
	if !ok {
		return nil, ErrClosed
	}

	select {
	case res := <-done:
		return res.raw, res.err
	case <-ctx.Done():
		r.interrupt(ctx.Err())
		return nil, fmt.Errorf("%s: %w", what, ctx.Err())
	case <-r.loop.done:
		return nil, ErrClosed
	}
}

func (r *Runtime) encode(v goja.Value) invokeResult {
	if v == nil || goja.IsUndefined(v) {
		return invokeResult{raw: json.RawMessage("null")}
	}
	raw, err := shims.ToJSON(r.vm, v)
	if err != nil {
		return invokeResult{err: fmt.Errorf("extension %s returned a value that is not JSON: %w", r.id, err)}
	}
	return invokeResult{raw: raw}
}

// thenOf returns the then method of a thenable.
func thenOf(vm *goja.Runtime, v goja.Value) (goja.Callable, *goja.Object) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, nil
	}
	then, ok := goja.AssertFunction(obj.Get("then"))
	if !ok {
		return nil, nil
	}
	return then, obj
}

// guestError converts a thrown or rejected value. Hostcall failures keep
// their taxonomy code.
func guestError(extension string, v goja.Value) error {
	ge := &apperrors.GuestError{Extension: extension, Message: describe(v)}
	if obj, ok := v.(*goja.Object); ok {
		if code := obj.Get("code"); code != nil && !goja.IsUndefined(code) {
			if c := hostcall.Code(code.String()); c.Valid() {
				ge.Code = c
			}
		}
	}
	return ge
}

// exitCode reports whether err is a process.exit unwinding the guest.
func exitCode(err error) (int, bool) {
	var ex *goja.Exception
	if !errors.As(err, &ex) {
		return 0, false
	}
	obj, ok := ex.Value().(*goja.Object)
	if !ok {
		return 0, false
	}
	if code := obj.Get("code"); code == nil || code.String() != shims.ExitCode {
		return 0, false
	}
	if status := obj.Get("exitCode"); status != nil && !goja.IsUndefined(status) {
		return int(status.ToInteger()), true
	}
	return 0, true
}

// Drain waits until no hostcalls or timers are outstanding.
func (r *Runtime) Drain(ctx context.Context) error {
	idle, ok := r.loop.whenIdle()
	if !ok {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-r.loop.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the runtime. In-flight hostcalls are cancelled and queued
// ones fail as denied.
func (r *Runtime) Close() error {
	r.closeOnce.Do(func() {
		r.interrupt(ErrClosed)
		r.calls.close()
		r.loop.shutdown()
	})
	return nil
}
