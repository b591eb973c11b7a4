package hostfuncs

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/reglet-dev/extsandbox/internal/application/ports"
	"github.com/reglet-dev/extsandbox/internal/domain/capabilities"
	"github.com/reglet-dev/extsandbox/internal/domain/hostcall"
)

// Dispatcher is the single hostcall boundary. It validates the request,
// consults the authorizer, applies the effective deadline, runs the handler,
// and charges the extension budget.
type Dispatcher struct {
	authorizer ports.Authorizer
	registry   *Registry
	audit      ports.AuditSink
	metrics    *Metrics
	timeouts   map[string]time.Duration
	middleware []Middleware
	now        func() time.Time
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithAuditSink records denied and failed calls.
func WithAuditSink(sink ports.AuditSink) DispatcherOption {
	return func(d *Dispatcher) { d.audit = sink }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithOpTimeouts overrides intrinsic op timeouts.
func WithOpTimeouts(timeouts map[string]time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		for op, t := range timeouts {
			if t > 0 {
				d.timeouts[op] = t
			}
		}
	}
}

// WithMiddleware appends handler middleware. The first one is outermost.
func WithMiddleware(mw ...Middleware) DispatcherOption {
	return func(d *Dispatcher) { d.middleware = append(d.middleware, mw...) }
}

// NewDispatcher creates a dispatcher. Panic recovery is always installed
// innermost.
func NewDispatcher(authorizer ports.Authorizer, registry *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		authorizer: authorizer,
		registry:   registry,
		timeouts:   make(map[string]time.Duration),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch implements ports.Dispatcher. It always returns exactly one
// outcome and never panics.
func (d *Dispatcher) Dispatch(ctx context.Context, scope *ports.CallScope, req hostcall.Request) (out hostcall.Outcome) {
	start := d.now()
	var capability capabilities.Capability
	var check capabilities.Check

	defer func() {
		elapsed := d.now().Sub(start)
		if scope != nil && scope.Budget != nil {
			scope.Budget.Charge(elapsed)
		}
		d.observe(ctx, scope, req, capability, check, out, start, elapsed)
	}()

	if scope == nil {
		return hostcall.Failure(hostcall.Errorf(hostcall.CodeInternal, "hostcall without scope"))
	}
	if strings.TrimSpace(req.CallID) == "" {
		return hostcall.Failure(hostcall.Errorf(hostcall.CodeInvalidRequest, "missing call id"))
	}
	if strings.TrimSpace(req.Op) == "" {
		return hostcall.Failure(hostcall.Errorf(hostcall.CodeInvalidRequest, "missing op"))
	}
	if req.ExtensionID != "" && !strings.EqualFold(req.ExtensionID, scope.ExtensionID) {
		return hostcall.Failure(hostcall.Errorf(hostcall.CodeInvalidRequest, "extension id mismatch"))
	}

	op, ok := d.registry.Lookup(req.Op)
	if !ok {
		return hostcall.Failure(hostcall.Errorf(hostcall.CodeInvalidRequest, "unknown op %q", req.Op))
	}

	capability, handler, err := op.Bind(req.Args)
	if err != nil {
		return hostcall.Failure(hostcall.Classify(err))
	}

	// An exhausted budget fails before the policy can prompt.
	if scope.Budget != nil && scope.Budget.Exhausted() {
		return hostcall.Failure(hostcall.Errorf(hostcall.CodeTimeout, "extension budget exhausted"))
	}

	check = d.authorizer.Authorize(ctx, scope.ExtensionID, capability, req.Op)
	if !check.Allowed() {
		return hostcall.Failure(hostcall.Denied(string(check.Capability), string(check.Reason)))
	}

	effective := d.effectiveTimeout(op, req.TimeoutHint(), scope.Budget)

	callCtx, cancel := context.WithTimeout(ctx, effective)
	defer cancel()
	callCtx = context.WithValue(callCtx, authorizeKey{}, authorizeFunc(func(ctx context.Context, c capabilities.Capability) capabilities.Check {
		return d.authorizer.Authorize(ctx, scope.ExtensionID, c, req.Op)
	}))

	return d.run(callCtx, op.Name, handler, scope)
}

type authorizeKey struct{}

type authorizeFunc func(context.Context, capabilities.Capability) capabilities.Check

// requireCapability authorizes a capability an op needs beyond the one it
// was dispatched under, such as read access to a host file being appended.
func requireCapability(ctx context.Context, c capabilities.Capability) error {
	authorize, ok := ctx.Value(authorizeKey{}).(authorizeFunc)
	if !ok {
		return hostcall.Errorf(hostcall.CodeInternal, "no authorizer for %s", c)
	}
	check := authorize(ctx, c)
	if !check.Allowed() {
		return hostcall.Denied(string(check.Capability), string(check.Reason))
	}
	return nil
}

// effectiveTimeout is the smallest of the op timeout, the guest hint and the
// remaining budget.
func (d *Dispatcher) effectiveTimeout(op Operation, hint time.Duration, budget *hostcall.Budget) time.Duration {
	timeout := d.timeoutFor(op)
	if budget != nil {
		return budget.Effective(timeout, hint)
	}
	if hint > 0 && hint < timeout {
		return hint
	}
	return timeout
}

func (d *Dispatcher) timeoutFor(op Operation) time.Duration {
	if t, ok := d.timeouts[op.Name]; ok {
		return t
	}
	if op.Timeout > 0 {
		return op.Timeout
	}
	return defaultOpTimeout
}

type result struct {
	value any
	err   error
}

// run executes the handler on its own goroutine and stops waiting once the
// deadline passes. Handlers observe ctx and release their resources on
// cancellation.
func (d *Dispatcher) run(ctx context.Context, op string, handler Handler, scope *ports.CallScope) hostcall.Outcome {
	wrapped := Recover(op, handler)
	for i := len(d.middleware) - 1; i >= 0; i-- {
		wrapped = d.middleware[i](op, wrapped)
	}

	done := make(chan result, 1)
	go func() {
		v, err := wrapped(ctx, scope)
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			herr := hostcall.Classify(r.err)
			if ctx.Err() != nil && herr.Code == hostcall.CodeIO {
				herr = hostcall.Errorf(hostcall.CodeTimeout, "%s: %v", op, ctx.Err())
			}
			return hostcall.Failure(herr)
		}
		return hostcall.Success(r.value)
	case <-ctx.Done():
		return hostcall.Failure(hostcall.Errorf(hostcall.CodeTimeout, "%s: %v", op, ctx.Err()))
	}
}

func (d *Dispatcher) observe(ctx context.Context, scope *ports.CallScope, req hostcall.Request,
	capability capabilities.Capability, check capabilities.Check, out hostcall.Outcome, start time.Time, elapsed time.Duration,
) {
	code := out.Code()
	extension := req.ExtensionID
	if scope != nil {
		extension = scope.ExtensionID
	}

	if d.metrics != nil {
		label := req.Op
		if _, known := d.registry.Lookup(req.Op); !known {
			label = "unknown"
		}
		d.metrics.observe(label, code, elapsed)
		if code == string(hostcall.CodeDenied) && capability != "" {
			d.metrics.denied(string(capability), string(check.Reason))
		}
	}

	switch hostcall.Code(code) {
	case hostcall.CodeInternal:
		slog.ErrorContext(ctx, "hostcall internal error",
			"extension", extension, "op", req.Op, "call_id", req.CallID, "error", errorMessage(out))
	case hostcall.CodeDenied:
		slog.DebugContext(ctx, "hostcall denied",
			"extension", extension, "op", req.Op, "capability", capability, "reason", check.Reason)
	case hostcall.CodeIO, hostcall.CodeTimeout, hostcall.CodeInvalidRequest:
		slog.DebugContext(ctx, "hostcall failed",
			"extension", extension, "op", req.Op, "code", code, "error", errorMessage(out))
	}

	if d.audit == nil {
		return
	}
	switch hostcall.Code(code) {
	case hostcall.CodeDenied, hostcall.CodeIO, hostcall.CodeInternal:
		d.audit.Record(ports.AuditRecord{
			ExtensionID: extension,
			Op:          req.Op,
			OutcomeCode: code,
			ElapsedMS:   elapsed.Milliseconds(),
			Timestamp:   start,
			Message:     errorMessage(out),
		})
	}
}

func errorMessage(out hostcall.Outcome) string {
	if out.Error == nil {
		return ""
	}
	return out.Error.Message
}
