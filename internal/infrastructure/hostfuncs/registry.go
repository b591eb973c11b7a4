// Package hostfuncs implements the hostcall dispatcher and the host
// functions behind every op a sandboxed extension can issue.
package hostfuncs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/reglet-dev/extsandbox/internal/application/ports"
	"github.com/reglet-dev/extsandbox/internal/domain/capabilities"
	"github.com/reglet-dev/extsandbox/internal/domain/hostcall"
)

// Handler performs the effect of one bound call.
type Handler func(ctx context.Context, scope *ports.CallScope) (any, error)

// Middleware wraps a handler. op is the operation name.
type Middleware func(op string, next Handler) Handler

// Operation is one entry of the op registry. Arguments are decoded and
// validated by bind before any policy check, so malformed calls never reach
// the authorizer.
type Operation struct {
	Name string
	// Timeout is the intrinsic deadline of the op.
	Timeout time.Duration
	bind    func(raw json.RawMessage) (capabilities.Capability, Handler, error)
}

// Bind decodes raw arguments and returns the capability the call needs and
// the handler that performs it.
func (o Operation) Bind(raw json.RawMessage) (capabilities.Capability, Handler, error) {
	return o.bind(raw)
}

var validate = validator.New()

// NewOperation builds an operation over typed arguments. capFor maps the
// decoded arguments to the required capability.
func NewOperation[A any](name string, timeout time.Duration, capFor func(A) capabilities.Capability,
	fn func(ctx context.Context, scope *ports.CallScope, args A) (any, error),
) Operation {
	return Operation{
		Name:    name,
		Timeout: timeout,
		bind: func(raw json.RawMessage) (capabilities.Capability, Handler, error) {
			var args A
			if err := decodeArgs(raw, &args); err != nil {
				return "", nil, err
			}
			if err := validate.Struct(args); err != nil {
				return "", nil, hostcall.Errorf(hostcall.CodeInvalidRequest, "%s: invalid arguments: %v", name, err)
			}
			return capFor(args), func(ctx context.Context, scope *ports.CallScope) (any, error) {
				return fn(ctx, scope, args)
			}, nil
		},
	}
}

// Requires returns a capability mapper for ops with a fixed capability.
func Requires[A any](c capabilities.Capability) func(A) capabilities.Capability {
	return func(A) capabilities.Capability { return c }
}

func decodeArgs(raw json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		trimmed = []byte("{}")
	}
	if trimmed[0] != '{' {
		return hostcall.Errorf(hostcall.CodeInvalidRequest, "arguments must be a JSON object")
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return hostcall.Errorf(hostcall.CodeInvalidRequest, "malformed arguments: %v", err)
	}
	return nil
}

// Registry maps op names to operations.
type Registry struct {
	ops map[string]Operation
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]Operation)}
}

// Register adds operations. Registering a name twice is a programming error.
func (r *Registry) Register(ops ...Operation) error {
	for _, op := range ops {
		if op.Name == "" || op.bind == nil {
			return errors.New("hostfuncs: operation needs a name and a binder")
		}
		if _, exists := r.ops[op.Name]; exists {
			return fmt.Errorf("hostfuncs: operation %s registered twice", op.Name)
		}
		r.ops[op.Name] = op
	}
	return nil
}

// MustRegister is Register that panics.
func (r *Registry) MustRegister(ops ...Operation) *Registry {
	if err := r.Register(ops...); err != nil {
		panic(err)
	}
	return r
}

// Lookup finds an operation.
func (r *Registry) Lookup(name string) (Operation, bool) {
	op, ok := r.ops[name]
	return op, ok
}

// Names returns the registered op names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
