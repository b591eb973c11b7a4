package hostfuncs

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/reglet-dev/extsandbox/internal/application/ports"
	"github.com/reglet-dev/extsandbox/internal/domain/hostcall"
)

// Recover turns a handler panic into an internal error.
func Recover(op string, next Handler) Handler {
	return func(ctx context.Context, scope *ports.CallScope) (value any, err error) {
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(ctx, "hostcall handler panicked",
					"op", op, "extension", scope.ExtensionID, "panic", r, "stack", string(debug.Stack()))
				value = nil
				err = hostcall.Errorf(hostcall.CodeInternal, "%s: handler panic: %v", op, r)
			}
		}()
		return next(ctx, scope)
	}
}

// Logging logs every call at debug level.
func Logging(op string, next Handler) Handler {
	return func(ctx context.Context, scope *ports.CallScope) (any, error) {
		start := time.Now()
		value, err := next(ctx, scope)
		slog.DebugContext(ctx, "hostcall",
			"extension", scope.ExtensionID, "op", op, "duration", time.Since(start), "error", err)
		return value, err
	}
}
