// Package hostcall defines the wire contract between sandboxed guest code and
// the host: requests, outcomes, the error taxonomy, and per-extension budgets.
package hostcall

import (
	"context"
	"errors"
	"fmt"
)

// Code is the closed error taxonomy shared by every hostcall.
type Code string

const (
	// CodeDenied is a policy or containment refusal.
	CodeDenied Code = "denied"
	// CodeInvalidRequest is a malformed call from the guest.
	CodeInvalidRequest Code = "invalid_request"
	// CodeTimeout means the deadline or the extension budget ran out.
	CodeTimeout Code = "timeout"
	// CodeIO is a real I/O failure.
	CodeIO Code = "io"
	// CodeInternal is a host bug.
	CodeInternal Code = "internal"
)

// Valid reports whether c is one of the taxonomy codes.
func (c Code) Valid() bool {
	switch c {
	case CodeDenied, CodeInvalidRequest, CodeTimeout, CodeIO, CodeInternal:
		return true
	}
	return false
}

// Error is the failure half of an outcome.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Is matches another *Error by code so errors.Is(err, &Error{Code: CodeDenied}) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// Errorf builds an Error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Denied builds a denied error naming the capability and the reason.
func Denied(capability, reason string) *Error {
	return Errorf(CodeDenied, "capability '%s' denied (%s)", capability, reason)
}

// Classify maps an arbitrary handler error onto the taxonomy. Context
// cancellation and deadlines become timeout, typed *Error values pass
// through, and everything else is io.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var he *Error
	if errors.As(err, &he) {
		return he
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Code: CodeTimeout, Message: err.Error()}
	}
	return &Error{Code: CodeIO, Message: err.Error()}
}
