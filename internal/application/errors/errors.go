// Package apperrors defines application-level error types.
package apperrors

import (
	"errors"
	"fmt"

	"github.com/reglet-dev/extsandbox/internal/domain/capabilities"
	"github.com/reglet-dev/extsandbox/internal/domain/hostcall"
)

// ValidationError indicates configuration or registration validation failed.
type ValidationError struct {
	Field   string   // Field that failed validation
	Message string   // Error message
	Details []string // Additional details
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s: %s (%d issues)", e.Field, e.Message, len(e.Details))
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string, details ...string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Details: details,
	}
}

// CapabilityError indicates a capability was refused.
type CapabilityError struct {
	Extension string
	Check     capabilities.Check
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("capability error: extension %s: %s denied (%s)", e.Extension, e.Check.Capability, e.Check.Reason)
}

// NewCapabilityError creates a new capability error.
func NewCapabilityError(extension string, check capabilities.Check) *CapabilityError {
	return &CapabilityError{Extension: extension, Check: check}
}

// LoadErrorKind classifies why an extension failed to load.
type LoadErrorKind string

const (
	LoadModuleNotFound LoadErrorKind = "module_not_found"
	LoadSyntax         LoadErrorKind = "syntax"
	LoadRegistration   LoadErrorKind = "registration"
	LoadAPIVersion     LoadErrorKind = "api_version"
	LoadTimeout        LoadErrorKind = "timeout"
	LoadRuntime        LoadErrorKind = "runtime"
	LoadEntry          LoadErrorKind = "entry"
)

// LoadError is a terminal load failure of one extension.
type LoadError struct {
	Cause     error
	Extension string
	Kind      LoadErrorKind
	Message   string
}

func (e *LoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("load failed for extension %s (%s): %s: %v", e.Extension, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("load failed for extension %s (%s): %s", e.Extension, e.Kind, e.Message)
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// NewLoadError creates a new load error.
func NewLoadError(extension string, kind LoadErrorKind, message string, cause error) *LoadError {
	return &LoadError{
		Extension: extension,
		Kind:      kind,
		Message:   message,
		Cause:     cause,
	}
}

// LoadKind extracts the load failure kind from an error chain.
func LoadKind(err error) (LoadErrorKind, bool) {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Kind, true
	}
	return "", false
}

// GuestError is an error raised by guest code while serving a tool, command
// or hook. Code is set when the guest error originated from a failed hostcall.
type GuestError struct {
	Extension string
	Code      hostcall.Code
	Message   string
}

func (e *GuestError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("extension %s: %s: %s", e.Extension, e.Code, e.Message)
	}
	return fmt.Sprintf("extension %s: %s", e.Extension, e.Message)
}

// ConfigurationError indicates system config or setup issue.
type ConfigurationError struct {
	Cause   error
	Aspect  string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("configuration error (%s): %s: %v", e.Aspect, e.Message, e.Cause)
	}
	return fmt.Sprintf("configuration error (%s): %s", e.Aspect, e.Message)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Cause
}

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(aspect, message string, cause error) *ConfigurationError {
	return &ConfigurationError{
		Aspect:  aspect,
		Message: message,
		Cause:   cause,
	}
}

// ErrExtensionNotFound is returned for operations on unknown extensions.
var ErrExtensionNotFound = errors.New("extension not found")

// ErrNotActive is returned when an operation needs an Active extension.
var ErrNotActive = errors.New("extension is not active")
