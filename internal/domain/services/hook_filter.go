package services

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/reglet-dev/extsandbox/internal/domain/entities"
)

// HookFilter is a compiled hook filter expression. The expression sees the
// event payload's top-level keys plus "event" and "extension".
//
//	tool == "bash" && input.command contains "rm"
type HookFilter struct {
	source  string
	program *vm.Program
}

// CompileHookFilter compiles a filter. An empty source yields a nil filter,
// which matches every event.
func CompileHookFilter(source string) (*HookFilter, error) {
	if strings.TrimSpace(source) == "" {
		return nil, nil
	}
	program, err := expr.Compile(source, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile hook filter %q: %w", source, err)
	}
	return &HookFilter{source: source, program: program}, nil
}

// Source returns the expression text.
func (f *HookFilter) Source() string {
	if f == nil {
		return ""
	}
	return f.source
}

// Matches evaluates the filter for one event delivery.
func (f *HookFilter) Matches(event entities.EventName, extension string, payload map[string]any) (bool, error) {
	if f == nil {
		return true, nil
	}

	env := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		env[k] = v
	}
	env["event"] = string(event)
	env["extension"] = extension

	output, err := expr.Run(f.program, env)
	if err != nil {
		return false, fmt.Errorf("hook filter %q: %w", f.source, err)
	}
	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("hook filter %q did not return boolean: %v", f.source, output)
	}
	return result, nil
}
