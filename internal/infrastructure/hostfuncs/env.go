package hostfuncs

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/reglet-dev/extsandbox/internal/application/ports"
	"github.com/reglet-dev/extsandbox/internal/domain/capabilities"
	"github.com/reglet-dev/extsandbox/internal/domain/hostcall"
)

// EnvArgs reads one variable by name. The environment cannot be listed.
type EnvArgs struct {
	Name string `json:"name" validate:"required"`
}

// EnvReader serves env.get. Secret-looking names are never exposed.
type EnvReader struct {
	// Lookup defaults to os.LookupEnv.
	Lookup func(string) (string, bool)
}

// Operation returns the env.get op.
func (r *EnvReader) Operation(timeout time.Duration) Operation {
	return NewOperation(hostcall.OpEnvGet, timeout, Requires[EnvArgs](capabilities.Env), r.run)
}

func (r *EnvReader) run(_ context.Context, _ *ports.CallScope, args EnvArgs) (any, error) {
	if IsSecretEnvName(args.Name) {
		return map[string]any{"value": nil}, nil
	}
	lookup := r.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	value, ok := lookup(args.Name)
	if !ok {
		return map[string]any{"value": nil}, nil
	}
	return map[string]any{"value": value}, nil
}

var secretEnvExact = map[string]bool{
	"DATABASE_URL":          true,
	"AWS_SECRET_ACCESS_KEY": true,
	"AWS_SESSION_TOKEN":     true,
	"AWS_ACCESS_KEY_ID":     true,
	"GITHUB_TOKEN":          true,
	"GH_TOKEN":              true,
	"GITLAB_TOKEN":          true,
	"NPM_TOKEN":             true,
	"SLACK_TOKEN":           true,
	"HF_TOKEN":              true,
}

var secretEnvAllowed = map[string]bool{
	"AWS_REGION":         true,
	"AWS_DEFAULT_REGION": true,
	"AWS_PROFILE":        true,
}

var secretEnvSuffixes = []string{
	"_API_KEY", "_APIKEY", "_SECRET", "_SECRET_KEY", "_PASSWORD", "_PASSWD", "PRIVATE_KEY",
	"_ACCESS_KEY", "_TOKEN", "_SESSION_ID", "_SESSION_KEY", "_COOKIE",
}

// IsSecretEnvName reports whether a variable name looks like it carries a
// credential.
func IsSecretEnvName(name string) bool {
	upper := strings.ToUpper(strings.TrimSpace(name))
	if secretEnvAllowed[upper] {
		return false
	}
	if secretEnvExact[upper] || strings.Contains(upper, "CREDENTIAL") {
		return true
	}
	for _, suffix := range secretEnvSuffixes {
		if strings.HasSuffix(upper, suffix) {
			return true
		}
	}
	return false
}
