package hostfuncs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/extsandbox/internal/domain/hostcall"
)

func TestIsSecretEnvName(t *testing.T) {
	t.Parallel()

	secret := []string{
		"AWS_SECRET_ACCESS_KEY", "aws_session_token", "GITHUB_TOKEN", "DATABASE_URL",
		"OPENAI_API_KEY", "STRIPE_SECRET", "DB_PASSWORD", "SSH_PRIVATE_KEY",
		"GOOGLE_APPLICATION_CREDENTIALS", "VAULT_AUTH_TOKEN",
		"CLAUDE_CODE_MESSAGING_TOKEN", "BUILDKITE_AGENT_TOKEN", "XDG_SESSION_ID", "APP_SESSION_KEY",
	}
	visible := []string{"HOME", "PATH", "AWS_REGION", "AWS_PROFILE", "EDITOR", "TOKENIZER_MODE"}

	for _, name := range secret {
		assert.True(t, IsSecretEnvName(name), name)
	}
	for _, name := range visible {
		assert.False(t, IsSecretEnvName(name), name)
	}
}

func TestEnvReader(t *testing.T) {
	t.Parallel()

	env := map[string]string{"HOME": "/home/dev", "GITHUB_TOKEN": "ghp_x"}
	r := &EnvReader{
		Lookup: func(name string) (string, bool) {
			v, ok := env[name]
			return v, ok
		},
	}

	get := func(args EnvArgs) any {
		v, err := r.run(context.Background(), nil, args)
		require.NoError(t, err)
		return v
	}

	assert.Equal(t, map[string]any{"value": "/home/dev"}, get(EnvArgs{Name: "HOME"}))
	assert.Equal(t, map[string]any{"value": nil}, get(EnvArgs{Name: "GITHUB_TOKEN"}), "blocked names read as unset")
	assert.Equal(t, map[string]any{"value": nil}, get(EnvArgs{Name: "MISSING"}))
}

func TestEnvOp_RequiresName(t *testing.T) {
	t.Parallel()
	s := newSandbox(t, Dependencies{LookupEnv: func(string) (string, bool) { return "v", true }})

	requireCode(t, s.call(t, hostcall.OpEnvGet, EnvArgs{}), hostcall.CodeInvalidRequest)
	requireCode(t, s.call(t, hostcall.OpEnvGet, map[string]bool{"all": true}), hostcall.CodeInvalidRequest)

	var v map[string]any
	s.ok(t, hostcall.OpEnvGet, EnvArgs{Name: "ANY"}, &v)
	assert.Equal(t, "v", v["value"])
}
