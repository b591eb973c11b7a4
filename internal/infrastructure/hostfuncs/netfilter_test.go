package hostfuncs

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPrivateOrReservedIP(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"127.0.0.1":       true,
		"10.1.2.3":        true,
		"172.16.0.1":      true,
		"172.32.0.1":      false,
		"192.168.1.1":     true,
		"169.254.169.254": true,
		"100.64.0.1":      true,
		"0.0.0.0":         true,
		"224.0.0.1":       true,
		"::1":             true,
		"::":              true,
		"fd00::1":         true,
		"fe80::1":         true,
		"::ffff:10.0.0.1": true,
		"8.8.8.8":         false,
		"2606:4700::1111": false,
	}
	for raw, want := range tests {
		assert.Equal(t, want, IsPrivateOrReservedIP(net.ParseIP(raw)), raw)
	}
}

func TestResolveAndValidate(t *testing.T) {
	t.Parallel()

	resolver := staticResolver{
		"public.example": {net.ParseIP("93.184.216.34")},
		"mixed.example":  {net.ParseIP("93.184.216.34"), net.ParseIP("10.0.0.5")},
		"empty.example":  {},
	}

	ip, err := resolveAndValidate(context.Background(), resolver, "public.example", false)
	require.NoError(t, err)
	assert.Equal(t, "93.184.216.34", ip)

	_, err = resolveAndValidate(context.Background(), resolver, "mixed.example", false)
	assert.Error(t, err, "any private address rejects the host")

	ip, err = resolveAndValidate(context.Background(), resolver, "mixed.example", true)
	require.NoError(t, err)
	assert.Equal(t, "93.184.216.34", ip)

	_, err = resolveAndValidate(context.Background(), resolver, "empty.example", false)
	assert.Error(t, err)
	_, err = resolveAndValidate(context.Background(), resolver, "unknown.example", false)
	assert.Error(t, err)

	_, err = resolveAndValidate(context.Background(), resolver, "127.0.0.1", false)
	assert.Error(t, err)
	ip, err = resolveAndValidate(context.Background(), resolver, "127.0.0.1", true)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", ip)
}
