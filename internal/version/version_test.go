package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo_Full(t *testing.T) {
	t.Parallel()

	dev := Info{Version: "dev", Commit: "unknown", BuildDate: "unknown", GoVersion: "go1.25.5", Platform: "linux/amd64"}
	assert.Equal(t, "dev go1.25.5 linux/amd64", dev.Full())

	release := Info{Version: "1.2.0", Commit: "abc123", BuildDate: "2026-01-02", GoVersion: "go1.25.5", Platform: "darwin/arm64"}
	assert.Equal(t, "1.2.0 (abc123) built 2026-01-02 go1.25.5 darwin/arm64", release.Full())
	assert.Equal(t, "1.2.0", release.String())
}
