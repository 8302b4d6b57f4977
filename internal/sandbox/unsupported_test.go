//go:build !windows

package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/security-mcp/winsandbox/internal/policy"
)

func TestUnsupportedPlatform(t *testing.T) {
	_, err := DetectPlatform()
	assert.ErrorIs(t, err, policy.ErrUnsupported)

	l := NewLauncher(policy.Windows10, nil)
	c, err := l.Launch("cmd.exe", policy.TokenLockdown, policy.TokenLockdown, policy.JobLockdown)
	assert.Nil(t, c)
	assert.ErrorIs(t, err, policy.ErrUnsupported)
	assert.Equal(t, policy.CodeNotSupported, policy.Code(err))

	var confined Confined
	_, err = confined.Wait(context.Background())
	assert.ErrorIs(t, err, policy.ErrUnsupported)
	assert.NoError(t, confined.Close())
}
