//go:build !windows

package sandbox

import (
	"context"

	"github.com/security-mcp/winsandbox/internal/policy"
)

// DetectPlatform reports policy.ErrUnsupported outside Windows.
func DetectPlatform() (policy.Platform, error) {
	return policy.Platform{}, policy.ErrUnsupported
}

// Confined is never produced outside Windows.
type Confined struct {
	PID int
}

// Launch reports policy.ErrUnsupported outside Windows.
func (l *Launcher) Launch(commandLine string, primary, impersonation policy.TokenLevel, jobLevel policy.JobLevel) (*Confined, error) {
	return nil, policy.ErrUnsupported
}

func (c *Confined) Wait(ctx context.Context) (uint32, error) {
	return 0, policy.ErrUnsupported
}

func (c *Confined) Close() error {
	return nil
}

func (c *Confined) Release() error {
	return policy.ErrUnsupported
}
