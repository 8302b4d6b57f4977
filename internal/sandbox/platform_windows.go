//go:build windows

package sandbox

import (
	"golang.org/x/sys/windows"

	"github.com/security-mcp/winsandbox/internal/policy"
)

// DetectPlatform reads the running OS version. RtlGetVersion is not subject
// to manifest-based version lies.
func DetectPlatform() (policy.Platform, error) {
	v := windows.RtlGetVersion()
	return policy.Platform{
		Major: v.MajorVersion,
		Minor: v.MinorVersion,
		Build: v.BuildNumber,
	}, nil
}
