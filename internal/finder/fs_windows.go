//go:build windows

package finder

import (
	"errors"

	"golang.org/x/sys/windows"

	"github.com/security-mcp/winsandbox/internal/policy"
	"github.com/security-mcp/winsandbox/internal/sandbox"
)

// DefaultRoot is the filesystem root scanned when Options.Root is empty.
const DefaultRoot = `\\?\C:\`

var fileRights = map[AccessType]uint32{
	AccessRead:  windows.GENERIC_READ,
	AccessWrite: windows.GENERIC_WRITE,
	AccessAll:   windows.GENERIC_ALL,
}

// openFile opens path with backup semantics so directories can be checked
// like files.
func openFile(path string, access AccessType) error {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return err
	}
	h, err := windows.CreateFile(
		p,
		fileRights[access],
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_FLAG_BACKUP_SEMANTICS,
		0,
	)
	if err != nil {
		return err
	}
	return windows.CloseHandle(h)
}

func isAccessDenied(err error) bool {
	return errors.Is(err, windows.ERROR_ACCESS_DENIED) || errors.Is(err, windows.STATUS_ACCESS_DENIED)
}

// errorCode returns the Win32 or NTSTATUS code carried by err.
func errorCode(err error) uint32 {
	var status windows.NTStatus
	if errors.As(err, &status) {
		return uint32(status)
	}
	return policy.Code(err)
}

// NewRestrictedImpersonator returns a factory building impersonation tokens
// from the current process token with table.
func NewRestrictedImpersonator(platform policy.Platform, table *policy.TokenTable) func(policy.TokenLevel) (Impersonator, error) {
	builder := sandbox.NewTokenBuilder(platform, table)
	return func(level policy.TokenLevel) (Impersonator, error) {
		token, err := builder.Build(0, level, policy.IntegrityLast, policy.TokenImpersonation)
		if err != nil {
			return nil, err
		}
		return token, nil
	}
}

func defaultImpersonator(level policy.TokenLevel) (Impersonator, error) {
	platform, err := sandbox.DetectPlatform()
	if err != nil {
		return nil, err
	}
	table, err := policy.DefaultTokenTable()
	if err != nil {
		return nil, err
	}
	return NewRestrictedImpersonator(platform, table)(level)
}
