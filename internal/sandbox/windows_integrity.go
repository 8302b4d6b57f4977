//go:build windows

package sandbox

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/security-mcp/winsandbox/internal/policy"
)

// SetTokenIntegrityLevel sets the mandatory label of token. IntegrityLast is
// a no-op.
func SetTokenIntegrityLevel(token windows.Token, level policy.IntegrityLevel) error {
	if level == policy.IntegrityLast {
		return nil
	}
	sidString := level.SID()
	if sidString == "" {
		return policy.BadArguments("unknown integrity level %d", int(level))
	}

	sid, err := windows.StringToSid(sidString)
	if err != nil {
		return fmt.Errorf("failed to create integrity SID: %w", err)
	}

	tml := windows.Tokenmandatorylabel{
		Label: windows.SIDAndAttributes{
			Sid:        sid,
			Attributes: windows.SE_GROUP_INTEGRITY,
		},
	}
	err = windows.SetTokenInformation(
		token,
		windows.TokenIntegrityLevel,
		(*byte)(unsafe.Pointer(&tml)),
		tml.Size(),
	)
	if err != nil {
		return fmt.Errorf("failed to set token integrity level: %w", err)
	}
	return nil
}

// SetProcessIntegrityLevel lowers the integrity level of the current
// process. It is a no-op on platforms without integrity levels.
func SetProcessIntegrityLevel(level policy.IntegrityLevel, platform policy.Platform) error {
	if !platform.SupportsIntegrityLevels() || level == policy.IntegrityLast {
		return nil
	}

	var token windows.Token
	err := windows.OpenProcessToken(windows.CurrentProcess(), windows.TOKEN_ADJUST_DEFAULT|windows.TOKEN_QUERY, &token)
	if err != nil {
		return fmt.Errorf("failed to open process token: %w", err)
	}
	defer token.Close()

	return SetTokenIntegrityLevel(token, level)
}

// TokenIntegrityRID returns the mandatory label RID of token, for example
// 0x1000 for low integrity.
func TokenIntegrityRID(token windows.Token) (uint32, error) {
	buf, err := tokenInformation(token, windows.TokenIntegrityLevel)
	if err != nil {
		return 0, fmt.Errorf("failed to query token integrity level: %w", err)
	}
	tml := (*windows.Tokenmandatorylabel)(unsafe.Pointer(&buf[0]))
	sid := tml.Label.Sid
	return sid.SubAuthority(uint32(sid.SubAuthorityCount()) - 1), nil
}
