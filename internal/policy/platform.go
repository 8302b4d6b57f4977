package policy

import "fmt"

// Platform describes the OS version the sandbox is being built for. It is
// resolved once at process start and passed to every builder that has
// version-dependent behavior.
type Platform struct {
	Major uint32 `json:"major"`
	Minor uint32 `json:"minor"`
	Build uint32 `json:"build"`
}

// Well-known descriptors used by tests and the doctor command.
var (
	Windows2000  = Platform{Major: 5, Minor: 0, Build: 2195}
	WindowsXP    = Platform{Major: 5, Minor: 1, Build: 2600}
	WindowsVista = Platform{Major: 6, Minor: 0, Build: 6000}
	Windows10    = Platform{Major: 10, Minor: 0, Build: 19041}
)

func (p Platform) String() string {
	return fmt.Sprintf("%d.%d.%d", p.Major, p.Minor, p.Build)
}

// AtLeast reports whether p is major.minor or newer.
func (p Platform) AtLeast(major, minor uint32) bool {
	if p.Major != major {
		return p.Major > major
	}
	return p.Minor >= minor
}

// SupportsIntegrityLevels reports whether mandatory integrity control exists.
func (p Platform) SupportsIntegrityLevels() bool {
	return p.AtLeast(6, 0)
}

// SupportsKillOnJobClose reports whether JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE
// is honored. Windows 2000 rejects the flag.
func (p Platform) SupportsKillOnJobClose() bool {
	return !(p.Major == 5 && p.Minor == 0)
}

// RequiresLogonSessionSid reports whether a restricted token needs the
// logon session SID in its restricting list to create objects in the
// BaseNamedObjects directory.
func (p Platform) RequiresLogonSessionSid() bool {
	return p.AtLeast(6, 0)
}
