package policy

import "strings"

// TokenLevel names a restricted-token policy. Values are ordered from the
// most to the least privileged.
type TokenLevel int

const (
	TokenUnprotected TokenLevel = iota
	TokenRestrictedSameAccess
	TokenNonAdmin
	TokenInteractive
	TokenLimited
	TokenRestricted
	TokenLockdown
)

var tokenLevelNames = []string{
	"UNPROTECTED",
	"RESTRICTED_SAME_ACCESS",
	"NON_ADMIN",
	"INTERACTIVE",
	"LIMITED",
	"RESTRICTED",
	"LOCKDOWN",
}

// TokenLevels lists every level from the most to the least privileged.
func TokenLevels() []TokenLevel {
	levels := make([]TokenLevel, len(tokenLevelNames))
	for i := range levels {
		levels[i] = TokenLevel(i)
	}
	return levels
}

func (l TokenLevel) String() string {
	if !l.Valid() {
		return "UNKNOWN"
	}
	return tokenLevelNames[l]
}

// MarshalText encodes l by name.
func (l TokenLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Valid reports whether l is one of the declared levels.
func (l TokenLevel) Valid() bool {
	return l >= TokenUnprotected && l <= TokenLockdown
}

// Tighter reports whether l is strictly more restrictive than other.
func (l TokenLevel) Tighter(other TokenLevel) bool {
	return l > other
}

// ParseTokenLevel converts a level name such as "LOCKDOWN" into a TokenLevel.
func ParseTokenLevel(s string) (TokenLevel, error) {
	name := normalizeName(s)
	for i, n := range tokenLevelNames {
		if n == name {
			return TokenLevel(i), nil
		}
	}
	return 0, BadArguments("unknown token level %q", s)
}

// IntegrityLevel names a mandatory integrity label. IntegrityLast means
// "leave the label alone".
type IntegrityLevel int

const (
	IntegritySystem IntegrityLevel = iota
	IntegrityHigh
	IntegrityMedium
	IntegrityMediumLow
	IntegrityLow
	IntegrityBelowLow
	IntegrityLast
)

var integrityNames = []string{"SYSTEM", "HIGH", "MEDIUM", "MEDIUM_LOW", "LOW", "BELOW_LOW", "LAST"}

var integritySIDs = []string{
	"S-1-16-16384",
	"S-1-16-12288",
	"S-1-16-8192",
	"S-1-16-6144",
	"S-1-16-4096",
	"S-1-16-2048",
	"",
}

func (l IntegrityLevel) String() string {
	if l < IntegritySystem || l > IntegrityLast {
		return "UNKNOWN"
	}
	return integrityNames[l]
}

// SID returns the well-known mandatory label SID string for l. IntegrityLast
// and unknown values return an empty string.
func (l IntegrityLevel) SID() string {
	if l < IntegritySystem || l > IntegrityLast {
		return ""
	}
	return integritySIDs[l]
}

// ParseIntegrityLevel converts a name such as "LOW" into an IntegrityLevel.
func ParseIntegrityLevel(s string) (IntegrityLevel, error) {
	name := normalizeName(s)
	for i, n := range integrityNames {
		if n == name {
			return IntegrityLevel(i), nil
		}
	}
	return 0, BadArguments("unknown integrity level %q", s)
}

// TokenType selects how a restricted token is materialized.
type TokenType int

const (
	TokenPrimary TokenType = iota
	TokenImpersonation
)

func (t TokenType) String() string {
	switch t {
	case TokenPrimary:
		return "PRIMARY"
	case TokenImpersonation:
		return "IMPERSONATION"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether t is PRIMARY or IMPERSONATION.
func (t TokenType) Valid() bool {
	return t == TokenPrimary || t == TokenImpersonation
}

// JobLevel names a job object policy. Values are ordered from the most to
// the least restrictive; each level carries every restriction of the levels
// after it.
type JobLevel int

const (
	JobLockdown JobLevel = iota
	JobRestricted
	JobLimitedUser
	JobInteractive
	JobUnprotected
)

var jobLevelNames = []string{"LOCKDOWN", "RESTRICTED", "LIMITED_USER", "INTERACTIVE", "UNPROTECTED"}

// JobLevels lists every level from the most to the least restrictive.
func JobLevels() []JobLevel {
	return []JobLevel{JobLockdown, JobRestricted, JobLimitedUser, JobInteractive, JobUnprotected}
}

func (l JobLevel) String() string {
	if !l.Valid() {
		return "UNKNOWN"
	}
	return jobLevelNames[l]
}

func (l JobLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Valid reports whether l is one of the declared levels.
func (l JobLevel) Valid() bool {
	return l >= JobLockdown && l <= JobUnprotected
}

// ParseJobLevel converts a job level name. "LIMITED" is accepted as an alias
// of LIMITED_USER. NON_ADMIN has no job analogue and is rejected.
func ParseJobLevel(s string) (JobLevel, error) {
	name := normalizeName(s)
	if name == "LIMITED" {
		return JobLimitedUser, nil
	}
	for i, n := range jobLevelNames {
		if n == name {
			return JobLevel(i), nil
		}
	}
	return 0, BadArguments("unknown job level %q", s)
}

func normalizeName(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.ReplaceAll(s, "-", "_")
}
