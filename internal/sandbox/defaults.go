package sandbox

import (
	"fmt"

	"github.com/security-mcp/winsandbox/internal/policy"
)

// Levels is the full set of confinement choices for one launch.
type Levels struct {
	Primary       policy.TokenLevel
	Impersonation policy.TokenLevel
	Job           policy.JobLevel
}

// Default levels used when a launch names none. The initial thread may run
// looser than the process so the child can finish loading before it drops
// to the primary token.
const (
	DefaultPrimaryLevel       = policy.TokenLockdown
	DefaultImpersonationLevel = policy.TokenRestrictedSameAccess
	DefaultJobLevel           = policy.JobLockdown
)

// SafeDefaults returns the tightest practical levels.
func SafeDefaults() Levels {
	return Levels{
		Primary:       DefaultPrimaryLevel,
		Impersonation: DefaultImpersonationLevel,
		Job:           DefaultJobLevel,
	}
}

// ParseLevels converts level names into Levels. Empty names keep the
// matching default.
func ParseLevels(primary, impersonation, job string) (Levels, error) {
	levels := SafeDefaults()
	var err error

	if primary != "" {
		if levels.Primary, err = policy.ParseTokenLevel(primary); err != nil {
			return Levels{}, fmt.Errorf("main level: %w", err)
		}
	}
	if impersonation != "" {
		if levels.Impersonation, err = policy.ParseTokenLevel(impersonation); err != nil {
			return Levels{}, fmt.Errorf("init level: %w", err)
		}
	}
	if job != "" {
		if levels.Job, err = policy.ParseJobLevel(job); err != nil {
			return Levels{}, fmt.Errorf("job level: %w", err)
		}
	}

	return levels, nil
}
