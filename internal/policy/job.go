package policy

import (
	"sort"
	"strings"
)

// UIRestriction is a JOB_OBJECT_UILIMIT_* bitmask.
type UIRestriction uint32

// Values match the JOB_OBJECT_UILIMIT_* constants in winnt.h.
const (
	UILimitHandles          UIRestriction = 0x00000001
	UILimitReadClipboard    UIRestriction = 0x00000002
	UILimitWriteClipboard   UIRestriction = 0x00000004
	UILimitSystemParameters UIRestriction = 0x00000008
	UILimitDisplaySettings  UIRestriction = 0x00000010
	UILimitGlobalAtoms      UIRestriction = 0x00000020
	UILimitDesktop          UIRestriction = 0x00000040
	UILimitExitWindows      UIRestriction = 0x00000080
)

var uiRestrictionNames = map[string]UIRestriction{
	"HANDLES":          UILimitHandles,
	"READCLIPBOARD":    UILimitReadClipboard,
	"WRITECLIPBOARD":   UILimitWriteClipboard,
	"SYSTEMPARAMETERS": UILimitSystemParameters,
	"DISPLAYSETTINGS":  UILimitDisplaySettings,
	"GLOBALATOMS":      UILimitGlobalAtoms,
	"DESKTOP":          UILimitDesktop,
	"EXITWINDOWS":      UILimitExitWindows,
}

// Has reports whether every bit of other is set in r.
func (r UIRestriction) Has(other UIRestriction) bool {
	return r&other == other
}

func (r UIRestriction) String() string {
	if r == 0 {
		return "NONE"
	}
	var names []string
	for name, bit := range uiRestrictionNames {
		if r&bit != 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return strings.Join(names, "|")
}

// ParseUIRestriction converts a restriction name such as "desktop" or
// "READ_CLIPBOARD" into its bit.
func ParseUIRestriction(s string) (UIRestriction, error) {
	name := strings.ReplaceAll(normalizeName(s), "_", "")
	if bit, ok := uiRestrictionNames[name]; ok {
		return bit, nil
	}
	return 0, BadArguments("unknown UI restriction %q", s)
}

// LimitFlag is a JOB_OBJECT_LIMIT_* bitmask.
type LimitFlag uint32

// Values match the JOB_OBJECT_LIMIT_* constants in winnt.h.
const (
	LimitActiveProcess           LimitFlag = 0x00000008
	LimitDieOnUnhandledException LimitFlag = 0x00000400
	LimitKillOnJobClose          LimitFlag = 0x00002000
)

// JobPolicy is the set of limits a job level resolves to.
type JobPolicy struct {
	Level              JobLevel      `json:"level"`
	LimitFlags         LimitFlag     `json:"limit_flags"`
	UIRestrictions     UIRestriction `json:"ui_restrictions"`
	ActiveProcessLimit uint32        `json:"active_process_limit"`
}

// jobDelta is the restriction a single level adds on top of the level
// below it.
type jobDelta struct {
	level JobLevel
	apply func(p *JobPolicy, platform Platform)
}

// jobDeltas is ordered from the loosest level to the tightest. Resolving a
// level folds every delta up to and including that level.
var jobDeltas = []jobDelta{
	{JobUnprotected, func(p *JobPolicy, platform Platform) {
		if platform.SupportsKillOnJobClose() {
			p.LimitFlags |= LimitKillOnJobClose
		}
	}},
	{JobInteractive, func(p *JobPolicy, _ Platform) {
		p.UIRestrictions |= UILimitSystemParameters | UILimitDesktop | UILimitExitWindows
	}},
	{JobLimitedUser, func(p *JobPolicy, _ Platform) {
		p.UIRestrictions |= UILimitDisplaySettings
		p.LimitFlags |= LimitActiveProcess
		p.ActiveProcessLimit = 1
	}},
	{JobRestricted, func(p *JobPolicy, _ Platform) {
		p.UIRestrictions |= UILimitWriteClipboard | UILimitReadClipboard | UILimitHandles | UILimitGlobalAtoms
	}},
	{JobLockdown, func(p *JobPolicy, _ Platform) {
		p.LimitFlags |= LimitDieOnUnhandledException
	}},
}

// AccumulateJob resolves level into the limits the job object must carry.
// uiExceptions is cleared from the accumulated UI mask.
func AccumulateJob(level JobLevel, platform Platform, uiExceptions UIRestriction) (JobPolicy, error) {
	if !level.Valid() {
		return JobPolicy{}, BadArguments("unknown job level %d", int(level))
	}

	p := JobPolicy{Level: level}
	for _, d := range jobDeltas {
		d.apply(&p, platform)
		if d.level == level {
			break
		}
	}
	p.UIRestrictions &^= uiExceptions

	return p, nil
}
