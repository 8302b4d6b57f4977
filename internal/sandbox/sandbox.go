// Package sandbox confines processes with restricted tokens and job objects.
//
// Policy decisions live in the policy package; this package turns them into
// native handles. Only Windows has a working implementation. Other platforms
// return policy.ErrUnsupported from every operation that needs the OS.
package sandbox

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/security-mcp/winsandbox/internal/policy"
)

// Launcher starts a command confined by a job and a pair of restricted
// tokens. The zero value is not usable; build one with NewLauncher.
type Launcher struct {
	// Platform is the OS descriptor every version-dependent decision uses.
	Platform policy.Platform

	// Tokens resolves token levels into build recipes.
	Tokens *policy.TokenTable

	// UIExceptions are UI restrictions removed from the job's mask.
	UIExceptions policy.UIRestriction

	// JobName names the job object. Empty creates an anonymous job.
	JobName string

	// Integrity is applied to the primary token. IntegrityLast leaves the
	// label inherited from the caller.
	Integrity policy.IntegrityLevel

	Logger *slog.Logger
}

// NewLauncher creates a launcher for platform using the given token table.
func NewLauncher(platform policy.Platform, tokens *policy.TokenTable) *Launcher {
	return &Launcher{
		Platform:  platform,
		Tokens:    tokens,
		Integrity: policy.IntegrityLast,
		Logger:    slog.Default(),
	}
}

func (l *Launcher) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

// Capabilities describes what the sandbox can enforce on a platform
type Capabilities struct {
	RestrictedTokens bool
	JobObjects       bool
	UIRestrictions   bool
	IntegrityLevels  bool
	KillOnJobClose   bool
	LogonSessionSid  bool
	Warnings         []string
}

// CapabilitiesFor reports the capabilities available on platform. goos is
// the running operating system, normally runtime.GOOS.
func CapabilitiesFor(goos string, platform policy.Platform) Capabilities {
	if goos != "windows" {
		return Capabilities{
			Warnings: []string{"Platform does not support restricted tokens or job objects"},
		}
	}

	caps := Capabilities{
		RestrictedTokens: true,
		JobObjects:       true,
		UIRestrictions:   true,
		IntegrityLevels:  platform.SupportsIntegrityLevels(),
		KillOnJobClose:   platform.SupportsKillOnJobClose(),
		LogonSessionSid:  platform.RequiresLogonSessionSid(),
	}
	if !caps.IntegrityLevels {
		caps.Warnings = append(caps.Warnings, "Mandatory integrity levels are not available before Windows Vista")
	}
	if !caps.KillOnJobClose {
		caps.Warnings = append(caps.Warnings, "Windows 2000 ignores KILL_ON_JOB_CLOSE: confined processes outlive their job")
	}
	return caps
}

// DiagnosticInfo contains system capability information for diagnostics
type DiagnosticInfo struct {
	OS              string
	Arch            string
	Platform        policy.Platform
	Capabilities    Capabilities
	TokenPolicies   []policy.TokenPolicy
	JobPolicies     []policy.JobPolicy
	Recommendations []string
	Warnings        []string
}

// Diagnose resolves every token and job level for platform so the effective
// policies can be inspected without launching anything.
func Diagnose(platform policy.Platform, tokens *policy.TokenTable) (DiagnosticInfo, error) {
	info := DiagnosticInfo{
		OS:           runtime.GOOS,
		Arch:         runtime.GOARCH,
		Platform:     platform,
		Capabilities: CapabilitiesFor(runtime.GOOS, platform),
	}

	for _, level := range policy.TokenLevels() {
		p, err := tokens.Resolve(level, platform)
		if err != nil {
			return DiagnosticInfo{}, fmt.Errorf("failed to resolve token level %s: %w", level, err)
		}
		info.TokenPolicies = append(info.TokenPolicies, p)
	}

	for _, level := range policy.JobLevels() {
		p, err := policy.AccumulateJob(level, platform, 0)
		if err != nil {
			return DiagnosticInfo{}, fmt.Errorf("failed to resolve job level %s: %w", level, err)
		}
		info.JobPolicies = append(info.JobPolicies, p)
	}

	info.Warnings = append(info.Warnings, info.Capabilities.Warnings...)
	if runtime.GOOS != "windows" {
		info.Recommendations = append(info.Recommendations,
			"Run the launcher and finder on Windows to enforce these policies",
		)
	} else if !platform.SupportsIntegrityLevels() {
		info.Recommendations = append(info.Recommendations,
			"Upgrade to Windows Vista or later to combine restricted tokens with low integrity",
		)
	}

	return info, nil
}
