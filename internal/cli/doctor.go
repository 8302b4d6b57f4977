package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/security-mcp/winsandbox/internal/policy"
	"github.com/security-mcp/winsandbox/internal/sandbox"
)

type doctorCmdFlags struct {
	jsonOutput bool
}

func newDoctorCommand() *cobra.Command {
	var flags doctorCmdFlags

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose sandbox capabilities",
		Long: `Diagnose which sandbox features this Windows version supports and print the
token and job policy every level resolves to.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd.OutOrStdout(), &flags)
		},
	}
	cmd.Flags().BoolVar(&flags.jsonOutput, "json", false, "Output in JSON format")
	return cmd
}

func runDoctor(w io.Writer, flags *doctorCmdFlags) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	table, err := cfg.TokenTable()
	if err != nil {
		return err
	}

	platform, err := sandbox.DetectPlatform()
	detected := err == nil
	if !detected {
		platform = policy.Windows10
	}

	info, err := sandbox.Diagnose(platform, table)
	if err != nil {
		return err
	}
	if !detected {
		info.Warnings = append(info.Warnings, fmt.Sprintf("Platform not detected, showing policies for Windows %s", platform))
	}

	if flags.jsonOutput {
		return outputDoctorJSON(w, &info)
	}
	return outputDoctorText(w, &info)
}

func outputDoctorText(w io.Writer, info *sandbox.DiagnosticInfo) error {
	fmt.Fprintf(w, "Sandbox Diagnostics\n")
	fmt.Fprintf(w, "===================\n\n")

	fmt.Fprintf(w, "System Information:\n")
	fmt.Fprintf(w, "  OS:          %s\n", info.OS)
	fmt.Fprintf(w, "  Arch:        %s\n", info.Arch)
	fmt.Fprintf(w, "  Go Version:  %s\n", runtime.Version())
	fmt.Fprintf(w, "  Windows:     %s\n", info.Platform)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Sandbox Capabilities:\n")
	caps := info.Capabilities
	printCapability(w, "Restricted Tokens", caps.RestrictedTokens)
	printCapability(w, "Job Objects", caps.JobObjects)
	printCapability(w, "UI Restrictions", caps.UIRestrictions)
	printCapability(w, "Integrity Levels", caps.IntegrityLevels)
	printCapability(w, "Kill On Job Close", caps.KillOnJobClose)
	printCapability(w, "Logon Session SID", caps.LogonSessionSid)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Token Levels:\n")
	for _, p := range info.TokenPolicies {
		fmt.Fprintf(w, "  %-24s %s\n", p.Level, describeTokenPolicy(p))
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Job Levels:\n")
	for _, p := range info.JobPolicies {
		fmt.Fprintf(w, "  %-24s limits=0x%04X ui=%s", p.Level, uint32(p.LimitFlags), p.UIRestrictions)
		if p.ActiveProcessLimit > 0 {
			fmt.Fprintf(w, " processes=%d", p.ActiveProcessLimit)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)

	if len(info.Warnings) > 0 {
		fmt.Fprintf(w, "Warnings:\n")
		for _, warning := range info.Warnings {
			fmt.Fprintf(w, "  [!] %s\n", warning)
		}
		fmt.Fprintln(w)
	}

	if len(info.Recommendations) > 0 {
		fmt.Fprintf(w, "Recommendations:\n")
		for _, r := range info.Recommendations {
			fmt.Fprintf(w, "  [*] %s\n", r)
		}
		fmt.Fprintln(w)
	}

	return nil
}

func describeTokenPolicy(p policy.TokenPolicy) string {
	if p.IsIdentity() {
		return "unchanged"
	}
	var parts []string
	if !p.SkipDeny {
		deny := "deny-all"
		if len(p.SidExceptions) > 0 {
			deny += " except " + joinSIDs(p.SidExceptions)
		}
		if p.DenyUser {
			deny += " +user"
		}
		parts = append(parts, deny)
	}
	if !p.SkipPrivilegeRemoval {
		privs := "drop-privileges"
		if len(p.PrivilegeExceptions) > 0 {
			privs += " except " + strings.Join(p.PrivilegeExceptions, ",")
		}
		parts = append(parts, privs)
	}
	if p.RestrictAllSids || len(p.RestrictingSids) > 0 {
		restrict := "restrict"
		if p.RestrictAllSids {
			restrict += " all-groups"
		}
		if len(p.RestrictingSids) > 0 {
			restrict += " " + joinSIDs(p.RestrictingSids)
		}
		parts = append(parts, restrict)
	}
	return strings.Join(parts, "; ")
}

func joinSIDs(sids []policy.SIDName) string {
	names := make([]string, len(sids))
	for i, s := range sids {
		names[i] = string(s)
	}
	return strings.Join(names, ",")
}

func outputDoctorJSON(w io.Writer, info *sandbox.DiagnosticInfo) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

func printCapability(w io.Writer, name string, enabled bool) {
	status := "✗"
	if enabled {
		status = "✓"
	}
	fmt.Fprintf(w, "  [%s] %s\n", status, name)
}
