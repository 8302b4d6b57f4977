package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/spf13/cobra"

	"github.com/security-mcp/winsandbox/internal/audit"
	"github.com/security-mcp/winsandbox/internal/policy"
	"github.com/security-mcp/winsandbox/internal/sandbox"
)

type launcherCmdFlags struct {
	main         string
	init         string
	job          string
	jobName      string
	integrity    string
	uiExceptions []string
	noWait       bool
	jsonOutput   bool
	verbose      bool
}

// launchReport is printed once the child is running and again when it exits.
type launchReport struct {
	PID         int     `json:"pid"`
	Name        string  `json:"name,omitempty"`
	CommandLine string  `json:"command_line"`
	MainLevel   string  `json:"main_level"`
	InitLevel   string  `json:"init_level"`
	JobLevel    string  `json:"job_level"`
	Integrity   string  `json:"integrity,omitempty"`
	ExitCode    *uint32 `json:"exit_code,omitempty"`
	Detached    bool    `json:"detached,omitempty"`
}

// NewLauncherCommand builds the launcher tool and its doctor subcommand.
func NewLauncherCommand() *cobra.Command {
	var flags launcherCmdFlags

	cmd := &cobra.Command{
		Use:   "launcher [flags] -- command [args...]",
		Short: "Run a command under a restricted token and a job object",
		Long: `launcher starts a command suspended under a restricted primary token,
switches its main thread to an impersonation token, places it in a job
object and resumes it.

Token levels: UNPROTECTED, RESTRICTED_SAME_ACCESS, NON_ADMIN, INTERACTIVE,
LIMITED, RESTRICTED, LOCKDOWN.
Job levels: UNPROTECTED, INTERACTIVE, LIMITED_USER, RESTRICTED, LOCKDOWN.

Example: launcher --main LOCKDOWN --init RESTRICTED_SAME_ACCESS --job LOCKDOWN -- notepad.exe`,
		Args:          cobra.ArbitraryArgs,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLauncher(cmd, args, &flags)
		},
	}
	cmd.SetVersionTemplate(versionTemplate("launcher"))
	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return usageError(c, "%v", err)
	})

	f := cmd.Flags()
	f.StringVar(&flags.main, "main", "", "Token level of the process (default from config)")
	f.StringVar(&flags.init, "init", "", "Token level of the main thread until it reverts (default from config)")
	f.StringVar(&flags.job, "job", "", "Job level (default from config)")
	f.StringVar(&flags.jobName, "job-name", "", "Name of the job object (default anonymous)")
	f.StringVar(&flags.integrity, "integrity", "", "Integrity level of the process: LOW, MEDIUM, ...")
	f.StringArrayVar(&flags.uiExceptions, "ui-exception", nil, "UI restriction to lift, e.g. READCLIPBOARD (repeatable)")
	f.BoolVar(&flags.noWait, "no-wait", false, "Return once the process is running and leave it running after exit")
	f.BoolVar(&flags.jsonOutput, "json", false, "Output in JSON format")
	f.BoolVarP(&flags.verbose, "verbose", "v", false, "Enable verbose output")

	cmd.AddCommand(newDoctorCommand())
	return cmd
}

func runLauncher(cmd *cobra.Command, args []string, flags *launcherCmdFlags) error {
	if len(args) == 0 {
		return usageError(cmd, "a command line is required")
	}

	cfg, err := loadConfig(flags.verbose)
	if err != nil {
		return err
	}
	logger := createLogger(cfg.LogLevel)

	levels, err := sandbox.ParseLevels(
		valueOr(flags.main, cfg.DefaultMainLevel),
		valueOr(flags.init, cfg.DefaultInitLevel),
		valueOr(flags.job, cfg.DefaultJobLevel),
	)
	if err != nil {
		return usageError(cmd, "%v", err)
	}

	integrity := policy.IntegrityLast
	if flags.integrity != "" {
		if integrity, err = policy.ParseIntegrityLevel(flags.integrity); err != nil {
			return usageError(cmd, "%v", err)
		}
	}

	var exceptions policy.UIRestriction
	for _, name := range flags.uiExceptions {
		r, err := policy.ParseUIRestriction(name)
		if err != nil {
			return usageError(cmd, "%v", err)
		}
		exceptions |= r
	}

	table, err := cfg.TokenTable()
	if err != nil {
		return err
	}
	platform, err := sandbox.DetectPlatform()
	if err != nil {
		return fmt.Errorf("failed to detect platform: %w", err)
	}

	l := sandbox.NewLauncher(platform, table)
	l.Logger = logger
	l.Integrity = integrity
	l.UIExceptions = exceptions
	l.JobName = flags.jobName

	var auditLogger *audit.Logger
	if cfg.AuditEnabled {
		auditLogger, err = audit.NewLogger(cfg.AuditLogFile)
		if err != nil {
			logger.Warn("failed to initialize audit logger", slog.String("error", err.Error()))
		}
	}
	defer func() {
		if auditLogger != nil {
			_ = auditLogger.Close() //nolint:errcheck // cleanup
		}
	}()

	commandLine := composeCommandLine(args)
	report := launchReport{
		CommandLine: commandLine,
		MainLevel:   levels.Primary.String(),
		InitLevel:   levels.Impersonation.String(),
		JobLevel:    levels.Job.String(),
	}
	if integrity != policy.IntegrityLast {
		report.Integrity = integrity.String()
	}

	started := time.Now()
	confined, err := l.Launch(commandLine, levels.Primary, levels.Impersonation, levels.Job)
	if err != nil {
		if auditLogger != nil {
			if aerr := auditLogger.LogError(commandLine, err.Error()); aerr != nil {
				logger.Warn("failed to write audit event", slog.String("error", aerr.Error()))
			}
		}
		return fmt.Errorf("failed to launch %q: %w", commandLine, err)
	}
	defer confined.Close()

	report.PID = confined.PID
	report.Name = processName(logger, confined.PID)

	if auditLogger != nil {
		aerr := auditLogger.LogLaunch(audit.Launch{
			CommandLine: commandLine,
			PID:         confined.PID,
			MainLevel:   report.MainLevel,
			InitLevel:   report.InitLevel,
			JobLevel:    report.JobLevel,
			Integrity:   report.Integrity,
		})
		if aerr != nil {
			logger.Warn("failed to write audit event", slog.String("error", aerr.Error()))
		}
	}

	out := cmd.OutOrStdout()
	if flags.noWait {
		// The job keeps its limits but no longer kills the process once the
		// launcher's handles are gone.
		if err := confined.Release(); err != nil {
			return fmt.Errorf("failed to detach process %d: %w", confined.PID, err)
		}
		if auditLogger != nil {
			if aerr := auditLogger.LogDetach(commandLine, confined.PID); aerr != nil {
				logger.Warn("failed to write audit event", slog.String("error", aerr.Error()))
			}
		}
		report.Detached = true
		return writeLaunchReport(out, report, flags.jsonOutput)
	}
	if !flags.jsonOutput {
		if err := writeLaunchReport(out, report, false); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	code, err := confined.Wait(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("interrupted, terminating confined process", slog.Int("pid", confined.PID))
		}
		return fmt.Errorf("failed to wait for process %d: %w", confined.PID, err)
	}

	if auditLogger != nil {
		if aerr := auditLogger.LogExit(commandLine, confined.PID, code, time.Since(started)); aerr != nil {
			logger.Warn("failed to write audit event", slog.String("error", aerr.Error()))
		}
	}

	report.ExitCode = &code
	return writeLaunchReport(out, report, flags.jsonOutput)
}

// processName looks up the executable name of pid. The child may already
// have exited, so failures are not fatal.
func processName(logger *slog.Logger, pid int) string {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		logger.Debug("cannot inspect confined process", slog.Int("pid", pid), slog.String("error", err.Error()))
		return ""
	}
	name, err := p.Name()
	if err != nil {
		logger.Debug("cannot read process name", slog.Int("pid", pid), slog.String("error", err.Error()))
		return ""
	}
	return name
}

func writeLaunchReport(w io.Writer, r launchReport, asJSON bool) error {
	if asJSON {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(r)
	}

	if r.ExitCode != nil {
		_, err := fmt.Fprintf(w, "process %d exited with code %d\n", r.PID, *r.ExitCode)
		return err
	}
	name := r.Name
	if name == "" {
		name = r.CommandLine
	}
	_, err := fmt.Fprintf(w, "launched %s (pid %d) main=%s init=%s job=%s\n",
		name, r.PID, r.MainLevel, r.InitLevel, r.JobLevel)
	if err == nil && r.Detached {
		_, err = fmt.Fprintf(w, "process %d left running outside the launcher\n", r.PID)
	}
	return err
}

func valueOr(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
