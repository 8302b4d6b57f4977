//go:build windows

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/security-mcp/winsandbox/internal/policy"
)

// waitPollInterval bounds how long Wait blocks between context checks.
const waitPollInterval = 100 * time.Millisecond

// Confined is a running process and the job that contains it. Closing it
// closes the job handle, which terminates the process when the job carries
// KILL_ON_JOB_CLOSE.
type Confined struct {
	PID     int
	process windows.Handle
	thread  windows.Handle
	job     *JobHandle
}

// Job returns the job the process runs in. The Confined keeps ownership.
func (c *Confined) Job() *JobHandle {
	return c.job
}

// DetachJob transfers ownership of the job handle to the caller.
func (c *Confined) DetachJob() *JobHandle {
	j := c.job
	c.job = nil
	return j
}

// Wait blocks until the process exits or ctx is done and returns its exit
// code.
func (c *Confined) Wait(ctx context.Context) (uint32, error) {
	if c.process == 0 {
		return 0, policy.ErrNoData
	}
	for {
		event, err := windows.WaitForSingleObject(c.process, uint32(waitPollInterval.Milliseconds()))
		if err != nil {
			return 0, fmt.Errorf("failed to wait for process %d: %w", c.PID, err)
		}
		if event == windows.WAIT_OBJECT_0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
	}

	var code uint32
	if err := windows.GetExitCodeProcess(c.process, &code); err != nil {
		return 0, fmt.Errorf("failed to read exit code of process %d: %w", c.PID, err)
	}
	return code, nil
}

// Release clears KILL_ON_JOB_CLOSE on the job and closes every handle, so
// the process keeps running after the caller exits. The job then lives
// until its last process ends, with its remaining limits still applied.
func (c *Confined) Release() error {
	if c.job == nil {
		return policy.ErrNoData
	}
	if err := c.job.ClearKillOnClose(); err != nil {
		return fmt.Errorf("failed to release process %d: %w", c.PID, err)
	}
	return c.Close()
}

// Close releases the process, thread and job handles.
func (c *Confined) Close() error {
	var errs []error
	if c.thread != 0 {
		errs = append(errs, windows.CloseHandle(c.thread))
		c.thread = 0
	}
	if c.process != 0 {
		errs = append(errs, windows.CloseHandle(c.process))
		c.process = 0
	}
	errs = append(errs, c.job.Close())
	c.job = nil
	return errors.Join(errs...)
}

// Launch starts commandLine suspended with a primary token at primary,
// sets its initial thread to an impersonation token at impersonation,
// places it in a job at jobLevel and resumes it. Any failure after the
// process exists terminates it before returning.
func (l *Launcher) Launch(commandLine string, primary, impersonation policy.TokenLevel, jobLevel policy.JobLevel) (*Confined, error) {
	if commandLine == "" {
		return nil, policy.BadArguments("command line is required")
	}
	logger := l.logger()

	job := NewJob(l.Platform)
	job.logger = logger
	if err := job.Init(jobLevel, l.JobName, l.UIExceptions); err != nil {
		return nil, fmt.Errorf("failed to initialize job: %w", err)
	}
	defer job.Close()

	if jobLevel != policy.JobUnprotected {
		if err := job.UserHandleGrantAccess(getDesktopWindow()); err != nil {
			return nil, err
		}
	}

	builder := &TokenBuilder{Platform: l.Platform, Table: l.Tokens, Logger: logger}
	primaryToken, err := builder.Build(0, primary, l.Integrity, policy.TokenPrimary)
	if err != nil {
		return nil, fmt.Errorf("failed to build primary token: %w", err)
	}
	defer primaryToken.Close()

	impersonationToken, err := builder.Build(0, impersonation, policy.IntegrityLast, policy.TokenImpersonation)
	if err != nil {
		return nil, fmt.Errorf("failed to build impersonation token: %w", err)
	}
	defer impersonationToken.Close()

	cmdLine, err := windows.UTF16PtrFromString(commandLine)
	if err != nil {
		return nil, policy.BadArguments("invalid command line")
	}

	si := windows.StartupInfo{Cb: uint32(unsafe.Sizeof(windows.StartupInfo{}))}
	var pi windows.ProcessInformation
	err = windows.CreateProcessAsUser(
		primaryToken.Handle(),
		nil,
		cmdLine,
		nil,
		nil,
		false,
		windows.CREATE_SUSPENDED|windows.CREATE_BREAKAWAY_FROM_JOB,
		nil,
		nil,
		&si,
		&pi,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create process: %w", err)
	}

	abort := func(step string, cause error) error {
		_ = windows.TerminateProcess(pi.Process, 0)
		windows.CloseHandle(pi.Thread)
		windows.CloseHandle(pi.Process)
		logger.Warn("confined process terminated before start",
			slog.Int("pid", int(pi.ProcessId)),
			slog.String("step", step),
			slog.String("error", cause.Error()),
		)
		return fmt.Errorf("failed to %s: %w", step, cause)
	}

	thread := pi.Thread
	if err := windows.SetThreadToken(&thread, impersonationToken.Handle()); err != nil {
		return nil, abort("set impersonation token", err)
	}
	if err := job.AssignProcessToJob(pi.Process); err != nil {
		return nil, abort("assign process to job", err)
	}
	if _, err := windows.ResumeThread(pi.Thread); err != nil {
		return nil, abort("resume thread", err)
	}
	jobHandle, err := job.Detach()
	if err != nil {
		return nil, abort("detach job", err)
	}

	logger.Info("confined process started",
		slog.Int("pid", int(pi.ProcessId)),
		slog.String("primary", primary.String()),
		slog.String("impersonation", impersonation.String()),
		slog.String("job", jobLevel.String()),
	)

	return &Confined{
		PID:     int(pi.ProcessId),
		process: pi.Process,
		thread:  pi.Thread,
		job:     jobHandle,
	}, nil
}
