//go:build windows

package sandbox

import (
	"fmt"
	"log/slog"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/security-mcp/winsandbox/internal/policy"
)

// Job owns a job object configured from a policy.JobLevel. A Job is
// initialized at most once. Closing the job handle terminates every
// assigned process when the platform honors KILL_ON_JOB_CLOSE.
type Job struct {
	handle   windows.Handle
	platform policy.Platform
	policy   policy.JobPolicy
	logger   *slog.Logger
}

// NewJob creates an uninitialized job for platform.
func NewJob(platform policy.Platform) *Job {
	return &Job{platform: platform, logger: slog.Default()}
}

// Init creates the job object and applies level. name may be empty for an
// anonymous job. uiExceptions is removed from the level's UI mask.
func (j *Job) Init(level policy.JobLevel, name string, uiExceptions policy.UIRestriction) error {
	if j.handle != 0 {
		return policy.ErrAlreadyInitialized
	}

	p, err := policy.AccumulateJob(level, j.platform, uiExceptions)
	if err != nil {
		return err
	}

	var namePtr *uint16
	if name != "" {
		namePtr, err = windows.UTF16PtrFromString(name)
		if err != nil {
			return policy.BadArguments("invalid job name %q", name)
		}
	}

	handle, err := windows.CreateJobObject(nil, namePtr)
	if err != nil {
		return fmt.Errorf("failed to create job object: %w", err)
	}

	if err := applyJobPolicy(handle, p); err != nil {
		windows.CloseHandle(handle)
		return err
	}

	j.handle = handle
	j.policy = p

	j.logger.Debug("job object initialized",
		slog.String("level", level.String()),
		slog.String("name", name),
		slog.String("ui_restrictions", p.UIRestrictions.String()),
		slog.Uint64("limit_flags", uint64(p.LimitFlags)),
	)
	return nil
}

// Policy returns the limits applied by Init.
func (j *Job) Policy() policy.JobPolicy {
	return j.policy
}

// Initialized reports whether the job currently owns a handle.
func (j *Job) Initialized() bool {
	return j.handle != 0
}

// AssignProcessToJob places process in the job.
func (j *Job) AssignProcessToJob(process windows.Handle) error {
	if j.handle == 0 {
		return policy.ErrNoData
	}
	if err := windows.AssignProcessToJobObject(j.handle, process); err != nil {
		return fmt.Errorf("failed to assign process to job: %w", err)
	}
	return nil
}

// UserHandleGrantAccess lets processes in the job use handle despite the
// job's UI handle restriction.
func (j *Job) UserHandleGrantAccess(handle windows.Handle) error {
	if j.handle == 0 {
		return policy.ErrNoData
	}
	if err := userHandleGrantAccess(handle, j.handle, true); err != nil {
		return fmt.Errorf("failed to grant user handle access: %w", err)
	}
	return nil
}

// ProcessIDs lists the processes currently assigned to the job.
func (j *Job) ProcessIDs() ([]uint32, error) {
	if j.handle == 0 {
		return nil, policy.ErrNoData
	}
	return jobProcessIDs(j.handle)
}

// Terminate ends every process in the job with exitCode.
func (j *Job) Terminate(exitCode uint32) error {
	if j.handle == 0 {
		return policy.ErrNoData
	}
	return terminateJob(j.handle, exitCode)
}

// Detach transfers ownership of the job handle to the caller. The Job
// returns to its uninitialized state and can be initialized again.
func (j *Job) Detach() (*JobHandle, error) {
	if j.handle == 0 {
		return nil, policy.ErrNoData
	}
	h := &JobHandle{handle: j.handle}
	j.handle = 0
	j.policy = policy.JobPolicy{}
	return h, nil
}

// Close releases the job handle if the Job still owns it.
func (j *Job) Close() error {
	if j.handle == 0 {
		return nil
	}
	err := windows.CloseHandle(j.handle)
	j.handle = 0
	if err != nil {
		return fmt.Errorf("failed to close job handle: %w", err)
	}
	return nil
}

// JobHandle is a job object handle released from a Job or opened by name.
type JobHandle struct {
	handle windows.Handle
}

// OpenJob opens an existing named job with query and terminate access.
func OpenJob(name string) (*JobHandle, error) {
	if name == "" {
		return nil, policy.BadArguments("job name is required")
	}
	namePtr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, policy.BadArguments("invalid job name %q", name)
	}
	h, err := openJobObject(jobObjectQuery|jobObjectTerminate, false, namePtr)
	if err != nil {
		return nil, fmt.Errorf("failed to open job %s: %w", name, err)
	}
	return &JobHandle{handle: h}, nil
}

// Handle returns the raw handle. The JobHandle keeps ownership.
func (h *JobHandle) Handle() windows.Handle {
	if h == nil {
		return 0
	}
	return h.handle
}

// ProcessIDs lists the processes currently assigned to the job.
func (h *JobHandle) ProcessIDs() ([]uint32, error) {
	if h == nil || h.handle == 0 {
		return nil, policy.ErrNoData
	}
	return jobProcessIDs(h.handle)
}

// Terminate ends every process in the job with exitCode.
func (h *JobHandle) Terminate(exitCode uint32) error {
	if h == nil || h.handle == 0 {
		return policy.ErrNoData
	}
	return terminateJob(h.handle, exitCode)
}

// ClearKillOnClose removes KILL_ON_JOB_CLOSE from the job so its processes
// outlive the last job handle. The other limits stay in force. The handle
// needs JOB_OBJECT_QUERY and JOB_OBJECT_SET_ATTRIBUTES access.
func (h *JobHandle) ClearKillOnClose() error {
	if h == nil || h.handle == 0 {
		return policy.ErrNoData
	}
	var limits windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION
	err := windows.QueryInformationJobObject(
		h.handle,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&limits)),
		uint32(unsafe.Sizeof(limits)),
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to query job limits: %w", err)
	}
	if limits.BasicLimitInformation.LimitFlags&uint32(policy.LimitKillOnJobClose) == 0 {
		return nil
	}
	limits.BasicLimitInformation.LimitFlags &^= uint32(policy.LimitKillOnJobClose)
	err = setInformationJobObject(
		h.handle,
		windows.JobObjectExtendedLimitInformation,
		unsafe.Pointer(&limits),
		uint32(unsafe.Sizeof(limits)),
	)
	if err != nil {
		return fmt.Errorf("failed to clear kill on job close: %w", err)
	}
	return nil
}

// Close releases the handle. It is safe to call more than once.
func (h *JobHandle) Close() error {
	if h == nil || h.handle == 0 {
		return nil
	}
	err := windows.CloseHandle(h.handle)
	h.handle = 0
	if err != nil {
		return fmt.Errorf("failed to close job handle: %w", err)
	}
	return nil
}

// applyJobPolicy writes the extended limits and UI restrictions of p to job.
func applyJobPolicy(job windows.Handle, p policy.JobPolicy) error {
	var limits windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION
	limits.BasicLimitInformation.LimitFlags = uint32(p.LimitFlags)
	limits.BasicLimitInformation.ActiveProcessLimit = p.ActiveProcessLimit
	err := setInformationJobObject(
		job,
		windows.JobObjectExtendedLimitInformation,
		unsafe.Pointer(&limits),
		uint32(unsafe.Sizeof(limits)),
	)
	if err != nil {
		return fmt.Errorf("failed to set job limits: %w", err)
	}

	ui := windows.JOBOBJECT_BASIC_UI_RESTRICTIONS{UIRestrictionsClass: uint32(p.UIRestrictions)}
	err = setInformationJobObject(
		job,
		windows.JobObjectBasicUIRestrictions,
		unsafe.Pointer(&ui),
		uint32(unsafe.Sizeof(ui)),
	)
	if err != nil {
		return fmt.Errorf("failed to set job UI restrictions: %w", err)
	}
	return nil
}

// setInformationJobObject calls the Windows API SetInformationJobObject.
func setInformationJobObject(job windows.Handle, infoClass uint32, info unsafe.Pointer, infoLen uint32) error {
	if _, err := windows.SetInformationJobObject(job, infoClass, uintptr(info), infoLen); err != nil {
		return fmt.Errorf("SetInformationJobObject failed: %w", err)
	}
	return nil
}

func jobProcessIDs(job windows.Handle) ([]uint32, error) {
	var list jobObjectBasicProcessIDListInfo
	err := windows.QueryInformationJobObject(
		job,
		jobObjectBasicProcessIDList,
		uintptr(unsafe.Pointer(&list)),
		uint32(unsafe.Sizeof(list)),
		nil,
	)
	if err != nil && err != windows.ERROR_MORE_DATA {
		return nil, fmt.Errorf("failed to query job processes: %w", err)
	}

	n := min(int(list.NumberOfProcessIdsInList), maxListedJobProcesses)
	pids := make([]uint32, 0, n)
	for _, id := range list.ProcessIDList[:n] {
		pids = append(pids, uint32(id))
	}
	return pids, nil
}

func terminateJob(job windows.Handle, exitCode uint32) error {
	if err := windows.TerminateJobObject(job, exitCode); err != nil {
		return fmt.Errorf("failed to terminate job: %w", err)
	}
	return nil
}
