//go:build windows

package sandbox

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modadvapi32 = windows.NewLazySystemDLL("advapi32.dll")
	modkernel32 = windows.NewLazySystemDLL("kernel32.dll")
	moduser32   = windows.NewLazySystemDLL("user32.dll")

	procCreateRestrictedToken = modadvapi32.NewProc("CreateRestrictedToken")
	procOpenJobObjectW        = modkernel32.NewProc("OpenJobObjectW")
	procUserHandleGrantAccess = moduser32.NewProc("UserHandleGrantAccess")
	procGetDesktopWindow      = moduser32.NewProc("GetDesktopWindow")
)

// Job object access rights
const (
	jobObjectQuery     = 0x0004
	jobObjectTerminate = 0x0008
)

// JOBOBJECTINFOCLASS values not exported with the types we need.
const (
	jobObjectBasicProcessIDList int32 = 3
)

// maxListedJobProcesses bounds the process id list queried from a job.
const maxListedJobProcesses = 64

// jobObjectBasicProcessIDList mirrors JOBOBJECT_BASIC_PROCESS_ID_LIST with a
// fixed-size id array.
type jobObjectBasicProcessIDListInfo struct {
	NumberOfAssignedProcesses uint32
	NumberOfProcessIdsInList  uint32
	ProcessIDList             [maxListedJobProcesses]uintptr
}

// BOOL CreateRestrictedToken(
//
//	HANDLE               ExistingTokenHandle,
//	DWORD                Flags,
//	DWORD                DisableSidCount,
//	PSID_AND_ATTRIBUTES  SidsToDisable,
//	DWORD                DeletePrivilegeCount,
//	PLUID_AND_ATTRIBUTES PrivilegesToDelete,
//	DWORD                RestrictedSidCount,
//	PSID_AND_ATTRIBUTES  SidsToRestrict,
//	PHANDLE              NewTokenHandle
//
// );
func createRestrictedToken(
	existing windows.Token,
	flags uint32,
	sidsToDisable []windows.SIDAndAttributes,
	privilegesToDelete []windows.LUIDAndAttributes,
	sidsToRestrict []windows.SIDAndAttributes,
) (windows.Token, error) {
	var pDisable *windows.SIDAndAttributes
	if len(sidsToDisable) > 0 {
		pDisable = &sidsToDisable[0]
	}
	var pDelete *windows.LUIDAndAttributes
	if len(privilegesToDelete) > 0 {
		pDelete = &privilegesToDelete[0]
	}
	var pRestrict *windows.SIDAndAttributes
	if len(sidsToRestrict) > 0 {
		pRestrict = &sidsToRestrict[0]
	}

	var token windows.Token
	r1, _, callErr := procCreateRestrictedToken.Call(
		uintptr(existing),
		uintptr(flags),
		uintptr(len(sidsToDisable)),
		uintptr(unsafe.Pointer(pDisable)),
		uintptr(len(privilegesToDelete)),
		uintptr(unsafe.Pointer(pDelete)),
		uintptr(len(sidsToRestrict)),
		uintptr(unsafe.Pointer(pRestrict)),
		uintptr(unsafe.Pointer(&token)),
	)
	if r1 == 0 {
		return 0, callErr
	}
	return token, nil
}

// BOOL UserHandleGrantAccess(HANDLE hUserHandle, HANDLE hJob, BOOL bGrant);
func userHandleGrantAccess(userHandle, job windows.Handle, grant bool) error {
	var g uintptr
	if grant {
		g = 1
	}
	r1, _, callErr := procUserHandleGrantAccess.Call(uintptr(userHandle), uintptr(job), g)
	if r1 == 0 {
		return callErr
	}
	return nil
}

// HWND GetDesktopWindow();
func getDesktopWindow() windows.Handle {
	r1, _, _ := procGetDesktopWindow.Call()
	return windows.Handle(r1)
}

// HANDLE OpenJobObjectW(DWORD dwDesiredAccess, BOOL bInheritHandle, LPCWSTR lpName);
func openJobObject(access uint32, inherit bool, name *uint16) (windows.Handle, error) {
	var i uintptr
	if inherit {
		i = 1
	}
	r1, _, callErr := procOpenJobObjectW.Call(uintptr(access), i, uintptr(unsafe.Pointer(name)))
	if r1 == 0 {
		return 0, callErr
	}
	return windows.Handle(r1), nil
}
