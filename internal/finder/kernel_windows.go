//go:build windows

package finder

import (
	"fmt"
	"log/slog"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modntdll = windows.NewLazySystemDLL("ntdll.dll")

	procNtOpenDirectoryObject  = modntdll.NewProc("NtOpenDirectoryObject")
	procNtQueryDirectoryObject = modntdll.NewProc("NtQueryDirectoryObject")
)

// kernelOpeners maps an object type name to the NtOpen* routine for it.
// Every routine shares the (PHANDLE, ACCESS_MASK, POBJECT_ATTRIBUTES)
// signature.
var kernelOpeners = map[string]*windows.LazyProc{
	"Event":        modntdll.NewProc("NtOpenEvent"),
	"Job":          modntdll.NewProc("NtOpenJobObject"),
	"KeyedEvent":   modntdll.NewProc("NtOpenKeyedEvent"),
	"Mutant":       modntdll.NewProc("NtOpenMutant"),
	"Section":      modntdll.NewProc("NtOpenSection"),
	"Semaphore":    modntdll.NewProc("NtOpenSemaphore"),
	"Timer":        modntdll.NewProc("NtOpenTimer"),
	"SymbolicLink": modntdll.NewProc("NtOpenSymbolicLinkObject"),
	"Directory":    procNtOpenDirectoryObject,
}

const (
	directoryQuery    = 0x0001
	directoryTraverse = 0x0002

	// kernelRoot is the top of the object manager namespace.
	kernelRoot = `\`
)

var kernelRights = map[AccessType]uint32{
	AccessRead:  windows.GENERIC_READ,
	AccessWrite: windows.GENERIC_WRITE,
	AccessAll:   windows.GENERIC_ALL,
}

// objectDirectoryInformation mirrors OBJECT_DIRECTORY_INFORMATION.
type objectDirectoryInformation struct {
	Name     windows.NTUnicodeString
	TypeName windows.NTUnicodeString
}

// errUnsupportedObjectType is recorded for object types without an opener.
var errUnsupportedObjectType = windows.ERROR_NOT_SUPPORTED

func (f *Finder) scanKernel() error {
	f.walkKernel(kernelRoot)
	return nil
}

// walkKernel lists dir as the caller, checks every entry and recurses into
// subdirectories.
func (f *Finder) walkKernel(dir string) {
	entries, err := listKernelDirectory(dir)
	if err != nil {
		if dir == kernelRoot {
			f.fail(ObjectKernel, dir, err)
			return
		}
		f.logger().Debug("skipping unreadable directory object",
			slog.String("path", dir),
			slog.String("error", err.Error()),
		)
		return
	}

	for _, e := range entries {
		if f.failed() != nil {
			return
		}
		path := kernelJoin(dir, e.name)
		if f.excluded(path) {
			continue
		}

		proc, ok := kernelOpeners[e.typeName]
		if !ok {
			f.logger().Debug("unsupported object type",
				slog.String("path", path),
				slog.String("type", e.typeName),
			)
			f.record(Record{Category: ObjectKernel, Result: ResultError, Path: path, Code: uint32(errUnsupportedObjectType)})
			continue
		}

		f.check(ObjectKernel, path, func(p string, access AccessType) error {
			h, err := ntOpen(proc, p, kernelRights[access])
			if err != nil {
				return err
			}
			return windows.CloseHandle(h)
		})

		if e.typeName == "Directory" {
			f.walkKernel(path)
		}
	}
}

type kernelEntry struct {
	name     string
	typeName string
}

func kernelJoin(dir, name string) string {
	if dir == kernelRoot {
		return kernelRoot + name
	}
	return dir + `\` + name
}

func listKernelDirectory(dir string) ([]kernelEntry, error) {
	h, err := ntOpen(procNtOpenDirectoryObject, dir, directoryQuery|directoryTraverse)
	if err != nil {
		return nil, err
	}
	defer windows.CloseHandle(h)

	var (
		entries []kernelEntry
		context uint32
		buf     = make([]byte, 4096)
		restart = uintptr(1)
	)
	for {
		var returned uint32
		r1, _, _ := procNtQueryDirectoryObject.Call(
			uintptr(h),
			uintptr(unsafe.Pointer(&buf[0])),
			uintptr(len(buf)),
			1, // ReturnSingleEntry
			restart,
			uintptr(unsafe.Pointer(&context)),
			uintptr(unsafe.Pointer(&returned)),
		)
		restart = 0

		status := windows.NTStatus(r1)
		if status == windows.STATUS_NO_MORE_ENTRIES {
			return entries, nil
		}
		if status != windows.STATUS_SUCCESS {
			return entries, fmt.Errorf("NtQueryDirectoryObject %s: %w", dir, status)
		}

		info := (*objectDirectoryInformation)(unsafe.Pointer(&buf[0]))
		entries = append(entries, kernelEntry{
			name:     info.Name.String(),
			typeName: info.TypeName.String(),
		})
	}
}

// ntOpen opens the named object with one of the NtOpen* routines.
func ntOpen(proc *windows.LazyProc, path string, access uint32) (windows.Handle, error) {
	name, err := windows.NewNTUnicodeString(path)
	if err != nil {
		return 0, err
	}
	attrs := windows.OBJECT_ATTRIBUTES{
		ObjectName: name,
		Attributes: windows.OBJ_CASE_INSENSITIVE,
	}
	attrs.Length = uint32(unsafe.Sizeof(attrs))

	var h windows.Handle
	r1, _, _ := proc.Call(
		uintptr(unsafe.Pointer(&h)),
		uintptr(access),
		uintptr(unsafe.Pointer(&attrs)),
	)
	if status := windows.NTStatus(r1); status != windows.STATUS_SUCCESS {
		return 0, status
	}
	return h, nil
}
