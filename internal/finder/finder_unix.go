//go:build unix

package finder

import (
	"errors"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"

	"github.com/security-mcp/winsandbox/internal/policy"
)

// DefaultRoot is the filesystem root scanned when Options.Root is empty.
const DefaultRoot = "/"

var fileFlags = map[AccessType]int{
	AccessRead:  os.O_RDONLY,
	AccessWrite: os.O_WRONLY,
	AccessAll:   os.O_RDWR,
}

var accessModes = map[AccessType]uint32{
	AccessRead:  unix.R_OK,
	AccessWrite: unix.W_OK,
	AccessAll:   unix.R_OK | unix.W_OK,
}

// openFile checks regular files with open(2). Every other entry is checked
// with access(2): directories cannot be opened for writing, opening a FIFO
// blocks until a peer appears and opening a device may act on it.
func openFile(path string, access AccessType) error {
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		mode := accessModes[access]
		if info.IsDir() {
			mode |= unix.X_OK
		}
		if err := unix.Access(path, mode); err != nil {
			return &fs.PathError{Op: "access", Path: path, Err: err}
		}
		return nil
	}
	// O_NONBLOCK covers a regular file replaced by a FIFO after Lstat.
	file, err := os.OpenFile(path, fileFlags[access]|unix.O_NONBLOCK|unix.O_NOCTTY, 0)
	if err != nil {
		return err
	}
	return file.Close()
}

func isAccessDenied(err error) bool {
	return errors.Is(err, fs.ErrPermission)
}

func errorCode(err error) uint32 {
	return policy.Code(err)
}

// NewRestrictedImpersonator returns a factory that always fails outside
// Windows.
func NewRestrictedImpersonator(platform policy.Platform, table *policy.TokenTable) func(policy.TokenLevel) (Impersonator, error) {
	return defaultImpersonator
}

func defaultImpersonator(policy.TokenLevel) (Impersonator, error) {
	return nil, policy.ErrUnsupported
}

func (f *Finder) scanRegistry() error {
	f.fail(ObjectRegistry, "HKLM", policy.ErrUnsupported)
	return nil
}

func (f *Finder) scanKernel() error {
	f.fail(ObjectKernel, `\`, policy.ErrUnsupported)
	return nil
}
