package finder

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/security-mcp/winsandbox/internal/policy"
)

// errBroken is a failure that is not access denied on any platform.
var errBroken = syscall.Errno(32)

// fakeImpersonator tracks whether a check runs while impersonating.
type fakeImpersonator struct {
	active      bool
	impersonate int
	reverts     int
	failWith    error
	revertErr   error
	closed      bool
}

func (f *fakeImpersonator) Impersonate() (func() error, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.impersonate++
	f.active = true
	return func() error {
		f.reverts++
		f.active = false
		return f.revertErr
	}, nil
}

func (f *fakeImpersonator) Close() error {
	f.closed = true
	return nil
}

// fakeOpener grants access per file base name.
type fakeOpener struct {
	imp     *fakeImpersonator
	grants  map[string]map[AccessType]error
	calls   []string
	outside int
}

func (o *fakeOpener) open(path string, access AccessType) error {
	if !o.imp.active {
		o.outside++
	}
	o.calls = append(o.calls, filepath.Base(path)+":"+access.String())
	if byAccess, ok := o.grants[filepath.Base(path)]; ok {
		if err, ok := byAccess[access]; ok {
			return err
		}
	}
	return errDenied
}

func newTestFinder(t *testing.T, root string, grants map[string]map[AccessType]error) (*Finder, *fakeImpersonator, *fakeOpener) {
	t.Helper()
	imp := &fakeImpersonator{}
	opener := &fakeOpener{imp: imp, grants: grants}
	f := New(Options{Root: root})
	f.NewImpersonator = func(policy.TokenLevel) (Impersonator, error) { return imp, nil }
	f.OpenFile = opener.open
	return f, imp, opener
}

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}
}

func TestFinder_ReadableAndDenied(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "public.txt", "private.txt")

	f, imp, opener := newTestFinder(t, dir, map[string]map[AccessType]error{
		"public.txt": {AccessRead: nil},
	})
	var out bytes.Buffer
	require.NoError(t, f.Init(policy.TokenLockdown, ObjectFileSystem, AccessRead, NewTextSink(&out)))
	require.NoError(t, f.Scan())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.ElementsMatch(t, []string{
		"FILE;READ;" + filepath.Join(dir, "public.txt"),
		"FILE;DENIED;" + filepath.Join(dir, "private.txt"),
	}, lines)

	stats := f.Stats()
	require.Contains(t, stats, ObjectFileSystem)
	assert.Equal(t, Stats{Attempted: 2, Read: 1, Denied: 1}, stats[ObjectFileSystem])

	assert.Zero(t, opener.outside, "every open must run while impersonating")
	assert.Equal(t, imp.impersonate, imp.reverts)
	assert.False(t, imp.active)
}

func TestFinder_RecordsReachWriterDuringScan(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.txt", "b.txt", "c.txt")

	f, _, opener := newTestFinder(t, dir, nil)
	var out bytes.Buffer
	var linesAtOpen []int
	f.OpenFile = func(path string, access AccessType) error {
		linesAtOpen = append(linesAtOpen, strings.Count(out.String(), "\n"))
		return opener.open(path, access)
	}
	require.NoError(t, f.Init(policy.TokenLockdown, ObjectFileSystem, AccessRead, NewTextSink(&out)))
	require.NoError(t, f.Scan())

	assert.Equal(t, []int{0, 1, 2}, linesAtOpen, "each record must be written before the next object is opened")
	assert.Equal(t, 3, strings.Count(out.String(), "\n"))
}

func TestFinder_AccessLadder(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "all.txt", "write.txt", "read.txt", "broken.txt", "none.txt")

	f, _, opener := newTestFinder(t, dir, map[string]map[AccessType]error{
		"all.txt":    {AccessAll: nil},
		"write.txt":  {AccessWrite: nil, AccessRead: nil},
		"read.txt":   {AccessRead: nil},
		"broken.txt": {AccessAll: errBroken, AccessRead: nil},
	})
	var out bytes.Buffer
	require.NoError(t, f.Init(policy.TokenRestricted, ObjectFileSystem, AccessRead|AccessWrite|AccessAll, NewTextSink(&out)))
	require.NoError(t, f.Scan())

	got := out.String()
	assert.Contains(t, got, "FILE;ALL;"+filepath.Join(dir, "all.txt")+"\n")
	assert.Contains(t, got, "FILE;WRITE;"+filepath.Join(dir, "write.txt")+"\n")
	assert.Contains(t, got, "FILE;READ;"+filepath.Join(dir, "read.txt")+"\n")
	assert.Contains(t, got, "FILE-ERROR;0x20;"+filepath.Join(dir, "broken.txt")+"\n")
	assert.Contains(t, got, "FILE;DENIED;"+filepath.Join(dir, "none.txt")+"\n")

	assert.Equal(t, Stats{Attempted: 5, Broken: 1, Read: 1, Write: 1, All: 1, Denied: 1}, f.Stats()[ObjectFileSystem])

	// The ladder stops at the first grant and at the first non-denied error.
	assert.Contains(t, opener.calls, "all.txt:ALL")
	assert.NotContains(t, opener.calls, "all.txt:W")
	assert.Contains(t, opener.calls, "write.txt:W")
	assert.NotContains(t, opener.calls, "write.txt:R")
	assert.NotContains(t, opener.calls, "broken.txt:W")
	assert.NotContains(t, opener.calls, "broken.txt:R")
}

func TestFinder_OnlyRequestedAccessChecked(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "file.txt")

	f, _, opener := newTestFinder(t, dir, map[string]map[AccessType]error{
		"file.txt": {AccessAll: nil, AccessRead: nil},
	})
	var out bytes.Buffer
	require.NoError(t, f.Init(policy.TokenRestricted, ObjectFileSystem, AccessRead, NewTextSink(&out)))
	require.NoError(t, f.Scan())

	assert.Equal(t, []string{"file.txt:R"}, opener.calls)
	assert.Equal(t, "FILE;READ;"+filepath.Join(dir, "file.txt")+"\n", out.String())
}

func TestFinder_DirectoriesCheckedRootSkipped(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, filepath.Join("sub", "nested.txt"))

	f, _, opener := newTestFinder(t, dir, nil)
	require.NoError(t, f.Init(policy.TokenLockdown, ObjectFileSystem, AccessRead, SinkFunc(func(Record) error { return nil })))
	require.NoError(t, f.Scan())

	assert.ElementsMatch(t, []string{"sub:R", "nested.txt:R"}, opener.calls)
	assert.Equal(t, 2, f.Stats()[ObjectFileSystem].Attempted)
}

func TestFinder_Exclude(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "keep.txt", "skip.log", filepath.Join("cache", "a.txt"), filepath.Join("cache", "b.txt"))

	f, _, opener := newTestFinder(t, dir, nil)
	f.Options.Exclude = []string{
		filepath.Join(dir, "*.log"),
		filepath.Join(dir, "cache"),
	}
	require.NoError(t, f.Init(policy.TokenLockdown, ObjectFileSystem, AccessRead, SinkFunc(func(Record) error { return nil })))
	require.NoError(t, f.Scan())

	assert.Equal(t, []string{"keep.txt:R"}, opener.calls)
}

func TestFinder_MissingRootRecordsError(t *testing.T) {
	root := filepath.Join(t.TempDir(), "missing")

	f, _, _ := newTestFinder(t, root, nil)
	var records []Record
	sink := SinkFunc(func(r Record) error {
		records = append(records, r)
		return nil
	})
	require.NoError(t, f.Init(policy.TokenLockdown, ObjectFileSystem, AccessRead, sink))
	require.NoError(t, f.Scan())

	require.Len(t, records, 1)
	assert.Equal(t, ResultError, records[0].Result)
	assert.Equal(t, root, records[0].Path)
	assert.Equal(t, Stats{Attempted: 1, Broken: 1}, f.Stats()[ObjectFileSystem])
}

func TestFinder_ImpersonationFailureIsError(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "file.txt")

	f, imp, opener := newTestFinder(t, dir, nil)
	imp.failWith = errDenied
	var records []Record
	require.NoError(t, f.Init(policy.TokenLockdown, ObjectFileSystem, AccessRead, SinkFunc(func(r Record) error {
		records = append(records, r)
		return nil
	})))
	require.NoError(t, f.Scan())

	require.Len(t, records, 1)
	assert.Equal(t, ResultError, records[0].Result, "a failed impersonation must not look like a denied open")
	assert.Empty(t, opener.calls)
}

func TestFinder_RevertFailureIsError(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "file.txt")

	f, imp, _ := newTestFinder(t, dir, map[string]map[AccessType]error{
		"file.txt": {AccessRead: nil},
	})
	imp.revertErr = errBroken
	var records []Record
	require.NoError(t, f.Init(policy.TokenLockdown, ObjectFileSystem, AccessRead, SinkFunc(func(r Record) error {
		records = append(records, r)
		return nil
	})))
	require.NoError(t, f.Scan())

	require.Len(t, records, 1)
	assert.Equal(t, ResultError, records[0].Result)
	assert.Equal(t, uint32(32), records[0].Code)
}

func TestFinder_SinkErrorStopsScan(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.txt", "b.txt", "c.txt")

	f, _, opener := newTestFinder(t, dir, nil)
	sinkErr := errors.New("disk full")
	require.NoError(t, f.Init(policy.TokenLockdown, ObjectFileSystem, AccessRead, SinkFunc(func(Record) error {
		return sinkErr
	})))

	err := f.Scan()
	assert.ErrorIs(t, err, sinkErr)
	assert.Len(t, opener.calls, 1)
}

func TestFinder_Lifecycle(t *testing.T) {
	f, imp, _ := newTestFinder(t, t.TempDir(), nil)
	sink := SinkFunc(func(Record) error { return nil })

	assert.ErrorIs(t, f.Scan(), policy.ErrNoData)
	assert.Equal(t, policy.CodeNoData, policy.Code(f.Scan()))

	require.NoError(t, f.Init(policy.TokenLockdown, ObjectFileSystem, AccessRead, sink))
	err := f.Init(policy.TokenLockdown, ObjectFileSystem, AccessRead, sink)
	assert.ErrorIs(t, err, policy.ErrAlreadyInitialized)

	require.NoError(t, f.Close())
	assert.True(t, imp.closed)
	assert.NoError(t, f.Close())
}

func TestFinder_InitValidation(t *testing.T) {
	sink := SinkFunc(func(Record) error { return nil })

	tests := []struct {
		name    string
		level   policy.TokenLevel
		objects ObjectType
		access  AccessType
		sink    Sink
		exclude []string
	}{
		{"bad level", policy.TokenLevel(50), ObjectFileSystem, AccessRead, sink, nil},
		{"no objects", policy.TokenLockdown, 0, AccessRead, sink, nil},
		{"unknown object bit", policy.TokenLockdown, ObjectType(0x80), AccessRead, sink, nil},
		{"no access", policy.TokenLockdown, ObjectFileSystem, 0, sink, nil},
		{"unknown access bit", policy.TokenLockdown, ObjectFileSystem, AccessType(0x40), sink, nil},
		{"nil sink", policy.TokenLockdown, ObjectFileSystem, AccessRead, nil, nil},
		{"bad exclude", policy.TokenLockdown, ObjectFileSystem, AccessRead, sink, []string{"[unclosed"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, _, _ := newTestFinder(t, t.TempDir(), nil)
			f.Options.Exclude = tt.exclude
			err := f.Init(tt.level, tt.objects, tt.access, tt.sink)
			assert.ErrorIs(t, err, policy.ErrBadArguments)
		})
	}
}

func TestFinder_InitImpersonatorError(t *testing.T) {
	f := New(Options{Root: t.TempDir()})
	f.NewImpersonator = func(policy.TokenLevel) (Impersonator, error) {
		return nil, policy.ErrUnsupported
	}

	err := f.Init(policy.TokenLockdown, ObjectFileSystem, AccessRead, SinkFunc(func(Record) error { return nil }))
	assert.ErrorIs(t, err, policy.ErrUnsupported)

	// A failed Init leaves the finder uninitialized.
	assert.ErrorIs(t, f.Scan(), policy.ErrNoData)
}

func TestFinder_WriteStats(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "public.txt", "private.txt")

	f, _, _ := newTestFinder(t, dir, map[string]map[AccessType]error{
		"public.txt": {AccessRead: nil},
	})
	require.NoError(t, f.Init(policy.TokenLockdown, ObjectFileSystem, AccessRead, SinkFunc(func(Record) error { return nil })))
	require.NoError(t, f.Scan())

	var out bytes.Buffer
	require.NoError(t, f.WriteStats(&out))
	assert.Equal(t, "FILE-STATS;attempted=2;broken=0;read=1;write=0;all=0;denied=1\n", out.String())
}

func TestWithImpersonation_RevertsOnPanic(t *testing.T) {
	imp := &fakeImpersonator{}

	assert.Panics(t, func() {
		_ = withImpersonation(imp, func() error {
			panic("open blew up")
		})
	})
	assert.Equal(t, 1, imp.impersonate)
	assert.Equal(t, 1, imp.reverts)
	assert.False(t, imp.active)
}

func TestWithImpersonation_ReturnsOpenError(t *testing.T) {
	imp := &fakeImpersonator{revertErr: errBroken}

	err := withImpersonation(imp, func() error { return errDenied })
	assert.ErrorIs(t, err, errDenied, "open error wins over revert error")
	assert.Equal(t, 1, imp.reverts)
}
