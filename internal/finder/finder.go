// Package finder reports which registry keys, files and kernel objects a
// restricted token can still open.
//
// Enumeration runs under the caller's own identity. Every open attempt runs
// under a per-check impersonation of the restricted token that is reverted
// before the next entry is enumerated.
package finder

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"

	"github.com/security-mcp/winsandbox/internal/policy"
)

// Options tune what a scan covers.
type Options struct {
	// Root is the filesystem root to walk. Empty uses DefaultRoot.
	Root string

	// Exclude holds doublestar patterns. A matching directory is not
	// descended into and a matching entry is not checked.
	Exclude []string
}

// Opener checks one object at the given access level. It returns nil when
// the open succeeds and the object has been closed again.
type Opener func(path string, access AccessType) error

// Finder checks namespaces under a restricted identity.
type Finder struct {
	Options Options
	Logger  *slog.Logger

	// NewImpersonator creates the identity checks run under.
	NewImpersonator func(level policy.TokenLevel) (Impersonator, error)

	// OpenFile checks one filesystem entry.
	OpenFile Opener

	mu          sync.Mutex
	initialized bool
	level       policy.TokenLevel
	objects     ObjectType
	access      AccessType
	sink        Sink
	imp         Impersonator
	stats       map[ObjectType]Stats
	sinkErr     error
}

// New creates a finder with the platform's default impersonator and file
// opener.
func New(opts Options) *Finder {
	return &Finder{
		Options:         opts,
		Logger:          slog.Default(),
		NewImpersonator: defaultImpersonator,
		OpenFile:        openFile,
	}
}

// Init binds the finder to a token level, the namespaces and access levels
// to check and the sink receiving records.
func (f *Finder) Init(level policy.TokenLevel, objects ObjectType, access AccessType, sink Sink) error {
	if f.initialized {
		return policy.ErrAlreadyInitialized
	}
	if !level.Valid() {
		return policy.BadArguments("unknown token level %d", int(level))
	}
	if objects == 0 || objects&^AllObjects != 0 {
		return policy.BadArguments("invalid object type mask 0x%X", uint32(objects))
	}
	if access == 0 || access&^(AccessRead|AccessWrite|AccessAll) != 0 {
		return policy.BadArguments("invalid access type mask 0x%X", uint32(access))
	}
	if sink == nil {
		return policy.BadArguments("output sink is required")
	}
	for _, pattern := range f.Options.Exclude {
		if !doublestar.ValidatePathPattern(pattern) {
			return policy.BadArguments("invalid exclude pattern %q", pattern)
		}
	}
	if f.NewImpersonator == nil {
		f.NewImpersonator = defaultImpersonator
	}
	if f.OpenFile == nil {
		f.OpenFile = openFile
	}

	imp, err := f.NewImpersonator(level)
	if err != nil {
		return fmt.Errorf("failed to create restricted token: %w", err)
	}

	f.level = level
	f.objects = objects
	f.access = access
	f.sink = sink
	f.imp = imp
	f.stats = make(map[ObjectType]Stats)
	f.initialized = true

	f.logger().Debug("finder initialized",
		slog.String("token", level.String()),
		slog.String("objects", objects.String()),
		slog.String("access", access.String()),
	)
	return nil
}

// Scan walks every selected namespace and writes one record per checked
// object. Check failures are recorded, not returned. Scan returns an error
// only when the finder is not initialized or the sink fails.
func (f *Finder) Scan() error {
	if !f.initialized {
		return policy.ErrNoData
	}

	walks := []struct {
		category ObjectType
		walk     func() error
	}{
		{ObjectRegistry, f.scanRegistry},
		{ObjectFileSystem, f.scanFileSystem},
		{ObjectKernel, f.scanKernel},
	}

	for _, w := range walks {
		if f.objects&w.category == 0 {
			continue
		}
		f.mu.Lock()
		if _, ok := f.stats[w.category]; !ok {
			f.stats[w.category] = Stats{}
		}
		f.mu.Unlock()

		if err := w.walk(); err != nil {
			return err
		}
		if err := f.failed(); err != nil {
			return err
		}
	}
	return nil
}

// Stats returns a copy of the per-category counters.
func (f *Finder) Stats() map[ObjectType]Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[ObjectType]Stats, len(f.stats))
	for k, v := range f.stats {
		out[k] = v
	}
	return out
}

// WriteStats formats the counters of every scanned category to w.
func (f *Finder) WriteStats(w io.Writer) error {
	stats := f.Stats()
	for _, category := range sortedCategories(stats) {
		s := stats[category]
		_, err := fmt.Fprintf(w, "%s-STATS;attempted=%d;broken=%d;read=%d;write=%d;all=%d;denied=%d\n",
			category.Tag(), s.Attempted, s.Broken, s.Read, s.Write, s.All, s.Denied)
		if err != nil {
			return err
		}
	}
	return nil
}

// Close releases the restricted token.
func (f *Finder) Close() error {
	if f.imp == nil {
		return nil
	}
	err := f.imp.Close()
	f.imp = nil
	return err
}

func (f *Finder) logger() *slog.Logger {
	if f.Logger == nil {
		return slog.Default()
	}
	return f.Logger
}

// check tries each requested access from the strongest to the weakest and
// records the first that is granted. A failure other than access denied
// stops the ladder and is recorded as an error.
func (f *Finder) check(category ObjectType, path string, open Opener) {
	rec := Record{Category: category, Result: ResultDenied, Path: path}

	for _, access := range checkOrder {
		if f.access&access == 0 {
			continue
		}
		err := withImpersonation(f.imp, func() error {
			return open(path, access)
		})
		if err == nil {
			rec.Result = resultFor(access)
			break
		}
		var gerr *guardError
		if errors.As(err, &gerr) || !isAccessDenied(err) {
			rec.Result = ResultError
			rec.Code = errorCode(err)
			f.logger().Debug("access check failed",
				slog.String("category", category.Tag()),
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			break
		}
	}

	f.record(rec)
}

// fail records an enumeration failure of path.
func (f *Finder) fail(category ObjectType, path string, err error) {
	f.logger().Warn("cannot enumerate",
		slog.String("category", category.Tag()),
		slog.String("path", path),
		slog.String("error", err.Error()),
	)
	f.record(Record{Category: category, Result: ResultError, Path: path, Code: errorCode(err)})
}

func (f *Finder) record(rec Record) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := f.stats[rec.Category]
	s.add(rec.Result)
	f.stats[rec.Category] = s

	if f.sinkErr != nil {
		return
	}
	if err := f.sink.Write(rec); err != nil {
		f.sinkErr = fmt.Errorf("failed to write record: %w", err)
	}
}

// failed returns the first sink error, which ends the scan.
func (f *Finder) failed() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sinkErr
}

func (f *Finder) excluded(path string) bool {
	for _, pattern := range f.Options.Exclude {
		if ok, _ := doublestar.PathMatch(pattern, path); ok {
			return true
		}
	}
	return false
}

func (f *Finder) root() string {
	if f.Options.Root != "" {
		return f.Options.Root
	}
	return DefaultRoot
}

// scanFileSystem walks the filesystem root with a single worker so checks
// run one at a time. The root itself is not checked.
func (f *Finder) scanFileSystem() error {
	root := f.root()
	if _, err := os.Lstat(root); err != nil {
		f.fail(ObjectFileSystem, root, err)
		return nil
	}

	conf := fastwalk.Config{Follow: false, NumWorkers: 1}
	err := fastwalk.Walk(&conf, root, func(p string, d os.DirEntry, err error) error {
		if err := f.failed(); err != nil {
			return err
		}
		if err != nil {
			// Only the walk root aborts; unreadable subdirectories are skipped.
			if filepath.Clean(p) == filepath.Clean(root) {
				f.fail(ObjectFileSystem, p, err)
				return err
			}
			f.logger().Debug("skipping unreadable directory",
				slog.String("path", p),
				slog.String("error", err.Error()),
			)
			return nil
		}
		if filepath.Clean(p) == filepath.Clean(root) {
			return nil
		}
		if f.excluded(p) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		f.check(ObjectFileSystem, p, f.OpenFile)
		return nil
	})
	if err != nil && f.failed() == nil {
		f.logger().Debug("filesystem walk ended", slog.String("error", err.Error()))
	}
	return nil
}
