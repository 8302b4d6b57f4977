package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) (*Logger, string) {
	t.Helper()
	logFile := filepath.Join(t.TempDir(), "audit.log")
	logger, err := NewLogger(logFile)
	require.NoError(t, err)
	t.Cleanup(func() { _ = logger.Close() })
	return logger, logFile
}

func readEvents(t *testing.T, logFile string) []Event {
	t.Helper()
	f, err := os.Open(logFile)
	require.NoError(t, err)
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		events = append(events, e)
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestNewLogger(t *testing.T) {
	logger, _ := newTestLogger(t)
	assert.NotNil(t, logger.file)
}

func TestNewLogger_EmptyPath(t *testing.T) {
	_, err := NewLogger("")
	assert.Error(t, err)
}

func TestNewLogger_CreatesDirectory(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "subdir", "audit")

	logger, err := NewLogger(filepath.Join(logDir, "audit.log"))
	require.NoError(t, err)
	defer logger.Close() //nolint:errcheck // test cleanup

	assert.DirExists(t, logDir)
}

func TestLog_MultipleEvents(t *testing.T) {
	logger, logFile := newTestLogger(t)

	require.NoError(t, logger.Log(Event{Type: "launch", CommandLine: "a.exe"}))
	require.NoError(t, logger.Log(Event{Type: "exit", CommandLine: "a.exe"}))

	events := readEvents(t, logFile)
	require.Len(t, events, 2)
	assert.Equal(t, "launch", events[0].Type)
	assert.Equal(t, "exit", events[1].Type)
}

func TestLogLaunch(t *testing.T) {
	logger, logFile := newTestLogger(t)

	err := logger.LogLaunch(Launch{
		CommandLine: `C:\tools\scan.exe --quiet`,
		PID:         4242,
		MainLevel:   "LOCKDOWN",
		InitLevel:   "RESTRICTED_SAME_ACCESS",
		JobLevel:    "LOCKDOWN",
		Integrity:   "LOW",
	})
	require.NoError(t, err)

	events := readEvents(t, logFile)
	require.Len(t, events, 1)
	e := events[0]
	assert.Equal(t, "launch", e.Type)
	assert.Equal(t, `C:\tools\scan.exe --quiet`, e.CommandLine)
	assert.Equal(t, 4242, e.PID)
	assert.Equal(t, "LOCKDOWN", e.MainLevel)
	assert.Equal(t, "RESTRICTED_SAME_ACCESS", e.InitLevel)
	assert.Equal(t, "LOCKDOWN", e.JobLevel)
	assert.Equal(t, "LOW", e.Integrity)
}

func TestLogExit(t *testing.T) {
	logger, logFile := newTestLogger(t)

	require.NoError(t, logger.LogExit("a.exe", 10, 0, 2*time.Second))
	require.NoError(t, logger.LogExit("b.exe", 11, 3, 1500*time.Millisecond))

	events := readEvents(t, logFile)
	require.Len(t, events, 2)

	assert.Equal(t, "exit", events[0].Type)
	assert.Equal(t, "success", events[0].Outcome)
	assert.Equal(t, "PT2.000000000S", events[0].Duration)

	assert.Equal(t, uint32(3), events[1].ExitCode)
	assert.Equal(t, "failure", events[1].Outcome)
	assert.Equal(t, "PT1.500000000S", events[1].Duration)
}

func TestLogDetach(t *testing.T) {
	logger, logFile := newTestLogger(t)

	require.NoError(t, logger.LogDetach("sleep.exe 60", 4242))

	events := readEvents(t, logFile)
	require.Len(t, events, 1)
	assert.Equal(t, "detach", events[0].Type)
	assert.Equal(t, "sleep.exe 60", events[0].CommandLine)
	assert.Equal(t, 4242, events[0].PID)
	assert.Equal(t, "detached", events[0].Outcome)
	assert.Zero(t, events[0].ExitCode)
}

func TestLogError(t *testing.T) {
	logger, logFile := newTestLogger(t)

	require.NoError(t, logger.LogError("a.exe", "failed to create job object"))

	events := readEvents(t, logFile)
	require.Len(t, events, 1)
	assert.Equal(t, "error", events[0].Type)
	assert.Equal(t, "failed to create job object", events[0].Error)
	assert.Equal(t, "error", events[0].Outcome)
}

func TestClose(t *testing.T) {
	logger, err := NewLogger(filepath.Join(t.TempDir(), "audit.log"))
	require.NoError(t, err)

	assert.NoError(t, logger.Close())
	assert.NoError(t, logger.Close())

	assert.Error(t, logger.Log(Event{Type: "launch"}), "log after close must fail")
}

func TestLog_FilePermissions(t *testing.T) {
	logger, logFile := newTestLogger(t)
	require.NoError(t, logger.Log(Event{Type: "launch"}))

	info, err := os.Stat(logFile)
	require.NoError(t, err)
	// NTFS uses ACLs, not mode bits.
	if runtime.GOOS != "windows" {
		assert.Equal(t, os.FileMode(0o600), info.Mode()&os.FileMode(0o777))
	}
}

func TestLog_Timestamp(t *testing.T) {
	logger, logFile := newTestLogger(t)

	before := time.Now().UTC()
	require.NoError(t, logger.Log(Event{Type: "launch"}))
	after := time.Now().UTC()

	events := readEvents(t, logFile)
	require.Len(t, events, 1)
	ts := events[0].Timestamp
	assert.False(t, ts.IsZero())
	assert.True(t, ts.After(before.Add(-1*time.Second)))
	assert.True(t, ts.Before(after.Add(1*time.Second)))
}
