package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event is one line of the audit log.
type Event struct {
	Timestamp   time.Time         `json:"timestamp"`
	Type        string            `json:"type"` // "launch", "detach", "exit", "error"
	CommandLine string            `json:"command_line"`
	PID         int               `json:"pid,omitempty"`
	MainLevel   string            `json:"main_level,omitempty"`
	InitLevel   string            `json:"init_level,omitempty"`
	JobLevel    string            `json:"job_level,omitempty"`
	Integrity   string            `json:"integrity,omitempty"`
	ExitCode    uint32            `json:"exit_code,omitempty"`
	Duration    string            `json:"duration,omitempty"` // ISO 8601 duration format
	Error       string            `json:"error,omitempty"`
	Outcome     string            `json:"outcome,omitempty"` // "success", "failure", "detached", "error"
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Launch describes a confined process at creation time.
type Launch struct {
	CommandLine string
	PID         int
	MainLevel   string
	InitLevel   string
	JobLevel    string
	Integrity   string
}

// Logger handles audit logging to a file in JSON format
type Logger struct {
	logFile string
	file    *os.File
	lock    sync.Mutex
	logger  *slog.Logger
}

// NewLogger creates a new audit logger
func NewLogger(logFile string) (*Logger, error) {
	if logFile == "" {
		return nil, fmt.Errorf("log file path cannot be empty")
	}

	logDir := filepath.Dir(logFile)
	if err := os.MkdirAll(logDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &Logger{
		logFile: logFile,
		file:    file,
		logger:  slog.Default(),
	}, nil
}

// Log writes an audit event to the log file
func (l *Logger) Log(event Event) error {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.file == nil {
		return fmt.Errorf("logger file not initialized")
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}

	if err := l.file.Sync(); err != nil {
		l.logger.Warn("failed to sync audit log file", slog.String("error", err.Error()))
	}

	return nil
}

// LogLaunch records a process started inside the sandbox.
func (l *Logger) LogLaunch(launch Launch) error {
	return l.Log(Event{
		Timestamp:   time.Now().UTC(),
		Type:        "launch",
		CommandLine: launch.CommandLine,
		PID:         launch.PID,
		MainLevel:   launch.MainLevel,
		InitLevel:   launch.InitLevel,
		JobLevel:    launch.JobLevel,
		Integrity:   launch.Integrity,
	})
}

// LogExit records the end of a confined process.
func (l *Logger) LogExit(commandLine string, pid int, exitCode uint32, duration time.Duration) error {
	outcome := "success"
	if exitCode != 0 {
		outcome = "failure"
	}
	return l.Log(Event{
		Timestamp:   time.Now().UTC(),
		Type:        "exit",
		CommandLine: commandLine,
		PID:         pid,
		ExitCode:    exitCode,
		Duration:    formatDuration(duration),
		Outcome:     outcome,
	})
}

// LogDetach records a confined process left running after the launcher
// exits.
func (l *Logger) LogDetach(commandLine string, pid int) error {
	return l.Log(Event{
		Timestamp:   time.Now().UTC(),
		Type:        "detach",
		CommandLine: commandLine,
		PID:         pid,
		Outcome:     "detached",
	})
}

// LogError records a launch that could not be completed.
func (l *Logger) LogError(commandLine, errMsg string) error {
	return l.Log(Event{
		Timestamp:   time.Now().UTC(),
		Type:        "error",
		CommandLine: commandLine,
		Error:       errMsg,
		Outcome:     "error",
	})
}

// Close closes the audit logger file
func (l *Logger) Close() error {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// formatDuration renders d as an ISO 8601 duration.
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("PT%d.%09dS", int64(d.Seconds()), d.Nanoseconds()%1e9)
}
