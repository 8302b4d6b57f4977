package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/security-mcp/winsandbox/internal/config"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// ExitFailure is the process exit status for usage and sandbox errors. It is
// the unsigned form of -1.
const ExitFailure = 255

// errUsage is returned after the command has already printed its usage.
var errUsage = errors.New("invalid usage")

// IsUsageError reports whether err came from bad command-line usage.
func IsUsageError(err error) bool {
	return errors.Is(err, errUsage)
}

// ExecuteFinder runs the finder tool with os.Args.
func ExecuteFinder() error {
	return NewFinderCommand().Execute()
}

// ExecuteLauncher runs the launcher tool with os.Args.
func ExecuteLauncher() error {
	return NewLauncherCommand().Execute()
}

// loadConfig reads configuration and applies the --verbose override.
func loadConfig(verbose bool) (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func versionTemplate(tool string) string {
	return fmt.Sprintf("%s version %s\ncommit: %s\nbuilt: %s\n", tool, Version, GitCommit, BuildDate)
}

// usageError prints the usage of cmd and returns errUsage wrapping msg.
func usageError(cmd *cobra.Command, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", msg)
	_ = cmd.Usage()
	return fmt.Errorf("%w: %s", errUsage, msg)
}

func createLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	handler := slog.NewTextHandler(os.Stderr, opts)
	return slog.New(handler)
}
