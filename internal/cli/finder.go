package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/security-mcp/winsandbox/internal/finder"
	"github.com/security-mcp/winsandbox/internal/policy"
	"github.com/security-mcp/winsandbox/internal/sandbox"
)

type finderCmdFlags struct {
	token   string
	objects []string
	access  []string
	logFile string
	root    string
	exclude []string
	verbose bool
}

// NewFinderCommand builds the finder tool.
func NewFinderCommand() *cobra.Command {
	var flags finderCmdFlags

	cmd := &cobra.Command{
		Use:   "finder --object TYPE --access TYPE [flags]",
		Short: "Report which objects a restricted token can open",
		Long: `finder walks the registry, the filesystem and the kernel object namespace
and tries to open every object while impersonating a restricted token.

Each checked object produces one line: CATEGORY;ACCESS;PATH. Objects the
token could not open are reported as DENIED. Other failures are reported as
CATEGORY-ERROR;CODE;PATH.

Example: finder --token LOCKDOWN --object FILE --access R,W --root C:\Users`,
		Args:          cobra.NoArgs,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFinder(cmd, &flags)
		},
	}
	cmd.SetVersionTemplate(versionTemplate("finder"))
	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return usageError(c, "%v", err)
	})

	f := cmd.Flags()
	f.StringVar(&flags.token, "token", "", "Token level checks run under (default from config)")
	f.StringSliceVar(&flags.objects, "object", nil, "Object types to scan: REG, FILE, KERNEL (repeatable)")
	f.StringSliceVar(&flags.access, "access", nil, "Access to try: R, W, ALL (repeatable)")
	f.StringVar(&flags.logFile, "log", "", "Write results to this file instead of stdout")
	f.StringVar(&flags.root, "root", "", "Filesystem root to scan (default from config)")
	f.StringArrayVar(&flags.exclude, "exclude", nil, "Glob pattern of paths to skip (repeatable)")
	f.BoolVarP(&flags.verbose, "verbose", "v", false, "Enable verbose output")

	return cmd
}

func runFinder(cmd *cobra.Command, flags *finderCmdFlags) error {
	if len(flags.objects) == 0 || len(flags.access) == 0 {
		return usageError(cmd, "--object and --access are required")
	}
	objects, err := finder.ParseObjectTypes(flags.objects...)
	if err != nil {
		return usageError(cmd, "%v", err)
	}
	access, err := finder.ParseAccessTypes(flags.access...)
	if err != nil {
		return usageError(cmd, "%v", err)
	}

	cfg, err := loadConfig(flags.verbose)
	if err != nil {
		return err
	}
	logger := createLogger(cfg.LogLevel)

	tokenName := flags.token
	if tokenName == "" {
		tokenName = cfg.DefaultMainLevel
	}
	level, err := policy.ParseTokenLevel(tokenName)
	if err != nil {
		return usageError(cmd, "%v", err)
	}

	root := flags.root
	if root == "" {
		root = cfg.FinderRoot
	}

	out := cmd.OutOrStdout()
	if flags.logFile != "" {
		file, err := os.Create(flags.logFile)
		if err != nil {
			return fmt.Errorf("failed to create log file: %w", err)
		}
		defer file.Close()
		out = file
	}

	fnd := finder.New(finder.Options{Root: root, Exclude: flags.exclude})
	fnd.Logger = logger

	// A custom policy file needs a custom builder; otherwise the default
	// impersonator resolves the platform on its own.
	if cfg.TokenPolicyFile != "" {
		table, err := cfg.TokenTable()
		if err != nil {
			return err
		}
		platform, err := sandbox.DetectPlatform()
		if err != nil {
			return err
		}
		fnd.NewImpersonator = finder.NewRestrictedImpersonator(platform, table)
	}

	if err := fnd.Init(level, objects, access, finder.NewTextSink(out)); err != nil {
		return fmt.Errorf("failed to initialize finder: %w", err)
	}
	defer fnd.Close()

	logger.Info("scan started",
		slog.String("token", level.String()),
		slog.String("objects", objects.String()),
		slog.String("access", access.String()),
	)

	if err := fnd.Scan(); err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	if err := fnd.WriteStats(out); err != nil {
		return fmt.Errorf("failed to write stats: %w", err)
	}

	if term.IsTerminal(int(os.Stderr.Fd())) {
		printFinderSummary(cmd.ErrOrStderr(), fnd.Stats())
	}
	return nil
}

func printFinderSummary(w io.Writer, stats map[finder.ObjectType]finder.Stats) {
	for _, category := range []finder.ObjectType{finder.ObjectRegistry, finder.ObjectFileSystem, finder.ObjectKernel} {
		s, ok := stats[category]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%-6s %d checked, %d reachable, %d denied, %d errors\n",
			category.Tag(), s.Attempted, s.Read+s.Write+s.All, s.Denied, s.Broken)
	}
}
