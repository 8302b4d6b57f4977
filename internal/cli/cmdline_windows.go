//go:build windows

package cli

import "golang.org/x/sys/windows"

// composeCommandLine quotes args the way CommandLineToArgvW splits them.
func composeCommandLine(args []string) string {
	return windows.ComposeCommandLine(args)
}
