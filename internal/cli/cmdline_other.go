//go:build !windows

package cli

import "strings"

// composeCommandLine joins args with spaces. Launching is only supported on
// Windows, so no quoting rules apply here.
func composeCommandLine(args []string) string {
	return strings.Join(args, " ")
}
