// exitcode.go exits with the given code so Wait can be checked end to end.
// Usage: exitcode <code>
package main

import (
	"os"
	"strconv"
)

func main() {
	code := 0
	if len(os.Args) > 1 {
		n, err := strconv.Atoi(os.Args[1])
		if err != nil {
			os.Exit(1)
		}
		code = n
	}
	os.Exit(code)
}
