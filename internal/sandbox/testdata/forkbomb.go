// forkbomb.go tries to start one copy of itself. It exits 0 when the child
// starts and 2 when process creation fails, which is what a job with an
// active process limit of one should cause.
// Usage: forkbomb [child]
package main

import (
	"fmt"
	"os"
	"os/exec"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "child" {
		return
	}

	self, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "executable: %v\n", err)
		os.Exit(1)
	}

	cmd := exec.Command(self, "child")
	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "spawn failed: %v\n", err)
		os.Exit(2)
	}
	_ = cmd.Wait()
}
