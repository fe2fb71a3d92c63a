package main

import (
	"fmt"
	"os"

	"github.com/corepilot/corepilot/internal/cliexit"
)

func main() {
	os.Exit(run())
}

// run executes the compile command and maps any resulting error to a
// process exit code, rather than scattering os.Exit calls through the
// command body.
func run() int {
	cmd := CompileCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return cliexit.Code(err)
	}
	return cliexit.OK
}
