// Command auditcore runs security audits from the command line.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/auditcore/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		var reported *cli.ExitError
		if !errors.As(err, &reported) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
