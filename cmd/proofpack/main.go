// Command proofpack builds, verifies, certifies and compares deterministic run
// evidence offline.
package main

import (
	"io"
	"os"

	coreerrors "github.com/davidahmann/proofpack/core/errors"
)

// version is stamped at release time via ldflags; default stays dev for local builds.
var version = "0.0.0-dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(arguments []string, stdout, stderr io.Writer) int {
	application := newApp(stdout, stderr)
	root := newRootCmd(application)
	root.SetArgs(arguments)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		_ = application.failure(coreerrors.InvalidInput(err.Error()))
	}
	return application.exitCode
}
