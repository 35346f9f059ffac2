// Package main is the entry point for the imali CLI.
package main

import (
	"os"

	"github.com/IMALI-DEFI/Imali-sub000/internal/cli"
)

// Set by the release build with -ldflags "-X main.version=...".
//
//nolint:gochecknoglobals // Build metadata injected by the linker
var (
	version = "dev"
	commit  = ""
	date    = ""
)

func main() {
	cli.SetBuildInfo(cli.BuildInfo{Version: version, Commit: commit, Date: date})
	if err := cli.Execute(); err != nil {
		os.Exit(cli.ExitCode(err))
	}
}
