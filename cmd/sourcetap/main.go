package main

import (
	"github.com/sourcetap/sourcetap/internal/cmd"
)

// Set via ldflags, e.g. -X main.version=1.0.0 -X main.commit=abc123
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)

	if err := cmd.Execute(); err != nil {
		cmd.Exit(err)
	}
}
