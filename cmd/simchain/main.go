// simchain - chains coupled-model simulation runs through an HPC batch system.
package main

import (
	"os"

	"github.com/rescale/simchain/internal/cli"
	"github.com/rescale/simchain/internal/version"
)

// Version information, overridden by -ldflags at release builds.
var (
	Version   = "v1.3.0"
	BuildTime = "unknown"
)

func main() {
	version.Version = Version
	version.BuildTime = BuildTime

	// Exit status: 0 ok or experiment finished, 1 failure, 2 configuration
	// error, 42 monitor kill.
	os.Exit(cli.ExitCode(cli.Execute()))
}
