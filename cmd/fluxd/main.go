// File: cmd/fluxd/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Command fluxd runs the plugin host daemon.
package main

import (
	"os"
)

// Set by the linker.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCommand(version, commit, date).Execute(); err != nil {
		os.Exit(1)
	}
}
