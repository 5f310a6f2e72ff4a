// Command dirwatcher polls a directory at a fixed interval, scans files with
// a given extension for a magic string, and logs every new occurrence exactly
// once along with file creation and deletion. It runs until SIGINT, SIGTERM,
// or SIGHUP and then logs its total run time.
//
// Usage:
//
//	dirwatcher watch <directory> <magic> [--ext .txt] [--interval 1s]
//	dirwatcher validate --config /etc/dirwatcher.yaml
//	dirwatcher events --journal /var/lib/dirwatcher/journal.db
//	dirwatcher audit verify /var/lib/dirwatcher/audit.jsonl --show 10
//	dirwatcher version
package main

import (
	"fmt"
	"os"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "dirwatcher: %v\n", err)
		os.Exit(1)
	}
}
