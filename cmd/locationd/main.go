// Package main is the entry point for the locationd CLI.
//
// locationd keeps the cluster's phone nodes labeled with their current
// physical location. It polls each phone's location endpoint, detects
// meaningful movement, enriches new positions with a reverse-geocoded place
// name, and writes the result into the node's phone.location/ labels.
//
// For detailed usage information, run:
//
//	locationd --help
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/parttimenerd/local-android-ai-sub000/cmd/locationd/commands"
)

// Version information set by goreleaser at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	commands.SetVersionInfo(version, commit, date)
	if err := commands.Root().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
