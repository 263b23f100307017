// Command trackdeckd is the local companion daemon for the TrackDeck
// desktop client: it owns connectivity probing, the offline-resilient
// response cache and its durable mirror, and coordinated background
// refresh, and exposes them to the UI shell over a loopback HTTP API.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/trackdeck/trackdeck/internal/buildinfo"
)

func main() {
	log.Printf("trackdeckd %s (%s, built %s)", buildinfo.Version, buildinfo.GitCommit, buildinfo.BuildTime)

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
