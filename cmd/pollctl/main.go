// Package main provides pollctl, a command-line front end for the offline
// poll client. It keeps its own local store, so votes and drafts made while
// the server is unreachable are queued and flushed by "pollctl sync".
package main

import (
	"fmt"
	"os"
)

const Version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
