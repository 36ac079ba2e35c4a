// Package main is the entitysdk command line: it validates schema
// directories, runs single requests through the mutation engine and serves
// the admin endpoints.
package main

import (
	"fmt"
	"os"
)

var (
	// Set via ldflags at build time
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
