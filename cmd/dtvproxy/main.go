// Package main is the entry point for the dtvproxy application.
package main

import (
	"os"

	"github.com/jmylchreest/dtvproxy/cmd/dtvproxy/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
