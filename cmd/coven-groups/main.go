// ABOUTME: Entry point for coven-groups, the multi-agent group client
// ABOUTME: All commands live in internal/cli

package main

import (
	"os"

	"github.com/2389/coven-groups/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
