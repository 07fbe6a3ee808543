// Package main provides the entry point for the vaultmcp CLI.
package main

import (
	"os"

	"github.com/vaultmcp/vaultmcp/cmd/vaultmcp/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
