// Package main is the entry point for the tours backend.
package main

import (
	"context"
	"os"
)

// Version information set at build time.
var version = "dev"

func main() {
	cmd := NewRootCmd()
	cmd.Version = version

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
