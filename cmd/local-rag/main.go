// Package main provides the entry point for the local-rag server CLI.
package main

import (
	"os"

	"github.com/Bezzdar/local-rag/cmd/local-rag/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
