// Package main provides the entry point for the docuflow CLI.
package main

import (
	"os"

	"github.com/docuflow/docuflow/cmd/docuflow/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
