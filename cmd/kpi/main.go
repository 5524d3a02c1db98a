// ABOUTME: Entry point for the kpi CLI.
// ABOUTME: Invokes the root Cobra command.
package main

import (
	"os"

	"github.com/fatih/color"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, "✗", err)
		os.Exit(1)
	}
}
