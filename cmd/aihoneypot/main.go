// Package main provides the entry point for the AI honeypot.
package main

import (
	"os"

	"github.com/SomethingGeneric/aihoneypot/cmd/aihoneypot/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
