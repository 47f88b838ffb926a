// Package main is the entry point for the rxquant CLI.
package main

import (
	"os"

	"github.com/seligo/rxquant-api/cmd/rxquant/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
