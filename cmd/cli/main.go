// Package main is the entry point for the remedy CLI binary.
package main

import (
	"os"

	cli "remedy-audit/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
