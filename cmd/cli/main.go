// Package main is the entry point for the cicore CLI binary.
package main

import (
	"os"

	"ci-core/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
