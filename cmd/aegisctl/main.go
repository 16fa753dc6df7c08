// Package main is the entrypoint for aegisctl.
package main

import (
	"fmt"
	"os"

	"github.com/MacJediWizard/aegis/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
