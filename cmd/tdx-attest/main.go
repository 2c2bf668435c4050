package main

import (
	"os"

	"github.com/edgelesssys/go-tdx-attest/cmd/tdx-attest/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(cmd.ExitCode(err))
	}
}
