// Command devflow drives AI coding agents through multi-step workflows and
// records every run in a local task ledger.
package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		var failed *runFailedError
		if !errors.As(err, &failed) {
			fmt.Fprintf(os.Stderr, "devflow: %v\n", err)
		}
		os.Exit(1)
	}
}
