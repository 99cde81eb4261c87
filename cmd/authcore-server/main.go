// Command authcore-server serves the authcore HTTP API and manages its
// PostgreSQL schema.
package main

import (
	"fmt"
	"os"
)

var version = "dev"

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
