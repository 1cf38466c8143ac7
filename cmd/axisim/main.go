// Package main provides the axisim command line: it runs a Manager, the
// AXI bus and a memory Subordinate from CSV files, and generates random
// access lists.
package main

import (
	"github.com/tebeka/atexit"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
