// Package main provides the entry point for AXISim.
// AXISim is a cycle-level AXI bus simulator built on Akita.
//
// For the full CLI, use: go run ./cmd/axisim
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("AXISim - AXI Bus Simulator")
	fmt.Println("Built on Akita simulation framework")
	fmt.Println("")
	fmt.Println("Usage: axisim <command> [options]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  run       Run an access list through the bus and check the reads")
	fmt.Println("  gen       Generate a random access list")
	fmt.Println("  config    Write the effective configuration to a file")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/axisim --help' for the full CLI.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: You provided arguments. Use 'go run ./cmd/axisim' instead.")
	}
}
