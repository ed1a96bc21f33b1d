package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "check":
		checkCommand(os.Args[2:])
	case "pay":
		payCommand(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "x402cli - interact with x402 payment-gated resources")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  x402cli check --resource <url>")
	fmt.Fprintln(os.Stderr, "  x402cli pay --resource <url> [--key <hex private key>]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "The pay command reads the private key from the X402_PRIVATE_KEY")
	fmt.Fprintln(os.Stderr, "environment variable when --key is not given.")
}
