// Command paygate runs the x402 payment gateway, or pays one of its
// endpoints from the command line.
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

	var err error
	switch os.Args[1] {
	case "server":
		err = runServer(os.Args[2:])
	case "client":
		err = runClient(os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("paygate - x402 payment gateway")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  paygate server [flags]  - Serve /health, /pay and /pay/{tier}")
	fmt.Println("  paygate client [flags]  - Pay a gateway endpoint with a local key")
	fmt.Println()
	fmt.Println("Run 'paygate server --help' or 'paygate client --help' for more information.")
}
