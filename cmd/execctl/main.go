package main

import (
	"fmt"
	"os"
)

const usage = `Usage: execctl <command> [flags]

Commands:
  run     submit a source file to the gateway and print the outcome
  warmup  pull the sandbox images of the compiled-language profiles
  prune   remove sandbox containers left behind by a crashed worker`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runCommand(os.Args[2:], os.Stdout)
	case "warmup":
		err = warmupCommand(os.Args[2:], os.Stdout)
	case "prune":
		err = pruneCommand(os.Stdout)
	default:
		fmt.Println("Unknown command.")
		fmt.Println(usage)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
