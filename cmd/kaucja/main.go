// Command kaucja exports document-pipeline runs as portable zip bundles and
// restores them into a data directory and its SQLite database.
package main

import (
	"fmt"
	"os"
)

// version is stamped at release time via ldflags; default stays dev for local builds.
var version = "0.0.0-dev"

const (
	exitOK           = 0
	exitFailure      = 1
	exitInvalidInput = 2
)

func main() {
	os.Exit(run(os.Args))
}

func run(arguments []string) int {
	if len(arguments) < 2 {
		printUsage()
		return exitInvalidInput
	}
	switch arguments[1] {
	case "export":
		return runExport(arguments[2:])
	case "restore":
		return runRestore(arguments[2:])
	case "verify":
		return runVerifyBundle(arguments[2:])
	case "version", "--version", "-v":
		fmt.Println("kaucja", version)
		return exitOK
	case "help", "--help", "-h":
		printUsage()
		return exitOK
	default:
		printUsage()
		return exitInvalidInput
	}
}

func printUsage() {
	fmt.Println(`kaucja <command> [flags]

Commands:
  export    build a signed, deterministic zip bundle from a run's artifact tree
  restore   restore a bundle into the data directory and database
  verify    check a bundle without touching disk or database
  version   print the CLI version`)
}
