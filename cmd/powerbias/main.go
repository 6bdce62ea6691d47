// Package main provides the powerbias CLI: one-shot bias writes, power
// state inspection and management of the powerbiasd daemon.
package main

import (
	"os"
)

func main() {
	if err := Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
