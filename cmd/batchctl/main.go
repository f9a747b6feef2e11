// Command batchctl inspects batch directories and runs the local telemetry
// agent.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// set build metadata
var (
	version = "dev"
	commit  = "none"
)

func main() {
	// load .env file if present
	_ = godotenv.Load(".env")

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
