package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "txctl",
	Short: "Drive and inspect coordinated transactions",
	Long: `txctl is a diagnostic tool for the txkit transaction coordinator.
It simulates units of work across in-memory resource managers with optional
fault injection, and prints the protocol decisions the coordinator takes.`,
	Version: "0.1.0",
}

func init() {
	rootCmd.PersistentFlags().
		BoolVarP(&verbose, "verbose", "v", false, "Enable coordinator debug logging on stderr")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
