package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gitpoolctl",
		Short: "Client for the deduplicating git clone pool",
		Long:  "Materialize working copies against a gitpoold endpoint, or run git directly when none is configured",
	}

	rootCmd.AddCommand(
		cloneCmd(),
		lookupCmd(),
		serveCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
