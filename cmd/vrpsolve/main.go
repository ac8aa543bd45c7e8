// Command vrpsolve solves routing problems from YAML, JSON or CSV files.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "vrpsolve",
	Short:        "Solve vehicle routing problems from files",
	SilenceUsage: true,
}

func main() {
	rootCmd.AddCommand(newSolveCmd(), newValidateCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
