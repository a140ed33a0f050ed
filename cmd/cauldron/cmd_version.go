package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the cauldron version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("cauldron %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
		fmt.Printf("  runtime: %s\n", runtime.Version())
	},
}
