package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ochairo/cauldron/internal/domain/entities"
)

var vercmpCmd = &cobra.Command{
	Use:   "vercmp <ver1> <ver2>",
	Short: "Compare two package versions",
	Long: `Vercmp prints -1, 0 or 1 depending on whether the first version is
older than, equal to or newer than the second, using alpm version
ordering with epoch and pkgrel handling.`,
	Args: exactArgs(2),
	RunE: runVercmp,
}

func runVercmp(_ *cobra.Command, args []string) error {
	fmt.Println(entities.VerCmp(args[0], args[1]))
	return nil
}
