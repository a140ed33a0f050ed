package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ochairo/cauldron/internal/external-adapters/pkgbuild"
)

var srcinfoCmd = &cobra.Command{
	Use:   "srcinfo [target]",
	Short: "Print the .SRCINFO rendering of a manifest",
	RunE:  runSrcinfo,
}

func runSrcinfo(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	_, log, err := setup()
	if err != nil {
		return err
	}

	target := "."
	if len(args) > 0 {
		target = args[0]
	}

	repo, err := manifestSource(log)
	if err != nil {
		return err
	}
	pkg, err := repo.Locate(ctx, target)
	if err != nil {
		return err
	}

	fmt.Print(pkgbuild.Srcinfo(pkg))
	return nil
}
