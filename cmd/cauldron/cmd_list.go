package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the manifests below the current directory",
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	_, log, err := setup()
	if err != nil {
		return err
	}

	repo, err := manifestSource(log)
	if err != nil {
		return err
	}
	pkgs, err := repo.List(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Available manifests (%d total):\n\n", len(pkgs))
	for _, pkg := range pkgs {
		fmt.Printf("  %-24s %s\n", pkg.Base, pkg.FullVersion())
		if pkg.Description != "" {
			fmt.Printf("  %-24s %s\n", "", pkg.Description)
		}
		if pkg.IsSplit() {
			fmt.Printf("  %-24s Members: %s\n", "", strings.Join(pkg.Names, ", "))
		}
		if pkg.Maintainer != "" {
			fmt.Printf("  %-24s Maintainer: %s\n", "", pkg.Maintainer)
		}
		fmt.Println()
	}
	return nil
}
