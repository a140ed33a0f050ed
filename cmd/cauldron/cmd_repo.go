package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ochairo/cauldron/internal/domain-adapters/gateways"
	"github.com/ochairo/cauldron/internal/domain/entities"
	"github.com/ochairo/cauldron/internal/domain/services"
)

var (
	repoCmd = &cobra.Command{
		Use:   "repo",
		Short: "Maintain repository database archives",
	}

	repoAddCmd = &cobra.Command{
		Use:   "add <db> <package...>",
		Short: "Add package files to a database",
		Args:  minArgs(2),
		RunE:  runRepoAdd,
	}

	repoRemoveCmd = &cobra.Command{
		Use:   "remove <db> <name...>",
		Short: "Remove packages from a database by name",
		Args:  minArgs(2),
		RunE:  runRepoRemove,
	}

	repoListCmd = &cobra.Command{
		Use:   "list <db>",
		Short: "List the packages recorded in a database",
		Args:  exactArgs(1),
		RunE:  runRepoList,
	}

	repoVerifyCmd = &cobra.Command{
		Use:   "verify <db> [target...]",
		Short: "Check database coverage against manifests",
		Args:  minArgs(1),
		RunE:  runRepoVerify,
	}
)

func init() {
	repoCmd.AddCommand(repoAddCmd)
	repoCmd.AddCommand(repoRemoveCmd)
	repoCmd.AddCommand(repoListCmd)
	repoCmd.AddCommand(repoVerifyCmd)
}

func runRepoAdd(cmd *cobra.Command, args []string) error {
	_, log, err := setup()
	if err != nil {
		return err
	}

	dbPath := args[0]
	db := gateways.NewRepoDB(log)
	entries, err := db.Load(dbPath)
	if err != nil {
		return err
	}

	svc := services.NewRepoService()
	for _, pkgPath := range args[1:] {
		entry, err := db.ReadPackageEntry(pkgPath)
		if err != nil {
			return err
		}
		var outcome services.AddOutcome
		entries, outcome = svc.Add(entries, *entry)
		switch outcome {
		case services.AddInserted:
			fmt.Printf("✅ Added %s %s (%s)\n", entry.Name, entry.Version, entry.Arch)
		case services.AddReplaced:
			fmt.Printf("✅ Replaced %s with %s (%s)\n", entry.Name, entry.Version, entry.Arch)
		case services.AddSkippedNewer:
			fmt.Printf("⚠️  Skipped %s %s: database holds a newer version\n", entry.Name, entry.Version)
		}
	}

	if err := db.Save(dbPath, entries); err != nil {
		return err
	}
	fmt.Printf("📦 %s: %d package(s)\n", dbPath, len(entries))
	return nil
}

func runRepoRemove(cmd *cobra.Command, args []string) error {
	_, log, err := setup()
	if err != nil {
		return err
	}

	dbPath := args[0]
	db := gateways.NewRepoDB(log)
	entries, err := db.Load(dbPath)
	if err != nil {
		return err
	}

	svc := services.NewRepoService()
	var missing []string
	changed := false
	for _, name := range args[1:] {
		var removed bool
		entries, removed = svc.Remove(entries, name)
		if !removed {
			missing = append(missing, name)
			continue
		}
		changed = true
		fmt.Printf("✅ Removed %s\n", name)
	}

	if changed {
		if err := db.Save(dbPath, entries); err != nil {
			return err
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("not in database: %s", strings.Join(missing, ", "))
	}
	return nil
}

func runRepoList(cmd *cobra.Command, args []string) error {
	_, log, err := setup()
	if err != nil {
		return err
	}

	entries, err := gateways.NewRepoDB(log).Load(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Packages in %s (%d total):\n\n", args[0], len(entries))
	for _, e := range entries {
		fmt.Printf("  %-24s %-16s %-8s %s\n", e.Name, e.Version, e.Arch, humanize.Bytes(uint64(e.CSize)))
	}
	return nil
}

func runRepoVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	_, log, err := setup()
	if err != nil {
		return err
	}

	dbPath := args[0]
	entries, err := gateways.NewRepoDB(log).Load(dbPath)
	if err != nil {
		return err
	}

	repo, err := manifestSource(log)
	if err != nil {
		return err
	}
	var pkgs []*entities.Package
	if len(args) > 1 {
		for _, target := range args[1:] {
			pkg, err := repo.Locate(ctx, target)
			if err != nil {
				return err
			}
			pkgs = append(pkgs, pkg)
		}
	} else {
		pkgs, err = repo.List(ctx)
		if err != nil {
			return err
		}
	}

	svc := services.NewRepoService()
	notReady := 0
	for _, pkg := range pkgs {
		validation := svc.Verify(pkg, entries)
		if validation.IsReady() {
			fmt.Printf("✅ %-24s %s\n", validation.Base, validation.ManifestVersion)
			continue
		}
		fmt.Printf("🚫 %-24s %s\n", validation.Base, validation.Summary())
		notReady++
	}

	if notReady > 0 {
		return fmt.Errorf("%d of %d manifests not covered by %s", notReady, len(pkgs), dbPath)
	}
	return nil
}
