package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ochairo/cauldron/internal/domain-adapters/gateways"
	"github.com/ochairo/cauldron/internal/domain/entities"
	"github.com/ochairo/cauldron/internal/domain/services"
)

var (
	updatesJSON bool

	updatesCmd = &cobra.Command{
		Use:   "updates [target...]",
		Short: "Check manifests against their upstream releases",
		Long: `Updates probes each manifest's upstream project for its latest
release and reports which manifests are behind. Upstreams resolve from
the watches section of cauldron.yml, or from url= when it points at a
known forge.`,
		RunE: runUpdates,
	}
)

func init() {
	updatesCmd.Flags().BoolVar(&updatesJSON, "json", false, "print results as JSON")
}

func runUpdates(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	repo, err := manifestSource(log)
	if err != nil {
		return err
	}

	var pkgs []*entities.Package
	if len(args) > 0 {
		for _, target := range args {
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

	prober := gateways.NewUpstreamProber(os.Getenv(cfg.TokenEnv), log)
	updates := services.NewUpdatesService(prober, cfg, log).CheckAll(ctx, pkgs)

	if updatesJSON {
		out, err := json.MarshalIndent(updates, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	outdated := 0
	for _, u := range updates {
		switch {
		case u.Error != "":
			fmt.Printf("⚠️  %-24s probe failed: %s\n", u.Base, u.Error)
		case u.Outdated:
			fmt.Printf("📦 %-24s %s -> %s\n", u.Base, u.Current, u.Upstream)
			outdated++
		default:
			fmt.Printf("✅ %-24s %s (up to date)\n", u.Base, u.Current)
		}
	}
	if outdated > 0 {
		fmt.Printf("\n%d manifest(s) behind upstream\n", outdated)
	}
	return nil
}
