package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ochairo/cauldron/internal/domain-adapters/gateways"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [target...]",
	Short: "Download and verify sources without building",
	RunE:  runFetch,
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	targets := args
	if len(targets) == 0 {
		targets = []string{"."}
	}

	repo, err := manifestSource(log)
	if err != nil {
		return err
	}
	fetcher := gateways.NewFetcher(log, gateways.FetcherOptions{
		Parallel: cfg.Parallel,
		Progress: !quiet,
		Token:    os.Getenv(cfg.TokenEnv),
	})
	integrity := gateways.NewIntegrityGateway()
	signatures := newSignatureVerifier(cfg, log)

	for _, target := range targets {
		pkg, err := repo.Locate(ctx, target)
		if err != nil {
			return err
		}
		srcdest := cfg.EffectiveSrcDest(pkg.Dir)

		if err := fetcher.FetchSources(ctx, pkg, pkg.Dir, srcdest); err != nil {
			return fmt.Errorf("failed to fetch sources: %w", err)
		}
		if err := integrity.VerifySourceFiles(ctx, pkg, srcdest); err != nil {
			return fmt.Errorf("source verification failed: %w", err)
		}
		checks, err := signatures.CheckSources(ctx, pkg, srcdest)
		if err != nil {
			return fmt.Errorf("signature verification failed: %w", err)
		}
		for _, check := range checks {
			if !check.Valid || !check.Trusted {
				return fmt.Errorf("signature verification failed for %s: %s", check.File, check.Reason)
			}
		}

		fmt.Printf("✅ %s: %d source(s) fetched and verified\n", pkg.Base, len(pkg.Sources))
	}
	return nil
}
