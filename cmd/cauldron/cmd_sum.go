package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ochairo/cauldron/internal/domain-adapters/gateways"
	"github.com/ochairo/cauldron/internal/domain/entities"
	"github.com/ochairo/cauldron/internal/external-adapters/pkgbuild"
)

var (
	sumUpdate bool

	sumCmd = &cobra.Command{
		Use:   "sum [target...]",
		Short: "Compute source checksums, optionally rewriting the manifest",
		Long: `Sum downloads each manifest's sources and prints their checksum
arrays. Algorithms already declared in the manifest are recomputed;
otherwise the configured default applies. With --update the arrays are
rewritten in place, leaving the rest of the manifest untouched.`,
		RunE: runSum,
	}
)

func init() {
	sumCmd.Flags().BoolVarP(&sumUpdate, "update", "u", false, "rewrite the checksum arrays in the manifest")
}

func runSum(cmd *cobra.Command, args []string) error {
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
	writer := pkgbuild.NewWriter()

	for _, target := range targets {
		pkg, err := repo.Locate(ctx, target)
		if err != nil {
			return err
		}
		srcdest := cfg.EffectiveSrcDest(pkg.Dir)

		if err := fetcher.FetchSources(ctx, pkg, pkg.Dir, srcdest); err != nil {
			return fmt.Errorf("failed to fetch sources: %w", err)
		}

		// Recompute the algorithms the manifest already declares; fall
		// back to the configured default for bare manifests.
		var kinds []entities.ChecksumKind
		for _, kind := range entities.ChecksumKinds {
			if _, ok := pkg.Checksums[kind]; ok {
				kinds = append(kinds, kind)
			}
		}
		if len(kinds) == 0 {
			kinds = []entities.ChecksumKind{cfg.Integrity}
		}

		sums, err := integrity.SourceSums(ctx, pkg, srcdest, kinds)
		if err != nil {
			return fmt.Errorf("failed to compute checksums: %w", err)
		}

		if sumUpdate {
			if err := writer.UpdateChecksums(pkg.Path, sums); err != nil {
				return err
			}
			fmt.Printf("✅ Updated checksums in %s\n", pkg.Path)
			continue
		}
		for _, kind := range entities.ChecksumKinds {
			values, ok := sums[kind]
			if !ok {
				continue
			}
			fmt.Print(checksumArray(kind, values))
		}
	}
	return nil
}

// checksumArray renders one sums array in PKGBUILD form, continuation
// lines aligned under the opening quote.
func checksumArray(kind entities.ChecksumKind, sums []string) string {
	name := string(kind) + "sums"
	var b strings.Builder
	b.WriteString(name)
	b.WriteString("=(")
	indent := strings.Repeat(" ", len(name)+2)
	for i, s := range sums {
		if i > 0 {
			b.WriteString("\n")
			b.WriteString(indent)
		}
		b.WriteString("'")
		b.WriteString(s)
		b.WriteString("'")
	}
	b.WriteString(")\n")
	return b.String()
}
