package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ochairo/cauldron/internal/domain/entities"
	"github.com/ochairo/cauldron/internal/domain/services"
)

var lintCmd = &cobra.Command{
	Use:   "lint [target...]",
	Short: "Check manifests for common packaging mistakes",
	RunE:  runLint,
}

func runLint(cmd *cobra.Command, args []string) error {
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
	linter := services.NewLintService(cfg, log)

	failed := 0
	for _, target := range targets {
		pkg, err := repo.Locate(ctx, target)
		if err != nil {
			return err
		}

		report := linter.LintManifest(pkg)
		for _, finding := range report.Findings {
			fmt.Printf("  %s [%s] %s\n", severityGlyph(finding.Severity), finding.Rule, finding.Message)
		}
		if report.HasErrors() {
			fmt.Printf("🚫 %s: %d error(s), %d warning(s)\n", pkg.Base,
				report.Count(entities.SeverityError), report.Count(entities.SeverityWarning))
			failed++
			continue
		}
		if warnings := report.Count(entities.SeverityWarning); warnings > 0 {
			fmt.Printf("⚠️  %s: %d warning(s)\n", pkg.Base, warnings)
			continue
		}
		fmt.Printf("✅ %s: no findings\n", pkg.Base)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d manifests failed lint", failed, len(targets))
	}
	return nil
}

func severityGlyph(sev entities.Severity) string {
	switch sev {
	case entities.SeverityError:
		return "❌"
	case entities.SeverityWarning:
		return "⚠️ "
	default:
		return "ℹ️ "
	}
}
