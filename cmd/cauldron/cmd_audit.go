package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ochairo/cauldron/internal/domain-adapters/gateways"
	"github.com/ochairo/cauldron/internal/domain/entities"
	"github.com/ochairo/cauldron/internal/domain/services"
)

var (
	auditFailOn string

	auditCmd = &cobra.Command{
		Use:   "audit [target...]",
		Short: "Look up known vulnerabilities for manifest versions",
		Long: `Audit queries the OSV database for advisories affecting each
manifest at its current pkgver. The command reports findings without
failing; --fail-on makes findings at or above the given severity
(low, medium, high, critical) an error.`,
		RunE: runAudit,
	}
)

func init() {
	auditCmd.Flags().StringVar(&auditFailOn, "fail-on", "", "fail when findings reach this severity")
}

func runAudit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	_, log, err := setup()
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

	auditor := services.NewAuditService(gateways.NewOSVGateway(log), log)
	reports, err := auditor.AuditAll(ctx, pkgs)
	if err != nil {
		return err
	}

	for i := range reports {
		printAuditReport(&reports[i])
	}

	if auditor.ShouldBlockBuild(reports, auditFailOn) {
		return fmt.Errorf("vulnerabilities at or above %s severity found", auditFailOn)
	}
	return nil
}

func printAuditReport(report *entities.AuditReport) {
	fmt.Printf("🔍 %s %s\n", report.Package, report.Version)
	if len(report.Vulnerabilities) == 0 {
		fmt.Printf("   ✅ No known vulnerabilities\n\n")
		return
	}

	counts := map[string]int{}
	for _, vuln := range report.Vulnerabilities {
		counts[vuln.Severity]++
	}
	for _, sev := range []string{"CRITICAL", "HIGH", "MEDIUM", "LOW"} {
		if counts[sev] > 0 {
			fmt.Printf("   %s %s: %d\n", severityDot(sev), sev, counts[sev])
		}
	}

	for _, vuln := range report.Vulnerabilities {
		line := fmt.Sprintf("   - %s [%s] %s", vuln.ID, vuln.Severity, vuln.Summary)
		if vuln.FixedIn != "" {
			line += fmt.Sprintf(" (fixed in %s)", vuln.FixedIn)
		}
		fmt.Println(line)
	}
	fmt.Printf("   Security score: %.1f/10.0\n\n", report.Score)
}

func severityDot(sev string) string {
	switch sev {
	case "CRITICAL":
		return "🔴"
	case "HIGH":
		return "🟠"
	case "MEDIUM":
		return "🟡"
	default:
		return "🟢"
	}
}
