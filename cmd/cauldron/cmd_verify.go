package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ochairo/cauldron/internal/domain-adapters/gateways"
	orchestrators "github.com/ochairo/cauldron/internal/domain-orchestrators"
	"github.com/ochairo/cauldron/internal/domain/services"
)

var (
	verifyAudit bool

	verifyCmd = &cobra.Command{
		Use:   "verify <package...>",
		Short: "Verify built package files",
		Long: `Verify reads each package archive back, checks the file name against
the embedded metadata, recomputes the digest companion when one exists
and validates a detached .sig signature when present. With --audit the
embedded version is also checked against the OSV database.`,
		Args: minArgs(1),
		RunE: runVerify,
	}
)

func init() {
	verifyCmd.Flags().BoolVar(&verifyAudit, "audit", false, "also check the embedded version for known vulnerabilities")
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	var auditor orchestrators.PackageAuditor
	if verifyAudit {
		auditor = services.NewAuditService(gateways.NewOSVGateway(log), log)
	}
	orch := orchestrators.NewVerifyOrchestrator(
		gateways.NewRepoDB(log),
		newSignatureVerifier(cfg, log),
		auditor,
		log,
	)

	failed := 0
	for _, path := range args {
		result, err := orch.VerifyPackage(ctx, path)
		if err != nil {
			return err
		}
		fmt.Println(result.Summary())
		fmt.Println()
		if !result.OK {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d packages failed verification", failed, len(args))
	}
	return nil
}
