package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ochairo/cauldron/internal/domain-adapters/gateways"
	orchestrators "github.com/ochairo/cauldron/internal/domain-orchestrators"
	"github.com/ochairo/cauldron/internal/domain/entities"
	"github.com/ochairo/cauldron/internal/domain/services"
)

var (
	buildNoCheck     bool
	buildNoDepsOrder bool
	buildEnvFile     string
	buildSign        bool
	buildJobs        int

	buildCmd = &cobra.Command{
		Use:   "build [target...]",
		Short: "Build packages from their manifests",
		Long: `Build runs the full pipeline for each target: lint, fetch, verify,
prepare, hooks, staging lint, package write, attestation sidecars and
optional signing. Targets build in dependency order unless
--nodeps-order is set; without targets the current directory builds.`,
		RunE: runBuild,
	}
)

func init() {
	buildCmd.Flags().BoolVar(&buildNoCheck, "nocheck", false, "skip the check() hook")
	buildCmd.Flags().BoolVar(&buildNoDepsOrder, "nodeps-order", false, "build targets in the given order")
	buildCmd.Flags().StringVar(&buildEnvFile, "env-file", "", "dotenv file exported to every hook")
	buildCmd.Flags().BoolVar(&buildSign, "sign", false, "sign finished packages (implies buildenv sign)")
	buildCmd.Flags().IntVarP(&buildJobs, "jobs", "j", 0, "parallel source downloads (default from config)")
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	if buildSign {
		cfg.BuildEnv.Sign = true
	}

	targets := args
	if len(targets) == 0 {
		targets = []string{"."}
	}

	hookEnv := map[string]string{}
	if buildEnvFile != "" {
		hookEnv, err = godotenv.Read(buildEnvFile)
		if err != nil {
			return fmt.Errorf("failed to read env file: %w", err)
		}
	}

	parallel := cfg.Parallel
	if buildJobs > 0 {
		parallel = buildJobs
	}

	// SOURCE_DATE_EPOCH pins the timestamps of a reproducible rebuild.
	buildDate := time.Now()
	if raw := os.Getenv("SOURCE_DATE_EPOCH"); raw != "" {
		if epoch, err := strconv.ParseInt(raw, 10, 64); err == nil {
			buildDate = time.Unix(epoch, 0)
		}
	}
	buildUUID := uuid.NewString()

	source, err := manifestSource(log)
	if err != nil {
		return err
	}

	deps := orchestrators.BuildDeps{
		Source: source,
		Linter: services.NewLintService(cfg, log),
		Fetcher: gateways.NewFetcher(log, gateways.FetcherOptions{
			Parallel: parallel,
			Progress: !quiet,
			Token:    os.Getenv(cfg.TokenEnv),
		}),
		Integrity:  gateways.NewIntegrityGateway(),
		Signatures: newSignatureVerifier(cfg, log),
		Preparer:   gateways.NewExtractor(log),
		Assembler: gateways.NewAssembler(log, gateways.AssemblerOptions{
			CArch:           cfg.CArch,
			CHost:           cfg.CHost,
			MakeFlags:       cfg.MakeFlags,
			Packager:        cfg.Packager,
			Compression:     cfg.Compression,
			BuildEnv:        buildenvLines(cfg.BuildEnv),
			BuildTool:       "cauldron",
			BuildToolVer:    version,
			BuildUUID:       buildUUID,
			BuildDate:       buildDate,
			SourceDateEpoch: buildDate.Unix(),
			Env:             hookEnv,
			Stdout:          os.Stdout,
			Stderr:          os.Stderr,
		}),
		Inspector: gateways.NewELFInspector(log),
		Attest:    services.NewSecurityArtifactsService(log),
	}
	if cfg.BuildEnv.Sign {
		deps.Signer = gateways.NewPkgSigner(cfg.BuildEnv.Key, log)
	}

	orch := orchestrators.NewBuildOrchestrator(deps, cfg, orchestrators.BuildOptions{
		NoCheck:      buildNoCheck,
		NoDepsOrder:  buildNoDepsOrder,
		BuildTool:    "cauldron",
		BuildToolVer: version,
		BuildUUID:    buildUUID,
		BuilderID:    cfg.Packager,
	}, log)

	results, runErr := orch.Run(ctx, targets)
	for _, result := range results {
		if result.Success {
			fmt.Println(result.Summary())
			fmt.Println()
		}
	}
	if len(targets) > 1 {
		fmt.Println(orchestrators.RunSummary(results))
	}
	return runErr
}

// buildenvLines renders the toggles in makepkg.conf buildenv form for
// the .BUILDINFO record.
func buildenvLines(env entities.BuildEnvSettings) []string {
	line := func(name string, on bool) string {
		if on {
			return name
		}
		return "!" + name
	}
	return []string{
		line("check", env.Check),
		line("color", env.Color),
		line("sign", env.Sign),
	}
}
