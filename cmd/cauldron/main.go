// Package main provides the cauldron CLI for building packages from
// PKGBUILD manifests.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ochairo/cauldron/internal/domain/entities"
	"github.com/ochairo/cauldron/internal/domain/interfaces"
	"github.com/ochairo/cauldron/internal/external-adapters/gpg"
	"github.com/ochairo/cauldron/internal/external-adapters/logging"
	"github.com/ochairo/cauldron/internal/external-adapters/pkgbuild"
	"github.com/ochairo/cauldron/internal/external-adapters/yaml"
)

// Set via -ldflags at release time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var (
	cfgFile   string
	verbose   bool
	quiet     bool
	colorMode string

	rootCmd = &cobra.Command{
		Use:   "cauldron",
		Short: "Build Arch-style packages from PKGBUILD manifests",
		Long: `cauldron builds software packages from PKGBUILD manifests: it fetches
and verifies sources, runs the manifest's lifecycle hooks in a built-in
shell, and writes reproducible .pkg.tar archives with integrity
metadata, SBOM and provenance sidecars.

A manifest directory is any directory containing a PKGBUILD. Commands
that take targets accept a directory, a manifest path, or a package
base name resolved under the current directory.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./cauldron.yml, then XDG config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "only warnings and errors")
	rootCmd.PersistentFlags().StringVar(&colorMode, "color", "auto", "colorize output: auto, always or never")

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(lintCmd)
	rootCmd.AddCommand(srcinfoCmd)
	rootCmd.AddCommand(sumCmd)
	rootCmd.AddCommand(vercmpCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(updatesCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(repoCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var usage *usageError
		if errors.As(err, &usage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// usageError marks command line misuse, which exits 2 instead of 1.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }

func (e *usageError) Unwrap() error { return e.err }

// exactArgs is cobra.ExactArgs with the usage exit code.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return &usageError{err: fmt.Errorf("%q requires exactly %d argument(s), got %d", cmd.CommandPath(), n, len(args))}
		}
		return nil
	}
}

// minArgs is cobra.MinimumNArgs with the usage exit code.
func minArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < n {
			return &usageError{err: fmt.Errorf("%q requires at least %d argument(s), got %d", cmd.CommandPath(), n, len(args))}
		}
		return nil
	}
}

// setup loads the configuration and builds the logger every command
// shares.
func setup() (*entities.Config, interfaces.Logger, error) {
	cfg, err := yaml.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	color := colorMode
	if color == "auto" && !cfg.BuildEnv.Color {
		color = "never"
	}
	log := logging.New(logging.Options{
		Verbose: verbose,
		Quiet:   quiet,
		Color:   color,
	})
	return cfg, log, nil
}

// manifestSource returns the repository rooted at the working directory.
func manifestSource(log interfaces.Logger) (*pkgbuild.Repository, error) {
	root, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve working directory: %w", err)
	}
	return pkgbuild.NewRepository(root, log), nil
}

// newSignatureVerifier builds the GPG verifier with the configured
// keyrings preloaded. Keyring problems are reported but do not stop the
// run; verification then fails per source instead.
func newSignatureVerifier(cfg *entities.Config, log interfaces.Logger) *gpg.Verifier {
	verifier := gpg.NewVerifier(cfg.Keyservers, log)
	if len(cfg.Keyrings) > 0 {
		if err := verifier.LoadKeyringFiles(cfg.Keyrings); err != nil {
			log.Warn("failed to load keyring", interfaces.F("error", err.Error()))
		}
	}
	return verifier
}
