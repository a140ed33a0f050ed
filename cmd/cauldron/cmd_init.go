package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ochairo/cauldron/internal/external-adapters/pkgbuild"
)

var (
	initName       string
	initVersion    string
	initDesc       string
	initURL        string
	initLicense    string
	initArch       string
	initSource     string
	initMaintainer string

	initCmd = &cobra.Command{
		Use:   "init [name]",
		Short: "Scaffold a new PKGBUILD manifest",
		Long: `Init writes a starter PKGBUILD. With a name argument the manifest
lands in a new ./<name> directory; without one it lands in the current
directory. Existing manifests are never overwritten.`,
		RunE: runInit,
	}
)

func init() {
	initCmd.Flags().StringVar(&initName, "name", "", "package name (default from the directory argument)")
	initCmd.Flags().StringVar(&initVersion, "pkgver", "", "initial version")
	initCmd.Flags().StringVar(&initDesc, "desc", "", "one-line description")
	initCmd.Flags().StringVar(&initURL, "url", "", "upstream project URL")
	initCmd.Flags().StringVar(&initLicense, "license", "", "license identifier")
	initCmd.Flags().StringVar(&initArch, "arch", "", "target architecture")
	initCmd.Flags().StringVar(&initSource, "source", "", "source URL template")
	initCmd.Flags().StringVar(&initMaintainer, "maintainer", "", "maintainer header value")
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, _, err := setup()
	if err != nil {
		return err
	}

	dir := "."
	name := initName
	if len(args) > 0 {
		dir = args[0]
		if name == "" {
			name = filepath.Base(args[0])
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	maintainer := initMaintainer
	if maintainer == "" && cfg.Packager != "Unknown Packager" {
		maintainer = cfg.Packager
	}

	path := filepath.Join(dir, "PKGBUILD")
	err = pkgbuild.NewWriter().WriteStarter(path, pkgbuild.StarterOptions{
		Maintainer:  maintainer,
		Name:        name,
		Version:     initVersion,
		Description: initDesc,
		URL:         initURL,
		License:     initLicense,
		Arch:        initArch,
		SourceURL:   initSource,
	})
	if err != nil {
		return err
	}

	fmt.Printf("✅ Created %s\n", path)
	return nil
}
