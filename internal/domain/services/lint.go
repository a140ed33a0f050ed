package services

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar"

	"github.com/ochairo/cauldron/internal/domain/entities"
	"github.com/ochairo/cauldron/internal/domain/interfaces"
)

// Lint rule identifiers, usable as keys in the config severity overrides
const (
	RuleName             = "name"
	RuleNameCase         = "name-case"
	RuleVersionShape     = "version-shape"
	RuleDependency       = "dependency"
	RuleVersionInSource  = "version-in-source"
	RuleChecksumAlign    = "checksum-alignment"
	RuleMissingChecksums = "missing-checksums"
	RuleSkipChecksum     = "skip-checksum"
	RuleMD5              = "md5-checksums"
	RuleArch             = "arch"
	RuleArchUnknown      = "arch-unknown"
	RuleMissingLicense   = "missing-license"
	RuleMaintainer       = "maintainer-header"
	RuleStrayCode        = "stray-code"
	RuleUnknownField     = "unknown-field"

	RuleLicenseFile   = "license-file"
	RuleForbiddenFile = "forbidden-file"
	RuleEmptyPackage  = "empty-package"
	RuleWorldWritable = "world-writable"
	RuleBuildPathLeak = "build-path-leak"
)

// knownArches lists the architecture values accepted without a warning
var knownArches = map[string]bool{
	"any":      true,
	"x86_64":   true,
	"i686":     true,
	"pentium4": true,
	"aarch64":  true,
	"armv7h":   true,
	"armv6h":   true,
	"riscv64":  true,
	"loong64":  true,
}

// forbiddenPatterns are staged paths no package should ship
var forbiddenPatterns = []struct {
	pattern  string
	severity entities.Severity
	message  string
}{
	{"**/*.la", entities.SeverityWarning, "libtool archive should not be packaged"},
	{"usr/lib/perl5/**/perllocal.pod", entities.SeverityError, "perllocal.pod collides between packages"},
	{"**/.packlist", entities.SeverityError, ".packlist collides between packages"},
	{"usr/share/info/dir", entities.SeverityError, "the info directory index collides between packages"},
	{"usr/local/**", entities.SeverityError, "files must install under /usr, not /usr/local"},
}

// stagedMetadata names the files the packager writes into the staging
// root; lint must not treat leftovers from an earlier run as payload.
var stagedMetadata = map[string]bool{
	".PKGINFO":   true,
	".BUILDINFO": true,
	".MTREE":     true,
	".INSTALL":   true,
	".CHANGELOG": true,
}

// lintService checks manifests before a build and staged trees after the
// package hook ran
type lintService struct {
	cfg *entities.Config
	log interfaces.Logger
}

// NewLintService creates a new lint service
//
//nolint:revive // unexported-return: Intentionally returns concrete type for testability
func NewLintService(cfg *entities.Config, log interfaces.Logger) *lintService {
	if cfg == nil {
		cfg = entities.DefaultConfig()
	}
	if log == nil {
		log = &interfaces.NoOpLogger{}
	}
	return &lintService{cfg: cfg, log: log}
}

// add records a finding unless the rule is disabled, honoring severity
// overrides from the configuration.
func (s *lintService) add(r *entities.LintReport, rule string, fallback entities.Severity, msg string) {
	sev, on := s.cfg.LintSeverity(rule, fallback)
	if !on {
		return
	}
	r.Add(rule, sev, msg)
}

func (s *lintService) addPath(r *entities.LintReport, rule string, fallback entities.Severity, msg, path string) {
	sev, on := s.cfg.LintSeverity(rule, fallback)
	if !on {
		return
	}
	r.AddPath(rule, sev, msg, path)
}

// LintManifest runs the static manifest rules. It never touches the
// filesystem, so it works on any Package regardless of origin.
func (s *lintService) LintManifest(pkg *entities.Package) *entities.LintReport {
	report := &entities.LintReport{Package: pkg.Base}

	s.checkNames(report, pkg)
	s.checkVersion(report, pkg)
	s.checkDependencies(report, pkg)
	s.checkSources(report, pkg)
	s.checkChecksums(report, pkg)
	s.checkArch(report, pkg)
	s.checkMetadata(report, pkg)

	s.log.Debug("linted manifest",
		interfaces.F("package", pkg.Base),
		interfaces.F("findings", len(report.Findings)))
	return report
}

func (s *lintService) checkNames(r *entities.LintReport, pkg *entities.Package) {
	if len(pkg.Names) == 0 {
		s.add(r, RuleName, entities.SeverityError, "manifest declares no package name")
		return
	}
	for _, n := range pkg.Names {
		if !entities.IsValidPkgname(n) {
			s.add(r, RuleName, entities.SeverityError,
				fmt.Sprintf("package name %q contains forbidden characters", n))
			continue
		}
		if strings.ToLower(n) != n {
			s.add(r, RuleNameCase, entities.SeverityWarning,
				fmt.Sprintf("package name %q should be lowercase", n))
		}
	}
}

func (s *lintService) checkVersion(r *entities.LintReport, pkg *entities.Package) {
	v := pkg.Version
	if !entities.IsValidPkgver(v.Ver) {
		s.add(r, RuleVersionShape, entities.SeverityError,
			fmt.Sprintf("pkgver %q may only contain alphanumerics, periods, underscores and plus signs", v.Ver))
	}
	if !entities.IsValidPkgrel(v.Rel) {
		s.add(r, RuleVersionShape, entities.SeverityError,
			fmt.Sprintf("pkgrel %q must be a positive integer with an optional decimal suffix", v.Rel))
	}
	if v.Epoch < 0 {
		s.add(r, RuleVersionShape, entities.SeverityError,
			fmt.Sprintf("epoch %d must not be negative", v.Epoch))
	}
}

func (s *lintService) checkDependencies(r *entities.LintReport, pkg *entities.Package) {
	groups := []struct {
		field string
		deps  []entities.Dependency
	}{
		{"depends", pkg.Depends},
		{"makedepends", pkg.MakeDepends},
		{"checkdepends", pkg.CheckDepends},
		{"optdepends", pkg.OptDepends},
		{"provides", pkg.Provides},
		{"conflicts", pkg.Conflicts},
		{"replaces", pkg.Replaces},
	}

	for _, g := range groups {
		for _, d := range g.deps {
			switch {
			case d.Name == "":
				s.add(r, RuleDependency, entities.SeverityError,
					fmt.Sprintf("%s entry has an empty package name", g.field))
			case !entities.IsValidPkgname(d.Name):
				s.add(r, RuleDependency, entities.SeverityError,
					fmt.Sprintf("%s entry %q contains forbidden characters", g.field, d.Name))
			case d.Op != entities.OpNone && d.Version == "":
				s.add(r, RuleDependency, entities.SeverityError,
					fmt.Sprintf("%s entry %q has an operator but no version", g.field, d.Name))
			case g.field == "provides" && d.Op != entities.OpNone && d.Op != entities.OpEQ:
				s.add(r, RuleDependency, entities.SeverityError,
					fmt.Sprintf("provides entry %q may only pin an exact version with =", d.Name))
			}
		}
	}
}

// checkSources verifies the version is woven into at least one remote
// source URL; otherwise bumping pkgver would refetch the same files.
func (s *lintService) checkSources(r *entities.LintReport, pkg *entities.Package) {
	remote := 0
	referenced := false
	for _, src := range pkg.Sources {
		if !src.IsRemote() || src.IsVCS() || src.IsSignature() {
			continue
		}
		remote++
		if strings.Contains(src.Raw, pkg.Version.Ver) {
			referenced = true
		}
	}
	if remote > 0 && !referenced {
		s.add(r, RuleVersionInSource, entities.SeverityWarning,
			fmt.Sprintf("pkgver %s does not appear in any remote source URL", pkg.Version.Ver))
	}
}

func (s *lintService) checkChecksums(r *entities.LintReport, pkg *entities.Package) {
	hasRemote := false
	for _, src := range pkg.Sources {
		if src.IsRemote() {
			hasRemote = true
			break
		}
	}

	if len(pkg.Checksums) == 0 {
		if hasRemote {
			s.add(r, RuleMissingChecksums, entities.SeverityWarning,
				"manifest declares remote sources but no checksum arrays")
		}
		return
	}

	for _, kind := range entities.ChecksumKinds {
		sums, ok := pkg.Checksums[kind]
		if !ok {
			continue
		}
		if len(sums) != len(pkg.Sources) {
			s.add(r, RuleChecksumAlign, entities.SeverityError,
				fmt.Sprintf("%ssums has %d entries for %d sources", kind, len(sums), len(pkg.Sources)))
			continue
		}
		for i, sum := range sums {
			if sum != entities.SkipChecksum {
				continue
			}
			src := pkg.Sources[i]
			if !src.IsVCS() && !src.IsSignature() {
				s.add(r, RuleSkipChecksum, entities.SeverityWarning,
					fmt.Sprintf("source %s is not verified: %ssums entry is SKIP", src.Filename(), kind))
			}
		}
	}

	if _, ok := pkg.Checksums[entities.ChecksumMD5]; ok {
		s.add(r, RuleMD5, entities.SeverityWarning,
			"md5sums are cryptographically broken; declare sha256sums or b2sums instead")
	}
}

func (s *lintService) checkArch(r *entities.LintReport, pkg *entities.Package) {
	if len(pkg.Arch) == 0 {
		s.add(r, RuleArch, entities.SeverityError, "manifest must declare arch=()")
		return
	}
	hasAny := false
	for _, a := range pkg.Arch {
		if a == "any" {
			hasAny = true
		}
		if !knownArches[a] {
			s.add(r, RuleArchUnknown, entities.SeverityWarning,
				fmt.Sprintf("architecture %q is not a known target", a))
		}
	}
	if hasAny && len(pkg.Arch) > 1 {
		s.add(r, RuleArch, entities.SeverityError,
			"arch 'any' cannot be combined with machine architectures")
	}
}

func (s *lintService) checkMetadata(r *entities.LintReport, pkg *entities.Package) {
	if len(pkg.Licenses) == 0 {
		s.add(r, RuleMissingLicense, entities.SeverityWarning, "manifest declares no license")
	}
	if pkg.Maintainer == "" {
		s.add(r, RuleMaintainer, entities.SeverityWarning, "missing # Maintainer: header")
	}
	if pkg.HasStrayCode {
		s.add(r, RuleStrayCode, entities.SeverityWarning,
			"manifest runs commands outside function bodies")
	}
	for _, f := range pkg.UnknownFields {
		s.add(r, RuleUnknownField, entities.SeverityWarning,
			fmt.Sprintf("unrecognized field %q is ignored", f))
	}
}

// LintStaged runs the post-package rules over a staging root. The package
// must be the resolved single-member view so the license directory can be
// derived; buildPaths are scanned for inside installed files.
func (s *lintService) LintStaged(pkg *entities.Package, root string, buildPaths ...string) (*entities.LintReport, error) {
	name := pkg.Base
	if len(pkg.Names) == 1 {
		name = pkg.Names[0]
	}
	report := &entities.LintReport{Package: name}

	paths := make([][]byte, 0, len(buildPaths))
	for _, p := range buildPaths {
		if p != "" {
			paths = append(paths, []byte(p))
		}
	}

	licenseDir := "usr/share/licenses/" + name + "/"
	regular := 0
	licensed := false

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if rel == "." || stagedMetadata[rel] {
			return nil
		}
		slashRel := filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		if d.Type()&fs.ModeSymlink == 0 {
			for _, fp := range forbiddenPatterns {
				match, err := doublestar.Match(fp.pattern, slashRel)
				if err != nil {
					return err
				}
				if match && !d.IsDir() {
					s.addPath(report, RuleForbiddenFile, fp.severity, fp.message, slashRel)
				}
			}
			if info.Mode().Perm()&0o002 != 0 {
				s.addPath(report, RuleWorldWritable, entities.SeverityWarning,
					"world-writable permissions", slashRel)
			}
		}

		if !info.Mode().IsRegular() {
			return nil
		}
		regular++

		if strings.HasPrefix(slashRel, licenseDir) && info.Size() > 0 {
			licensed = true
		}

		if len(paths) > 0 {
			//nolint:gosec // G304: path comes from walking the staging root
			data, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			for _, fp := range paths {
				if bytes.Contains(data, fp) {
					s.addPath(report, RuleBuildPathLeak, entities.SeverityError,
						fmt.Sprintf("installed file embeds the build path %s", fp), slashRel)
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to lint staged tree: %w", err)
	}

	if regular == 0 {
		s.add(report, RuleEmptyPackage, entities.SeverityWarning, "package contains no files")
	}
	if hasCustomLicense(pkg.Licenses) && !licensed {
		s.add(report, RuleLicenseFile, entities.SeverityError,
			fmt.Sprintf("custom license requires a license file under usr/share/licenses/%s/", name))
	}

	s.log.Debug("linted staged tree",
		interfaces.F("package", name),
		interfaces.F("findings", len(report.Findings)))
	return report, nil
}

// hasCustomLicense reports whether the license array names a license that
// is not shipped by a common licenses package.
func hasCustomLicense(licenses []string) bool {
	for _, l := range licenses {
		if l == "custom" || strings.HasPrefix(l, "custom:") {
			return true
		}
	}
	return false
}
